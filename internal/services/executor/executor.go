// Package executor выполняет действие пользователя с учётом политики доступа:
// проверяет решение, запускает действие и только после его успеха списывает кредиты.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/babysteps-billing/internal/entitlement"
	"github.com/magabrotheeeer/babysteps-billing/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/babysteps-billing/internal/lib/sl"
	"github.com/magabrotheeeer/babysteps-billing/internal/metrics"
	"github.com/magabrotheeeer/babysteps-billing/internal/services/credits"
)

// Spender списывает кредиты.
type Spender interface {
	Spend(ctx context.Context, userID string, amount int, description string) (credits.SpendResult, error)
}

// Alerter отправляет оповещение о действии без сохранённого списания.
type Alerter interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// ChargeFailedEvent событие для ручной сверки.
type ChargeFailedEvent struct {
	UserID      string              `json:"userId" validate:"required"`
	Action      entitlement.Action  `json:"action" validate:"required"`
	Subject     entitlement.Subject `json:"subject" validate:"required"`
	Credits     int                 `json:"credits" validate:"gt=0"`
	Description string              `json:"description"`
	Error       string              `json:"error"`
	OccurredAt  time.Time           `json:"occurredAt"`
}

// Executor связывает политику доступа, действие и списание.
type Executor struct {
	credits Spender
	alerts  Alerter
	log     *slog.Logger
	metrics *metrics.Metrics
}

// New создаёт исполнитель. alerts и m могут быть nil.
func New(spender Spender, alerts Alerter, log *slog.Logger, m *metrics.Metrics) *Executor {
	return &Executor{
		credits: spender,
		alerts:  alerts,
		log:     log,
		metrics: m,
	}
}

// WithSpender возвращает копию исполнителя, списывающую через spender.
// Нужна, когда списание должно попасть в уже открытую транзакцию.
func (e *Executor) WithSpender(spender Spender) *Executor {
	c := *e
	c.credits = spender
	return &c
}

// Request описывает действие пользователя.
type Request struct {
	Context     entitlement.UserContext
	Action      entitlement.Action
	Subject     entitlement.Subject
	Description string
}

// Result результат выполненного действия. ChargeFailed != nil означает, что действие
// выполнено, а списание не сохранено; вызывающая сторона сообщает пользователю об успехе.
type Result[T any] struct {
	Value        T
	Charged      int
	NewBalance   *int
	ChargeFailed *ChargeFailedError
}

// Run выполняет perform, если политика разрешает действие.
//
// Порядок: решение политики; жёсткий запрет -> NotPermittedError; нехватка баланса
// по контексту -> credits.InsufficientCreditsError; ошибка perform возвращается как есть
// без списания; после успеха perform списываются кредиты.
func Run[T any](ctx context.Context, e *Executor, req Request, perform func(ctx context.Context) (T, error)) (Result[T], error) {
	const op = "services.executor.Run"
	var res Result[T]

	decision, err := entitlement.Decide(req.Context, req.Action, req.Subject)
	if err != nil {
		return res, fmt.Errorf("%s: %w", op, err)
	}

	cost := decision.Charge()
	switch {
	case decision.HardDenied():
		e.metrics.Decision("hard_denied")
		reason := ""
		if decision.Reason != nil {
			reason = *decision.Reason
		}
		return res, &NotPermittedError{Reason: reason}
	case cost > 0 && req.Context.CreditsBalance < cost:
		e.metrics.Decision("insufficient")
		return res, &credits.InsufficientCreditsError{Required: cost, Available: req.Context.CreditsBalance}
	case !decision.Allowed:
		e.metrics.Decision("denied")
		return res, &NotPermittedError{Reason: "action is not permitted"}
	case cost > 0:
		e.metrics.Decision("charged")
	default:
		e.metrics.Decision("allowed")
	}

	value, err := perform(ctx)
	if err != nil {
		return res, err
	}
	res.Value = value

	if cost == 0 {
		return res, nil
	}

	spent, err := e.credits.Spend(ctx, req.Context.UserID, cost, req.Description)
	if err != nil {
		res.ChargeFailed = &ChargeFailedError{
			UserID:  req.Context.UserID,
			Action:  req.Action,
			Subject: req.Subject,
			Credits: cost,
			Err:     err,
		}
		e.reportChargeFailed(ctx, req, res.ChargeFailed)
		return res, nil
	}

	res.Charged = spent.Spent
	res.NewBalance = &spent.NewBalance
	return res, nil
}

func (e *Executor) reportChargeFailed(ctx context.Context, req Request, cf *ChargeFailedError) {
	const op = "services.executor.reportChargeFailed"

	e.metrics.ChargeFailed()
	e.log.Error("action succeeded but credit charge failed",
		slog.String("op", op),
		slog.String("severity", "high"),
		slog.String("user_id", cf.UserID),
		slog.String("action", string(cf.Action)),
		slog.String("subject", string(cf.Subject)),
		slog.Int("credits", cf.Credits),
		sl.Err(cf.Err),
	)

	if e.alerts == nil {
		return
	}
	event := ChargeFailedEvent{
		UserID:      cf.UserID,
		Action:      cf.Action,
		Subject:     cf.Subject,
		Credits:     cf.Credits,
		Description: req.Description,
		Error:       cf.Err.Error(),
		OccurredAt:  time.Now().UTC(),
	}
	// алерт уходит даже если запрос уже отменён
	if err := e.alerts.Publish(context.WithoutCancel(ctx), rabbitmq.RoutingChargeFailed, event); err != nil {
		e.log.Error("failed to publish charge failed alert", slog.String("op", op), sl.Err(err))
	}
}
