// Package usage фиксирует тарифицируемые действия пользователя. Запись события
// выполняется через executor, поэтому списание происходит только после успешной записи.
package usage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/babysteps-billing/internal/entitlement"
	"github.com/magabrotheeeer/babysteps-billing/internal/models"
	"github.com/magabrotheeeer/babysteps-billing/internal/services/credits"
	"github.com/magabrotheeeer/babysteps-billing/internal/services/executor"
	"github.com/magabrotheeeer/babysteps-billing/internal/services/usercontext"
	"github.com/magabrotheeeer/babysteps-billing/internal/storage"
)

// ContextLoader собирает контекст пользователя внутри транзакции.
type ContextLoader interface {
	LoadTx(ctx context.Context, tx storage.Tx, userID string, usage usercontext.Usage) (entitlement.UserContext, error)
}

// TxSpender списывает кредиты в открытой транзакции.
type TxSpender interface {
	SpendTx(ctx context.Context, tx storage.Tx, userID string, amount int, description string) (credits.SpendResult, error)
}

// RecordRequest действие, которое нужно выполнить и зафиксировать.
type RecordRequest struct {
	Action      entitlement.Action
	Subject     entitlement.Subject
	Description string
	Usage       usercontext.Usage
}

// RecordResult результат записи. ChargeFailed означает, что событие сохранено, а кредиты не списаны.
type RecordResult struct {
	Event        *models.UsageEvent `json:"event"`
	Charged      int                `json:"charged"`
	NewBalance   *int               `json:"newBalance,omitempty"`
	ChargeFailed bool               `json:"chargeFailed"`
}

// Service записывает события использования.
type Service struct {
	store    storage.Store
	loader   ContextLoader
	spender  TxSpender
	executor *executor.Executor
	log      *slog.Logger
	now      func() time.Time
}

func New(store storage.Store, loader ContextLoader, spender TxSpender, exec *executor.Executor, log *slog.Logger) *Service {
	return &Service{
		store:    store,
		loader:   loader,
		spender:  spender,
		executor: exec,
		log:      log,
		now:      time.Now,
	}
}

// Record проверяет доступ, сохраняет событие и списывает кредиты, если действие платное.
// Ошибки политики возвращаются как executor.NotPermittedError и credits.InsufficientCreditsError.
//
// Всё выполняется в одной транзакции под блокировкой баланса пользователя: счётчики
// читаются, событие записывается и кредиты списываются без параллельных записей того же
// пользователя, поэтому каждая пачка фотографий оплачивается ровно один раз.
func (s *Service) Record(ctx context.Context, userID string, req RecordRequest) (RecordResult, error) {
	const op = "services.usage.Record"

	description := req.Description
	if description == "" {
		description = fmt.Sprintf("%s %s", req.Action, req.Subject)
	}

	var res executor.Result[*models.UsageEvent]
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.LockLedger(ctx, userID); err != nil {
			return err
		}
		uc, err := s.loader.LoadTx(ctx, tx, userID, req.Usage)
		if err != nil {
			return err
		}

		exec := s.executor.WithSpender(txSpender{spender: s.spender, tx: tx})
		res, err = executor.Run(ctx, exec, executor.Request{
			Context:     uc,
			Action:      req.Action,
			Subject:     req.Subject,
			Description: description,
		}, func(ctx context.Context) (*models.UsageEvent, error) {
			event := &models.UsageEvent{
				ID:          uuid.NewString(),
				UserID:      userID,
				Action:      string(req.Action),
				Subject:     string(req.Subject),
				Description: description,
				CreatedAt:   s.now().UTC(),
			}
			if err := tx.InsertUsageEvent(ctx, event); err != nil {
				return nil, err
			}
			return event, nil
		})
		if err != nil {
			return err
		}

		// в событии остаются только реально списанные кредиты
		if res.Charged > 0 {
			if err := tx.SetUsageCharge(ctx, res.Value.ID, res.Charged); err != nil {
				return err
			}
			res.Value.CreditsCharged = res.Charged
		}
		return nil
	})
	if err != nil {
		return RecordResult{}, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("usage recorded",
		slog.String("op", op),
		slog.String("user_id", userID),
		slog.String("action", string(req.Action)),
		slog.String("subject", string(req.Subject)),
		slog.Int("charged", res.Charged),
	)
	return RecordResult{
		Event:        res.Value,
		Charged:      res.Charged,
		NewBalance:   res.NewBalance,
		ChargeFailed: res.ChargeFailed != nil,
	}, nil
}

// txSpender списывает в точке сохранения транзакции tx: неудачное списание
// откатывается само, а записанное событие остаётся.
type txSpender struct {
	spender TxSpender
	tx      storage.Tx
}

func (t txSpender) Spend(ctx context.Context, userID string, amount int, description string) (credits.SpendResult, error) {
	var res credits.SpendResult
	err := t.tx.Savepoint(ctx, func(tx storage.Tx) error {
		var err error
		res, err = t.spender.SpendTx(ctx, tx, userID, amount, description)
		return err
	})
	return res, err
}
