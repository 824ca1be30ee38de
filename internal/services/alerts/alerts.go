// Package alerts разбирает события биллинга из очередей брокера. Действие без
// сохранённого списания передаётся на ручную сверку, завершённый платёж фиксируется в журнале.
package alerts

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/babysteps-billing/internal/lib/sl"
	"github.com/magabrotheeeer/babysteps-billing/internal/services/executor"
	"github.com/magabrotheeeer/babysteps-billing/internal/services/reconciler"
)

// Service обработчик событий биллинга.
type Service struct {
	log      *slog.Logger
	validate *validator.Validate
}

func New(log *slog.Logger) *Service {
	return &Service{
		log:      log,
		validate: validator.New(),
	}
}

// ChargeFailed обрабатывает сообщение очереди billing.charge_failed.
// Сообщение, которое не удалось разобрать, подтверждается: повтор его не исправит.
func (s *Service) ChargeFailed(body []byte) error {
	const op = "services.alerts.ChargeFailed"

	var event executor.ChargeFailedEvent
	if err := s.decode(body, &event); err != nil {
		s.log.Error("dropping malformed charge failed event", slog.String("op", op), sl.Err(err))
		return nil
	}

	s.log.Error("manual reconciliation required: action recorded without credit charge",
		slog.String("op", op),
		slog.String("severity", "high"),
		slog.String("user_id", event.UserID),
		slog.String("action", string(event.Action)),
		slog.String("subject", string(event.Subject)),
		slog.Int("credits", event.Credits),
		slog.String("description", event.Description),
		slog.String("charge_error", event.Error),
		slog.String("occurred_at", event.OccurredAt.Format(time.RFC3339)),
	)
	return nil
}

// PaymentCompleted обрабатывает сообщение очереди billing.payment_completed.
func (s *Service) PaymentCompleted(body []byte) error {
	const op = "services.alerts.PaymentCompleted"

	var event reconciler.PaymentCompletedEvent
	if err := s.decode(body, &event); err != nil {
		s.log.Error("dropping malformed payment completed event", slog.String("op", op), sl.Err(err))
		return nil
	}

	s.log.Info("payment completed",
		slog.String("op", op),
		slog.String("payment_transaction_id", event.PaymentTransactionID),
		slog.String("user_id", event.UserID),
		slog.String("transaction_type", string(event.TransactionType)),
		slog.Int("credits_granted", event.CreditsGranted),
		slog.String("tier", event.Tier),
		slog.String("completed_at", event.CompletedAt.Format(time.RFC3339)),
	)
	return nil
}

func (s *Service) decode(body []byte, event any) error {
	if err := json.Unmarshal(body, event); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if err := s.validate.Struct(event); err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	return nil
}
