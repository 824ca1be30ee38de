// Package reconciler обрабатывает смену статуса платёжной транзакции. Переход
// в completed ровно один раз начисляет кредиты или активирует подписку; смена
// статуса и побочный эффект фиксируются в одной транзакции хранилища.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/babysteps-billing/internal/entitlement"
	"github.com/magabrotheeeer/babysteps-billing/internal/lib/month"
	"github.com/magabrotheeeer/babysteps-billing/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/babysteps-billing/internal/lib/sl"
	"github.com/magabrotheeeer/babysteps-billing/internal/metrics"
	"github.com/magabrotheeeer/babysteps-billing/internal/models"
	"github.com/magabrotheeeer/babysteps-billing/internal/services/credits"
	"github.com/magabrotheeeer/babysteps-billing/internal/storage"
)

var (
	// ErrNotFound - платёжная транзакция не найдена.
	ErrNotFound = errors.New("payment transaction not found")
	// ErrInvalidStatus - неизвестное значение статуса.
	ErrInvalidStatus = errors.New("invalid payment status")
	// ErrMalformedMetadata - metadata платежа нельзя разобрать или она содержит неизвестный тариф.
	ErrMalformedMetadata = errors.New("malformed payment metadata")
)

// Granter начисляет кредиты внутри открытой транзакции.
type Granter interface {
	GrantFromPaymentTx(ctx context.Context, tx storage.Tx, paymentTransactionID, userID string, credits int) (credits.GrantResult, error)
}

// Publisher публикует доменные события. Ошибка публикации не откатывает сверку.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// StatusUpdate запрос администратора или вебхука на смену статуса.
type StatusUpdate struct {
	TransactionID     string
	Status            models.PaymentStatus
	ExternalPaymentID *string
	AdminNotes        *string
	VerifiedBy        string
}

// PaymentCompletedEvent публикуется после фиксации перехода в completed.
type PaymentCompletedEvent struct {
	PaymentTransactionID string             `json:"paymentTransactionId" validate:"required"`
	UserID               string             `json:"userId" validate:"required"`
	TransactionType      models.PaymentType `json:"transactionType" validate:"required"`
	CreditsGranted       int                `json:"creditsGranted,omitempty"`
	Tier                 string             `json:"tier,omitempty"`
	CompletedAt          time.Time          `json:"completedAt"`
}

// Service сверяет платежи с леджером и подписками.
type Service struct {
	store     storage.Store
	credits   Granter
	publisher Publisher
	log       *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// New создаёт сервис сверки. publisher и m могут быть nil.
func New(store storage.Store, granter Granter, publisher Publisher, log *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		store:     store,
		credits:   granter,
		publisher: publisher,
		log:       log,
		metrics:   m,
		now:       time.Now,
	}
}

// ListPayments возвращает платежи от новых к старым, status == nil - все статусы.
func (s *Service) ListPayments(ctx context.Context, status *models.PaymentStatus) ([]*models.PaymentTransaction, error) {
	const op = "services.reconciler.ListPayments"

	if status != nil && !status.Valid() {
		return nil, fmt.Errorf("%s: %w: %q", op, ErrInvalidStatus, *status)
	}
	list, err := s.store.ListPaymentTransactions(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return list, nil
}

// GetPayment возвращает платёжную транзакцию по ID.
func (s *Service) GetPayment(ctx context.Context, id string) (*models.PaymentTransaction, error) {
	const op = "services.reconciler.GetPayment"

	p, err := s.store.GetPaymentTransaction(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

// OnStatusTransition применяет новый статус. Побочные эффекты выполняются только
// на переходе из не-completed в completed; повторная запись completed их не повторяет.
func (s *Service) OnStatusTransition(ctx context.Context, upd StatusUpdate) (*models.PaymentTransaction, error) {
	const op = "services.reconciler.OnStatusTransition"
	log := s.log.With(slog.String("op", op), slog.String("payment_transaction_id", upd.TransactionID))

	if !upd.Status.Valid() {
		return nil, fmt.Errorf("%s: %w: %q", op, ErrInvalidStatus, upd.Status)
	}

	var (
		updated    *models.PaymentTransaction
		completing bool
		event      PaymentCompletedEvent
	)
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		p, err := tx.LockPaymentTransaction(ctx, upd.TransactionID)
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		now := s.now().UTC()
		completing = p.Status != models.PaymentCompleted && upd.Status == models.PaymentCompleted

		p.Status = upd.Status
		if upd.ExternalPaymentID != nil {
			p.ExternalPaymentID = upd.ExternalPaymentID
		}
		if upd.AdminNotes != nil {
			p.AdminNotes = upd.AdminNotes
		}
		if completing {
			p.VerifiedAt = &now
			if upd.VerifiedBy != "" {
				verifiedBy := upd.VerifiedBy
				p.VerifiedBy = &verifiedBy
			}
		}
		if err := tx.UpdatePaymentTransaction(ctx, p); err != nil {
			return err
		}
		updated = p

		if !completing {
			return nil
		}
		event = PaymentCompletedEvent{
			PaymentTransactionID: p.ID,
			UserID:               p.UserID,
			TransactionType:      p.TransactionType,
			CompletedAt:          now,
		}

		md, err := p.ParseMetadata()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedMetadata, err)
		}

		switch p.TransactionType {
		case models.PaymentTypeCredits:
			if md.Credits == nil || *md.Credits <= 0 {
				log.Warn("completed credits payment carries no credits in metadata, nothing to grant")
				return nil
			}
			res, err := s.credits.GrantFromPaymentTx(ctx, tx, p.ID, p.UserID, *md.Credits)
			if err != nil {
				return err
			}
			if !res.AlreadyGranted {
				event.CreditsGranted = res.Credits
			}
		case models.PaymentTypeSubscription, models.PaymentTypeLifetime:
			tier, err := s.activateSubscription(ctx, tx, p, md, now)
			if err != nil {
				return err
			}
			event.Tier = tier
		}
		return nil
	})
	if err != nil {
		log.Error("failed to apply payment status", slog.String("status", string(upd.Status)), sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if completing {
		s.metrics.PaymentCompleted(string(updated.TransactionType))
		log.Info("payment completed",
			slog.String("user_id", updated.UserID),
			slog.String("type", string(updated.TransactionType)),
			slog.Int("credits_granted", event.CreditsGranted),
		)
		s.publish(ctx, log, event)
	} else {
		log.Info("payment status updated", slog.String("status", string(updated.Status)))
	}
	return updated, nil
}

// activateSubscription создаёт или заменяет подписку пользователя, если этот платёж
// ещё не активировал её. Возвращает тариф подписки.
func (s *Service) activateSubscription(ctx context.Context, tx storage.Tx, p *models.PaymentTransaction,
	md models.PaymentMetadata, now time.Time) (string, error) {
	existing, err := tx.FindSubscriptionByPayment(ctx, p.ID)
	if err == nil {
		return existing.Tier, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return "", err
	}

	tier, err := subscriptionTier(p.TransactionType, md.Tier)
	if err != nil {
		return "", err
	}

	sub := &models.Subscription{
		ID:                   uuid.NewString(),
		UserID:               p.UserID,
		Tier:                 string(tier),
		Status:               models.SubscriptionActive,
		StartDate:            now,
		PaymentTransactionID: p.ID,
	}
	if tier == entitlement.TierFamily {
		end := month.PeriodEnd(now, md.BillingType)
		sub.EndDate = &end
	}
	if err := tx.UpsertSubscription(ctx, sub); err != nil {
		return "", err
	}
	return sub.Tier, nil
}

// subscriptionTier выбирает тариф из metadata; без metadata тариф следует из типа платежа.
func subscriptionTier(paymentType models.PaymentType, raw string) (entitlement.Tier, error) {
	if raw == "" {
		if paymentType == models.PaymentTypeLifetime {
			return entitlement.TierLifetime, nil
		}
		return entitlement.TierFamily, nil
	}
	tier, err := entitlement.ParseTier(raw)
	if err != nil || !tier.Premium() {
		return "", fmt.Errorf("%w: tier %q", ErrMalformedMetadata, raw)
	}
	return tier, nil
}

func (s *Service) publish(ctx context.Context, log *slog.Logger, event PaymentCompletedEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, rabbitmq.RoutingPaymentCompleted, event); err != nil {
		log.Warn("failed to publish payment completed event", sl.Err(err))
	}
}
