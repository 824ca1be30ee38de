// Package usercontext собирает entitlement.UserContext пользователя из хранилища:
// тариф по активной подписке, баланс по леджеру, счётчики по событиям использования.
package usercontext

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/babysteps-billing/internal/entitlement"
	"github.com/magabrotheeeer/babysteps-billing/internal/lib/month"
	"github.com/magabrotheeeer/babysteps-billing/internal/models"
	"github.com/magabrotheeeer/babysteps-billing/internal/storage"
)

// Reader методы хранилища, нужные для сборки контекста.
type Reader interface {
	GetLedger(ctx context.Context, userID string) (*models.CreditLedger, error)
	GetSubscription(ctx context.Context, userID string) (*models.Subscription, error)
	CountUsage(ctx context.Context, userID, action, subject string, since time.Time) (int, error)
}

// Usage состояние, известное вызывающей стороне. Заданные счётчики имеют приоритет
// над подсчитанными по событиям использования.
type Usage struct {
	MonthNumber       int
	BabyCount         *int
	MonthlyPhotoCount *int
	StorageUsedBytes  *int64
}

// Loader собирает контекст пользователя.
type Loader struct {
	store Reader
	now   func() time.Time
}

// New создаёт Loader.
func New(store Reader) *Loader {
	return &Loader{store: store, now: time.Now}
}

// Load возвращает контекст пользователя на текущий момент.
func (l *Loader) Load(ctx context.Context, userID string, usage Usage) (entitlement.UserContext, error) {
	const op = "services.usercontext.Load"

	uc, err := l.load(ctx, l.store, userID, usage)
	if err != nil {
		return uc, fmt.Errorf("%s: %w", op, err)
	}
	return uc, nil
}

// LoadTx собирает контекст внутри транзакции tx. Строка баланса блокируется,
// поэтому счётчики остаются верными до конца транзакции.
func (l *Loader) LoadTx(ctx context.Context, tx storage.Tx, userID string, usage Usage) (entitlement.UserContext, error) {
	const op = "services.usercontext.LoadTx"

	uc, err := l.load(ctx, txReader{tx: tx}, userID, usage)
	if err != nil {
		return uc, fmt.Errorf("%s: %w", op, err)
	}
	return uc, nil
}

func (l *Loader) load(ctx context.Context, store Reader, userID string, usage Usage) (entitlement.UserContext, error) {
	uc := entitlement.UserContext{
		UserID:           userID,
		MonthNumber:      usage.MonthNumber,
		StorageUsedBytes: usage.StorageUsedBytes,
	}
	now := l.now().UTC()

	tier, err := activeTier(ctx, store, userID, now)
	if err != nil {
		return uc, err
	}
	uc.Tier = tier

	ledger, err := store.GetLedger(ctx, userID)
	if err != nil {
		return uc, err
	}
	uc.CreditsBalance = ledger.Balance

	if usage.BabyCount != nil {
		uc.BabyCount = *usage.BabyCount
	} else {
		uc.BabyCount, err = store.CountUsage(ctx, userID,
			string(entitlement.ActionCreate), string(entitlement.SubjectBaby), time.Time{})
		if err != nil {
			return uc, err
		}
	}

	if usage.MonthlyPhotoCount != nil {
		uc.MonthlyPhotoCount = *usage.MonthlyPhotoCount
	} else {
		uc.MonthlyPhotoCount, err = store.CountUsage(ctx, userID,
			string(entitlement.ActionUpload), string(entitlement.SubjectPhoto), month.Start(now))
		if err != nil {
			return uc, err
		}
	}

	return uc, nil
}

// activeTier возвращает тариф активной подписки; без подписки или после её окончания - free.
func activeTier(ctx context.Context, store Reader, userID string, now time.Time) (entitlement.Tier, error) {
	sub, err := store.GetSubscription(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return entitlement.TierFree, nil
	}
	if err != nil {
		return "", err
	}
	if !sub.ActiveAt(now) {
		return entitlement.TierFree, nil
	}
	tier, err := entitlement.ParseTier(sub.Tier)
	if err != nil {
		return "", err
	}
	return tier, nil
}

// txReader читает через транзакцию; баланс берётся под блокировкой.
type txReader struct {
	tx storage.Tx
}

func (r txReader) GetLedger(ctx context.Context, userID string) (*models.CreditLedger, error) {
	return r.tx.LockLedger(ctx, userID)
}

func (r txReader) GetSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	return r.tx.GetSubscription(ctx, userID)
}

func (r txReader) CountUsage(ctx context.Context, userID, action, subject string, since time.Time) (int, error) {
	return r.tx.CountUsage(ctx, userID, action, subject, since)
}
