// Package storage описывает хранилище кредитного леджера: транзакционный интерфейс Tx,
// через который сервисы атомарно изменяют баланс, журнал, платежи и подписки,
// и методы чтения для HTTP-слоя. Реализации находятся в подпакетах postgresql и memory.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/magabrotheeeer/babysteps-billing/internal/models"
)

var (
	// ErrNotFound возвращается, если запрошенная запись отсутствует.
	ErrNotFound = errors.New("storage: not found")
	// ErrConflict возвращается при нарушении уникальности или ограничения (например, отрицательный баланс).
	ErrConflict = errors.New("storage: conflict")
)

// Tx - операции, выполняемые внутри одной транзакции хранилища.
// Ошибка из функции, переданной в InTx, откатывает все изменения.
type Tx interface {
	// LockLedger блокирует строку баланса пользователя до конца транзакции,
	// создавая её с нулевым балансом при первом обращении.
	LockLedger(ctx context.Context, userID string) (*models.CreditLedger, error)
	UpdateBalance(ctx context.Context, userID string, balance int) error
	InsertCreditTransaction(ctx context.Context, tx *models.CreditTransaction) error
	// FindPurchaseByPayment ищет начисление типа purchase по платёжной транзакции.
	FindPurchaseByPayment(ctx context.Context, paymentTransactionID string) (*models.CreditTransaction, error)

	LockPaymentTransaction(ctx context.Context, id string) (*models.PaymentTransaction, error)
	UpdatePaymentTransaction(ctx context.Context, p *models.PaymentTransaction) error

	FindSubscriptionByPayment(ctx context.Context, paymentTransactionID string) (*models.Subscription, error)
	// UpsertSubscription создаёт или заменяет подписку пользователя.
	UpsertSubscription(ctx context.Context, sub *models.Subscription) error

	// GetSubscription и CountUsage читают данные с учётом изменений текущей транзакции.
	GetSubscription(ctx context.Context, userID string) (*models.Subscription, error)
	CountUsage(ctx context.Context, userID, action, subject string, since time.Time) (int, error)
	InsertUsageEvent(ctx context.Context, e *models.UsageEvent) error
	// SetUsageCharge фиксирует в событии фактически списанные кредиты.
	SetUsageCharge(ctx context.Context, eventID string, credits int) error

	// Savepoint выполняет fn во вложенной транзакции: ошибка fn откатывает
	// только её изменения, внешняя транзакция остаётся пригодной.
	Savepoint(ctx context.Context, fn func(tx Tx) error) error
}

// Store - хранилище с транзакциями и методами чтения.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// GetLedger возвращает баланс; для пользователя без записей баланс равен нулю.
	GetLedger(ctx context.Context, userID string) (*models.CreditLedger, error)
	ListCreditTransactions(ctx context.Context, userID string) ([]*models.CreditTransaction, error)
	CreatePaymentTransaction(ctx context.Context, p *models.PaymentTransaction) error
	GetPaymentTransaction(ctx context.Context, id string) (*models.PaymentTransaction, error)
	// ListPaymentTransactions возвращает платежи от новых к старым, status == nil - без фильтра.
	ListPaymentTransactions(ctx context.Context, status *models.PaymentStatus) ([]*models.PaymentTransaction, error)
	GetSubscription(ctx context.Context, userID string) (*models.Subscription, error)
	CountUsage(ctx context.Context, userID, action, subject string, since time.Time) (int, error)
}
