// Package credits реализует операции с кредитным леджером: списание, начисление
// по оплаченному платежу и возврат. Каждая операция изменяет баланс и добавляет
// запись в журнал в одной транзакции хранилища.
package credits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/babysteps-billing/internal/lib/sl"
	"github.com/magabrotheeeer/babysteps-billing/internal/metrics"
	"github.com/magabrotheeeer/babysteps-billing/internal/models"
	"github.com/magabrotheeeer/babysteps-billing/internal/storage"
)

// SpendResult результат списания.
type SpendResult struct {
	NewBalance          int    `json:"newBalance"`
	Spent               int    `json:"spent"`
	CreditTransactionID string `json:"creditTransactionId"`
}

// GrantResult результат начисления по платежу. AlreadyGranted == true означает,
// что начисление уже было выполнено ранее и возвращён его результат.
type GrantResult struct {
	NewBalance          int    `json:"newBalance"`
	Credits             int    `json:"credits"`
	CreditTransactionID string `json:"creditTransactionId"`
	AlreadyGranted      bool   `json:"alreadyGranted"`
}

// RefundResult результат возврата кредитов.
type RefundResult struct {
	NewBalance          int    `json:"newBalance"`
	Refunded            int    `json:"refunded"`
	CreditTransactionID string `json:"creditTransactionId"`
}

// Service единственный источник изменений баланса.
type Service struct {
	store   storage.Store
	log     *slog.Logger
	metrics *metrics.Metrics
}

// New создаёт сервис кредитов. m может быть nil.
func New(store storage.Store, log *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		store:   store,
		log:     log,
		metrics: m,
	}
}

// Balance возвращает текущий баланс пользователя.
func (s *Service) Balance(ctx context.Context, userID string) (int, error) {
	const op = "services.credits.Balance"

	ledger, err := s.store.GetLedger(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return ledger.Balance, nil
}

// Transactions возвращает журнал пользователя от новых записей к старым.
func (s *Service) Transactions(ctx context.Context, userID string) ([]*models.CreditTransaction, error) {
	const op = "services.credits.Transactions"

	list, err := s.store.ListCreditTransactions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return list, nil
}

// Spend атомарно списывает amount кредитов. Строка баланса блокируется,
// поэтому параллельные списания одного пользователя выполняются последовательно.
func (s *Service) Spend(ctx context.Context, userID string, amount int, description string) (SpendResult, error) {
	const op = "services.credits.Spend"

	var res SpendResult
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		var err error
		res, err = s.SpendTx(ctx, tx, userID, amount, description)
		return err
	})
	if err != nil {
		return SpendResult{}, fmt.Errorf("%s: %w", op, err)
	}
	return res, nil
}

// SpendTx списывает кредиты внутри уже открытой транзакции tx.
// Используется записью событий, чтобы счётчики и списание читались под одной блокировкой.
func (s *Service) SpendTx(ctx context.Context, tx storage.Tx, userID string, amount int, description string) (SpendResult, error) {
	const op = "services.credits.SpendTx"

	if amount <= 0 {
		return SpendResult{}, fmt.Errorf("%s: %w", op, ErrInvalidAmount)
	}

	ledger, err := tx.LockLedger(ctx, userID)
	if err != nil {
		return SpendResult{}, fmt.Errorf("%s: %w", op, err)
	}
	if ledger.Balance < amount {
		s.metrics.InsufficientCredits()
		return SpendResult{}, fmt.Errorf("%s: %w", op, &InsufficientCreditsError{Required: amount, Available: ledger.Balance})
	}

	ct, err := s.apply(ctx, tx, ledger, -amount, models.CreditSpend, description, nil)
	if err != nil {
		return SpendResult{}, fmt.Errorf("%s: %w", op, err)
	}

	s.metrics.CreditsMoved(string(models.CreditSpend), amount)
	s.log.Info("credits spent",
		slog.String("op", op),
		slog.String("user_id", userID),
		slog.Int("amount", amount),
		slog.Int("new_balance", ct.BalanceAfter),
	)
	return SpendResult{NewBalance: ct.BalanceAfter, Spent: amount, CreditTransactionID: ct.ID}, nil
}

// GrantFromPayment начисляет кредиты по завершённому платежу типа credits.
// Повторный вызов с тем же платежом не меняет баланс и возвращает прежний результат.
func (s *Service) GrantFromPayment(ctx context.Context, paymentTransactionID, userID string, credits int) (GrantResult, error) {
	const op = "services.credits.GrantFromPayment"

	var res GrantResult
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		var err error
		res, err = s.GrantFromPaymentTx(ctx, tx, paymentTransactionID, userID, credits)
		return err
	})
	if err != nil {
		return GrantResult{}, fmt.Errorf("%s: %w", op, err)
	}
	return res, nil
}

// GrantFromPaymentTx выполняет начисление внутри уже открытой транзакции tx.
// Используется сверкой платежей, чтобы смена статуса и начисление фиксировались вместе.
func (s *Service) GrantFromPaymentTx(ctx context.Context, tx storage.Tx, paymentTransactionID, userID string, credits int) (GrantResult, error) {
	const op = "services.credits.GrantFromPaymentTx"

	if credits <= 0 {
		return GrantResult{}, fmt.Errorf("%s: %w", op, ErrInvalidAmount)
	}

	payment, err := tx.LockPaymentTransaction(ctx, paymentTransactionID)
	if errors.Is(err, storage.ErrNotFound) {
		return GrantResult{}, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if err != nil {
		return GrantResult{}, fmt.Errorf("%s: %w", op, err)
	}

	switch {
	case payment.UserID != userID:
		return GrantResult{}, fmt.Errorf("%s: %w: payment belongs to another user", op, ErrInvalidPaymentState)
	case payment.Status != models.PaymentCompleted:
		return GrantResult{}, fmt.Errorf("%s: %w: status is %s", op, ErrInvalidPaymentState, payment.Status)
	case payment.TransactionType != models.PaymentTypeCredits:
		return GrantResult{}, fmt.Errorf("%s: %w: type is %s", op, ErrInvalidPaymentState, payment.TransactionType)
	}

	md, err := payment.ParseMetadata()
	if err != nil {
		return GrantResult{}, fmt.Errorf("%s: %w: malformed metadata: %v", op, ErrCreditsMismatch, err)
	}
	if md.Credits == nil {
		return GrantResult{}, fmt.Errorf("%s: %w: metadata has no credits", op, ErrCreditsMismatch)
	}
	if *md.Credits != credits {
		return GrantResult{}, fmt.Errorf("%s: %w: requested %d, payment carries %d", op, ErrCreditsMismatch, credits, *md.Credits)
	}

	existing, err := tx.FindPurchaseByPayment(ctx, paymentTransactionID)
	switch {
	case err == nil:
		s.log.Info("credits already granted",
			slog.String("op", op),
			slog.String("payment_transaction_id", paymentTransactionID),
			slog.String("credit_transaction_id", existing.ID),
		)
		return GrantResult{
			NewBalance:          existing.BalanceAfter,
			Credits:             existing.Amount,
			CreditTransactionID: existing.ID,
			AlreadyGranted:      true,
		}, nil
	case !errors.Is(err, storage.ErrNotFound):
		return GrantResult{}, fmt.Errorf("%s: %w", op, err)
	}

	ledger, err := tx.LockLedger(ctx, userID)
	if err != nil {
		return GrantResult{}, fmt.Errorf("%s: %w", op, err)
	}
	ct, err := s.apply(ctx, tx, ledger, credits, models.CreditPurchase,
		fmt.Sprintf("Purchased %d credits", credits), &paymentTransactionID)
	if err != nil {
		return GrantResult{}, fmt.Errorf("%s: %w", op, err)
	}

	s.metrics.CreditsMoved(string(models.CreditPurchase), credits)
	s.log.Info("credits granted",
		slog.String("op", op),
		slog.String("user_id", userID),
		slog.String("payment_transaction_id", paymentTransactionID),
		slog.Int("credits", credits),
		slog.Int("new_balance", ct.BalanceAfter),
	)
	return GrantResult{NewBalance: ct.BalanceAfter, Credits: credits, CreditTransactionID: ct.ID}, nil
}

// Refund возвращает пользователю amount кредитов записью типа refund.
// Ключа идемпотентности нет: повторный вызов начислит кредиты ещё раз.
func (s *Service) Refund(ctx context.Context, userID string, amount int, description string) (RefundResult, error) {
	const op = "services.credits.Refund"

	if amount <= 0 {
		return RefundResult{}, fmt.Errorf("%s: %w", op, ErrInvalidAmount)
	}

	var res RefundResult
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		ledger, err := tx.LockLedger(ctx, userID)
		if err != nil {
			return err
		}
		ct, err := s.apply(ctx, tx, ledger, amount, models.CreditRefund, description, nil)
		if err != nil {
			return err
		}
		res = RefundResult{NewBalance: ct.BalanceAfter, Refunded: amount, CreditTransactionID: ct.ID}
		return nil
	})
	if err != nil {
		s.log.Error("refund failed", slog.String("op", op), slog.String("user_id", userID), sl.Err(err))
		return RefundResult{}, fmt.Errorf("%s: %w", op, err)
	}

	s.metrics.CreditsMoved(string(models.CreditRefund), amount)
	s.log.Info("credits refunded",
		slog.String("op", op),
		slog.String("user_id", userID),
		slog.Int("amount", amount),
		slog.Int("new_balance", res.NewBalance),
	)
	return res, nil
}

// apply меняет заблокированный баланс на delta и добавляет запись журнала.
func (s *Service) apply(ctx context.Context, tx storage.Tx, ledger *models.CreditLedger, delta int,
	txType models.CreditTransactionType, description string, paymentTransactionID *string) (*models.CreditTransaction, error) {
	newBalance := ledger.Balance + delta
	if newBalance < 0 {
		return nil, &InsufficientCreditsError{Required: -delta, Available: ledger.Balance}
	}
	if err := tx.UpdateBalance(ctx, ledger.UserID, newBalance); err != nil {
		return nil, err
	}

	ct := &models.CreditTransaction{
		ID:                   uuid.NewString(),
		UserID:               ledger.UserID,
		Amount:               delta,
		BalanceAfter:         newBalance,
		TransactionType:      txType,
		Description:          description,
		PaymentTransactionID: paymentTransactionID,
	}
	if err := tx.InsertCreditTransaction(ctx, ct); err != nil {
		return nil, err
	}
	return ct, nil
}
