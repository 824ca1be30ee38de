package postgresql

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/magabrotheeeer/babysteps-billing/internal/models"
)

const creditColumns = `id, user_id, amount, balance_after, transaction_type, description,
	payment_transaction_id, created_at`

func scanCreditTransaction(row pgx.Row) (*models.CreditTransaction, error) {
	var ct models.CreditTransaction
	if err := row.Scan(&ct.ID, &ct.UserID, &ct.Amount, &ct.BalanceAfter, &ct.TransactionType,
		&ct.Description, &ct.PaymentTransactionID, &ct.CreatedAt); err != nil {
		return nil, err
	}
	return &ct, nil
}

// GetLedger возвращает баланс пользователя; без записи в credit_ledgers баланс равен нулю.
func (s *Storage) GetLedger(ctx context.Context, userID string) (*models.CreditLedger, error) {
	const op = "storage.postgresql.GetLedger"

	ledger := models.CreditLedger{UserID: userID}
	err := s.pool.QueryRow(ctx, `SELECT balance, updated_at FROM credit_ledgers WHERE user_id = $1`, userID).
		Scan(&ledger.Balance, &ledger.UpdatedAt)
	if err == pgx.ErrNoRows {
		return &ledger, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &ledger, nil
}

// ListCreditTransactions возвращает журнал пользователя от новых записей к старым.
func (s *Storage) ListCreditTransactions(ctx context.Context, userID string) ([]*models.CreditTransaction, error) {
	const op = "storage.postgresql.ListCreditTransactions"

	rows, err := s.pool.Query(ctx, `SELECT `+creditColumns+`
		FROM credit_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var result []*models.CreditTransaction
	for rows.Next() {
		ct, err := scanCreditTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, ct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

func (t *pgTx) LockLedger(ctx context.Context, userID string) (*models.CreditLedger, error) {
	const op = "storage.postgresql.LockLedger"

	if _, err := t.tx.Exec(ctx, `INSERT INTO credit_ledgers (user_id, balance)
		VALUES ($1, 0)
		ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapErr(err))
	}

	ledger := models.CreditLedger{UserID: userID}
	if err := t.tx.QueryRow(ctx, `SELECT balance, updated_at
		FROM credit_ledgers
		WHERE user_id = $1
		FOR UPDATE`, userID).Scan(&ledger.Balance, &ledger.UpdatedAt); err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapErr(err))
	}
	return &ledger, nil
}

func (t *pgTx) UpdateBalance(ctx context.Context, userID string, balance int) error {
	const op = "storage.postgresql.UpdateBalance"

	tag, err := t.tx.Exec(ctx, `UPDATE credit_ledgers
		SET balance = $1, updated_at = NOW()
		WHERE user_id = $2`, balance, userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, mapErr(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, mapErr(pgx.ErrNoRows))
	}
	return nil
}

func (t *pgTx) InsertCreditTransaction(ctx context.Context, ct *models.CreditTransaction) error {
	const op = "storage.postgresql.InsertCreditTransaction"

	err := t.tx.QueryRow(ctx, `INSERT INTO credit_transactions (id, user_id, amount, balance_after,
			transaction_type, description, payment_transaction_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		ct.ID, ct.UserID, ct.Amount, ct.BalanceAfter, ct.TransactionType, ct.Description,
		ct.PaymentTransactionID).Scan(&ct.CreatedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, mapErr(err))
	}
	return nil
}

func (t *pgTx) FindPurchaseByPayment(ctx context.Context, paymentTransactionID string) (*models.CreditTransaction, error) {
	const op = "storage.postgresql.FindPurchaseByPayment"

	ct, err := scanCreditTransaction(t.tx.QueryRow(ctx, `SELECT `+creditColumns+`
		FROM credit_transactions
		WHERE payment_transaction_id = $1 AND transaction_type = $2`,
		paymentTransactionID, models.CreditPurchase))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapErr(err))
	}
	return ct, nil
}
