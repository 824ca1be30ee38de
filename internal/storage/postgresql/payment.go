package postgresql

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/magabrotheeeer/babysteps-billing/internal/models"
)

const paymentColumns = `id, user_id, amount_in_cents, currency, payment_method, transaction_type, status,
	metadata, external_payment_id, admin_notes, verified_at, verified_by, created_at, updated_at`

func scanPayment(row pgx.Row) (*models.PaymentTransaction, error) {
	var (
		p        models.PaymentTransaction
		metadata []byte
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.AmountInCents, &p.Currency, &p.PaymentMethod,
		&p.TransactionType, &p.Status, &metadata, &p.ExternalPaymentID, &p.AdminNotes,
		&p.VerifiedAt, &p.VerifiedBy, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Metadata = metadata
	return &p, nil
}

func getPayment(ctx context.Context, q querier, query, id string) (*models.PaymentTransaction, error) {
	p, err := scanPayment(q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, mapErr(err)
	}
	return p, nil
}

// CreatePaymentTransaction сохраняет платёж, созданный внешним платёжным потоком.
func (s *Storage) CreatePaymentTransaction(ctx context.Context, p *models.PaymentTransaction) error {
	const op = "storage.postgresql.CreatePaymentTransaction"

	var metadata []byte
	if len(p.Metadata) > 0 {
		metadata = p.Metadata
	}
	err := s.pool.QueryRow(ctx, `INSERT INTO payment_transactions (id, user_id, amount_in_cents, currency,
			payment_method, transaction_type, status, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		p.ID, p.UserID, p.AmountInCents, p.Currency, p.PaymentMethod, p.TransactionType, p.Status,
		metadata).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, mapErr(err))
	}
	return nil
}

// GetPaymentTransaction возвращает платёж по ID без блокировки.
func (s *Storage) GetPaymentTransaction(ctx context.Context, id string) (*models.PaymentTransaction, error) {
	const op = "storage.postgresql.GetPaymentTransaction"

	p, err := getPayment(ctx, s.pool, `SELECT `+paymentColumns+` FROM payment_transactions WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

// ListPaymentTransactions возвращает платежи от новых к старым.
func (s *Storage) ListPaymentTransactions(ctx context.Context, status *models.PaymentStatus) ([]*models.PaymentTransaction, error) {
	const op = "storage.postgresql.ListPaymentTransactions"

	var filter *string
	if status != nil {
		v := string(*status)
		filter = &v
	}

	rows, err := s.pool.Query(ctx, `SELECT `+paymentColumns+`
		FROM payment_transactions
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY created_at DESC, id DESC`, filter)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var result []*models.PaymentTransaction
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

func (t *pgTx) LockPaymentTransaction(ctx context.Context, id string) (*models.PaymentTransaction, error) {
	const op = "storage.postgresql.LockPaymentTransaction"

	p, err := getPayment(ctx, t.tx, `SELECT `+paymentColumns+` FROM payment_transactions WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

func (t *pgTx) UpdatePaymentTransaction(ctx context.Context, p *models.PaymentTransaction) error {
	const op = "storage.postgresql.UpdatePaymentTransaction"

	err := t.tx.QueryRow(ctx, `UPDATE payment_transactions
		SET status = $1, external_payment_id = $2, admin_notes = $3, verified_at = $4,
			verified_by = $5, updated_at = NOW()
		WHERE id = $6
		RETURNING updated_at`,
		p.Status, p.ExternalPaymentID, p.AdminNotes, p.VerifiedAt, p.VerifiedBy, p.ID).Scan(&p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, mapErr(err))
	}
	return nil
}
