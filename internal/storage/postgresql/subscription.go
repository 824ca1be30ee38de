package postgresql

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/magabrotheeeer/babysteps-billing/internal/models"
)

const subscriptionColumns = `id, user_id, tier, status, start_date, end_date, payment_transaction_id`

func scanSubscription(row pgx.Row) (*models.Subscription, error) {
	var sub models.Subscription
	if err := row.Scan(&sub.ID, &sub.UserID, &sub.Tier, &sub.Status, &sub.StartDate, &sub.EndDate,
		&sub.PaymentTransactionID); err != nil {
		return nil, mapErr(err)
	}
	return &sub, nil
}

// GetSubscription возвращает подписку пользователя.
func (s *Storage) GetSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	const op = "storage.postgresql.GetSubscription"

	sub, err := scanSubscription(s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1`, userID))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}

func (t *pgTx) GetSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	const op = "storage.postgresql.GetSubscriptionTx"

	sub, err := scanSubscription(t.tx.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1`, userID))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}

func (t *pgTx) FindSubscriptionByPayment(ctx context.Context, paymentTransactionID string) (*models.Subscription, error) {
	const op = "storage.postgresql.FindSubscriptionByPayment"

	sub, err := scanSubscription(t.tx.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE payment_transaction_id = $1`, paymentTransactionID))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}

func (t *pgTx) UpsertSubscription(ctx context.Context, sub *models.Subscription) error {
	const op = "storage.postgresql.UpsertSubscription"

	err := t.tx.QueryRow(ctx, `INSERT INTO subscriptions (id, user_id, tier, status, start_date, end_date,
			payment_transaction_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE
		SET tier = EXCLUDED.tier,
			status = EXCLUDED.status,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			payment_transaction_id = EXCLUDED.payment_transaction_id
		RETURNING id`,
		sub.ID, sub.UserID, sub.Tier, sub.Status, sub.StartDate, sub.EndDate, sub.PaymentTransactionID).Scan(&sub.ID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, mapErr(err))
	}
	return nil
}
