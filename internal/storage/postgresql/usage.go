package postgresql

import (
	"context"
	"fmt"
	"time"

	"github.com/magabrotheeeer/babysteps-billing/internal/models"
	"github.com/magabrotheeeer/babysteps-billing/internal/storage"
)

const countUsageQuery = `SELECT COUNT(*)
	FROM usage_events
	WHERE user_id = $1 AND action = $2 AND subject = $3 AND created_at >= $4`

// CountUsage считает события использования пользователя, начиная с since.
func (s *Storage) CountUsage(ctx context.Context, userID, action, subject string, since time.Time) (int, error) {
	const op = "storage.postgresql.CountUsage"

	var count int
	err := s.pool.QueryRow(ctx, countUsageQuery, userID, action, subject, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return count, nil
}

func (t *pgTx) InsertUsageEvent(ctx context.Context, e *models.UsageEvent) error {
	const op = "storage.postgresql.InsertUsageEvent"

	err := t.tx.QueryRow(ctx, `INSERT INTO usage_events (id, user_id, action, subject, credits_charged, description)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		e.ID, e.UserID, e.Action, e.Subject, e.CreditsCharged, e.Description).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, mapErr(err))
	}
	return nil
}

func (t *pgTx) CountUsage(ctx context.Context, userID, action, subject string, since time.Time) (int, error) {
	const op = "storage.postgresql.CountUsageTx"

	var count int
	if err := t.tx.QueryRow(ctx, countUsageQuery, userID, action, subject, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return count, nil
}

func (t *pgTx) SetUsageCharge(ctx context.Context, eventID string, credits int) error {
	const op = "storage.postgresql.SetUsageCharge"

	tag, err := t.tx.Exec(ctx, `UPDATE usage_events SET credits_charged = $2 WHERE id = $1`, eventID, credits)
	if err != nil {
		return fmt.Errorf("%s: %w", op, mapErr(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return nil
}
