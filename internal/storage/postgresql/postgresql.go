// Package postgresql реализует storage.Store на PostgreSQL через пул pgx.
// Транзакции открываются с уровнем изоляции READ COMMITTED; строки баланса
// и платежей блокируются через SELECT ... FOR UPDATE.
package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/magabrotheeeer/babysteps-billing/internal/storage"
)

const (
	uniqueViolation = "23505"
	checkViolation  = "23514"
)

// Storage инкапсулирует пул соединений с PostgreSQL.
type Storage struct {
	pool *pgxpool.Pool
}

// New создаёт пул соединений и проверяет доступность базы.
func New(ctx context.Context, storageConnectionString string) (*Storage, error) {
	const op = "storage.postgresql.New"

	pool, err := pgxpool.New(ctx, storageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Storage{pool: pool}, nil
}

// DB возвращает *sql.DB поверх пула, нужен для golang-migrate.
func (s *Storage) DB() *sql.DB {
	return stdlib.OpenDBFromPool(s.pool)
}

// Ping проверяет соединение с базой.
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close закрывает пул.
func (s *Storage) Close() {
	s.pool.Close()
}

// InTx выполняет fn в транзакции. Ошибка fn или commit откатывает все изменения.
func (s *Storage) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	const op = "storage.postgresql.InTx"

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, mapErr(err))
	}
	return nil
}

// Savepoint выполняет fn внутри SAVEPOINT текущей транзакции.
func (t *pgTx) Savepoint(ctx context.Context, fn func(tx storage.Tx) error) error {
	const op = "storage.postgresql.Savepoint"

	nested, err := t.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = nested.Rollback(ctx)
	}()

	if err := fn(&pgTx{tx: nested}); err != nil {
		return err
	}
	if err := nested.Commit(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, mapErr(err))
	}
	return nil
}

// querier - общее подмножество pgxpool.Pool и pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgTx struct {
	tx pgx.Tx
}

func mapErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == uniqueViolation || pgErr.Code == checkViolation) {
		return fmt.Errorf("%w: %s", storage.ErrConflict, pgErr.Message)
	}
	return err
}
