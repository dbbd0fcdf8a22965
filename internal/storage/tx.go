package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// Querier is satisfied by both *sql.DB and *sql.Tx, which lets a
// repository method that accepts it run standalone or as part of a
// larger caller-owned transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx runs fn inside a transaction at the given isolation level,
// committing on a nil return and rolling back otherwise. fn must only
// use the *sql.Tx it is given, never the outer db.
func WithTx(ctx context.Context, db *sql.DB, isolation sql.IsolationLevel, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: isolation})
	if err != nil {
		return fmt.Errorf("storage: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit tx: %w", err)
	}
	return nil
}

// WithTxResult is WithTx for a function that also produces a value.
func WithTxResult[T any](ctx context.Context, db *sql.DB, isolation sql.IsolationLevel, fn func(tx *sql.Tx) (T, error)) (T, error) {
	var result T
	err := WithTx(ctx, db, isolation, func(tx *sql.Tx) error {
		v, err := fn(tx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505) — the signal every claim-row idempotency
// check in this package keys off.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
