// Package repository implements the record stores used by the lifecycle
// services: a PostgreSQL store using pgx directly (no ORM) and an in-memory
// store with the same locking semantics for tests and local development.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/event-reservations/internal/apperr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateCode is returned when a reservation code is already taken.
var ErrDuplicateCode = errors.New("reservation code already exists")

// ErrTransient marks lock or transaction contention that is safe to retry.
var ErrTransient = errors.New("transient store conflict")

const codeConstraint = "reservations_code_key"

// PostgreSQL error codes treated as retryable contention.
var transientCodes = map[string]struct{}{
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
	"55P03": {}, // lock_not_available
	"57014": {}, // query_canceled (statement or lock timeout)
}

// classify maps driver errors onto the package sentinels. Business errors
// returned from mutation callbacks pass through untouched.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicateCode) || errors.Is(err, ErrTransient) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "23505" && pgErr.ConstraintName == codeConstraint {
			return fmt.Errorf("%s: %w", op, ErrDuplicateCode)
		}
		if _, ok := transientCodes[pgErr.Code]; ok {
			return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// inTx runs fn inside a transaction with a bounded lock wait. The
// transaction commits only when fn succeeds.
func inTx(ctx context.Context, db *pgxpool.Pool, lockTimeout time.Duration, op string, fn func(tx pgx.Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return classify(op+": begin transaction", err)
	}
	// Rollback after a successful Commit is a no-op.
	defer func() { _ = tx.Rollback(ctx) }()

	if lockTimeout > 0 {
		if _, err := tx.Exec(ctx,
			`SELECT set_config('lock_timeout', $1, true)`,
			fmt.Sprintf("%dms", lockTimeout.Milliseconds()),
		); err != nil {
			return classify(op+": set lock timeout", err)
		}
	}

	if err := fn(tx); err != nil {
		return classify(op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(op+": commit transaction", err)
	}
	return nil
}
