// Package catalog implements the relational catalog store — the single
// source of truth for projects, characters, scenes, jobs, narrative state,
// the regeneration queue, and quality feedback.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
)

// Store provides durable access to all catalog entities.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a catalog store over the given database handle.
func NewStore(db *sqlx.DB) *Store {
	if db == nil {
		panic("catalog.NewStore: db must not be nil")
	}
	return &Store{db: db}
}

// retryPolicy matches the store's failure contract: exponential backoff with
// 100ms initial interval, factor 2, 5s cap, at most 5 attempts.
func retryPolicy(ctx context.Context) backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.Multiplier = 2
	policy.MaxInterval = 5 * time.Second
	policy.RandomizationFactor = 0
	return backoff.WithContext(backoff.WithMaxRetries(policy, 4), ctx)
}

// withRetry runs op, retrying connection-class failures. Integrity violations
// and not-found conditions are never retried.
func (s *Store) withRetry(ctx context.Context, op func() error) error {
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if isTransient(err) {
			slog.Warn("Catalog query failed, retrying", "attempt", attempt, "error", err)
			return err
		}
		return backoff.Permanent(err)
	}, retryPolicy(ctx))

	if err != nil && isTransient(err) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

// isTransient reports whether the error is a connection-class failure worth
// retrying.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 — connection exceptions.
		return len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08"
	}
	return false
}

// translateError maps driver errors to the store's typed error kinds.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
		}
	}
	return err
}
