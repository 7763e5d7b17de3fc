package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// NextPRNKey is the meta row holding the next permanent record number to issue.
const NextPRNKey = "next_prn"

// CounterRepository owns the durable PRN counter in the meta table.
type CounterRepository struct {
	db *sqlx.DB
}

// NewCounterRepository constructs a CounterRepository.
func NewCounterRepository(db *sqlx.DB) *CounterRepository {
	return &CounterRepository{db: db}
}

// Init seeds the counter with start unless it already exists.
func (r *CounterRepository) Init(ctx context.Context, start int64) error {
	q := conn(ctx, r.db)
	query := q.Rebind(`INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT (key) DO NOTHING`)
	if _, err := q.ExecContext(ctx, query, NextPRNKey, start); err != nil {
		return fmt.Errorf("init prn counter: %w", err)
	}
	return nil
}

// Next atomically increments the counter and returns the value it held before.
// A single UPDATE ... RETURNING statement is indivisible for concurrent callers.
func (r *CounterRepository) Next(ctx context.Context) (int64, error) {
	q := conn(ctx, r.db)
	query := q.Rebind(`UPDATE meta SET value = value + 1 WHERE key = ? RETURNING value`)
	var next int64
	if err := sqlx.GetContext(ctx, q, &next, query, NextPRNKey); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("prn counter not initialised")
		}
		return 0, fmt.Errorf("advance prn counter: %w", err)
	}
	return next - 1, nil
}

// Peek reads the next value without consuming it.
func (r *CounterRepository) Peek(ctx context.Context) (int64, error) {
	q := conn(ctx, r.db)
	var value int64
	if err := sqlx.GetContext(ctx, q, &value, q.Rebind(`SELECT value FROM meta WHERE key = ?`), NextPRNKey); err != nil {
		return 0, fmt.Errorf("read prn counter: %w", err)
	}
	return value, nil
}

// EnsureAtLeast raises the counter to value if it is currently lower. The counter
// never moves backwards.
func (r *CounterRepository) EnsureAtLeast(ctx context.Context, value int64) error {
	q := conn(ctx, r.db)
	query := q.Rebind(`UPDATE meta SET value = ? WHERE key = ? AND value < ?`)
	if _, err := q.ExecContext(ctx, query, value, NextPRNKey, value); err != nil {
		return fmt.Errorf("raise prn counter: %w", err)
	}
	return nil
}
