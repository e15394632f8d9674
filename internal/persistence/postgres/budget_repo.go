package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/smartacus/smartacus/internal/persistence"
)

// budgetRepo implements BudgetRepo for PostgreSQL.
type budgetRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewBudgetRepo creates the PostgreSQL token-ledger repository.
func NewBudgetRepo(db *sqlx.DB, timeout time.Duration) persistence.BudgetRepo {
	return &budgetRepo{db: db, timeout: timeout}
}

// EnsureMonth creates the month row if missing. Existing rows keep
// their limit; mid-month plan changes are applied manually.
func (r *budgetRepo) EnsureMonth(ctx context.Context, month string, monthlyLimit, discoveryPct, scanningPct int) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO token_budget (month_year, monthly_limit, tokens_used, tokens_remaining,
			discovery_allocation_pct, scanning_allocation_pct, updated_at)
		VALUES ($1, $2, 0, $2, $3, $4, NOW())
		ON CONFLICT (month_year) DO NOTHING`,
		month, monthlyLimit, discoveryPct, scanningPct)
	if err != nil {
		return fmt.Errorf("failed to ensure budget month %s: %w", month, err)
	}
	return nil
}

// GetMonth loads one ledger row.
func (r *budgetRepo) GetMonth(ctx context.Context, month string) (*persistence.BudgetMonth, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row persistence.BudgetMonth
	err := r.db.GetContext(ctx, &row, `
		SELECT month_year, monthly_limit, tokens_used, tokens_remaining,
			discovery_allocation_pct, scanning_allocation_pct,
			runs_completed, categories_scanned, opportunities_found, updated_at
		FROM token_budget WHERE month_year = $1`, month)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get budget month %s: %w", month, err)
	}
	return &row, nil
}

// AddUsage posts spend atomically and returns the remainder. Remaining
// is floored at zero; the ledger records overdraft in tokens_used.
func (r *budgetRepo) AddUsage(ctx context.Context, month string, tokens int) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var remaining int
	err := r.db.QueryRowxContext(ctx, `
		UPDATE token_budget SET
			tokens_used      = tokens_used + $2,
			tokens_remaining = GREATEST(0, monthly_limit - tokens_used - $2),
			updated_at       = NOW()
		WHERE month_year = $1
		RETURNING tokens_remaining`, month, tokens).Scan(&remaining)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, persistence.ErrNotFound
		}
		return 0, fmt.Errorf("failed to add token usage for %s: %w", month, err)
	}
	return remaining, nil
}

// RecordRun posts a completed run's totals, token spend included.
func (r *budgetRepo) RecordRun(ctx context.Context, month string, tokens, categories, opportunities int) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE token_budget SET
			tokens_used         = tokens_used + $2,
			tokens_remaining    = GREATEST(0, monthly_limit - tokens_used - $2),
			runs_completed      = runs_completed + 1,
			categories_scanned  = categories_scanned + $3,
			opportunities_found = opportunities_found + $4,
			updated_at          = NOW()
		WHERE month_year = $1`, month, tokens, categories, opportunities)
	if err != nil {
		return fmt.Errorf("failed to record run for %s: %w", month, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return persistence.ErrNotFound
	}
	return nil
}
