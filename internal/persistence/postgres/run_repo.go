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

// runRepo implements RunRepo for PostgreSQL.
type runRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewRunRepo creates the PostgreSQL pipeline-run repository.
func NewRunRepo(db *sqlx.DB, timeout time.Duration) persistence.RunRepo {
	return &runRepo{db: db, timeout: timeout}
}

const runColumns = `run_id, status, started_at, ended_at,
	asins_total, asins_ok, asins_failed, asins_skipped,
	phase_timings, tokens_consumed,
	price_missing_pct, rank_missing_pct, review_missing_pct, dq_passed,
	error_rate, error_budget_breached, shortlist_frozen,
	config_snapshot, error_message, failed_asins`

// Create records the run row at pre-flight.
func (r *runRepo) Create(ctx context.Context, run *persistence.PipelineRun) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pipeline_runs (`+runColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		run.RunID, run.Status, run.StartedAt, run.EndedAt,
		run.ASINsTotal, run.ASINsOK, run.ASINsFailed, run.ASINsSkipped,
		run.PhaseTimings, run.TokensConsumed,
		run.PriceMissingPct, run.RankMissingPct, run.ReviewMissingPct, run.DQPassed,
		run.ErrorRate, run.ErrorBudgetBreached, run.ShortlistFrozen,
		run.ConfigSnapshot, run.ErrorMessage, run.FailedASINs)
	if err != nil {
		return fmt.Errorf("failed to create pipeline run %s: %w", run.RunID, err)
	}
	return nil
}

// Update rewrites the run's mutable audit fields.
func (r *runRepo) Update(ctx context.Context, run *persistence.PipelineRun) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE pipeline_runs SET
			status = $2, ended_at = $3,
			asins_total = $4, asins_ok = $5, asins_failed = $6, asins_skipped = $7,
			phase_timings = $8, tokens_consumed = $9,
			price_missing_pct = $10, rank_missing_pct = $11, review_missing_pct = $12,
			dq_passed = $13, error_rate = $14, error_budget_breached = $15,
			shortlist_frozen = $16, config_snapshot = $17,
			error_message = $18, failed_asins = $19
		WHERE run_id = $1`,
		run.RunID, run.Status, run.EndedAt,
		run.ASINsTotal, run.ASINsOK, run.ASINsFailed, run.ASINsSkipped,
		run.PhaseTimings, run.TokensConsumed,
		run.PriceMissingPct, run.RankMissingPct, run.ReviewMissingPct,
		run.DQPassed, run.ErrorRate, run.ErrorBudgetBreached,
		run.ShortlistFrozen, run.ConfigSnapshot,
		run.ErrorMessage, run.FailedASINs)
	if err != nil {
		return fmt.Errorf("failed to update pipeline run %s: %w", run.RunID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

// Get loads one run row.
func (r *runRepo) Get(ctx context.Context, runID string) (*persistence.PipelineRun, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var run persistence.PipelineRun
	err := r.db.GetContext(ctx, &run, `
		SELECT `+runColumns+` FROM pipeline_runs WHERE run_id = $1`, runID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get pipeline run %s: %w", runID, err)
	}
	return &run, nil
}

// Latest returns the most recently started run.
func (r *runRepo) Latest(ctx context.Context) (*persistence.PipelineRun, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var run persistence.PipelineRun
	err := r.db.GetContext(ctx, &run, `
		SELECT `+runColumns+` FROM pipeline_runs ORDER BY started_at DESC LIMIT 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get latest pipeline run: %w", err)
	}
	return &run, nil
}
