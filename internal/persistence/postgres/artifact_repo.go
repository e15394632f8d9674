package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/smartacus/smartacus/internal/persistence"
)

// artifactRepo implements ArtifactRepo for PostgreSQL.
type artifactRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewArtifactRepo creates the PostgreSQL opportunity-artifact repository.
func NewArtifactRepo(db *sqlx.DB, timeout time.Duration) persistence.ArtifactRepo {
	return &artifactRepo{db: db, timeout: timeout}
}

const artifactColumns = `id, run_id, asin, rank_in_run,
	final_score, base_score, time_multiplier,
	components, time_factors, signals_for, signals_against,
	thesis, action,
	monthly_profit, annual_value, risk_adjusted_value, rank_score,
	window_days, urgency_label, rejected, rejection_reason, inputs_hash,
	price_at_scoring, reviews_at_scoring, rating_at_scoring, rank_at_scoring,
	scored_at`

// InsertArtifacts writes the run's scoring artifacts. Artifacts are
// immutable: a replay of the same (run_id, asin) is skipped, never
// overwritten.
func (r *artifactRepo) InsertArtifacts(ctx context.Context, artifacts []persistence.OpportunityArtifact) (int, error) {
	if len(artifacts) == 0 {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout*time.Duration(len(artifacts)/100+1))
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO opportunity_artifacts (run_id, asin, rank_in_run,
			final_score, base_score, time_multiplier,
			components, time_factors, signals_for, signals_against,
			thesis, action,
			monthly_profit, annual_value, risk_adjusted_value, rank_score,
			window_days, urgency_label, rejected, rejection_reason, inputs_hash,
			price_at_scoring, reviews_at_scoring, rating_at_scoring, rank_at_scoring,
			scored_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)
		ON CONFLICT (run_id, asin) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare artifact insert: %w", err)
	}
	defer stmt.Close()

	written := 0
	for _, a := range artifacts {
		res, err := stmt.ExecContext(ctx,
			a.RunID, a.ASIN, a.RankInRun,
			a.FinalScore, a.BaseScore, a.TimeMultiplier,
			a.Components, a.TimeFactors, a.SignalsFor, a.SignalsAgainst,
			a.Thesis, a.Action,
			a.MonthlyProfit, a.AnnualValue, a.RiskAdjustedValue, a.RankScore,
			a.WindowDays, a.UrgencyLabel, a.Rejected, a.RejectionReason, a.InputsHash,
			a.PriceAtScoring, a.ReviewsAtScoring, a.RatingAtScoring, a.RankAtScoring,
			a.ScoredAt)
		if err != nil {
			return written, fmt.Errorf("failed to insert artifact %s/%s: %w", a.RunID, a.ASIN, err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			written++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit artifact insert: %w", err)
	}
	return written, nil
}

// ByRun returns a run's artifacts ordered by rank, rejected rows last.
func (r *artifactRepo) ByRun(ctx context.Context, runID string) ([]persistence.OpportunityArtifact, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var out []persistence.OpportunityArtifact
	err := r.db.SelectContext(ctx, &out, `
		SELECT `+artifactColumns+`
		FROM opportunity_artifacts
		WHERE run_id = $1
		ORDER BY rejected ASC, rank_in_run ASC, rank_score DESC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query artifacts for run %s: %w", runID, err)
	}
	return out, nil
}

// ActiveOpportunities serves the read API: the artifacts behind the
// currently active shortlist snapshot, in shortlist order.
func (r *artifactRepo) ActiveOpportunities(ctx context.Context, minScore, limit int) ([]persistence.OpportunityArtifact, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}

	var out []persistence.OpportunityArtifact
	err := r.db.SelectContext(ctx, &out, `
		SELECT `+prefixedArtifactColumns("a")+`
		FROM opportunity_artifacts a
		JOIN shortlist_snapshots s ON s.run_id = a.run_id AND s.active
		WHERE NOT a.rejected
		  AND a.rank_in_run > 0
		  AND a.final_score >= $1
		ORDER BY a.rank_in_run ASC
		LIMIT $2`, minScore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query active opportunities: %w", err)
	}
	return out, nil
}

func prefixedArtifactColumns(alias string) string {
	return alias + ".id, " + alias + ".run_id, " + alias + ".asin, " + alias + ".rank_in_run, " +
		alias + ".final_score, " + alias + ".base_score, " + alias + ".time_multiplier, " +
		alias + ".components, " + alias + ".time_factors, " + alias + ".signals_for, " + alias + ".signals_against, " +
		alias + ".thesis, " + alias + ".action, " +
		alias + ".monthly_profit, " + alias + ".annual_value, " + alias + ".risk_adjusted_value, " + alias + ".rank_score, " +
		alias + ".window_days, " + alias + ".urgency_label, " + alias + ".rejected, " + alias + ".rejection_reason, " + alias + ".inputs_hash, " +
		alias + ".price_at_scoring, " + alias + ".reviews_at_scoring, " + alias + ".rating_at_scoring, " + alias + ".rank_at_scoring, " +
		alias + ".scored_at"
}
