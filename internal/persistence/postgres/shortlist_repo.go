package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/smartacus/smartacus/internal/persistence"
)

// shortlistRepo implements ShortlistRepo for PostgreSQL. The
// single-active invariant rides on a partial unique index over
// (active) WHERE active.
type shortlistRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewShortlistRepo creates the PostgreSQL shortlist repository.
func NewShortlistRepo(db *sqlx.DB, timeout time.Duration) persistence.ShortlistRepo {
	return &shortlistRepo{db: db, timeout: timeout}
}

// InsertSnapshot records the snapshot; with activate it also swaps the
// active flag in the same transaction, so readers never observe zero
// or two active rows.
func (r *shortlistRepo) InsertSnapshot(ctx context.Context, snap *persistence.ShortlistSnapshot, activate bool) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if activate {
		if _, err := tx.ExecContext(ctx,
			`UPDATE shortlist_snapshots SET active = FALSE WHERE active`); err != nil {
			return fmt.Errorf("failed to deactivate previous shortlist: %w", err)
		}
	}

	err = tx.QueryRowxContext(ctx, `
		INSERT INTO shortlist_snapshots (run_id, asins, scores, total_value,
			added_asins, removed_asins, stability_score, frozen, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		RETURNING id`,
		snap.RunID, pq.Array(snap.ASINs), pq.Array(snap.Scores), snap.TotalValue,
		pq.Array(snap.AddedASINs), pq.Array(snap.RemovedASINs), snap.StabilityScore,
		snap.Frozen, activate).Scan(&snap.ID)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("shortlist activation conflict: %w", persistence.ErrIntegrity)
		}
		return fmt.Errorf("failed to insert shortlist snapshot: %w", err)
	}
	snap.Active = activate

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit shortlist snapshot: %w", err)
	}
	return nil
}

const shortlistSelect = `
	SELECT id, run_id, total_value, stability_score, frozen, active, created_at,
		asins, scores, added_asins, removed_asins
	FROM shortlist_snapshots`

// Active returns the currently served snapshot, or ErrNotFound.
func (r *shortlistRepo) Active(ctx context.Context) (*persistence.ShortlistSnapshot, error) {
	return r.queryOne(ctx, shortlistSelect+` WHERE active LIMIT 1`)
}

// LatestCompleted returns the newest snapshot belonging to a completed
// run, for serving when nothing is active.
func (r *shortlistRepo) LatestCompleted(ctx context.Context) (*persistence.ShortlistSnapshot, error) {
	return r.queryOne(ctx, shortlistSelect+`
		WHERE run_id IN (SELECT run_id FROM pipeline_runs WHERE status = 'completed')
		ORDER BY created_at DESC LIMIT 1`)
}

func (r *shortlistRepo) queryOne(ctx context.Context, query string) (*persistence.ShortlistSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var snap persistence.ShortlistSnapshot
	var asins, added, removed pq.StringArray
	var scores pq.Int64Array

	err := r.db.QueryRowxContext(ctx, query).Scan(
		&snap.ID, &snap.RunID, &snap.TotalValue, &snap.StabilityScore,
		&snap.Frozen, &snap.Active, &snap.CreatedAt,
		&asins, &scores, &added, &removed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query shortlist snapshot: %w", err)
	}

	snap.ASINs = asins
	snap.AddedASINs = added
	snap.RemovedASINs = removed
	snap.Scores = make([]int, len(scores))
	for i, s := range scores {
		snap.Scores[i] = int(s)
	}
	return &snap, nil
}
