package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/smartacus/smartacus/internal/events"
	"github.com/smartacus/smartacus/internal/persistence"
)

// snapshotRepo implements SnapshotRepo for PostgreSQL.
type snapshotRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewSnapshotRepo creates the PostgreSQL snapshot repository.
func NewSnapshotRepo(db *sqlx.DB, timeout time.Duration) persistence.SnapshotRepo {
	return &snapshotRepo{db: db, timeout: timeout}
}

const snapshotColumns = `asin, captured_at, session_id,
	price_current, price_list, price_lowest_new, price_lowest_used, currency,
	coupon_percent, coupon_fixed,
	primary_rank, primary_rank_category, secondary_rank,
	stock_status, stock_qty, seller_count, fulfillment,
	rating_avg, rating_count, review_count,
	star_pct_1, star_pct_2, star_pct_3, star_pct_4, star_pct_5,
	price_delta, price_delta_percent, rank_delta, rank_delta_percent, review_count_delta`

// InsertSnapshots appends the batch. Each snapshot runs in its own
// transaction: load the prior row, compute deltas, insert, emit events.
// A duplicate (asin, captured_at) key skips that snapshot without
// failing the batch; event uniqueness rides on ON CONFLICT DO NOTHING
// so a replay after a partial failure cannot double-emit.
func (r *snapshotRepo) InsertSnapshots(ctx context.Context, snapshots []persistence.Snapshot, sessionID string) (int, int, error) {
	inserted, skipped := 0, 0
	for i := range snapshots {
		snap := snapshots[i]
		snap.SessionID = sessionID
		ok, err := r.insertOne(ctx, &snap)
		if err != nil {
			return inserted, skipped, fmt.Errorf("failed to insert snapshot %s@%s: %w",
				snap.ASIN, snap.CapturedAt.Format(time.RFC3339), err)
		}
		if ok {
			inserted++
		} else {
			skipped++
		}
	}
	return inserted, skipped, nil
}

func (r *snapshotRepo) insertOne(ctx context.Context, snap *persistence.Snapshot) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	prev, err := r.latestBefore(ctx, tx, snap.ASIN, snap.CapturedAt)
	if err != nil {
		return false, err
	}

	events.ComputeDeltas(prev, snap)

	query := `
		INSERT INTO product_snapshots (` + snapshotColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30)`

	_, err = tx.ExecContext(ctx, query,
		snap.ASIN, snap.CapturedAt, snap.SessionID,
		snap.PriceCurrent, snap.PriceList, snap.PriceLowestNew, snap.PriceLowestUsed, snap.Currency,
		snap.CouponPercent, snap.CouponFixed,
		snap.PrimaryRank, snap.PrimaryRankCategory, snap.SecondaryRank,
		snap.StockStatus, snap.StockQty, snap.SellerCount, snap.Fulfillment,
		snap.RatingAvg, snap.RatingCount, snap.ReviewCount,
		snap.StarPct1, snap.StarPct2, snap.StarPct3, snap.StarPct4, snap.StarPct5,
		snap.PriceDelta, snap.PriceDeltaPercent, snap.RankDelta, snap.RankDeltaPercent, snap.ReviewCountDelta)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert snapshot row: %w", err)
	}

	if err := r.emitEvents(ctx, tx, prev, snap); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return true, nil
}

func (r *snapshotRepo) latestBefore(ctx context.Context, tx *sqlx.Tx, asin string, before time.Time) (*persistence.Snapshot, error) {
	query := `
		SELECT ` + snapshotColumns + `
		FROM product_snapshots
		WHERE asin = $1 AND captured_at < $2
		ORDER BY captured_at DESC
		LIMIT 1`

	var prev persistence.Snapshot
	err := tx.GetContext(ctx, &prev, query, asin, before)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load prior snapshot: %w", err)
	}
	return &prev, nil
}

func (r *snapshotRepo) emitEvents(ctx context.Context, tx *sqlx.Tx, prev, next *persistence.Snapshot) error {
	now := time.Now().UTC()

	if ev := events.PriceEventFor(prev, next, now); ev != nil {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO price_events (asin, detected_at, price_before, price_after,
				change_absolute, change_percent, direction, severity, is_deal,
				snapshot_before_at, snapshot_after_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (asin, snapshot_before_at, snapshot_after_at) DO NOTHING`,
			ev.ASIN, ev.DetectedAt, ev.PriceBefore, ev.PriceAfter,
			ev.ChangeAbsolute, ev.ChangePercent, ev.Direction, ev.Severity, ev.IsDeal,
			ev.SnapshotBeforeAt, ev.SnapshotAfterAt)
		if err != nil {
			return fmt.Errorf("failed to emit price event: %w", err)
		}
	}

	if ev := events.RankEventFor(prev, next, now); ev != nil {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO rank_events (asin, detected_at, rank_before, rank_after,
				change_absolute, change_percent, direction, severity, sustained,
				snapshot_before_at, snapshot_after_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (asin, snapshot_before_at, snapshot_after_at) DO NOTHING`,
			ev.ASIN, ev.DetectedAt, ev.RankBefore, ev.RankAfter,
			ev.ChangeAbsolute, ev.ChangePercent, ev.Direction, ev.Severity, ev.Sustained,
			ev.SnapshotBeforeAt, ev.SnapshotAfterAt)
		if err != nil {
			return fmt.Errorf("failed to emit rank event: %w", err)
		}
	}

	if ev := events.StockEventFor(prev, next, now); ev != nil {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO stock_events (asin, detected_at, status_before, status_after,
				qty_before, qty_after, kind, severity, stockout_start_at, duration_hours,
				snapshot_before_at, snapshot_after_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (asin, snapshot_before_at, snapshot_after_at) DO NOTHING`,
			ev.ASIN, ev.DetectedAt, ev.StatusBefore, ev.StatusAfter,
			ev.QtyBefore, ev.QtyAfter, ev.Kind, ev.Severity, ev.StockoutStartAt, ev.DurationHours,
			ev.SnapshotBeforeAt, ev.SnapshotAfterAt)
		if err != nil {
			return fmt.Errorf("failed to emit stock event: %w", err)
		}
	}

	return nil
}

// Latest returns the most recent snapshot for the ASIN.
func (r *snapshotRepo) Latest(ctx context.Context, asin string) (*persistence.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + snapshotColumns + `
		FROM product_snapshots
		WHERE asin = $1
		ORDER BY captured_at DESC
		LIMIT 1`

	var snap persistence.Snapshot
	err := r.db.GetContext(ctx, &snap, query, asin)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get latest snapshot for %s: %w", asin, err)
	}
	return &snap, nil
}

// Range returns the ASIN's snapshots in [from, to] ascending.
func (r *snapshotRepo) Range(ctx context.Context, asin string, from, to time.Time) ([]persistence.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + snapshotColumns + `
		FROM product_snapshots
		WHERE asin = $1 AND captured_at >= $2 AND captured_at <= $3
		ORDER BY captured_at ASC`

	var snaps []persistence.Snapshot
	if err := r.db.SelectContext(ctx, &snaps, query, asin, from, to); err != nil {
		return nil, fmt.Errorf("failed to query snapshot range for %s: %w", asin, err)
	}
	return snaps, nil
}

// MissingStats measures field missingness over one session's snapshots.
func (r *snapshotRepo) MissingStats(ctx context.Context, sessionID string) (*persistence.MissingStats, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE price_current IS NULL) AS price_missing,
			COUNT(*) FILTER (WHERE primary_rank IS NULL)  AS rank_missing,
			COUNT(*) FILTER (WHERE review_count IS NULL)  AS review_missing
		FROM product_snapshots
		WHERE session_id = $1`

	var st persistence.MissingStats
	err := r.db.QueryRowxContext(ctx, query, sessionID).Scan(
		&st.Total, &st.PriceMissing, &st.RankMissing, &st.ReviewMissing)
	if err != nil {
		return nil, fmt.Errorf("failed to compute missing stats: %w", err)
	}
	if st.Total > 0 {
		st.PricePct = float64(st.PriceMissing) / float64(st.Total)
		st.RankPct = float64(st.RankMissing) / float64(st.Total)
		st.ReviewPct = float64(st.ReviewMissing) / float64(st.Total)
	}
	return &st, nil
}
