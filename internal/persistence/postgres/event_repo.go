package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/smartacus/smartacus/internal/persistence"
)

// eventRepo implements EventRepo for PostgreSQL. The event tables are
// written by the snapshot repo; this one only reads and prunes.
type eventRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewEventRepo creates the PostgreSQL event repository.
func NewEventRepo(db *sqlx.DB, timeout time.Duration) persistence.EventRepo {
	return &eventRepo{db: db, timeout: timeout}
}

func (r *eventRepo) RecentPriceEvents(ctx context.Context, asin string, since time.Time) ([]persistence.PriceEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, asin, detected_at, price_before, price_after, change_absolute,
			change_percent, direction, severity, is_deal, snapshot_before_at, snapshot_after_at
		FROM price_events
		WHERE asin = $1 AND detected_at >= $2
		ORDER BY detected_at DESC`

	var out []persistence.PriceEvent
	if err := r.db.SelectContext(ctx, &out, query, asin, since); err != nil {
		return nil, fmt.Errorf("failed to query price events: %w", err)
	}
	return out, nil
}

func (r *eventRepo) RecentRankEvents(ctx context.Context, asin string, since time.Time) ([]persistence.RankEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, asin, detected_at, rank_before, rank_after, change_absolute,
			change_percent, direction, severity, sustained, snapshot_before_at, snapshot_after_at
		FROM rank_events
		WHERE asin = $1 AND detected_at >= $2
		ORDER BY detected_at DESC`

	var out []persistence.RankEvent
	if err := r.db.SelectContext(ctx, &out, query, asin, since); err != nil {
		return nil, fmt.Errorf("failed to query rank events: %w", err)
	}
	return out, nil
}

func (r *eventRepo) RecentStockEvents(ctx context.Context, asin string, since time.Time) ([]persistence.StockEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, asin, detected_at, status_before, status_after, qty_before, qty_after,
			kind, severity, stockout_start_at, duration_hours, snapshot_before_at, snapshot_after_at
		FROM stock_events
		WHERE asin = $1 AND detected_at >= $2
		ORDER BY detected_at DESC`

	var out []persistence.StockEvent
	if err := r.db.SelectContext(ctx, &out, query, asin, since); err != nil {
		return nil, fmt.Errorf("failed to query stock events: %w", err)
	}
	return out, nil
}

// StockoutCount counts stockout events since the cutoff.
func (r *eventRepo) StockoutCount(ctx context.Context, asin string, since time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var count int
	err := r.db.QueryRowxContext(ctx, `
		SELECT COUNT(*)
		FROM stock_events
		WHERE asin = $1 AND kind = 'stockout' AND detected_at >= $2`, asin, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count stockouts: %w", err)
	}
	return count, nil
}

// Prune deletes event rows older than the cutoff across all three tables.
func (r *eventRepo) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout*3)
	defer cancel()

	var total int64
	for _, table := range []string{"price_events", "rank_events", "stock_events"} {
		res, err := r.db.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE detected_at < $1`, table), olderThan)
		if err != nil {
			return total, fmt.Errorf("failed to prune %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}
