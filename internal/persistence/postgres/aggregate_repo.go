package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/smartacus/smartacus/internal/persistence"
)

// aggregateRepo implements AggregateRepo for PostgreSQL.
type aggregateRepo struct {
	db *sqlx.DB
}

// NewAggregateRepo creates the PostgreSQL materialized-view repository.
func NewAggregateRepo(db *sqlx.DB) persistence.AggregateRepo {
	return &aggregateRepo{db: db}
}

// refreshTimeout is generous: CONCURRENTLY rebuilds the view off to
// the side and can take a while on large histories.
const refreshTimeout = 5 * time.Minute

var aggregateViews = []string{
	"mv_latest_snapshots",
	"mv_asin_stats_7d",
	"mv_asin_stats_30d",
}

// RefreshAggregates refreshes the derived views. CONCURRENTLY keeps
// readers unblocked throughout.
func (r *aggregateRepo) RefreshAggregates(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	for _, view := range aggregateViews {
		start := time.Now()
		if _, err := r.db.ExecContext(ctx, "REFRESH MATERIALIZED VIEW CONCURRENTLY "+view); err != nil {
			return fmt.Errorf("failed to refresh %s: %w", view, err)
		}
		log.Debug().Str("view", view).Dur("took", time.Since(start)).Msg("refreshed materialized view")
	}
	return nil
}

// Stats30d returns the rolling 30-day aggregate for an ASIN.
func (r *aggregateRepo) Stats30d(ctx context.Context, asin string) (*persistence.ASINStats, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var st persistence.ASINStats
	err := r.db.GetContext(ctx, &st, `
		SELECT asin, snapshot_count, avg_price, price_stddev, min_price, max_price,
			avg_rank, best_rank, worst_rank, reviews_gained, out_of_stock_count
		FROM mv_asin_stats_30d
		WHERE asin = $1`, asin)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get 30d stats for %s: %w", asin, err)
	}
	return &st, nil
}
