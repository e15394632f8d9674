// Package persistence defines the storage contracts for the catalog,
// time-series, event, review, scoring and run-audit stores. Concrete
// implementations live in the postgres subpackage.
package persistence

import (
	"context"
	"time"
)

// CatalogRepo owns the stable product catalog.
type CatalogRepo interface {
	// UpsertProducts is idempotent: new ASINs are created, known ASINs
	// get their mutable attributes plus last_seen_at / last_updated_at
	// refreshed. Returns the number of rows written.
	UpsertProducts(ctx context.Context, products []Product) (int, error)

	// Get returns the catalog row for one ASIN, or ErrNotFound.
	Get(ctx context.Context, asin string) (*Product, error)

	// ListTracked returns active, non-deleted ASINs ordered by
	// tracking priority then ASIN, capped at limit.
	ListTracked(ctx context.Context, limit int) ([]string, error)

	// ListStale filters the given candidates down to those whose
	// last_updated_at is older than the threshold, preserving order.
	// ASINs unknown to the catalog are considered stale.
	ListStale(ctx context.Context, asins []string, olderThan time.Time) ([]string, error)

	// MarkDelisted soft-deletes a product.
	MarkDelisted(ctx context.Context, asin string) error
}

// SnapshotRepo owns the append-only per-product observation history.
type SnapshotRepo interface {
	// InsertSnapshots appends the batch. For each snapshot the repo,
	// within a single transaction per snapshot: loads the immediately
	// prior snapshot of the same ASIN, computes the three delta
	// fields, inserts the row, and emits any due price/rank/stock
	// event rows. Replayed snapshots (duplicate primary key) are
	// skipped silently. Returns inserted and skipped counts.
	InsertSnapshots(ctx context.Context, snapshots []Snapshot, sessionID string) (inserted, skipped int, err error)

	// Latest returns the most recent snapshot for the ASIN, or ErrNotFound.
	Latest(ctx context.Context, asin string) (*Snapshot, error)

	// Range returns snapshots for the ASIN within [from, to] ascending.
	Range(ctx context.Context, asin string, from, to time.Time) ([]Snapshot, error)

	// MissingStats measures price/rank/review-count missingness over
	// the snapshots written by one ingestion session.
	MissingStats(ctx context.Context, sessionID string) (*MissingStats, error)
}

// EventRepo reads the event tables written as a side effect of
// snapshot insertion and prunes them by retention.
type EventRepo interface {
	RecentPriceEvents(ctx context.Context, asin string, since time.Time) ([]PriceEvent, error)
	RecentRankEvents(ctx context.Context, asin string, since time.Time) ([]RankEvent, error)
	RecentStockEvents(ctx context.Context, asin string, since time.Time) ([]StockEvent, error)

	// StockoutCount counts stockout events for the ASIN since the cutoff.
	StockoutCount(ctx context.Context, asin string, since time.Time) (int, error)

	// Prune deletes event rows older than the cutoff in all three
	// tables, returning the total rows removed.
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

// ReviewRepo stores externally sourced reviews and the extractor's output.
type ReviewRepo interface {
	UpsertReviews(ctx context.Context, reviews []Review) (int, error)

	// NegativeReviews returns reviews with rating <= maxRating and a
	// non-empty body for the ASIN, newest first.
	NegativeReviews(ctx context.Context, asin string, maxRating int) ([]Review, error)

	MarkAnalyzed(ctx context.Context, reviewIDs []string, at time.Time) error

	InsertDefectSignals(ctx context.Context, signals []ReviewDefectSignal) error
	InsertFeatureRequests(ctx context.Context, requests []ReviewFeatureRequest) error
	UpsertProfile(ctx context.Context, profile *ImprovementProfile) error

	// Profile returns the most recent improvement profile for the ASIN,
	// or ErrNotFound.
	Profile(ctx context.Context, asin string) (*ImprovementProfile, error)
}

// RunRepo owns the pipeline_runs audit table.
type RunRepo interface {
	Create(ctx context.Context, run *PipelineRun) error
	Update(ctx context.Context, run *PipelineRun) error
	Get(ctx context.Context, runID string) (*PipelineRun, error)
	Latest(ctx context.Context) (*PipelineRun, error)
}

// ArtifactRepo owns the immutable per-(run, product) scoring artifacts.
type ArtifactRepo interface {
	InsertArtifacts(ctx context.Context, artifacts []OpportunityArtifact) (int, error)

	// ByRun returns a run's artifacts ordered by rank_in_run.
	ByRun(ctx context.Context, runID string) ([]OpportunityArtifact, error)

	// ActiveOpportunities returns non-rejected artifacts of the
	// currently active shortlist's run with final_score >= minScore.
	ActiveOpportunities(ctx context.Context, minScore, limit int) ([]OpportunityArtifact, error)
}

// ShortlistRepo owns shortlist snapshots and the single-active invariant.
type ShortlistRepo interface {
	// InsertSnapshot records the snapshot. When activate is true the
	// previously active row is deactivated and this one activated, in
	// one transaction.
	InsertSnapshot(ctx context.Context, snap *ShortlistSnapshot, activate bool) error

	Active(ctx context.Context) (*ShortlistSnapshot, error)
	LatestCompleted(ctx context.Context) (*ShortlistSnapshot, error)
}

// BudgetRepo owns the monthly token ledger.
type BudgetRepo interface {
	EnsureMonth(ctx context.Context, month string, monthlyLimit, discoveryPct, scanningPct int) error
	GetMonth(ctx context.Context, month string) (*BudgetMonth, error)
	AddUsage(ctx context.Context, month string, tokens int) (remaining int, err error)
	RecordRun(ctx context.Context, month string, tokens, categories, opportunities int) error
}

// AggregateRepo refreshes the derived materialized views.
type AggregateRepo interface {
	// RefreshAggregates refreshes the latest-snapshot, 7-day and
	// 30-day stats views without blocking readers.
	RefreshAggregates(ctx context.Context) error

	// Stats30d returns the rolling 30-day aggregate row for an ASIN,
	// or ErrNotFound when the ASIN has no history in the window.
	Stats30d(ctx context.Context, asin string) (*ASINStats, error)
}

// ASINStats is one row of the mv_asin_stats_30d view.
type ASINStats struct {
	ASIN            string   `json:"asin" db:"asin"`
	SnapshotCount   int      `json:"snapshot_count" db:"snapshot_count"`
	AvgPrice        *float64 `json:"avg_price,omitempty" db:"avg_price"`
	PriceStddev     *float64 `json:"price_stddev,omitempty" db:"price_stddev"`
	MinPrice        *float64 `json:"min_price,omitempty" db:"min_price"`
	MaxPrice        *float64 `json:"max_price,omitempty" db:"max_price"`
	AvgRank         *float64 `json:"avg_rank,omitempty" db:"avg_rank"`
	BestRank        *int64   `json:"best_rank,omitempty" db:"best_rank"`
	WorstRank       *int64   `json:"worst_rank,omitempty" db:"worst_rank"`
	ReviewsGained   *int64   `json:"reviews_gained,omitempty" db:"reviews_gained"`
	OutOfStockCount int      `json:"out_of_stock_count" db:"out_of_stock_count"`
}

// Repository aggregates every store the pipeline needs.
type Repository interface {
	Catalog() CatalogRepo
	Snapshots() SnapshotRepo
	Events() EventRepo
	Reviews() ReviewRepo
	Runs() RunRepo
	Artifacts() ArtifactRepo
	Shortlists() ShortlistRepo
	Budget() BudgetRepo
	Aggregates() AggregateRepo

	// Health pings the backing store.
	Health(ctx context.Context) error

	Close() error
}
