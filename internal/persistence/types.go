package persistence

import (
	"time"
)

// StockStatus is the enumerated availability state captured per snapshot.
type StockStatus string

const (
	StockInStock     StockStatus = "in_stock"
	StockLowStock    StockStatus = "low_stock"
	StockOutOfStock  StockStatus = "out_of_stock"
	StockBackOrdered StockStatus = "back_ordered"
	StockUnknown     StockStatus = "unknown"
)

// Fulfillment is who ships the buy-box offer.
type Fulfillment string

const (
	FulfillmentFBA        Fulfillment = "fba"
	FulfillmentFBM        Fulfillment = "fbm"
	FulfillmentFirstParty Fulfillment = "first_party"
	FulfillmentUnknown    Fulfillment = "unknown"
)

// Product is a catalog row. Created on first discovery, upserted on
// every subsequent sighting, never physically deleted.
type Product struct {
	ASIN             string     `json:"asin" db:"asin"`
	Title            *string    `json:"title,omitempty" db:"title"`
	Brand            *string    `json:"brand,omitempty" db:"brand"`
	Manufacturer     *string    `json:"manufacturer,omitempty" db:"manufacturer"`
	CategoryID       *int64     `json:"category_id,omitempty" db:"category_id"`
	CategoryPath     []string   `json:"category_path,omitempty" db:"-"`
	DimensionsJSON   []byte     `json:"-" db:"dimensions"`
	Active           bool       `json:"active" db:"active"`
	TrackingPriority int        `json:"tracking_priority" db:"tracking_priority"`
	FirstSeenAt      time.Time  `json:"first_seen_at" db:"first_seen_at"`
	LastSeenAt       time.Time  `json:"last_seen_at" db:"last_seen_at"`
	LastUpdatedAt    time.Time  `json:"last_updated_at" db:"last_updated_at"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// Snapshot is one timestamped observation of a product's market-visible
// fields. Append-only; the delta fields are computed at insert time by
// the store, never supplied by callers.
type Snapshot struct {
	ASIN       string    `json:"asin" db:"asin"`
	CapturedAt time.Time `json:"captured_at" db:"captured_at"`
	SessionID  string    `json:"session_id" db:"session_id"`

	PriceCurrent    *float64 `json:"price_current,omitempty" db:"price_current"`
	PriceList       *float64 `json:"price_list,omitempty" db:"price_list"`
	PriceLowestNew  *float64 `json:"price_lowest_new,omitempty" db:"price_lowest_new"`
	PriceLowestUsed *float64 `json:"price_lowest_used,omitempty" db:"price_lowest_used"`
	Currency        string   `json:"currency" db:"currency"`
	CouponPercent   *float64 `json:"coupon_percent,omitempty" db:"coupon_percent"`
	CouponFixed     *float64 `json:"coupon_fixed,omitempty" db:"coupon_fixed"`

	PrimaryRank         *int64  `json:"primary_rank,omitempty" db:"primary_rank"`
	PrimaryRankCategory *string `json:"primary_rank_category,omitempty" db:"primary_rank_category"`
	SecondaryRank       *int64  `json:"secondary_rank,omitempty" db:"secondary_rank"`

	StockStatus StockStatus `json:"stock_status" db:"stock_status"`
	StockQty    *int        `json:"stock_qty,omitempty" db:"stock_qty"`
	SellerCount *int        `json:"seller_count,omitempty" db:"seller_count"`
	Fulfillment Fulfillment `json:"fulfillment" db:"fulfillment"`

	RatingAvg   *float64 `json:"rating_avg,omitempty" db:"rating_avg"`
	RatingCount *int64   `json:"rating_count,omitempty" db:"rating_count"`
	ReviewCount *int64   `json:"review_count,omitempty" db:"review_count"`
	StarPct1    *float64 `json:"star_pct_1,omitempty" db:"star_pct_1"`
	StarPct2    *float64 `json:"star_pct_2,omitempty" db:"star_pct_2"`
	StarPct3    *float64 `json:"star_pct_3,omitempty" db:"star_pct_3"`
	StarPct4    *float64 `json:"star_pct_4,omitempty" db:"star_pct_4"`
	StarPct5    *float64 `json:"star_pct_5,omitempty" db:"star_pct_5"`

	PriceDelta        *float64 `json:"price_delta,omitempty" db:"price_delta"`
	PriceDeltaPercent *float64 `json:"price_delta_percent,omitempty" db:"price_delta_percent"`
	RankDelta         *int64   `json:"rank_delta,omitempty" db:"rank_delta"`
	RankDeltaPercent  *float64 `json:"rank_delta_percent,omitempty" db:"rank_delta_percent"`
	ReviewCountDelta  *int64   `json:"review_count_delta,omitempty" db:"review_count_delta"`
}

// EventDirection is the sign of a price or rank move.
type EventDirection string

const (
	DirectionUp     EventDirection = "up"
	DirectionDown   EventDirection = "down"
	DirectionStable EventDirection = "stable"
)

// EventSeverity grades raw snapshot-delta events. Distinct from the
// opportunity urgency labels used by the scorer.
type EventSeverity string

const (
	SeverityLow      EventSeverity = "low"
	SeverityMedium   EventSeverity = "medium"
	SeverityHigh     EventSeverity = "high"
	SeverityCritical EventSeverity = "critical"
)

// PriceEvent is emitted when a snapshot's price moved materially vs.
// its predecessor. Unique per (asin, snapshot_before_at, snapshot_after_at).
type PriceEvent struct {
	ID               int64          `json:"id" db:"id"`
	ASIN             string         `json:"asin" db:"asin"`
	DetectedAt       time.Time      `json:"detected_at" db:"detected_at"`
	PriceBefore      float64        `json:"price_before" db:"price_before"`
	PriceAfter       float64        `json:"price_after" db:"price_after"`
	ChangeAbsolute   float64        `json:"change_absolute" db:"change_absolute"`
	ChangePercent    float64        `json:"change_percent" db:"change_percent"`
	Direction        EventDirection `json:"direction" db:"direction"`
	Severity         EventSeverity  `json:"severity" db:"severity"`
	IsDeal           bool           `json:"is_deal" db:"is_deal"`
	SnapshotBeforeAt time.Time      `json:"snapshot_before_at" db:"snapshot_before_at"`
	SnapshotAfterAt  time.Time      `json:"snapshot_after_at" db:"snapshot_after_at"`
}

// RankEvent is emitted on a material sales-rank move. Direction "up"
// means the rank number got lower, i.e. the product improved.
type RankEvent struct {
	ID               int64          `json:"id" db:"id"`
	ASIN             string         `json:"asin" db:"asin"`
	DetectedAt       time.Time      `json:"detected_at" db:"detected_at"`
	RankBefore       int64          `json:"rank_before" db:"rank_before"`
	RankAfter        int64          `json:"rank_after" db:"rank_after"`
	ChangeAbsolute   int64          `json:"change_absolute" db:"change_absolute"`
	ChangePercent    float64        `json:"change_percent" db:"change_percent"`
	Direction        EventDirection `json:"direction" db:"direction"`
	Severity         EventSeverity  `json:"severity" db:"severity"`
	Sustained        bool           `json:"sustained" db:"sustained"`
	SnapshotBeforeAt time.Time      `json:"snapshot_before_at" db:"snapshot_before_at"`
	SnapshotAfterAt  time.Time      `json:"snapshot_after_at" db:"snapshot_after_at"`
}

// StockEventKind classifies an availability transition.
type StockEventKind string

const (
	StockEventStockout      StockEventKind = "stockout"
	StockEventRestock       StockEventKind = "restock"
	StockEventLowStockAlert StockEventKind = "low_stock_alert"
	StockEventStatusChange  StockEventKind = "status_change"
)

// StockEvent is emitted whenever the stock status changes between
// consecutive snapshots.
type StockEvent struct {
	ID               int64          `json:"id" db:"id"`
	ASIN             string         `json:"asin" db:"asin"`
	DetectedAt       time.Time      `json:"detected_at" db:"detected_at"`
	StatusBefore     StockStatus    `json:"status_before" db:"status_before"`
	StatusAfter      StockStatus    `json:"status_after" db:"status_after"`
	QtyBefore        *int           `json:"qty_before,omitempty" db:"qty_before"`
	QtyAfter         *int           `json:"qty_after,omitempty" db:"qty_after"`
	Kind             StockEventKind `json:"kind" db:"kind"`
	Severity         EventSeverity  `json:"severity" db:"severity"`
	StockoutStartAt  *time.Time     `json:"stockout_start_at,omitempty" db:"stockout_start_at"`
	DurationHours    *float64       `json:"duration_hours,omitempty" db:"duration_hours"`
	SnapshotBeforeAt time.Time      `json:"snapshot_before_at" db:"snapshot_before_at"`
	SnapshotAfterAt  time.Time      `json:"snapshot_after_at" db:"snapshot_after_at"`
}

// Review is an externally sourced customer review.
type Review struct {
	ReviewID   string     `json:"review_id" db:"review_id"`
	ASIN       string     `json:"asin" db:"asin"`
	Title      *string    `json:"title,omitempty" db:"title"`
	Body       string     `json:"body" db:"body"`
	Rating     int        `json:"rating" db:"rating"`
	Verified   bool       `json:"verified" db:"verified"`
	ReviewDate *time.Time `json:"review_date,omitempty" db:"review_date"`
	CapturedAt time.Time  `json:"captured_at" db:"captured_at"`
	AnalyzedAt *time.Time `json:"analyzed_at,omitempty" db:"analyzed_at"`
}

// DefectType is the closed enumeration of recognized product defects.
// The store rejects values outside this set.
type DefectType string

const (
	DefectMechanicalFailure  DefectType = "mechanical_failure"
	DefectPoorGrip           DefectType = "poor_grip"
	DefectDurability         DefectType = "durability"
	DefectCompatibilityIssue DefectType = "compatibility_issue"
	DefectHeatIssue          DefectType = "heat_issue"
	DefectInstallationIssue  DefectType = "installation_issue"
	DefectVibrationNoise     DefectType = "vibration_noise"
	DefectMaterialQuality    DefectType = "material_quality"
	DefectSizeFit            DefectType = "size_fit"
)

// DefectTypes lists every valid DefectType in severity-weight order.
func DefectTypes() []DefectType {
	return []DefectType{
		DefectMechanicalFailure,
		DefectPoorGrip,
		DefectDurability,
		DefectCompatibilityIssue,
		DefectHeatIssue,
		DefectInstallationIssue,
		DefectVibrationNoise,
		DefectMaterialQuality,
		DefectSizeFit,
	}
}

// ValidDefectType reports whether t belongs to the closed set.
func ValidDefectType(t DefectType) bool {
	for _, d := range DefectTypes() {
		if d == t {
			return true
		}
	}
	return false
}

// ReviewDefectSignal is one extracted defect aggregate per product per run.
type ReviewDefectSignal struct {
	ID              int64      `json:"id" db:"id"`
	ASIN            string     `json:"asin" db:"asin"`
	RunID           string     `json:"run_id" db:"run_id"`
	DefectType      DefectType `json:"defect_type" db:"defect_type"`
	Frequency       int        `json:"frequency" db:"frequency"`
	SeverityScore   float64    `json:"severity_score" db:"severity_score"`
	ExampleQuotes   []string   `json:"example_quotes" db:"-"`
	ReviewsScanned  int        `json:"reviews_scanned" db:"reviews_scanned"`
	NegativeScanned int        `json:"negative_scanned" db:"negative_scanned"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
}

// ReviewFeatureRequest is one normalized wish phrase per product per run.
type ReviewFeatureRequest struct {
	ID           int64     `json:"id" db:"id"`
	ASIN         string    `json:"asin" db:"asin"`
	RunID        string    `json:"run_id" db:"run_id"`
	Phrase       string    `json:"phrase" db:"phrase"`
	MentionCount int       `json:"mention_count" db:"mention_count"`
	Confidence   float64   `json:"confidence" db:"confidence"`
	SourceQuotes []string  `json:"source_quotes" db:"-"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// ImprovementProfile is the per-(product, run) roll-up of review signals.
type ImprovementProfile struct {
	ASIN             string      `json:"asin" db:"asin"`
	RunID            string      `json:"run_id" db:"run_id"`
	TopDefects       []byte      `json:"-" db:"top_defects"`
	MissingFeatures  []byte      `json:"-" db:"missing_features"`
	DominantPain     *DefectType `json:"dominant_pain,omitempty" db:"dominant_pain"`
	ImprovementScore float64     `json:"improvement_score" db:"improvement_score"`
	ReviewsAnalyzed  int         `json:"reviews_analyzed" db:"reviews_analyzed"`
	NegativeAnalyzed int         `json:"negative_analyzed" db:"negative_analyzed"`
	ReviewsReady     bool        `json:"reviews_ready" db:"reviews_ready"`
	CreatedAt        time.Time   `json:"created_at" db:"created_at"`
}

// RunStatus is the terminal (or current) state of a pipeline run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunDegraded  RunStatus = "degraded"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// PipelineRun is the per-invocation audit row.
type PipelineRun struct {
	RunID     string     `json:"run_id" db:"run_id"`
	Status    RunStatus  `json:"status" db:"status"`
	StartedAt time.Time  `json:"started_at" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	ASINsTotal   int `json:"asins_total" db:"asins_total"`
	ASINsOK      int `json:"asins_ok" db:"asins_ok"`
	ASINsFailed  int `json:"asins_failed" db:"asins_failed"`
	ASINsSkipped int `json:"asins_skipped" db:"asins_skipped"`

	PhaseTimings   []byte `json:"-" db:"phase_timings"`
	TokensConsumed int    `json:"tokens_consumed" db:"tokens_consumed"`

	PriceMissingPct  float64 `json:"price_missing_pct" db:"price_missing_pct"`
	RankMissingPct   float64 `json:"rank_missing_pct" db:"rank_missing_pct"`
	ReviewMissingPct float64 `json:"review_missing_pct" db:"review_missing_pct"`
	DQPassed         bool    `json:"dq_passed" db:"dq_passed"`

	ErrorRate           float64 `json:"error_rate" db:"error_rate"`
	ErrorBudgetBreached bool    `json:"error_budget_breached" db:"error_budget_breached"`
	ShortlistFrozen     bool    `json:"shortlist_frozen" db:"shortlist_frozen"`

	ConfigSnapshot []byte  `json:"-" db:"config_snapshot"`
	ErrorMessage   *string `json:"error_message,omitempty" db:"error_message"`
	FailedASINs    []byte  `json:"-" db:"failed_asins"`
}

// OpportunityArtifact is the immutable per-(run, product) scoring record.
type OpportunityArtifact struct {
	ID        int64     `json:"id" db:"id"`
	RunID     string    `json:"run_id" db:"run_id"`
	ASIN      string    `json:"asin" db:"asin"`
	RankInRun int       `json:"rank_in_run" db:"rank_in_run"`

	FinalScore     int     `json:"final_score" db:"final_score"`
	BaseScore      float64 `json:"base_score" db:"base_score"`
	TimeMultiplier float64 `json:"time_multiplier" db:"time_multiplier"`

	Components     []byte `json:"-" db:"components"`
	TimeFactors    []byte `json:"-" db:"time_factors"`
	SignalsFor     []byte `json:"-" db:"signals_for"`
	SignalsAgainst []byte `json:"-" db:"signals_against"`

	Thesis string `json:"thesis" db:"thesis"`
	Action string `json:"action" db:"action"`

	MonthlyProfit     float64 `json:"monthly_profit" db:"monthly_profit"`
	AnnualValue       float64 `json:"annual_value" db:"annual_value"`
	RiskAdjustedValue float64 `json:"risk_adjusted_value" db:"risk_adjusted_value"`
	RankScore         float64 `json:"rank_score" db:"rank_score"`

	WindowDays   int    `json:"window_days" db:"window_days"`
	UrgencyLabel string `json:"urgency_label" db:"urgency_label"`

	Rejected        bool    `json:"rejected" db:"rejected"`
	RejectionReason *string `json:"rejection_reason,omitempty" db:"rejection_reason"`

	InputsHash string `json:"inputs_hash" db:"inputs_hash"`

	PriceAtScoring   *float64 `json:"price_at_scoring,omitempty" db:"price_at_scoring"`
	ReviewsAtScoring *int64   `json:"reviews_at_scoring,omitempty" db:"reviews_at_scoring"`
	RatingAtScoring  *float64 `json:"rating_at_scoring,omitempty" db:"rating_at_scoring"`
	RankAtScoring    *int64   `json:"rank_at_scoring,omitempty" db:"rank_at_scoring"`

	ScoredAt time.Time `json:"scored_at" db:"scored_at"`
}

// ShortlistSnapshot is the per-run ordered selection. At most one row
// has Active = true at any moment, enforced by a partial unique index.
type ShortlistSnapshot struct {
	ID             int64     `json:"id" db:"id"`
	RunID          string    `json:"run_id" db:"run_id"`
	ASINs          []string  `json:"asins" db:"-"`
	Scores         []int     `json:"scores" db:"-"`
	TotalValue     float64   `json:"total_value" db:"total_value"`
	AddedASINs     []string  `json:"added_asins" db:"-"`
	RemovedASINs   []string  `json:"removed_asins" db:"-"`
	StabilityScore float64   `json:"stability_score" db:"stability_score"`
	Frozen         bool      `json:"frozen" db:"frozen"`
	Active         bool      `json:"active" db:"active"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// BudgetMonth is one row of the monthly external-API token ledger.
type BudgetMonth struct {
	MonthYear          string    `json:"month_year" db:"month_year"`
	MonthlyLimit       int       `json:"monthly_limit" db:"monthly_limit"`
	TokensUsed         int       `json:"tokens_used" db:"tokens_used"`
	TokensRemaining    int       `json:"tokens_remaining" db:"tokens_remaining"`
	DiscoveryAllocPct  int       `json:"discovery_allocation_pct" db:"discovery_allocation_pct"`
	ScanningAllocPct   int       `json:"scanning_allocation_pct" db:"scanning_allocation_pct"`
	RunsCompleted      int       `json:"runs_completed" db:"runs_completed"`
	CategoriesScanned  int       `json:"categories_scanned" db:"categories_scanned"`
	OpportunitiesFound int       `json:"opportunities_found" db:"opportunities_found"`
	UpdatedAt          time.Time `json:"updated_at" db:"updated_at"`
}

// MissingStats is the per-run data-quality measurement over the
// snapshots written by one session.
type MissingStats struct {
	Total         int     `json:"total"`
	PriceMissing  int     `json:"price_missing"`
	RankMissing   int     `json:"rank_missing"`
	ReviewMissing int     `json:"review_missing"`
	PricePct      float64 `json:"price_pct"`
	RankPct       float64 `json:"rank_pct"`
	ReviewPct     float64 `json:"review_pct"`
}
