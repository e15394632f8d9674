package scoring

// Inputs is the complete, explicit tuple the scorer consumes for one
// product. Everything is plain data: given the same Inputs and the
// same Calibration, the scorer produces the same Opportunity.
type Inputs struct {
	ASIN string `json:"asin"`

	// Market-visible context.
	Price       float64  `json:"price"`
	RankCurrent int64    `json:"rank_current"`
	ReviewCount *int64   `json:"review_count,omitempty"`
	RatingAvg   *float64 `json:"rating_avg,omitempty"`

	// Supplier cost. Zero means no quote; the scorer falls back to the
	// calibrated price-ratio heuristic.
	SupplierUnitCost float64 `json:"supplier_unit_cost,omitempty"`

	// Momentum, as fractions of the earlier value. Negative rank delta
	// means the rank number dropped, i.e. sales improved.
	RankDelta7d     float64 `json:"rank_delta_7d"`
	RankDelta30d    float64 `json:"rank_delta_30d"`
	ReviewsPerMonth float64 `json:"reviews_per_month"`

	// Competition shape.
	SellerCount       int     `json:"seller_count"`
	BuyboxRotation    float64 `json:"buybox_rotation"`
	ReviewGapVsTop10  float64 `json:"review_gap_vs_top10"`
	HasAmazonBasics   bool    `json:"has_amazon_basics"`
	HasBrandDominance bool    `json:"has_brand_dominance"`

	// Unmet-need evidence.
	NegativeReviewPercent float64 `json:"negative_review_percent"`
	WishMentionsPer100    float64 `json:"wish_mentions_per_100"`
	UnansweredQuestions   int     `json:"unanswered_questions"`
	HasRecurringProblems  bool    `json:"has_recurring_problems"`

	// Urgency evidence.
	StockoutCount90d    int     `json:"stockout_count_90d"`
	PriceTrend30d       float64 `json:"price_trend_30d"`
	SellerDepartures90d int     `json:"seller_departures_90d"`
	RankAcceleration    float64 `json:"rank_acceleration"`

	// Time-multiplier dynamics.
	StockoutsPerMonth float64 `json:"stockouts_per_month"`
	SellerChurnRate   float64 `json:"seller_churn_rate"`
	PriceVolatility   float64 `json:"price_volatility"`

	// Review-intelligence rank bonus, zero unless the product's
	// improvement profile cleared the readiness floor.
	ImprovementScore float64 `json:"improvement_score"`
}
