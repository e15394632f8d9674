package scoring

// Band maps a threshold to the points awarded at or above it. Bands are
// evaluated in declared order; the first match wins.
type Band struct {
	Threshold float64 `json:"threshold"`
	Points    int     `json:"points"`
}

// firstAtOrAbove returns the points of the first band whose threshold
// the value meets or exceeds.
func firstAtOrAbove(bands []Band, v float64) int {
	for _, b := range bands {
		if v >= b.Threshold {
			return b.Points
		}
	}
	return 0
}

// firstAtOrBelow returns the points of the first band whose threshold
// the value is at or below. Used for lower-is-better inputs (sales
// rank, seller count, review gap).
func firstAtOrBelow(bands []Band, v float64) int {
	for _, b := range bands {
		if v <= b.Threshold {
			return b.Points
		}
	}
	return 0
}

// MarginCalibration prices the unit economics behind the margin component.
type MarginCalibration struct {
	MaxPoints int `json:"max_points"`

	// Net-margin bands, highest first.
	Bands []Band `json:"bands"`

	FBAFeePercent         float64 `json:"fba_fee_percent"`
	FBAFeeMinimum         float64 `json:"fba_fee_minimum"`
	ReferralPercent       float64 `json:"referral_percent"`
	ShippingPerUnit       float64 `json:"shipping_per_unit"`
	ReturnRate            float64 `json:"return_rate"`
	PPCPercentOfRevenue   float64 `json:"ppc_percent_of_revenue"`
	StorageMonthlyPerUnit float64 `json:"storage_monthly_per_unit"`
	StorageMonthsHeld     float64 `json:"storage_months_held"`
}

// VelocityCalibration grades sales volume and momentum.
type VelocityCalibration struct {
	MaxPoints int `json:"max_points"`

	// Absolute rank tier, lowest rank first (lower is better).
	RankBands []Band `json:"rank_bands"`
	// 7d and 30d rank change as a fraction; negative = improving.
	RankDelta7dBands     []Band `json:"rank_delta_7d_bands"`
	RankDelta30dBands    []Band `json:"rank_delta_30d_bands"`
	ReviewsPerMonthBands []Band `json:"reviews_per_month_bands"`

	StagnantPenalty      int     `json:"stagnant_penalty"`
	StagnantDelta7dMax   float64 `json:"stagnant_delta_7d_max"`
	StagnantDelta30dMax  float64 `json:"stagnant_delta_30d_max"`
	StagnantReviewsFloor float64 `json:"stagnant_reviews_floor"`
}

// CompetitionCalibration grades how open the listing is.
type CompetitionCalibration struct {
	MaxPoints int `json:"max_points"`

	SellerCountBands    []Band `json:"seller_count_bands"`
	BuyboxRotationBands []Band `json:"buybox_rotation_bands"`
	ReviewGapBands      []Band `json:"review_gap_bands"`

	NoBrandDominanceBonus int `json:"no_brand_dominance_bonus"`
	AmazonBasicsPenalty   int `json:"amazon_basics_penalty"`
}

// GapCalibration grades the unmet-need amplifier.
type GapCalibration struct {
	MaxPoints int `json:"max_points"`

	NegativeReviewBands        []Band  `json:"negative_review_bands"`
	WishMentionsPer100Bands    []Band  `json:"wish_mentions_per_100_bands"`
	UnansweredQuestionsBands   []Band  `json:"unanswered_questions_bands"`
	RecurringProblemMultiplier float64 `json:"recurring_problem_multiplier"`
}

// TimePressureCalibration grades the urgency evidence. MinimumValid is
// the hard gate: below it the product is rejected outright.
type TimePressureCalibration struct {
	MaxPoints    int `json:"max_points"`
	MinimumValid int `json:"minimum_valid"`

	StockoutBands     []Band `json:"stockout_bands"`
	PriceTrendBands   []Band `json:"price_trend_bands"`
	SellerChurnBands  []Band `json:"seller_churn_bands"`
	AccelerationBands []Band `json:"acceleration_bands"`
}

// MultiplierCalibration holds the four factor tables feeding the
// geometric-mean time multiplier, plus the window buckets.
type MultiplierCalibration struct {
	// Stockouts per month.
	StockoutHigh float64 `json:"stockout_high"` // >= → 1.5
	StockoutMid  float64 `json:"stockout_mid"`  // >= → 1.2
	StockoutLow  float64 `json:"stockout_low"`  // >= → 1.0, else 0.8

	// Seller churn rate over 90d.
	ChurnHigh float64 `json:"churn_high"` // > → 1.4
	ChurnMid  float64 `json:"churn_mid"`  // > → 1.2
	ChurnLow  float64 `json:"churn_low"`  // > → 1.0, else 0.8

	// Price coefficient of variation.
	VolatilityHigh float64 `json:"volatility_high"` // > → 1.3
	VolatilityMid  float64 `json:"volatility_mid"`  // > → 1.1, else 1.0

	// Rank acceleration; positive = improvement accelerating.
	AccelHigh float64 `json:"accel_high"` // > → 1.4
	AccelMid  float64 `json:"accel_mid"`  // > → 1.2
	AccelLow  float64 `json:"accel_low"`  // > → 1.0, else 0.8

	MinMultiplier float64 `json:"min_multiplier"`
	MaxMultiplier float64 `json:"max_multiplier"`
}

// EconomicsCalibration feeds the value estimates.
type EconomicsCalibration struct {
	// COGS fallback when no supplier quote exists: price divided by
	// this ratio, plus flat shipping.
	COGSPriceRatio   float64 `json:"cogs_price_ratio"`
	COGSShippingFlat float64 `json:"cogs_shipping_flat"`

	FBAFeePercent   float64 `json:"fba_fee_percent"`
	FBAFeeMinimum   float64 `json:"fba_fee_minimum"`
	ReferralPercent float64 `json:"referral_percent"`
	PPCPercent      float64 `json:"ppc_percent"`
	ReturnPercent   float64 `json:"return_percent"`

	RiskFactor float64 `json:"risk_factor"`

	// Rank tier → estimated monthly units, lowest rank first.
	UnitTiers []UnitTier `json:"unit_tiers"`
	UnitFloor int        `json:"unit_floor"`

	// Review-intelligence rank bonus weight.
	ImprovementBonusWeight float64 `json:"improvement_bonus_weight"`
}

// UnitTier maps a maximum sales rank to estimated monthly units.
type UnitTier struct {
	RankMax int64 `json:"rank_max"`
	Units   int   `json:"units"`
}

// Calibration is the frozen scoring configuration. One instance is
// built at startup, serialized into the run's config snapshot, and
// passed by reference to the scorer. Never mutate a shared one.
type Calibration struct {
	Version string `json:"version"`

	Margin       MarginCalibration       `json:"margin"`
	Velocity     VelocityCalibration     `json:"velocity"`
	Competition  CompetitionCalibration  `json:"competition"`
	Gap          GapCalibration          `json:"gap"`
	TimePressure TimePressureCalibration `json:"time_pressure"`
	Multiplier   MultiplierCalibration   `json:"multiplier"`
	Economics    EconomicsCalibration    `json:"economics"`
}

// MaxBasePoints is the denominator normalizing the four value
// components into the [0,1] base score. Time pressure gates and
// multiplies instead of adding.
func (c *Calibration) MaxBasePoints() int {
	return c.Margin.MaxPoints + c.Velocity.MaxPoints + c.Competition.MaxPoints + c.Gap.MaxPoints
}

// DefaultCalibration is the car-phone-mount niche calibration.
func DefaultCalibration() *Calibration {
	return &Calibration{
		Version: "v2.1",
		Margin: MarginCalibration{
			MaxPoints: 30,
			Bands: []Band{
				{Threshold: 0.35, Points: 30},
				{Threshold: 0.25, Points: 20},
				{Threshold: 0.15, Points: 10},
			},
			FBAFeePercent:         0.15,
			FBAFeeMinimum:         3.00,
			ReferralPercent:       0.15,
			ShippingPerUnit:       4.00,
			ReturnRate:            0.03,
			PPCPercentOfRevenue:   0.10,
			StorageMonthlyPerUnit: 0.15,
			StorageMonthsHeld:     2,
		},
		Velocity: VelocityCalibration{
			MaxPoints: 25,
			RankBands: []Band{
				{Threshold: 5_000, Points: 10},
				{Threshold: 20_000, Points: 7},
				{Threshold: 50_000, Points: 4},
				{Threshold: 100_000, Points: 2},
			},
			RankDelta7dBands: []Band{
				{Threshold: -0.30, Points: 8},
				{Threshold: -0.15, Points: 6},
				{Threshold: -0.05, Points: 4},
				{Threshold: 0.05, Points: 2},
				{Threshold: 0.15, Points: 1},
			},
			RankDelta30dBands: []Band{
				{Threshold: -0.20, Points: 4},
				{Threshold: -0.05, Points: 3},
				{Threshold: 0.10, Points: 2},
				{Threshold: 0.30, Points: 1},
			},
			ReviewsPerMonthBands: []Band{
				{Threshold: 50, Points: 3},
				{Threshold: 20, Points: 2},
				{Threshold: 5, Points: 1},
			},
			StagnantPenalty:      -3,
			StagnantDelta7dMax:   0.05,
			StagnantDelta30dMax:  0.10,
			StagnantReviewsFloor: 5,
		},
		Competition: CompetitionCalibration{
			MaxPoints: 20,
			SellerCountBands: []Band{
				{Threshold: 3, Points: 8},
				{Threshold: 5, Points: 6},
				{Threshold: 10, Points: 4},
				{Threshold: 20, Points: 2},
			},
			BuyboxRotationBands: []Band{
				{Threshold: 0.40, Points: 6},
				{Threshold: 0.25, Points: 4},
				{Threshold: 0.10, Points: 2},
			},
			ReviewGapBands: []Band{
				{Threshold: 0.30, Points: 6},
				{Threshold: 0.50, Points: 4},
				{Threshold: 0.70, Points: 2},
			},
			NoBrandDominanceBonus: 2,
			AmazonBasicsPenalty:   -4,
		},
		Gap: GapCalibration{
			MaxPoints: 15,
			NegativeReviewBands: []Band{
				{Threshold: 0.25, Points: 6},
				{Threshold: 0.15, Points: 4},
				{Threshold: 0.08, Points: 2},
			},
			WishMentionsPer100Bands: []Band{
				{Threshold: 10, Points: 5},
				{Threshold: 5, Points: 3},
				{Threshold: 2, Points: 1},
			},
			UnansweredQuestionsBands: []Band{
				{Threshold: 20, Points: 4},
				{Threshold: 10, Points: 3},
				{Threshold: 5, Points: 2},
				{Threshold: 2, Points: 1},
			},
			RecurringProblemMultiplier: 1.3,
		},
		TimePressure: TimePressureCalibration{
			MaxPoints:    10,
			MinimumValid: 3,
			StockoutBands: []Band{
				{Threshold: 5, Points: 3},
				{Threshold: 3, Points: 2},
				{Threshold: 1, Points: 1},
			},
			PriceTrendBands: []Band{
				{Threshold: 0.15, Points: 3},
				{Threshold: 0.05, Points: 2},
				{Threshold: 0.00, Points: 1},
				{Threshold: -0.10, Points: 0},
				{Threshold: -1.00, Points: -1},
			},
			SellerChurnBands: []Band{
				{Threshold: 3, Points: 2},
				{Threshold: 1, Points: 1},
			},
			AccelerationBands: []Band{
				{Threshold: 0.20, Points: 2},
				{Threshold: 0.05, Points: 1},
			},
		},
		Multiplier: MultiplierCalibration{
			StockoutHigh:   3,
			StockoutMid:    1,
			StockoutLow:    0.5,
			ChurnHigh:      0.30,
			ChurnMid:       0.20,
			ChurnLow:       0.10,
			VolatilityHigh: 0.20,
			VolatilityMid:  0.10,
			AccelHigh:      0.10,
			AccelMid:       0,
			AccelLow:       -0.05,
			MinMultiplier:  0.5,
			MaxMultiplier:  2.0,
		},
		Economics: EconomicsCalibration{
			COGSPriceRatio:   5,
			COGSShippingFlat: 3.00,
			FBAFeePercent:    0.15,
			FBAFeeMinimum:    3.00,
			ReferralPercent:  0.15,
			PPCPercent:       0.10,
			ReturnPercent:    0.05,
			RiskFactor:       0.3,
			UnitTiers: []UnitTier{
				{RankMax: 1_000, Units: 300},
				{RankMax: 5_000, Units: 150},
				{RankMax: 20_000, Units: 80},
				{RankMax: 50_000, Units: 40},
				{RankMax: 100_000, Units: 20},
			},
			UnitFloor:              10,
			ImprovementBonusWeight: 0.2,
		},
	}
}
