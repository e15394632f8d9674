// Package scoring turns a product's market observations into a
// deterministic opportunity score: five capped components, a
// geometric-mean time multiplier, a window classification and an
// economic value estimate. Same inputs + same calibration = same
// output, bit for bit.
package scoring

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// RejectionNoWindow is the reason code for the time-pressure hard gate.
const RejectionNoWindow = "invalid_no_window"

// Window classifies the expected opportunity lifetime. This vocabulary
// belongs to opportunities; event urgency uses its own.
type Window string

const (
	WindowCritical Window = "critical"
	WindowUrgent   Window = "urgent"
	WindowActive   Window = "active"
	WindowStandard Window = "standard"
	WindowExtended Window = "extended"
)

// Days is the estimated actionable window length.
func (w Window) Days() int {
	switch w {
	case WindowCritical:
		return 14
	case WindowUrgent:
		return 30
	case WindowActive:
		return 60
	case WindowStandard:
		return 90
	default:
		return 180
	}
}

// Weight is the ranking multiplier applied to risk-adjusted value.
func (w Window) Weight() float64 {
	switch w {
	case WindowCritical:
		return 2.0
	case WindowUrgent:
		return 1.5
	case WindowActive:
		return 1.2
	case WindowStandard:
		return 1.0
	default:
		return 0.7
	}
}

// TimeFactors are the four urgency factors and their geometric mean.
type TimeFactors struct {
	Stockout         float64 `json:"stockout"`
	SellerChurn      float64 `json:"seller_churn"`
	PriceVolatility  float64 `json:"price_volatility"`
	RankAcceleration float64 `json:"rank_acceleration"`
	GeometricMean    float64 `json:"geometric_mean"`
}

// Economics is the value estimate attached to an opportunity.
type Economics struct {
	MonthlyUnits      int             `json:"monthly_units"`
	MonthlyProfit     decimal.Decimal `json:"monthly_profit"`
	AnnualValue       decimal.Decimal `json:"annual_value"`
	RiskAdjustedValue decimal.Decimal `json:"risk_adjusted_value"`
}

// Opportunity is the full scoring outcome for one product.
type Opportunity struct {
	ASIN string `json:"asin"`

	BaseScore      float64 `json:"base_score"`
	TimeMultiplier float64 `json:"time_multiplier"`
	FinalScore     int     `json:"final_score"`

	Components  []ComponentScore `json:"components"`
	TimeFactors TimeFactors      `json:"time_factors"`

	Window       Window `json:"window"`
	WindowDays   int    `json:"window_days"`
	UrgencyLabel string `json:"urgency_label"`

	Economics Economics `json:"economics"`
	RankScore float64   `json:"rank_score"`

	Thesis         string   `json:"thesis"`
	Action         string   `json:"action"`
	SignalsFor     []string `json:"signals_for"`
	SignalsAgainst []string `json:"signals_against"`

	Rejected        bool   `json:"rejected"`
	RejectionReason string `json:"rejection_reason,omitempty"`

	InputsHash string    `json:"inputs_hash"`
	ScoredAt   time.Time `json:"scored_at"`

	// Product context at scoring time, carried onto the artifact.
	PriceAtScoring   float64  `json:"price_at_scoring"`
	RankAtScoring    int64    `json:"rank_at_scoring"`
	ReviewsAtScoring *int64   `json:"reviews_at_scoring,omitempty"`
	RatingAtScoring  *float64 `json:"rating_at_scoring,omitempty"`
}

// Component returns the named component score, or a zero value.
func (o *Opportunity) Component(name string) ComponentScore {
	for _, c := range o.Components {
		if c.Name == name {
			return c
		}
	}
	return ComponentScore{Name: name}
}

// Scorer applies one frozen calibration. Safe for concurrent use.
type Scorer struct {
	cal *Calibration
	now func() time.Time
}

// NewScorer builds a scorer over the calibration. A nil calibration
// selects the default.
func NewScorer(cal *Calibration) *Scorer {
	if cal == nil {
		cal = DefaultCalibration()
	}
	return &Scorer{cal: cal, now: time.Now}
}

// Calibration exposes the frozen configuration for snapshotting.
func (s *Scorer) Calibration() *Calibration { return s.cal }

// Score evaluates one product. Rejected opportunities carry their full
// breakdown for audit but must never reach an active shortlist.
func (s *Scorer) Score(in Inputs) *Opportunity {
	margin, netMargin := scoreMargin(&s.cal.Margin, &in)
	velocity := scoreVelocity(&s.cal.Velocity, &in)
	competition := scoreCompetition(&s.cal.Competition, &in)
	gap := scoreGap(&s.cal.Gap, &in)
	pressure := scoreTimePressure(&s.cal.TimePressure, &in)

	base := float64(margin.Score+velocity.Score+competition.Score+gap.Score) /
		float64(s.cal.MaxBasePoints())

	factors := s.timeFactors(&in)
	mult := clampF(factors.GeometricMean, s.cal.Multiplier.MinMultiplier, s.cal.Multiplier.MaxMultiplier)
	window := windowFor(mult)

	finalScore := int(math.Round(base * mult * 100))
	if finalScore > 100 {
		finalScore = 100
	}
	if finalScore < 0 {
		finalScore = 0
	}

	eco := s.estimateEconomics(&in)

	riskAdj, _ := eco.RiskAdjustedValue.Float64()
	rankScore := riskAdj * window.Weight()
	// The review-intelligence bonus is the only contribution allowed
	// outside the component caps.
	rankScore += in.ImprovementScore * s.cal.Economics.ImprovementBonusWeight * riskAdj

	opp := &Opportunity{
		ASIN:           in.ASIN,
		BaseScore:      base,
		TimeMultiplier: mult,
		FinalScore:     finalScore,
		Components:     []ComponentScore{margin, velocity, competition, gap, pressure},
		TimeFactors:    factors,
		Window:         window,
		WindowDays:     window.Days(),
		UrgencyLabel:   string(window),
		Economics:      eco,
		RankScore:      rankScore,
		InputsHash:     s.hashInputs(&in),
		ScoredAt:       s.now().UTC(),

		PriceAtScoring:   in.Price,
		RankAtScoring:    in.RankCurrent,
		ReviewsAtScoring: in.ReviewCount,
		RatingAtScoring:  in.RatingAvg,
	}

	if pressure.Score < s.cal.TimePressure.MinimumValid {
		opp.Rejected = true
		opp.RejectionReason = RejectionNoWindow
	}

	opp.SignalsFor, opp.SignalsAgainst = buildSignals(&in, netMargin, &factors, pressure.Score)
	opp.Thesis = buildThesis(base, window, &eco, opp.SignalsFor)
	opp.Action = actionFor(window)
	return opp
}

// timeFactors applies the four piecewise factor tables.
func (s *Scorer) timeFactors(in *Inputs) TimeFactors {
	m := &s.cal.Multiplier

	var f TimeFactors
	switch {
	case in.StockoutsPerMonth >= m.StockoutHigh:
		f.Stockout = 1.5
	case in.StockoutsPerMonth >= m.StockoutMid:
		f.Stockout = 1.2
	case in.StockoutsPerMonth >= m.StockoutLow:
		f.Stockout = 1.0
	default:
		f.Stockout = 0.8
	}

	switch {
	case in.SellerChurnRate > m.ChurnHigh:
		f.SellerChurn = 1.4
	case in.SellerChurnRate > m.ChurnMid:
		f.SellerChurn = 1.2
	case in.SellerChurnRate > m.ChurnLow:
		f.SellerChurn = 1.0
	default:
		f.SellerChurn = 0.8
	}

	switch {
	case in.PriceVolatility > m.VolatilityHigh:
		f.PriceVolatility = 1.3
	case in.PriceVolatility > m.VolatilityMid:
		f.PriceVolatility = 1.1
	default:
		f.PriceVolatility = 1.0
	}

	switch {
	case in.RankAcceleration > m.AccelHigh:
		f.RankAcceleration = 1.4
	case in.RankAcceleration > m.AccelMid:
		f.RankAcceleration = 1.2
	case in.RankAcceleration > m.AccelLow:
		f.RankAcceleration = 1.0
	default:
		f.RankAcceleration = 0.8
	}

	f.GeometricMean = math.Pow(f.Stockout*f.SellerChurn*f.PriceVolatility*f.RankAcceleration, 0.25)
	return f
}

// windowFor buckets the clamped multiplier.
func windowFor(mult float64) Window {
	switch {
	case mult >= 1.8:
		return WindowCritical
	case mult >= 1.4:
		return WindowUrgent
	case mult >= 1.1:
		return WindowActive
	case mult >= 0.9:
		return WindowStandard
	default:
		return WindowExtended
	}
}

// estimateEconomics prices the opportunity: unit margin after the full
// cost stack, times rank-tier unit volume, annualized and discounted.
func (s *Scorer) estimateEconomics(in *Inputs) Economics {
	e := &s.cal.Economics

	units := e.UnitFloor
	if in.RankCurrent > 0 {
		for _, tier := range e.UnitTiers {
			if in.RankCurrent < tier.RankMax {
				units = tier.Units
				break
			}
		}
	}

	cogs := in.SupplierUnitCost
	if cogs <= 0 {
		cogs = in.Price/e.COGSPriceRatio + e.COGSShippingFlat
	}

	fbaFees := in.Price * e.FBAFeePercent
	if fbaFees < e.FBAFeeMinimum {
		fbaFees = e.FBAFeeMinimum
	}
	perUnit := in.Price - cogs - fbaFees -
		in.Price*e.ReferralPercent - in.Price*e.PPCPercent - in.Price*e.ReturnPercent
	if perUnit < 0 {
		perUnit = 0
	}

	monthly := decimal.NewFromFloat(perUnit).Mul(decimal.NewFromInt(int64(units))).Round(2)
	annual := monthly.Mul(decimal.NewFromInt(12))
	riskAdj := annual.Mul(decimal.NewFromFloat(1 - e.RiskFactor)).Round(2)

	return Economics{
		MonthlyUnits:      units,
		MonthlyProfit:     monthly,
		AnnualValue:       annual,
		RiskAdjustedValue: riskAdj,
	}
}

// hashInputs fingerprints the scoring tuple plus the calibration
// version so a replay can prove it saw identical inputs.
func (s *Scorer) hashInputs(in *Inputs) string {
	payload := struct {
		Calibration string  `json:"calibration"`
		Inputs      *Inputs `json:"inputs"`
	}{s.cal.Version, in}

	raw, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func buildSignals(in *Inputs, netMargin float64, f *TimeFactors, pressure int) (forS, against []string) {
	if netMargin >= 0.25 {
		forS = append(forS, fmt.Sprintf("net margin %.0f%%", netMargin*100))
	} else if netMargin < 0.15 {
		against = append(against, fmt.Sprintf("thin margin %.0f%%", netMargin*100))
	}

	if in.RankDelta7d <= -0.15 {
		forS = append(forS, fmt.Sprintf("rank improved %.0f%% in 7d", -in.RankDelta7d*100))
	} else if in.RankDelta7d >= 0.15 {
		against = append(against, fmt.Sprintf("rank worsened %.0f%% in 7d", in.RankDelta7d*100))
	}

	if in.StockoutsPerMonth >= 1 {
		forS = append(forS, fmt.Sprintf("%.1f stockouts/month", in.StockoutsPerMonth))
	}
	if in.SellerChurnRate > 0.20 {
		forS = append(forS, fmt.Sprintf("seller churn %.0f%%", in.SellerChurnRate*100))
	}
	if in.SellerCount > 20 {
		against = append(against, fmt.Sprintf("%d sellers on listing", in.SellerCount))
	} else if in.SellerCount > 0 && in.SellerCount <= 5 {
		forS = append(forS, fmt.Sprintf("only %d sellers", in.SellerCount))
	}

	if in.NegativeReviewPercent >= 0.15 {
		forS = append(forS, fmt.Sprintf("%.0f%% negative reviews to improve on", in.NegativeReviewPercent*100))
	}
	if in.HasAmazonBasics {
		against = append(against, "Amazon Basics competes here")
	}
	if in.HasBrandDominance {
		against = append(against, "single brand dominates the niche")
	}
	if f.PriceVolatility > 1.0 {
		forS = append(forS, "unstable pricing, market in motion")
	}
	if pressure < 3 {
		against = append(against, "no urgency evidence, window unproven")
	}
	return forS, against
}

func buildThesis(base float64, window Window, eco *Economics, signals []string) string {
	var strength string
	switch {
	case base >= 0.8:
		strength = "high-potential product"
	case base >= 0.6:
		strength = "viable product"
	default:
		strength = "moderate-risk product"
	}

	thesis := fmt.Sprintf("%s | %s window (%dd) | ~$%s/month estimated",
		strength, window, window.Days(), eco.MonthlyProfit.StringFixed(0))
	if len(signals) > 0 {
		n := len(signals)
		if n > 3 {
			n = 3
		}
		thesis += " | drivers: "
		for i := 0; i < n; i++ {
			if i > 0 {
				thesis += ", "
			}
			thesis += signals[i]
		}
	}
	return thesis
}

func actionFor(window Window) string {
	switch window {
	case WindowCritical:
		return "act now: contact suppliers this week"
	case WindowUrgent:
		return "priority: start supplier analysis within 7 days"
	case WindowActive:
		return "active: plan sourcing within 2 weeks"
	default:
		return "monitor: add to backlog, revisit in 30 days"
	}
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
