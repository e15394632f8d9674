package events

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// EconomicEventType names a market-imbalance thesis derived from raw
// signal rows. A price event is a symptom; a supply shock is a thesis.
type EconomicEventType string

const (
	SupplyShock        EconomicEventType = "supply_shock"
	DemandSurge        EconomicEventType = "demand_surge"
	CompetitorCollapse EconomicEventType = "competitor_collapse"
	MarketFatigue      EconomicEventType = "market_fatigue"
	PriceElasticity    EconomicEventType = "price_elasticity_signal"
	MarginCompression  EconomicEventType = "margin_compression"
	QualityDecay       EconomicEventType = "quality_decay"
	SeasonalWindow     EconomicEventType = "seasonal_window"
)

// Confidence grades how many concordant signals back a thesis.
type Confidence string

const (
	ConfidenceWeak      Confidence = "weak"
	ConfidenceModerate  Confidence = "moderate"
	ConfidenceStrong    Confidence = "strong"
	ConfidenceConfirmed Confidence = "confirmed"
)

// Urgency is the event action-window grade. This vocabulary is
// intentionally distinct from the opportunity urgency labels used by
// the scorer's window classification.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// Signal is one piece of evidence for or against a thesis.
type Signal struct {
	Type           string  `json:"type"`
	Value          float64 `json:"value,omitempty"`
	Count          int     `json:"count,omitempty"`
	Interpretation string  `json:"interpretation"`
}

// EconomicEvent is an actionable market-imbalance thesis with its evidence.
type EconomicEvent struct {
	ASIN          string            `json:"asin"`
	Type          EconomicEventType `json:"event_type"`
	DetectedAt    time.Time         `json:"detected_at"`
	Thesis        string            `json:"thesis"`
	Confidence    Confidence        `json:"confidence"`
	Urgency       Urgency           `json:"urgency"`
	WindowDays    int               `json:"window_days"`
	Supporting    []Signal          `json:"supporting_signals"`
	Contradicting []Signal          `json:"contradicting_signals"`
}

// SignalStrength is the share of supporting signals among all evidence.
func (e *EconomicEvent) SignalStrength() float64 {
	total := len(e.Supporting) + len(e.Contradicting)
	if total == 0 {
		return 0
	}
	return float64(len(e.Supporting)) / float64(total)
}

// Actionable requires at least moderate confidence, two supporting
// signals, and a signal strength above 0.6.
func (e *EconomicEvent) Actionable() bool {
	return e.Confidence != ConfidenceWeak &&
		len(e.Supporting) >= 2 &&
		e.SignalStrength() >= 0.6
}

// ThesisMetrics carries the rolled-up measurements a detector run needs.
type ThesisMetrics struct {
	Stockouts90d         int
	BSRChange30d         float64
	PriceChange30d       float64
	CompetitorsStockout  int
	SellerChurn90d       float64
	TopSellerGone        bool
	BuyboxRotationChange float64
	NewEntrants          int
	NegativeReviewPct    float64
	NegativeReviewTrend  float64
	WishMentions         int
	CommonComplaints     []string
	RatingDecline30d     float64
}

// Detector turns raw metrics into economic theses.
type Detector struct {
	now func() time.Time
}

// NewDetector returns a detector using wall-clock time.
func NewDetector() *Detector {
	return &Detector{now: time.Now}
}

// DetectAll runs every thesis rule against the metrics.
func (d *Detector) DetectAll(asin string, m ThesisMetrics) []EconomicEvent {
	var out []EconomicEvent
	if ev := d.detectSupplyShock(asin, m); ev != nil {
		out = append(out, *ev)
	}
	if ev := d.detectCompetitorCollapse(asin, m); ev != nil {
		out = append(out, *ev)
	}
	if ev := d.detectQualityDecay(asin, m); ev != nil {
		out = append(out, *ev)
	}
	return out
}

// Primary returns the highest-confidence, then highest-urgency event.
func Primary(events []EconomicEvent) *EconomicEvent {
	if len(events) == 0 {
		return nil
	}
	sorted := make([]EconomicEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		ci, cj := confidenceRank(sorted[i].Confidence), confidenceRank(sorted[j].Confidence)
		if ci != cj {
			return ci > cj
		}
		return urgencyRank(sorted[i].Urgency) > urgencyRank(sorted[j].Urgency)
	})
	return &sorted[0]
}

func confidenceRank(c Confidence) int {
	switch c {
	case ConfidenceConfirmed:
		return 4
	case ConfidenceStrong:
		return 3
	case ConfidenceModerate:
		return 2
	default:
		return 1
	}
}

func urgencyRank(u Urgency) int {
	switch u {
	case UrgencyCritical:
		return 4
	case UrgencyHigh:
		return 3
	case UrgencyMedium:
		return 2
	default:
		return 1
	}
}

func (d *Detector) detectSupplyShock(asin string, m ThesisMetrics) *EconomicEvent {
	var sup, con []Signal

	switch {
	case m.Stockouts90d >= 2:
		sup = append(sup, Signal{Type: "frequent_stockouts", Count: m.Stockouts90d, Interpretation: "recurring unmet demand"})
	case m.Stockouts90d == 1:
		sup = append(sup, Signal{Type: "single_stockout", Count: 1, Interpretation: "weak but present"})
	}

	if m.BSRChange30d < -0.20 {
		sup = append(sup, Signal{Type: "bsr_improvement", Value: m.BSRChange30d, Interpretation: "demand accelerating"})
	} else if m.BSRChange30d > 0.20 {
		con = append(con, Signal{Type: "bsr_degradation", Value: m.BSRChange30d, Interpretation: "demand declining"})
	}

	if m.PriceChange30d >= 0 {
		sup = append(sup, Signal{Type: "price_stable_or_up", Value: m.PriceChange30d, Interpretation: "no liquidation, real demand"})
	} else if m.PriceChange30d < -0.15 {
		con = append(con, Signal{Type: "price_dropping", Value: m.PriceChange30d, Interpretation: "possible liquidation"})
	}

	if m.CompetitorsStockout > 0 {
		sup = append(sup, Signal{Type: "market_wide_shortage", Count: m.CompetitorsStockout, Interpretation: "supply problem across the listing"})
	}

	if len(sup) < 2 {
		return nil
	}

	conf := ConfidenceWeak
	switch {
	case len(sup) >= 4 && len(con) == 0:
		conf = ConfidenceStrong
	case len(sup) >= 3:
		conf = ConfidenceModerate
	}

	urg, window := UrgencyLow, 90
	switch {
	case m.Stockouts90d >= 3:
		urg, window = UrgencyHigh, 30
	case m.Stockouts90d >= 2:
		urg, window = UrgencyMedium, 60
	}

	thesis := fmt.Sprintf("supply shock: %d stockouts in 90d", m.Stockouts90d)
	if m.BSRChange30d < -0.20 {
		thesis += fmt.Sprintf(", rank improved %.0f%%", -m.BSRChange30d*100)
	}
	if m.CompetitorsStockout > 0 {
		thesis += fmt.Sprintf(", %d competitors also out", m.CompetitorsStockout)
	}

	return &EconomicEvent{
		ASIN: asin, Type: SupplyShock, DetectedAt: d.now().UTC(),
		Thesis: thesis, Confidence: conf, Urgency: urg, WindowDays: window,
		Supporting: sup, Contradicting: con,
	}
}

func (d *Detector) detectCompetitorCollapse(asin string, m ThesisMetrics) *EconomicEvent {
	var sup, con []Signal

	switch {
	case m.SellerChurn90d > 0.30:
		sup = append(sup, Signal{Type: "high_seller_churn", Value: m.SellerChurn90d, Interpretation: "sellers leaving in numbers"})
	case m.SellerChurn90d > 0.20:
		sup = append(sup, Signal{Type: "moderate_seller_churn", Value: m.SellerChurn90d, Interpretation: "significant turnover"})
	}

	if m.TopSellerGone {
		sup = append(sup, Signal{Type: "top_seller_exit", Interpretation: "market leader gone"})
	}
	if m.BuyboxRotationChange > 0.20 {
		sup = append(sup, Signal{Type: "buybox_destabilized", Value: m.BuyboxRotationChange, Interpretation: "share up for grabs"})
	}

	if m.NewEntrants > 3 {
		con = append(con, Signal{Type: "new_entrants", Count: m.NewEntrants, Interpretation: "market refilling"})
	} else if m.NewEntrants == 0 {
		sup = append(sup, Signal{Type: "no_new_entrants", Interpretation: "market emptying"})
	}

	if len(sup) < 2 {
		return nil
	}

	conf, urg, window := ConfidenceWeak, UrgencyLow, 90
	switch {
	case m.TopSellerGone && m.SellerChurn90d > 0.30:
		conf, urg, window = ConfidenceStrong, UrgencyHigh, 30
	case len(sup) >= 3:
		conf, urg, window = ConfidenceModerate, UrgencyMedium, 60
	}

	thesis := fmt.Sprintf("competitor collapse: %.0f%% churn", m.SellerChurn90d*100)
	if m.TopSellerGone {
		thesis += ", leader gone"
	}

	return &EconomicEvent{
		ASIN: asin, Type: CompetitorCollapse, DetectedAt: d.now().UTC(),
		Thesis: thesis, Confidence: conf, Urgency: urg, WindowDays: window,
		Supporting: sup, Contradicting: con,
	}
}

func (d *Detector) detectQualityDecay(asin string, m ThesisMetrics) *EconomicEvent {
	var sup, con []Signal

	switch {
	case m.NegativeReviewPct > 0.20:
		sup = append(sup, Signal{Type: "high_negative_reviews", Value: m.NegativeReviewPct, Interpretation: "high dissatisfaction"})
	case m.NegativeReviewPct > 0.15:
		sup = append(sup, Signal{Type: "moderate_negative_reviews", Value: m.NegativeReviewPct, Interpretation: "quality problems"})
	}

	if m.NegativeReviewTrend > 0.05 {
		sup = append(sup, Signal{Type: "negative_trend_worsening", Value: m.NegativeReviewTrend, Interpretation: "quality degrading"})
	}
	if m.WishMentions >= 5 {
		sup = append(sup, Signal{Type: "wish_mentions", Count: m.WishMentions, Interpretation: "missing features identified"})
	}
	if m.RatingDecline30d > 0.3 {
		sup = append(sup, Signal{Type: "rating_decline", Value: m.RatingDecline30d, Interpretation: "reputation falling"})
	}
	if len(m.CommonComplaints) >= 3 {
		sup = append(sup, Signal{Type: "recurring_complaints", Count: len(m.CommonComplaints), Interpretation: "systemic issues identified"})
	}

	if len(sup) < 2 {
		return nil
	}

	conf := ConfidenceWeak
	switch {
	case len(sup) >= 4:
		conf = ConfidenceStrong
	case len(sup) >= 3:
		conf = ConfidenceModerate
	}

	thesis := fmt.Sprintf("quality decay: %.0f%% negative reviews", m.NegativeReviewPct*100)
	if m.WishMentions >= 5 {
		thesis += fmt.Sprintf(", %d improvement requests", m.WishMentions)
	}
	if len(m.CommonComplaints) > 0 {
		n := len(m.CommonComplaints)
		if n > 2 {
			n = 2
		}
		thesis += ", complaints: " + strings.Join(m.CommonComplaints[:n], ", ")
	}

	// Product stays on the market, so the window is long.
	return &EconomicEvent{
		ASIN: asin, Type: QualityDecay, DetectedAt: d.now().UTC(),
		Thesis: thesis, Confidence: conf, Urgency: UrgencyMedium, WindowDays: 90,
		Supporting: sup, Contradicting: con,
	}
}
