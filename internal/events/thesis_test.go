package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDetector() *Detector {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &Detector{now: func() time.Time { return fixed }}
}

func TestDetectSupplyShock(t *testing.T) {
	d := testDetector()

	evs := d.DetectAll("B0TEST0001", ThesisMetrics{
		Stockouts90d:        3,
		BSRChange30d:        -0.35,
		PriceChange30d:      0.05,
		CompetitorsStockout: 2,
	})

	require.Len(t, evs, 1)
	ev := evs[0]
	assert.Equal(t, SupplyShock, ev.Type)
	assert.Equal(t, ConfidenceStrong, ev.Confidence)
	assert.Equal(t, UrgencyHigh, ev.Urgency)
	assert.Equal(t, 30, ev.WindowDays)
	assert.Contains(t, ev.Thesis, "3 stockouts")
	assert.Contains(t, ev.Thesis, "rank improved 35%")
	assert.True(t, ev.Actionable())
}

func TestSupplyShockNeedsTwoSignals(t *testing.T) {
	d := testDetector()

	// A single stockout with a falling price is liquidation, not a shock.
	evs := d.DetectAll("B0TEST0001", ThesisMetrics{
		Stockouts90d:   1,
		PriceChange30d: -0.20,
	})
	assert.Empty(t, evs)
}

func TestDetectCompetitorCollapse(t *testing.T) {
	d := testDetector()

	evs := d.DetectAll("B0TEST0002", ThesisMetrics{
		SellerChurn90d:       0.35,
		TopSellerGone:        true,
		BuyboxRotationChange: 0.25,
		PriceChange30d:       -0.20, // keeps the supply-shock rule quiet
	})

	require.Len(t, evs, 1)
	ev := evs[0]
	assert.Equal(t, CompetitorCollapse, ev.Type)
	assert.Equal(t, ConfidenceStrong, ev.Confidence)
	assert.Equal(t, UrgencyHigh, ev.Urgency)
	assert.Contains(t, ev.Thesis, "35% churn")
	assert.Contains(t, ev.Thesis, "leader gone")
}

func TestCompetitorCollapseContradictedByEntrants(t *testing.T) {
	d := testDetector()

	evs := d.DetectAll("B0TEST0002", ThesisMetrics{
		SellerChurn90d: 0.25,
		NewEntrants:    5,
		PriceChange30d: -0.20,
	})
	// Churn alone is one supporting signal; entrants contradict.
	assert.Empty(t, evs)
}

func TestDetectQualityDecay(t *testing.T) {
	d := testDetector()

	evs := d.DetectAll("B0TEST0003", ThesisMetrics{
		NegativeReviewPct:   0.25,
		NegativeReviewTrend: 0.08,
		WishMentions:        7,
		CommonComplaints:    []string{"durability", "fit", "noise"},
		PriceChange30d:      -0.20,
	})

	require.Len(t, evs, 1)
	ev := evs[0]
	assert.Equal(t, QualityDecay, ev.Type)
	assert.Equal(t, ConfidenceStrong, ev.Confidence)
	assert.Equal(t, UrgencyMedium, ev.Urgency)
	assert.Equal(t, 90, ev.WindowDays)
	assert.Contains(t, ev.Thesis, "25% negative reviews")
	assert.Contains(t, ev.Thesis, "7 improvement requests")
	assert.Contains(t, ev.Thesis, "complaints: durability, fit")
}

func TestPrimaryPrefersConfidenceThenUrgency(t *testing.T) {
	events := []EconomicEvent{
		{Type: QualityDecay, Confidence: ConfidenceModerate, Urgency: UrgencyCritical},
		{Type: SupplyShock, Confidence: ConfidenceStrong, Urgency: UrgencyMedium},
		{Type: CompetitorCollapse, Confidence: ConfidenceStrong, Urgency: UrgencyHigh},
	}

	p := Primary(events)
	require.NotNil(t, p)
	assert.Equal(t, CompetitorCollapse, p.Type)

	assert.Nil(t, Primary(nil))
}

func TestSignalStrengthAndActionable(t *testing.T) {
	ev := EconomicEvent{
		Confidence:    ConfidenceModerate,
		Supporting:    []Signal{{Type: "a"}, {Type: "b"}, {Type: "c"}},
		Contradicting: []Signal{{Type: "d"}},
	}
	assert.InDelta(t, 0.75, ev.SignalStrength(), 1e-9)
	assert.True(t, ev.Actionable())

	weak := EconomicEvent{Confidence: ConfidenceWeak, Supporting: ev.Supporting}
	assert.False(t, weak.Actionable())

	empty := EconomicEvent{}
	assert.Zero(t, empty.SignalStrength())
}
