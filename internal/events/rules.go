// Package events derives economic signal rows from consecutive product
// snapshots. The rule functions are pure so the store can run them
// inside the snapshot-insert transaction and tests can run them alone.
package events

import (
	"math"
	"time"

	"github.com/smartacus/smartacus/internal/persistence"
)

// Emission thresholds. Deltas below these never produce an event row.
const (
	priceEventMinPct = 5.0
	rankEventMinPct  = 20.0
	rankEventMinAbs  = 10000
)

// ComputeDeltas fills next's three delta fields against prev. A nil
// prev leaves all deltas nil. Percent fields stay nil when the prior
// value is nil or zero.
func ComputeDeltas(prev, next *persistence.Snapshot) {
	if prev == nil {
		return
	}

	if prev.PriceCurrent != nil && next.PriceCurrent != nil {
		d := *next.PriceCurrent - *prev.PriceCurrent
		next.PriceDelta = &d
		if *prev.PriceCurrent != 0 {
			pct := 100 * d / *prev.PriceCurrent
			next.PriceDeltaPercent = &pct
		}
	}

	if prev.PrimaryRank != nil && next.PrimaryRank != nil {
		d := *next.PrimaryRank - *prev.PrimaryRank
		next.RankDelta = &d
		if *prev.PrimaryRank != 0 {
			pct := 100 * float64(d) / float64(*prev.PrimaryRank)
			next.RankDeltaPercent = &pct
		}
	}

	if prev.ReviewCount != nil && next.ReviewCount != nil {
		d := *next.ReviewCount - *prev.ReviewCount
		next.ReviewCountDelta = &d
	}
}

// PriceEventFor returns the price event due for the transition, or nil.
// Requires deltas to have been computed on next already.
func PriceEventFor(prev, next *persistence.Snapshot, detectedAt time.Time) *persistence.PriceEvent {
	if prev == nil || next.PriceDeltaPercent == nil || next.PriceDelta == nil {
		return nil
	}
	pct := *next.PriceDeltaPercent
	if math.Abs(pct) < priceEventMinPct {
		return nil
	}

	dir := persistence.DirectionUp
	if *next.PriceDelta < 0 {
		dir = persistence.DirectionDown
	}

	return &persistence.PriceEvent{
		ASIN:             next.ASIN,
		DetectedAt:       detectedAt,
		PriceBefore:      *prev.PriceCurrent,
		PriceAfter:       *next.PriceCurrent,
		ChangeAbsolute:   *next.PriceDelta,
		ChangePercent:    pct,
		Direction:        dir,
		Severity:         priceSeverity(pct),
		IsDeal:           *next.PriceDelta < 0 && math.Abs(pct) >= 15,
		SnapshotBeforeAt: prev.CapturedAt,
		SnapshotAfterAt:  next.CapturedAt,
	}
}

func priceSeverity(pct float64) persistence.EventSeverity {
	abs := math.Abs(pct)
	switch {
	case abs >= 25:
		return persistence.SeverityCritical
	case abs >= 15:
		return persistence.SeverityHigh
	case abs >= 10:
		return persistence.SeverityMedium
	default:
		return persistence.SeverityLow
	}
}

// RankEventFor returns the rank event due for the transition, or nil.
// Direction "up" means the rank number dropped, i.e. the product improved.
func RankEventFor(prev, next *persistence.Snapshot, detectedAt time.Time) *persistence.RankEvent {
	if prev == nil || next.RankDelta == nil || next.RankDeltaPercent == nil {
		return nil
	}
	delta := *next.RankDelta
	pct := *next.RankDeltaPercent
	if math.Abs(pct) < rankEventMinPct && absInt64(delta) < rankEventMinAbs {
		return nil
	}

	improving := delta < 0
	dir := persistence.DirectionDown
	sev := persistence.SeverityLow
	if improving {
		dir = persistence.DirectionUp
		sev = rankImprovingSeverity(pct, delta)
	}

	return &persistence.RankEvent{
		ASIN:             next.ASIN,
		DetectedAt:       detectedAt,
		RankBefore:       *prev.PrimaryRank,
		RankAfter:        *next.PrimaryRank,
		ChangeAbsolute:   delta,
		ChangePercent:    pct,
		Direction:        dir,
		Severity:         sev,
		SnapshotBeforeAt: prev.CapturedAt,
		SnapshotAfterAt:  next.CapturedAt,
	}
}

func rankImprovingSeverity(pct float64, delta int64) persistence.EventSeverity {
	switch {
	case math.Abs(pct) >= 50 || absInt64(delta) >= 50000:
		return persistence.SeverityCritical
	case math.Abs(pct) >= 30:
		return persistence.SeverityHigh
	default:
		return persistence.SeverityMedium
	}
}

// StockEventFor returns the stock event due for the transition, or nil.
// An unknown prior status never produces an event.
func StockEventFor(prev, next *persistence.Snapshot, detectedAt time.Time) *persistence.StockEvent {
	if prev == nil || prev.StockStatus == "" || next.StockStatus == "" {
		return nil
	}
	before, after := prev.StockStatus, next.StockStatus
	if before == after {
		return nil
	}

	kind, sev := classifyStockTransition(before, after)

	ev := &persistence.StockEvent{
		ASIN:             next.ASIN,
		DetectedAt:       detectedAt,
		StatusBefore:     before,
		StatusAfter:      after,
		QtyBefore:        prev.StockQty,
		QtyAfter:         next.StockQty,
		Kind:             kind,
		Severity:         sev,
		SnapshotBeforeAt: prev.CapturedAt,
		SnapshotAfterAt:  next.CapturedAt,
	}
	if kind == persistence.StockEventStockout {
		start := next.CapturedAt
		ev.StockoutStartAt = &start
	}
	if kind == persistence.StockEventRestock {
		hours := next.CapturedAt.Sub(prev.CapturedAt).Hours()
		ev.DurationHours = &hours
	}
	return ev
}

func classifyStockTransition(before, after persistence.StockStatus) (persistence.StockEventKind, persistence.EventSeverity) {
	sellable := func(s persistence.StockStatus) bool {
		return s == persistence.StockInStock || s == persistence.StockLowStock
	}
	switch {
	case sellable(before) && after == persistence.StockOutOfStock:
		return persistence.StockEventStockout, persistence.SeverityHigh
	case before == persistence.StockOutOfStock && sellable(after):
		return persistence.StockEventRestock, persistence.SeverityMedium
	case after == persistence.StockLowStock:
		return persistence.StockEventLowStockAlert, persistence.SeverityLow
	default:
		return persistence.StockEventStatusChange, persistence.SeverityLow
	}
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
