package pipeline

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/smartacus/smartacus/internal/events"
	"github.com/smartacus/smartacus/internal/persistence"
	"github.com/smartacus/smartacus/internal/reviews"
	"github.com/smartacus/smartacus/internal/scoring"
)

// Conservative market assumptions used when no direct observation
// exists. Replaced with measured values as coverage grows.
const (
	defaultBuyboxRotation  = 0.15
	defaultReviewGap       = 0.50
	defaultNegativePct     = 0.10
	defaultWishPer100      = 3
	defaultUnansweredCount = 5
)

// signalBuilder derives the scorer's input tuple for one product from
// its stored history: snapshots, rolling aggregates, event rows and
// the latest improvement profile.
type signalBuilder struct {
	snapshots  persistence.SnapshotRepo
	events     persistence.EventRepo
	aggregates persistence.AggregateRepo
	now        func() time.Time
}

func newSignalBuilder(repo persistence.Repository) *signalBuilder {
	return &signalBuilder{
		snapshots:  repo.Snapshots(),
		events:     repo.Events(),
		aggregates: repo.Aggregates(),
		now:        time.Now,
	}
}

// Build assembles the input tuple. ok is false when the product lacks
// the minimum observation (a current price and rank) to be scoreable.
func (b *signalBuilder) Build(ctx context.Context, asin string, profile *reviews.Profile) (scoring.Inputs, bool, error) {
	latest, err := b.snapshots.Latest(ctx, asin)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return scoring.Inputs{}, false, nil
		}
		return scoring.Inputs{}, false, err
	}
	if latest.PriceCurrent == nil || latest.PrimaryRank == nil {
		return scoring.Inputs{}, false, nil
	}

	now := b.now().UTC()
	history, err := b.snapshots.Range(ctx, asin, now.AddDate(0, 0, -30), now)
	if err != nil {
		return scoring.Inputs{}, false, err
	}

	var stats *persistence.ASINStats
	stats, err = b.aggregates.Stats30d(ctx, asin)
	if err != nil {
		if !errors.Is(err, persistence.ErrNotFound) {
			return scoring.Inputs{}, false, err
		}
		stats = nil
	}

	stockouts, err := b.events.StockoutCount(ctx, asin, now.AddDate(0, 0, -90))
	if err != nil {
		return scoring.Inputs{}, false, err
	}

	in := scoring.Inputs{
		ASIN:        asin,
		Price:       *latest.PriceCurrent,
		RankCurrent: *latest.PrimaryRank,
		ReviewCount: latest.ReviewCount,
		RatingAvg:   latest.RatingAvg,

		RankDelta7d:  rankDeltaSince(history, latest, now.AddDate(0, 0, -7)),
		RankDelta30d: rankDeltaSince(history, latest, now.AddDate(0, 0, -30)),

		BuyboxRotation:   defaultBuyboxRotation,
		ReviewGapVsTop10: defaultReviewGap,

		NegativeReviewPercent: negativePercent(latest),
		WishMentionsPer100:    defaultWishPer100,
		UnansweredQuestions:   defaultUnansweredCount,

		StockoutCount90d:  stockouts,
		StockoutsPerMonth: float64(stockouts) / 3,
		RankAcceleration:  rankAcceleration(history),
	}

	if latest.SellerCount != nil {
		in.SellerCount = *latest.SellerCount
	}
	in.SellerChurnRate = churnHeuristic(in.SellerCount)

	if stats != nil {
		if stats.AvgPrice != nil && *stats.AvgPrice > 0 {
			if stats.PriceStddev != nil {
				in.PriceVolatility = *stats.PriceStddev / *stats.AvgPrice
			}
			in.PriceTrend30d = (*latest.PriceCurrent - *stats.AvgPrice) / *stats.AvgPrice
		}
		if stats.ReviewsGained != nil {
			in.ReviewsPerMonth = float64(*stats.ReviewsGained)
		}
	}

	if profile != nil && profile.ReviewsReady {
		in.ImprovementScore = profile.ImprovementScore
		in.HasRecurringProblems = hasRecurringProblems(profile)
		if profile.ReviewsAnalyzed > 0 {
			in.WishMentionsPer100 = wishMentionsPer100(profile)
		}
	}

	return in, true, nil
}

// thesisMetrics projects a scorer input tuple onto the event
// detector's rolled-up view of the same product.
func thesisMetrics(in scoring.Inputs, prof *reviews.Profile) events.ThesisMetrics {
	m := events.ThesisMetrics{
		Stockouts90d:         in.StockoutCount90d,
		BSRChange30d:         in.RankDelta30d,
		PriceChange30d:       in.PriceTrend30d,
		SellerChurn90d:       in.SellerChurnRate,
		BuyboxRotationChange: in.BuyboxRotation,
		NegativeReviewPct:    in.NegativeReviewPercent,
		WishMentions:         int(in.WishMentionsPer100),
	}
	if prof != nil && prof.ReviewsReady {
		for _, d := range prof.TopDefects {
			if d.Frequency >= 3 {
				m.CommonComplaints = append(m.CommonComplaints, string(d.Type))
			}
		}
	}
	return m
}

// rankDeltaSince is the fractional rank move from the earliest ranked
// snapshot at or after the cutoff to the current snapshot. Negative
// means the rank number dropped, i.e. sales improved.
func rankDeltaSince(history []persistence.Snapshot, latest *persistence.Snapshot, since time.Time) float64 {
	for _, s := range history {
		if s.CapturedAt.Before(since) || s.PrimaryRank == nil || *s.PrimaryRank == 0 {
			continue
		}
		if s.CapturedAt.Equal(latest.CapturedAt) {
			break
		}
		return float64(*latest.PrimaryRank-*s.PrimaryRank) / float64(*s.PrimaryRank)
	}
	return 0
}

// rankAcceleration compares the two halves of the 30-day rank series.
// Positive means the recent half improved over the earlier half.
func rankAcceleration(history []persistence.Snapshot) float64 {
	var ranks []float64
	for _, s := range history {
		if s.PrimaryRank != nil && *s.PrimaryRank > 0 {
			ranks = append(ranks, float64(*s.PrimaryRank))
		}
	}
	if len(ranks) < 4 {
		return 0
	}
	mid := len(ranks) / 2
	first := meanF(ranks[:mid])
	second := meanF(ranks[mid:])
	if first == 0 {
		return 0
	}
	return -(second - first) / first
}

// churnHeuristic estimates monthly seller turnover from listing
// crowding. Thin listings churn harder.
func churnHeuristic(sellers int) float64 {
	switch {
	case sellers == 0:
		return 0.05
	case sellers <= 5:
		return 0.25
	case sellers <= 10:
		return 0.15
	case sellers <= 20:
		return 0.10
	default:
		return 0.05
	}
}

// negativePercent reads the 1-3 star share off the snapshot's star
// distribution when present.
func negativePercent(s *persistence.Snapshot) float64 {
	if s.StarPct1 == nil && s.StarPct2 == nil && s.StarPct3 == nil {
		return defaultNegativePct
	}
	total := derefF(s.StarPct1) + derefF(s.StarPct2) + derefF(s.StarPct3)
	if total > 1 {
		total /= 100
	}
	return math.Min(1, total)
}

func hasRecurringProblems(p *reviews.Profile) bool {
	for _, d := range p.TopDefects {
		if d.Frequency >= 3 {
			return true
		}
	}
	return false
}

func wishMentionsPer100(p *reviews.Profile) float64 {
	total := 0
	for _, w := range p.MissingFeatures {
		total += w.Mentions
	}
	if total == 0 {
		return defaultWishPer100
	}
	return float64(total) / float64(p.ReviewsAnalyzed) * 100
}

func meanF(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

func derefF(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
