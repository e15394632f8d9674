// Package shortlist turns a run's scored opportunities into the
// constrained, ordered list the system actually recommends.
package shortlist

import (
	"sort"

	"github.com/smartacus/smartacus/internal/persistence"
	"github.com/smartacus/smartacus/internal/scoring"
)

// Thresholds gate what may enter the shortlist.
type Thresholds struct {
	MinScore int     `json:"min_score" yaml:"min_score"`
	MinValue float64 `json:"min_value" yaml:"min_value"`
	MaxItems int     `json:"max_items" yaml:"max_items"`
}

// DefaultThresholds: score >= 50, $5,000/yr risk-adjusted, 10 items.
func DefaultThresholds() Thresholds {
	return Thresholds{MinScore: 50, MinValue: 5000, MaxItems: 10}
}

// Item is one ranked shortlist entry.
type Item struct {
	Rank              int     `json:"rank"`
	ASIN              string  `json:"asin"`
	Score             int     `json:"score"`
	WindowDays        int     `json:"window_days"`
	UrgencyLabel      string  `json:"urgency_label"`
	AnnualValue       float64 `json:"annual_value"`
	RiskAdjustedValue float64 `json:"risk_adjusted_value"`
	RankScore         float64 `json:"rank_score"`
	Thesis            string  `json:"thesis"`
	Action            string  `json:"action"`
}

// Selection is the outcome of one selection pass.
type Selection struct {
	Items          []Item   `json:"items"`
	TotalValue     float64  `json:"total_value"`
	Added          []string `json:"added"`
	Removed        []string `json:"removed"`
	StabilityScore float64  `json:"stability_score"`
}

// Select filters to viable opportunities, orders them, caps the list,
// and measures churn against the previous shortlist's ASIN set.
// Rejected opportunities never enter regardless of score.
func Select(opps []*scoring.Opportunity, previous []string, th Thresholds) *Selection {
	var viable []*scoring.Opportunity
	for _, o := range opps {
		if o.Rejected {
			continue
		}
		riskAdj, _ := o.Economics.RiskAdjustedValue.Float64()
		if o.FinalScore >= th.MinScore && riskAdj >= th.MinValue {
			viable = append(viable, o)
		}
	}

	sort.SliceStable(viable, func(i, j int) bool {
		a, b := viable[i], viable[j]
		if a.RankScore != b.RankScore {
			return a.RankScore > b.RankScore
		}
		if a.FinalScore != b.FinalScore {
			return a.FinalScore > b.FinalScore
		}
		if a.WindowDays != b.WindowDays {
			return a.WindowDays < b.WindowDays
		}
		return a.ASIN < b.ASIN
	})

	if th.MaxItems > 0 && len(viable) > th.MaxItems {
		viable = viable[:th.MaxItems]
	}

	sel := &Selection{}
	for i, o := range viable {
		annual, _ := o.Economics.AnnualValue.Float64()
		riskAdj, _ := o.Economics.RiskAdjustedValue.Float64()
		sel.Items = append(sel.Items, Item{
			Rank:              i + 1,
			ASIN:              o.ASIN,
			Score:             o.FinalScore,
			WindowDays:        o.WindowDays,
			UrgencyLabel:      o.UrgencyLabel,
			AnnualValue:       annual,
			RiskAdjustedValue: riskAdj,
			RankScore:         o.RankScore,
			Thesis:            o.Thesis,
			Action:            o.Action,
		})
		sel.TotalValue += riskAdj
	}

	sel.Added, sel.Removed, sel.StabilityScore = diff(sel.ASINs(), previous)
	return sel
}

// ASINs returns the ordered product ids of the selection.
func (s *Selection) ASINs() []string {
	out := make([]string, len(s.Items))
	for i, it := range s.Items {
		out[i] = it.ASIN
	}
	return out
}

// Scores returns the parallel score list.
func (s *Selection) Scores() []int {
	out := make([]int, len(s.Items))
	for i, it := range s.Items {
		out[i] = it.Score
	}
	return out
}

// ToSnapshot maps the selection onto its storage row. Frozen
// selections are recorded but never activated.
func (s *Selection) ToSnapshot(runID string, frozen bool) *persistence.ShortlistSnapshot {
	return &persistence.ShortlistSnapshot{
		RunID:          runID,
		ASINs:          s.ASINs(),
		Scores:         s.Scores(),
		TotalValue:     s.TotalValue,
		AddedASINs:     s.Added,
		RemovedASINs:   s.Removed,
		StabilityScore: s.StabilityScore,
		Frozen:         frozen,
		Active:         false,
	}
}

// diff computes added/removed sets and |∩|/max(1, |∪|) stability.
func diff(current, previous []string) (added, removed []string, stability float64) {
	cur := toSet(current)
	prev := toSet(previous)

	for _, a := range current {
		if _, ok := prev[a]; !ok {
			added = append(added, a)
		}
	}
	for _, a := range previous {
		if _, ok := cur[a]; !ok {
			removed = append(removed, a)
		}
	}

	inter := 0
	for a := range cur {
		if _, ok := prev[a]; ok {
			inter++
		}
	}
	union := len(cur) + len(prev) - inter
	if union < 1 {
		union = 1
	}
	stability = float64(inter) / float64(union)
	return added, removed, stability
}

func toSet(asins []string) map[string]struct{} {
	out := make(map[string]struct{}, len(asins))
	for _, a := range asins {
		out[a] = struct{}{}
	}
	return out
}
