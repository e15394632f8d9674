package scoring

import (
	"encoding/json"

	"github.com/smartacus/smartacus/internal/persistence"
)

// ToArtifact maps the opportunity onto its immutable storage row.
// rankInRun is 0 for rejected opportunities.
func (o *Opportunity) ToArtifact(runID string, rankInRun int) persistence.OpportunityArtifact {
	components, _ := json.Marshal(o.Components)
	factors, _ := json.Marshal(o.TimeFactors)
	signalsFor, _ := json.Marshal(o.SignalsFor)
	signalsAgainst, _ := json.Marshal(o.SignalsAgainst)

	monthly, _ := o.Economics.MonthlyProfit.Float64()
	annual, _ := o.Economics.AnnualValue.Float64()
	riskAdj, _ := o.Economics.RiskAdjustedValue.Float64()

	a := persistence.OpportunityArtifact{
		RunID:     runID,
		ASIN:      o.ASIN,
		RankInRun: rankInRun,

		FinalScore:     o.FinalScore,
		BaseScore:      o.BaseScore,
		TimeMultiplier: o.TimeMultiplier,

		Components:     components,
		TimeFactors:    factors,
		SignalsFor:     signalsFor,
		SignalsAgainst: signalsAgainst,

		Thesis: o.Thesis,
		Action: o.Action,

		MonthlyProfit:     monthly,
		AnnualValue:       annual,
		RiskAdjustedValue: riskAdj,
		RankScore:         o.RankScore,

		WindowDays:   o.WindowDays,
		UrgencyLabel: o.UrgencyLabel,

		Rejected:   o.Rejected,
		InputsHash: o.InputsHash,
		ScoredAt:   o.ScoredAt,
	}
	rank := o.RankAtScoring
	a.RankAtScoring = &rank
	if o.RejectionReason != "" {
		reason := o.RejectionReason
		a.RejectionReason = &reason
	}
	if o.PriceAtScoring > 0 {
		price := o.PriceAtScoring
		a.PriceAtScoring = &price
	}
	if o.ReviewsAtScoring != nil {
		reviews := *o.ReviewsAtScoring
		a.ReviewsAtScoring = &reviews
	}
	if o.RatingAtScoring != nil {
		rating := *o.RatingAtScoring
		a.RatingAtScoring = &rating
	}
	return a
}
