package scoring

// ComponentScore is one scored component with its cap and the
// sub-scores that produced it.
type ComponentScore struct {
	Name      string         `json:"name"`
	Score     int            `json:"score"`
	MaxScore  int            `json:"max_score"`
	SubScores map[string]int `json:"sub_scores,omitempty"`
}

// scoreMargin computes per-unit net margin from the calibrated cost
// stack and bands it.
func scoreMargin(cal *MarginCalibration, in *Inputs) (ComponentScore, float64) {
	cs := ComponentScore{Name: "margin", MaxScore: cal.MaxPoints}

	if in.Price <= 0 {
		return cs, 0
	}

	cogs := in.SupplierUnitCost
	if cogs <= 0 {
		// No quote; conservative heuristic handled by the economics
		// calibration at value-estimation time uses the same ratio.
		cogs = in.Price / 5
	}

	fbaFees := in.Price * cal.FBAFeePercent
	if fbaFees < cal.FBAFeeMinimum {
		fbaFees = cal.FBAFeeMinimum
	}
	referral := in.Price * cal.ReferralPercent
	returns := in.Price * cal.ReturnRate
	ppc := in.Price * cal.PPCPercentOfRevenue
	storage := cal.StorageMonthlyPerUnit * cal.StorageMonthsHeld

	totalCost := cogs + cal.ShippingPerUnit + fbaFees + referral + returns + ppc + storage
	netMargin := (in.Price - totalCost) / in.Price

	cs.Score = clampPoints(firstAtOrAbove(cal.Bands, netMargin), cal.MaxPoints)
	return cs, netMargin
}

// scoreVelocity grades absolute rank tier plus short- and mid-term
// momentum, with a penalty for stagnant listings.
func scoreVelocity(cal *VelocityCalibration, in *Inputs) ComponentScore {
	cs := ComponentScore{Name: "velocity", MaxScore: cal.MaxPoints, SubScores: map[string]int{}}

	rank := in.RankCurrent
	if rank <= 0 {
		rank = 999_999
	}
	rankPts := firstAtOrBelow(cal.RankBands, float64(rank))
	d7 := firstAtOrBelow(cal.RankDelta7dBands, in.RankDelta7d)
	d30 := firstAtOrBelow(cal.RankDelta30dBands, in.RankDelta30d)
	rev := firstAtOrAbove(cal.ReviewsPerMonthBands, in.ReviewsPerMonth)

	penalty := 0
	stagnant := absF(in.RankDelta7d) < cal.StagnantDelta7dMax &&
		absF(in.RankDelta30d) < cal.StagnantDelta30dMax &&
		in.ReviewsPerMonth < cal.StagnantReviewsFloor
	if stagnant {
		penalty = cal.StagnantPenalty
	}

	cs.SubScores["rank_tier"] = rankPts
	cs.SubScores["rank_delta_7d"] = d7
	cs.SubScores["rank_delta_30d"] = d30
	cs.SubScores["reviews_velocity"] = rev
	cs.SubScores["stagnant_penalty"] = penalty

	cs.Score = clampPoints(rankPts+d7+d30+rev+penalty, cal.MaxPoints)
	return cs
}

// scoreCompetition grades how open the listing is to a new entrant.
func scoreCompetition(cal *CompetitionCalibration, in *Inputs) ComponentScore {
	cs := ComponentScore{Name: "competition", MaxScore: cal.MaxPoints, SubScores: map[string]int{}}

	sellers := firstAtOrBelow(cal.SellerCountBands, float64(in.SellerCount))
	buybox := firstAtOrAbove(cal.BuyboxRotationBands, in.BuyboxRotation)
	gap := firstAtOrBelow(cal.ReviewGapBands, in.ReviewGapVsTop10)

	bonus := 0
	if !in.HasBrandDominance {
		bonus += cal.NoBrandDominanceBonus
	}
	if in.HasAmazonBasics {
		bonus += cal.AmazonBasicsPenalty
	}

	cs.SubScores["seller_count"] = sellers
	cs.SubScores["buybox_rotation"] = buybox
	cs.SubScores["review_gap"] = gap
	cs.SubScores["bonus"] = bonus

	cs.Score = clampPoints(sellers+buybox+gap+bonus, cal.MaxPoints)
	return cs
}

// scoreGap grades expressed unmet needs. An amplifier, not a driver:
// a gap alone does not make an opportunity.
func scoreGap(cal *GapCalibration, in *Inputs) ComponentScore {
	cs := ComponentScore{Name: "gap", MaxScore: cal.MaxPoints, SubScores: map[string]int{}}

	negative := firstAtOrAbove(cal.NegativeReviewBands, in.NegativeReviewPercent)
	wishes := firstAtOrAbove(cal.WishMentionsPer100Bands, in.WishMentionsPer100)
	questions := firstAtOrAbove(cal.UnansweredQuestionsBands, float64(in.UnansweredQuestions))

	cs.SubScores["negative_reviews"] = negative
	cs.SubScores["wish_mentions"] = wishes
	cs.SubScores["unanswered_questions"] = questions

	raw := negative + wishes + questions
	if in.HasRecurringProblems {
		raw = int(float64(raw) * cal.RecurringProblemMultiplier)
	}
	cs.Score = clampPoints(raw, cal.MaxPoints)
	return cs
}

// scoreTimePressure grades the urgency evidence. The caller enforces
// the hard gate against MinimumValid.
func scoreTimePressure(cal *TimePressureCalibration, in *Inputs) ComponentScore {
	cs := ComponentScore{Name: "time_pressure", MaxScore: cal.MaxPoints, SubScores: map[string]int{}}

	stockouts := firstAtOrAbove(cal.StockoutBands, float64(in.StockoutCount90d))
	price := firstAtOrAbove(cal.PriceTrendBands, in.PriceTrend30d)
	churn := firstAtOrAbove(cal.SellerChurnBands, float64(in.SellerDepartures90d))
	accel := firstAtOrAbove(cal.AccelerationBands, in.RankAcceleration)

	cs.SubScores["stockout_frequency"] = stockouts
	cs.SubScores["price_trend"] = price
	cs.SubScores["seller_churn"] = churn
	cs.SubScores["rank_acceleration"] = accel

	cs.Score = clampPoints(stockouts+price+churn+accel, cal.MaxPoints)
	return cs
}

func clampPoints(v, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
