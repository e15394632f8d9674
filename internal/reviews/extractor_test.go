package reviews

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartacus/smartacus/internal/persistence"
)

func review(rating int, body string) persistence.Review {
	return persistence.Review{
		ReviewID: fmt.Sprintf("r-%d-%d", rating, len(body)),
		ASIN:     "B0TEST00001",
		Rating:   rating,
		Body:     body,
	}
}

func TestExtractDefects(t *testing.T) {
	e := NewExtractor(nil)

	in := []persistence.Review{
		review(1, "The clamp broke after two days."),
		review(2, "Arrived already broken, total waste."),
		review(2, "It slips off the dash on every turn."),
		review(3, "Meh. Does the job but feels wobbly."),
		review(5, "Great mount, nothing broke in a year."), // positive, ignored
	}

	signals := e.ExtractDefects(in)
	require.NotEmpty(t, signals)

	assert.Equal(t, persistence.DefectMechanicalFailure, signals[0].Type)
	assert.Equal(t, 2, signals[0].Frequency)
	// base 0.90, frequency factor min(1, 2*2/4) = 1.0
	assert.InDelta(t, 0.90, signals[0].SeverityScore, 1e-9)

	var grip *DefectSignal
	for i := range signals {
		if signals[i].Type == persistence.DefectPoorGrip {
			grip = &signals[i]
		}
	}
	require.NotNil(t, grip)
	assert.Equal(t, 1, grip.Frequency)
	// base 0.85, frequency factor min(1, 2*1/4) = 0.5
	assert.InDelta(t, 0.425, grip.SeverityScore, 1e-9)
}

func TestExtractDefectsSeverityOrdering(t *testing.T) {
	e := NewExtractor(nil)

	in := []persistence.Review{
		review(1, "cheap plastic all over"),
		review(1, "cheap plastic again"),
		review(1, "cheap plastic, and the arm snapped"),
		review(2, "fine otherwise"),
	}

	signals := e.ExtractDefects(in)
	require.Len(t, signals, 2)
	for i := 1; i < len(signals); i++ {
		assert.GreaterOrEqual(t, signals[i-1].SeverityScore, signals[i].SeverityScore)
	}
}

func TestExtractDefectsEmptyAndPositiveOnly(t *testing.T) {
	e := NewExtractor(nil)

	assert.Nil(t, e.ExtractDefects(nil))
	assert.Nil(t, e.ExtractDefects([]persistence.Review{
		review(5, "it broke my expectations, wonderful"),
		review(4, "solid"),
	}))
	// Negative but bodyless reviews carry no evidence.
	assert.Nil(t, e.ExtractDefects([]persistence.Review{review(1, "")}))
}

func TestExtractWishes(t *testing.T) {
	e := NewExtractor(nil)

	in := []persistence.Review{
		review(3, "Decent. I wish it had a longer arm."),
		review(4, "I wish it had a longer arm for my truck."),
		review(2, "Would be nice if it came with a spare adhesive pad."),
	}

	wishes := e.ExtractWishes(in)
	require.NotEmpty(t, wishes)

	assert.Equal(t, 2, wishes[0].Mentions)
	assert.Contains(t, wishes[0].Phrase, "longer arm")
	assert.InDelta(t, 0.2, wishes[0].Confidence, 1e-9)
	assert.NotEmpty(t, wishes[0].SourceQuotes)

	// The one-off spare-pad mention never clears the floor.
	for _, w := range wishes {
		assert.GreaterOrEqual(t, w.Mentions, 2)
	}
}

func TestExtractWishesGroupsSimilarPhrasings(t *testing.T) {
	e := NewExtractor(nil)

	in := []persistence.Review{
		review(3, "Needs a stronger suction cup."),
		review(2, "It needs a stronger suction cup!"),
		review(3, "Would be great if the suction cup was stronger."),
	}

	wishes := e.ExtractWishes(in)
	require.NotEmpty(t, wishes)
	assert.GreaterOrEqual(t, wishes[0].Mentions, 2)
}

func TestBuildProfileReadinessFloor(t *testing.T) {
	e := NewExtractor(nil)

	var few []persistence.Review
	for i := 0; i < 19; i++ {
		few = append(few, review(1, fmt.Sprintf("broke on day %d", i)))
	}
	p := e.BuildProfile(few)
	assert.False(t, p.ReviewsReady)
	assert.Equal(t, 19, p.NegativeAnalyzed)

	few = append(few, review(2, "snapped in half"))
	p = e.BuildProfile(few)
	assert.True(t, p.ReviewsReady)
	assert.Equal(t, 20, p.NegativeAnalyzed)
}

func TestBuildProfile(t *testing.T) {
	e := NewExtractor(nil)

	var in []persistence.Review
	for i := 0; i < 12; i++ {
		in = append(in, review(1, fmt.Sprintf("The arm broke, attempt %d. I wish it had a metal hinge.", i)))
	}
	for i := 0; i < 8; i++ {
		in = append(in, review(2, fmt.Sprintf("Slips constantly, day %d.", i)))
	}
	in = append(in, review(5, "love it"))

	p := e.BuildProfile(in)

	assert.Equal(t, 21, p.ReviewsAnalyzed)
	assert.Equal(t, 20, p.NegativeAnalyzed)
	assert.True(t, p.ReviewsReady)
	assert.Equal(t, persistence.DefectMechanicalFailure, p.DominantPain)
	assert.NotEmpty(t, p.TopDefects)
	assert.NotEmpty(t, p.MissingFeatures)
	assert.Greater(t, p.ImprovementScore, 0.0)
	assert.LessOrEqual(t, p.ImprovementScore, 1.0)
}

func TestImprovementScoreZeroWithoutNegatives(t *testing.T) {
	e := NewExtractor(nil)
	p := e.BuildProfile([]persistence.Review{review(5, "perfect")})
	assert.Zero(t, p.ImprovementScore)
	assert.False(t, p.ReviewsReady)
}
