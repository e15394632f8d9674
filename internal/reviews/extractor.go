package reviews

import (
	"regexp"
	"sort"
	"strings"

	"github.com/smartacus/smartacus/internal/persistence"
)

const (
	maxQuotes          = 3
	quoteMaxLen        = 300
	minWishLen         = 5
	maxWishLen         = 100
	minWishMentions    = 2
	wishSimilarity     = 0.6
	minSharedTokens    = 1
	readyNegativeFloor = 20
)

// DefectSignal is one aggregated defect finding for a product.
type DefectSignal struct {
	Type          persistence.DefectType `json:"defect_type"`
	Frequency     int                    `json:"frequency"`
	SeverityScore float64                `json:"severity_score"`
	ExampleQuotes []string               `json:"example_quotes"`
}

// FeatureRequest is one aggregated wish phrase for a product.
type FeatureRequest struct {
	Phrase       string   `json:"phrase"`
	Mentions     int      `json:"mentions"`
	Confidence   float64  `json:"confidence"`
	SourceQuotes []string `json:"source_quotes"`
}

// Profile is the per-product roll-up the scorer consumes.
type Profile struct {
	TopDefects       []DefectSignal         `json:"top_defects"`
	MissingFeatures  []FeatureRequest       `json:"missing_features"`
	DominantPain     persistence.DefectType `json:"dominant_pain,omitempty"`
	ImprovementScore float64                `json:"improvement_score"`
	ReviewsAnalyzed  int                    `json:"reviews_analyzed"`
	NegativeAnalyzed int                    `json:"negative_analyzed"`
	ReviewsReady     bool                   `json:"reviews_ready"`
}

// Extractor runs the frozen lexicon over stored reviews.
type Extractor struct {
	lexicon *Lexicon
}

// NewExtractor builds an extractor over the given lexicon. A nil
// lexicon selects the default.
func NewExtractor(lexicon *Lexicon) *Extractor {
	if lexicon == nil {
		lexicon = DefaultLexicon()
	}
	return &Extractor{lexicon: lexicon}
}

// ExtractDefects aggregates defect signals over the negative subset
// (rating <= 3, non-empty body) of the given reviews, sorted by
// severity descending.
func (e *Extractor) ExtractDefects(reviews []persistence.Review) []DefectSignal {
	negatives := negativeSubset(reviews)
	if len(negatives) == 0 {
		return nil
	}

	type hit struct {
		count  int
		quotes []string
	}
	hits := make(map[persistence.DefectType]*hit)

	for _, r := range negatives {
		body := strings.ToLower(r.Body)
		for _, entry := range e.lexicon.Entries {
			if !matchesAny(body, entry.Keywords) {
				continue
			}
			h := hits[entry.Type]
			if h == nil {
				h = &hit{}
				hits[entry.Type] = h
			}
			h.count++
			h.quotes = append(h.quotes, truncate(r.Body, quoteMaxLen))
		}
	}

	var signals []DefectSignal
	for _, entry := range e.lexicon.Entries {
		h, ok := hits[entry.Type]
		if !ok || h.count == 0 {
			continue
		}
		freqRate := float64(h.count) / float64(len(negatives))
		frequencyFactor := minF(1, 2*freqRate)
		severity := minF(1, entry.BaseWeight*frequencyFactor)

		signals = append(signals, DefectSignal{
			Type:          entry.Type,
			Frequency:     h.count,
			SeverityScore: severity,
			ExampleQuotes: shortestQuotes(h.quotes, maxQuotes),
		})
	}

	sort.SliceStable(signals, func(i, j int) bool {
		if signals[i].SeverityScore != signals[j].SeverityScore {
			return signals[i].SeverityScore > signals[j].SeverityScore
		}
		if signals[i].Frequency != signals[j].Frequency {
			return signals[i].Frequency > signals[j].Frequency
		}
		return signals[i].Type < signals[j].Type
	})
	return signals
}

// ExtractWishes runs the wish regexes over every review body, then
// normalizes and groups similar phrasings before counting. One-off
// mentions are dropped.
func (e *Extractor) ExtractWishes(reviews []persistence.Review) []FeatureRequest {
	type hit struct {
		count  int
		quotes []string
	}
	hits := map[string]*hit{}
	var order []string

	for _, r := range reviews {
		if r.Body == "" {
			continue
		}
		for _, pat := range wishPatterns {
			for _, m := range pat.FindAllStringSubmatch(r.Body, -1) {
				phrase := strings.TrimRight(strings.TrimSpace(m[1]), ".,!?")
				if len(phrase) < minWishLen || len(phrase) > maxWishLen {
					continue
				}
				key := strings.ToLower(strings.TrimSpace(phrase))
				h := hits[key]
				if h == nil {
					h = &hit{}
					hits[key] = h
					order = append(order, key)
				}
				h.count++
				if len(h.quotes) < maxQuotes {
					h.quotes = append(h.quotes, truncate(r.Body, quoteMaxLen))
				}
			}
		}
	}

	groups := groupSimilar(order)

	var requests []FeatureRequest
	for _, group := range groups {
		total := 0
		var quotes []string
		for _, k := range group {
			total += hits[k].count
			quotes = append(quotes, hits[k].quotes...)
		}
		if total < minWishMentions {
			continue
		}
		canonical := canonicalKey(group, func(k string) int { return hits[k].count })
		if len(quotes) > maxQuotes {
			quotes = quotes[:maxQuotes]
		}
		requests = append(requests, FeatureRequest{
			Phrase:       canonical,
			Mentions:     total,
			Confidence:   minF(1, float64(total)/10),
			SourceQuotes: quotes,
		})
	}

	sort.SliceStable(requests, func(i, j int) bool {
		if requests[i].Mentions != requests[j].Mentions {
			return requests[i].Mentions > requests[j].Mentions
		}
		return requests[i].Phrase < requests[j].Phrase
	})
	return requests
}

// BuildProfile combines defect and wish extraction into the
// per-product improvement profile.
func (e *Extractor) BuildProfile(reviews []persistence.Review) *Profile {
	negatives := negativeSubset(reviews)
	defects := e.ExtractDefects(reviews)
	wishes := e.ExtractWishes(reviews)

	matched := 0
	for _, r := range negatives {
		body := strings.ToLower(r.Body)
		for _, entry := range e.lexicon.Entries {
			if matchesAny(body, entry.Keywords) {
				matched++
				break
			}
		}
	}

	p := &Profile{
		TopDefects:       topN(defects, 5),
		MissingFeatures:  wishes,
		ImprovementScore: improvementScore(defects, wishes, matched, len(negatives)),
		ReviewsAnalyzed:  len(reviews),
		NegativeAnalyzed: len(negatives),
		ReviewsReady:     len(negatives) >= readyNegativeFloor,
	}
	if len(defects) > 0 {
		p.DominantPain = defects[0].Type
	}
	return p
}

// improvementScore = min(1, weightedAvg(top5 severities)·(0.5+0.5·coverage)
// + min(0.2, 0.1·|wishes with mentions ≥3|)). Coverage is the share of
// negative reviews matching at least one defect type.
func improvementScore(defects []DefectSignal, wishes []FeatureRequest, matched, negatives int) float64 {
	if negatives == 0 {
		return 0
	}

	top := topN(defects, 5)
	var weightedSum, freqSum float64
	for _, d := range top {
		weightedSum += d.SeverityScore * float64(d.Frequency)
		freqSum += float64(d.Frequency)
	}

	var defectScore float64
	if freqSum > 0 {
		coverage := minF(1, float64(matched)/float64(maxI(1, negatives)))
		defectScore = (weightedSum / freqSum) * (0.5 + 0.5*coverage)
	}

	strong := 0
	for _, w := range wishes {
		if w.Mentions >= 3 {
			strong++
		}
	}
	wishBonus := minF(0.2, 0.1*float64(strong))

	return minF(1, defectScore+wishBonus)
}

func negativeSubset(reviews []persistence.Review) []persistence.Review {
	var out []persistence.Review
	for _, r := range reviews {
		if r.Rating <= 3 && r.Body != "" {
			out = append(out, r)
		}
	}
	return out
}

func matchesAny(body string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(body, kw) {
			return true
		}
	}
	return false
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9\s]`)

// normalizeWishKey lowercases, strips punctuation and stopwords, and
// collapses whitespace.
func normalizeWishKey(text string) string {
	text = nonAlnum.ReplaceAllString(strings.ToLower(strings.TrimSpace(text)), "")
	var kept []string
	for _, w := range strings.Fields(text) {
		if _, stop := wishStopwords[w]; stop || len(w) <= 1 {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

// groupSimilar merges raw keys whose normalized forms are similar.
// Quadratic, but the distinct wish count per product is small.
func groupSimilar(keys []string) [][]string {
	var norms []string
	byNorm := map[string][]string{}
	for _, k := range keys {
		n := normalizeWishKey(k)
		if n == "" {
			continue
		}
		if _, seen := byNorm[n]; !seen {
			norms = append(norms, n)
		}
		byNorm[n] = append(byNorm[n], k)
	}

	used := map[string]bool{}
	var groups [][]string
	for i, n1 := range norms {
		if used[n1] {
			continue
		}
		used[n1] = true
		group := append([]string{}, byNorm[n1]...)
		t1 := tokenSet(n1)
		for _, n2 := range norms[i+1:] {
			if used[n2] {
				continue
			}
			if sharedTokens(t1, tokenSet(n2)) < minSharedTokens {
				continue
			}
			if similarity(n1, n2) >= wishSimilarity {
				used[n2] = true
				group = append(group, byNorm[n2]...)
			}
		}
		groups = append(groups, group)
	}
	return groups
}

// canonicalKey picks the most frequent phrasing; ties prefer the most
// informative normalized form, then the shortest raw phrase.
func canonicalKey(group []string, count func(string) int) string {
	best := group[0]
	for _, k := range group[1:] {
		switch {
		case count(k) != count(best):
			if count(k) > count(best) {
				best = k
			}
		case len(normalizeWishKey(k)) != len(normalizeWishKey(best)):
			if len(normalizeWishKey(k)) > len(normalizeWishKey(best)) {
				best = k
			}
		case len(k) < len(best):
			best = k
		}
	}
	return best
}

func tokenSet(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, t := range strings.Fields(s) {
		out[t] = struct{}{}
	}
	return out
}

func sharedTokens(a, b map[string]struct{}) int {
	n := 0
	for t := range a {
		if _, ok := b[t]; ok {
			n++
		}
	}
	return n
}

// similarity is 2·LCS/(len(a)+len(b)) over runes, the classic
// sequence-matcher ratio.
func similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	if len(ra)+len(rb) == 0 {
		return 0
	}
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			if ra[i-1] == rb[j-1] {
				cur[j] = prev[j-1] + 1
			} else if prev[j] >= cur[j-1] {
				cur[j] = prev[j]
			} else {
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	lcs := prev[len(rb)]
	return 2 * float64(lcs) / float64(len(ra)+len(rb))
}

// shortestQuotes keeps the n shortest quotes, preserving insertion
// order among equals.
func shortestQuotes(quotes []string, n int) []string {
	sorted := make([]string, len(quotes))
	copy(sorted, quotes)
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i]) < len(sorted[j]) })
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

func topN(signals []DefectSignal, n int) []DefectSignal {
	if len(signals) <= n {
		return signals
	}
	return signals[:n]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxI(a, b int) int {
	if a > b {
		return a
	}
	return b
}
