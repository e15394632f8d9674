// Package reviews extracts deterministic defect and feature-request
// signals from stored review text. No model calls, fully reproducible.
package reviews

import (
	"regexp"

	"github.com/smartacus/smartacus/internal/persistence"
)

// DefectEntry binds a defect type to its keyword set and severity base
// weight. Keywords match case-insensitively as substrings of the body.
type DefectEntry struct {
	Type       persistence.DefectType
	Keywords   []string
	BaseWeight float64
}

// Lexicon is the frozen defect lexicon passed to the extractor. It is
// part of the run's configuration snapshot; never mutate a shared one.
type Lexicon struct {
	Version string        `json:"version"`
	Entries []DefectEntry `json:"entries"`
}

// DefaultLexicon is the niche calibration for car phone mounts.
func DefaultLexicon() *Lexicon {
	return &Lexicon{
		Version: "v1.6",
		Entries: []DefectEntry{
			{
				Type:       persistence.DefectMechanicalFailure,
				BaseWeight: 0.90,
				Keywords: []string{
					"broke", "broken", "snapped", "cracked", "fell apart",
					"stopped working", "collapsed", "shattered", "split",
				},
			},
			{
				Type:       persistence.DefectPoorGrip,
				BaseWeight: 0.85,
				Keywords: []string{
					"slips", "slides", "falls off", "doesn't hold", "loose",
					"phone fell", "dropped my phone", "can't hold", "keeps falling",
					"doesn't stay", "won't grip", "no grip",
				},
			},
			{
				Type:       persistence.DefectDurability,
				BaseWeight: 0.75,
				Keywords: []string{
					"after a month", "after a week", "few months later",
					"didn't last", "wore out", "degraded", "stopped sticking",
					"adhesive wore off", "suction lost over time",
				},
			},
			{
				Type:       persistence.DefectCompatibilityIssue,
				BaseWeight: 0.70,
				Keywords: []string{
					"doesn't fit", "too small", "too big", "case too thick",
					"won't fit my phone", "not compatible", "blocks camera",
					"blocks buttons", "can't charge", "magsafe doesn't work",
					"doesn't work with case", "phone too heavy",
				},
			},
			{
				Type:       persistence.DefectHeatIssue,
				BaseWeight: 0.65,
				Keywords: []string{
					"overheats", "gets hot", "phone heats up", "too hot",
					"blocks airflow", "heat damage",
				},
			},
			{
				Type:       persistence.DefectInstallationIssue,
				BaseWeight: 0.60,
				Keywords: []string{
					"hard to install", "difficult to mount", "instructions",
					"confusing setup", "can't attach", "won't stick",
					"doesn't stick", "suction doesn't hold", "suction cup failed",
					"won't stay on windshield", "won't stay on dash",
				},
			},
			{
				Type:       persistence.DefectVibrationNoise,
				BaseWeight: 0.55,
				Keywords: []string{
					"vibrates", "rattles", "shakes", "buzzes", "noisy",
					"wobbles", "jiggles", "unstable on bumps",
				},
			},
			{
				Type:       persistence.DefectMaterialQuality,
				BaseWeight: 0.50,
				Keywords: []string{
					"cheap plastic", "feels flimsy", "low quality", "thin",
					"feels cheap", "poor quality", "plastic broke",
					"rubber peeled", "paint chipped", "creaks",
				},
			},
			{
				Type:       persistence.DefectSizeFit,
				BaseWeight: 0.40,
				Keywords: []string{
					"too bulky", "blocks view", "obstructs", "takes too much space",
					"too large", "sticks out", "in the way",
				},
			},
		},
	}
}

// Wish patterns capture the tail of a feature request sentence.
var wishPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)i (?:\w+ )?wish (?:it )?(?:had|was|were|could|would)(.*?)(?:\.|!|$)`),
	regexp.MustCompile(`(?i)would be (?:nice|great|better|awesome) if(.*?)(?:\.|!|$)`),
	regexp.MustCompile(`(?i)should (?:have|come with|include)(.*?)(?:\.|!|$)`),
	regexp.MustCompile(`(?i)needs? (?:a |an |to have )(.*?)(?:\.|!|$)`),
	regexp.MustCompile(`(?i)(?:missing|lacks?) (?:a |an )?(.*?)(?:\.|!|$)`),
	regexp.MustCompile(`(?i)if only (?:it )?(.*?)(?:\.|!|$)`),
}

// Stopwords stripped from wish phrases before grouping. English core
// plus niche terms that show up in nearly every wish and create
// artificial overlaps during grouping.
var wishStopwords = map[string]struct{}{}

func init() {
	english := []string{
		"a", "an", "the", "it", "its", "is", "was", "were", "be", "been",
		"have", "has", "had", "do", "does", "did", "will", "would", "could",
		"should", "can", "may", "might", "shall", "to", "of", "in", "on",
		"for", "with", "at", "by", "from", "that", "this", "these", "those",
		"and", "or", "but", "not", "so", "if", "then", "also", "just",
		"very", "really", "too", "more", "much", "some", "any", "all",
		"my", "your", "their", "our", "i", "me", "you", "we", "they",
		"came", "come", "built", "one", "like",
	}
	niche := []string{
		"phone", "mount", "car", "holder", "dashboard", "windshield",
		"stand", "cradle", "bracket", "device",
	}
	for _, w := range english {
		wishStopwords[w] = struct{}{}
	}
	for _, w := range niche {
		wishStopwords[w] = struct{}{}
	}
}
