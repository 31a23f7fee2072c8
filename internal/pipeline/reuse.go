package pipeline

import (
	"strings"

	"github.com/dvloznov/txn-tidy/internal/domain"
	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// snapToCandidate replaces a proposed description with the closest candidate
// description of the same category when their similarity reaches threshold.
// A threshold of 0 leaves the decision to the model.
func snapToCandidate(proposed, category string, candidates []domain.MatchCandidate, threshold float64) string {
	if threshold <= 0 || proposed == "" {
		return proposed
	}

	best := proposed
	bestRatio := 0.0
	for _, c := range candidates {
		if c.Category != category || c.UpdatedDescription == "" {
			continue
		}
		ratio := similarity(proposed, c.UpdatedDescription)
		if ratio >= threshold && ratio > bestRatio {
			best = c.UpdatedDescription
			bestRatio = ratio
		}
	}
	return best
}

// similarity is the Levenshtein ratio of the lowercased strings, in [0,1].
func similarity(a, b string) float64 {
	return levenshtein.RatioForStrings(
		[]rune(strings.ToLower(a)),
		[]rune(strings.ToLower(b)),
		levenshtein.DefaultOptions,
	)
}
