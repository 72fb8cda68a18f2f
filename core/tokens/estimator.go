// Package tokens provides a word-count based token estimator.
//
// The estimate governs how much content gets assembled before a model call.
// It is advisory only and never replaces a backend's own token accounting.
package tokens

import (
	"math"
	"strings"
)

const (
	// TokensPerWord is the empirically chosen words-to-tokens ratio for
	// typical English prose.
	TokensPerWord = 0.55
	// MarkupOverhead compensates for structural tags wrapping reference
	// passages, which the word heuristic undercounts.
	MarkupOverhead = 1.15
)

// Estimate approximates the token count of text from its whitespace-separated
// word count. Deterministic, no I/O.
func Estimate(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return int(math.Ceil(float64(words) / TokensPerWord))
}

// EstimateWithMarkup is Estimate with the markup correction applied, for text
// that carries structural tags around passages.
func EstimateWithMarkup(text string) int {
	estimate := Estimate(text)
	if estimate == 0 {
		return 0
	}
	return int(math.Ceil(float64(estimate) * MarkupOverhead))
}
