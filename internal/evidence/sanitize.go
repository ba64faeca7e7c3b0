package evidence

import (
	"fmt"
	"hash/fnv"
	"strings"

	"gleaner/internal/textutil"
)

// Confidence levels reported by extraction.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

const independenceQuoteChars = 160

// Weights are the stored quality and relevance of an evidence unit.
type Weights struct {
	Quality   float64
	Relevance float64
}

// SanitizeVerbatim folds typographic quotes, replaces control characters,
// and collapses whitespace.
func SanitizeVerbatim(text string) string {
	return textutil.CollapseWhitespace(textutil.StripControl(textutil.FoldQuotes(text)))
}

// NormalizeConfidence maps free-form confidence to high, medium or low.
// Unknown values are medium.
func NormalizeConfidence(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case ConfidenceHigh, "strong":
		return ConfidenceHigh
	case ConfidenceLow, "weak":
		return ConfidenceLow
	default:
		return ConfidenceMedium
	}
}

// WeightsFor returns the weights for a normalized confidence level.
func WeightsFor(confidence string) Weights {
	switch confidence {
	case ConfidenceHigh:
		return Weights{Quality: 0.95, Relevance: 0.9}
	case ConfidenceLow:
		return Weights{Quality: 0.6, Relevance: 0.6}
	default:
		return Weights{Quality: 0.8, Relevance: 0.8}
	}
}

// IndependenceKey groups near-identical quotes about the same trait. It is
// the FNV-1a hash of the normalized quote prefix and the main facet label.
func IndependenceKey(verbatim, mainTag string) string {
	quote := textutil.Truncate(textutil.NormalizeSearchText(verbatim), independenceQuoteChars)
	h := fnv.New32a()
	_, _ = h.Write([]byte(quote + "|" + textutil.NormalizeLabel(mainTag)))
	return fmt.Sprintf("%08x", h.Sum32())
}
