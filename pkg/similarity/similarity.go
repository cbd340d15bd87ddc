// Package similarity provides approximate string matching for person names.
package similarity

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

// DefaultThreshold is the largest edit distance at which two names are
// considered the same person. Kept small to favour precision over recall.
const DefaultThreshold = 2

// Distance returns the Levenshtein distance between a and b, ignoring case.
// Distance is counted in runes, so accented names cost one edit per letter.
func Distance(a, b string) int {
	return levenshtein.ComputeDistance(strings.ToLower(a), strings.ToLower(b))
}

// Within reports whether a and b are at most threshold edits apart.
// A negative threshold never matches.
func Within(a, b string, threshold int) bool {
	if threshold < 0 {
		return false
	}
	return Distance(a, b) <= threshold
}
