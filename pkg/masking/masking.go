// Package masking substitutes placeholders for raw PII in text and back.
package masking

import (
	"regexp"
	"sort"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\[.+?\]`)

// Mask replaces every raw value in mapping (raw -> placeholder) with its
// placeholder. Matching is literal and case-insensitive and happens in a
// single pass, so inserted placeholders are never rescanned. Where values
// overlap the longer one wins.
func Mask(text string, mapping map[string]string) string {
	values := make([]string, 0, len(mapping))
	for v := range mapping {
		if v != "" {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return text
	}
	sort.Slice(values, func(i, j int) bool {
		if len(values[i]) != len(values[j]) {
			return len(values[i]) > len(values[j])
		}
		return values[i] < values[j]
	})

	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = regexp.QuoteMeta(v)
	}
	re := regexp.MustCompile(`(?i)(?:` + strings.Join(quoted, "|") + `)`)

	return re.ReplaceAllStringFunc(text, func(match string) string {
		if ph, ok := mapping[match]; ok {
			return ph
		}
		for _, v := range values {
			if strings.EqualFold(v, match) {
				return mapping[v]
			}
		}
		return match
	})
}

// Unmask replaces every placeholder found in text with its raw value from
// reverse (placeholder -> raw). Placeholders missing from reverse are left in
// place and returned, distinct, in order of first appearance.
func Unmask(text string, reverse map[string]string) (string, []string) {
	var unknown []string
	seen := make(map[string]bool)
	out := placeholderPattern.ReplaceAllStringFunc(text, func(ph string) string {
		if raw, ok := reverse[ph]; ok {
			return raw
		}
		if !seen[ph] {
			seen[ph] = true
			unknown = append(unknown, ph)
		}
		return ph
	})
	return out, unknown
}

// Placeholders returns every bracketed token in text, in order, duplicates
// included.
func Placeholders(text string) []string {
	return placeholderPattern.FindAllString(text, -1)
}
