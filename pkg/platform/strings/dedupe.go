// Package strings provides string normalization utilities.
package strings

import (
	"sort"
	"strings"
	"unicode"
)

// DedupeAndTrim removes duplicates and empty strings from a slice,
// trimming whitespace from each element. Order is preserved.
func DedupeAndTrim(values []string) []string {
	return dedupe(values, strings.TrimSpace)
}

// DedupeAndTrimUpper trims, upper-cases and dedupes values, then sorts
// them. Jurisdiction code sets go through this so that merge inputs
// do not depend on caller ordering.
//
// Example:
//
//	DedupeAndTrimUpper([]string{" us", "AE", "us "})
//	// Returns: []string{"AE", "US"}
func DedupeAndTrimUpper(values []string) []string {
	out := dedupe(values, func(s string) string {
		return strings.ToUpper(strings.TrimSpace(s))
	})
	sort.Strings(out)
	return out
}

// NormalizeName folds a person or entity name for fuzzy comparison:
// lower case, punctuation dropped, whitespace collapsed.
//
// Example:
//
//	NormalizeName("  Al-Rashid,  Omar ")
//	// Returns: "alrashid omar"
func NormalizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	space := false
	for _, r := range strings.TrimSpace(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(unicode.ToLower(r))
		case unicode.IsSpace(r):
			space = true
		}
	}
	return b.String()
}

func dedupe(values []string, norm func(string) string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))

	for _, v := range values {
		n := norm(v)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; !ok {
			seen[n] = struct{}{}
			result = append(result, n)
		}
	}

	return result
}
