package signal

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	pstrings "arbiter/pkg/platform/strings"
)

var nameAffixes = map[string]struct{}{
	"mr": {}, "mrs": {}, "ms": {}, "dr": {}, "prof": {}, "sir": {},
	"jr": {}, "sr": {}, "ii": {}, "iii": {}, "phd": {},
}

// canonicalName normalizes a name and drops honorifics and suffixes.
func canonicalName(name string) string {
	tokens := strings.Fields(pstrings.NormalizeName(name))
	kept := tokens[:0]
	for _, t := range tokens {
		if _, skip := nameAffixes[t]; !skip {
			kept = append(kept, t)
		}
	}
	return strings.Join(kept, " ")
}

// sortedTokens makes "omar al rashid" and "al rashid omar" compare equal.
func sortedTokens(name string) string {
	tokens := strings.Fields(name)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

// nameDistance returns the edit distance between two names, comparing
// both as written and with tokens reordered.
func nameDistance(a, b string) int {
	ca, cb := canonicalName(a), canonicalName(b)
	if ca == "" || cb == "" {
		return -1
	}
	d := levenshtein.ComputeDistance(ca, cb)
	if alt := levenshtein.ComputeDistance(sortedTokens(ca), sortedTokens(cb)); alt < d {
		d = alt
	}
	return d
}

// withinDistance reports a match when the distance is at most maxDist and
// small relative to the names compared, so short names do not match
// arbitrary strings.
func withinDistance(a, b string, maxDist int) (int, bool) {
	d := nameDistance(a, b)
	if d < 0 || d > maxDist {
		return d, false
	}
	shorter := len(canonicalName(a))
	if l := len(canonicalName(b)); l < shorter {
		shorter = l
	}
	return d, d == 0 || d*4 <= shorter
}
