// Package match scores free-text company names against each other so the
// engine can bridge the inconsistent naming used by registrars, exchanges
// and listing sites ("ICICI Prudential AMC" vs "ICICI Prudential Asset
// Management Company Limited").
package match

import "strings"

// Acceptance thresholds for BestMatch.
const (
	LooseThreshold  = 0.3 // registrar dropdown matching
	StrictThreshold = 0.6 // automatic record linking
)

// stopTokens are corporate-suffix words that carry no identity.
var stopTokens = map[string]bool{
	"limited": true,
	"ltd":     true,
	"private": true,
	"pvt":     true,
	"india":   true,
}

func tokenize(s string) map[string]bool {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	set := make(map[string]bool)
	for _, tok := range strings.Fields(b.String()) {
		if stopTokens[tok] {
			continue
		}
		set[tok] = true
	}
	return set
}

// Similarity returns the Jaccard similarity of the two names' token sets
// in [0,1], after lowercasing, punctuation stripping and stop-word removal.
// Either side tokenizing to nothing scores 0.
func Similarity(a, b string) float64 {
	ta, tb := tokenize(a), tokenize(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inter := 0
	for tok := range ta {
		if tb[tok] {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}

func alnum(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsSubstringMatch reports whether one name contains the other once both
// are reduced to alphanumeric lowercase. Exact containment is far more
// reliable than token overlap for abbreviated names, so callers treat it
// as a near-certain match.
func IsSubstringMatch(a, b string) bool {
	na, nb := alnum(a), alnum(b)
	if na == "" || nb == "" {
		return false
	}
	return strings.Contains(na, nb) || strings.Contains(nb, na)
}

// BestMatch picks the candidate that best matches name. Substring matches
// win outright; otherwise the highest Similarity at or above threshold is
// taken. Returns (-1, false) rather than a weak guess when nothing clears
// the bar.
func BestMatch(name string, candidates []string, threshold float64) (int, bool) {
	best, bestScore := -1, 0.0
	for i, c := range candidates {
		if IsSubstringMatch(name, c) {
			return i, true
		}
		if s := Similarity(name, c); s > bestScore {
			best, bestScore = i, s
		}
	}
	if best >= 0 && bestScore >= threshold {
		return best, true
	}
	return -1, false
}
