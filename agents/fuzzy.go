package agents

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
)

// fuzzyScore blends three edit-distance metrics over lowercased names. The
// partial ratio tolerates prefixes like "applicant_", and the token-sort
// ratio tolerates reordered words.
func fuzzyScore(a, b string) float64 {
	a = strings.ToLower(a)
	b = strings.ToLower(b)
	return ratio(a, b)*0.4 + partialRatio(a, b)*0.3 + tokenSortRatio(a, b)*0.3
}

// ratio is normalized Levenshtein similarity in [0,1].
func ratio(a, b string) float64 {
	if a == b {
		return 1.0
	}
	longest := max(len([]rune(a)), len([]rune(b)))
	if longest == 0 {
		return 1.0
	}
	distance := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(distance)/float64(longest)
}

// partialRatio is the best ratio of the shorter string against any
// equal-length window of the longer one.
func partialRatio(a, b string) float64 {
	shorter, longer := []rune(a), []rune(b)
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	if len(shorter) == 0 {
		return 0
	}
	best := 0.0
	for i := 0; i+len(shorter) <= len(longer); i++ {
		window := string(longer[i : i+len(shorter)])
		best = math.Max(best, ratio(string(shorter), window))
		if best == 1.0 {
			break
		}
	}
	return best
}

// tokenSortRatio compares the two names with their words sorted, so
// "last name" and "name_last" match.
func tokenSortRatio(a, b string) float64 {
	return ratio(sortedTokens(a), sortedTokens(b))
}

func sortedTokens(s string) string {
	tokens := tokenizeName(s)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

// tokenizeName splits a field name into lowercase words, breaking on
// non-alphanumeric runs and camelCase boundaries.
func tokenizeName(s string) []string {
	var tokens []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, strings.ToLower(current.String()))
			current.Reset()
		}
	}
	var prev rune
	for _, r := range s {
		switch {
		case unicode.IsUpper(r) && unicode.IsLower(prev):
			flush()
			current.WriteRune(r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			current.WriteRune(r)
		default:
			flush()
		}
		prev = r
	}
	flush()
	return tokens
}

// semanticScore is the cosine similarity of the two names' term-frequency
// vectors. It catches shared vocabulary that character-level edit distance
// underweights, like "emailAddress" against "email_addr".
func semanticScore(a, b string) float64 {
	aVec := termFrequency(tokenizeName(a))
	bVec := termFrequency(tokenizeName(b))

	var dot, normA, normB float64
	for term, va := range aVec {
		if vb, ok := bVec[term]; ok {
			dot += va * vb
		}
		normA += va * va
	}
	for _, vb := range bVec {
		normB += vb * vb
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func termFrequency(tokens []string) map[string]float64 {
	vec := make(map[string]float64, len(tokens))
	for _, token := range tokens {
		vec[token]++
		// Include prefixes so truncated forms like "addr" still overlap.
		if len(token) > 4 {
			vec[token[:4]] += 0.5
		}
	}
	return vec
}
