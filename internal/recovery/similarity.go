package recovery

import (
	"reflect"
	"strings"
)

// similarityThreshold is the score above which two failures are similar
const similarityThreshold = 0.7

// Levenshtein returns the edit distance between a and b, counted in runes
func Levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	return prev[len(rb)]
}

// MessageSimilarity is 1 minus the case-insensitive edit distance normalized by
// the longer message. Two empty messages are identical.
func MessageSimilarity(a, b string) float64 {
	a, b = strings.ToLower(a), strings.ToLower(b)
	longest := max(len([]rune(a)), len([]rune(b)))
	if longest == 0 {
		return 1.0
	}
	return 1 - float64(Levenshtein(a, b))/float64(longest)
}

// ContextSimilarity is the fraction of shared keys whose values are equal,
// 0 when the contexts share no key
func ContextSimilarity(a, b Context) float64 {
	shared, equal := 0, 0
	for key, av := range a {
		bv, ok := b[key]
		if !ok {
			continue
		}
		shared++
		if valuesEqual(av, bv) {
			equal++
		}
	}

	if shared == 0 {
		return 0
	}
	return float64(equal) / float64(shared)
}

// IsSimilar reports whether a historical record resembles the current failure
func IsSimilar(info ErrorInfo, errCtx Context, record ErrorRecord) bool {
	return MessageSimilarity(info.Message, record.Error.Message) > similarityThreshold ||
		ContextSimilarity(errCtx, record.Context) > similarityThreshold
}

// valuesEqual compares context values, treating numbers of different Go types
// as equal when they hold the same value
func valuesEqual(a, b interface{}) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
