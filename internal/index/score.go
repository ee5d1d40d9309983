package index

import (
	"regexp"
	"strings"
)

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// Tokenize returns the set of lowercase words in text.
func Tokenize(text string) map[string]struct{} {
	words := wordPattern.FindAllString(strings.ToLower(text), -1)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// Score rates content against a query by word overlap:
//
//   - shared words: |shared| / |query|, capped at 1
//   - no shared words: 0.3 * (query words that are a substring of some content
//     word, or contain one) / |query|
//   - otherwise 0
func Score(queryWords, contentWords map[string]struct{}) float64 {
	if len(queryWords) == 0 {
		return 0
	}

	matches := 0
	for w := range queryWords {
		if _, ok := contentWords[w]; ok {
			matches++
		}
	}

	if matches == 0 {
		partial := 0
		for q := range queryWords {
			for c := range contentWords {
				if strings.Contains(c, q) || strings.Contains(q, c) {
					partial++
					break
				}
			}
		}
		if partial == 0 {
			return 0
		}
		return 0.3 * float64(partial) / float64(len(queryWords))
	}

	if matches >= len(queryWords) {
		return 1.0
	}
	return min(float64(matches)/float64(len(queryWords)), 1.0)
}
