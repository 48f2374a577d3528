package store

import (
	"strings"
	"unicode"
)

// MinLatinTokenLength filters very short latin tokens; Hangul tokens are kept
// from a single syllable because one syllable often carries a full morpheme
// (e.g. "셋", "템").
const MinLatinTokenLength = 2

// DefaultStopWords are filler terms common in guide text and queries.
// Mixed Korean/English because the corpus and queries are both.
var DefaultStopWords = []string{
	// Korean particles and fillers that survive tokenization as bare tokens
	"그리고", "하지만", "그래서", "또는", "및", "등", "것", "수", "때",
	"어떻게", "무엇", "어디", "뭐", "좀", "요", "인가요", "있나요", "해주세요",
	// English fillers
	"the", "a", "an", "and", "or", "of", "to", "in", "is", "are",
	"what", "how", "where", "please",
}

// Tokenize normalizes text into index terms: case-folded, split on anything
// that is not a letter or digit, short latin tokens dropped. The same
// function analyzes both the corpus and incoming queries so scoring stays
// consistent.
func Tokenize(text string) []string {
	var tokens []string

	for _, word := range splitWords(text) {
		lower := strings.ToLower(word)
		if isHangul(lower) {
			tokens = append(tokens, lower)
			continue
		}
		if len(lower) >= MinLatinTokenLength {
			tokens = append(tokens, lower)
		}
	}

	return tokens
}

// splitWords splits on any rune that is neither letter nor digit.
// Script boundaries also split, so "명성5만" becomes ["명성", "5", "만"]
// and fame thresholds match regardless of spacing.
func splitWords(text string) []string {
	var words []string
	var current strings.Builder
	var lastClass runeClass

	flush := func() {
		if current.Len() > 0 {
			words = append(words, current.String())
			current.Reset()
		}
	}

	for _, r := range text {
		class := classify(r)
		if class == runeOther {
			flush()
			lastClass = runeOther
			continue
		}
		if lastClass != runeOther && class != lastClass {
			flush()
		}
		current.WriteRune(r)
		lastClass = class
	}
	flush()

	return words
}

type runeClass int

const (
	runeOther runeClass = iota
	runeLatin
	runeDigit
	runeHangul
)

func classify(r rune) runeClass {
	switch {
	case unicode.Is(unicode.Hangul, r):
		return runeHangul
	case unicode.IsDigit(r):
		return runeDigit
	case unicode.IsLetter(r):
		return runeLatin
	default:
		return runeOther
	}
}

func isHangul(s string) bool {
	for _, r := range s {
		if !unicode.Is(unicode.Hangul, r) {
			return false
		}
	}
	return s != ""
}

// FilterStopWords removes stop words from a token list.
func FilterStopWords(tokens []string, stopWords map[string]struct{}) []string {
	result := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, isStop := stopWords[strings.ToLower(token)]; !isStop {
			result = append(result, token)
		}
	}
	return result
}

// BuildStopWordMap converts a stop word slice into a lookup set.
func BuildStopWordMap(stopWords []string) map[string]struct{} {
	m := make(map[string]struct{}, len(stopWords))
	for _, word := range stopWords {
		m[strings.ToLower(word)] = struct{}{}
	}
	return m
}
