package feed

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Tokenizer splits plain text into lowercase word tags.
type Tokenizer struct {
	MinLength int
	stopWords map[string]struct{}
}

var defaultStopWords = []string{
	"the", "and", "for", "are", "but", "not", "you", "all", "any", "can", "had", "her", "was", "one",
	"our", "out", "has", "him", "his", "how", "its", "may", "new", "now", "old", "see", "two", "who",
	"did", "get", "let", "say", "she", "too", "use", "that", "with", "have", "this", "will", "your",
	"from", "they", "been", "were", "said", "each", "which", "their", "there", "what", "about",
	"would", "these", "other", "into", "more", "some", "than", "then", "them", "also", "just",
	"это", "как", "что", "так", "для", "или", "его", "она", "они", "был", "была", "были",
}

func NewTokenizer() *Tokenizer {
	stop := make(map[string]struct{}, len(defaultStopWords))
	for _, w := range defaultStopWords {
		stop[w] = struct{}{}
	}
	return &Tokenizer{MinLength: 3, stopWords: stop}
}

// Words returns the words of text in order of appearance, case folded,
// with short words and stop words dropped.
func (t *Tokenizer) Words(text string) []string {
	// A Caser keeps state between calls, so each call gets its own.
	folded := cases.Fold().String(norm.NFC.String(text))
	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	words := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < t.MinLength || isNumber(f) {
			continue
		}
		if _, stop := t.stopWords[f]; stop {
			continue
		}
		words = append(words, f)
	}
	return words
}

// Frequencies counts each word of words.
func Frequencies(words []string) map[string]int {
	freqs := make(map[string]int, len(words))
	for _, w := range words {
		freqs[w]++
	}
	return freqs
}

// Distinct keeps the first occurrence of each word, in order, up to limit words
// (all when limit <= 0).
func Distinct(words []string, limit int) []string {
	seen := make(map[string]struct{}, len(words))
	out := make([]string, 0, len(words))
	for _, w := range words {
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func isNumber(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
