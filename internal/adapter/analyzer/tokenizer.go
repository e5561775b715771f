package analyzer

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Tokenizer splits memory text into comparable terms and estimates the
// model token count of a passage.
type Tokenizer struct {
	fold      cases.Caser
	stopwords map[string]struct{}
}

func NewTokenizer() *Tokenizer {
	return &Tokenizer{
		fold:      cases.Fold(),
		stopwords: defaultStopwords(),
	}
}

// Tokenize returns case-folded terms with stopwords and one-rune words dropped.
func (t *Tokenizer) Tokenize(text string) []string {
	words := splitWords(norm.NFKC.String(text))
	tokens := make([]string, 0, len(words))
	for _, word := range words {
		word = t.fold.String(word)
		if len([]rune(word)) < 2 {
			continue
		}
		if _, isStop := t.stopwords[word]; isStop {
			continue
		}
		tokens = append(tokens, word)
	}
	return tokens
}

// CountTokens approximates model tokens: about 1.3 per word, and never less
// than one per four non-space runes of CJK-style unsegmented text.
func (t *Tokenizer) CountTokens(text string) int {
	words := splitWords(text)
	if len(words) == 0 {
		return 0
	}
	byWords := int(float64(len(words)) * 1.3)

	var runes int
	for _, w := range words {
		runes += len([]rune(w))
	}
	if byRunes := runes / 4; byRunes > byWords {
		return byRunes
	}
	if byWords == 0 {
		return 1
	}
	return byWords
}

func splitWords(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}

func defaultStopwords() map[string]struct{} {
	stops := []string{
		"a", "an", "and", "are", "as", "at", "be", "by", "for",
		"from", "has", "he", "in", "is", "it", "its", "of", "on",
		"that", "the", "to", "was", "were", "will", "with", "this",
		"have", "had", "but", "not", "you", "your", "we", "our",
		"they", "their", "she", "her", "his", "if", "or", "so",
		"no", "can", "do", "does", "did", "been", "being", "would",
		"could", "should", "may", "might", "must", "shall", "which",
		"who", "whom", "what", "when", "where", "why", "how", "all",
		"i", "me", "my", "am", "about", "into", "there", "then",
	}
	m := make(map[string]struct{}, len(stops))
	for _, s := range stops {
		m[s] = struct{}{}
	}
	return m
}
