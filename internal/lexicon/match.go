package lexicon

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

var quoteFolder = strings.NewReplacer("’", "'", "‘", "'", "“", `"`, "”", `"`)

// Normalize lowercases s and folds typographic quotes to ASCII.
func Normalize(s string) string {
	return quoteFolder.Replace(strings.ToLower(s))
}

// ContainsPhrase reports whether phrase occurs in text on word boundaries.
// Both arguments are expected to be normalized.
func ContainsPhrase(text, phrase string) bool {
	if phrase == "" || len(phrase) > len(text) {
		return false
	}
	for i := 0; i < len(text); {
		j := strings.Index(text[i:], phrase)
		if j < 0 {
			return false
		}
		start := i + j
		end := start + len(phrase)
		if boundaryBefore(text, start) && boundaryAfter(text, end) {
			return true
		}
		i = start + 1
	}
	return false
}

// ContainsStem reports whether a word in text starts with stem, so
// "realize" matches "realized" but not "unrealized". Multi-word stems fall
// back to ContainsPhrase. Both arguments are expected to be normalized.
func ContainsStem(text, stem string) bool {
	if strings.ContainsRune(stem, ' ') {
		return ContainsPhrase(text, stem)
	}
	if stem == "" || len(stem) > len(text) {
		return false
	}
	for i := 0; i < len(text); {
		j := strings.Index(text[i:], stem)
		if j < 0 {
			return false
		}
		start := i + j
		if boundaryBefore(text, start) {
			return true
		}
		i = start + 1
	}
	return false
}

// AnyStem reports whether any of stems begins a word of normalized text.
func AnyStem(text string, stems []string) bool {
	for _, s := range stems {
		if ContainsStem(text, s) {
			return true
		}
	}
	return false
}

// Words splits normalized text into a set of word tokens.
func Words(text string) map[string]struct{} {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !isWordRune(r) && r != '\''
	})
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, "'")
		if f != "" {
			out[f] = struct{}{}
		}
	}
	return out
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
