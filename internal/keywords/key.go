package keywords

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agext/levenshtein"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// stopWords are ignored by the fuzzy comparison only; they stay in stored keys.
var stopWords = map[string]struct{}{
	"and": {}, "or": {}, "of": {}, "the": {}, "&": {},
}

// NormalizeKey applies NFKC, case folding, punctuation to space and whitespace collapse.
// The result is what aliases, unmatched terms and mentions are keyed by.
func NormalizeKey(raw string) string {
	s := norm.NFKC.String(raw)
	s = folder.String(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// fuzzyForm drops stop words from an already normalized key.
func fuzzyForm(key string) string {
	words := strings.Fields(key)
	kept := words[:0]
	for _, w := range words {
		if _, stop := stopWords[w]; !stop {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, " ")
}

// Similarity is 1 - Levenshtein(a', b') / max(|a'|, |b'|) over runes, where
// a' and b' are the normalized keys without stop words. Identical keys score 1;
// a key made only of stop words scores 0 against anything else.
func Similarity(a, b string) float64 {
	ka, kb := NormalizeKey(a), NormalizeKey(b)
	if ka == kb {
		return 1
	}
	return similarity(fuzzyForm(ka), fuzzyForm(kb))
}

// similarity compares fuzzy forms of keys already known to differ.
func similarity(fa, fb string) float64 {
	if fa == "" || fb == "" {
		return 0
	}
	if fa == fb {
		return 1
	}
	longest := max(utf8.RuneCountInString(fa), utf8.RuneCountInString(fb))
	d := levenshtein.Distance(fa, fb, nil)
	return 1 - float64(d)/float64(longest)
}

// Slugify makes a lowercase dash-separated ASCII-ish slug from a label.
func Slugify(label string) string {
	key := NormalizeKey(label)
	var b strings.Builder
	dash := false
	for _, r := range key {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
