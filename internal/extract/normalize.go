package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	reCRLF       = regexp.MustCompile(`\r\n?`)
	reTabs       = regexp.MustCompile(`\t+`)
	reMultiSpace = regexp.MustCompile(` {2,}`)
	reMultiBlank = regexp.MustCompile(`\n{3,}`)
	reRuleNoise  = regexp.MustCompile(`(?m)^[ \t]*[_\-=.]{3,}[ \t]*$`)
)

// Normalize tidies one page of pdftotext output. Line breaks survive;
// runs of blank lines collapse to one. keepColumns leaves inner spacing alone
// so layout-aware tables stay aligned.
func Normalize(s string, keepColumns bool) string {
	if s == "" {
		return s
	}
	s = strings.ToValidUTF8(s, "")
	s = reCRLF.ReplaceAllString(s, "\n")
	s = reTabs.ReplaceAllString(s, " ")
	if !keepColumns {
		s = reMultiSpace.ReplaceAllString(s, " ")
	}
	s = reRuleNoise.ReplaceAllString(s, "")
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " ")
	}
	s = strings.Join(lines, "\n")
	s = reMultiBlank.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// splitPages cuts on form feed and drops pages that normalise to nothing.
func splitPages(raw string, keepColumns bool) []string {
	parts := strings.Split(raw, "\f")
	pages := make([]string, 0, len(parts))
	for _, p := range parts {
		if n := Normalize(p, keepColumns); n != "" {
			pages = append(pages, n)
		}
	}
	return pages
}

// truncateRunes cuts s to at most max runes without splitting a code point.
func truncateRunes(s string, max int) (string, bool) {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s, false
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i], true
		}
		n++
	}
	return s, false
}
