// Package resolve merges duplicate entities produced by per-chunk extraction
// into canonical nodes and rewrites relations onto the survivors.
package resolve

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// Honorifics and corporate suffixes stripped during name normalization.
// Matching is done on the already-lowercased form.
var (
	namePrefixes = []string{
		"dr. ", "dr ", "mr. ", "mr ", "mrs. ", "mrs ", "ms. ", "ms ",
		"prof. ", "prof ", "sir ", "madam ",
	}
	nameSuffixes = []string{
		" inc.", " inc", " ltd.", " ltd", " llc", " corp.", " corp",
		" co.", " co", " gmbh", " s.a.", " plc", " jr.", " jr", " sr.", " sr",
		" phd", " ph.d.", " md", " m.d.",
	}
	// Longest first so 有限公司 is stripped whole instead of losing only 公司.
	cjkSuffixes = []string{
		"有限公司", "株式会社",
		"先生", "女士", "小姐", "老师", "教授", "博士", "公司",
	}
)

// NormalizeName produces the canonical comparison form of an entity name:
// Unicode NFC, full-width folded to half-width, lowercased, whitespace
// collapsed, honorifics and corporate suffixes stripped.
func NormalizeName(name string) string {
	s := norm.NFC.String(name)
	s = width.Fold.String(s)
	s = strings.ToLower(s)
	s = collapseSpace(s)

	for changed := true; changed; {
		changed = false
		for _, p := range namePrefixes {
			if strings.HasPrefix(s, p) {
				s = strings.TrimSpace(s[len(p):])
				changed = true
			}
		}
		for _, suf := range nameSuffixes {
			if strings.HasSuffix(s, suf) {
				s = strings.TrimSpace(s[:len(s)-len(suf)])
				changed = true
			}
		}
		for _, suf := range cjkSuffixes {
			// CJK suffixes attach without a space; only strip when something
			// remains.
			if strings.HasSuffix(s, suf) && len(s) > len(suf) {
				s = strings.TrimSpace(s[:len(s)-len(suf)])
				changed = true
			}
		}
	}
	return s
}

func collapseSpace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range strings.TrimSpace(s) {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// hasCJK reports whether the string contains any CJK ideograph.
func hasCJK(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}
