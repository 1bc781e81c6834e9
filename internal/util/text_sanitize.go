package util

import (
	"regexp"
	"strings"
)

// SanitizeText removes bytes and control characters that Postgres text columns reject
// (especially NUL / 0x00 from some PDF extractors).
func SanitizeText(s string) string {
	if s == "" {
		return s
	}
	// NUL bytes are not valid in PostgreSQL text.
	s = strings.ReplaceAll(s, "\x00", "")

	// Drop other non-printing controls except common whitespace.
	r := make([]rune, 0, len(s))
	for _, ch := range s {
		if ch == '\n' || ch == '\r' || ch == '\t' {
			r = append(r, ch)
			continue
		}
		if ch < 0x20 {
			continue
		}
		r = append(r, ch)
	}
	return strings.TrimSpace(string(r))
}

var (
	hyphenBreakRE = regexp.MustCompile(`(\p{L})-\n(\p{Ll})`)
	blankRunRE    = regexp.MustCompile(`\n{3,}`)
	trailingWSRE  = regexp.MustCompile(`[ \t]+\n`)
)

// NormalizeMarkdown brings extracted text into the canonical form chunked by
// ingestion: LF line endings, no control bytes, words rejoined across
// hyphenated line breaks, trailing spaces stripped and at most one blank line
// between blocks.
func NormalizeMarkdown(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = SanitizeText(s)
	s = hyphenBreakRE.ReplaceAllString(s, "$1$2")
	s = trailingWSRE.ReplaceAllString(s, "\n")
	s = blankRunRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
