package util

import (
	"sort"
	"strings"
	"unicode"
)

const defaultSnippetRunes = 420

// DisplaySnippet cleans s for display and cuts it to maxRunes at a word
// boundary.
func DisplaySnippet(s string, maxRunes int) string {
	return clip(cleanForDisplay(s), maxRunes)
}

// DisplayEvidenceSnippet picks the (at most two) sentences of chunkText that
// share the most content words with query and returns them in reading order.
// Without a usable query it falls back to the start of the chunk.
func DisplayEvidenceSnippet(chunkText, query string, maxRunes int) string {
	text := cleanForDisplay(chunkText)
	if text == "" {
		return ""
	}
	terms := queryTerms(query)
	sentences := splitSentences(text)
	if len(terms) == 0 || len(sentences) < 2 {
		return clip(text, maxRunes)
	}

	type hit struct{ pos, score int }
	hits := make([]hit, 0, len(sentences))
	for i, s := range sentences {
		low := strings.ToLower(s)
		n := 0
		for _, t := range terms {
			if strings.Contains(low, t) {
				n++
			}
		}
		if n > 0 {
			hits = append(hits, hit{pos: i, score: n})
		}
	}
	if len(hits) == 0 {
		return clip(text, maxRunes)
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > 2 {
		hits = hits[:2]
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })
	picked := make([]string, 0, len(hits))
	for _, h := range hits {
		picked = append(picked, sentences[h.pos])
	}
	return clip(strings.Join(picked, " "), maxRunes)
}

// Abbreviations common in papers that end in a period but not a sentence.
var abbreviations = map[string]struct{}{
	"e.g.": {}, "i.e.": {}, "al.": {}, "fig.": {}, "eq.": {}, "sec.": {}, "vs.": {}, "cf.": {}, "tab.": {}, "approx.": {},
}

// splitSentences splits on terminal punctuation followed by a space, leaving
// decimals ("3.5") and known abbreviations intact.
func splitSentences(s string) []string {
	words := strings.Fields(s)
	out := make([]string, 0, 8)
	start := 0
	for i, w := range words {
		last := w[len(w)-1]
		if last != '.' && last != '!' && last != '?' {
			continue
		}
		if _, ok := abbreviations[strings.ToLower(w)]; ok {
			continue
		}
		out = append(out, strings.Join(words[start:i+1], " "))
		start = i + 1
	}
	if start < len(words) {
		out = append(out, strings.Join(words[start:], " "))
	}
	return out
}

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "was": {}, "were": {}, "what": {}, "how": {}, "why": {},
	"which": {}, "that": {}, "this": {}, "these": {}, "those": {}, "with": {}, "from": {}, "does": {},
	"paper": {}, "authors": {}, "about": {}, "into": {}, "their": {}, "they": {}, "its": {},
}

// queryTerms returns the distinct lower-cased content words of s.
func queryTerms(s string) []string {
	seen := map[string]struct{}{}
	terms := make([]string, 0, 8)
	for _, f := range strings.Fields(strings.ToLower(s)) {
		f = strings.TrimFunc(f, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if len([]rune(f)) < 3 {
			continue
		}
		if _, ok := stopwords[f]; ok {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		terms = append(terms, f)
	}
	return terms
}

// cleanForDisplay sanitizes s, separates words glued by PDF extraction
// ("resultsShow", "table3") and collapses whitespace.
func cleanForDisplay(s string) string {
	s = SanitizeText(s)
	in := []rune(s)
	out := make([]rune, 0, len(in)+len(in)/8)
	for i, r := range in {
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			continue
		}
		if i > 0 && glued(in[i-1], r) {
			out = append(out, ' ')
		}
		out = append(out, r)
	}
	return strings.Join(strings.Fields(string(out)), " ")
}

func glued(a, b rune) bool {
	switch {
	case unicode.IsLower(a) && unicode.IsUpper(b):
		return true
	case unicode.IsLetter(a) && unicode.IsDigit(b):
		return true
	case unicode.IsDigit(a) && unicode.IsLetter(b):
		return true
	}
	return false
}

// clip cuts s to maxRunes, backing up to the last space when one is close.
func clip(s string, maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = defaultSnippetRunes
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	cut := string(runes[:maxRunes])
	if i := strings.LastIndex(cut, " "); i > len(cut)*3/4 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut) + "..."
}
