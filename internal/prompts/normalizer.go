package prompts

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	ws        = regexp.MustCompile(`\s+`)
	citations = regexp.MustCompile(`\[C(\d+)\]`)
)

// CanonicalQuestion folds case, punctuation and spacing so near-identical
// questions compare equal.
func CanonicalQuestion(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	s = strings.TrimRight(s, "?.! ")
	s = strings.ReplaceAll(s, "_", " ")
	s = strings.ReplaceAll(s, "-", " ")
	s = ws.ReplaceAllString(s, " ")
	return s
}

// CitedIndexes returns the distinct zero-based chunk indexes an answer cites
// with [Cn] markers, in order of first appearance. Markers outside 1..n are
// ignored.
func CitedIndexes(answer string, n int) []int {
	out := make([]int, 0)
	seen := map[int]struct{}{}
	for _, m := range citations.FindAllStringSubmatch(answer, -1) {
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		idx--
		if idx < 0 || idx >= n {
			continue
		}
		if _, ok := seen[idx]; ok {
			continue
		}
		seen[idx] = struct{}{}
		out = append(out, idx)
	}
	return out
}
