package prompts

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"arxivchat/internal/util"
)

var questionKeyRE = regexp.MustCompile(`^question_?(\d+)$`)

// ParseQuestions validates a structured question list. It accepts
// {"questions": [...]} and the keyed form {"questions": {"question1": ...}}
// and fails with util.ErrMalformedResponse unless exactly want distinct,
// non-empty questions are present.
func ParseQuestions(raw string, want int) ([]string, error) {
	payload := extractJSON(raw)
	if payload == "" {
		return nil, fmt.Errorf("%w: empty response", util.ErrMalformedResponse)
	}
	var envelope struct {
		Questions json.RawMessage `json:"questions"`
	}
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		return nil, fmt.Errorf("%w: decode questions: %v", util.ErrMalformedResponse, err)
	}
	if len(envelope.Questions) == 0 {
		return nil, fmt.Errorf("%w: missing questions field", util.ErrMalformedResponse)
	}

	var list []string
	if err := json.Unmarshal(envelope.Questions, &list); err != nil {
		keyed, kerr := keyedQuestions(envelope.Questions)
		if kerr != nil {
			return nil, fmt.Errorf("%w: questions must be a list of strings: %v", util.ErrMalformedResponse, err)
		}
		list = keyed
	}

	out := make([]string, 0, len(list))
	seen := map[string]struct{}{}
	for _, q := range list {
		q = strings.TrimSpace(q)
		if q == "" {
			return nil, fmt.Errorf("%w: empty question", util.ErrMalformedResponse)
		}
		k := CanonicalQuestion(q)
		if _, dup := seen[k]; dup {
			return nil, fmt.Errorf("%w: duplicate question %q", util.ErrMalformedResponse, q)
		}
		seen[k] = struct{}{}
		out = append(out, q)
	}
	if len(out) != want {
		return nil, fmt.Errorf("%w: expected %d questions, got %d", util.ErrMalformedResponse, want, len(out))
	}
	return out, nil
}

func keyedQuestions(raw json.RawMessage) ([]string, error) {
	var keyed map[string]string
	if err := json.Unmarshal(raw, &keyed); err != nil {
		return nil, err
	}
	type entry struct {
		n int
		q string
	}
	entries := make([]entry, 0, len(keyed))
	for k, v := range keyed {
		m := questionKeyRE.FindStringSubmatch(strings.ToLower(strings.TrimSpace(k)))
		if m == nil {
			return nil, fmt.Errorf("unexpected key %q", k)
		}
		n, _ := strconv.Atoi(m[1])
		entries = append(entries, entry{n: n, q: v})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].n < entries[j].n })
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.q)
	}
	return out, nil
}

var fencedRE = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// extractJSON strips a code fence when present, otherwise takes the outermost
// object in the text.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if m := fencedRE.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		return strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
