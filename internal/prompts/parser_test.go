package prompts

import (
	"strings"
	"testing"
	"time"

	"arxivchat/internal/models"
	"arxivchat/internal/util"

	"github.com/stretchr/testify/require"
)

func TestParseQuestionsList(t *testing.T) {
	qs, err := ParseQuestions(`{"questions": ["What is new?", "How is it evaluated?", "What are the limits?"]}`, 3)
	require.NoError(t, err)
	require.Equal(t, []string{"What is new?", "How is it evaluated?", "What are the limits?"}, qs)
}

func TestParseQuestionsKeyedAndFenced(t *testing.T) {
	raw := "Here you go:\n```json\n{\"questions\": {\"question2\": \"B?\", \"question1\": \"A?\", \"question3\": \"C?\"}}\n```"
	qs, err := ParseQuestions(raw, 3)
	require.NoError(t, err)
	require.Equal(t, []string{"A?", "B?", "C?"}, qs)
}

func TestParseQuestionsFailsClosed(t *testing.T) {
	cases := map[string]string{
		"too few":       `{"questions": ["A?", "B?"]}`,
		"too many":      `{"questions": ["A?", "B?", "C?", "D?"]}`,
		"empty entry":   `{"questions": ["A?", " ", "C?"]}`,
		"duplicate":     `{"questions": ["A?", "a", "C?"]}`,
		"not json":      `I think the questions are A, B and C.`,
		"wrong shape":   `{"questions": "A? B? C?"}`,
		"missing field": `{"items": ["A?", "B?", "C?"]}`,
		"bad key":       `{"questions": {"first": "A?", "second": "B?", "third": "C?"}}`,
		"empty":         ``,
	}
	for name, raw := range cases {
		_, err := ParseQuestions(raw, 3)
		require.ErrorIs(t, err, util.ErrMalformedResponse, name)
	}
}

func TestCitedIndexes(t *testing.T) {
	require.Equal(t, []int{1, 0}, CitedIndexes("see [C2] and [C1], again [C2], bogus [C9]", 3))
	require.Empty(t, CitedIndexes("no citations", 3))
}

func TestCitedIndexesSkipsOutOfRangeMarkers(t *testing.T) {
	// 2^64+1 would wrap to [C1] under unchecked arithmetic.
	require.Empty(t, CitedIndexes("see [C18446744073709551617] and [C0]", 3))
	require.Equal(t, []int{2}, CitedIndexes("[C99999999999999999999999] then [C3]", 3))
}

func TestPaperSystemIncludesMetadata(t *testing.T) {
	published := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	s := PaperSystem(models.Paper{PaperID: "2401.00001", Title: "Attention", Authors: []string{"A. Author", "B. Author"}, PublishedAt: &published, Abstract: "We study attention."})
	require.Contains(t, s, "Paper: Attention")
	require.Contains(t, s, "A. Author, B. Author")
	require.Contains(t, s, "2024-01-02")
	require.Contains(t, s, "We study attention.")
}

func TestInsightSummaryKeepsOrder(t *testing.T) {
	s := InsightSummary(models.Paper{Abstract: "abs"}, []models.InsightQuestion{
		{Index: 0, Question: "first", Answer: "a0"},
		{Index: 2, Question: "third", Answer: "a2"},
	})
	require.Less(t, strings.Index(s, "first"), strings.Index(s, "third"))
	require.Contains(t, s, "Question 3: third")
}

