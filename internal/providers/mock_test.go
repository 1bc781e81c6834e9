package providers

import (
	"context"
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMockEmbedDeterministicUnitVectors(t *testing.T) {
	m := NewMockProvider(8)
	a, _, err := m.Embed(context.Background(), EmbedRequest{Inputs: []string{"x", "y"}})
	require.NoError(t, err)
	b, _, err := m.Embed(context.Background(), EmbedRequest{Inputs: []string{"x"}})
	require.NoError(t, err)
	require.Equal(t, a[0], b[0])
	require.NotEqual(t, a[0], a[1])

	var norm float64
	for _, v := range a[0] {
		norm += float64(v) * float64(v)
	}
	require.InDelta(t, 1.0, math.Sqrt(norm), 1e-4)
}

func TestMockQuestionsHonorRequestedCount(t *testing.T) {
	m := NewMockProvider(8)
	resp, _, err := m.Generate(context.Background(), GenerateRequest{Operation: OpInsightQuestions, Prompt: "Generate exactly 5 questions", Format: FormatStructured})
	require.NoError(t, err)
	var payload struct {
		Questions []string `json:"questions"`
	}
	require.NoError(t, json.Unmarshal([]byte(resp.Text), &payload))
	require.Len(t, payload.Questions, 5)
}

func TestMockAnswerCitesContext(t *testing.T) {
	m := NewMockProvider(8)
	resp, _, err := m.Generate(context.Background(), GenerateRequest{Operation: OpChatAnswer, Context: []string{"a", "b"}})
	require.NoError(t, err)
	require.Contains(t, resp.Text, "[C1]")
	require.Contains(t, resp.Text, "[C2]")
}
