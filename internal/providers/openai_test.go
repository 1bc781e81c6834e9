package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenAIEmbedOrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embeddings", r.URL.Path)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.EqualValues(t, 2, req["dimensions"])
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`))
	}))
	defer srv.Close()
	t.Setenv("OPENAI_API_KEY", "k")
	t.Setenv("ARXIVCHAT_OPENAI_BASE_URL", srv.URL)

	vecs, info, err := NewOpenAIProvider("").Embed(context.Background(), EmbedRequest{Inputs: []string{"a", "b"}, Dimension: 2})
	require.NoError(t, err)
	require.Equal(t, "openai", info.Name)
	require.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)
}

func TestOpenAIEmbedCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[1,0]}]}`))
	}))
	defer srv.Close()
	t.Setenv("OPENAI_API_KEY", "k")
	t.Setenv("ARXIVCHAT_OPENAI_BASE_URL", srv.URL)

	_, _, err := NewOpenAIProvider("").Embed(context.Background(), EmbedRequest{Inputs: []string{"a", "b"}})
	require.Error(t, err)
}

func TestOpenAIGenerateUsesSystemPrompt(t *testing.T) {
	var req struct {
		Messages []map[string]string `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"answer"}}]}`))
	}))
	defer srv.Close()
	t.Setenv("OPENAI_API_KEY", "k")
	t.Setenv("ARXIVCHAT_OPENAI_BASE_URL", srv.URL)

	resp, _, err := NewOpenAIProvider("").Generate(context.Background(), GenerateRequest{System: "sys", Prompt: "q", Context: []string{"c1"}})
	require.NoError(t, err)
	require.Equal(t, "answer", resp.Text)
	require.Equal(t, "sys", req.Messages[0]["content"])
	require.Contains(t, req.Messages[1]["content"], "Context:\nc1")
}
