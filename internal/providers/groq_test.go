package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveGroqKeyFallback(t *testing.T) {
	t.Setenv("ARXIVCHAT_GROQ_KEY_ALIAS1", "")
	t.Setenv("GROQ_API_KEY", "global")
	require.Equal(t, "global", resolveGroqKey("alias1"))
	t.Setenv("ARXIVCHAT_GROQ_KEY_ALIAS1", "scoped")
	require.Equal(t, "scoped", resolveGroqKey("alias1"))
}

func TestGroqGenerateMissingKey(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "")
	t.Setenv("ARXIVCHAT_GROQ_KEY_NONE", "")
	_, info, err := NewGroqProvider("none").Generate(context.Background(), GenerateRequest{Prompt: "hi"})
	require.Error(t, err)
	require.Equal(t, "groq", info.Name)
}

func TestGroqGenerateSendsJSONMode(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()
	t.Setenv("GROQ_API_KEY", "k")
	t.Setenv("ARXIVCHAT_GROQ_URL", srv.URL)

	resp, _, err := NewGroqProvider("").Generate(context.Background(), GenerateRequest{Prompt: "hi", MaxTokens: 10, Format: FormatStructured})
	require.NoError(t, err)
	require.Equal(t, "ok", resp.Text)
	require.Equal(t, map[string]any{"type": "json_object"}, body["response_format"])
	require.EqualValues(t, 10, body["max_tokens"])
}

func TestGroqGenerateRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"slow down"}`))
	}))
	defer srv.Close()
	t.Setenv("GROQ_API_KEY", "k")
	t.Setenv("ARXIVCHAT_GROQ_URL", srv.URL)

	_, _, err := NewGroqProvider("").Generate(context.Background(), GenerateRequest{Prompt: "hi"})
	require.Error(t, err)
	require.Equal(t, ErrorRate, ClassifyError(err))
}

func TestGroqAliasSelectsModel(t *testing.T) {
	t.Setenv("ARXIVCHAT_GROQ_MODEL", "base-model")
	t.Setenv("ARXIVCHAT_GROQ_MODEL_FAST", "fast-model")
	require.Equal(t, "fast-model", NewGroqProvider("fast").model)
	require.Equal(t, "base-model", NewGroqProvider("other").model)
	require.Equal(t, "base-model", NewGroqProvider("").model)
}
