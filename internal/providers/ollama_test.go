package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveOllamaEmbedModel_Default(t *testing.T) {
	t.Setenv("ARXIVCHAT_OLLAMA_EMBED_MODEL", "")
	got := resolveOllamaEmbedModel("")
	if got != "nomic-embed-text" {
		t.Fatalf("expected default nomic-embed-text, got %q", got)
	}
}

func TestMatchDimension(t *testing.T) {
	src := []float32{1, 2, 3}
	a := matchDimension(src, 2)
	if len(a) != 2 || a[0] != 1 || a[1] != 2 {
		t.Fatalf("truncate failed: %#v", a)
	}
	b := matchDimension(src, 5)
	if len(b) != 5 || b[0] != 1 || b[2] != 3 || b[3] != 0 || b[4] != 0 {
		t.Fatalf("pad failed: %#v", b)
	}
}

func TestOllamaGenerateStructured(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"{\"questions\":[]}"}}`))
	}))
	defer srv.Close()
	t.Setenv("ARXIVCHAT_OLLAMA_BASE_URL", srv.URL)

	p := NewOllamaProvider("")
	resp, info, err := p.Generate(context.Background(), GenerateRequest{Prompt: "q", Format: FormatStructured, MaxTokens: 64})
	require.NoError(t, err)
	require.Equal(t, "ollama", info.Name)
	require.Equal(t, `{"questions":[]}`, resp.Text)
	require.Equal(t, "json", got["format"])
	require.Equal(t, false, got["stream"])
}
