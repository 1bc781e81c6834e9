package providers

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

const groqChatURL = "https://api.groq.com/openai/v1/chat/completions"

// GroqProvider generates through Groq's OpenAI-compatible chat endpoint.
// Groq serves no embeddings, so it can only appear in the LLM list. The alias
// picks both the key (ARXIVCHAT_GROQ_KEY_<ALIAS>) and optionally the model
// (ARXIVCHAT_GROQ_MODEL_<ALIAS>).
type GroqProvider struct {
	alias  string
	apiKey string
	model  string
	url    string
	client *http.Client
}

func NewGroqProvider(alias string) *GroqProvider {
	return &GroqProvider{
		alias:  alias,
		apiKey: resolveGroqKey(alias),
		model:  scopedEnv("ARXIVCHAT_GROQ_MODEL", alias, envOr("ARXIVCHAT_GROQ_MODEL", "llama-3.1-8b-instant")),
		url:    envOr("ARXIVCHAT_GROQ_URL", groqChatURL),
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

func (g *GroqProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	info := ProviderInfo{Name: "groq", Key: g.alias, Model: g.model}
	if g.apiKey == "" {
		return GenerateResponse{}, info, fmt.Errorf("groq: no api key for alias %q", g.alias)
	}
	text, err := chatCompletion(ctx, g.client, "groq", g.url, g.apiKey, g.model, req)
	if err != nil {
		return GenerateResponse{}, info, err
	}
	return GenerateResponse{Text: text}, info, nil
}

func resolveGroqKey(alias string) string {
	return scopedEnv("ARXIVCHAT_GROQ_KEY", alias, os.Getenv("GROQ_API_KEY"))
}

// scopedEnv reads PREFIX_<ALIAS>, or returns fallback when alias is empty or
// that variable is unset.
func scopedEnv(prefix, alias, fallback string) string {
	if alias == "" {
		return fallback
	}
	if v := strings.TrimSpace(os.Getenv(prefix + "_" + strings.ToUpper(alias))); v != "" {
		return v
	}
	return fallback
}
