package providers

import "context"

type ProviderInfo struct {
	Name  string `json:"name"`
	Model string `json:"model"`
	Key   string `json:"key"`
}

// ResponseFormat selects free text or a JSON object reply.
type ResponseFormat string

const (
	FormatText       ResponseFormat = "free_text"
	FormatStructured ResponseFormat = "structured"
)

type GenerateRequest struct {
	Operation string         `json:"operation"`
	System    string         `json:"system,omitempty"`
	Prompt    string         `json:"prompt"`
	Context   []string       `json:"context"`
	MaxTokens int            `json:"max_tokens,omitempty"`
	Format    ResponseFormat `json:"format,omitempty"`
}

type GenerateResponse struct {
	Text string `json:"text"`
}

type EmbedRequest struct {
	Operation string   `json:"operation"`
	Inputs    []string `json:"inputs"`
	Dimension int      `json:"dimension"`
}

type LLMProvider interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error)
}

type EmbeddingProvider interface {
	Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error)
}

// CallRecord describes one provider call for auditing.
type CallRecord struct {
	Operation string
	PaperID   string
	Provider  ProviderInfo
	Attempt   int
	Status    string
	ErrorType ErrorType
}

// Recorder receives a CallRecord after every provider attempt.
type Recorder interface {
	RecordCall(ctx context.Context, rec CallRecord)
}
