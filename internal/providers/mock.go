package providers

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Operation names carried on GenerateRequest and EmbedRequest.
const (
	OpChatAnswer       = "chat_answer"
	OpChatFollowUps    = "chat_followups"
	OpInsightQuestions = "insight_questions"
	OpInsightAnswer    = "insight_answer"
	OpInsightSummary   = "insight_summary"
	OpEmbedChunks      = "embed_chunks"
	OpEmbedQuery       = "embed_query"
	OpEmbedAbstract    = "embed_abstract"
)

type MockProvider struct {
	dim int
}

func NewMockProvider(dim int) *MockProvider {
	if dim <= 0 {
		dim = 1536
	}
	return &MockProvider{dim: dim}
}

func (m *MockProvider) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	_ = ctx
	dim := req.Dimension
	if dim <= 0 {
		dim = m.dim
	}
	vectors := make([][]float32, 0, len(req.Inputs))
	for _, input := range req.Inputs {
		vectors = append(vectors, deterministicVector(input, dim))
	}
	return vectors, ProviderInfo{Name: "mock", Model: fmt.Sprintf("mock-embed-%d", dim), Key: "mock"}, nil
}

var exactlyRE = regexp.MustCompile(`exactly (\d+)`)

func (m *MockProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	_ = ctx
	info := ProviderInfo{Name: "mock", Model: "mock-llm-v1", Key: "mock"}
	var text string
	switch req.Operation {
	case OpInsightQuestions, OpChatFollowUps:
		n := 3
		if mm := exactlyRE.FindStringSubmatch(req.Prompt); mm != nil {
			if v, err := strconv.Atoi(mm[1]); err == nil && v > 0 {
				n = v
			}
		}
		qs := make([]string, 0, n)
		for i := 1; i <= n; i++ {
			qs = append(qs, fmt.Sprintf("Mock question %d about the paper?", i))
		}
		b, _ := json.Marshal(map[string]any{"questions": qs})
		text = string(b)
	case OpChatAnswer, OpInsightAnswer:
		builder := strings.Builder{}
		builder.WriteString("Deterministic answer based on retrieved evidence.")
		for i := range req.Context {
			builder.WriteString(" [C")
			builder.WriteString(strconv.Itoa(i + 1))
			builder.WriteString("]")
		}
		if len(req.Context) == 0 {
			builder.WriteString(" No paper excerpts were available.")
		}
		text = builder.String()
	case OpInsightSummary:
		text = "- Mock key insight summarizing the answered questions."
	default:
		text = "Mock response."
	}
	return GenerateResponse{Text: text}, info, nil
}

func deterministicVector(input string, dim int) []float32 {
	vec := make([]float32, dim)
	seed := []byte(input)
	if len(seed) == 0 {
		seed = []byte("empty")
	}
	for i := 0; i < dim; i++ {
		h := sha256.Sum256(append(seed, byte(i%251)))
		u := binary.BigEndian.Uint32(h[:4])
		v := float32(u%2000)/1000.0 - 1.0
		vec[i] = v
	}
	return normalize(vec)
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := float32(1.0 / (math.Sqrt(sum) + 1e-9))
	for i := range v {
		v[i] *= inv
	}
	return v
}
