package providers

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"arxivchat/internal/config"
)

type NamedLLMProvider struct {
	Ref      ProviderRef
	Provider LLMProvider
}

type NamedEmbedProvider struct {
	Ref      ProviderRef
	Provider EmbeddingProvider
}

// Manager holds the configured providers in failover order and tracks which
// of them are cooling down.
type Manager struct {
	llmProviders   []NamedLLMProvider
	embedProviders []NamedEmbedProvider
	embedDim       int
	cooldown       time.Duration
	recorder       Recorder
	backoff        time.Duration
	callTimeout    time.Duration

	mu            sync.Mutex
	disabledUntil map[string]time.Time
	now           func() time.Time
}

// NewStaticManager builds a Manager over already constructed providers.
func NewStaticManager(llms []NamedLLMProvider, embeds []NamedEmbedProvider, embedDim int) *Manager {
	return &Manager{
		llmProviders:   llms,
		embedProviders: embeds,
		embedDim:       embedDim,
		cooldown:       15 * time.Minute,
		backoff:        time.Second,
		disabledUntil:  map[string]time.Time{},
		now:            time.Now,
	}
}

// SetRecorder installs an audit sink for provider calls.
func (m *Manager) SetRecorder(r Recorder) {
	m.recorder = r
}

// NewManager builds the providers named by cfg.LLMProviders and
// cfg.EmbedProviders. A provider listed for a role it cannot serve is a
// configuration error.
func NewManager(cfg config.Config) (*Manager, error) {
	llmRefs, err := ParseProviderList(cfg.LLMProviders)
	if err != nil {
		return nil, fmt.Errorf("llm providers: %w", err)
	}
	embedRefs, err := ParseProviderList(cfg.EmbedProviders)
	if err != nil {
		return nil, fmt.Errorf("embed providers: %w", err)
	}

	m := NewStaticManager(nil, nil, cfg.EmbedDim)
	if cfg.ProviderCooldownSecs > 0 {
		m.cooldown = time.Duration(cfg.ProviderCooldownSecs) * time.Second
	}
	m.callTimeout = cfg.LLMTimeout
	for _, ref := range llmRefs {
		p, err := newLLM(ref, cfg.EmbedDim)
		if err != nil {
			return nil, err
		}
		m.llmProviders = append(m.llmProviders, NamedLLMProvider{Ref: ref, Provider: p})
	}
	for _, ref := range embedRefs {
		p, err := newEmbedder(ref, cfg.EmbedDim)
		if err != nil {
			return nil, err
		}
		m.embedProviders = append(m.embedProviders, NamedEmbedProvider{Ref: ref, Provider: p})
	}
	return m, nil
}

func newLLM(ref ProviderRef, dim int) (LLMProvider, error) {
	switch ref.Name {
	case "mock":
		return NewMockProvider(dim), nil
	case "openai":
		return NewOpenAIProvider(ref.KeyAlias), nil
	case "groq":
		return NewGroqProvider(ref.KeyAlias), nil
	case "ollama":
		return NewOllamaProvider(ref.KeyAlias), nil
	}
	return nil, fmt.Errorf("provider %s does not support llm", ref)
}

func newEmbedder(ref ProviderRef, dim int) (EmbeddingProvider, error) {
	switch ref.Name {
	case "mock":
		return NewMockProvider(dim), nil
	case "openai":
		return NewOpenAIProvider(ref.KeyAlias), nil
	case "ollama":
		return NewOllamaProvider(ref.KeyAlias), nil
	}
	return nil, fmt.Errorf("provider %s does not support embeddings", ref)
}

func (m *Manager) LLMProviderByIndex(i int) (LLMProvider, ProviderRef) {
	if len(m.llmProviders) == 0 {
		return NewMockProvider(m.embedDim), mockRef
	}
	p := m.llmProviders[clamp(i, len(m.llmProviders))]
	return p.Provider, p.Ref
}

func (m *Manager) EmbedProviderByIndex(i int) (EmbeddingProvider, ProviderRef) {
	if len(m.embedProviders) == 0 {
		return NewMockProvider(m.embedDim), mockRef
	}
	p := m.embedProviders[clamp(i, len(m.embedProviders))]
	return p.Provider, p.Ref
}

func clamp(i, n int) int {
	if i < 0 || i >= n {
		return 0
	}
	return i
}

// PreferredLLMOrder lists provider indexes in configured order with mock
// providers moved to the end.
func (m *Manager) PreferredLLMOrder() []int {
	refs := make([]ProviderRef, len(m.llmProviders))
	for i, p := range m.llmProviders {
		refs[i] = p.Ref
	}
	return mockLast(refs)
}

func (m *Manager) PreferredEmbedOrder() []int {
	refs := make([]ProviderRef, len(m.embedProviders))
	for i, p := range m.embedProviders {
		refs[i] = p.Ref
	}
	return mockLast(refs)
}

func mockLast(refs []ProviderRef) []int {
	order := make([]int, len(refs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return !refs[order[a]].IsMock() && refs[order[b]].IsMock()
	})
	return order
}

// FindEmbedProviderIndex returns the index of the embedding provider named
// s, or -1. Re-ingestion uses it to pin embeddings to one provider.
func (m *Manager) FindEmbedProviderIndex(s string) int {
	for i, p := range m.embedProviders {
		if p.Ref.matches(s) {
			return i
		}
	}
	return -1
}
