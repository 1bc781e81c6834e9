package providers

import (
	"testing"

	"arxivchat/internal/config"

	"github.com/stretchr/testify/require"
)

func testConfig() config.Config {
	return config.Config{LLMProviders: "mock", EmbedProviders: "mock", EmbedDim: 8}
}

func TestParseProviderList(t *testing.T) {
	refs, err := ParseProviderList("mock|OpenAI:key1, openai:key2|openai:key1")
	require.NoError(t, err)
	require.Len(t, refs, 3)
	require.Equal(t, "openai", refs[1].Name)
	require.Equal(t, "key1", refs[1].KeyAlias)
	require.Equal(t, "openai:key2", refs[2].String())

	refs, err = ParseProviderList("  ")
	require.NoError(t, err)
	require.Equal(t, []ProviderRef{mockRef}, refs)

	_, err = ParseProviderList("mock|anthropic")
	require.ErrorContains(t, err, "anthropic")
}

func TestNewManagerRejectsEmbedOnlyMismatch(t *testing.T) {
	cfg := testConfig()
	cfg.EmbedProviders = "groq"
	_, err := NewManager(cfg)
	require.ErrorContains(t, err, "does not support embeddings")
}

func TestPreferredOrderPutsMockLast(t *testing.T) {
	cfg := testConfig()
	cfg.LLMProviders = "mock|ollama:local|openai"
	m, err := NewManager(cfg)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 0}, m.PreferredLLMOrder())
	require.Equal(t, -1, m.FindEmbedProviderIndex("openai"))
	require.Equal(t, 0, m.FindEmbedProviderIndex("MOCK"))
}
