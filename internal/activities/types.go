package activities

import (
	"arxivchat/internal/models"
	"arxivchat/internal/util"
)

type PreparePaperInput struct {
	PaperID string `json:"paper_id"`
	Kind    string `json:"kind,omitempty"`
	Path    string `json:"path,omitempty"`
}

type PreparePaperOutput struct {
	Paper models.Paper `json:"paper"`
}

type FetchTextInput struct {
	Paper models.Paper `json:"paper"`
	Kind  string       `json:"kind,omitempty"`
	Path  string       `json:"path,omitempty"`
}

// FetchTextOutput carries normalized text.
type FetchTextOutput struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

type ChunkTextInput struct {
	PaperID string `json:"paper_id"`
	Text    string `json:"text"`
}

type ChunkTextOutput struct {
	Chunks []util.TextChunk `json:"chunks"`
}

// IndexChunksInput embeds and commits in one activity so vectors never
// travel through workflow history.
type IndexChunksInput struct {
	PaperID                     string           `json:"paper_id"`
	Kind                        string           `json:"kind"`
	Chunks                      []util.TextChunk `json:"chunks"`
	PreferredEmbedProviderIndex int              `json:"preferred_embed_provider_index"`
}

type IndexChunksOutput struct {
	Generation   int    `json:"generation"`
	ChunkCount   int    `json:"chunk_count"`
	ProviderName string `json:"provider_name"`
	Model        string `json:"model"`
}

type FinalizePaperInput struct {
	PaperID string           `json:"paper_id"`
	Text    string           `json:"text"`
	Chunks  []util.TextChunk `json:"chunks"`
}

type FinalizePaperOutput struct {
	Paper models.Paper `json:"paper"`
}

type FailPaperInput struct {
	PaperID string `json:"paper_id"`
	Reason  string `json:"reason"`
}

type FailPaperOutput struct {
	Status string `json:"status"`
}

type ListPapersInput struct {
	FailedOnly bool `json:"failed_only"`
}

type ListedPaper struct {
	PaperID    string `json:"paper_id"`
	Status     string `json:"status"`
	SourceKind string `json:"source_kind,omitempty"`
}

type ListPapersOutput struct {
	Papers []ListedPaper `json:"papers"`
}

type WriteRunManifestInput struct {
	RunID    string         `json:"run_id"`
	Manifest map[string]any `json:"manifest"`
}

type WriteRunManifestOutput struct {
	Path string `json:"path"`
}

type GenerateInsightInput struct {
	PaperID string `json:"paper_id"`
}

// GenerateInsightOutput carries a stored insight. Warning is set when some
// questions failed.
type GenerateInsightOutput struct {
	Insight models.Insight `json:"insight"`
	Warning string         `json:"warning,omitempty"`
}

// InsightProgress is recorded as activity heartbeat details.
type InsightProgress struct {
	Stage string `json:"stage"`
	Done  int    `json:"done"`
	Total int    `json:"total"`
}
