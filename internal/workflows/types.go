package workflows

type PaperIngestInput struct {
	PaperID                     string `json:"paper_id"`
	Kind                        string `json:"kind,omitempty"`
	Path                        string `json:"path,omitempty"`
	PreferredEmbedProviderIndex int    `json:"preferred_embed_provider_index"`
}

type ReingestInput struct {
	Mode                        string `json:"mode"`
	Kind                        string `json:"kind,omitempty"`
	MaxConcurrentChildren       int    `json:"max_concurrent_children"`
	PreferredEmbedProviderIndex int    `json:"preferred_embed_provider_index"`
}

type InsightInput struct {
	PaperID string `json:"paper_id"`
}

// IngestStatus is returned by the GetIngestStatus query.
type IngestStatus struct {
	PaperID     string            `json:"paper_id"`
	CurrentStep string            `json:"current_step"`
	Status      string            `json:"status"`
	FailReason  string            `json:"fail_reason,omitempty"`
	SourceKind  string            `json:"source_kind,omitempty"`
	Generation  int               `json:"generation,omitempty"`
	ChunkCount  int               `json:"chunk_count"`
	Providers   []string          `json:"providers_used"`
	Steps       map[string]string `json:"steps"`
}

type ReingestProgress struct {
	Mode          string            `json:"mode"`
	Total         int               `json:"total"`
	Done          int               `json:"done"`
	Failed        int               `json:"failed"`
	Skipped       int               `json:"skipped"`
	PerPaper      map[string]string `json:"per_paper_status"`
	ChildWorkflow map[string]string `json:"child_workflow_ids,omitempty"`
}

type InsightStatus struct {
	PaperID string `json:"paper_id"`
	Status  string `json:"status"`
	Version int    `json:"version,omitempty"`
	Warning string `json:"warning,omitempty"`
	Error   string `json:"error,omitempty"`
}
