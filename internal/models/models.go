package models

import (
	"fmt"
	"time"

	"arxivchat/internal/util"
)

const (
	PaperStatusPending    = "pending"
	PaperStatusProcessing = "processing"
	PaperStatusReady      = "ready"
	PaperStatusFailed     = "failed"
)

type Paper struct {
	PaperID         string     `json:"paper_id"`
	Title           string     `json:"title"`
	Authors         []string   `json:"authors"`
	Abstract        string     `json:"abstract,omitempty"`
	Categories      []string   `json:"categories,omitempty"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
	PDFURL          string     `json:"pdf_url,omitempty"`
	SourceKind      string     `json:"source_kind,omitempty"`
	Status          string     `json:"status"`
	FailReason      string     `json:"fail_reason,omitempty"`
	ChunkGeneration int        `json:"chunk_generation"`
	ChunkCount      int        `json:"chunk_count"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type Chunk struct {
	ChunkID          string    `json:"chunk_id"`
	PaperID          string    `json:"paper_id"`
	Generation       int       `json:"generation"`
	ChunkIndex       int       `json:"chunk_index"`
	Text             string    `json:"text"`
	Section          string    `json:"section,omitempty"`
	EmbeddingVersion string    `json:"embedding_version"`
	CreatedAt        time.Time `json:"created_at"`
}

// ChunkResult is a retrieved chunk with its blended relevance score.
type ChunkResult struct {
	PaperID      string  `json:"paper_id"`
	Title        string  `json:"title"`
	ChunkID      string  `json:"chunk_id"`
	ChunkIndex   int     `json:"chunk_index"`
	Section      string  `json:"section,omitempty"`
	Snippet      string  `json:"snippet"`
	Score        float64 `json:"score"`
	VectorScore  float64 `json:"vector_score"`
	KeywordScore float64 `json:"keyword_score"`
	ChunkText    string  `json:"chunk_text,omitempty"`
}

// PaperMatch is a library paper matched by abstract similarity.
type PaperMatch struct {
	Paper Paper   `json:"paper"`
	Score float64 `json:"score"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type ConversationTurn struct {
	TurnID    string    `json:"turn_id"`
	UserID    string    `json:"user_id"`
	PaperID   string    `json:"paper_id"`
	Seq       int64     `json:"seq"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type SessionState string

const (
	SessionIdle          SessionState = "idle"
	SessionAwaitingQuery SessionState = "awaiting_query"
	SessionRetrieving    SessionState = "retrieving"
	SessionGenerating    SessionState = "generating"
	SessionClosed        SessionState = "closed"
)

type ChatSession struct {
	SessionID string       `json:"session_id"`
	UserID    string       `json:"user_id"`
	PaperID   string       `json:"paper_id"`
	State     SessionState `json:"state"`
	Turns     int          `json:"turns"`
	OpenedAt  time.Time    `json:"opened_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

const (
	QuestionAnswered = "answered"
	QuestionFailed   = "failed"
)

type InsightQuestion struct {
	Index    int      `json:"index"`
	Question string   `json:"question"`
	Answer   string   `json:"answer,omitempty"`
	ChunkIDs []string `json:"chunk_ids,omitempty"`
	Status   string   `json:"status"`
	Error    string   `json:"error,omitempty"`
}

type Insight struct {
	InsightID   string            `json:"insight_id"`
	PaperID     string            `json:"paper_id"`
	Version     int               `json:"version"`
	Questions   []InsightQuestion `json:"questions"`
	Summary     string            `json:"summary"`
	Partial     bool              `json:"partial"`
	GeneratedAt time.Time         `json:"generated_at"`
}

// Answered returns the answered questions in their original order.
func (i Insight) Answered() []InsightQuestion {
	out := make([]InsightQuestion, 0, len(i.Questions))
	for _, q := range i.Questions {
		if q.Status == QuestionAnswered {
			out = append(out, q)
		}
	}
	return out
}

// Err reports a partial insight as util.ErrPartialInsightFailure.
func (i Insight) Err() error {
	if !i.Partial {
		return nil
	}
	failed := len(i.Questions) - len(i.Answered())
	return fmt.Errorf("%d of %d questions failed: %w", failed, len(i.Questions), util.ErrPartialInsightFailure)
}
