package util

import (
	"errors"
	"fmt"
)

var (
	ErrNoExtractableText = errors.New("no extractable text found")
	ErrNotFound          = errors.New("not found")

	ErrExternalUnavailable   = errors.New("external service unavailable")
	ErrRetrievalUnavailable  = fmt.Errorf("retrieval unavailable: %w", ErrExternalUnavailable)
	ErrMalformedResponse     = errors.New("malformed llm response")
	ErrIngestionFailure      = errors.New("ingestion failure")
	ErrPartialInsightFailure = errors.New("partial insight failure")
	ErrInsightFailed         = errors.New("insight generation failed")

	ErrSessionClosed = errors.New("chat session closed")
	ErrSessionBusy   = errors.New("chat session busy")
)

// Consistency tells a caller what a failed operation left behind.
type Consistency string

const (
	// ConsistencyUnchanged means nothing was written; the call can be retried.
	ConsistencyUnchanged Consistency = "unchanged"
	// ConsistencyReingest means the paper may be inconsistent and should be re-ingested.
	ConsistencyReingest Consistency = "reingest"
)

// ConsistencyOf classifies err for user-facing reporting.
func ConsistencyOf(err error) Consistency {
	if errors.Is(err, ErrIngestionFailure) {
		return ConsistencyReingest
	}
	return ConsistencyUnchanged
}
