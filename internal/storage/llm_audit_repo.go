package storage

import (
	"context"
	"fmt"
	"log/slog"

	"arxivchat/internal/providers"
)

type LLMCallRecord struct {
	Operation    string
	PaperID      string
	ProviderName string
	Model        string
	Attempt      int
	Status       string
	ErrorType    string
}

type LLMAuditRepo struct {
	db *DB
}

func NewLLMAuditRepo(db *DB) *LLMAuditRepo {
	return &LLMAuditRepo{db: db}
}

func (r *LLMAuditRepo) Insert(ctx context.Context, rec LLMCallRecord) error {
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO llm_calls(operation, paper_id, provider_name, model, attempt, status, error_type)
VALUES ($1, NULLIF($2,''), $3, NULLIF($4,''), $5, $6, NULLIF($7,''))`,
		rec.Operation, rec.PaperID, rec.ProviderName, rec.Model, rec.Attempt, rec.Status, rec.ErrorType)
	if err != nil {
		return fmt.Errorf("insert llm call: %w", err)
	}
	return nil
}

// RecordCall implements providers.Recorder. Audit failures are logged only.
func (r *LLMAuditRepo) RecordCall(ctx context.Context, rec providers.CallRecord) {
	err := r.Insert(ctx, LLMCallRecord{
		Operation:    rec.Operation,
		PaperID:      rec.PaperID,
		ProviderName: rec.Provider.Name,
		Model:        rec.Provider.Model,
		Attempt:      rec.Attempt,
		Status:       rec.Status,
		ErrorType:    string(rec.ErrorType),
	})
	if err != nil {
		slog.Warn("llm audit insert failed", "operation", rec.Operation, "err", err)
	}
}
