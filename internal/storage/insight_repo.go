package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"arxivchat/internal/models"

	"github.com/google/uuid"
)

// insightVersionsKept bounds stored insight history per paper.
const insightVersionsKept = 5

type InsightRepo struct {
	db *DB
}

func NewInsightRepo(db *DB) *InsightRepo {
	return &InsightRepo{db: db}
}

// SaveInsight stores ins as the next version for its paper and returns it
// with InsightID and Version filled in.
func (r *InsightRepo) SaveInsight(ctx context.Context, ins models.Insight) (models.Insight, error) {
	payload, err := json.Marshal(ins.Questions)
	if err != nil {
		return models.Insight{}, fmt.Errorf("marshal insight questions: %w", err)
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return models.Insight{}, fmt.Errorf("begin tx save insight: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('insight:' || $1))`, ins.PaperID); err != nil {
		return models.Insight{}, fmt.Errorf("lock insight versions: %w", err)
	}
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(version),0)+1 FROM insights WHERE paper_id=$1`, ins.PaperID).Scan(&ins.Version); err != nil {
		return models.Insight{}, fmt.Errorf("next insight version: %w", err)
	}
	ins.InsightID = uuid.NewString()
	if err := tx.QueryRow(ctx, `
INSERT INTO insights (insight_id, paper_id, version, questions, summary, partial)
VALUES ($1::uuid, $2, $3, $4, $5, $6)
RETURNING generated_at`, ins.InsightID, ins.PaperID, ins.Version, payload, ins.Summary, ins.Partial).Scan(&ins.GeneratedAt); err != nil {
		return models.Insight{}, notFound(err, "insert insight")
	}
	if _, err := tx.Exec(ctx, `DELETE FROM insights WHERE paper_id=$1 AND version <= $2`, ins.PaperID, ins.Version-insightVersionsKept); err != nil {
		return models.Insight{}, fmt.Errorf("prune insights: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Insight{}, fmt.Errorf("commit insight tx: %w", err)
	}
	return ins, nil
}

func (r *InsightRepo) LatestInsight(ctx context.Context, paperID string) (models.Insight, error) {
	var ins models.Insight
	var payload []byte
	err := r.db.Pool.QueryRow(ctx, `
SELECT insight_id::text, paper_id, version, questions, summary, partial, generated_at
FROM insights WHERE paper_id=$1 ORDER BY version DESC LIMIT 1`, paperID).
		Scan(&ins.InsightID, &ins.PaperID, &ins.Version, &payload, &ins.Summary, &ins.Partial, &ins.GeneratedAt)
	if err != nil {
		return models.Insight{}, notFound(err, "latest insight")
	}
	if err := json.Unmarshal(payload, &ins.Questions); err != nil {
		return models.Insight{}, fmt.Errorf("decode insight questions: %w", err)
	}
	return ins, nil
}
