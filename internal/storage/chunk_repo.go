package storage

import (
	"context"
	"fmt"

	"arxivchat/internal/models"
	"arxivchat/internal/util"

	"github.com/pgvector/pgvector-go"
)

type ChunkRecord struct {
	ChunkIndex int
	Text       string
	Section    string
	Embedding  []float32
}

type ChunkRepo struct {
	db *DB
}

func NewChunkRepo(db *DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

// ReplaceChunks writes a new chunk generation for the paper and makes it the
// active one in a single transaction. Readers see either the previous set or
// the new one. The paper is marked ready on commit. Returns the new generation.
func (r *ChunkRepo) ReplaceChunks(ctx context.Context, paperID string, records []ChunkRecord, embeddingVersion string) (int, error) {
	if len(records) == 0 {
		return 0, fmt.Errorf("replace chunks: %w", util.ErrNoExtractableText)
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx replace chunks: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var current int
	if err := tx.QueryRow(ctx, `SELECT chunk_generation FROM papers WHERE paper_id=$1 FOR UPDATE`, paperID).Scan(&current); err != nil {
		return 0, notFound(err, "lock paper")
	}
	next := current + 1

	for _, c := range records {
		if _, err := tx.Exec(ctx, `
INSERT INTO chunks (chunk_id, paper_id, generation, chunk_index, text, section, embedding_version, embedding)
VALUES ($1, $2, $3, $4, $5, NULLIF($6,''), $7, $8)`,
			util.ChunkID(paperID, next, c.ChunkIndex, c.Text), paperID, next, c.ChunkIndex, c.Text, c.Section,
			embeddingVersion, pgvector.NewVector(c.Embedding),
		); err != nil {
			return 0, fmt.Errorf("insert chunk %d of generation %d: %w", c.ChunkIndex, next, err)
		}
	}

	if _, err := tx.Exec(ctx, `
UPDATE papers SET chunk_generation=$2, chunk_count=$3, status='ready', fail_reason=NULL, updated_at=NOW()
WHERE paper_id=$1`, paperID, next, len(records)); err != nil {
		return 0, fmt.Errorf("activate chunk generation: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE paper_id=$1 AND generation<>$2`, paperID, next); err != nil {
		return 0, fmt.Errorf("drop stale chunks: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit chunks tx: %w", err)
	}
	return next, nil
}

// ListChunks returns the active generation in chunk order.
func (r *ChunkRepo) ListChunks(ctx context.Context, paperID string) ([]models.Chunk, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT c.chunk_id, c.paper_id, c.generation, c.chunk_index, c.text, COALESCE(c.section,''), c.embedding_version, c.created_at
FROM chunks c
JOIN papers p ON p.paper_id = c.paper_id AND p.chunk_generation = c.generation
WHERE c.paper_id=$1
ORDER BY c.chunk_index ASC`, paperID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()
	out := make([]models.Chunk, 0, 64)
	for rows.Next() {
		var c models.Chunk
		if err := rows.Scan(&c.ChunkID, &c.PaperID, &c.Generation, &c.ChunkIndex, &c.Text, &c.Section, &c.EmbeddingVersion, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return out, nil
}
