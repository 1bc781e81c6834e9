package storage

import (
	"context"
	"fmt"
	"strings"

	"arxivchat/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

type PaperRepo struct {
	db *DB
}

func NewPaperRepo(db *DB) *PaperRepo {
	return &PaperRepo{db: db}
}

const paperColumns = `paper_id, title, authors, COALESCE(abstract,''), categories, published_at,
       COALESCE(pdf_url,''), COALESCE(source_kind,''), status, COALESCE(fail_reason,''),
       chunk_generation, chunk_count, created_at, updated_at`

func scanPaper(row pgx.Row) (models.Paper, error) {
	var p models.Paper
	err := row.Scan(&p.PaperID, &p.Title, &p.Authors, &p.Abstract, &p.Categories, &p.PublishedAt,
		&p.PDFURL, &p.SourceKind, &p.Status, &p.FailReason, &p.ChunkGeneration, &p.ChunkCount, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func collectPapers(rows pgx.Rows, what string) ([]models.Paper, error) {
	defer rows.Close()
	out := make([]models.Paper, 0)
	for rows.Next() {
		p, err := scanPaper(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", what, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", what, err)
	}
	return out, nil
}

// UpsertPaper stores metadata. Existing chunk state and status of a ready
// paper are never downgraded by a metadata refresh.
func (r *PaperRepo) UpsertPaper(ctx context.Context, p models.Paper) error {
	if p.Authors == nil {
		p.Authors = []string{}
	}
	if p.Categories == nil {
		p.Categories = []string{}
	}
	status := p.Status
	if status == "" {
		status = models.PaperStatusPending
	}
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO papers (paper_id, title, authors, abstract, categories, published_at, pdf_url, source_kind, status, fail_reason)
VALUES ($1, $2, $3, NULLIF($4,''), $5, $6, NULLIF($7,''), NULLIF($8,''), $9, NULLIF($10,''))
ON CONFLICT (paper_id)
DO UPDATE SET
  title = COALESCE(NULLIF(EXCLUDED.title,''), papers.title),
  authors = CASE WHEN cardinality(EXCLUDED.authors) > 0 THEN EXCLUDED.authors ELSE papers.authors END,
  abstract = COALESCE(EXCLUDED.abstract, papers.abstract),
  categories = CASE WHEN cardinality(EXCLUDED.categories) > 0 THEN EXCLUDED.categories ELSE papers.categories END,
  published_at = COALESCE(EXCLUDED.published_at, papers.published_at),
  pdf_url = COALESCE(EXCLUDED.pdf_url, papers.pdf_url),
  source_kind = COALESCE(EXCLUDED.source_kind, papers.source_kind),
  updated_at = NOW()`,
		p.PaperID, p.Title, p.Authors, p.Abstract, p.Categories, p.PublishedAt, p.PDFURL, p.SourceKind, status, p.FailReason,
	)
	if err != nil {
		return fmt.Errorf("upsert paper: %w", err)
	}
	return nil
}

func (r *PaperRepo) UpdatePaperStatus(ctx context.Context, paperID, status, failReason string) error {
	tag, err := r.db.Pool.Exec(ctx, `UPDATE papers SET status=$2, fail_reason=NULLIF($3,''), updated_at=NOW() WHERE paper_id=$1`, paperID, status, failReason)
	if err != nil {
		return fmt.Errorf("update paper status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(pgx.ErrNoRows, "update paper status")
	}
	return nil
}

// SetSourceKind records which source (html, pdf, local) produced the text.
func (r *PaperRepo) SetSourceKind(ctx context.Context, paperID, kind string) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE papers SET source_kind=$2, updated_at=NOW() WHERE paper_id=$1`, paperID, kind)
	if err != nil {
		return fmt.Errorf("set source kind: %w", err)
	}
	return nil
}

func (r *PaperRepo) SetAbstractEmbedding(ctx context.Context, paperID string, vec []float32) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE papers SET abstract_embedding=$2 WHERE paper_id=$1`, paperID, pgvector.NewVector(vec))
	if err != nil {
		return fmt.Errorf("set abstract embedding: %w", err)
	}
	return nil
}

func (r *PaperRepo) GetPaper(ctx context.Context, paperID string) (models.Paper, error) {
	p, err := scanPaper(r.db.Pool.QueryRow(ctx, `SELECT `+paperColumns+` FROM papers WHERE paper_id=$1`, paperID))
	if err != nil {
		return models.Paper{}, notFound(err, "get paper")
	}
	return p, nil
}

func (r *PaperRepo) ListPapers(ctx context.Context) ([]models.Paper, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+paperColumns+` FROM papers ORDER BY published_at DESC NULLS LAST, created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list papers: %w", err)
	}
	return collectPapers(rows, "papers")
}

// FilterPapers does a case-insensitive substring match on one field
// ("title", "authors", "categories") or on all of them.
func (r *PaperRepo) FilterPapers(ctx context.Context, field, term string) ([]models.Paper, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return r.ListPapers(ctx)
	}
	var where string
	switch field {
	case "title":
		where = `title ILIKE $1`
	case "authors":
		where = `array_to_string(authors, ' ') ILIKE $1`
	case "categories":
		where = `array_to_string(categories, ' ') ILIKE $1`
	case "", "all":
		where = `(title ILIKE $1 OR array_to_string(authors, ' ') ILIKE $1 OR array_to_string(categories, ' ') ILIKE $1 OR COALESCE(abstract,'') ILIKE $1)`
	default:
		return nil, fmt.Errorf("unknown filter field %q", field)
	}
	rows, err := r.db.Pool.Query(ctx, `SELECT `+paperColumns+` FROM papers WHERE `+where+` ORDER BY created_at DESC`, "%"+term+"%")
	if err != nil {
		return nil, fmt.Errorf("filter papers: %w", err)
	}
	return collectPapers(rows, "filtered papers")
}

func (r *PaperRepo) ListFailedPapers(ctx context.Context) ([]models.Paper, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+paperColumns+` FROM papers WHERE status='failed' ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list failed papers: %w", err)
	}
	return collectPapers(rows, "failed papers")
}

// DeletePaper removes the paper. Chunks, chat turns and insights cascade.
func (r *PaperRepo) DeletePaper(ctx context.Context, paperID string) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM papers WHERE paper_id=$1`, paperID)
	if err != nil {
		return fmt.Errorf("delete paper: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(pgx.ErrNoRows, "delete paper")
	}
	return nil
}
