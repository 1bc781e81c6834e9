package vector

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"arxivchat/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

type Mode string

const (
	ModeVector  Mode = "vector"
	ModeKeyword Mode = "keyword"
	ModeHybrid  Mode = "hybrid"
)

// Query scopes a search to one paper when PaperID is set. Text drives the
// keyword half and Vector the similarity half.
type Query struct {
	PaperID      string
	Text         string
	Vector       []float32
	K            int
	Mode         Mode
	VectorWeight float64
}

type Searcher struct {
	q Queryer
}

type Queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func NewSearcher(q Queryer) *Searcher {
	return &Searcher{q: q}
}

// Search ranks active-generation chunks by the blended score and returns at
// most K of them, best first.
func (s *Searcher) Search(ctx context.Context, q Query) ([]models.ChunkResult, error) {
	if q.K <= 0 {
		q.K = 5
	}
	mode := q.Mode
	if mode == "" {
		mode = ModeHybrid
	}
	w, err := modeWeight(mode, q.VectorWeight)
	if err != nil {
		return nil, err
	}
	if w > 0 && len(q.Vector) == 0 {
		return nil, fmt.Errorf("%s search needs a query vector", mode)
	}
	if w < 1 && strings.TrimSpace(q.Text) == "" {
		if mode == ModeKeyword {
			return []models.ChunkResult{}, nil
		}
		w = 1
	}

	var vec any
	if len(q.Vector) > 0 {
		vec = pgvector.NewVector(q.Vector)
	}
	args := []any{vec, q.Text, w, q.K}
	scope := ""
	if q.PaperID != "" {
		scope = " AND c.paper_id = $5"
		args = append(args, q.PaperID)
	}

	query := `
SELECT c.paper_id, p.title, c.chunk_id, c.chunk_index, COALESCE(c.section,''),
       LEFT(c.text, 420) AS snippet, c.text, s.vs, s.ks
FROM chunks c
JOIN papers p ON p.paper_id = c.paper_id AND p.chunk_generation = c.generation
CROSS JOIN LATERAL (
  SELECT CASE WHEN $1::vector IS NULL OR c.embedding IS NULL THEN 0
              ELSE 1 - (c.embedding <=> $1::vector) END AS vs,
         CASE WHEN $2::text = '' THEN 0
              ELSE ts_rank_cd(c.tsv, plainto_tsquery('english', $2), 32) END AS ks
) s
WHERE TRUE` + scope + `
ORDER BY ($3::float8 * s.vs + (1 - $3::float8) * s.ks) DESC, c.paper_id, c.chunk_index
LIMIT $4`

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s search: %w", mode, err)
	}
	defer rows.Close()

	results := make([]models.ChunkResult, 0, q.K)
	for rows.Next() {
		var r models.ChunkResult
		if err := rows.Scan(&r.PaperID, &r.Title, &r.ChunkID, &r.ChunkIndex, &r.Section, &r.Snippet, &r.ChunkText, &r.VectorScore, &r.KeywordScore); err != nil {
			return nil, fmt.Errorf("scan chunk result: %w", err)
		}
		r.Score = Blend(w, r.VectorScore, r.KeywordScore)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search rows: %w", err)
	}
	if mode == ModeKeyword {
		results = dropZero(results)
	}
	SortByScore(results)
	return results, nil
}

// SearchAbstracts ranks ready library papers by abstract embedding similarity.
func (s *Searcher) SearchAbstracts(ctx context.Context, vec []float32, k int) ([]models.PaperMatch, error) {
	if k <= 0 {
		k = 10
	}
	rows, err := s.q.Query(ctx, `
SELECT paper_id, title, authors, COALESCE(abstract,''), categories, published_at, status,
       1 - (abstract_embedding <=> $1) AS score
FROM papers
WHERE abstract_embedding IS NOT NULL
ORDER BY abstract_embedding <=> $1
LIMIT $2`, pgvector.NewVector(vec), k)
	if err != nil {
		return nil, fmt.Errorf("query abstract search: %w", err)
	}
	defer rows.Close()
	out := make([]models.PaperMatch, 0, k)
	for rows.Next() {
		var m models.PaperMatch
		p := &m.Paper
		if err := rows.Scan(&p.PaperID, &p.Title, &p.Authors, &p.Abstract, &p.Categories, &p.PublishedAt, &p.Status, &m.Score); err != nil {
			return nil, fmt.Errorf("scan paper match: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate abstract rows: %w", err)
	}
	return out, nil
}

func modeWeight(mode Mode, w float64) (float64, error) {
	switch mode {
	case ModeVector:
		return 1, nil
	case ModeKeyword:
		return 0, nil
	case ModeHybrid:
		if w < 0 || w > 1 {
			return 0, fmt.Errorf("vector weight %.2f outside [0,1]", w)
		}
		return w, nil
	default:
		return 0, fmt.Errorf("unknown search mode %q", mode)
	}
}

// Blend combines cosine similarity and normalized keyword rank.
func Blend(w, vectorScore, keywordScore float64) float64 {
	return w*vectorScore + (1-w)*keywordScore
}

// SortByScore orders results by descending score. Ties keep chunk order.
func SortByScore(results []models.ChunkResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].PaperID != results[j].PaperID {
			return results[i].PaperID < results[j].PaperID
		}
		return results[i].ChunkIndex < results[j].ChunkIndex
	})
}

func dropZero(results []models.ChunkResult) []models.ChunkResult {
	out := results[:0]
	for _, r := range results {
		if r.KeywordScore > 0 {
			out = append(out, r)
		}
	}
	return out
}
