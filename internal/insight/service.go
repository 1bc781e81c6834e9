package insight

import (
	"context"
	"fmt"

	"arxivchat/internal/models"

	"golang.org/x/sync/singleflight"
)

type PaperReader interface {
	GetPaper(ctx context.Context, paperID string) (models.Paper, error)
}

type Store interface {
	SaveInsight(ctx context.Context, ins models.Insight) (models.Insight, error)
	LatestInsight(ctx context.Context, paperID string) (models.Insight, error)
}

// Service caches generated insights per paper. Concurrent refreshes of the
// same paper share one generation run.
type Service struct {
	gen    *Generator
	papers PaperReader
	store  Store
	group  singleflight.Group
}

func NewService(gen *Generator, papers PaperReader, store Store) *Service {
	return &Service{gen: gen, papers: papers, store: store}
}

// Get returns the latest stored insight.
func (s *Service) Get(ctx context.Context, paperID string) (models.Insight, error) {
	return s.store.LatestInsight(ctx, paperID)
}

// Refresh generates and stores a new insight version. A partial insight is
// stored and returned together with its Err().
func (s *Service) Refresh(ctx context.Context, paperID string, progress ProgressFunc) (models.Insight, error) {
	v, err, _ := s.group.Do(paperID, func() (any, error) {
		paper, err := s.papers.GetPaper(ctx, paperID)
		if err != nil {
			return models.Insight{}, err
		}
		ins, err := s.gen.Generate(ctx, paper, progress)
		if err != nil {
			return models.Insight{}, err
		}
		saved, err := s.store.SaveInsight(ctx, ins)
		if err != nil {
			return models.Insight{}, fmt.Errorf("save insight: %w", err)
		}
		return saved, nil
	})
	ins := v.(models.Insight)
	if err != nil {
		return ins, err
	}
	return ins, ins.Err()
}
