package insight

import (
	"context"
	"sync"
	"testing"

	"arxivchat/internal/models"
	"arxivchat/internal/util"

	"github.com/stretchr/testify/require"
)

type memInsights struct {
	mu    sync.Mutex
	saved []models.Insight
}

func (m *memInsights) SaveInsight(ctx context.Context, ins models.Insight) (models.Insight, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ins.Version = len(m.saved) + 1
	ins.InsightID = "i"
	m.saved = append(m.saved, ins)
	return ins, nil
}

func (m *memInsights) LatestInsight(ctx context.Context, paperID string) (models.Insight, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.saved) == 0 {
		return models.Insight{}, util.ErrNotFound
	}
	return m.saved[len(m.saved)-1], nil
}

type onePaper struct{}

func (onePaper) GetPaper(ctx context.Context, id string) (models.Paper, error) {
	return models.Paper{PaperID: id, Title: "T", Abstract: "A"}, nil
}

func TestServiceRefreshStoresVersions(t *testing.T) {
	store := &memInsights{}
	svc := NewService(NewGenerator(scriptedRetriever{}, &scriptedLLM{qs: fiveQuestions}, Options{Questions: 5}), onePaper{}, store)

	_, err := svc.Get(context.Background(), "p")
	require.ErrorIs(t, err, util.ErrNotFound)

	first, err := svc.Refresh(context.Background(), "p", nil)
	require.NoError(t, err)
	require.Equal(t, 1, first.Version)
	second, err := svc.Refresh(context.Background(), "p", nil)
	require.NoError(t, err)
	require.Equal(t, 2, second.Version)

	latest, err := svc.Get(context.Background(), "p")
	require.NoError(t, err)
	require.Equal(t, 2, latest.Version)
}

func TestServiceRefreshPartialIsStoredAndReported(t *testing.T) {
	store := &memInsights{}
	llm := &scriptedLLM{qs: fiveQuestions, failAnswers: map[string]bool{"Q5?": true}}
	svc := NewService(NewGenerator(scriptedRetriever{}, llm, Options{Questions: 5}), onePaper{}, store)

	ins, err := svc.Refresh(context.Background(), "p", nil)
	require.ErrorIs(t, err, util.ErrPartialInsightFailure)
	require.True(t, ins.Partial)
	require.Len(t, store.saved, 1)
}
