package activities

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"arxivchat/internal/config"
	"arxivchat/internal/ingest"
	"arxivchat/internal/insight"
	"arxivchat/internal/models"
	"arxivchat/internal/providers"
	"arxivchat/internal/storage"
	"arxivchat/internal/util"

	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
)

type stubFetcher struct{}

func (stubFetcher) Lookup(ctx context.Context, id string) (models.Paper, error) {
	return models.Paper{PaperID: id, Title: "Paper " + id, Abstract: "abstract"}, nil
}

func (stubFetcher) FetchHTML(ctx context.Context, id string) ([]byte, error) {
	return []byte("<html><body><article><h2>Intro</h2><p>" + strings.Repeat("Transformers attend. ", 40) + "</p></article></body></html>"), nil
}

func (stubFetcher) FetchPDF(ctx context.Context, id, pdfURL string) ([]byte, error) {
	return nil, util.ErrExternalUnavailable
}

type memPapers struct {
	mu     sync.Mutex
	papers map[string]models.Paper
}

func newMemPapers() *memPapers { return &memPapers{papers: map[string]models.Paper{}} }

func (m *memPapers) UpsertPaper(ctx context.Context, p models.Paper) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.papers[p.PaperID]; ok {
		p.ChunkCount, p.ChunkGeneration = old.ChunkCount, old.ChunkGeneration
	}
	m.papers[p.PaperID] = p
	return nil
}

func (m *memPapers) GetPaper(ctx context.Context, id string) (models.Paper, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.papers[id]
	if !ok {
		return models.Paper{}, util.ErrNotFound
	}
	return p, nil
}

func (m *memPapers) UpdatePaperStatus(ctx context.Context, id, status, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.papers[id]
	if !ok {
		return util.ErrNotFound
	}
	p.Status, p.FailReason = status, reason
	m.papers[id] = p
	return nil
}

func (m *memPapers) SetSourceKind(ctx context.Context, id, kind string) error { return nil }

func (m *memPapers) SetAbstractEmbedding(ctx context.Context, id string, vec []float32) error {
	return nil
}

func (m *memPapers) ReplaceChunks(ctx context.Context, id string, records []storage.ChunkRecord, version string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.papers[id]
	p.ChunkGeneration++
	p.ChunkCount = len(records)
	p.Status, p.FailReason = models.PaperStatusReady, ""
	m.papers[id] = p
	return p.ChunkGeneration, nil
}

func (m *memPapers) ListPapers(ctx context.Context) ([]models.Paper, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Paper, 0, len(m.papers))
	for _, p := range m.papers {
		out = append(out, p)
	}
	return out, nil
}

func (m *memPapers) ListFailedPapers(ctx context.Context) ([]models.Paper, error) {
	all, _ := m.ListPapers(ctx)
	out := make([]models.Paper, 0)
	for _, p := range all {
		if p.Status == models.PaperStatusFailed {
			out = append(out, p)
		}
	}
	return out, nil
}

type stubInsights struct {
	ins models.Insight
	err error
}

func (s stubInsights) Refresh(ctx context.Context, paperID string, progress insight.ProgressFunc) (models.Insight, error) {
	progress(insight.StageQuestions, 1, 1)
	return s.ins, s.err
}

func newTestActivities(t *testing.T, papers *memPapers, ins InsightRefresher) *Activities {
	t.Helper()
	mgr := providers.NewStaticManager(nil, []providers.NamedEmbedProvider{
		{Ref: providers.ProviderRef{Raw: "mock", Name: "mock"}, Provider: providers.NewMockProvider(8)},
	}, 8)
	cfg := config.Config{DataRoot: t.TempDir()}
	p := ingest.NewPipeline(stubFetcher{}, papers, papers, mgr, ingest.Options{ChunkSize: 200, ChunkOverlap: 20, EmbedVersion: "v1", DataRoot: cfg.DataRoot})
	return New(cfg, p, papers, ins)
}

func TestIngestActivitiesEndToEnd(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	papers := newMemPapers()
	a := newTestActivities(t, papers, stubInsights{})
	env.RegisterActivity(a)

	val, err := env.ExecuteActivity(a.PreparePaperActivity, PreparePaperInput{PaperID: "2401.00001"})
	require.NoError(t, err)
	var prep PreparePaperOutput
	require.NoError(t, val.Get(&prep))
	require.Equal(t, models.PaperStatusProcessing, prep.Paper.Status)

	val, err = env.ExecuteActivity(a.FetchTextActivity, FetchTextInput{Paper: prep.Paper})
	require.NoError(t, err)
	var text FetchTextOutput
	require.NoError(t, val.Get(&text))
	require.Equal(t, ingest.KindHTML, text.Kind)

	val, err = env.ExecuteActivity(a.ChunkTextActivity, ChunkTextInput{PaperID: "2401.00001", Text: text.Text})
	require.NoError(t, err)
	var chunks ChunkTextOutput
	require.NoError(t, val.Get(&chunks))
	require.NotEmpty(t, chunks.Chunks)

	val, err = env.ExecuteActivity(a.IndexChunksActivity, IndexChunksInput{PaperID: "2401.00001", Kind: text.Kind, Chunks: chunks.Chunks, PreferredEmbedProviderIndex: -1})
	require.NoError(t, err)
	var idx IndexChunksOutput
	require.NoError(t, val.Get(&idx))
	require.Equal(t, 1, idx.Generation)
	require.Equal(t, len(chunks.Chunks), idx.ChunkCount)
	require.Equal(t, "mock", idx.ProviderName)

	val, err = env.ExecuteActivity(a.FinalizePaperActivity, FinalizePaperInput{PaperID: "2401.00001", Text: text.Text, Chunks: chunks.Chunks})
	require.NoError(t, err)
	var fin FinalizePaperOutput
	require.NoError(t, val.Get(&fin))
	require.Equal(t, models.PaperStatusReady, fin.Paper.Status)
}

func TestChunkTextActivityEmptyIsNonRetryable(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	a := newTestActivities(t, newMemPapers(), stubInsights{})
	env.RegisterActivity(a)

	_, err := env.ExecuteActivity(a.ChunkTextActivity, ChunkTextInput{PaperID: "p", Text: "   "})
	require.Error(t, err)
	var appErr *temporal.ApplicationError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, ErrTypeNoText, appErr.Type())
	require.True(t, appErr.NonRetryable())
}

func TestFailPaperActivityKeepsServedPaperReady(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	papers := newMemPapers()
	papers.papers["served"] = models.Paper{PaperID: "served", Status: models.PaperStatusProcessing, ChunkCount: 4, ChunkGeneration: 2}
	papers.papers["fresh"] = models.Paper{PaperID: "fresh", Status: models.PaperStatusProcessing}
	a := newTestActivities(t, papers, stubInsights{})
	env.RegisterActivity(a)

	val, err := env.ExecuteActivity(a.FailPaperActivity, FailPaperInput{PaperID: "served", Reason: "html and pdf unavailable"})
	require.NoError(t, err)
	var out FailPaperOutput
	require.NoError(t, val.Get(&out))
	require.Equal(t, models.PaperStatusReady, out.Status)

	val, err = env.ExecuteActivity(a.FailPaperActivity, FailPaperInput{PaperID: "fresh", Reason: "no text"})
	require.NoError(t, err)
	require.NoError(t, val.Get(&out))
	require.Equal(t, models.PaperStatusFailed, out.Status)
	require.Equal(t, "no text", papers.papers["fresh"].FailReason)

	val, err = env.ExecuteActivity(a.ListPapersActivity, ListPapersInput{FailedOnly: true})
	require.NoError(t, err)
	var listed ListPapersOutput
	require.NoError(t, val.Get(&listed))
	require.Equal(t, []ListedPaper{{PaperID: "fresh", Status: models.PaperStatusFailed}}, listed.Papers)
}

func TestGenerateInsightActivity(t *testing.T) {
	partial := models.Insight{PaperID: "p", Version: 3, Partial: true, Questions: []models.InsightQuestion{
		{Index: 0, Question: "Q1?", Status: models.QuestionAnswered, Answer: "A"},
		{Index: 1, Question: "Q2?", Status: models.QuestionFailed, Error: "answer: timeout"},
	}}

	t.Run("partial returns warning", func(t *testing.T) {
		var ts testsuite.WorkflowTestSuite
		env := ts.NewTestActivityEnvironment()
		a := newTestActivities(t, newMemPapers(), stubInsights{ins: partial, err: partial.Err()})
		env.RegisterActivity(a)
		val, err := env.ExecuteActivity(a.GenerateInsightActivity, GenerateInsightInput{PaperID: "p"})
		require.NoError(t, err)
		var out GenerateInsightOutput
		require.NoError(t, val.Get(&out))
		require.Equal(t, 3, out.Insight.Version)
		require.Contains(t, out.Warning, "1 of 2 questions failed")
	})

	t.Run("malformed questions are not retried", func(t *testing.T) {
		var ts testsuite.WorkflowTestSuite
		env := ts.NewTestActivityEnvironment()
		a := newTestActivities(t, newMemPapers(), stubInsights{err: util.ErrMalformedResponse})
		env.RegisterActivity(a)
		_, err := env.ExecuteActivity(a.GenerateInsightActivity, GenerateInsightInput{PaperID: "p"})
		var appErr *temporal.ApplicationError
		require.True(t, errors.As(err, &appErr))
		require.Equal(t, ErrTypeMalformed, appErr.Type())
	})
}
