package ingest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"

	"arxivchat/internal/models"
	"arxivchat/internal/providers"
	"arxivchat/internal/storage"
	"arxivchat/internal/util"

	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	meta      map[string]models.Paper
	html      map[string]string
	pdfErr    error
	pdfCalls  int
	htmlCalls int
}

func (f *fakeFetcher) Lookup(ctx context.Context, id string) (models.Paper, error) {
	p, ok := f.meta[id]
	if !ok {
		return models.Paper{}, util.ErrNotFound
	}
	return p, nil
}

func (f *fakeFetcher) FetchHTML(ctx context.Context, id string) ([]byte, error) {
	f.htmlCalls++
	body, ok := f.html[id]
	if !ok {
		return nil, fmt.Errorf("html %s: %w", id, util.ErrNotFound)
	}
	return []byte(body), nil
}

func (f *fakeFetcher) FetchPDF(ctx context.Context, id, pdfURL string) ([]byte, error) {
	f.pdfCalls++
	if f.pdfErr != nil {
		return nil, f.pdfErr
	}
	return nil, util.ErrExternalUnavailable
}

// memStore keeps only the active chunk generation, like the Postgres swap.
type memStore struct {
	mu      sync.Mutex
	papers  map[string]models.Paper
	chunks  map[string][]storage.ChunkRecord
	failSet bool
}

func newMemStore() *memStore {
	return &memStore{papers: map[string]models.Paper{}, chunks: map[string][]storage.ChunkRecord{}}
}

func (m *memStore) UpsertPaper(ctx context.Context, p models.Paper) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.papers[p.PaperID]; ok {
		p.ChunkCount, p.ChunkGeneration, p.Status = old.ChunkCount, old.ChunkGeneration, old.Status
	}
	m.papers[p.PaperID] = p
	return nil
}

func (m *memStore) GetPaper(ctx context.Context, id string) (models.Paper, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.papers[id]
	if !ok {
		return models.Paper{}, util.ErrNotFound
	}
	return p, nil
}

func (m *memStore) UpdatePaperStatus(ctx context.Context, id, status, reason string) error {
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

func (m *memStore) SetSourceKind(ctx context.Context, id, kind string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.papers[id]
	p.SourceKind = kind
	m.papers[id] = p
	return nil
}

func (m *memStore) SetAbstractEmbedding(ctx context.Context, id string, vec []float32) error {
	return nil
}

func (m *memStore) ReplaceChunks(ctx context.Context, id string, records []storage.ChunkRecord, version string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSet {
		return 0, errors.New("tx aborted")
	}
	p := m.papers[id]
	p.ChunkGeneration++
	p.ChunkCount = len(records)
	p.Status, p.FailReason = models.PaperStatusReady, ""
	m.papers[id] = p
	m.chunks[id] = append([]storage.ChunkRecord(nil), records...)
	return p.ChunkGeneration, nil
}

type failingEmbedder struct{}

func (failingEmbedder) EmbedTexts(ctx context.Context, paperID string, req providers.EmbedRequest, preferred int) ([][]float32, providers.ProviderInfo, error) {
	return nil, providers.ProviderInfo{}, fmt.Errorf("all embed providers failed: %w", util.ErrExternalUnavailable)
}

func mockEmbedder() Embedder {
	return providers.NewStaticManager(nil, []providers.NamedEmbedProvider{
		{Ref: providers.ProviderRef{Raw: "mock", Name: "mock"}, Provider: providers.NewMockProvider(8)},
	}, 8)
}

func paperHTML(paragraphs int) string {
	var b strings.Builder
	b.WriteString("<html><body><article><h1>A Paper</h1><h2>Method</h2>")
	for i := 0; i < paragraphs; i++ {
		fmt.Fprintf(&b, "<p>Paragraph %d describes the method in plain words and some detail.</p>", i)
	}
	b.WriteString("</article></body></html>")
	return b.String()
}

func newTestPipeline(f Fetcher, store *memStore, embed Embedder) *Pipeline {
	return NewPipeline(f, store, store, embed, Options{ChunkSize: 500, ChunkOverlap: 50, EmbedBatch: 4})
}

func TestIngestHTMLChunkCountMatchesWindowFormula(t *testing.T) {
	body := paperHTML(40)
	f := &fakeFetcher{meta: map[string]models.Paper{"2401.00001": {PaperID: "2401.00001", Title: "A Paper"}}, html: map[string]string{"2401.00001": body}}
	store := newMemStore()
	p := newTestPipeline(f, store, mockEmbedder())

	paper, err := p.Ingest(context.Background(), Source{PaperID: "2401.00001"})
	require.NoError(t, err)
	require.Equal(t, models.PaperStatusReady, paper.Status)
	require.Equal(t, KindHTML, paper.SourceKind)

	text, err := ExtractHTML([]byte(body))
	require.NoError(t, err)
	length := len([]rune(Normalize(text)))
	want := int(math.Ceil(float64(length-50) / float64(500-50)))
	require.Len(t, store.chunks["2401.00001"], want)
	require.Equal(t, want, paper.ChunkCount)
	for i, c := range store.chunks["2401.00001"] {
		require.Equal(t, i, c.ChunkIndex)
		require.Len(t, c.Embedding, 8)
	}
	require.Equal(t, 0, f.pdfCalls)
}

func TestIngestTwiceIsIdempotent(t *testing.T) {
	f := &fakeFetcher{meta: map[string]models.Paper{"p": {PaperID: "p", Title: "T"}}, html: map[string]string{"p": paperHTML(25)}}
	store := newMemStore()
	p := newTestPipeline(f, store, mockEmbedder())

	_, err := p.Ingest(context.Background(), Source{PaperID: "p"})
	require.NoError(t, err)
	first := store.chunks["p"]

	paper, err := p.Ingest(context.Background(), Source{PaperID: "p"})
	require.NoError(t, err)
	second := store.chunks["p"]

	require.Equal(t, 2, paper.ChunkGeneration)
	require.Equal(t, len(first), len(second))
	for i := range first {
		require.Equal(t, first[i].Text, second[i].Text)
		require.Equal(t, first[i].Section, second[i].Section)
	}
}

func TestIngestFallsBackToPDF(t *testing.T) {
	f := &fakeFetcher{meta: map[string]models.Paper{"p": {PaperID: "p", Title: "T"}}, pdfErr: errors.New("pdf unavailable")}
	store := newMemStore()
	p := newTestPipeline(f, store, mockEmbedder())

	_, err := p.Ingest(context.Background(), Source{PaperID: "p"})
	require.ErrorIs(t, err, util.ErrIngestionFailure)
	require.Equal(t, 1, f.htmlCalls)
	require.Equal(t, 1, f.pdfCalls)

	paper, _ := store.GetPaper(context.Background(), "p")
	require.Equal(t, models.PaperStatusFailed, paper.Status)
	require.Contains(t, paper.FailReason, "pdf unavailable")
	require.Equal(t, util.ConsistencyReingest, util.ConsistencyOf(err))
}

func TestHTMLOnlySourceSkipsPDF(t *testing.T) {
	f := &fakeFetcher{meta: map[string]models.Paper{"p": {PaperID: "p"}}}
	p := newTestPipeline(f, newMemStore(), mockEmbedder())
	_, err := p.Ingest(context.Background(), Source{PaperID: "p", Kind: KindHTML})
	require.ErrorIs(t, err, util.ErrIngestionFailure)
	require.ErrorIs(t, err, util.ErrNotFound)
	require.Equal(t, 0, f.pdfCalls)
}

func TestFailedReingestKeepsPreviousChunks(t *testing.T) {
	f := &fakeFetcher{meta: map[string]models.Paper{"p": {PaperID: "p", Title: "T"}}, html: map[string]string{"p": paperHTML(10)}}
	store := newMemStore()
	_, err := newTestPipeline(f, store, mockEmbedder()).Ingest(context.Background(), Source{PaperID: "p"})
	require.NoError(t, err)
	before := store.chunks["p"]

	_, err = newTestPipeline(f, store, failingEmbedder{}).Ingest(context.Background(), Source{PaperID: "p"})
	require.ErrorIs(t, err, util.ErrIngestionFailure)
	require.ErrorIs(t, err, util.ErrExternalUnavailable)

	require.Equal(t, before, store.chunks["p"])
	paper, _ := store.GetPaper(context.Background(), "p")
	require.Equal(t, models.PaperStatusReady, paper.Status)
	require.Equal(t, 1, paper.ChunkGeneration)
	require.NotEmpty(t, paper.FailReason)
}

func TestCommitFailureLeavesPaperWithoutChunksFailed(t *testing.T) {
	f := &fakeFetcher{meta: map[string]models.Paper{"p": {PaperID: "p"}}, html: map[string]string{"p": paperHTML(3)}}
	store := newMemStore()
	store.failSet = true
	_, err := newTestPipeline(f, store, mockEmbedder()).Ingest(context.Background(), Source{PaperID: "p"})
	require.ErrorIs(t, err, util.ErrIngestionFailure)
	paper, _ := store.GetPaper(context.Background(), "p")
	require.Equal(t, models.PaperStatusFailed, paper.Status)
	require.Empty(t, store.chunks["p"])
}

func TestUnknownPaperFails(t *testing.T) {
	p := newTestPipeline(&fakeFetcher{}, newMemStore(), mockEmbedder())
	_, err := p.Ingest(context.Background(), Source{PaperID: "missing"})
	require.ErrorIs(t, err, util.ErrIngestionFailure)
	require.ErrorIs(t, err, util.ErrNotFound)
}

func TestMarkdownStrategyTagsSections(t *testing.T) {
	p := NewPipeline(nil, nil, nil, nil, Options{ChunkSize: 200, ChunkOverlap: 20, Strategy: StrategyMarkdown})
	chunks := p.Chunk("# Intro\nshort intro\n## Results\nresults text")
	require.Len(t, chunks, 2)
	require.Equal(t, "Intro", chunks[0].Section)
	require.Equal(t, "Results", chunks[1].Section)
}
