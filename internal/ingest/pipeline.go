package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"arxivchat/internal/models"
	"arxivchat/internal/providers"
	"arxivchat/internal/storage"
	"arxivchat/internal/util"
)

const (
	KindAuto = "auto"
	KindHTML = "html"
	KindPDF  = "pdf"
	// KindLocal marks text extracted from a PDF on local disk.
	KindLocal = "local"

	StrategyWindow   = "window"
	StrategyMarkdown = "markdown"
)

// Source names what to ingest. Path points at a local PDF and skips the
// download.
type Source struct {
	PaperID string `json:"paper_id"`
	Kind    string `json:"kind,omitempty"`
	Path    string `json:"path,omitempty"`
}

// Document is extracted full text and the source kind that produced it.
type Document struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

type Fetcher interface {
	Lookup(ctx context.Context, id string) (models.Paper, error)
	FetchHTML(ctx context.Context, id string) ([]byte, error)
	FetchPDF(ctx context.Context, id, pdfURL string) ([]byte, error)
}

type PaperStore interface {
	UpsertPaper(ctx context.Context, p models.Paper) error
	GetPaper(ctx context.Context, paperID string) (models.Paper, error)
	UpdatePaperStatus(ctx context.Context, paperID, status, failReason string) error
	SetSourceKind(ctx context.Context, paperID, kind string) error
	SetAbstractEmbedding(ctx context.Context, paperID string, vec []float32) error
}

type ChunkStore interface {
	ReplaceChunks(ctx context.Context, paperID string, records []storage.ChunkRecord, embeddingVersion string) (int, error)
}

type Embedder interface {
	EmbedTexts(ctx context.Context, paperID string, req providers.EmbedRequest, preferred int) ([][]float32, providers.ProviderInfo, error)
}

type Options struct {
	ChunkSize    int
	ChunkOverlap int
	Strategy     string
	EmbedVersion string
	EmbedBatch   int
	DataRoot     string
	Logger       *slog.Logger
}

type Pipeline struct {
	fetch  Fetcher
	papers PaperStore
	chunks ChunkStore
	embed  Embedder
	opts   Options
	log    *slog.Logger
}

func NewPipeline(fetch Fetcher, papers PaperStore, chunks ChunkStore, embed Embedder, opts Options) *Pipeline {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 1024
	}
	if opts.ChunkOverlap < 0 || opts.ChunkOverlap >= opts.ChunkSize {
		opts.ChunkOverlap = 0
	}
	if opts.Strategy == "" {
		opts.Strategy = StrategyWindow
	}
	if opts.EmbedVersion == "" {
		opts.EmbedVersion = "v1"
	}
	if opts.EmbedBatch <= 0 {
		opts.EmbedBatch = 64
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Pipeline{fetch: fetch, papers: papers, chunks: chunks, embed: embed, opts: opts, log: opts.Logger}
}

// Ingest runs every step for src and returns the stored paper. A failure
// wraps util.ErrIngestionFailure; the previously committed chunks, if any,
// stay visible.
func (p *Pipeline) Ingest(ctx context.Context, src Source) (models.Paper, error) {
	paper, err := p.Prepare(ctx, src)
	if err != nil {
		return models.Paper{}, p.Fail(ctx, src.PaperID, err)
	}
	doc, err := p.FetchText(ctx, paper, src)
	if err != nil {
		return models.Paper{}, p.Fail(ctx, paper.PaperID, err)
	}
	text := Normalize(doc.Text)
	chunks := p.Chunk(text)
	if len(chunks) == 0 {
		return models.Paper{}, p.Fail(ctx, paper.PaperID, util.ErrNoExtractableText)
	}
	vecs, _, err := p.Embed(ctx, paper.PaperID, chunks, -1)
	if err != nil {
		return models.Paper{}, p.Fail(ctx, paper.PaperID, err)
	}
	if _, err := p.Commit(ctx, paper.PaperID, doc.Kind, chunks, vecs); err != nil {
		return models.Paper{}, p.Fail(ctx, paper.PaperID, err)
	}
	p.EmbedAbstract(ctx, paper)
	p.WriteArtifacts(paper.PaperID, text, chunks)
	return p.papers.GetPaper(ctx, paper.PaperID)
}

// Prepare records metadata for src and marks the paper processing. Metadata
// comes from arXiv; a local PDF that arXiv does not know keeps a stub record.
func (p *Pipeline) Prepare(ctx context.Context, src Source) (models.Paper, error) {
	if strings.TrimSpace(src.PaperID) == "" {
		return models.Paper{}, errors.New("paper id is required")
	}
	meta, err := p.fetch.Lookup(ctx, src.PaperID)
	if err != nil {
		existing, getErr := p.papers.GetPaper(ctx, src.PaperID)
		switch {
		case getErr == nil:
			meta = existing
		case src.Path != "" && errors.Is(err, util.ErrNotFound):
			meta = models.Paper{PaperID: src.PaperID, Title: strings.TrimSuffix(filepath.Base(src.Path), filepath.Ext(src.Path))}
		default:
			return models.Paper{}, fmt.Errorf("lookup metadata: %w", err)
		}
	}
	meta.PaperID = src.PaperID
	meta.Status = models.PaperStatusProcessing
	if err := p.papers.UpsertPaper(ctx, meta); err != nil {
		return models.Paper{}, err
	}
	if err := p.papers.UpdatePaperStatus(ctx, src.PaperID, models.PaperStatusProcessing, ""); err != nil {
		return models.Paper{}, err
	}
	return p.papers.GetPaper(ctx, src.PaperID)
}

// FetchText downloads and extracts the full text. In auto mode the HTML
// rendering is tried first and the PDF is the fallback.
func (p *Pipeline) FetchText(ctx context.Context, paper models.Paper, src Source) (Document, error) {
	if src.Path != "" {
		text, err := ExtractPDFFile(src.Path)
		if err != nil {
			return Document{}, err
		}
		return Document{Kind: KindLocal, Text: text}, nil
	}
	kind := src.Kind
	if kind == "" {
		kind = KindAuto
	}
	if kind == KindAuto || kind == KindHTML {
		doc, err := p.fetchHTML(ctx, paper.PaperID)
		if err == nil || kind == KindHTML {
			return doc, err
		}
		p.log.Warn("html extraction failed, falling back to pdf", "paper_id", paper.PaperID, "err", err)
	}
	if kind != KindAuto && kind != KindPDF {
		return Document{}, fmt.Errorf("unknown source kind %q", kind)
	}
	return p.fetchPDF(ctx, paper)
}

func (p *Pipeline) fetchHTML(ctx context.Context, id string) (Document, error) {
	body, err := p.fetch.FetchHTML(ctx, id)
	if err != nil {
		return Document{}, err
	}
	text, err := ExtractHTML(body)
	if err != nil {
		return Document{}, err
	}
	return Document{Kind: KindHTML, Text: text}, nil
}

func (p *Pipeline) fetchPDF(ctx context.Context, paper models.Paper) (Document, error) {
	body, err := p.fetch.FetchPDF(ctx, paper.PaperID, paper.PDFURL)
	if err != nil {
		return Document{}, err
	}
	if p.opts.DataRoot != "" {
		dir := util.PaperDir(p.opts.DataRoot, paper.PaperID)
		if err := util.EnsureDir(dir); err == nil {
			if err := os.WriteFile(filepath.Join(dir, "source.pdf"), body, 0o644); err != nil {
				p.log.Warn("cache pdf failed", "paper_id", paper.PaperID, "err", err)
			}
		}
	}
	text, err := ExtractPDF(body)
	if err != nil {
		return Document{}, err
	}
	return Document{Kind: KindPDF, Text: text}, nil
}

// Normalize brings extracted text into the canonical markdown-like form.
func Normalize(text string) string {
	return util.NormalizeMarkdown(text)
}

// Chunk splits normalized text with the configured strategy. Chunk indexes
// are the slice positions.
func (p *Pipeline) Chunk(text string) []util.TextChunk {
	if p.opts.Strategy == StrategyMarkdown {
		return util.ChunkMarkdown(text, p.opts.ChunkSize, p.opts.ChunkOverlap)
	}
	return util.ChunkWindows(text, p.opts.ChunkSize, p.opts.ChunkOverlap)
}

// Embed embeds chunk texts in batches. preferred selects the first provider
// to try; -1 keeps the configured order.
func (p *Pipeline) Embed(ctx context.Context, paperID string, chunks []util.TextChunk, preferred int) ([][]float32, providers.ProviderInfo, error) {
	out := make([][]float32, 0, len(chunks))
	var info providers.ProviderInfo
	for start := 0; start < len(chunks); start += p.opts.EmbedBatch {
		end := min(start+p.opts.EmbedBatch, len(chunks))
		inputs := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			inputs = append(inputs, c.Text)
		}
		vecs, used, err := p.embed.EmbedTexts(ctx, paperID, providers.EmbedRequest{Operation: providers.OpEmbedChunks, Inputs: inputs}, preferred)
		if err != nil {
			return nil, used, fmt.Errorf("embed chunks %d-%d: %w", start, end-1, err)
		}
		out = append(out, vecs...)
		info = used
	}
	return out, info, nil
}

// Commit swaps in the new chunk set and records the source kind. Returns the
// active generation.
func (p *Pipeline) Commit(ctx context.Context, paperID, kind string, chunks []util.TextChunk, vecs [][]float32) (int, error) {
	if len(vecs) != len(chunks) {
		return 0, fmt.Errorf("commit chunks: %d embeddings for %d chunks", len(vecs), len(chunks))
	}
	records := make([]storage.ChunkRecord, 0, len(chunks))
	for i, c := range chunks {
		records = append(records, storage.ChunkRecord{ChunkIndex: i, Text: c.Text, Section: c.Section, Embedding: vecs[i]})
	}
	gen, err := p.chunks.ReplaceChunks(ctx, paperID, records, p.opts.EmbedVersion)
	if err != nil {
		return 0, err
	}
	if kind != "" {
		if err := p.papers.SetSourceKind(ctx, paperID, kind); err != nil {
			p.log.Warn("record source kind failed", "paper_id", paperID, "err", err)
		}
	}
	p.log.Info("chunks committed", "paper_id", paperID, "generation", gen, "chunks", len(records))
	return gen, nil
}

// EmbedAbstract indexes the abstract for library semantic search. It is
// best effort.
func (p *Pipeline) EmbedAbstract(ctx context.Context, paper models.Paper) {
	if strings.TrimSpace(paper.Abstract) == "" {
		return
	}
	vecs, _, err := p.embed.EmbedTexts(ctx, paper.PaperID, providers.EmbedRequest{Operation: providers.OpEmbedAbstract, Inputs: []string{paper.Title + "\n\n" + paper.Abstract}}, -1)
	if err == nil {
		err = p.papers.SetAbstractEmbedding(ctx, paper.PaperID, vecs[0])
	}
	if err != nil {
		p.log.Warn("abstract embedding failed", "paper_id", paper.PaperID, "err", err)
	}
}

// WriteArtifacts keeps the normalized text and chunk list on disk for
// inspection. It is best effort and disabled without a data root.
func (p *Pipeline) WriteArtifacts(paperID, text string, chunks []util.TextChunk) {
	if p.opts.DataRoot == "" {
		return
	}
	dir := util.PaperDir(p.opts.DataRoot, paperID)
	err := util.WriteTextAtomic(filepath.Join(dir, "text.md"), text)
	if err == nil {
		err = util.WriteJSONLinesAtomic(filepath.Join(dir, "chunks.jsonl"), chunks)
	}
	if err != nil {
		p.log.Warn("write artifacts failed", "paper_id", paperID, "err", err)
	}
}

// Fail records an ingestion failure and returns cause wrapped in
// util.ErrIngestionFailure. A paper that already had chunks returns to ready
// with the reason kept, since its previous generation is still served.
func (p *Pipeline) Fail(ctx context.Context, paperID string, cause error) error {
	status := models.PaperStatusFailed
	if paper, err := p.papers.GetPaper(ctx, paperID); err == nil && paper.ChunkCount > 0 {
		status = models.PaperStatusReady
	}
	if paperID != "" {
		if err := p.papers.UpdatePaperStatus(context.WithoutCancel(ctx), paperID, status, util.DisplaySnippet(cause.Error(), 500)); err != nil && !errors.Is(err, util.ErrNotFound) {
			p.log.Error("record ingestion failure", "paper_id", paperID, "err", err)
		}
	}
	p.log.Warn("ingestion failed", "paper_id", paperID, "status", status, "err", cause)
	return fmt.Errorf("ingest %s: %w: %w", paperID, util.ErrIngestionFailure, cause)
}
