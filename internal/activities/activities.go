package activities

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"arxivchat/internal/config"
	"arxivchat/internal/ingest"
	"arxivchat/internal/insight"
	"arxivchat/internal/models"
	"arxivchat/internal/util"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
)

// Application error types attached to non-retryable activity failures.
const (
	ErrTypeNoText        = "NoExtractableText"
	ErrTypeNotFound      = "NotFound"
	ErrTypeMalformed     = "MalformedResponse"
	ErrTypeInsightFailed = "InsightFailed"
)

type PaperLister interface {
	GetPaper(ctx context.Context, paperID string) (models.Paper, error)
	ListPapers(ctx context.Context) ([]models.Paper, error)
	ListFailedPapers(ctx context.Context) ([]models.Paper, error)
}

type InsightRefresher interface {
	Refresh(ctx context.Context, paperID string, progress insight.ProgressFunc) (models.Insight, error)
}

type Activities struct {
	cfg      config.Config
	pipeline *ingest.Pipeline
	papers   PaperLister
	insights InsightRefresher
}

func New(cfg config.Config, pipeline *ingest.Pipeline, papers PaperLister, insights InsightRefresher) *Activities {
	return &Activities{cfg: cfg, pipeline: pipeline, papers: papers, insights: insights}
}

func (a *Activities) PreparePaperActivity(ctx context.Context, in PreparePaperInput) (PreparePaperOutput, error) {
	paper, err := a.pipeline.Prepare(ctx, ingest.Source{PaperID: in.PaperID, Kind: in.Kind, Path: in.Path})
	if err != nil {
		return PreparePaperOutput{}, classify(err)
	}
	return PreparePaperOutput{Paper: paper}, nil
}

func (a *Activities) FetchTextActivity(ctx context.Context, in FetchTextInput) (FetchTextOutput, error) {
	doc, err := a.pipeline.FetchText(ctx, in.Paper, ingest.Source{PaperID: in.Paper.PaperID, Kind: in.Kind, Path: in.Path})
	if err != nil {
		return FetchTextOutput{}, classify(err)
	}
	text := ingest.Normalize(doc.Text)
	if text == "" {
		return FetchTextOutput{}, classify(util.ErrNoExtractableText)
	}
	return FetchTextOutput{Kind: doc.Kind, Text: text}, nil
}

func (a *Activities) ChunkTextActivity(ctx context.Context, in ChunkTextInput) (ChunkTextOutput, error) {
	_ = ctx
	chunks := a.pipeline.Chunk(in.Text)
	if len(chunks) == 0 {
		return ChunkTextOutput{}, classify(util.ErrNoExtractableText)
	}
	return ChunkTextOutput{Chunks: chunks}, nil
}

func (a *Activities) IndexChunksActivity(ctx context.Context, in IndexChunksInput) (IndexChunksOutput, error) {
	vecs, info, err := a.pipeline.Embed(ctx, in.PaperID, in.Chunks, in.PreferredEmbedProviderIndex)
	if err != nil {
		return IndexChunksOutput{}, err
	}
	gen, err := a.pipeline.Commit(ctx, in.PaperID, in.Kind, in.Chunks, vecs)
	if err != nil {
		return IndexChunksOutput{}, classify(err)
	}
	return IndexChunksOutput{Generation: gen, ChunkCount: len(in.Chunks), ProviderName: info.Name, Model: info.Model}, nil
}

func (a *Activities) FinalizePaperActivity(ctx context.Context, in FinalizePaperInput) (FinalizePaperOutput, error) {
	paper, err := a.papers.GetPaper(ctx, in.PaperID)
	if err != nil {
		return FinalizePaperOutput{}, classify(err)
	}
	a.pipeline.EmbedAbstract(ctx, paper)
	a.pipeline.WriteArtifacts(in.PaperID, in.Text, in.Chunks)
	return FinalizePaperOutput{Paper: paper}, nil
}

// FailPaperActivity records an ingestion failure. The returned status is
// ready when an earlier generation is still served.
func (a *Activities) FailPaperActivity(ctx context.Context, in FailPaperInput) (FailPaperOutput, error) {
	_ = a.pipeline.Fail(ctx, in.PaperID, errors.New(in.Reason))
	paper, err := a.papers.GetPaper(ctx, in.PaperID)
	if err != nil {
		if errors.Is(err, util.ErrNotFound) {
			return FailPaperOutput{Status: models.PaperStatusFailed}, nil
		}
		return FailPaperOutput{}, err
	}
	return FailPaperOutput{Status: paper.Status}, nil
}

func (a *Activities) ListPapersActivity(ctx context.Context, in ListPapersInput) (ListPapersOutput, error) {
	list := a.papers.ListPapers
	if in.FailedOnly {
		list = a.papers.ListFailedPapers
	}
	papers, err := list(ctx)
	if err != nil {
		return ListPapersOutput{}, err
	}
	out := ListPapersOutput{Papers: make([]ListedPaper, 0, len(papers))}
	for _, p := range papers {
		out.Papers = append(out.Papers, ListedPaper{PaperID: p.PaperID, Status: p.Status, SourceKind: p.SourceKind})
	}
	return out, nil
}

func (a *Activities) WriteRunManifestActivity(ctx context.Context, in WriteRunManifestInput) (WriteRunManifestOutput, error) {
	_ = ctx
	path := filepath.Join(util.SafeJoin(filepath.Join(a.cfg.DataRoot, "runs"), in.RunID), "manifest.json")
	if err := util.WriteJSONAtomic(path, in.Manifest); err != nil {
		return WriteRunManifestOutput{}, err
	}
	return WriteRunManifestOutput{Path: path}, nil
}

// GenerateInsightActivity runs the insight pipeline, heartbeating each
// stage. A partial insight is stored and returned with a warning.
func (a *Activities) GenerateInsightActivity(ctx context.Context, in GenerateInsightInput) (GenerateInsightOutput, error) {
	ins, err := a.insights.Refresh(ctx, in.PaperID, func(stage string, done, total int) {
		activity.RecordHeartbeat(ctx, InsightProgress{Stage: stage, Done: done, Total: total})
	})
	switch {
	case err == nil:
		return GenerateInsightOutput{Insight: ins}, nil
	case errors.Is(err, util.ErrPartialInsightFailure):
		activity.GetLogger(ctx).Warn("insight is partial", "paper_id", in.PaperID, "error", err)
		return GenerateInsightOutput{Insight: ins, Warning: err.Error()}, nil
	default:
		return GenerateInsightOutput{}, classify(err)
	}
}

// classify marks failures that a retry cannot fix as non-retryable.
func classify(err error) error {
	var typ string
	switch {
	case errors.Is(err, util.ErrNoExtractableText):
		typ = ErrTypeNoText
	case errors.Is(err, util.ErrNotFound):
		typ = ErrTypeNotFound
	case errors.Is(err, util.ErrMalformedResponse):
		typ = ErrTypeMalformed
	case errors.Is(err, util.ErrInsightFailed):
		typ = ErrTypeInsightFailed
	default:
		return err
	}
	return temporal.NewNonRetryableApplicationError(fmt.Sprint(err), typ, err)
}
