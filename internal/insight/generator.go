package insight

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"arxivchat/internal/models"
	"arxivchat/internal/prompts"
	"arxivchat/internal/providers"
	"arxivchat/internal/util"

	"golang.org/x/sync/errgroup"
)

type Retriever interface {
	Retrieve(ctx context.Context, paperID, query string, k int) ([]models.ChunkResult, error)
}

type Completer interface {
	Complete(ctx context.Context, paperID string, req providers.GenerateRequest) (providers.GenerateResponse, providers.ProviderInfo, error)
}

// Stage names reported to a progress callback.
const (
	StageQuestions = "questions"
	StageAnswers   = "answers"
	StageSummary   = "summary"
)

// ProgressFunc observes pipeline progress. It may be called from several
// goroutines during the answer stage.
type ProgressFunc func(stage string, done, total int)

type Options struct {
	Questions         int
	ChunksPerQuestion int
	Workers           int
	MaxTokens         int
	LLMTimeout        time.Duration
	Logger            *slog.Logger
}

type Generator struct {
	retr Retriever
	llm  Completer
	opts Options
	log  *slog.Logger
}

func NewGenerator(retr Retriever, llm Completer, opts Options) *Generator {
	if opts.Questions <= 0 {
		opts.Questions = 3
	}
	if opts.ChunksPerQuestion <= 0 {
		opts.ChunksPerQuestion = 3
	}
	if opts.Workers <= 0 {
		opts.Workers = 3
	}
	if opts.LLMTimeout <= 0 {
		opts.LLMTimeout = 60 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Generator{retr: retr, llm: llm, opts: opts, log: opts.Logger}
}

// Generate runs the four insight stages for paper. Question generation
// fails closed. Per-question failures are recorded on their entry and
// excluded from the summary; the run aborts only if every question fails or
// the summary call fails. A partial result has Partial set.
func (g *Generator) Generate(ctx context.Context, paper models.Paper, progress ProgressFunc) (models.Insight, error) {
	if progress == nil {
		progress = func(string, int, int) {}
	}
	n := g.opts.Questions

	progress(StageQuestions, 0, 1)
	questions, err := g.questions(ctx, paper, n)
	if err != nil {
		return models.Insight{}, err
	}
	progress(StageQuestions, 1, 1)

	entries := make([]models.InsightQuestion, n)
	var done atomic.Int32
	var eg errgroup.Group
	eg.SetLimit(g.opts.Workers)
	for i, q := range questions {
		eg.Go(func() error {
			entries[i] = g.answer(ctx, paper, i, q)
			progress(StageAnswers, int(done.Add(1)), n)
			return nil
		})
	}
	_ = eg.Wait()
	if err := ctx.Err(); err != nil {
		return models.Insight{}, err
	}

	ins := models.Insight{PaperID: paper.PaperID, Questions: entries}
	answered := ins.Answered()
	if len(answered) == 0 {
		return models.Insight{}, fmt.Errorf("all %d questions failed, first: %s: %w", n, entries[0].Error, util.ErrInsightFailed)
	}
	ins.Partial = len(answered) < n

	progress(StageSummary, 0, 1)
	summary, err := g.complete(ctx, paper.PaperID, providers.GenerateRequest{
		Operation: providers.OpInsightSummary,
		System:    prompts.PaperSystem(paper),
		Prompt:    prompts.InsightSummary(paper, answered),
		Format:    providers.FormatText,
	})
	if err != nil {
		return models.Insight{}, fmt.Errorf("summarize insights: %w", err)
	}
	progress(StageSummary, 1, 1)
	ins.Summary = summary
	ins.GeneratedAt = time.Now().UTC()
	if ins.Partial {
		g.log.Warn("insight generated with failed questions", "paper_id", paper.PaperID, "answered", len(answered), "total", n)
	}
	return ins, nil
}

func (g *Generator) questions(ctx context.Context, paper models.Paper, n int) ([]string, error) {
	raw, err := g.complete(ctx, paper.PaperID, providers.GenerateRequest{
		Operation: providers.OpInsightQuestions,
		System:    prompts.PaperSystem(paper),
		Prompt:    prompts.InsightQuestions(paper, n),
		Format:    providers.FormatStructured,
	})
	if err != nil {
		return nil, fmt.Errorf("generate questions: %w", err)
	}
	qs, err := prompts.ParseQuestions(raw, n)
	if err != nil {
		return nil, fmt.Errorf("generate questions: %w", err)
	}
	return qs, nil
}

// answer runs retrieval and answer synthesis for one question. It never
// returns an error; failures are recorded on the entry.
func (g *Generator) answer(ctx context.Context, paper models.Paper, idx int, question string) models.InsightQuestion {
	entry := models.InsightQuestion{Index: idx, Question: question, Status: models.QuestionFailed}
	fail := func(step string, err error) models.InsightQuestion {
		entry.Error = fmt.Sprintf("%s: %v", step, err)
		g.log.Warn("insight question failed", "paper_id", paper.PaperID, "question_index", idx, "step", step, "err", err)
		return entry
	}

	chunks, err := g.retr.Retrieve(ctx, paper.PaperID, question, g.opts.ChunksPerQuestion)
	if err != nil {
		return fail("retrieve", err)
	}
	if len(chunks) == 0 {
		return fail("retrieve", util.ErrNotFound)
	}
	text, err := g.complete(ctx, paper.PaperID, providers.GenerateRequest{
		Operation: providers.OpInsightAnswer,
		System:    prompts.PaperSystem(paper),
		Prompt:    prompts.InsightAnswer(question),
		Context:   prompts.FormatChunks(chunks),
		Format:    providers.FormatText,
	})
	if err != nil {
		return fail("answer", err)
	}
	entry.Answer = text
	entry.Status = models.QuestionAnswered
	entry.ChunkIDs = citedIDs(text, chunks)
	return entry
}

func (g *Generator) complete(ctx context.Context, paperID string, req providers.GenerateRequest) (string, error) {
	req.MaxTokens = g.opts.MaxTokens
	ctx, cancel := context.WithTimeout(ctx, g.opts.LLMTimeout)
	defer cancel()
	resp, _, err := g.llm.Complete(ctx, paperID, req)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", fmt.Errorf("empty completion: %w", util.ErrMalformedResponse)
	}
	return text, nil
}

// citedIDs lists the chunks an answer cites, or every chunk it was given
// when it cites none.
func citedIDs(answer string, chunks []models.ChunkResult) []string {
	idx := prompts.CitedIndexes(answer, len(chunks))
	out := make([]string, 0, len(chunks))
	if len(idx) == 0 {
		for _, c := range chunks {
			out = append(out, c.ChunkID)
		}
		return out
	}
	for _, i := range idx {
		out = append(out, chunks[i].ChunkID)
	}
	return out
}
