package retriever

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"arxivchat/internal/models"
	"arxivchat/internal/providers"
	"arxivchat/internal/util"
	"arxivchat/internal/vector"
)

type Index interface {
	Search(ctx context.Context, q vector.Query) ([]models.ChunkResult, error)
}

type Embedder interface {
	EmbedTexts(ctx context.Context, paperID string, req providers.EmbedRequest, preferred int) ([][]float32, providers.ProviderInfo, error)
}

type Options struct {
	Timeout      time.Duration
	VectorWeight float64
	Logger       *slog.Logger
}

// Retriever is the hybrid retriever over one paper's active chunks.
type Retriever struct {
	index   Index
	embed   Embedder
	timeout time.Duration
	weight  float64
	log     *slog.Logger
}

func New(index Index, embed Embedder, opts Options) *Retriever {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Retriever{index: index, embed: embed, timeout: opts.Timeout, weight: opts.VectorWeight, log: opts.Logger}
}

// Retrieve returns at most k chunks of paperID ordered by descending blended
// score. An empty result is not an error. Any failure to reach the embedder or
// the index, including the timeout, wraps util.ErrRetrievalUnavailable.
func (r *Retriever) Retrieve(ctx context.Context, paperID, query string, k int) ([]models.ChunkResult, error) {
	query = strings.TrimSpace(query)
	if query == "" || k <= 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	q := vector.Query{PaperID: paperID, Text: query, K: k, Mode: vector.ModeHybrid, VectorWeight: r.weight}
	vecs, _, err := r.embed.EmbedTexts(ctx, paperID, providers.EmbedRequest{Operation: providers.OpEmbedQuery, Inputs: []string{query}}, -1)
	switch {
	case err != nil && ctx.Err() != nil:
		return nil, unavailable("embed query", err)
	case err != nil:
		// Embeddings are down but the index may not be: rank on keywords alone.
		r.log.Warn("query embedding failed, using keyword ranking", "paper_id", paperID, "err", err)
		q.Mode = vector.ModeKeyword
	default:
		q.Vector = vecs[0]
	}

	results, err := r.index.Search(ctx, q)
	if err != nil {
		return nil, unavailable("search index", err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	vector.SortByScore(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func unavailable(step string, err error) error {
	if errors.Is(err, util.ErrRetrievalUnavailable) {
		return err
	}
	return fmt.Errorf("%s: %w: %v", step, util.ErrRetrievalUnavailable, err)
}
