// Package app wires the storage, provider and service layers from config.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"arxivchat/internal/arxiv"
	"arxivchat/internal/chat"
	"arxivchat/internal/config"
	"arxivchat/internal/ingest"
	"arxivchat/internal/insight"
	"arxivchat/internal/providers"
	"arxivchat/internal/retriever"
	"arxivchat/internal/storage"
	"arxivchat/internal/vector"

	"github.com/redis/go-redis/v9"
)

type App struct {
	Cfg       config.Config
	DB        *storage.DB
	Redis     *redis.Client
	Papers    *storage.PaperRepo
	Chunks    *storage.ChunkRepo
	Turns     *storage.ChatRepo
	Insights  *storage.InsightRepo
	Providers *providers.Manager
	Arxiv     *arxiv.Client
	Search    arxiv.Searcher
	Vector    *vector.Searcher
	Retriever *retriever.Retriever
	Pipeline  *ingest.Pipeline
	Chat      *chat.Service
	Insight   *insight.Service
	Logger    *slog.Logger
}

// Open connects to Postgres (and Redis when configured) and builds every
// service. Callers must Close the result.
func Open(ctx context.Context, cfg config.Config) (*App, error) {
	log := slog.Default()
	db, err := storage.NewDB(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, err
	}
	a := &App{Cfg: cfg, DB: db, Logger: log}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		a.Redis = redis.NewClient(opts)
	}

	mgr, err := providers.NewManager(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	mgr.SetRecorder(storage.NewLLMAuditRepo(db))
	a.Providers = mgr

	a.Papers = storage.NewPaperRepo(db)
	a.Chunks = storage.NewChunkRepo(db)
	a.Turns = storage.NewChatRepo(db)
	a.Insights = storage.NewInsightRepo(db)

	a.Arxiv = arxiv.NewClient(cfg.ArxivBaseURL, cfg.ArxivSiteURL, cfg.LLMTimeout)
	a.Search = a.Arxiv
	if a.Redis != nil {
		a.Search = arxiv.NewCachedClient(a.Arxiv, a.Redis, cfg.ArxivCacheTTL)
	}

	a.Vector = vector.NewSearcher(db.Pool)
	a.Retriever = retriever.New(a.Vector, mgr, retriever.Options{
		Timeout:      cfg.RetrievalTimeout,
		VectorWeight: cfg.HybridVectorWeight,
		Logger:       log,
	})
	a.Pipeline = ingest.NewPipeline(a.Arxiv, a.Papers, a.Chunks, mgr, ingest.Options{
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
		Strategy:     cfg.ChunkStrategy,
		EmbedVersion: cfg.EmbedVersion,
		DataRoot:     cfg.DataRoot,
		Logger:       log,
	})

	var (
		sessions chat.SessionStore = chat.NewMemorySessionStore()
		locks    chat.Locker       = chat.NewLocalLocker()
	)
	if a.Redis != nil {
		sessions = chat.NewRedisSessionStore(a.Redis, cfg.ChatSessionTTL)
		locks = chat.NewRedisLocker(a.Redis, cfg.LLMTimeout+cfg.RetrievalTimeout)
	}
	a.Chat = chat.NewService(a.Papers, a.Turns, a.Retriever, mgr, sessions, locks, chat.Options{
		HistoryWindow: cfg.ChatHistoryWindow,
		ContextTurns:  cfg.ChatContextTurns,
		PromptBudget:  cfg.ChatPromptBudget,
		TopK:          cfg.RetrievalTopK,
		MaxTokens:     cfg.LLMMaxTokens,
		LLMTimeout:    cfg.LLMTimeout,
		Logger:        log,
	})

	gen := insight.NewGenerator(a.Retriever, mgr, insight.Options{
		Questions:         cfg.InsightQuestions,
		ChunksPerQuestion: cfg.InsightChunks,
		Workers:           cfg.InsightWorkers,
		MaxTokens:         cfg.LLMMaxTokens,
		LLMTimeout:        cfg.LLMTimeout,
		Logger:            log,
	})
	a.Insight = insight.NewService(gen, a.Papers, a.Insights)
	return a, nil
}

// Health pings Postgres and, when configured, Redis.
func (a *App) Health(ctx context.Context) error {
	if err := a.DB.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if a.Redis != nil {
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	a.DB.Close()
}
