package arxiv

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"arxivchat/internal/models"

	"github.com/redis/go-redis/v9"
)

const searchCachePrefix = "arxivchat:search:"

type Searcher interface {
	Search(ctx context.Context, query string, max int) ([]models.Paper, error)
}

// CachedClient memoizes Search results in Redis. Cache errors never fail a
// search; they only cost a round trip to arXiv.
type CachedClient struct {
	Searcher
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

func NewCachedClient(inner Searcher, client *redis.Client, ttl time.Duration) *CachedClient {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachedClient{Searcher: inner, client: client, ttl: ttl, log: slog.Default()}
}

func (c *CachedClient) Search(ctx context.Context, query string, max int) ([]models.Paper, error) {
	key := searchKey(query, max)
	data, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var papers []models.Paper
		if err := json.Unmarshal(data, &papers); err == nil {
			return papers, nil
		}
		c.log.Warn("discarding corrupt search cache entry", "key", key)
	} else if err != redis.Nil {
		c.log.Warn("search cache read failed", "err", err)
	}

	papers, err := c.Searcher.Search(ctx, query, max)
	if err != nil {
		return nil, err
	}
	data, err = json.Marshal(papers)
	if err != nil {
		return nil, fmt.Errorf("marshal search results: %w", err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.log.Warn("search cache write failed", "err", err)
	}
	return papers, nil
}

func searchKey(query string, max int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", strings.ToLower(strings.TrimSpace(query)), max)))
	return searchCachePrefix + hex.EncodeToString(sum[:16])
}
