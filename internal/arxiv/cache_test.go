package arxiv

import (
	"context"
	"testing"
	"time"

	"arxivchat/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type countingSearcher struct {
	calls int
}

func (c *countingSearcher) Search(ctx context.Context, query string, max int) ([]models.Paper, error) {
	c.calls++
	return []models.Paper{{PaperID: "2401.00001", Title: query}}, nil
}

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func TestCachedClientServesRepeatsFromRedis(t *testing.T) {
	client, mr := setupTestRedis(t)
	inner := &countingSearcher{}
	c := NewCachedClient(inner, client, time.Minute)

	first, err := c.Search(context.Background(), "Diffusion", 5)
	require.NoError(t, err)
	second, err := c.Search(context.Background(), " diffusion ", 5)
	require.NoError(t, err)
	require.Equal(t, 1, inner.calls)
	require.Equal(t, first[0].Title, second[0].Title)

	mr.FastForward(2 * time.Minute)
	_, err = c.Search(context.Background(), "diffusion", 5)
	require.NoError(t, err)
	require.Equal(t, 2, inner.calls)
}

func TestCachedClientSurvivesRedisOutage(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	inner := &countingSearcher{}
	c := NewCachedClient(inner, client, time.Minute)
	mr.Close()

	papers, err := c.Search(context.Background(), "graphs", 5)
	require.NoError(t, err)
	require.Len(t, papers, 1)
	require.Equal(t, 1, inner.calls)
}
