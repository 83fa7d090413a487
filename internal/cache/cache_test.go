package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type analysisPayload struct {
	RequestID  string  `json:"request_id"`
	Confidence float64 `json:"confidence"`
}

func newRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	c, err := NewRedisCache(RedisConfig{Address: server.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, server
}

func TestRedisCacheRoundTrip(t *testing.T) {
	c, _ := newRedisCache(t)
	ctx := context.Background()

	in := analysisPayload{RequestID: "req-1", Confidence: 0.82}
	require.NoError(t, c.Set(ctx, "analysis:req-1", in, time.Minute))

	var out analysisPayload
	require.NoError(t, c.Get(ctx, "analysis:req-1", &out))
	assert.Equal(t, in, out)

	exists, err := c.Exists(ctx, "analysis:req-1")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, c.Delete(ctx, "analysis:req-1"))
	assert.ErrorIs(t, c.Get(ctx, "analysis:req-1", &out), ErrNotFound)
}

func TestRedisCacheExpiry(t *testing.T) {
	c, server := newRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", analysisPayload{RequestID: "x"}, time.Second))
	server.FastForward(2 * time.Second)

	var out analysisPayload
	assert.ErrorIs(t, c.Get(ctx, "short", &out), ErrNotFound)
}

func TestRedisCacheFlush(t *testing.T) {
	c, _ := newRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", 1, 0))
	require.NoError(t, c.Set(ctx, "b", 2, 0))
	require.NoError(t, c.Flush(ctx))

	exists, err := c.Exists(ctx, "a")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryCacheBehavesLikeRedis(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	in := analysisPayload{RequestID: "req-2", Confidence: 0.5}
	require.NoError(t, c.Set(ctx, "k", in, time.Minute))

	var out analysisPayload
	require.NoError(t, c.Get(ctx, "k", &out))
	assert.Equal(t, in, out)

	require.NoError(t, c.Delete(ctx, "k"))
	assert.ErrorIs(t, c.Get(ctx, "k", &out), ErrNotFound)
}
