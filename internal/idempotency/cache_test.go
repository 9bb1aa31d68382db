package idempotency_test

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-task-pipeline/internal/idempotency"
)

func newTestCache(t *testing.T) *idempotency.Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return idempotency.New(rdb, time.Minute)
}

func TestCache_ClaimFirstCallerWins(t *testing.T) {
	c := newTestCache(t)
	ctx := t.Context()

	won, err := c.Claim(ctx, "task-1")
	require.NoError(t, err)
	require.True(t, won)

	wonAgain, err := c.Claim(ctx, "task-1")
	require.NoError(t, err)
	require.False(t, wonAgain)
}

func TestCache_SeenReflectsClaim(t *testing.T) {
	c := newTestCache(t)
	ctx := t.Context()

	seen, err := c.Seen(ctx, "task-2")
	require.NoError(t, err)
	require.False(t, seen)

	_, err = c.Claim(ctx, "task-2")
	require.NoError(t, err)

	seen, err = c.Seen(ctx, "task-2")
	require.NoError(t, err)
	require.True(t, seen)
}

func TestCache_Ping(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Ping(t.Context()))
}
