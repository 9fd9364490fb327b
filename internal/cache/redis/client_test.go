package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient connects to the redis named by CIVIC_SAGE_TEST_REDIS
// (host:port) or skips.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("CIVIC_SAGE_TEST_REDIS")
	if addr == "" {
		t.Skip("CIVIC_SAGE_TEST_REDIS not set")
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Ping(context.Background()).Err())
	return Wrap(rdb)
}

func TestJSONRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	key := "test:" + uuid.NewString()

	var got map[string]int
	ok, err := c.GetJSON(ctx, "test", key, &got)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.SetJSON(ctx, key, map[string]int{"a": 1}, time.Minute))
	ok, err = c.GetJSON(ctx, "test", key, &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, map[string]int{"a": 1}, got)
}

func TestEmbeddingCache(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	hash := uuid.NewString()

	require.NoError(t, c.SetEmbedding(ctx, hash, []float32{0.5, 0.25}, time.Minute))
	emb, ok, err := c.GetEmbedding(ctx, hash)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []float32{0.5, 0.25}, emb)
}

func TestLease(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	name := "aggregate:" + uuid.NewString()

	token, err := c.AcquireLease(ctx, name, time.Minute)
	require.NoError(t, err)

	_, err = c.AcquireLease(ctx, name, time.Minute)
	assert.ErrorIs(t, err, ErrLeaseHeld)

	require.NoError(t, c.ReleaseLease(ctx, name, "not-the-token"))
	_, err = c.AcquireLease(ctx, name, time.Minute)
	assert.ErrorIs(t, err, ErrLeaseHeld)

	require.NoError(t, c.ReleaseLease(ctx, name, token))
	again, err := c.AcquireLease(ctx, name, time.Minute)
	require.NoError(t, err)
	require.NoError(t, c.ReleaseLease(ctx, name, again))
}
