package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisBackend(t *testing.T) (*RedisBackend, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{
		Addr: mr.Addr(),
	})
	rb := NewRedisBackendFromClient(client)
	t.Cleanup(func() { _ = rb.Close() })
	return rb, mr
}

func TestRedisBackendRoundTrip(t *testing.T) {
	rb, _ := newTestRedisBackend(t)
	ctx := context.Background()

	require.NoError(t, rb.Set(ctx, "trials:EGFR", []byte(`{"total":42}`), time.Hour))

	data, ok, err := rb.Get(ctx, "trials:EGFR")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte(`{"total":42}`), data)
}

func TestRedisBackendMiss(t *testing.T) {
	rb, _ := newTestRedisBackend(t)

	_, ok, err := rb.Get(context.Background(), "trials:absent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisBackendTTL(t *testing.T) {
	rb, mr := newTestRedisBackend(t)
	ctx := context.Background()

	require.NoError(t, rb.Set(ctx, "trials:short", []byte("x"), time.Minute))

	mr.FastForward(2 * time.Minute)
	_, ok, err := rb.Get(ctx, "trials:short")
	require.NoError(t, err)
	assert.False(t, ok, "expired server-side")
}

func TestRedisBackendNoExpiry(t *testing.T) {
	rb, mr := newTestRedisBackend(t)
	ctx := context.Background()

	require.NoError(t, rb.Set(ctx, "trials:pinned", []byte("x"), 0))

	mr.FastForward(24 * time.Hour)
	_, ok, err := rb.Get(ctx, "trials:pinned")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisBackendKeysStripsPrefix(t *testing.T) {
	rb, _ := newTestRedisBackend(t)
	ctx := context.Background()

	require.NoError(t, rb.Set(ctx, "mutation:EGFR L858R", []byte("a"), 0))
	require.NoError(t, rb.Set(ctx, "mutation:EGFR T790M", []byte("b"), 0))
	require.NoError(t, rb.Set(ctx, "mutation:KRAS G12C", []byte("c"), 0))

	keys, err := rb.Keys(ctx, "mutation:EGFR*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"mutation:EGFR L858R", "mutation:EGFR T790M"}, keys)
}

func TestRedisBackendDelete(t *testing.T) {
	rb, _ := newTestRedisBackend(t)
	ctx := context.Background()

	require.NoError(t, rb.Set(ctx, "trials:EGFR", []byte("x"), 0))
	require.NoError(t, rb.Delete(ctx, "trials:EGFR"))

	_, ok, err := rb.Get(ctx, "trials:EGFR")
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting an absent key is not an error.
	assert.NoError(t, rb.Delete(ctx, "trials:EGFR"))
}

func TestRedisBackendDegradedTransition(t *testing.T) {
	rb, mr := newTestRedisBackend(t)
	c := New(WithPrimary(rb))
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "trials:EGFR", trialsPayload{Total: 5}, time.Hour))

	mr.Close()

	// Server gone: calls degrade to the local fallback without erroring.
	require.NoError(t, c.Set(ctx, "trials:KRAS", trialsPayload{Total: 1}, time.Hour))
	assert.True(t, c.Stats().Degraded)

	var out trialsPayload
	require.True(t, c.Get(ctx, "trials:KRAS", &out))
	assert.Equal(t, 1, out.Total)
}
