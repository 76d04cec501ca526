package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client)
}

func TestRedisStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStore(t)

	require.NoError(t, s.Set(ctx, "k", "hello"))

	got, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hello", got)
}

func TestRedisStoreMissIsNotAnError(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStore(t)

	_, ok, err := s.Get(ctx, "absent")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisStoreRemove(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStore(t)

	require.NoError(t, s.Set(ctx, "k", "v"))
	require.NoError(t, s.Remove(ctx, "k"))

	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisStoreCancelledContext(t *testing.T) {
	s := newTestRedisStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := s.Get(ctx, "k")
	require.Error(t, err)
	require.Error(t, s.Set(ctx, "k", "v"))
}

func TestRedisStorePing(t *testing.T) {
	s := newTestRedisStore(t)
	require.NoError(t, s.Ping(context.Background()))
}
