package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisStoreWithClient(client)
}

func TestRedisStore_GetSetDelete(t *testing.T) {
	ctx := context.Background()
	_, s := newTestRedis(t)

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "k", []byte(`{"a":1}`), time.Minute))
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(got))

	require.NoError(t, s.Delete(ctx, "k"))
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_TTL(t *testing.T) {
	ctx := context.Background()
	mr, s := newTestRedis(t)

	require.NoError(t, s.Set(ctx, "ns:rl:bucket", []byte("{}"), 120*time.Second))
	assert.Equal(t, 120*time.Second, mr.TTL("ns:rl:bucket"))

	mr.FastForward(121 * time.Second)
	_, err := s.Get(ctx, "ns:rl:bucket")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_ScanPrefix(t *testing.T) {
	ctx := context.Background()
	_, s := newTestRedis(t)
	ks := Keyspace{Namespace: "ns"}

	for i := 0; i < 250; i++ {
		require.NoError(t, s.Set(ctx, ks.Session(fmt.Sprintf("sid-%03d", i)), []byte("{}"), time.Hour))
	}
	require.NoError(t, s.Set(ctx, ks.Bucket("x"), []byte("{}"), time.Hour))

	seen := map[string]bool{}
	err := s.ScanPrefix(ctx, ks.SessionPrefix(), func(key string) error {
		seen[key] = true
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, seen, 250)
}

func TestRedisStore_Ping(t *testing.T) {
	mr, s := newTestRedis(t)
	assert.NoError(t, s.Ping(context.Background()))

	mr.Close()
	assert.Error(t, s.Ping(context.Background()))
}

func TestNewRedisStore_BadURL(t *testing.T) {
	_, err := NewRedisStore(context.Background(), "not-a-url://")
	assert.Error(t, err)
}

func TestOpen_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	s, backend, err := Open(context.Background(), Options{RedisURL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	assert.Equal(t, BackendRedis, backend)
}
