package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diyartec/calassist/internal/store"
)

var testKeys = store.Keyspace{Namespace: "test"}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(t *testing.T) (*Limiter, *store.MemoryStore, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	s := store.NewMemoryStore()
	s.SetClock(c.now)
	l := NewLimiter(s, testKeys, PerMinute(5, 5), PerMinute(3, 60))
	l.SetClock(c.now)
	return l, s, c
}

func TestLimiter_CapacityThenRefill(t *testing.T) {
	ctx := context.Background()
	l, _, c := newTestLimiter(t)

	// api policy: capacity 3, refill 1 token per second.
	for i := 0; i < 3; i++ {
		allowed, err := l.Take(ctx, ClassAPI, "api:ip:1.2.3.4")
		require.NoError(t, err)
		assert.True(t, allowed, "request %d", i+1)
	}
	allowed, err := l.Take(ctx, ClassAPI, "api:ip:1.2.3.4")
	require.NoError(t, err)
	assert.False(t, allowed, "request beyond capacity must be denied")

	c.advance(time.Second)
	allowed, _ = l.Take(ctx, ClassAPI, "api:ip:1.2.3.4")
	assert.True(t, allowed, "one token refilled after 1/R seconds")
	allowed, _ = l.Take(ctx, ClassAPI, "api:ip:1.2.3.4")
	assert.False(t, allowed, "only one token refilled")
}

func TestLimiter_AuthPolicy(t *testing.T) {
	ctx := context.Background()
	l, _, c := newTestLimiter(t)

	for i := 0; i < 5; i++ {
		allowed, _ := l.Take(ctx, ClassAuth, "auth:ip:1.2.3.4")
		require.True(t, allowed)
	}
	allowed, _ := l.Take(ctx, ClassAuth, "auth:ip:1.2.3.4")
	assert.False(t, allowed)

	// 5 per minute refills one token every 12 seconds.
	c.advance(6 * time.Second)
	allowed, _ = l.Take(ctx, ClassAuth, "auth:ip:1.2.3.4")
	assert.False(t, allowed)

	c.advance(7 * time.Second)
	allowed, _ = l.Take(ctx, ClassAuth, "auth:ip:1.2.3.4")
	assert.True(t, allowed)
}

func TestLimiter_TokensCappedAtCapacity(t *testing.T) {
	ctx := context.Background()
	l, s, c := newTestLimiter(t)

	_, _ = l.Take(ctx, ClassAPI, "k")
	c.advance(100 * time.Second) // refill is capped at capacity
	for i := 0; i < 3; i++ {
		allowed, _ := l.Take(ctx, ClassAPI, "k")
		assert.True(t, allowed)
	}
	allowed, _ := l.Take(ctx, ClassAPI, "k")
	assert.False(t, allowed)

	raw, err := s.Get(ctx, "test:rl:k")
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"tokens":0`)
}

func TestLimiter_SeparateKeys(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLimiter(t)
	for i := 0; i < 3; i++ {
		_, _ = l.Take(ctx, ClassAPI, "api:ip:a")
	}
	allowed, _ := l.Take(ctx, ClassAPI, "api:ip:b")
	assert.True(t, allowed)
}

type failingStore struct{ store.Store }

func (failingStore) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("connection refused")
}

func TestLimiter_FailOpen(t *testing.T) {
	l := NewLimiter(failingStore{store.NewMemoryStore()}, store.Keyspace{Namespace: "x"}, PerMinute(1, 1), PerMinute(1, 1))
	allowed, err := l.Take(context.Background(), ClassAPI, "k")
	assert.True(t, allowed)
	assert.Error(t, err)
}

func TestLimiter_UnknownClassAllowed(t *testing.T) {
	l, _, _ := newTestLimiter(t)
	allowed, err := l.Take(context.Background(), ClassNone, "k")
	assert.NoError(t, err)
	assert.True(t, allowed)
}
