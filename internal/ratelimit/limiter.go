// Package ratelimit implements a token-bucket limiter whose state lives in
// the shared key-value store, so every gateway instance enforces the same
// budget.
package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/diyartec/calassist/internal/store"
)

// BucketTTL bounds how long an idle bucket is retained.
const BucketTTL = 120 * time.Second

// Class selects the policy applied to a request.
type Class string

const (
	ClassNone Class = ""
	ClassAuth Class = "auth"
	ClassAPI  Class = "api"
)

// Policy describes one bucket class.
type Policy struct {
	Capacity        float64
	RefillPerSecond float64
}

// PerMinute builds a policy from a burst size and a per-minute refill.
func PerMinute(burst, refillPerMinute int) Policy {
	return Policy{Capacity: float64(burst), RefillPerSecond: float64(refillPerMinute) / 60}
}

// Bucket is the persisted state. Last is a unix millisecond timestamp.
type Bucket struct {
	Tokens float64 `json:"tokens"`
	Last   int64   `json:"last"`
}

// Limiter applies token-bucket policies against a Store.
type Limiter struct {
	store    store.Store
	keys     store.Keyspace
	policies map[Class]Policy
	now      func() time.Time
}

// NewLimiter creates a limiter with the auth and api policies.
func NewLimiter(s store.Store, keys store.Keyspace, auth, api Policy) *Limiter {
	return &Limiter{
		store:    s,
		keys:     keys,
		policies: map[Class]Policy{ClassAuth: auth, ClassAPI: api},
		now:      time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (l *Limiter) SetClock(now func() time.Time) { l.now = now }

// Take consumes one token from the bucket identified by id. When the store
// fails, Take reports the request as allowed and returns the error so the
// caller can log it.
func (l *Limiter) Take(ctx context.Context, class Class, id string) (bool, error) {
	policy, ok := l.policies[class]
	if !ok {
		return true, nil
	}

	key := l.keys.Bucket(id)
	now := l.now().UnixMilli()

	b, err := l.load(ctx, key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		b = Bucket{Tokens: policy.Capacity, Last: now}
	case err != nil:
		return true, err
	}

	if delta := float64(now-b.Last) / 1000; delta > 0 {
		b.Tokens = math.Min(policy.Capacity, b.Tokens+delta*policy.RefillPerSecond)
		b.Last = now
	}

	allowed := false
	if b.Tokens >= 1 {
		b.Tokens--
		allowed = true
	}

	raw, err := json.Marshal(b)
	if err != nil {
		return true, fmt.Errorf("encode bucket: %w", err)
	}
	if err := l.store.Set(ctx, key, raw, BucketTTL); err != nil {
		return true, err
	}
	return allowed, nil
}

func (l *Limiter) load(ctx context.Context, key string) (Bucket, error) {
	raw, err := l.store.Get(ctx, key)
	if err != nil {
		return Bucket{}, err
	}
	var b Bucket
	if err := json.Unmarshal(raw, &b); err != nil {
		return Bucket{}, fmt.Errorf("decode bucket %q: %w", key, err)
	}
	return b, nil
}
