// Package store is the key-value layer shared by session records and
// rate-limit buckets.
//
// Three backends implement Store: an in-process map for development and
// tests, Redis via go-redis, and Valkey via valkey-go. The lifecycle and
// rate-limit logic never depends on which one is in use; only durability
// differs.
package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist or has expired.
var ErrNotFound = errors.New("store: key not found")

// Backend names reported by Open.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendValkey = "valkey"
)

// Store is a TTL-aware byte store. Concurrent Set calls on the same key are
// last-writer-wins.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// ScanPrefix calls fn for every live key starting with prefix. Iteration
	// stops at the first error returned by fn.
	ScanPrefix(ctx context.Context, prefix string, fn func(key string) error) error
	Ping(ctx context.Context) error
	Close() error
}

// Keyspace builds namespaced keys so several deployments can share one
// backing store.
type Keyspace struct {
	Namespace string
}

// Session returns the key of a session record.
func (k Keyspace) Session(sid string) string {
	return k.SessionPrefix() + sid
}

// SessionPrefix is the common prefix of all session keys.
func (k Keyspace) SessionPrefix() string {
	return k.Namespace + ":sess:"
}

// SessionID extracts the session id from a key built by Session.
func (k Keyspace) SessionID(key string) (string, bool) {
	return strings.CutPrefix(key, k.SessionPrefix())
}

// Bucket returns the key of a rate-limit bucket.
func (k Keyspace) Bucket(id string) string {
	return k.Namespace + ":rl:" + id
}

// Options selects and configures a backend.
type Options struct {
	RedisURL  string
	ValkeyURL string
}

// Open connects the backend implied by opts. Valkey wins over Redis when both
// are set; with neither, an in-memory store is returned.
func Open(ctx context.Context, opts Options) (Store, string, error) {
	switch {
	case opts.ValkeyURL != "":
		s, err := NewValkeyStore(opts.ValkeyURL)
		if err != nil {
			return nil, "", err
		}
		return s, BackendValkey, nil
	case opts.RedisURL != "":
		s, err := NewRedisStore(ctx, opts.RedisURL)
		if err != nil {
			return nil, "", err
		}
		return s, BackendRedis, nil
	default:
		return NewMemoryStore(), BackendMemory, nil
	}
}
