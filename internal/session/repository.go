package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/diyartec/calassist/internal/store"
)

// DefaultTTL bounds how long an abandoned session survives in the store. The
// absolute timeout is enforced separately on access.
const DefaultTTL = 7 * 24 * time.Hour

// ErrNotFound is returned for unknown or expired session ids.
var ErrNotFound = errors.New("session not found")

// Repository persists session records in a store.Store.
type Repository struct {
	store store.Store
	keys  store.Keyspace
	ttl   time.Duration
}

// NewRepository creates a repository over s.
func NewRepository(s store.Store, keys store.Keyspace) *Repository {
	return &Repository{store: s, keys: keys, ttl: DefaultTTL}
}

// Get loads the record for sid.
func (r *Repository) Get(ctx context.Context, sid string) (*Record, error) {
	if sid == "" {
		return nil, ErrNotFound
	}
	raw, err := r.store.Get(ctx, r.keys.Session(sid))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &rec, nil
}

// Save writes rec under sid, replacing any previous value.
func (r *Repository) Save(ctx context.Context, sid string, rec *Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := r.store.Set(ctx, r.keys.Session(sid), raw, r.ttl); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Delete removes sid. Deleting an unknown id is not an error.
func (r *Repository) Delete(ctx context.Context, sid string) error {
	if err := r.store.Delete(ctx, r.keys.Session(sid)); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// SubjectFor returns the user subject stored under sid.
func (r *Repository) SubjectFor(ctx context.Context, sid string) (string, bool) {
	rec, err := r.Get(ctx, sid)
	if err != nil {
		return "", false
	}
	return rec.User.Sub, rec.User.Sub != ""
}

// DeleteBySubject removes every session belonging to sub and returns how many
// were removed. It walks the whole session keyspace.
func (r *Repository) DeleteBySubject(ctx context.Context, sub string) (int, error) {
	var matched []string
	err := r.store.ScanPrefix(ctx, r.keys.SessionPrefix(), func(key string) error {
		raw, err := r.store.Get(ctx, key)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var rec struct {
			User struct {
				Sub string `json:"sub"`
			} `json:"user"`
		}
		if json.Unmarshal(raw, &rec) == nil && rec.User.Sub == sub {
			matched = append(matched, key)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan sessions: %w", err)
	}

	count := 0
	for _, key := range matched {
		if err := r.store.Delete(ctx, key); err != nil {
			return count, fmt.Errorf("failed to delete session: %w", err)
		}
		count++
	}
	return count, nil
}
