package oauth

import (
	"context"
	"crypto/rsa"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/jwk"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultJWKSTTL is how long a fetched key set is trusted.
	DefaultJWKSTTL = time.Hour

	jwksFetchTimeout = 5 * time.Second

	// An unknown kid triggers an early refetch at most this often.
	minRefetchInterval = time.Minute

	maxJWKSBytes = 1 << 20
)

// JWKSCache is a read-through cache of the provider's signing keys.
// Concurrent misses share one fetch.
type JWKSCache struct {
	url    string
	ttl    time.Duration
	client *http.Client
	now    func() time.Time

	mu        sync.RWMutex
	set       jwk.Set
	fetchedAt time.Time

	group singleflight.Group
}

// NewJWKSCache creates a cache for the key set at url.
func NewJWKSCache(url string, ttl time.Duration, client *http.Client) *JWKSCache {
	if ttl <= 0 {
		ttl = DefaultJWKSTTL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &JWKSCache{url: url, ttl: ttl, client: client, now: time.Now}
}

// PublicKey returns the RSA key with the given kid.
func (c *JWKSCache) PublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	set, err := c.keySet(ctx, false)
	if err != nil {
		return nil, err
	}

	key, ok := set.LookupKeyID(kid)
	if !ok && c.age() >= minRefetchInterval {
		if set, err = c.keySet(ctx, true); err != nil {
			return nil, err
		}
		key, ok = set.LookupKeyID(kid)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKeyID, kid)
	}

	var pub rsa.PublicKey
	if err := key.Raw(&pub); err != nil {
		return nil, fmt.Errorf("key %q is not an RSA public key: %w", kid, err)
	}
	return &pub, nil
}

func (c *JWKSCache) age() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now().Sub(c.fetchedAt)
}

func (c *JWKSCache) keySet(ctx context.Context, force bool) (jwk.Set, error) {
	c.mu.RLock()
	set, fetchedAt := c.set, c.fetchedAt
	c.mu.RUnlock()

	if !force && set != nil && c.now().Sub(fetchedAt) < c.ttl {
		return set, nil
	}

	// The shared fetch ignores the caller's cancellation; each caller stops
	// waiting on its own ctx.
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan("jwks", func() (any, error) {
		fetched, err := c.fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.set, c.fetchedAt = fetched, c.now()
		c.mu.Unlock()
		return fetched, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch jwks: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(jwk.Set), nil
	}
}

func (c *JWKSCache) fetch(ctx context.Context) (jwk.Set, error) {
	ctx, cancel := context.WithTimeout(ctx, jwksFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch jwks: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBytes))
	if err != nil {
		return nil, fmt.Errorf("read jwks: %w", err)
	}
	set, err := jwk.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse jwks: %w", err)
	}
	return set, nil
}
