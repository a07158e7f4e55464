package search

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
)

// Cached wraps a Provider with a TTL cache so repeated queries within the
// window do not burn API quota. Results are cached per normalized query and
// option set.
type Cached struct {
	inner Provider
	cache *ristretto.Cache
	ttl   time.Duration
}

// NewCached wraps the given provider with an in-memory result cache.
func NewCached(inner Provider, ttl time.Duration) (*Cached, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1 << 22, // ~4 MB of cached result sets
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create search cache: %w", err)
	}
	return &Cached{inner: inner, cache: cache, ttl: ttl}, nil
}

func (c *Cached) Name() string { return c.inner.Name() }

func (c *Cached) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	key := cacheKey(query, opts)
	if v, ok := c.cache.Get(key); ok {
		if results, ok := v.([]Result); ok {
			return results, nil
		}
	}

	results, err := c.inner.Search(ctx, query, opts)
	if err != nil {
		return nil, err
	}

	cost := int64(0)
	for _, r := range results {
		cost += int64(len(r.Title) + len(r.URL) + len(r.Snippet))
	}
	c.cache.SetWithTTL(key, results, cost, c.ttl)

	return results, nil
}

// Wait blocks until pending cache writes are visible. Used by tests.
func (c *Cached) Wait() {
	c.cache.Wait()
}

func cacheKey(query string, opts Options) string {
	return fmt.Sprintf("%s|%d|%s", query, opts.Count, opts.Language)
}
