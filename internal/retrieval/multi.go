package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"deepresearch/internal/logging"
	"deepresearch/internal/types"
)

// NamedSearcher is a search backend with a stable name.
type NamedSearcher interface {
	types.Searcher
	Name() string
}

// Multi queries several backends in order and concatenates their results.
// It fails only when every backend fails.
type Multi struct {
	backends []NamedSearcher
}

// NewMulti combines backends. Order is preserved in the merged output.
func NewMulti(backends ...NamedSearcher) *Multi {
	return &Multi{backends: backends}
}

// Name identifies the combined backend.
func (m *Multi) Name() string { return "multi" }

// Search implements types.Searcher.
func (m *Multi) Search(ctx context.Context, query string, maxResults int) ([]types.SearchResult, error) {
	if len(m.backends) == 0 {
		return nil, fmt.Errorf("no search backends configured")
	}

	var (
		merged []types.SearchResult
		errs   []error
		seen   = make(map[string]bool)
	)
	for _, b := range m.backends {
		results, err := b.Search(ctx, query, maxResults)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logging.RetrievalWarn("backend %s failed for %q: %v", b.Name(), query, err)
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
			continue
		}
		for _, r := range results {
			if seen[r.URL] {
				continue
			}
			seen[r.URL] = true
			merged = append(merged, r)
		}
	}

	if len(errs) == len(m.backends) {
		return nil, errors.Join(errs...)
	}
	return merged, nil
}

// Cached memoizes search results per backend, query and limit.
type Cached struct {
	inner NamedSearcher
	cache *Cache
}

// NewCached wraps a searcher with cache.
func NewCached(inner NamedSearcher, cache *Cache) *Cached {
	return &Cached{inner: inner, cache: cache}
}

// Name identifies the wrapped backend.
func (c *Cached) Name() string { return c.inner.Name() }

// Search implements types.Searcher.
func (c *Cached) Search(ctx context.Context, query string, maxResults int) ([]types.SearchResult, error) {
	key := HashKey(c.inner.Name(), query, fmt.Sprint(maxResults))

	if raw, ok := c.cache.Get(ctx, "search", key); ok {
		var results []types.SearchResult
		if err := json.Unmarshal([]byte(raw), &results); err == nil {
			logging.RetrievalDebug("search cache hit: %s %q", c.inner.Name(), query)
			return results, nil
		}
	}

	results, err := c.inner.Search(ctx, query, maxResults)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(results); err == nil {
		c.cache.Set(ctx, "search", key, string(data))
	}
	return results, nil
}
