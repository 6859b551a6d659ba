package embeddings

import (
	"sync"

	"github.com/sanonone/lacuna/pkg/metrics"
)

// DefaultCacheSize bounds the memoized query embeddings.
const DefaultCacheSize = 512

// CachedEmbedder memoizes Embed results by exact text. Scope summary queries
// repeat heavily while a caller tweaks filters around the same keywords, so a
// small cache removes most embedding round trips. Oldest entries are evicted
// first once the cache is full.
type CachedEmbedder struct {
	inner Embedder

	mu      sync.Mutex
	entries map[string][]float32
	order   []string
	max     int
}

// NewCachedEmbedder wraps inner with a cache of at most maxItems entries.
func NewCachedEmbedder(inner Embedder, maxItems int) *CachedEmbedder {
	if maxItems <= 0 {
		maxItems = DefaultCacheSize
	}
	return &CachedEmbedder{
		inner:   inner,
		entries: make(map[string][]float32, maxItems),
		max:     maxItems,
	}
}

// Embed returns the cached vector for text, or asks the inner embedder and
// remembers the answer. The returned slice is a copy; callers may mutate it.
func (c *CachedEmbedder) Embed(text string) ([]float32, error) {
	c.mu.Lock()
	if vec, ok := c.entries[text]; ok {
		out := make([]float32, len(vec))
		copy(out, vec)
		c.mu.Unlock()
		metrics.CacheHitsTotal.WithLabelValues("hit").Inc()
		return out, nil
	}
	c.mu.Unlock()
	metrics.CacheHitsTotal.WithLabelValues("miss").Inc()

	vec, err := c.inner.Embed(text)
	if err != nil {
		return nil, err
	}

	stored := make([]float32, len(vec))
	copy(stored, vec)

	c.mu.Lock()
	if _, ok := c.entries[text]; !ok {
		for len(c.entries) >= c.max && len(c.order) > 0 {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
		c.entries[text] = stored
		c.order = append(c.order, text)
	}
	c.mu.Unlock()
	return vec, nil
}

// Len reports the number of cached entries.
func (c *CachedEmbedder) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
