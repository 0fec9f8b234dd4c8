package embed

import (
	"context"
	"time"

	"github.com/Protocol-Lattice/go-memory/pkg/cache"
)

// Cached wraps an embedder with an LRU so repeated texts embed once.
// Entries are keyed by a sha256 of the text.
type Cached struct {
	inner Embedder
	lru   *cache.LRU
}

// NewCached caches up to capacity embeddings for ttl (0 = no expiry).
func NewCached(inner Embedder, capacity int, ttl time.Duration) *Cached {
	return &Cached{inner: inner, lru: cache.NewLRU(capacity, ttl)}
}

func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cache.HashKey(text)
	if v, ok := c.lru.Get(key); ok {
		return v.([]float32), nil
	}
	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.lru.Put(key, vec)
	return vec, nil
}

func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, text := range texts {
		if v, ok := c.lru.Get(cache.HashKey(text)); ok {
			out[i] = v.([]float32)
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}
	fresh, err := c.inner.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, vec := range fresh {
		i := missingIdx[j]
		out[i] = vec
		c.lru.Put(cache.HashKey(texts[i]), vec)
	}
	return out, nil
}

// Stats exposes the cache hit/miss counters.
func (c *Cached) Stats() cache.Stats {
	return c.lru.Stats()
}
