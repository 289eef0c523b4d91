package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultEmbeddingCacheSize bounds the embedding cache.
// 768 dims * 4 bytes * 2048 entries is about 6MB.
const DefaultEmbeddingCacheSize = 2048

// DefaultEmbeddingTTL bounds embedding entry lifetime. Embeddings of fixed
// text under a fixed model never change, so the TTL is day-scale and exists
// only to bound memory over long uptimes.
const DefaultEmbeddingTTL = 72 * time.Hour

// CachedEmbedder wraps an Embedder with a TTL-bounded LRU cache so repeated
// queries skip the embedding round trip.
type CachedEmbedder struct {
	inner Embedder
	cache *expirable.LRU[string, []float32]
}

var (
	_ Embedder       = (*CachedEmbedder)(nil)
	_ OriginEmbedder = (*CachedEmbedder)(nil)
)

// NewCachedEmbedder creates a cached embedder wrapping inner.
func NewCachedEmbedder(inner Embedder, size int, ttl time.Duration) *CachedEmbedder {
	if size <= 0 {
		size = DefaultEmbeddingCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultEmbeddingTTL
	}
	return &CachedEmbedder{
		inner: inner,
		cache: expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

// cacheKey hashes text together with the model name so a model switch can
// never serve stale vectors.
func (c *CachedEmbedder) cacheKey(text string) string {
	combined := text + "\x00" + c.inner.ModelName()
	hash := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(hash[:])
}

// Embed returns a cached embedding if present, otherwise computes and caches.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, _, err := c.EmbedWithOrigin(ctx, text)
	return vec, err
}

// EmbedWithOrigin serves from the cache when possible and forwards the
// inner embedder's origin on a miss. Only primary-origin vectors are
// cached: the key binds the primary model name, and a fallback vector
// stored under it would keep serving the wrong embedding space long
// after the primary recovered.
func (c *CachedEmbedder) EmbedWithOrigin(ctx context.Context, text string) ([]float32, Origin, error) {
	key := c.cacheKey(text)
	if vec, ok := c.cache.Get(key); ok {
		return vec, OriginPrimary, nil
	}

	origin := OriginPrimary
	var vec []float32
	var err error
	if oe, ok := c.inner.(OriginEmbedder); ok {
		vec, origin, err = oe.EmbedWithOrigin(ctx, text)
	} else {
		vec, err = c.inner.Embed(ctx, text)
	}
	if err != nil {
		return nil, origin, err
	}
	if origin == OriginPrimary {
		c.cache.Add(key, vec)
	}
	return vec, origin, nil
}

// EmbedBatch checks the cache per text and batches only the misses.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	missIndices := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))

	for i, text := range texts {
		if vec, ok := c.cache.Get(c.cacheKey(text)); ok {
			results[i] = vec
		} else {
			missIndices = append(missIndices, i)
			missTexts = append(missTexts, text)
		}
	}

	if len(missTexts) == 0 {
		return results, nil
	}

	fresh, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, idx := range missIndices {
		results[idx] = fresh[j]
		c.cache.Add(c.cacheKey(missTexts[j]), fresh[j])
	}
	return results, nil
}

// Dimensions returns the inner embedder's dimension.
func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

// ModelName returns the inner embedder's model identifier.
func (c *CachedEmbedder) ModelName() string { return c.inner.ModelName() }

// Available reports the inner embedder's availability.
func (c *CachedEmbedder) Available(ctx context.Context) bool { return c.inner.Available(ctx) }

// Close purges the cache and closes the inner embedder.
func (c *CachedEmbedder) Close() error {
	c.cache.Purge()
	return c.inner.Close()
}

// Len returns the number of cached embeddings.
func (c *CachedEmbedder) Len() int { return c.cache.Len() }
