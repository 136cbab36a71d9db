package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedEmbedder wraps another Embedder with an LRU cache keyed by text
// and model name. Query embedding dominates interactive latency, so
// repeated queries skip the provider entirely.
type CachedEmbedder struct {
	inner Embedder
	cache *lru.Cache[string, []float32]
}

// NewCachedEmbedder wraps inner with an LRU of the given size.
func NewCachedEmbedder(inner Embedder, size int) (*CachedEmbedder, error) {
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &CachedEmbedder{inner: inner, cache: cache}, nil
}

func (e *CachedEmbedder) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(e.inner.Name() + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// Embed returns cached vectors where possible and embeds only the cache
// misses, preserving input order.
func (e *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))

	var missTexts []string
	var missIdx []int
	for i, text := range texts {
		if v, ok := e.cache.Get(e.cacheKey(text)); ok {
			vectors[i] = v
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) == 0 {
		return vectors, nil
	}

	embedded, err := e.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(embedded) != len(missTexts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(embedded), len(missTexts))
	}

	for j, i := range missIdx {
		vectors[i] = embedded[j]
		e.cache.Add(e.cacheKey(texts[i]), embedded[j])
	}
	return vectors, nil
}

// Dimensions delegates to the wrapped embedder.
func (e *CachedEmbedder) Dimensions() int { return e.inner.Dimensions() }

// Name delegates to the wrapped embedder.
func (e *CachedEmbedder) Name() string { return e.inner.Name() }

// Len returns the number of cached vectors.
func (e *CachedEmbedder) Len() int { return e.cache.Len() }

// Close closes the wrapped embedder.
func (e *CachedEmbedder) Close() error { return e.inner.Close() }

var _ Embedder = (*CachedEmbedder)(nil)
