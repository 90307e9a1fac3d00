// Package cache memoizes embeddings by their exact input text.
package cache

import (
	"context"
	"fmt"
	"slices"

	"github.com/dgraph-io/ristretto"

	"github.com/papercomputeco/recall/pkg/embeddings"
)

// DefaultSize is the number of embeddings kept when no size is configured.
const DefaultSize = 10_000

// Embedder wraps another embeddings.Embedder with a ristretto cache. Each
// entry costs 1, so the size bounds the number of cached vectors.
type Embedder struct {
	inner embeddings.Embedder
	cache *ristretto.Cache
}

var _ embeddings.Embedder = (*Embedder)(nil)

// New wraps inner. size <= 0 selects DefaultSize.
func New(inner embeddings.Embedder, size int64) (*Embedder, error) {
	if size <= 0 {
		size = DefaultSize
	}

	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        size * 10,
		MaxCost:            size,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedding cache: %w", err)
	}

	return &Embedder{inner: inner, cache: c}, nil
}

// Embed returns the cached vector for text or computes and caches it.
// Failures are never cached.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := e.cache.Get(text); ok {
		return slices.Clone(v.([]float32)), nil
	}

	emb, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	e.cache.Set(text, slices.Clone(emb), 1)
	return emb, nil
}

// Wait blocks until pending cache writes are visible.
func (e *Embedder) Wait() {
	e.cache.Wait()
}

// Clear drops every cached embedding.
func (e *Embedder) Clear() {
	e.cache.Clear()
}

// Close closes the cache and the wrapped embedder.
func (e *Embedder) Close() error {
	e.cache.Close()
	return e.inner.Close()
}
