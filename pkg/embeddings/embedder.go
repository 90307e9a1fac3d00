// Package embeddings defines the text embedding boundary used to index and
// query memories semantically.
package embeddings

import "context"

// Embedder provides text embedding capabilities.
type Embedder interface {
	// Embed converts text into a vector embedding.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Close releases any resources held by the embedder.
	Close() error
}

// None is the embedder used when no embedding provider is configured. Every
// call fails, which degrades retrieval to its lexical branch.
type None struct{}

var _ Embedder = None{}

func (None) Embed(context.Context, string) ([]float32, error) {
	return nil, ErrDisabled
}

func (None) Close() error {
	return nil
}
