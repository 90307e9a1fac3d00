// Package gollem implements pkg/embeddings' Embedder on top of a gollem
// LLM client, which covers Gemini, OpenAI and Claude behind one interface.
package gollem

import (
	"context"

	"github.com/m-mizutani/goerr/v2"

	"github.com/papercomputeco/recall/pkg/embeddings"
)

// DefaultDimensions is used when no dimension is configured.
const DefaultDimensions = 768

// Generator is the part of gollem.LLMClient the embedder needs.
type Generator interface {
	GenerateEmbedding(ctx context.Context, dimension int, input []string) ([][]float64, error)
}

// Embedder adapts a gollem client to embeddings.Embedder.
type Embedder struct {
	client     Generator
	dimensions int
}

var _ embeddings.Embedder = (*Embedder)(nil)

// NewEmbedder wraps client. dimensions <= 0 selects DefaultDimensions.
func NewEmbedder(client Generator, dimensions int) *Embedder {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &Embedder{client: client, dimensions: dimensions}
}

// Embed converts text into a vector embedding.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.client.GenerateEmbedding(ctx, e.dimensions, []string{text})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate embedding", goerr.V("dimensions", e.dimensions))
	}
	if len(out) == 0 || len(out[0]) == 0 {
		return nil, goerr.Wrap(embeddings.ErrEmpty, "no embedding returned", goerr.V("dimensions", e.dimensions))
	}

	emb := make([]float32, len(out[0]))
	for i, v := range out[0] {
		emb[i] = float32(v)
	}
	return emb, nil
}

func (e *Embedder) Close() error {
	return nil
}
