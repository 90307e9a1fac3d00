// Package embeddingutils is the embeddings utility package
package embeddingutils

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/gollem/llm/gemini"

	"github.com/papercomputeco/recall/pkg/embeddings"
	"github.com/papercomputeco/recall/pkg/embeddings/cache"
	"github.com/papercomputeco/recall/pkg/embeddings/gollem"
	"github.com/papercomputeco/recall/pkg/embeddings/ollama"
	"github.com/papercomputeco/recall/pkg/embeddings/openai"
)

// Embedding provider names.
const (
	ProviderNone   = "none"
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderGollem = "gollem"
)

type NewEmbedderOpts struct {
	ProviderType string

	// TargetURL is the provider base URL. For gollem it is the Gemini
	// "project/location" pair.
	TargetURL string

	Model      string
	APIKey     string
	Dimensions int

	// CacheSize wraps the embedder in a ristretto cache when positive.
	CacheSize int64
}

func NewEmbedder(ctx context.Context, o *NewEmbedderOpts) (embeddings.Embedder, error) {
	e, err := newProvider(ctx, o)
	if err != nil {
		return nil, err
	}
	if o.CacheSize <= 0 {
		return e, nil
	}
	return cache.New(e, o.CacheSize)
}

func newProvider(ctx context.Context, o *NewEmbedderOpts) (embeddings.Embedder, error) {
	switch o.ProviderType {
	case ProviderNone, "":
		return embeddings.None{}, nil
	case ProviderOllama:
		return ollama.NewEmbedder(ollama.EmbedderConfig{
			BaseURL:    o.TargetURL,
			Model:      o.Model,
			Dimensions: o.Dimensions,
		})
	case ProviderOpenAI:
		return openai.NewEmbedder(openai.EmbedderConfig{
			APIKey:     o.APIKey,
			BaseURL:    o.TargetURL,
			Model:      o.Model,
			Dimensions: o.Dimensions,
		})
	case ProviderGollem:
		project, location := SplitGeminiTarget(o.TargetURL)
		client, err := gemini.New(ctx, project, location)
		if err != nil {
			return nil, fmt.Errorf("creating gemini client: %w", err)
		}
		return gollem.NewEmbedder(client, o.Dimensions), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", o.ProviderType)
	}
}

// DefaultGeminiLocation is used when the target names only a project.
const DefaultGeminiLocation = "us-central1"

// SplitGeminiTarget splits "project/location" into its parts.
func SplitGeminiTarget(target string) (project, location string) {
	project, location, _ = strings.Cut(target, "/")
	if location == "" {
		location = DefaultGeminiLocation
	}
	return project, location
}
