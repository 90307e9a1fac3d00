// Package provider builds the configured llm.Completer.
package provider

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/m-mizutani/gollem/llm/gemini"

	embeddingutils "github.com/papercomputeco/recall/pkg/embeddings/utils"
	"github.com/papercomputeco/recall/pkg/llm"
	"github.com/papercomputeco/recall/pkg/llm/provider/anthropic"
	gollemprovider "github.com/papercomputeco/recall/pkg/llm/provider/gollem"
	"github.com/papercomputeco/recall/pkg/llm/provider/ollama"
	"github.com/papercomputeco/recall/pkg/llm/provider/openai"
)

// Provider names.
const (
	None      = "none"
	Ollama    = "ollama"
	OpenAI    = "openai"
	Anthropic = "anthropic"
	Gollem    = "gollem"
)

// Opts selects and configures a provider.
type Opts struct {
	Provider string
	Model    string

	// BaseURL overrides the provider endpoint. For gollem it is the Gemini
	// "project/location" pair.
	BaseURL string

	// APIKey takes precedence over APIKeyEnv.
	APIKey string

	// APIKeyEnv names the environment variable holding the API key.
	// Defaults to OPENAI_API_KEY or ANTHROPIC_API_KEY.
	APIKeyEnv string
}

// New returns the completer for o.Provider. "none" and "" return
// llm.Unavailable.
func New(ctx context.Context, o Opts) (llm.Completer, error) {
	p := strings.ToLower(o.Provider)
	switch p {
	case None, "":
		return llm.Unavailable{}, nil
	case Ollama:
		return ollama.New(ollama.Config{BaseURL: o.BaseURL, Model: o.Model}), nil
	case OpenAI:
		return openai.New(openai.Config{APIKey: ResolveAPIKey(o), BaseURL: o.BaseURL, Model: o.Model})
	case Anthropic:
		return anthropic.New(anthropic.Config{APIKey: ResolveAPIKey(o), BaseURL: o.BaseURL, Model: o.Model})
	case Gollem:
		project, location := embeddingutils.SplitGeminiTarget(o.BaseURL)
		client, err := gemini.New(ctx, project, location)
		if err != nil {
			return nil, fmt.Errorf("creating gemini client: %w", err)
		}
		return gollemprovider.New(client), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", o.Provider)
	}
}

// ResolveAPIKey returns the explicit key, else the configured or default
// environment variable for the provider.
func ResolveAPIKey(o Opts) string {
	if o.APIKey != "" {
		return o.APIKey
	}
	if o.APIKeyEnv != "" {
		return os.Getenv(o.APIKeyEnv)
	}
	switch strings.ToLower(o.Provider) {
	case Anthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	case OpenAI:
		return os.Getenv("OPENAI_API_KEY")
	default:
		return ""
	}
}
