// Package anthropic implements llm.Completer with the official Anthropic SDK.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/papercomputeco/recall/pkg/llm"
)

const (
	DefaultModel = "claude-haiku-4-5-20251001"

	// DefaultMaxTokens is sent when a request sets no limit; the Messages
	// API requires one.
	DefaultMaxTokens = 1024
)

// Config holds configuration for the Anthropic completer.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string

	// MaxRetries is passed to the SDK. Defaults to 0.
	MaxRetries int
}

// Completer calls the Messages API.
type Completer struct {
	client *anthropic.Client
	model  string
}

var _ llm.Completer = (*Completer)(nil)

// New creates an Anthropic completer.
func New(cfg Config) (*Completer, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("api_key is required for anthropic")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	client := anthropic.NewClient(opts...)
	return &Completer{client: &client, model: cfg.Model}, nil
}

// Complete sends req as a single user turn and joins the text blocks of
// the reply.
func (c *Completer) Complete(ctx context.Context, req llm.Request) (string, error) {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
		Temperature: anthropic.Float(req.Temperature),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: req.System},
		}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic request failed: %w", err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}
