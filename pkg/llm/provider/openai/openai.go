// Package openai implements llm.Completer with the official OpenAI SDK.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/papercomputeco/recall/pkg/llm"
)

const DefaultModel = "gpt-4o-mini"

// Config holds configuration for the OpenAI completer.
type Config struct {
	APIKey string

	// BaseURL is an optional custom endpoint.
	BaseURL string

	Model string

	// MaxRetries is passed to the SDK. The Guard owns retry policy, so the
	// default is 0.
	MaxRetries int
}

// Completer calls the chat completions API.
type Completer struct {
	client *openai.Client
	model  string
}

var _ llm.Completer = (*Completer)(nil)

// New creates an OpenAI completer.
func New(cfg Config) (*Completer, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("api_key is required for openai")
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

	client := openai.NewClient(opts...)
	return &Completer{client: &client, model: cfg.Model}, nil
}

// Complete sends req as a single chat turn.
func (c *Completer) Complete(ctx context.Context, req llm.Request) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(c.model),
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}
