// Package llm defines the text completion boundary the summarizer and
// enrichment features use, plus the Guard that bounds every provider call.
package llm

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when no completion provider can serve a call,
// either because none is configured or because the breaker is open.
var ErrUnavailable = errors.New("llm provider unavailable")

// Request is a single-turn completion request.
type Request struct {
	// System is an optional system prompt.
	System string

	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Completer produces a text completion for a request.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// CompleteFunc adapts a function to Completer.
type CompleteFunc func(ctx context.Context, req Request) (string, error)

func (f CompleteFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Unavailable is the degraded Completer. Every call fails with ErrUnavailable.
type Unavailable struct{}

var _ Completer = Unavailable{}

func (Unavailable) Complete(context.Context, Request) (string, error) {
	return "", ErrUnavailable
}
