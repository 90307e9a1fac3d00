// Package gollem implements llm.Completer on a gollem LLM client.
package gollem

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"

	"github.com/papercomputeco/recall/pkg/llm"
)

// SessionFactory is the part of gollem.LLMClient the completer needs.
type SessionFactory interface {
	NewSession(ctx context.Context, options ...gollem.SessionOption) (gollem.Session, error)
}

// Completer opens a fresh gollem session per request.
type Completer struct {
	client SessionFactory
}

var _ llm.Completer = (*Completer)(nil)

// New wraps client.
func New(client SessionFactory) *Completer {
	return &Completer{client: client}
}

// Complete generates a response for req. Temperature and token limits are
// left to the client's configuration.
func (c *Completer) Complete(ctx context.Context, req llm.Request) (string, error) {
	var opts []gollem.SessionOption
	if req.System != "" {
		opts = append(opts, gollem.WithSessionSystemPrompt(req.System))
	}

	session, err := c.client.NewSession(ctx, opts...)
	if err != nil {
		return "", goerr.Wrap(err, "failed to create session")
	}

	resp, err := session.GenerateContent(ctx, gollem.Text(req.Prompt))
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate content", goerr.V("max_tokens", req.MaxTokens))
	}
	if resp == nil || len(resp.Texts) == 0 {
		return "", nil
	}

	return strings.Join(resp.Texts, "\n"), nil
}
