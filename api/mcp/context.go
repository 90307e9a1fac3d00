package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/recall/api/search"
)

var (
	contextToolName    = "memory_context"
	contextDescription = "Assemble the memory context for the next turn of a session: recent conversation plus the memories most relevant to the query, packed into a token budget and ordered oldest first."
)

// ContextInput represents the input arguments for the memory_context tool.
type ContextInput struct {
	Query     string `json:"query,omitempty" jsonschema:"the text of the current turn"`
	SessionID string `json:"session_id,omitempty" jsonschema:"the session to build context for"`
	MaxTokens int    `json:"max_tokens,omitempty" jsonschema:"token budget for the context (default: 4000)"`
}

// handleContext processes a memory_context request.
func (s *Server) handleContext(ctx context.Context, _ *mcp.CallToolRequest, input ContextInput) (*mcp.CallToolResult, search.ContextOutput, error) {
	if input.SessionID == "" {
		return toolError("session_id is required"), search.ContextOutput{Memories: []search.SearchResult{}}, nil
	}

	output := search.Context(ctx, s.config.Engine, search.ContextInput{
		Query:     input.Query,
		SessionID: input.SessionID,
		MaxTokens: input.MaxTokens,
	}, s.config.Logger)

	return jsonResult(output), *output, nil
}
