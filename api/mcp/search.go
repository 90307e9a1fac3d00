package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/recall/api/search"
)

var (
	searchToolName    = "memory_search"
	searchDescription = "Search stored memories with hybrid semantic and keyword ranking, or plain keyword matching with mode=keyword. Returns the most relevant memories for the query, optionally restricted to one session."
)

// SearchInput represents the input arguments for the memory_search tool.
type SearchInput struct {
	Query     string `json:"query" jsonschema:"the search query text"`
	SessionID string `json:"session_id,omitempty" jsonschema:"restrict results to this session"`
	Limit     int    `json:"limit,omitempty" jsonschema:"number of results to return (default: 10)"`
	Mode      string `json:"mode,omitempty" jsonschema:"hybrid (default) or keyword for plain word matching"`
}

// handleSearch processes a memory_search request.
func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, search.SearchOutput, error) {
	s.config.Logger.Debug("MCP search request",
		"query", input.Query,
		"session_id", input.SessionID,
		"limit", input.Limit,
		"mode", input.Mode,
	)

	output, err := search.Search(ctx, s.config.Engine, search.SearchInput{
		Query:     input.Query,
		SessionID: input.SessionID,
		Limit:     input.Limit,
		Mode:      input.Mode,
	})
	if err != nil {
		return toolError(err.Error()), search.SearchOutput{Query: input.Query, Results: []search.SearchResult{}}, nil
	}

	return jsonResult(output), *output, nil
}
