// Package search provides the shared search and context types used by both
// the REST API endpoints and the MCP server tools.
package search

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/papercomputeco/recall/pkg/manager"
	"github.com/papercomputeco/recall/pkg/memory"
	"github.com/papercomputeco/recall/pkg/retriever"
	"github.com/papercomputeco/recall/pkg/utils"
)

const (
	// DefaultLimit is the number of results returned when none is requested.
	DefaultLimit = 10

	// MaxLimit caps the number of results of one request.
	MaxLimit = 100

	// DefaultMaxTokens is the context budget used when none is requested.
	DefaultMaxTokens = 4000

	previewLength = 200
)

// Search modes.
const (
	// ModeHybrid fuses semantic and keyword ranking.
	ModeHybrid = "hybrid"

	// ModeKeyword is the lexical fallback: recent memories containing a
	// query word, ranked by stored relevance.
	ModeKeyword = "keyword"
)

var (
	// ErrEmptyQuery is returned when a search has no query text.
	ErrEmptyQuery = errors.New("query is required")

	// ErrInvalidMode is returned for an unknown search mode.
	ErrInvalidMode = errors.New(`mode must be "hybrid" or "keyword"`)
)

// Engine is the subset of the memory engine the search surfaces need.
type Engine interface {
	HybridSearch(ctx context.Context, query string, o retriever.Options) []retriever.Scored
	SearchMemories(ctx context.Context, query string, o manager.SearchOptions) ([]*memory.Memory, error)
	RetrieveContext(ctx context.Context, query, sessionID string, maxTokens int) ([]*memory.Memory, string)
	RecordMetric(ctx context.Context, name string, value float64, metadata map[string]any) error
}

// SearchInput represents the input arguments for a search request.
type SearchInput struct {
	Query        string  `json:"query"`
	SessionID    string  `json:"session_id,omitempty"`
	Limit        int     `json:"limit,omitempty"`
	MinRelevance float64 `json:"min_relevance,omitempty"`
	Mode         string  `json:"mode,omitempty"`
}

// SearchResult represents a single ranked memory.
type SearchResult struct {
	ID        string      `json:"id"`
	SessionID string      `json:"session_id"`
	Type      memory.Type `json:"type"`
	Score     float64     `json:"score"`
	Relevance float64     `json:"relevance"`
	Tokens    int         `json:"tokens"`
	Timestamp string      `json:"timestamp"`
	Preview   string      `json:"preview"`
}

// SearchOutput represents the output of a search operation.
type SearchOutput struct {
	Query   string         `json:"query"`
	Mode    string         `json:"mode"`
	Results []SearchResult `json:"results"`
	Count   int            `json:"count"`
}

// ContextInput requests the assembled context for a turn.
type ContextInput struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// ContextOutput is the packed context and the memories it was built from,
// oldest first.
type ContextOutput struct {
	SessionID string         `json:"session_id"`
	Query     string         `json:"query"`
	Context   string         `json:"context"`
	Tokens    int            `json:"tokens"`
	Memories  []SearchResult `json:"memories"`
	ElapsedMs float64        `json:"elapsed_ms"`
}

// Search runs a hybrid or keyword search. Provider failures degrade inside
// the retriever, so hybrid searches only fail on invalid input.
func Search(ctx context.Context, e Engine, in SearchInput) (*SearchOutput, error) {
	if in.Query == "" {
		return nil, ErrEmptyQuery
	}
	if in.Limit <= 0 {
		in.Limit = DefaultLimit
	}
	in.Limit = min(in.Limit, MaxLimit)

	var results []SearchResult
	switch in.Mode {
	case "", ModeHybrid:
		in.Mode = ModeHybrid
		scored := e.HybridSearch(ctx, in.Query, retriever.Options{
			Limit:        in.Limit,
			Filter:       retriever.Filter{SessionID: in.SessionID},
			MinRelevance: in.MinRelevance,
		})
		results = make([]SearchResult, 0, len(scored))
		for _, s := range scored {
			results = append(results, toResult(s.Memory, s.Score))
		}
	case ModeKeyword:
		ms, err := e.SearchMemories(ctx, in.Query, manager.SearchOptions{
			SessionID:          in.SessionID,
			Limit:              in.Limit,
			RelevanceThreshold: in.MinRelevance,
		})
		if err != nil {
			return nil, err
		}
		results = make([]SearchResult, 0, len(ms))
		for _, m := range ms {
			results = append(results, toResult(m, m.RelevanceScore))
		}
	default:
		return nil, ErrInvalidMode
	}

	return &SearchOutput{
		Query:   in.Query,
		Mode:    in.Mode,
		Results: results,
		Count:   len(results),
	}, nil
}

// Context assembles the context for a session and records how long it took
// as the response_time_ms metric. An empty query still returns the recent
// conversation.
func Context(ctx context.Context, e Engine, in ContextInput, logger *slog.Logger) *ContextOutput {
	if in.MaxTokens <= 0 {
		in.MaxTokens = DefaultMaxTokens
	}

	start := time.Now()
	ms, text := e.RetrieveContext(ctx, in.Query, in.SessionID, in.MaxTokens)
	elapsed := float64(time.Since(start).Microseconds()) / 1000

	err := e.RecordMetric(ctx, memory.MetricResponseTime, elapsed, map[string]any{
		"session_id": in.SessionID,
		"memories":   len(ms),
	})
	if err != nil && logger != nil {
		logger.Warn("recording response time failed", "error", err)
	}

	results := make([]SearchResult, 0, len(ms))
	for _, m := range ms {
		results = append(results, toResult(m, m.RelevanceScore))
	}

	return &ContextOutput{
		SessionID: in.SessionID,
		Query:     in.Query,
		Context:   text,
		Tokens:    memory.TotalTokens(ms),
		Memories:  results,
		ElapsedMs: elapsed,
	}
}

func toResult(m *memory.Memory, score float64) SearchResult {
	return SearchResult{
		ID:        m.ID,
		SessionID: m.SessionID,
		Type:      m.Type,
		Score:     score,
		Relevance: m.RelevanceScore,
		Tokens:    m.TokenCount,
		Timestamp: m.Timestamp.UTC().Format(time.RFC3339),
		Preview:   utils.Truncate(m.Content, previewLength),
	}
}
