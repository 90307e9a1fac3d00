// Package memory defines the records recall persists and retrieves: memories,
// sessions, messages and metrics.
//
// A Memory is an addressable unit of conversational content with a decaying
// relevance score. Its Content is fixed at creation; only RelevanceScore and
// Metadata change afterwards, through store-side decay and compression
// marking. Embeddings live in the vector index keyed by the memory ID.
package memory

import (
	"fmt"
	"strings"
	"time"
)

// Type classifies a Memory.
type Type string

const (
	TypeConversation Type = "conversation"
	TypeSummary      Type = "summary"
	TypeToolOutput   Type = "tool_output"
	TypeContext      Type = "context"
)

// Types lists every known memory type.
var Types = []Type{TypeConversation, TypeSummary, TypeToolOutput, TypeContext}

// ParseType resolves s to a known Type.
func ParseType(s string) (Type, error) {
	for _, t := range Types {
		if string(t) == strings.ToLower(strings.TrimSpace(s)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown memory type %q", s)
}

// Relevance thresholds and multipliers shared by the retriever, the manager
// and the compression scheduler.
const (
	// DefaultConversationRelevance is assigned to memories derived from messages.
	DefaultConversationRelevance = 1.0

	// DefaultStoredRelevance is assigned by explicit StoreMemory calls.
	DefaultStoredRelevance = 0.8

	// DefaultSummaryRelevance is assigned to compression summaries.
	DefaultSummaryRelevance = 0.8

	// CompressionDecay scales the relevance of memories folded into a summary.
	CompressionDecay = 0.2

	// DailyDecay scales the relevance of memories older than a day.
	DailyDecay = 0.95

	// RetentionRelevanceFloor is the relevance below which old memories may
	// be purged.
	RetentionRelevanceFloor = 0.3
)

// Memory is a stored unit of session content.
type Memory struct {
	ID               string         `json:"id"`
	SessionID        string         `json:"session_id"`
	Type             Type           `json:"type"`
	Content          string         `json:"content"`
	RelevanceScore   float64        `json:"relevance_score"`
	CompressionRatio float64        `json:"compression_ratio"`
	TokenCount       int            `json:"token_count"`
	Timestamp        time.Time      `json:"timestamp"`
	Metadata         map[string]any `json:"metadata"`
}

// New builds a Memory with a fresh ID, clamped relevance and a compression
// ratio of 1.0. A nil metadata map is replaced with an empty one.
func New(sessionID string, t Type, content string, relevance float64, tokens int, ts time.Time, metadata map[string]any) *Memory {
	if metadata == nil {
		metadata = map[string]any{}
	}
	prefix := PrefixMemory
	if t == TypeSummary {
		prefix = PrefixSummary
	}
	return &Memory{
		ID:               NewID(prefix),
		SessionID:        sessionID,
		Type:             t,
		Content:          content,
		RelevanceScore:   ClampRelevance(relevance),
		CompressionRatio: 1.0,
		TokenCount:       tokens,
		Timestamp:        ts,
		Metadata:         metadata,
	}
}

// ClampRelevance bounds r to [0, 1].
func ClampRelevance(r float64) float64 {
	switch {
	case r < 0:
		return 0
	case r > 1:
		return 1
	default:
		return r
	}
}

// IsCompressed reports whether the memory has been folded into a summary.
func (m *Memory) IsCompressed() bool {
	v, ok := m.Metadata[MetaCompressed].(bool)
	return ok && v
}

// Block renders the memory the way it appears in an assembled context.
func (m *Memory) Block() string {
	return fmt.Sprintf("[%s] %s", strings.ToUpper(string(m.Type)), m.Content)
}

// FormatContext joins the blocks of memories with a blank line.
func FormatContext(memories []*Memory) string {
	blocks := make([]string, 0, len(memories))
	for _, m := range memories {
		blocks = append(blocks, m.Block())
	}
	return strings.Join(blocks, "\n\n")
}

// TotalTokens sums the token counts of memories.
func TotalTokens(memories []*Memory) int {
	total := 0
	for _, m := range memories {
		total += m.TokenCount
	}
	return total
}
