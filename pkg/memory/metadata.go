package memory

import (
	"encoding/json"
	"time"
)

// Metadata keys written by the engine.
const (
	MetaMessageID        = "message_id"
	MetaRole             = "role"
	MetaOriginalMessage  = "original_message"
	MetaCompressed       = "compressed"
	MetaCompressionTime  = "compression_time"
	MetaCompressedIDs    = "compressed_ids"
	MetaOriginalTokens   = "original_tokens"
	MetaTimeRange        = "time_range"
	MetaCompressionRatio = "compression_ratio"
	MetaMemoryCount      = "memory_count"
	MetaMergedIDs        = "merged_memory_ids"
	MetaMergeType        = "merge_type"
	MetaTags             = "tags"

	// MetaProject tags sessions and CLI memories with the repository they
	// were recorded in.
	MetaProject = "project"
)

// TimeRange is the span covered by a summary.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// DecodeMetadata parses a JSON object. Empty, null or malformed input yields
// an empty map.
func DecodeMetadata(raw []byte) map[string]any {
	out := map[string]any{}
	if len(raw) == 0 {
		return out
	}
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		return map[string]any{}
	}
	return out
}

// EncodeMetadata serializes metadata, treating nil as an empty object.
func EncodeMetadata(md map[string]any) ([]byte, error) {
	if md == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(md)
}

// CloneMetadata returns a shallow copy of md.
func CloneMetadata(md map[string]any) map[string]any {
	out := make(map[string]any, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}

// StringSlice reads a list of strings from md[key]. It accepts both []string
// and the []any produced by JSON decoding.
func StringSlice(md map[string]any, key string) []string {
	switch v := md[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// CompressedIDs returns the provenance ids of a summary.
func (m *Memory) CompressedIDs() []string {
	return StringSlice(m.Metadata, MetaCompressedIDs)
}
