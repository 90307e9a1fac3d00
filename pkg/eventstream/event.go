package eventstream

import (
	"time"

	"github.com/google/uuid"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeMemoryStored is emitted after a memory is persisted.
	EventTypeMemoryStored = "memory.stored"

	// EventTypeMemoryCompressed is emitted after a batch of memories is
	// summarized.
	EventTypeMemoryCompressed = "memory.compressed"

	// EventTypeMemoryDeleted is emitted after retention cleanup or session
	// deletion physically removes memories.
	EventTypeMemoryDeleted = "memory.deleted"
)

// MemoryEvent is a transport-neutral memory lifecycle event.
type MemoryEvent struct {
	SchemaVersion int       `json:"schema_version"`
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EmittedAt     time.Time `json:"emitted_at"`

	// SessionID is empty for cross-session cleanup.
	SessionID string `json:"session_id,omitempty"`

	// MemoryID is the stored memory or the new summary.
	MemoryID   string `json:"memory_id,omitempty"`
	MemoryType string `json:"memory_type,omitempty"`
	TokenCount int    `json:"token_count,omitempty"`

	// RelatedIDs lists compressed or deleted memories.
	RelatedIDs []string `json:"related_ids,omitempty"`

	CompressionRatio float64 `json:"compression_ratio,omitempty"`
}

// NewMemoryEvent returns an event of eventType with a fresh id.
func NewMemoryEvent(eventType, sessionID string, at time.Time) *MemoryEvent {
	return &MemoryEvent{
		SchemaVersion: SchemaVersionV1,
		EventType:     eventType,
		EventID:       "evt_" + uuid.NewString(),
		EmittedAt:     at.UTC(),
		SessionID:     sessionID,
	}
}
