// Package storage defines the relational persistence layer for sessions,
// messages, memories and metrics.
//
// Drivers must apply relevance mutations as single server-side statements so
// that concurrent decay passes and reads never lose updates. Every write
// clamps relevance to [0, 1].
package storage

import (
	"context"
	"time"

	"github.com/papercomputeco/recall/pkg/memory"
)

// Order selects the timestamp ordering of GetMemories.
type Order int

const (
	// OrderNewest returns the most recent memories first.
	OrderNewest Order = iota

	// OrderOldest returns the oldest memories first.
	OrderOldest

	// OrderRelevance orders by relevance, then timestamp, both descending.
	OrderRelevance
)

// Filter narrows memory queries. Zero values disable a criterion.
type Filter struct {
	SessionID string
	IDs       []string

	// Types keeps only memories of these types.
	Types []memory.Type

	// ExcludeTypes drops memories of these types.
	ExcludeTypes []memory.Type

	// Before keeps memories with timestamp strictly before it.
	Before time.Time

	// After keeps memories with timestamp at or after it.
	After time.Time

	// RelevanceAbove keeps memories with relevance strictly above it. It is
	// applied only when HasRelevanceAbove is set.
	RelevanceAbove    float64
	HasRelevanceAbove bool

	Order Order
	Limit int
}

// WithRelevanceAbove returns a copy of f that keeps relevance > r.
func (f Filter) WithRelevanceAbove(r float64) Filter {
	f.RelevanceAbove = r
	f.HasRelevanceAbove = true
	return f
}

// MemoryStore persists memories.
type MemoryStore interface {
	// PutMemory inserts or replaces a memory.
	PutMemory(ctx context.Context, m *memory.Memory) error

	// GetMemory returns a memory by id or ErrNotFound.
	GetMemory(ctx context.Context, id string) (*memory.Memory, error)

	// GetMemories returns the memories matching f.
	GetMemories(ctx context.Context, f Filter) ([]*memory.Memory, error)

	// SearchContent returns memories whose lower-cased content contains any
	// of terms, ordered by relevance then timestamp, both descending.
	SearchContent(ctx context.Context, terms []string, f Filter) ([]*memory.Memory, error)

	// CountMemories returns how many memories match f.
	CountMemories(ctx context.Context, f Filter) (int, error)

	// ScaleRelevance multiplies a memory's relevance by factor in place.
	ScaleRelevance(ctx context.Context, id string, factor float64) error

	// ScaleRelevanceWhere multiplies the relevance of every memory in the
	// session older than olderThan. An empty sessionID matches all sessions.
	ScaleRelevanceWhere(ctx context.Context, sessionID string, olderThan time.Time, factor float64) (int64, error)

	// SetRelevance overwrites a memory's relevance.
	SetRelevance(ctx context.Context, id string, score float64) error

	// MergeMetadata shallow-merges patch into a memory's metadata.
	MergeMetadata(ctx context.Context, id string, patch map[string]any) error

	// DeleteWhere removes memories older than olderThan with relevance below
	// relevanceBelow and returns their ids.
	DeleteWhere(ctx context.Context, olderThan time.Time, relevanceBelow float64) ([]string, error)

	// DeleteSessionMemories removes every memory of a session and returns
	// their ids.
	DeleteSessionMemories(ctx context.Context, sessionID string) ([]string, error)

	// SessionStats summarizes a session's memories.
	SessionStats(ctx context.Context, sessionID string) (memory.Stats, error)
}

// SessionStore persists sessions and their messages.
type SessionStore interface {
	CreateSession(ctx context.Context, s *memory.Session) error

	// GetSession returns the session with its messages in order.
	GetSession(ctx context.Context, id string) (*memory.Session, error)

	// ListSessions returns sessions by most recent update.
	ListSessions(ctx context.Context, limit int) ([]*memory.Session, error)

	// UpdateSession writes title, metadata and updated_at.
	UpdateSession(ctx context.Context, s *memory.Session) error

	// TouchSession sets updated_at.
	TouchSession(ctx context.Context, id string, at time.Time) error

	// DeleteSession removes a session with its messages and memories.
	DeleteSession(ctx context.Context, id string) error

	// CountActiveSessions counts sessions updated at or after since.
	CountActiveSessions(ctx context.Context, since time.Time) (int, error)

	PutMessage(ctx context.Context, sessionID string, msg *memory.Message) error
	GetMessages(ctx context.Context, sessionID string, limit int) ([]*memory.Message, error)
}

// MetricStore persists engine metrics.
type MetricStore interface {
	PutMetric(ctx context.Context, m *memory.Metric) error

	// GetMetrics returns the named metrics recorded at or after since.
	GetMetrics(ctx context.Context, name string, since time.Time) ([]*memory.Metric, error)
}

// Driver is the full persistence backend.
type Driver interface {
	MemoryStore
	SessionStore
	MetricStore

	// Reset removes every record.
	Reset(ctx context.Context) error

	// Close closes the store and releases any resources.
	Close() error
}
