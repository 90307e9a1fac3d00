package testutils

import (
	"context"
	"strings"
	"time"

	"github.com/papercomputeco/recall/pkg/memory"
)

// NewTestMemory builds a memory whose token count is the approximate count
// of content.
func NewTestMemory(sessionID string, t memory.Type, content string, relevance float64, ts time.Time) *memory.Memory {
	return memory.New(sessionID, t, content, relevance, len(content)/4, ts, nil)
}

// TokenText returns text that the approximate counter measures as n tokens.
func TokenText(word string, n int) string {
	s := strings.Repeat(word+" ", n*4)
	return s[:n*4]
}

// MemoryPutter is the subset of storage.Driver used by SeedSession.
type MemoryPutter interface {
	CreateSession(ctx context.Context, s *memory.Session) error
	PutMemory(ctx context.Context, m *memory.Memory) error
}

// SeedSession creates a session holding memories. It panics on failure so
// callers can use it inside BeforeEach blocks.
func SeedSession(ctx context.Context, store MemoryPutter, memories ...*memory.Memory) *memory.Session {
	s := memory.NewSession("seeded")
	if len(memories) > 0 && memories[0].SessionID != "" {
		s.ID = memories[0].SessionID
	}
	if err := store.CreateSession(ctx, s); err != nil {
		panic(err)
	}
	for _, m := range memories {
		m.SessionID = s.ID
		if err := store.PutMemory(ctx, m); err != nil {
			panic(err)
		}
	}
	return s
}
