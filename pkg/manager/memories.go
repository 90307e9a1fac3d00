package manager

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/papercomputeco/recall/pkg/eventstream"
	"github.com/papercomputeco/recall/pkg/memory"
	"github.com/papercomputeco/recall/pkg/retriever"
	"github.com/papercomputeco/recall/pkg/storage"
	"github.com/papercomputeco/recall/pkg/worker"
)

// SaveMessage persists msg, derives a conversation memory from it and
// queues a compression check for the session. It reports false when a
// store write fails. Embedding failures are logged and ignored.
func (m *Manager) SaveMessage(ctx context.Context, sessionID string, msg *memory.Message) bool {
	if msg.ID == "" {
		msg.ID = memory.NewID(memory.PrefixMessage)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = m.now().UTC()
	}
	if msg.Metadata == nil {
		msg.Metadata = map[string]any{}
	}

	if err := m.store.PutMessage(ctx, sessionID, msg); err != nil {
		m.logger.Error("failed to save message", "session_id", sessionID, "error", err)
		return false
	}

	mem := memory.New(sessionID, memory.TypeConversation, msg.Content,
		memory.DefaultConversationRelevance, m.counter.Count(msg.Content), msg.Timestamp,
		map[string]any{
			memory.MetaMessageID:       msg.ID,
			memory.MetaRole:            string(msg.Role),
			memory.MetaOriginalMessage: true,
		})
	if err := m.store.PutMemory(ctx, mem); err != nil {
		m.logger.Error("failed to save message memory", "session_id", sessionID, "message_id", msg.ID, "error", err)
		return false
	}
	m.retriever.Index(ctx, mem)
	m.publishStored(ctx, mem)

	if err := m.store.TouchSession(ctx, sessionID, m.now().UTC()); err != nil {
		m.logger.Error("failed to touch session", "session_id", sessionID, "error", err)
		return false
	}

	m.pool.Enqueue(worker.Job{SessionID: sessionID})

	m.logger.Debug("saved message", "session_id", sessionID, "message_id", msg.ID)
	return true
}

// StoreMemory stores content as a memory of type t with the default stored
// relevance.
func (m *Manager) StoreMemory(ctx context.Context, sessionID, content string, t memory.Type, metadata map[string]any) (*memory.Memory, error) {
	mem := memory.New(sessionID, t, content, memory.DefaultStoredRelevance, m.counter.Count(content), m.now().UTC(), metadata)
	if err := m.store.PutMemory(ctx, mem); err != nil {
		return nil, fmt.Errorf("failed to store memory %s: %w", mem.ID, err)
	}
	m.retriever.Index(ctx, mem)
	m.publishStored(ctx, mem)

	m.pool.Enqueue(worker.Job{SessionID: sessionID})

	m.logger.Debug("stored memory", "memory_id", mem.ID, "type", mem.Type)
	return mem, nil
}

func (m *Manager) publishStored(ctx context.Context, mem *memory.Memory) {
	event := eventstream.NewMemoryEvent(eventstream.EventTypeMemoryStored, mem.SessionID, m.now())
	event.MemoryID = mem.ID
	event.MemoryType = string(mem.Type)
	event.TokenCount = mem.TokenCount
	m.publish(ctx, event)
}

// SearchOptions configures SearchMemories. Zero values select the
// manager defaults. A negative RelevanceThreshold keeps every relevance.
type SearchOptions struct {
	SessionID          string
	Types              []memory.Type
	Limit              int
	RelevanceThreshold float64
}

// SearchMemories is the keyword fallback search. It inspects the 2*limit
// most recent memories, keeps those above the relevance threshold that
// contain a query word or are highly relevant, and orders them by
// relevance then recency.
func (m *Manager) SearchMemories(ctx context.Context, query string, o SearchOptions) ([]*memory.Memory, error) {
	if o.Limit <= 0 {
		o.Limit = m.retrievalLimit
	}
	if o.RelevanceThreshold == 0 {
		o.RelevanceThreshold = m.relevanceThreshold
	}

	recent, err := m.store.GetMemories(ctx, storage.Filter{
		SessionID: o.SessionID,
		Types:     o.Types,
		Order:     storage.OrderNewest,
		Limit:     2 * o.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search memories: %w", err)
	}

	keywords := strings.Fields(strings.ToLower(query))
	var out []*memory.Memory
	for _, mem := range recent {
		if mem.RelevanceScore < o.RelevanceThreshold {
			continue
		}
		content := strings.ToLower(mem.Content)
		hit := slices.ContainsFunc(keywords, func(k string) bool { return strings.Contains(content, k) })
		if hit || mem.RelevanceScore > highRelevance {
			out = append(out, mem)
		}
	}

	storage.SortMemories(out, storage.OrderRelevance)
	if len(out) > o.Limit {
		out = out[:o.Limit]
	}
	return out, nil
}

// GetRecentContext returns the newest memories that fit in maxTokens,
// oldest first, with their token sum.
func (m *Manager) GetRecentContext(ctx context.Context, sessionID string, maxTokens int) ([]*memory.Memory, int) {
	recent, err := m.store.GetMemories(ctx, storage.Filter{
		SessionID: sessionID,
		Order:     storage.OrderNewest,
		Limit:     recentContextWindow,
	})
	if err != nil {
		m.logger.Warn("loading recent context failed", "session_id", sessionID, "error", err)
		return nil, 0
	}

	selected := retriever.PackGreedy(recent, maxTokens)
	slices.Reverse(selected)
	return selected, memory.TotalTokens(selected)
}

// BuildContext assembles context from the keyword search first and then
// recent memories while the budget allows. It never calls the embedding
// provider.
func (m *Manager) BuildContext(ctx context.Context, sessionID, query string, maxTokens int) (string, []*memory.Memory) {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	relevant, err := m.SearchMemories(ctx, query, SearchOptions{SessionID: sessionID})
	if err != nil {
		m.logger.Warn("keyword search failed", "session_id", sessionID, "error", err)
	}
	recent, _ := m.GetRecentContext(ctx, sessionID, maxTokens/2)

	seen := make(map[string]struct{}, len(relevant)+len(recent))
	all := make([]*memory.Memory, 0, len(relevant)+len(recent))
	for _, mem := range relevant {
		if _, ok := seen[mem.ID]; ok {
			continue
		}
		seen[mem.ID] = struct{}{}
		all = append(all, mem)
	}

	total := memory.TotalTokens(all)
	for _, mem := range recent {
		if _, ok := seen[mem.ID]; ok || total+mem.TokenCount > maxTokens {
			continue
		}
		seen[mem.ID] = struct{}{}
		all = append(all, mem)
		total += mem.TokenCount
	}

	retriever.SortChronological(all)
	return memory.FormatContext(all), all
}

// RetrieveContext returns the hybrid context for a turn. When the retriever
// cannot read the recent window it falls back to BuildContext, which only
// needs the manager's store.
func (m *Manager) RetrieveContext(ctx context.Context, query, sessionID string, maxTokens int) ([]*memory.Memory, string) {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	ms, text, err := m.retriever.LoadContext(ctx, query, sessionID, maxTokens)
	if err == nil {
		return ms, text
	}

	m.logger.Warn("hybrid context unavailable, using keyword context", "session_id", sessionID, "error", err)
	text, ms = m.BuildContext(ctx, sessionID, query, maxTokens)
	return ms, text
}

// HybridSearch runs the fused semantic and keyword search.
func (m *Manager) HybridSearch(ctx context.Context, query string, o retriever.Options) []retriever.Scored {
	return m.retriever.HybridSearchScored(ctx, query, o)
}

// SimilarMemories returns the nearest neighbours of a stored memory.
func (m *Manager) SimilarMemories(ctx context.Context, memoryID string, limit int) ([]*memory.Memory, error) {
	mem, err := m.store.GetMemory(ctx, memoryID)
	if err != nil {
		return nil, err
	}
	return m.retriever.SimilarMemories(ctx, mem, limit)
}
