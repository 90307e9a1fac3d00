package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/papercomputeco/recall/pkg/memory"
	"github.com/papercomputeco/recall/pkg/storage"
)

// Enricher runs the model-assisted memory helpers. The default summarizer
// implements it.
type Enricher interface {
	EnhanceMemoryRelevance(ctx context.Context, m *memory.Memory, queryContext string) float64
	GenerateContextualTags(ctx context.Context, m *memory.Memory) []string
	SmartMemoryMerge(ctx context.Context, memories []*memory.Memory) (*memory.Memory, error)
}

var (
	// ErrNoEnricher is returned by the enrichment operations when the
	// manager's compressor cannot enrich memories.
	ErrNoEnricher = errors.New("memory enrichment is not available")

	// ErrNothingToMerge is returned by MergeSimilar when a memory has no
	// neighbours in its session.
	ErrNothingToMerge = errors.New("no similar memories to merge")
)

// TagMemory asks the model for tags describing a memory and stores them
// under the tags metadata key. An empty answer leaves the memory as is.
func (m *Manager) TagMemory(ctx context.Context, id string) ([]string, error) {
	if m.enricher == nil {
		return nil, ErrNoEnricher
	}
	mem, err := m.store.GetMemory(ctx, id)
	if err != nil {
		return nil, err
	}

	tags := m.enricher.GenerateContextualTags(ctx, mem)
	if len(tags) == 0 {
		return tags, nil
	}
	if err := m.store.MergeMetadata(ctx, id, map[string]any{memory.MetaTags: tags}); err != nil {
		return nil, fmt.Errorf("failed to tag memory %s: %w", id, err)
	}

	m.logger.Debug("tagged memory", "memory_id", id, "tags", tags)
	return tags, nil
}

// RescoreMemories blends the model's judgement of how relevant each of the
// session's newest memories is to query into their stored relevance. It
// returns how many scores changed.
func (m *Manager) RescoreMemories(ctx context.Context, sessionID, query string, limit int) (int, error) {
	if m.enricher == nil {
		return 0, ErrNoEnricher
	}
	if limit <= 0 {
		limit = m.retrievalLimit
	}

	recent, err := m.store.GetMemories(ctx, storage.Filter{
		SessionID: sessionID,
		Order:     storage.OrderNewest,
		Limit:     limit,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to load memories to rescore: %w", err)
	}

	changed := 0
	for _, mem := range recent {
		score := m.enricher.EnhanceMemoryRelevance(ctx, mem, query)
		if score == mem.RelevanceScore {
			continue
		}
		if err := m.store.SetRelevance(ctx, mem.ID, score); err != nil {
			return changed, fmt.Errorf("failed to rescore memory %s: %w", mem.ID, err)
		}
		changed++
	}
	return changed, nil
}

// MergeSimilar consolidates a memory and up to limit of its nearest
// neighbours into one summary memory. The originals are kept but decayed
// and flagged as compressed, the same as after a compression pass.
func (m *Manager) MergeSimilar(ctx context.Context, id string, limit int) (*memory.Memory, error) {
	if m.enricher == nil {
		return nil, ErrNoEnricher
	}
	mem, err := m.store.GetMemory(ctx, id)
	if err != nil {
		return nil, err
	}

	similar, err := m.retriever.SimilarMemories(ctx, mem, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find similar memories: %w", err)
	}
	if len(similar) == 0 {
		return nil, ErrNothingToMerge
	}

	group := append([]*memory.Memory{mem}, similar...)
	merged, err := m.enricher.SmartMemoryMerge(ctx, group)
	if err != nil {
		return nil, err
	}
	if err := m.store.PutMemory(ctx, merged); err != nil {
		return nil, fmt.Errorf("failed to store merged memory: %w", err)
	}
	m.retriever.Index(ctx, merged)
	m.publishStored(ctx, merged)

	patch := map[string]any{
		memory.MetaCompressed:      true,
		memory.MetaCompressionTime: m.now().UTC().Format(time.RFC3339),
	}
	for _, orig := range group {
		if err := m.store.ScaleRelevance(ctx, orig.ID, memory.CompressionDecay); err != nil {
			m.logger.Warn("decaying merged memory failed", "memory_id", orig.ID, "error", err)
			continue
		}
		if err := m.store.MergeMetadata(ctx, orig.ID, patch); err != nil {
			m.logger.Warn("flagging merged memory failed", "memory_id", orig.ID, "error", err)
		}
	}

	m.logger.Info("merged similar memories", "memory_id", merged.ID, "merged", len(group))
	return merged, nil
}
