package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/papercomputeco/recall/pkg/memory"
)

// CheckCompression compresses the session when its memories exceed the
// compressor's threshold. It runs on the worker pool.
func (m *Manager) CheckCompression(ctx context.Context, sessionID string) []*memory.Memory {
	stats, err := m.store.SessionStats(ctx, sessionID)
	if err != nil {
		m.logger.Warn("compression check failed", "session_id", sessionID, "error", err)
		return nil
	}
	if stats.TotalTokens <= m.compressor.Threshold() {
		return nil
	}

	m.logger.Info("session needs compression", "session_id", sessionID, "tokens", stats.TotalTokens)
	return m.compressor.AdaptiveCompression(ctx, sessionID)
}

// Compress runs adaptive compression for a session immediately.
func (m *Manager) Compress(ctx context.Context, sessionID string) []*memory.Memory {
	return m.compressor.AdaptiveCompression(ctx, sessionID)
}

// RecomputeRelevanceScores applies the daily decay to the session's
// memories older than a day.
func (m *Manager) RecomputeRelevanceScores(ctx context.Context, sessionID string) (int64, error) {
	n, err := m.store.ScaleRelevanceWhere(ctx, sessionID, m.now().Add(-24*time.Hour), memory.DailyDecay)
	if err != nil {
		return 0, fmt.Errorf("failed to decay relevance for session %s: %w", sessionID, err)
	}
	m.logger.Debug("decayed relevance scores", "session_id", sessionID, "memories", n)
	return n, nil
}

// RecomputeAllRelevanceScores applies the daily decay across every session.
func (m *Manager) RecomputeAllRelevanceScores(ctx context.Context) (int64, error) {
	return m.RecomputeRelevanceScores(ctx, "")
}

// CleanupOldMemories deletes memories older than days with relevance below
// memory.RetentionRelevanceFloor, and their embeddings.
func (m *Manager) CleanupOldMemories(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		days = DefaultCleanupDays
	}
	cutoff := m.now().Add(-time.Duration(days) * 24 * time.Hour)

	ids, err := m.store.DeleteWhere(ctx, cutoff, memory.RetentionRelevanceFloor)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up memories: %w", err)
	}
	if err := m.retriever.Forget(ctx, ids); err != nil {
		m.logger.Warn("removing cleaned up embeddings failed", "error", err)
	}

	m.publishDeleted(ctx, "", ids)
	m.logger.Info("cleaned up old memories", "deleted", len(ids), "days", days)
	return int64(len(ids)), nil
}

// ReindexEmbeddings embeds up to batch recent memories missing from the
// vector index.
func (m *Manager) ReindexEmbeddings(ctx context.Context, batch int) (int, error) {
	return m.retriever.ReindexEmbeddings(ctx, batch)
}
