package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/papercomputeco/recall/pkg/memory"
	"github.com/papercomputeco/recall/pkg/storage"
)

// Metrics summarizes engine activity over the last day.
type Metrics struct {
	CompressionRatio  float64 `json:"compression_ratio"`
	ResponseLatencyMs float64 `json:"response_latency_ms"`
	MemoryGrowthRate  int     `json:"memory_growth_rate"`
	TotalMemories     int     `json:"total_memories"`
	ActiveSessions    int     `json:"active_sessions"`
}

// RecordMetric stores a named measurement.
func (m *Manager) RecordMetric(ctx context.Context, name string, value float64, metadata map[string]any) error {
	if metadata == nil {
		metadata = map[string]any{}
	}
	err := m.store.PutMetric(ctx, &memory.Metric{
		Name:      name,
		Value:     value,
		Timestamp: m.now().UTC(),
		Metadata:  metadata,
	})
	if err != nil {
		return fmt.Errorf("failed to record metric %s: %w", name, err)
	}
	return nil
}

// PerformanceMetrics computes the engine metrics for the last 24 hours.
func (m *Manager) PerformanceMetrics(ctx context.Context) (*Metrics, error) {
	since := m.now().Add(-24 * time.Hour)

	ratio, err := m.averageMetric(ctx, memory.MetricCompressionRatio, since, 1.0)
	if err != nil {
		return nil, err
	}
	latency, err := m.averageMetric(ctx, memory.MetricResponseTime, since, 0)
	if err != nil {
		return nil, err
	}

	total := 0
	if m.vector != nil {
		if n, err := m.vector.Count(ctx); err == nil {
			total = n
		} else {
			m.logger.Warn("counting vector documents failed", "error", err)
		}
	}
	if total == 0 {
		if total, err = m.store.CountMemories(ctx, storage.Filter{}); err != nil {
			return nil, fmt.Errorf("failed to count memories: %w", err)
		}
	}

	active, err := m.store.CountActiveSessions(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count active sessions: %w", err)
	}
	growth, err := m.store.CountMemories(ctx, storage.Filter{After: since})
	if err != nil {
		return nil, fmt.Errorf("failed to count new memories: %w", err)
	}

	return &Metrics{
		CompressionRatio:  ratio,
		ResponseLatencyMs: latency,
		MemoryGrowthRate:  growth,
		TotalMemories:     total,
		ActiveSessions:    active,
	}, nil
}

func (m *Manager) averageMetric(ctx context.Context, name string, since time.Time, fallback float64) (float64, error) {
	ms, err := m.store.GetMetrics(ctx, name, since)
	if err != nil {
		return 0, fmt.Errorf("failed to load %s metrics: %w", name, err)
	}
	if len(ms) == 0 {
		return fallback, nil
	}
	sum := 0.0
	for _, metric := range ms {
		sum += metric.Value
	}
	return sum / float64(len(ms)), nil
}

// Reset clears every table, the vector index and the embedding caches.
func (m *Manager) Reset(ctx context.Context) error {
	m.logger.Warn("resetting memory system")

	if err := m.store.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset store: %w", err)
	}
	if m.vector != nil {
		if err := m.vector.Reset(ctx); err != nil {
			return fmt.Errorf("failed to reset vector index: %w", err)
		}
	}
	for _, c := range m.caches {
		c.Clear()
	}
	return nil
}
