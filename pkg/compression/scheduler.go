package compression

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/papercomputeco/recall/pkg/eventstream"
	"github.com/papercomputeco/recall/pkg/llm"
	"github.com/papercomputeco/recall/pkg/memory"
	"github.com/papercomputeco/recall/pkg/storage"
)

func eligible(sessionID string, cutoff time.Time) storage.Filter {
	return storage.Filter{
		SessionID:    sessionID,
		ExcludeTypes: []memory.Type{memory.TypeSummary},
		Before:       cutoff,
		Order:        storage.OrderOldest,
	}.WithRelevanceAbove(MinRelevance)
}

// FindCompressibleMemories returns the session's non-summary memories older
// than cutoff with relevance above MinRelevance, oldest first.
func (s *Summarizer) FindCompressibleMemories(ctx context.Context, sessionID string, cutoff time.Time) ([]*memory.Memory, error) {
	ms, err := s.store.GetMemories(ctx, eligible(sessionID, cutoff))
	if err != nil {
		return nil, fmt.Errorf("finding compressible memories: %w", err)
	}
	return ms, nil
}

// CompressBatch summarizes up to MaxBatchSize of the oldest memories
// eligible before cutoff. It returns (nil, nil) when fewer than
// MinBatchSize are eligible.
func (s *Summarizer) CompressBatch(ctx context.Context, sessionID string, cutoff time.Time) (*memory.Memory, error) {
	candidates, err := s.FindCompressibleMemories(ctx, sessionID, cutoff)
	if err != nil {
		return nil, err
	}
	if len(candidates) < MinBatchSize {
		s.logger.Debug("not enough memories to compress",
			"session_id", sessionID,
			"eligible", len(candidates),
		)
		return nil, nil
	}
	if len(candidates) > MaxBatchSize {
		candidates = candidates[:MaxBatchSize]
	}

	batch, content, lineTokens := s.assemble(candidates)
	if len(batch) == 0 {
		return nil, nil
	}

	prompt := BuildSummaryPrompt(content, summaryTypeFor(batch), "Conversation history from session "+sessionID, len(batch))
	text, err := s.completer.Complete(ctx, llm.Request{
		System:      summarySystemPrompt,
		Prompt:      prompt,
		MaxTokens:   max(1, min(MaxSummaryTokens, lineTokens/2)),
		Temperature: summaryTemperature,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSummaryUnavailable, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty completion", ErrSummaryUnavailable)
	}

	originalTokens := memory.TotalTokens(batch)
	summaryTokens := s.counter.Count(text)
	ratio := 1.0
	if summaryTokens > 0 {
		ratio = float64(originalTokens) / float64(summaryTokens)
	}

	now := s.now().UTC()
	ids := make([]string, len(batch))
	for i, m := range batch {
		ids[i] = m.ID
	}

	summary := memory.New(sessionID, memory.TypeSummary, text, memory.DefaultSummaryRelevance, summaryTokens, now, map[string]any{
		memory.MetaCompressedIDs:    ids,
		memory.MetaOriginalTokens:   originalTokens,
		memory.MetaCompressionRatio: ratio,
		memory.MetaCompressionTime:  now.Format(time.RFC3339),
		memory.MetaMemoryCount:      len(batch),
		memory.MetaTimeRange: map[string]any{
			"start": batch[0].Timestamp.UTC().Format(time.RFC3339),
			"end":   batch[len(batch)-1].Timestamp.UTC().Format(time.RFC3339),
		},
	})
	summary.CompressionRatio = ratio

	if err := s.store.PutMemory(ctx, summary); err != nil {
		return nil, fmt.Errorf("storing summary: %w", err)
	}
	if s.indexer != nil {
		s.indexer.Index(ctx, summary)
	}

	s.markCompressed(ctx, batch, now)

	s.recordRatio(ctx, sessionID, ratio, len(batch), originalTokens, summaryTokens, now)
	s.publish(ctx, summary, ids)

	s.logger.Info("compressed memories",
		"session_id", sessionID,
		"summary_id", summary.ID,
		"memories", len(batch),
		"original_tokens", originalTokens,
		"summary_tokens", summaryTokens,
		"ratio", ratio,
	)
	return summary, nil
}

// assemble renders the batch as timestamped lines, stopping before the
// line that would push the total past MaxInputTokens. The returned batch
// holds exactly the memories whose lines were included.
func (s *Summarizer) assemble(candidates []*memory.Memory) ([]*memory.Memory, string, int) {
	var (
		lines []string
		total int
	)
	for _, m := range candidates {
		line := timestampedLine(m)
		n := s.counter.Count(line)
		if total+n > MaxInputTokens {
			break
		}
		lines = append(lines, line)
		total += n
	}
	return candidates[:len(lines)], strings.Join(lines, "\n"), total
}

// markCompressed decays and tags each original. Failures are logged and the
// remaining memories are still processed.
func (s *Summarizer) markCompressed(ctx context.Context, batch []*memory.Memory, at time.Time) {
	patch := map[string]any{
		memory.MetaCompressed:      true,
		memory.MetaCompressionTime: at.Format(time.RFC3339),
	}
	for _, m := range batch {
		if err := s.store.ScaleRelevance(ctx, m.ID, memory.CompressionDecay); err != nil {
			s.logger.Warn("decaying compressed memory failed", "memory_id", m.ID, "error", err)
			continue
		}
		if err := s.store.MergeMetadata(ctx, m.ID, patch); err != nil {
			s.logger.Warn("tagging compressed memory failed", "memory_id", m.ID, "error", err)
		}
	}
}

func (s *Summarizer) recordRatio(ctx context.Context, sessionID string, ratio float64, count, originalTokens, summaryTokens int, at time.Time) {
	err := s.store.PutMetric(ctx, &memory.Metric{
		Name:      memory.MetricCompressionRatio,
		Value:     ratio,
		Timestamp: at,
		Metadata: map[string]any{
			"session_id":          sessionID,
			"memories_compressed": count,
			"original_tokens":     originalTokens,
			"summary_tokens":      summaryTokens,
		},
	})
	if err != nil {
		s.logger.Warn("recording compression metric failed", "session_id", sessionID, "error", err)
	}
}

func (s *Summarizer) publish(ctx context.Context, summary *memory.Memory, ids []string) {
	event := eventstream.NewMemoryEvent(eventstream.EventTypeMemoryCompressed, summary.SessionID, summary.Timestamp)
	event.MemoryID = summary.ID
	event.MemoryType = string(summary.Type)
	event.TokenCount = summary.TokenCount
	event.RelatedIDs = ids
	event.CompressionRatio = summary.CompressionRatio
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("publishing compression event failed", "summary_id", summary.ID, "error", err)
	}
}

// CompressionPoints derives candidate cutoffs from the span between the
// oldest and newest memory.
func CompressionPoints(stats memory.Stats, now time.Time) []time.Time {
	if stats.Oldest.IsZero() {
		return nil
	}

	span := stats.Span()
	switch {
	case span < time.Hour:
		return []time.Time{now.Add(-30 * time.Minute)}
	case span < 24*time.Hour:
		return []time.Time{now.Add(-4 * time.Hour), now.Add(-time.Hour)}
	}

	daysBack := min(7, int(span/(24*time.Hour))+1)
	points := make([]time.Time, 0, daysBack-1)
	for d := 1; d < daysBack; d++ {
		points = append(points, now.Add(-time.Duration(d)*24*time.Hour))
	}
	return points
}

// AdaptiveCompression compresses the session when its token mass exceeds
// the threshold and returns the summaries created. Concurrent calls for
// the same session share one pass.
func (s *Summarizer) AdaptiveCompression(ctx context.Context, sessionID string) []*memory.Memory {
	v, _, shared := s.inflight.Do(sessionID, func() (any, error) {
		lease := s.lease(sessionID)
		if !lease.TryLock() {
			s.logger.Debug("compression already running", "session_id", sessionID)
			return []*memory.Memory(nil), nil
		}
		defer lease.Unlock()
		return s.compressSession(ctx, sessionID), nil
	})
	if shared {
		s.logger.Debug("joined in-flight compression", "session_id", sessionID)
	}
	summaries, _ := v.([]*memory.Memory)
	return summaries
}

func (s *Summarizer) lease(sessionID string) *sync.Mutex {
	mu, _ := s.leases.LoadOrStore(sessionID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (s *Summarizer) compressSession(ctx context.Context, sessionID string) []*memory.Memory {
	stats, err := s.store.SessionStats(ctx, sessionID)
	if err != nil {
		s.logger.Warn("loading session stats failed", "session_id", sessionID, "error", err)
		return nil
	}

	threshold := s.Threshold()
	if stats.TotalTokens < threshold {
		s.logger.Debug("session below compression threshold",
			"session_id", sessionID,
			"tokens", stats.TotalTokens,
			"threshold", threshold,
		)
		return nil
	}

	cutoffs := s.validCutoffs(ctx, sessionID, CompressionPoints(stats, s.now().UTC()))
	s.logger.Info("starting adaptive compression",
		"session_id", sessionID,
		"tokens", stats.TotalTokens,
		"memories", stats.TotalMemories,
		"summaries", stats.SummaryCount,
		"cutoffs", len(cutoffs),
	)

	var summaries []*memory.Memory
	for i, cutoff := range cutoffs {
		if i > 0 && !s.pause(ctx) {
			break
		}
		summary, err := s.CompressBatch(ctx, sessionID, cutoff)
		if err != nil {
			s.logger.Warn("compression batch skipped",
				"session_id", sessionID,
				"cutoff", cutoff,
				"error", err,
			)
			continue
		}
		if summary != nil {
			summaries = append(summaries, summary)
		}
	}
	return summaries
}

func (s *Summarizer) validCutoffs(ctx context.Context, sessionID string, points []time.Time) []time.Time {
	valid := make([]time.Time, 0, len(points))
	for _, p := range points {
		n, err := s.store.CountMemories(ctx, eligible(sessionID, p))
		if err != nil {
			s.logger.Warn("counting compressible memories failed", "session_id", sessionID, "error", err)
			continue
		}
		if n >= MinBatchSize {
			valid = append(valid, p)
		}
	}
	return valid
}

// pause waits for the batch delay and reports whether ctx is still live.
func (s *Summarizer) pause(ctx context.Context) bool {
	if s.batchDelay <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(s.batchDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
