package compression

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/papercomputeco/recall/pkg/llm"
	"github.com/papercomputeco/recall/pkg/memory"
)

const (
	aiRelevanceWeight       = 0.7
	originalRelevanceWeight = 0.3

	maxTags = 5
)

// EnhanceMemoryRelevance asks the model how relevant m is to queryContext
// and blends the answer with the stored score. Any failure returns the
// stored score unchanged.
func (s *Summarizer) EnhanceMemoryRelevance(ctx context.Context, m *memory.Memory, queryContext string) float64 {
	if strings.TrimSpace(queryContext) == "" {
		return m.RelevanceScore
	}

	resp, err := s.completer.Complete(ctx, llm.Request{
		System:      relevanceSystemPrompt,
		Prompt:      relevancePrompt(m, queryContext),
		MaxTokens:   10,
		Temperature: 0.1,
	})
	if err != nil {
		s.logger.Debug("relevance enhancement failed", "memory_id", m.ID, "error", err)
		return m.RelevanceScore
	}

	ai, err := strconv.ParseFloat(strings.TrimSpace(resp), 64)
	if err != nil {
		s.logger.Debug("unparsable relevance score", "memory_id", m.ID, "response", resp)
		return m.RelevanceScore
	}

	return memory.ClampRelevance(aiRelevanceWeight*memory.ClampRelevance(ai) + originalRelevanceWeight*m.RelevanceScore)
}

// GenerateContextualTags asks the model for up to five lower-cased tags.
// Failures yield an empty slice.
func (s *Summarizer) GenerateContextualTags(ctx context.Context, m *memory.Memory) []string {
	resp, err := s.completer.Complete(ctx, llm.Request{
		System:      tagsSystemPrompt,
		Prompt:      tagsPrompt(m),
		MaxTokens:   100,
		Temperature: 0.3,
	})
	if err != nil {
		s.logger.Debug("tag generation failed", "memory_id", m.ID, "error", err)
		return []string{}
	}
	return ParseTags(resp)
}

// ParseTags splits a comma separated list, keeping at most five tags of
// two to 29 characters.
func ParseTags(s string) []string {
	tags := []string{}
	for _, raw := range strings.Split(s, ",") {
		tag := strings.ToLower(strings.TrimSpace(raw))
		if len(tag) <= 1 || len(tag) >= 30 {
			continue
		}
		tags = append(tags, tag)
		if len(tags) == maxTags {
			break
		}
	}
	return tags
}

// SmartMemoryMerge asks the model to consolidate similar memories into one
// summary-type memory. The result is not persisted. Fewer than two inputs
// return (nil, nil).
func (s *Summarizer) SmartMemoryMerge(ctx context.Context, memories []*memory.Memory) (*memory.Memory, error) {
	if len(memories) < 2 {
		return nil, nil
	}

	text, err := s.completer.Complete(ctx, llm.Request{
		System:      mergeSystemPrompt,
		Prompt:      mergePrompt(memories),
		MaxTokens:   1000,
		Temperature: 0.3,
	})
	if err == nil && strings.TrimSpace(text) == "" {
		err = errors.New("empty completion")
	}
	if err != nil {
		return nil, errors.Join(ErrSummaryUnavailable, err)
	}
	text = strings.TrimSpace(text)

	originalTokens := memory.TotalTokens(memories)
	mergedTokens := s.counter.Count(text)
	ratio := 1.0
	if mergedTokens > 0 {
		ratio = float64(originalTokens) / float64(mergedTokens)
	}

	ids := make([]string, len(memories))
	relevance := 0.0
	for i, m := range memories {
		ids[i] = m.ID
		relevance = max(relevance, m.RelevanceScore)
	}

	merged := memory.New(memories[0].SessionID, memory.TypeSummary, text, relevance, mergedTokens, s.now().UTC(), map[string]any{
		memory.MetaMergedIDs:        ids,
		memory.MetaMergeType:        "similarity",
		memory.MetaOriginalTokens:   originalTokens,
		memory.MetaCompressionRatio: ratio,
	})
	merged.ID = memory.NewID(memory.PrefixMerged)
	merged.CompressionRatio = ratio
	return merged, nil
}
