package compression

import (
	"fmt"
	"strings"

	"github.com/papercomputeco/recall/pkg/memory"
)

const summarySystemPrompt = "You are an expert at creating concise, informative summaries that preserve key context and information."

// SummaryType selects the focus list of a summarization prompt.
type SummaryType string

const (
	SummaryConversation SummaryType = "conversation"
	SummaryToolUsage    SummaryType = "tool_usage"
	SummaryContext      SummaryType = "context"
)

var focusLists = map[SummaryType][]string{
	SummaryConversation: {
		"Main topics discussed",
		"Decisions made or conclusions reached",
		"Questions asked and answers provided",
		"Any action items or follow-ups mentioned",
	},
	SummaryToolUsage: {
		"Tools used and their purposes",
		"Input parameters and outputs",
		"Success/failure status",
		"Any patterns or insights from tool usage",
	},
	SummaryContext: {
		"Background information provided",
		"Context that might be relevant for future conversations",
		"Referenced documents, links, or external information",
	},
}

// summaryTypeFor picks the prompt flavour for a batch. Mixed batches are
// summarized as conversation.
func summaryTypeFor(batch []*memory.Memory) SummaryType {
	if len(batch) == 0 {
		return SummaryConversation
	}
	first := batch[0].Type
	for _, m := range batch[1:] {
		if m.Type != first {
			return SummaryConversation
		}
	}
	switch first {
	case memory.TypeToolOutput:
		return SummaryToolUsage
	case memory.TypeContext:
		return SummaryContext
	default:
		return SummaryConversation
	}
}

// BuildSummaryPrompt renders the summarization prompt for content made of
// count timestamped lines.
func BuildSummaryPrompt(content string, t SummaryType, context string, count int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Please create a concise summary of the following %s content. \n", t)
	b.WriteString("The summary should preserve key information, important details, and maintain context for future reference.\n\n")
	fmt.Fprintf(&b, "Content to summarize (%d items):\n%s\n\n", count, content)
	b.WriteString("Requirements:\n")
	b.WriteString("- Maintain chronological flow when relevant\n")
	b.WriteString("- Preserve important facts, decisions, and outcomes\n")
	b.WriteString("- Include key topics and themes discussed\n")
	b.WriteString("- Keep the summary factual and objective\n")
	fmt.Fprintf(&b, "- Aim for %d words or fewer\n\n", int(float64(len(strings.Fields(content)))*0.3))

	if context != "" {
		fmt.Fprintf(&b, "\nAdditional context: %s\n", context)
	}

	if focus, ok := focusLists[t]; ok {
		b.WriteString("\nFocus on:\n")
		for _, f := range focus {
			b.WriteString("- " + f + "\n")
		}
	}

	b.WriteString("\nSummary:")
	return b.String()
}

const relevanceSystemPrompt = "You are an expert at evaluating information relevance. Respond with only a decimal number."

func relevancePrompt(m *memory.Memory, queryContext string) string {
	return fmt.Sprintf(`Rate the relevance of this memory to the current context on a scale of 0.0 to 1.0.

Memory content: %s
Current context: %s

Consider:
- Topical relevance
- Temporal relevance (memory timestamp: %s)
- Information value for current context

Return only a number between 0.0 and 1.0.`, truncateRunes(m.Content, 500), queryContext, m.Timestamp.Format("2006-01-02T15:04:05"))
}

const tagsSystemPrompt = "You are an expert at content analysis and tagging. Generate relevant, concise tags."

func tagsPrompt(m *memory.Memory) string {
	return fmt.Sprintf(`Generate 3-5 relevant tags for this memory content. Tags should be single words or short phrases that capture key concepts, topics, or themes.

Memory content: %s

Return tags as a comma-separated list (e.g., "python, programming, debugging, error-handling")`, truncateRunes(m.Content, 300))
}

const mergeSystemPrompt = "You are an expert at merging and consolidating information while preserving key details."

func mergePrompt(memories []*memory.Memory) string {
	lines := make([]string, 0, len(memories))
	for _, m := range memories {
		lines = append(lines, timestampedLine(m))
	}
	return fmt.Sprintf(`Merge these similar memory items into a single, comprehensive memory that preserves all important information while eliminating redundancy.

Memory items to merge:
%s

Requirements:
- Preserve all unique information
- Eliminate redundancy
- Maintain temporal context where relevant
- Keep the merged content concise but complete

Merged memory:`, strings.Join(lines, "\n"))
}

// timestampedLine renders m as "[HH:MM] content".
func timestampedLine(m *memory.Memory) string {
	return fmt.Sprintf("[%s] %s", m.Timestamp.Format("15:04"), m.Content)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
