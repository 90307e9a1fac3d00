package compression_test

import (
	"context"
	"errors"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/recall/pkg/compression"
	"github.com/papercomputeco/recall/pkg/llm"
	"github.com/papercomputeco/recall/pkg/logger"
	"github.com/papercomputeco/recall/pkg/memory"
	testutils "github.com/papercomputeco/recall/pkg/utils/test"
)

var _ = Describe("Enrichment", func() {
	var (
		ctx       context.Context
		now       time.Time
		completer *testutils.MockCompleter
		s         *compression.Summarizer
		m         *memory.Memory
	)

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
		completer = &testutils.MockCompleter{}
		s = compression.New(compression.Config{
			Completer: completer,
			Logger:    logger.Nop(),
			Now:       func() time.Time { return now },
		})
		m = testutils.NewTestMemory("session_1", memory.TypeConversation, "we chose postgres for the billing service", 0.5, now.Add(-time.Hour))
	})

	Describe("EnhanceMemoryRelevance", func() {
		It("blends the model score with the stored score", func() {
			completer.Response = " 0.9\n"
			Expect(s.EnhanceMemoryRelevance(ctx, m, "database choice")).To(BeNumerically("~", 0.7*0.9+0.3*0.5, 1e-9))

			req := completer.Requests()[0]
			Expect(req.MaxTokens).To(Equal(10))
			Expect(req.Temperature).To(Equal(0.1))
			Expect(req.Prompt).To(ContainSubstring("Current context: database choice"))
		})

		It("clamps out of range model scores", func() {
			completer.Response = "1.7"
			Expect(s.EnhanceMemoryRelevance(ctx, m, "database choice")).To(BeNumerically("~", 0.7+0.15, 1e-9))
		})

		It("keeps the stored score when the answer is not a number", func() {
			completer.Response = "very relevant"
			Expect(s.EnhanceMemoryRelevance(ctx, m, "database choice")).To(Equal(0.5))
		})

		It("keeps the stored score when the provider fails", func() {
			completer.Err = llm.ErrUnavailable
			Expect(s.EnhanceMemoryRelevance(ctx, m, "database choice")).To(Equal(0.5))
		})

		It("skips the provider without a query context", func() {
			Expect(s.EnhanceMemoryRelevance(ctx, m, "  ")).To(Equal(0.5))
			Expect(completer.Requests()).To(BeEmpty())
		})
	})

	Describe("GenerateContextualTags", func() {
		It("returns at most five cleaned tags", func() {
			completer.Response = "Postgres, Billing , x, databases, architecture, decisions, extra"
			Expect(s.GenerateContextualTags(ctx, m)).To(Equal([]string{"postgres", "billing", "databases", "architecture", "decisions"}))
		})

		It("returns an empty slice on failure", func() {
			completer.Err = errors.New("boom")
			tags := s.GenerateContextualTags(ctx, m)
			Expect(tags).NotTo(BeNil())
			Expect(tags).To(BeEmpty())
		})

		It("truncates long content in the prompt", func() {
			m.Content = strings.Repeat("a", 1000)
			s.GenerateContextualTags(ctx, m)
			Expect(completer.Requests()[0].Prompt).NotTo(ContainSubstring(strings.Repeat("a", 301)))
		})
	})

	Describe("ParseTags", func() {
		It("drops tags that are too short or too long", func() {
			Expect(compression.ParseTags("a, go, " + strings.Repeat("z", 30))).To(Equal([]string{"go"}))
		})
	})

	Describe("SmartMemoryMerge", func() {
		It("needs at least two memories", func() {
			merged, err := s.SmartMemoryMerge(ctx, []*memory.Memory{m})
			Expect(err).NotTo(HaveOccurred())
			Expect(merged).To(BeNil())
			Expect(completer.Requests()).To(BeEmpty())
		})

		It("builds an unpersisted summary of the inputs", func() {
			other := testutils.NewTestMemory("session_1", memory.TypeConversation, "postgres was picked for billing because of transactions", 0.7, now.Add(-30*time.Minute))
			completer.Response = "Postgres chosen for billing."

			merged, err := s.SmartMemoryMerge(ctx, []*memory.Memory{m, other})
			Expect(err).NotTo(HaveOccurred())
			Expect(merged.ID).To(HavePrefix(memory.PrefixMerged + "_"))
			Expect(merged.Type).To(Equal(memory.TypeSummary))
			Expect(merged.SessionID).To(Equal("session_1"))
			Expect(merged.RelevanceScore).To(Equal(0.7))
			Expect(memory.StringSlice(merged.Metadata, memory.MetaMergedIDs)).To(Equal([]string{m.ID, other.ID}))
			Expect(merged.Metadata).To(HaveKeyWithValue(memory.MetaMergeType, "similarity"))

			req := completer.Requests()[0]
			Expect(req.MaxTokens).To(Equal(1000))
			Expect(req.Prompt).To(ContainSubstring("[11:00] we chose postgres"))
			Expect(req.Prompt).To(HaveSuffix("Merged memory:"))
		})

		It("reports provider failures", func() {
			other := testutils.NewTestMemory("session_1", memory.TypeConversation, "more", 0.7, now)
			completer.Err = llm.ErrUnavailable

			_, err := s.SmartMemoryMerge(ctx, []*memory.Memory{m, other})
			Expect(errors.Is(err, compression.ErrSummaryUnavailable)).To(BeTrue())
		})
	})
})

var _ = Describe("BuildSummaryPrompt", func() {
	It("targets thirty percent of the input words", func() {
		prompt := compression.BuildSummaryPrompt("[10:00] a b c d e f g h i", compression.SummaryConversation, "", 1)
		Expect(prompt).To(ContainSubstring("- Aim for 3 words or fewer"))
		Expect(prompt).NotTo(ContainSubstring("Additional context"))
	})

	It("uses the focus list of the summary type", func() {
		prompt := compression.BuildSummaryPrompt("[10:00] ran tool", compression.SummaryToolUsage, "ctx", 1)
		Expect(prompt).To(ContainSubstring("Please create a concise summary of the following tool_usage content."))
		Expect(prompt).To(ContainSubstring("Focus on:\n- Tools used and their purposes\n"))
		Expect(prompt).To(ContainSubstring("\nAdditional context: ctx\n"))
		Expect(prompt).NotTo(ContainSubstring("Main topics discussed"))
	})

	It("lists the context focus for context summaries", func() {
		prompt := compression.BuildSummaryPrompt("[10:00] background", compression.SummaryContext, "", 1)
		Expect(prompt).To(ContainSubstring("- Referenced documents, links, or external information\n"))
	})
})
