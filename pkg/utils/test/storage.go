package testutils

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/recall/pkg/memory"
	"github.com/papercomputeco/recall/pkg/storage"
)

// DescribeStorageDriver registers the behaviour every storage.Driver must
// satisfy. newDriver is called before each spec.
func DescribeStorageDriver(name string, newDriver func() storage.Driver) bool {
	return Describe(name+" storage driver", func() {
		var (
			ctx    context.Context
			driver storage.Driver
			sess   *memory.Session
			now    time.Time
		)

		BeforeEach(func() {
			ctx = context.Background()
			driver = newDriver()
			now = time.Now().UTC().Truncate(time.Millisecond)
			sess = memory.NewSession("")
			Expect(driver.CreateSession(ctx, sess)).To(Succeed())
		})

		AfterEach(func() {
			if driver != nil {
				driver.Close()
			}
		})

		put := func(t memory.Type, content string, relevance float64, age time.Duration) *memory.Memory {
			m := NewTestMemory(sess.ID, t, content, relevance, now.Add(-age))
			Expect(driver.PutMemory(ctx, m)).To(Succeed())
			return m
		}

		Describe("PutMemory and GetMemory", func() {
			It("round trips a memory", func() {
				m := put(memory.TypeConversation, "hello world", 0.9, time.Minute)
				m.Metadata["role"] = "user"
				Expect(driver.PutMemory(ctx, m)).To(Succeed())

				got, err := driver.GetMemory(ctx, m.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(got.Content).To(Equal("hello world"))
				Expect(got.Type).To(Equal(memory.TypeConversation))
				Expect(got.RelevanceScore).To(BeNumerically("~", 0.9, 1e-9))
				Expect(got.Timestamp.Equal(m.Timestamp)).To(BeTrue())
				Expect(got.Metadata).To(HaveKeyWithValue("role", "user"))
			})

			It("clamps relevance on write", func() {
				m := NewTestMemory(sess.ID, memory.TypeContext, "x", 0.5, now)
				m.RelevanceScore = 4
				Expect(driver.PutMemory(ctx, m)).To(Succeed())
				got, err := driver.GetMemory(ctx, m.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(got.RelevanceScore).To(Equal(1.0))
			})

			It("keeps content immutable on re-put", func() {
				m := put(memory.TypeConversation, "original", 0.5, 0)
				changed := *m
				changed.Content = "rewritten"
				Expect(driver.PutMemory(ctx, &changed)).To(Succeed())
				got, err := driver.GetMemory(ctx, m.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(got.Content).To(Equal("original"))
			})

			It("returns ErrNotFound for unknown ids", func() {
				_, err := driver.GetMemory(ctx, "missing")
				var nf storage.ErrNotFound
				Expect(errors.As(err, &nf)).To(BeTrue())
			})
		})

		Describe("GetMemories", func() {
			It("filters and orders", func() {
				old := put(memory.TypeConversation, "old", 0.5, 3*time.Hour)
				mid := put(memory.TypeSummary, "mid", 0.8, 2*time.Hour)
				recent := put(memory.TypeConversation, "recent", 0.2, time.Hour)

				got, err := driver.GetMemories(ctx, storage.Filter{SessionID: sess.ID, Order: storage.OrderOldest})
				Expect(err).NotTo(HaveOccurred())
				Expect(IDs(got)).To(Equal([]string{old.ID, mid.ID, recent.ID}))

				got, err = driver.GetMemories(ctx, storage.Filter{SessionID: sess.ID, Limit: 2})
				Expect(err).NotTo(HaveOccurred())
				Expect(IDs(got)).To(Equal([]string{recent.ID, mid.ID}))

				got, err = driver.GetMemories(ctx, storage.Filter{
					SessionID:    sess.ID,
					ExcludeTypes: []memory.Type{memory.TypeSummary},
					Before:       now.Add(-90 * time.Minute),
				}.WithRelevanceAbove(0.3))
				Expect(err).NotTo(HaveOccurred())
				Expect(IDs(got)).To(Equal([]string{old.ID}))

				got, err = driver.GetMemories(ctx, storage.Filter{IDs: []string{recent.ID, "nope"}})
				Expect(err).NotTo(HaveOccurred())
				Expect(IDs(got)).To(Equal([]string{recent.ID}))
			})
		})

		Describe("SearchContent", func() {
			It("matches substrings case-insensitively ordered by relevance", func() {
				low := put(memory.TypeConversation, "A Python script", 0.4, time.Minute)
				high := put(memory.TypeConversation, "python error today", 0.9, 2*time.Minute)
				put(memory.TypeConversation, "nothing relevant", 1.0, time.Minute)

				got, err := driver.SearchContent(ctx, []string{"PYTHON"}, storage.Filter{SessionID: sess.ID})
				Expect(err).NotTo(HaveOccurred())
				Expect(IDs(got)).To(Equal([]string{high.ID, low.ID}))
			})

			It("treats LIKE metacharacters literally", func() {
				put(memory.TypeConversation, "progress is 50% done", 0.5, 0)
				put(memory.TypeConversation, "progress is 50 done", 0.5, 0)

				got, err := driver.SearchContent(ctx, []string{"50%"}, storage.Filter{})
				Expect(err).NotTo(HaveOccurred())
				Expect(got).To(HaveLen(1))
			})

			It("returns nothing for empty terms", func() {
				put(memory.TypeConversation, "anything", 0.5, 0)
				got, err := driver.SearchContent(ctx, []string{" ", ""}, storage.Filter{})
				Expect(err).NotTo(HaveOccurred())
				Expect(got).To(BeEmpty())
			})
		})

		Describe("relevance mutation", func() {
			It("scales a single memory", func() {
				m := put(memory.TypeConversation, "a", 0.5, 0)
				Expect(driver.ScaleRelevance(ctx, m.ID, memory.CompressionDecay)).To(Succeed())
				got, _ := driver.GetMemory(ctx, m.ID)
				Expect(got.RelevanceScore).To(BeNumerically("~", 0.1, 1e-9))
			})

			It("clamps server-side scaling", func() {
				m := put(memory.TypeConversation, "a", 0.8, 0)
				Expect(driver.ScaleRelevance(ctx, m.ID, 3)).To(Succeed())
				got, _ := driver.GetMemory(ctx, m.ID)
				Expect(got.RelevanceScore).To(Equal(1.0))
			})

			It("scales memories older than a cutoff", func() {
				old := put(memory.TypeConversation, "old", 1.0, 48*time.Hour)
				fresh := put(memory.TypeConversation, "fresh", 1.0, time.Hour)

				n, err := driver.ScaleRelevanceWhere(ctx, sess.ID, now.Add(-24*time.Hour), memory.DailyDecay)
				Expect(err).NotTo(HaveOccurred())
				Expect(n).To(BeEquivalentTo(1))

				got, _ := driver.GetMemory(ctx, old.ID)
				Expect(got.RelevanceScore).To(BeNumerically("~", 0.95, 1e-9))
				got, _ = driver.GetMemory(ctx, fresh.ID)
				Expect(got.RelevanceScore).To(Equal(1.0))
			})

			It("sets relevance", func() {
				m := put(memory.TypeConversation, "a", 0.5, 0)
				Expect(driver.SetRelevance(ctx, m.ID, 0.25)).To(Succeed())
				got, _ := driver.GetMemory(ctx, m.ID)
				Expect(got.RelevanceScore).To(BeNumerically("~", 0.25, 1e-9))
			})

			It("reports unknown ids", func() {
				Expect(driver.ScaleRelevance(ctx, "missing", 0.5)).NotTo(Succeed())
			})
		})

		Describe("MergeMetadata", func() {
			It("merges keys into existing metadata", func() {
				m := NewTestMemory(sess.ID, memory.TypeConversation, "a", 0.5, now)
				m.Metadata["role"] = "user"
				Expect(driver.PutMemory(ctx, m)).To(Succeed())

				Expect(driver.MergeMetadata(ctx, m.ID, map[string]any{memory.MetaCompressed: true})).To(Succeed())
				got, _ := driver.GetMemory(ctx, m.ID)
				Expect(got.Metadata).To(HaveKeyWithValue("role", "user"))
				Expect(got.IsCompressed()).To(BeTrue())
			})
		})

		Describe("DeleteWhere", func() {
			It("removes iff older and less relevant", func() {
				doomed := put(memory.TypeConversation, "doomed", 0.1, 40*24*time.Hour)
				put(memory.TypeConversation, "relevant", 0.9, 40*24*time.Hour)
				put(memory.TypeConversation, "recent", 0.1, time.Hour)

				deleted, err := driver.DeleteWhere(ctx, now.Add(-30*24*time.Hour), memory.RetentionRelevanceFloor)
				Expect(err).NotTo(HaveOccurred())
				Expect(deleted).To(ConsistOf(doomed.ID))

				n, err := driver.CountMemories(ctx, storage.Filter{SessionID: sess.ID})
				Expect(err).NotTo(HaveOccurred())
				Expect(n).To(Equal(2))
			})
		})

		Describe("SessionStats", func() {
			It("summarizes a session", func() {
				put(memory.TypeConversation, TokenText("a", 10), 0.4, 2*time.Hour)
				put(memory.TypeSummary, TokenText("b", 20), 0.8, time.Hour)

				stats, err := driver.SessionStats(ctx, sess.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(stats.TotalMemories).To(Equal(2))
				Expect(stats.TotalTokens).To(Equal(30))
				Expect(stats.SummaryCount).To(Equal(1))
				Expect(stats.AvgRelevance).To(BeNumerically("~", 0.6, 1e-9))
				Expect(stats.Span()).To(Equal(time.Hour))
			})

			It("is empty for a session without memories", func() {
				stats, err := driver.SessionStats(ctx, sess.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(stats.TotalMemories).To(BeZero())
				Expect(stats.Oldest.IsZero()).To(BeTrue())
			})
		})

		Describe("sessions", func() {
			It("stores messages in order", func() {
				first := memory.NewMessage(memory.RoleUser, "hi")
				second := memory.NewMessage(memory.RoleAssistant, "hello")
				second.Timestamp = first.Timestamp.Add(time.Second)
				Expect(driver.PutMessage(ctx, sess.ID, second)).To(Succeed())
				Expect(driver.PutMessage(ctx, sess.ID, first)).To(Succeed())

				got, err := driver.GetSession(ctx, sess.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(got.Title).To(Equal(memory.DefaultSessionTitle))
				Expect(got.Messages).To(HaveLen(2))
				Expect(got.Messages[0].Content).To(Equal("hi"))
				Expect(got.Messages[1].Role).To(Equal(memory.RoleAssistant))
			})

			It("updates titles and lists by update time", func() {
				other := memory.NewSession("other")
				other.UpdatedAt = now.Add(time.Hour)
				Expect(driver.CreateSession(ctx, other)).To(Succeed())

				sess.Title = "renamed"
				sess.UpdatedAt = now.Add(2 * time.Hour)
				Expect(driver.UpdateSession(ctx, sess)).To(Succeed())

				list, err := driver.ListSessions(ctx, 10)
				Expect(err).NotTo(HaveOccurred())
				Expect(list).To(HaveLen(2))
				Expect(list[0].Title).To(Equal("renamed"))

				active, err := driver.CountActiveSessions(ctx, now.Add(90*time.Minute))
				Expect(err).NotTo(HaveOccurred())
				Expect(active).To(Equal(1))
			})

			It("cascades deletes", func() {
				put(memory.TypeConversation, "a", 0.5, 0)
				Expect(driver.PutMessage(ctx, sess.ID, memory.NewMessage(memory.RoleUser, "a"))).To(Succeed())

				Expect(driver.DeleteSession(ctx, sess.ID)).To(Succeed())
				_, err := driver.GetSession(ctx, sess.ID)
				Expect(err).To(HaveOccurred())
				n, err := driver.CountMemories(ctx, storage.Filter{SessionID: sess.ID})
				Expect(err).NotTo(HaveOccurred())
				Expect(n).To(BeZero())
			})

			It("rejects messages for unknown sessions", func() {
				Expect(driver.PutMessage(ctx, "missing", memory.NewMessage(memory.RoleUser, "a"))).NotTo(Succeed())
			})
		})

		Describe("metrics", func() {
			It("returns metrics recorded since a time", func() {
				Expect(driver.PutMetric(ctx, &memory.Metric{Name: memory.MetricCompressionRatio, Value: 3, Timestamp: now.Add(-48 * time.Hour)})).To(Succeed())
				Expect(driver.PutMetric(ctx, &memory.Metric{Name: memory.MetricCompressionRatio, Value: 4, Timestamp: now})).To(Succeed())
				Expect(driver.PutMetric(ctx, &memory.Metric{Name: memory.MetricResponseTime, Value: 12, Timestamp: now})).To(Succeed())

				got, err := driver.GetMetrics(ctx, memory.MetricCompressionRatio, now.Add(-24*time.Hour))
				Expect(err).NotTo(HaveOccurred())
				Expect(got).To(HaveLen(1))
				Expect(got[0].Value).To(Equal(4.0))
			})
		})

		Describe("Reset", func() {
			It("removes everything", func() {
				put(memory.TypeConversation, "a", 0.5, 0)
				Expect(driver.Reset(ctx)).To(Succeed())
				list, err := driver.ListSessions(ctx, 0)
				Expect(err).NotTo(HaveOccurred())
				Expect(list).To(BeEmpty())
				n, err := driver.CountMemories(ctx, storage.Filter{})
				Expect(err).NotTo(HaveOccurred())
				Expect(n).To(BeZero())
			})
		})
	})
}

// IDs returns the ids of ms in order.
func IDs(ms []*memory.Memory) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.ID)
	}
	return out
}
