package manager_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/recall/pkg/compression"
	"github.com/papercomputeco/recall/pkg/eventstream"
	"github.com/papercomputeco/recall/pkg/logger"
	"github.com/papercomputeco/recall/pkg/manager"
	"github.com/papercomputeco/recall/pkg/memory"
	"github.com/papercomputeco/recall/pkg/retriever"
	"github.com/papercomputeco/recall/pkg/storage"
	"github.com/papercomputeco/recall/pkg/storage/inmemory"
	testutils "github.com/papercomputeco/recall/pkg/utils/test"
	"github.com/papercomputeco/recall/pkg/vector"
)

type countingCache struct{ cleared int }

func (c *countingCache) Clear() { c.cleared++ }

// noEnrich compresses nothing and cannot enrich.
type noEnrich struct{}

func (noEnrich) AdaptiveCompression(context.Context, string) []*memory.Memory { return nil }
func (noEnrich) Threshold() int                                               { return 0 }

// unreadableIndex is a retriever store whose reads always fail.
type unreadableIndex struct{}

func (unreadableIndex) GetMemories(context.Context, storage.Filter) ([]*memory.Memory, error) {
	return nil, errors.New("index unavailable")
}

func (unreadableIndex) SearchContent(context.Context, []string, storage.Filter) ([]*memory.Memory, error) {
	return nil, errors.New("index unavailable")
}

var _ = Describe("Manager", func() {
	var (
		ctx       context.Context
		now       time.Time
		store     *inmemory.Driver
		vec       *testutils.MockVectorDriver
		embedder  *testutils.MockEmbedder
		completer *testutils.MockCompleter
		events    *testutils.RecordingPublisher
		cache     *countingCache
		mgr       *manager.Manager
		session   *memory.Session
	)

	clock := func() time.Time { return now }

	put := func(t memory.Type, content string, relevance float64, age time.Duration) *memory.Memory {
		m := testutils.NewTestMemory(session.ID, t, content, relevance, now.Add(-age))
		Expect(store.PutMemory(ctx, m)).To(Succeed())
		return m
	}

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

		var err error
		store, err = inmemory.NewDriver()
		Expect(err).NotTo(HaveOccurred())
		vec = testutils.NewMockVectorDriver()
		embedder = testutils.NewMockEmbedder()
		completer = &testutils.MockCompleter{Response: "Short summary of earlier notes."}
		events = &testutils.RecordingPublisher{}
		cache = &countingCache{}

		r := retriever.New(retriever.Config{
			Store:    store,
			Vector:   vec,
			Embedder: embedder,
			Logger:   logger.Nop(),
			Now:      clock,
		})
		summarizer := compression.New(compression.Config{
			Store:      store,
			Completer:  completer,
			Indexer:    r,
			Events:     events,
			Logger:     logger.Nop(),
			Threshold:  200,
			BatchDelay: -1,
			Now:        clock,
		})
		mgr, err = manager.New(manager.Config{
			Store:      store,
			Retriever:  r,
			Vector:     vec,
			Compressor: summarizer,
			Events:     events,
			Caches:     []manager.Clearer{cache},
			Workers:    1,
			Logger:     logger.Nop(),
			Now:        clock,
		})
		Expect(err).NotTo(HaveOccurred())

		session, err = mgr.CreateSession(ctx, "")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		mgr.Close()
	})

	It("requires a store", func() {
		_, err := manager.New(manager.Config{})
		Expect(err).To(HaveOccurred())
	})

	Describe("sessions", func() {
		It("creates sessions with the default title", func() {
			Expect(session.Title).To(Equal(memory.DefaultSessionTitle))
			Expect(session.CreatedAt).To(Equal(now))
		})

		It("renames a session", func() {
			now = now.Add(time.Minute)
			updated, err := mgr.UpdateSessionTitle(ctx, session.ID, "Billing migration")
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Title).To(Equal("Billing migration"))

			got, err := mgr.GetSession(ctx, session.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Title).To(Equal("Billing migration"))
			Expect(got.UpdatedAt).To(Equal(now))
		})

		It("returns not found for unknown sessions", func() {
			_, err := mgr.UpdateSessionTitle(ctx, "session_missing", "x")
			var nf storage.ErrNotFound
			Expect(errors.As(err, &nf)).To(BeTrue())
		})

		It("deletes a session with its memories and embeddings", func() {
			Expect(mgr.SaveMessage(ctx, session.ID, memory.NewMessage(memory.RoleUser, "hello there"))).To(BeTrue())
			stored, err := mgr.StoreMemory(ctx, session.ID, "user prefers dark mode", memory.TypeContext, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(vec.Has(stored.ID)).To(BeTrue())

			Expect(mgr.DeleteSession(ctx, session.ID)).To(Succeed())

			_, err = mgr.GetSession(ctx, session.ID)
			Expect(err).To(HaveOccurred())
			Expect(store.CountMemories(ctx, storage.Filter{})).To(Equal(0))
			Expect(vec.Count(ctx)).To(Equal(0))

			deleted := events.Events(eventstream.EventTypeMemoryDeleted)
			Expect(deleted).To(HaveLen(1))
			Expect(deleted[0].RelatedIDs).To(HaveLen(2))
		})

		It("lists sessions", func() {
			_, err := mgr.CreateSession(ctx, "second")
			Expect(err).NotTo(HaveOccurred())
			sessions, err := mgr.ListSessions(ctx, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(sessions).To(HaveLen(2))
		})
	})

	Describe("SaveMessage", func() {
		It("stores the message and a conversation memory", func() {
			msg := memory.NewMessage(memory.RoleUser, "How do I rotate the API keys?")
			msg.Timestamp = now.Add(-time.Minute)
			Expect(mgr.SaveMessage(ctx, session.ID, msg)).To(BeTrue())

			got, err := mgr.GetSession(ctx, session.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Messages).To(HaveLen(1))

			ms, err := store.GetMemories(ctx, storage.Filter{SessionID: session.ID})
			Expect(err).NotTo(HaveOccurred())
			Expect(ms).To(HaveLen(1))
			m := ms[0]
			Expect(m.Type).To(Equal(memory.TypeConversation))
			Expect(m.RelevanceScore).To(Equal(1.0))
			Expect(m.Timestamp).To(Equal(msg.Timestamp))
			Expect(m.TokenCount).To(Equal(len(msg.Content) / 4))
			Expect(m.Metadata).To(HaveKeyWithValue(memory.MetaMessageID, msg.ID))
			Expect(m.Metadata).To(HaveKeyWithValue(memory.MetaRole, "user"))
			Expect(m.Metadata).To(HaveKeyWithValue(memory.MetaOriginalMessage, true))
			Expect(vec.Has(m.ID)).To(BeTrue())

			Expect(events.Events(eventstream.EventTypeMemoryStored)).To(HaveLen(1))
		})

		It("touches the session", func() {
			now = now.Add(time.Hour)
			Expect(mgr.SaveMessage(ctx, session.ID, memory.NewMessage(memory.RoleAssistant, "done"))).To(BeTrue())

			got, err := mgr.GetSession(ctx, session.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.UpdatedAt).To(Equal(now))
		})

		It("still succeeds when embedding fails", func() {
			embedder.FailAll = true
			Expect(mgr.SaveMessage(ctx, session.ID, memory.NewMessage(memory.RoleUser, "no vectors today"))).To(BeTrue())
			Expect(vec.Count(ctx)).To(Equal(0))
			Expect(store.CountMemories(ctx, storage.Filter{SessionID: session.ID})).To(Equal(1))
		})

		It("reports failure for an unknown session", func() {
			Expect(mgr.SaveMessage(ctx, "session_missing", memory.NewMessage(memory.RoleUser, "hi"))).To(BeFalse())
			Expect(store.CountMemories(ctx, storage.Filter{})).To(Equal(0))
		})

		It("compresses in the background once the session is over threshold", func() {
			for i := range 6 {
				put(memory.TypeConversation, testutils.TokenText("note", 50), 0.9, time.Hour+time.Duration(i+1)*time.Minute)
			}
			msg := memory.NewMessage(memory.RoleUser, "what did we decide?")
			msg.Timestamp = now
			Expect(mgr.SaveMessage(ctx, session.ID, msg)).To(BeTrue())

			mgr.Close()

			summaries, err := store.GetMemories(ctx, storage.Filter{SessionID: session.ID, Types: []memory.Type{memory.TypeSummary}})
			Expect(err).NotTo(HaveOccurred())
			Expect(summaries).To(HaveLen(1))
			Expect(summaries[0].CompressedIDs()).To(HaveLen(6))
		})
	})

	Describe("StoreMemory", func() {
		It("stores with the default relevance and indexes the embedding", func() {
			m, err := mgr.StoreMemory(ctx, session.ID, "calculator returned 42", memory.TypeToolOutput, map[string]any{"tool": "calculator"})
			Expect(err).NotTo(HaveOccurred())
			Expect(m.RelevanceScore).To(Equal(memory.DefaultStoredRelevance))
			Expect(m.Timestamp).To(Equal(now))

			got, err := store.GetMemory(ctx, m.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Metadata).To(HaveKeyWithValue("tool", "calculator"))
			Expect(vec.Has(m.ID)).To(BeTrue())
		})
	})

	Describe("SearchMemories", func() {
		It("keeps keyword hits above the threshold and highly relevant memories", func() {
			hit := put(memory.TypeConversation, "the deploy pipeline is green", 0.8, time.Minute)
			faded := put(memory.TypeConversation, "the deploy pipeline was red", 0.5, 2*time.Minute)
			unrelated := put(memory.TypeConversation, "lunch options nearby", 0.8, 3*time.Minute)
			pinned := put(memory.TypeContext, "user is on the platform team", 0.95, 4*time.Minute)

			found, err := mgr.SearchMemories(ctx, "Deploy status", manager.SearchOptions{SessionID: session.ID})
			Expect(err).NotTo(HaveOccurred())
			Expect(testutils.IDs(found)).To(Equal([]string{pinned.ID, hit.ID}))
			Expect(testutils.IDs(found)).NotTo(ContainElements(faded.ID, unrelated.ID))
		})

		It("honours an explicit threshold and limit", func() {
			put(memory.TypeConversation, "deploy one", 0.5, time.Minute)
			put(memory.TypeConversation, "deploy two", 0.6, 2*time.Minute)
			put(memory.TypeConversation, "deploy three", 0.7, 3*time.Minute)

			found, err := mgr.SearchMemories(ctx, "deploy", manager.SearchOptions{
				SessionID:          session.ID,
				RelevanceThreshold: 0.4,
				Limit:              2,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(HaveLen(2))
			Expect(found[0].Content).To(Equal("deploy three"))
		})

		It("keeps every relevance with a negative threshold", func() {
			low := put(memory.TypeConversation, "deploy notes", 0.1, time.Minute)

			found, err := mgr.SearchMemories(ctx, "deploy", manager.SearchOptions{
				SessionID:          session.ID,
				RelevanceThreshold: -1,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(testutils.IDs(found)).To(Equal([]string{low.ID}))
		})
	})

	Describe("GetRecentContext", func() {
		It("keeps the newest memories within budget in chronological order", func() {
			oldest := put(memory.TypeConversation, testutils.TokenText("a", 40), 1, 3*time.Minute)
			middle := put(memory.TypeConversation, testutils.TokenText("b", 40), 1, 2*time.Minute)
			newest := put(memory.TypeConversation, testutils.TokenText("c", 40), 1, time.Minute)

			selected, total := mgr.GetRecentContext(ctx, session.ID, 100)
			Expect(testutils.IDs(selected)).To(Equal([]string{middle.ID, newest.ID}))
			Expect(total).To(Equal(80))
			Expect(testutils.IDs(selected)).NotTo(ContainElement(oldest.ID))
		})
	})

	Describe("BuildContext", func() {
		It("puts keyword hits first and fills with recent memories", func() {
			hit := put(memory.TypeConversation, "kafka brokers were upgraded", 0.8, time.Hour)
			recent := put(memory.TypeConversation, "thanks!", 1, time.Minute)

			text, ms := mgr.BuildContext(ctx, session.ID, "kafka", 1000)
			Expect(testutils.IDs(ms)).To(Equal([]string{hit.ID, recent.ID}))
			Expect(text).To(Equal("[CONVERSATION] kafka brokers were upgraded\n\n[CONVERSATION] thanks!"))
		})

		It("does not exceed the budget with recent memories", func() {
			put(memory.TypeConversation, testutils.TokenText("x", 30), 0.5, time.Minute)

			_, ms := mgr.BuildContext(ctx, session.ID, "nothing", 40)
			Expect(ms).To(BeEmpty())
		})
	})

	Describe("RetrieveContext", func() {
		It("delegates to the hybrid retriever", func() {
			m := put(memory.TypeConversation, "remember the staging password rotation", 1, time.Minute)

			ms, text := mgr.RetrieveContext(ctx, "staging password", session.ID, 0)
			Expect(testutils.IDs(ms)).To(ContainElement(m.ID))
			Expect(text).To(ContainSubstring("[CONVERSATION] remember the staging password rotation"))
		})

		It("falls back to keyword context when the retriever cannot read", func() {
			hit := put(memory.TypeConversation, "kafka brokers were upgraded", 0.8, time.Hour)
			recent := put(memory.TypeConversation, "thanks!", 1, time.Minute)

			degraded, err := manager.New(manager.Config{
				Store: store,
				Retriever: retriever.New(retriever.Config{
					Store:  unreadableIndex{},
					Vector: vec,
					Logger: logger.Nop(),
					Now:    clock,
				}),
				Logger: logger.Nop(),
				Now:    clock,
			})
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(degraded.Close)

			ms, text := degraded.RetrieveContext(ctx, "kafka", session.ID, 1000)
			wantText, want := mgr.BuildContext(ctx, session.ID, "kafka", 1000)
			Expect(testutils.IDs(ms)).To(Equal([]string{hit.ID, recent.ID}))
			Expect(testutils.IDs(ms)).To(Equal(testutils.IDs(want)))
			Expect(text).To(Equal(wantText))
		})
	})

	Describe("CheckCompression", func() {
		It("does nothing at or below the threshold", func() {
			for i := range 5 {
				put(memory.TypeConversation, testutils.TokenText("n", 40), 0.9, time.Hour+time.Duration(i)*time.Minute)
			}
			Expect(mgr.CheckCompression(ctx, session.ID)).To(BeEmpty())
			Expect(completer.Requests()).To(BeEmpty())
		})

		It("compresses above the threshold", func() {
			for i := range 6 {
				put(memory.TypeConversation, testutils.TokenText("n", 40), 0.9, time.Hour+time.Duration(i)*time.Minute)
			}
			Expect(mgr.CheckCompression(ctx, session.ID)).To(HaveLen(1))
		})
	})

	Describe("RecomputeRelevanceScores", func() {
		It("decays memories older than a day", func() {
			old := put(memory.TypeConversation, "old", 1, 48*time.Hour)
			fresh := put(memory.TypeConversation, "fresh", 1, time.Hour)

			n, err := mgr.RecomputeRelevanceScores(ctx, session.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(1)))

			got, _ := store.GetMemory(ctx, old.ID)
			Expect(got.RelevanceScore).To(BeNumerically("~", 0.95, 1e-9))
			got, _ = store.GetMemory(ctx, fresh.ID)
			Expect(got.RelevanceScore).To(Equal(1.0))
		})

		It("decays every session at once", func() {
			other, err := mgr.CreateSession(ctx, "other")
			Expect(err).NotTo(HaveOccurred())
			put(memory.TypeConversation, "old", 1, 48*time.Hour)
			m := testutils.NewTestMemory(other.ID, memory.TypeConversation, "also old", 1, now.Add(-72*time.Hour))
			Expect(store.PutMemory(ctx, m)).To(Succeed())

			n, err := mgr.RecomputeAllRelevanceScores(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(2)))
		})
	})

	Describe("CleanupOldMemories", func() {
		It("deletes only old low relevance memories", func() {
			doomed := put(memory.TypeConversation, "ancient and faded", 0.1, 40*24*time.Hour)
			keptRelevant := put(memory.TypeConversation, "ancient but relevant", 0.5, 40*24*time.Hour)
			keptRecent := put(memory.TypeConversation, "recent and faded", 0.1, 24*time.Hour)
			Expect(mgr.ReindexEmbeddings(ctx, 10)).To(Equal(3))

			n, err := mgr.CleanupOldMemories(ctx, 30)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(1)))

			_, err = store.GetMemory(ctx, doomed.ID)
			Expect(err).To(HaveOccurred())
			Expect(vec.Has(doomed.ID)).To(BeFalse())
			Expect(vec.Has(keptRelevant.ID)).To(BeTrue())
			Expect(store.GetMemory(ctx, keptRecent.ID)).NotTo(BeNil())

			deleted := events.Events(eventstream.EventTypeMemoryDeleted)
			Expect(deleted).To(HaveLen(1))
			Expect(deleted[0].RelatedIDs).To(Equal([]string{doomed.ID}))
		})
	})

	Describe("PerformanceMetrics", func() {
		It("reports defaults for a quiet system", func() {
			metrics, err := mgr.PerformanceMetrics(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(metrics.CompressionRatio).To(Equal(1.0))
			Expect(metrics.ResponseLatencyMs).To(Equal(0.0))
			Expect(metrics.TotalMemories).To(Equal(0))
			Expect(metrics.ActiveSessions).To(Equal(1))
		})

		It("averages recorded metrics and counts memories", func() {
			Expect(mgr.RecordMetric(ctx, memory.MetricCompressionRatio, 3, nil)).To(Succeed())
			Expect(mgr.RecordMetric(ctx, memory.MetricCompressionRatio, 5, nil)).To(Succeed())
			Expect(mgr.RecordMetric(ctx, memory.MetricResponseTime, 120, map[string]any{"route": "context"})).To(Succeed())
			put(memory.TypeConversation, "yesterday", 1, 2*time.Hour)
			put(memory.TypeConversation, "last week", 1, 7*24*time.Hour)

			metrics, err := mgr.PerformanceMetrics(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(metrics.CompressionRatio).To(Equal(4.0))
			Expect(metrics.ResponseLatencyMs).To(Equal(120.0))
			Expect(metrics.TotalMemories).To(Equal(2))
			Expect(metrics.MemoryGrowthRate).To(Equal(1))
		})

		It("prefers the vector index count", func() {
			_, err := mgr.StoreMemory(ctx, session.ID, "indexed", memory.TypeContext, nil)
			Expect(err).NotTo(HaveOccurred())
			put(memory.TypeConversation, "not indexed", 1, time.Hour)

			metrics, err := mgr.PerformanceMetrics(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(metrics.TotalMemories).To(Equal(1))
		})
	})

	Describe("Reset", func() {
		It("clears the store, the index and the caches", func() {
			_, err := mgr.StoreMemory(ctx, session.ID, "something", memory.TypeContext, nil)
			Expect(err).NotTo(HaveOccurred())

			Expect(mgr.Reset(ctx)).To(Succeed())

			Expect(store.CountMemories(ctx, storage.Filter{})).To(Equal(0))
			Expect(vec.Count(ctx)).To(Equal(0))
			Expect(cache.cleared).To(Equal(1))
			sessions, err := mgr.ListSessions(ctx, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(sessions).To(BeEmpty())
		})
	})

	Describe("enrichment", func() {
		index := func(mem *memory.Memory, emb ...float32) {
			Expect(vec.Add(ctx, []vector.Document{{
				ID: mem.ID, SessionID: mem.SessionID, MemoryType: string(mem.Type),
				Timestamp: mem.Timestamp, Embedding: emb,
			}})).To(Succeed())
		}

		It("stores generated tags in the memory metadata", func() {
			m := put(memory.TypeContext, "we chose postgres for billing", 0.8, time.Minute)
			completer.Response = "Postgres, billing, x"

			tags, err := mgr.TagMemory(ctx, m.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(tags).To(Equal([]string{"postgres", "billing"}))

			got, err := store.GetMemory(ctx, m.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Metadata).To(HaveKeyWithValue(memory.MetaTags, ConsistOf("postgres", "billing")))
		})

		It("leaves metadata alone when the model is unavailable", func() {
			m := put(memory.TypeContext, "untagged", 0.8, time.Minute)
			completer.Err = errors.New("offline")

			tags, err := mgr.TagMemory(ctx, m.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(tags).To(BeEmpty())

			got, _ := store.GetMemory(ctx, m.ID)
			Expect(got.Metadata).NotTo(HaveKey(memory.MetaTags))
		})

		It("blends model relevance into the newest memories", func() {
			m := put(memory.TypeConversation, "deploy notes", 0.5, time.Minute)
			completer.Response = "0.9"

			n, err := mgr.RescoreMemories(ctx, session.ID, "deploy", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))

			got, _ := store.GetMemory(ctx, m.ID)
			Expect(got.RelevanceScore).To(BeNumerically("~", 0.7*0.9+0.3*0.5, 1e-9))
		})

		It("merges a memory with its neighbours and decays the originals", func() {
			a := put(memory.TypeConversation, "postgres is the billing database", 1, 2*time.Minute)
			b := put(memory.TypeConversation, "billing runs on postgres 16", 0.6, time.Minute)
			index(a, 1, 0, 0, 0)
			index(b, 0.9, 0.1, 0, 0)
			completer.Response = "Billing uses postgres 16."

			merged, err := mgr.MergeSimilar(ctx, a.ID, 3)
			Expect(err).NotTo(HaveOccurred())
			Expect(merged.Type).To(Equal(memory.TypeSummary))
			Expect(merged.RelevanceScore).To(Equal(1.0))
			Expect(merged.Metadata[memory.MetaMergedIDs]).To(ConsistOf(a.ID, b.ID))

			stored, err := store.GetMemory(ctx, merged.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Content).To(Equal("Billing uses postgres 16."))

			orig, _ := store.GetMemory(ctx, b.ID)
			Expect(orig.RelevanceScore).To(BeNumerically("~", 0.6*memory.CompressionDecay, 1e-9))
			Expect(orig.Metadata).To(HaveKeyWithValue(memory.MetaCompressed, true))
			Expect(events.Events(eventstream.EventTypeMemoryStored)).NotTo(BeEmpty())
		})

		It("refuses to merge a memory without neighbours", func() {
			a := put(memory.TypeConversation, "alone", 1, time.Minute)
			index(a, 1, 0, 0, 0)

			_, err := mgr.MergeSimilar(ctx, a.ID, 3)
			Expect(err).To(MatchError(manager.ErrNothingToMerge))
		})

		It("reports a missing enricher", func() {
			plain, err := manager.New(manager.Config{
				Store:      store,
				Compressor: noEnrich{},
				Logger:     logger.Nop(),
			})
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(plain.Close)

			_, err = plain.TagMemory(ctx, "memory_x")
			Expect(err).To(MatchError(manager.ErrNoEnricher))
		})
	})
})
