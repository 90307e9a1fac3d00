package retriever_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/recall/pkg/lexical"
	"github.com/papercomputeco/recall/pkg/logger"
	"github.com/papercomputeco/recall/pkg/memory"
	"github.com/papercomputeco/recall/pkg/retriever"
	"github.com/papercomputeco/recall/pkg/storage"
	"github.com/papercomputeco/recall/pkg/storage/inmemory"
	testutils "github.com/papercomputeco/recall/pkg/utils/test"
	"github.com/papercomputeco/recall/pkg/vector"
)

// brokenStore fails every read.
type brokenStore struct{ err error }

func (b brokenStore) GetMemories(context.Context, storage.Filter) ([]*memory.Memory, error) {
	return nil, b.err
}

func (b brokenStore) SearchContent(context.Context, []string, storage.Filter) ([]*memory.Memory, error) {
	return nil, b.err
}

var _ = Describe("Retriever", func() {
	var (
		ctx      context.Context
		now      time.Time
		store    *inmemory.Driver
		vec      *testutils.MockVectorDriver
		embedder *testutils.MockEmbedder
		r        *retriever.Retriever
		session  *memory.Session
	)

	// put stores m and indexes it under emb.
	put := func(m *memory.Memory, emb ...float32) *memory.Memory {
		m.SessionID = session.ID
		Expect(store.PutMemory(ctx, m)).To(Succeed())
		if len(emb) > 0 {
			Expect(vec.Add(ctx, []vector.Document{{
				ID: m.ID, SessionID: m.SessionID, MemoryType: string(m.Type),
				Timestamp: m.Timestamp, Embedding: emb,
			}})).To(Succeed())
		}
		return m
	}

	conversation := func(content string, relevance float64, age time.Duration) *memory.Memory {
		return testutils.NewTestMemory(session.ID, memory.TypeConversation, content, relevance, now.Add(-age))
	}

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

		var err error
		store, err = inmemory.NewDriver()
		Expect(err).NotTo(HaveOccurred())
		session = testutils.SeedSession(ctx, store)

		vec = testutils.NewMockVectorDriver()
		embedder = testutils.NewMockEmbedder()
		r = retriever.New(retriever.Config{
			Store:    store,
			Vector:   vec,
			Embedder: embedder,
			Logger:   logger.Nop(),
			Now:      func() time.Time { return now },
		})
	})

	AfterEach(func() {
		store.Close()
	})

	Describe("Embed", func() {
		It("returns nil instead of an error when the provider fails", func() {
			embedder.FailAll = true
			Expect(r.Embed(ctx, "anything")).To(BeNil())
		})
	})

	Describe("LexicalSearch", func() {
		It("scores keyword overlap with relevance and decay (python error)", func() {
			content := "I got a python error today"
			m := put(conversation(content, 1.0, 0))

			results, err := r.LexicalSearch(ctx, "python error", 10, retriever.Filter{SessionID: session.ID})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
			Expect(results[0].Memory.ID).To(Equal(m.ID))

			// Jaccard({python,error}, {i,got,a,python,error,today}) plus the
			// contiguous phrase bonus.
			lex := 2.0/6.0 + lexical.PhraseBonus
			Expect(lexical.Score("python error", content)).To(BeNumerically("~", lex, 1e-9))
			want := 0.6*lex + 0.3*1.0 + 0.1*1.0
			Expect(results[0].Score).To(BeNumerically("~", want, 1e-9))
		})

		It("ignores memories of other sessions and non-matching content", func() {
			put(conversation("unrelated text", 1.0, 0))
			other := testutils.SeedSession(ctx, store, testutils.NewTestMemory("other", memory.TypeConversation, "python error", 1, now))
			Expect(other.ID).To(Equal("other"))

			results, err := r.LexicalSearch(ctx, "python error", 10, retriever.Filter{SessionID: session.ID})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(BeEmpty())
		})

		It("sorts by score and caps at limit", func() {
			for i := range 5 {
				put(conversation(fmt.Sprintf("python note %d", i), 0.2*float64(i+1), 0))
			}
			results, err := r.LexicalSearch(ctx, "python", 3, retriever.Filter{SessionID: session.ID})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(3))
			Expect(results[0].Score).To(BeNumerically(">=", results[1].Score))
			Expect(results[1].Score).To(BeNumerically(">=", results[2].Score))
		})

		It("filters by type", func() {
			put(conversation("python chat", 1, 0))
			tool := testutils.NewTestMemory(session.ID, memory.TypeToolOutput, "python traceback", 1, now)
			put(tool)

			results, err := r.LexicalSearch(ctx, "python", 10, retriever.Filter{
				SessionID: session.ID,
				Types:     []memory.Type{memory.TypeToolOutput},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
			Expect(results[0].Memory.ID).To(Equal(tool.ID))
		})
	})

	Describe("SemanticSearch", func() {
		BeforeEach(func() {
			embedder.Embeddings["query"] = []float32{1, 0, 0, 0}
		})

		It("scores similarity with relevance and decay", func() {
			week := 7 * 24 * time.Hour
			exact := put(conversation("exact", 0.5, week), 1, 0, 0, 0)
			orthogonal := put(conversation("orthogonal", 1.0, 0), 0, 1, 0, 0)

			results, err := r.SemanticSearch(ctx, "query", 10, retriever.Filter{SessionID: session.ID})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(2))

			Expect(results[0].Memory.ID).To(Equal(exact.ID))
			Expect(results[0].Score).To(BeNumerically("~", 0.6*1+0.3*0.5+0.1*0.5, 1e-6))
			Expect(results[1].Memory.ID).To(Equal(orthogonal.ID))
			Expect(results[1].Score).To(BeNumerically("~", 0.6*0+0.3*1+0.1*1, 1e-6))
		})

		It("asks the index for twice the limit", func() {
			for i := range 6 {
				put(conversation(fmt.Sprintf("m%d", i), 1, 0), 1, float32(i), 0, 0)
			}
			results, err := r.SemanticSearch(ctx, "query", 2, retriever.Filter{SessionID: session.ID})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(2))
			Expect(vec.Queries).To(Equal(1))
		})

		It("skips ids missing from the store", func() {
			Expect(vec.Add(ctx, []vector.Document{{ID: "ghost", SessionID: session.ID, Embedding: []float32{1, 0, 0, 0}}})).To(Succeed())
			kept := put(conversation("kept", 1, 0), 1, 0, 0, 0)

			results, err := r.SemanticSearch(ctx, "query", 10, retriever.Filter{SessionID: session.ID})
			Expect(err).NotTo(HaveOccurred())
			Expect(testutils.IDs(memoriesOf(results))).To(Equal([]string{kept.ID}))
		})

		It("fails when the query cannot be embedded", func() {
			embedder.FailOn = "query"
			_, err := r.SemanticSearch(ctx, "query", 10, retriever.Filter{})
			Expect(err).To(MatchError(retriever.ErrEmbeddingUnavailable))
		})
	})

	Describe("HybridSearch", func() {
		It("fuses 0.7 semantic and 0.3 lexical", func() {
			embedder.Embeddings["python error"] = []float32{1, 0, 0, 0}
			both := put(conversation("python error in loop", 1, 0), 1, 0, 0, 0)

			sem, err := r.SemanticSearch(ctx, "python error", 10, retriever.Filter{SessionID: session.ID})
			Expect(err).NotTo(HaveOccurred())
			lex, err := r.LexicalSearch(ctx, "python error", 10, retriever.Filter{SessionID: session.ID})
			Expect(err).NotTo(HaveOccurred())

			results := r.HybridSearchScored(ctx, "python error", retriever.Options{
				Limit:  5,
				Filter: retriever.Filter{SessionID: session.ID},
			})
			Expect(results).To(HaveLen(1))
			Expect(results[0].Memory.ID).To(Equal(both.ID))
			Expect(results[0].Score).To(BeNumerically("~", 0.7*sem[0].Score+0.3*lex[0].Score, 1e-9))
		})

		It("is driven by the lexical branch when embeddings are unavailable", func() {
			embedder.FailAll = true
			content := "I got a python error today"
			m := put(conversation(content, 1, 0), 1, 0, 0, 0)
			put(conversation("nothing relevant", 1, 0), 0, 1, 0, 0)

			lex, err := r.LexicalSearch(ctx, "python error", 10, retriever.Filter{SessionID: session.ID})
			Expect(err).NotTo(HaveOccurred())

			results := r.HybridSearchScored(ctx, "python error", retriever.Options{
				Limit:        5,
				Filter:       retriever.Filter{SessionID: session.ID},
				MinRelevance: -1,
			})
			Expect(results).To(HaveLen(1))
			Expect(results[0].Memory.ID).To(Equal(m.ID))
			Expect(results[0].Score).To(BeNumerically("~", 0.3*lex[0].Score, 1e-9))
		})

		It("drops hits below the minimum relevance", func() {
			embedder.FailAll = true
			put(conversation("python error", 1, 0))

			// lexical-only fused scores are at most 0.3 and the branch score
			// here is below 1
			Expect(r.HybridSearch(ctx, "python", retriever.Options{
				Filter: retriever.Filter{SessionID: session.ID},
			})).To(BeEmpty())
		})

		It("survives a failing vector index", func() {
			vec.FailQuery = true
			put(conversation("python error", 1, 0))
			results := r.HybridSearch(ctx, "python error", retriever.Options{
				Filter:       retriever.Filter{SessionID: session.ID},
				MinRelevance: -1,
			})
			Expect(results).To(HaveLen(1))
		})

		It("breaks score ties by newest first", func() {
			embedder.FailAll = true
			older := put(conversation("same words", 1, time.Hour))
			older.Timestamp = now.Add(-time.Minute)
			Expect(store.PutMemory(ctx, older)).To(Succeed())
			newer := put(conversation("same words", 1, 0))

			results := r.HybridSearch(ctx, "same words", retriever.Options{
				Filter:       retriever.Filter{SessionID: session.ID},
				MinRelevance: -1,
			})
			Expect(testutils.IDs(results)).To(Equal([]string{newer.ID, older.ID}))
		})
	})

	Describe("RetrieveContext", func() {
		It("returns recent memories chronologically within the budget", func() {
			var all []*memory.Memory
			for i := range 12 {
				all = append(all, put(conversation(testutils.TokenText("w", 100), 1, time.Duration(12-i)*time.Minute)))
			}
			embedder.FailAll = true

			selected, text := r.RetrieveContext(ctx, "zzz", session.ID, 450)

			// only the 10 most recent are candidates, and four fit
			Expect(testutils.IDs(selected)).To(Equal(testutils.IDs(all[2:6])))
			Expect(memory.TotalTokens(selected)).To(BeNumerically("<=", 450))
			Expect(text).To(Equal(memory.FormatContext(selected)))
		})

		It("adds relevant older memories and keeps each memory once", func() {
			embedder.Embeddings["deploy"] = []float32{0, 0, 1, 0}
			old := put(testutils.NewTestMemory(session.ID, memory.TypeSummary, "deploy checklist summary", 0.8, now.Add(-48*time.Hour)), 0, 0, 1, 0)
			recent := put(conversation("deploy went fine", 1, time.Minute), 0, 0, 1, 0)

			selected, text := r.RetrieveContext(ctx, "deploy", session.ID, 4000)
			Expect(testutils.IDs(selected)).To(Equal([]string{old.ID, recent.ID}))
			Expect(text).To(Equal("[SUMMARY] deploy checklist summary\n\n[CONVERSATION] deploy went fine"))
		})

		It("stops at the first memory that overflows", func() {
			embedder.FailAll = true
			small := put(conversation(testutils.TokenText("a", 10), 1, 3*time.Minute))
			put(conversation(testutils.TokenText("b", 100), 1, 2*time.Minute))
			put(conversation(testutils.TokenText("c", 5), 1, time.Minute))

			selected, _ := r.RetrieveContext(ctx, "q", session.ID, 50)
			Expect(testutils.IDs(selected)).To(Equal([]string{small.ID}))
		})
	})

	Describe("LoadContext", func() {
		It("matches RetrieveContext when the store is healthy", func() {
			put(conversation("deploy went fine", 1, time.Minute), 0, 0, 1, 0)

			selected, text, err := r.LoadContext(ctx, "deploy", session.ID, 4000)
			Expect(err).NotTo(HaveOccurred())
			want, wantText := r.RetrieveContext(ctx, "deploy", session.ID, 4000)
			Expect(testutils.IDs(selected)).To(Equal(testutils.IDs(want)))
			Expect(text).To(Equal(wantText))
		})

		It("reports a failed read of the recent window", func() {
			down := errors.New("database is locked")
			broken := retriever.New(retriever.Config{
				Store:    brokenStore{err: down},
				Vector:   vec,
				Embedder: embedder,
				Logger:   logger.Nop(),
			})

			selected, text, err := broken.LoadContext(ctx, "deploy", session.ID, 4000)
			Expect(err).To(MatchError(down))
			Expect(selected).To(BeEmpty())
			Expect(text).To(BeEmpty())

			selected, _ = broken.RetrieveContext(ctx, "deploy", session.ID, 4000)
			Expect(selected).To(BeEmpty())
		})
	})

	Describe("SimilarMemories", func() {
		It("returns neighbours excluding the memory itself", func() {
			ref := put(conversation("ref", 1, 0), 1, 0, 0, 0)
			near := put(conversation("near", 1, 0), 0.9, 0.1, 0, 0)
			far := put(conversation("far", 1, 0), 0, 0, 0, 1)

			similar, err := r.SimilarMemories(ctx, ref, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(testutils.IDs(similar)).To(Equal([]string{near.ID, far.ID}))
		})
	})

	Describe("Index and ReindexEmbeddings", func() {
		It("indexes missing memories only", func() {
			indexed := put(conversation("already", 1, 0), 1, 0, 0, 0)
			missing := put(conversation("missing", 1, time.Minute))

			n, err := r.ReindexEmbeddings(ctx, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))
			Expect(vec.Has(missing.ID)).To(BeTrue())
			Expect(embedder.Calls(indexed.Content)).To(BeZero())
		})

		It("reports indexing failures without erroring", func() {
			embedder.FailAll = true
			m := put(conversation("x", 1, 0))
			Expect(r.Index(ctx, m)).To(BeFalse())
			Expect(vec.Has(m.ID)).To(BeFalse())
		})

		It("forgets documents", func() {
			m := put(conversation("x", 1, 0), 1, 0, 0, 0)
			Expect(r.Forget(ctx, []string{m.ID})).To(Succeed())
			Expect(vec.Has(m.ID)).To(BeFalse())
		})
	})
})

func memoriesOf(s []retriever.Scored) []*memory.Memory {
	out := make([]*memory.Memory, len(s))
	for i, x := range s {
		out[i] = x.Memory
	}
	return out
}
