package engine_test

import (
	"context"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/recall/pkg/config"
	"github.com/papercomputeco/recall/pkg/embeddings"
	"github.com/papercomputeco/recall/pkg/engine"
	"github.com/papercomputeco/recall/pkg/eventstream"
	"github.com/papercomputeco/recall/pkg/llm"
	"github.com/papercomputeco/recall/pkg/logger"
	"github.com/papercomputeco/recall/pkg/memory"
	testutils "github.com/papercomputeco/recall/pkg/utils/test"
)

// offlineConfig builds every component locally without any provider.
func offlineConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Storage.Provider = engine.StorageInMemory
	cfg.Embedding.Provider = "none"
	cfg.LLM.Provider = "none"
	return cfg
}

var _ = Describe("Engine", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Context("with injected components", func() {
		var (
			e        *engine.Engine
			vec      *testutils.MockVectorDriver
			embedder *testutils.MockEmbedder
			events   *testutils.RecordingPublisher
		)

		BeforeEach(func() {
			vec = testutils.NewMockVectorDriver()
			embedder = testutils.NewMockEmbedder()
			events = &testutils.RecordingPublisher{}

			var err error
			e, err = engine.New(ctx, engine.Options{
				Config:    offlineConfig(),
				Logger:    logger.Nop(),
				Vector:    vec,
				Embedder:  embedder,
				Completer: &testutils.MockCompleter{Response: "summary"},
				Events:    events,
			})
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(e.Close)
		})

		It("exposes the engine-facing operations", func() {
			session, err := e.CreateSession(ctx, "planning")
			Expect(err).NotTo(HaveOccurred())

			Expect(e.SaveMessage(ctx, session.ID, memory.NewMessage(memory.RoleUser, "How do I rotate the API keys?"))).To(BeTrue())
			stored, err := e.StoreMemory(ctx, session.ID, "keys rotate every 90 days", memory.TypeContext, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(vec.Has(stored.ID)).To(BeTrue())

			ms, text := e.RetrieveContext(ctx, "rotate keys", session.ID, 1000)
			Expect(ms).NotTo(BeEmpty())
			Expect(text).To(ContainSubstring("rotate"))

			Expect(events.Events(eventstream.EventTypeMemoryStored)).To(HaveLen(2))
		})

		It("uses the configured compression threshold", func() {
			Expect(e.Summarizer.Threshold()).To(Equal(8000))
		})

		It("hot-applies a new compression threshold", func() {
			cfg := offlineConfig()
			cfg.Memory.CompressionThreshold = 2500
			e.ApplyConfig(cfg)
			Expect(e.Summarizer.Threshold()).To(Equal(2500))

			cfg.Memory.CompressionThreshold = 0
			e.ApplyConfig(cfg)
			e.ApplyConfig(nil)
			Expect(e.Summarizer.Threshold()).To(Equal(2500))
		})

		It("leaves injected components open on Close", func() {
			Expect(e.Close()).To(Succeed())
			Expect(vec.Add(ctx, nil)).To(Succeed())
		})
	})

	Context("built from config", func() {
		It("assembles an offline engine with a persistent chromem index", func() {
			dir := GinkgoT().TempDir()

			e, err := engine.New(ctx, engine.Options{
				Config:  offlineConfig(),
				DataDir: dir,
				Logger:  logger.Nop(),
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(e.Embedder).To(Equal(embeddings.None{}))
			Expect(e.Completer).To(Equal(llm.Unavailable{}))
			Expect(filepath.Join(dir, "vectors")).To(BeADirectory())

			session, err := e.CreateSession(ctx, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(e.SaveMessage(ctx, session.ID, memory.NewMessage(memory.RoleUser, "lexical only"))).To(BeTrue())

			ms, _ := e.RetrieveContext(ctx, "lexical", session.ID, 500)
			Expect(ms).To(HaveLen(1))

			Expect(e.Close()).To(Succeed())
		})

		It("stores SQLite data inside the data dir", func() {
			dir := GinkgoT().TempDir()
			cfg := offlineConfig()
			cfg.Storage.Provider = engine.StorageSQLite

			e, err := engine.New(ctx, engine.Options{Config: cfg, DataDir: dir, Logger: logger.Nop()})
			Expect(err).NotTo(HaveOccurred())
			Expect(filepath.Join(dir, "recall.db")).To(BeARegularFile())
			Expect(e.Close()).To(Succeed())
		})

		DescribeTable("rejects invalid configuration",
			func(mutate func(*config.Config), msg string) {
				cfg := offlineConfig()
				mutate(cfg)

				_, err := engine.New(ctx, engine.Options{Config: cfg, DataDir: GinkgoT().TempDir(), Logger: logger.Nop()})
				Expect(err).To(MatchError(ContainSubstring(msg)))
			},
			Entry("unknown store", func(c *config.Config) { c.Storage.Provider = "mongo" }, "unsupported storage provider"),
			Entry("postgres without dsn", func(c *config.Config) { c.Storage.Provider = engine.StoragePostgres }, "postgres_dsn is required"),
			Entry("unknown vector store", func(c *config.Config) { c.VectorStore.Provider = "pinecone" }, "unsupported vector store provider"),
			Entry("unknown embedder", func(c *config.Config) { c.Embedding.Provider = "cohere" }, "unsupported embedding provider"),
			Entry("unknown completer", func(c *config.Config) { c.LLM.Provider = "mistral" }, "unsupported llm provider"),
			Entry("unknown event stream", func(c *config.Config) { c.EventStream.Provider = "nats" }, "unsupported event stream provider"),
			Entry("kafka without brokers", func(c *config.Config) { c.EventStream.Provider = engine.EventsKafka }, "broker"),
			Entry("bad schedule", func(c *config.Config) { c.Memory.MaintenanceSchedule = "every tuesday" }, "schedule"),
		)
	})
})
