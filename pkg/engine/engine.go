// Package engine builds the memory engine from a resolved config: the store,
// the vector index, the guarded model providers, the retriever, the
// summarizer, the manager and the maintenance scheduler.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/papercomputeco/recall/pkg/compression"
	"github.com/papercomputeco/recall/pkg/config"
	"github.com/papercomputeco/recall/pkg/embeddings"
	"github.com/papercomputeco/recall/pkg/embeddings/cache"
	embeddingutils "github.com/papercomputeco/recall/pkg/embeddings/utils"
	"github.com/papercomputeco/recall/pkg/eventstream"
	"github.com/papercomputeco/recall/pkg/eventstream/kafka"
	"github.com/papercomputeco/recall/pkg/eventstream/nop"
	"github.com/papercomputeco/recall/pkg/llm"
	"github.com/papercomputeco/recall/pkg/llm/provider"
	"github.com/papercomputeco/recall/pkg/maintenance"
	"github.com/papercomputeco/recall/pkg/manager"
	"github.com/papercomputeco/recall/pkg/retriever"
	"github.com/papercomputeco/recall/pkg/storage"
	"github.com/papercomputeco/recall/pkg/storage/inmemory"
	"github.com/papercomputeco/recall/pkg/storage/postgres"
	"github.com/papercomputeco/recall/pkg/storage/sqlite"
	"github.com/papercomputeco/recall/pkg/tokens"
	"github.com/papercomputeco/recall/pkg/vector"
	vectorutils "github.com/papercomputeco/recall/pkg/vector/utils"
)

// Storage provider names.
const (
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageInMemory = "inmemory"
)

// Event stream provider names.
const (
	EventsNop   = "nop"
	EventsKafka = "kafka"
)

const (
	sqliteFile    = "recall.db"
	sqliteVecFile = "vectors.db"
	chromemDir    = "vectors"
)

// Options configures New. Any component set here is used instead of the one
// the config would build; the engine does not close injected components.
type Options struct {
	Config *config.Config

	// DataDir is the resolved .recall/ directory. Relative default paths
	// for the SQLite database and the vector store live here.
	DataDir string

	Logger *slog.Logger

	Store     storage.Driver
	Vector    vector.Driver
	Embedder  embeddings.Embedder
	Completer llm.Completer
	Events    eventstream.Publisher
}

// Engine is the assembled memory engine. The embedded Manager exposes the
// engine-facing operations: SaveMessage, StoreMemory, RetrieveContext and the
// session and maintenance operations.
type Engine struct {
	*manager.Manager

	Config      *config.Config
	Store       storage.Driver
	Vector      vector.Driver
	Embedder    embeddings.Embedder
	Completer   llm.Completer
	Events      eventstream.Publisher
	Retriever   *retriever.Retriever
	Summarizer  *compression.Summarizer
	Maintenance *maintenance.Scheduler

	logger  *slog.Logger
	closers []func() error
}

// New builds an Engine. On error every component opened so far is closed.
func New(ctx context.Context, o Options) (*Engine, error) {
	if o.Config == nil {
		o.Config = config.NewDefaultConfig()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}

	e := &Engine{Config: o.Config, logger: o.Logger}
	if err := e.build(ctx, o); err != nil {
		_ = e.Close()
		return nil, err
	}

	return e, nil
}

func (e *Engine) build(ctx context.Context, o Options) error {
	cfg := o.Config
	var err error

	e.Store = o.Store
	if e.Store == nil {
		if e.Store, err = newStore(ctx, cfg.Storage, o.DataDir); err != nil {
			return err
		}
		e.closers = append(e.closers, e.Store.Close)
	}

	e.Vector = o.Vector
	if e.Vector == nil {
		if e.Vector, err = newVector(cfg, o.DataDir, e.logger); err != nil {
			return err
		}
		e.closers = append(e.closers, e.Vector.Close)
	}

	guardConfig := llm.GuardConfig{
		Timeout:          cfg.LLM.Timeout,
		RatePerMinute:    cfg.LLM.RatePerMinute,
		BreakerThreshold: cfg.LLM.BreakerThreshold,
		BreakerRecovery:  cfg.LLM.BreakerRecovery,
		Logger:           e.logger,
	}

	var caches []manager.Clearer
	e.Embedder = o.Embedder
	if e.Embedder == nil {
		if e.Embedder, err = newEmbedder(ctx, cfg.Embedding, guardConfig); err != nil {
			return err
		}
		e.closers = append(e.closers, e.Embedder.Close)
	}
	if c, ok := e.Embedder.(manager.Clearer); ok {
		caches = append(caches, c)
	}

	e.Completer = o.Completer
	if e.Completer == nil {
		if e.Completer, err = newCompleter(ctx, cfg.LLM, guardConfig); err != nil {
			return err
		}
	}

	e.Events = o.Events
	if e.Events == nil {
		if e.Events, err = newPublisher(cfg.EventStream, e.logger); err != nil {
			return err
		}
		e.closers = append(e.closers, e.Events.Close)
	}

	counter, err := tokens.New(cfg.Memory.TokenCounter)
	if err != nil {
		return err
	}

	e.Retriever = retriever.New(retriever.Config{
		Store:    e.Store,
		Vector:   e.Vector,
		Embedder: e.Embedder,
		Logger:   e.logger.With("component", "retriever"),
	})

	e.Summarizer = compression.New(compression.Config{
		Store:      e.Store,
		Completer:  e.Completer,
		Counter:    counter,
		Indexer:    e.Retriever,
		Events:     e.Events,
		Logger:     e.logger.With("component", "compression"),
		Threshold:  cfg.Memory.CompressionThreshold,
		BatchDelay: cfg.Memory.BatchDelay,
	})

	e.Manager, err = manager.New(manager.Config{
		Store:              e.Store,
		Retriever:          e.Retriever,
		Vector:             e.Vector,
		Compressor:         e.Summarizer,
		Counter:            counter,
		Events:             e.Events,
		Caches:             caches,
		RelevanceThreshold: cfg.Memory.RelevanceThreshold,
		RetrievalLimit:     cfg.Memory.RetrievalLimit,
		Workers:            uint(max(cfg.Memory.Workers, 0)),
		QueueSize:          uint(max(cfg.Memory.QueueSize, 0)),
		Logger:             e.logger.With("component", "manager"),
	})
	if err != nil {
		return err
	}

	e.Maintenance, err = maintenance.New(maintenance.Config{
		Maintainer:  e.Manager,
		Schedule:    cfg.Memory.MaintenanceSchedule,
		CleanupDays: cfg.Memory.CleanupDays,
		Logger:      e.logger.With("component", "maintenance"),
	})
	if err != nil {
		return err
	}

	e.logger.Info("memory engine ready",
		"storage", cfg.Storage.Provider,
		"vector_store", cfg.VectorStore.Provider,
		"embedding", cfg.Embedding.Provider,
		"llm", cfg.LLM.Provider,
		"events", cfg.EventStream.Provider,
		"compression_threshold", e.Summarizer.Threshold(),
	)

	return nil
}

// ApplyConfig applies the settings that can change while running. Today that
// is the compression threshold.
func (e *Engine) ApplyConfig(c *config.Config) {
	if c == nil || c.Memory.CompressionThreshold <= 0 {
		return
	}
	if old := e.Summarizer.Threshold(); old != c.Memory.CompressionThreshold {
		e.Summarizer.SetThreshold(c.Memory.CompressionThreshold)
		e.logger.Info("compression threshold updated", "from", old, "to", c.Memory.CompressionThreshold)
	}
}

// Close stops maintenance, drains the compression workers and closes every
// component the engine opened, in reverse order.
func (e *Engine) Close() error {
	if e.Maintenance != nil {
		e.Maintenance.Stop()
	}
	if e.Manager != nil {
		e.Manager.Close()
	}

	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil

	return errors.Join(errs...)
}

func newStore(ctx context.Context, c config.StorageConfig, dataDir string) (storage.Driver, error) {
	switch c.Provider {
	case StorageSQLite, "":
		path := dataPath(dataDir, c.SQLitePath, sqliteFile)
		d, err := sqlite.NewDriver(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store %s: %w", path, err)
		}
		return d, nil
	case StoragePostgres:
		if c.PostgresDSN == "" {
			return nil, errors.New("storage.postgres_dsn is required for the postgres store")
		}
		d, err := postgres.NewDriver(ctx, c.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("opening postgres store: %w", err)
		}
		return d, nil
	case StorageInMemory:
		return inmemory.NewDriver()
	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", c.Provider)
	}
}

func newVector(cfg *config.Config, dataDir string, logger *slog.Logger) (vector.Driver, error) {
	target := cfg.VectorStore.Target
	switch cfg.VectorStore.Provider {
	case vectorutils.ProviderSQLiteVec:
		target = dataPath(dataDir, cfg.VectorStore.Path, sqliteVecFile)
	case vectorutils.ProviderChromem, "":
		// An in-memory store keeps no state between CLI runs, so default to
		// a directory when one is known.
		target = dataPath(dataDir, cfg.VectorStore.Path, chromemDir)
	}

	return vectorutils.NewVectorDriver(&vectorutils.NewVectorDriverOpts{
		ProviderType: cfg.VectorStore.Provider,
		TargetURL:    target,
		Dimensions:   cfg.Embedding.Dimensions,
		Logger:       logger,
	})
}

func newEmbedder(ctx context.Context, c config.EmbeddingConfig, gc llm.GuardConfig) (embeddings.Embedder, error) {
	e, err := embeddingutils.NewEmbedder(ctx, &embeddingutils.NewEmbedderOpts{
		ProviderType: c.Provider,
		TargetURL:    c.Target,
		Model:        c.Model,
		Dimensions:   int(c.Dimensions),
	})
	if err != nil {
		return nil, err
	}
	if _, ok := e.(embeddings.None); ok {
		return e, nil
	}

	// The cache sits outside the guard so hits never consume rate or
	// breaker budget.
	guarded := llm.NewGuard(gc).Embedder(e)
	if c.CacheSize <= 0 {
		return guarded, nil
	}
	return cache.New(guarded, c.CacheSize)
}

func newCompleter(ctx context.Context, c config.LLMConfig, gc llm.GuardConfig) (llm.Completer, error) {
	completer, err := provider.New(ctx, provider.Opts{
		Provider:  c.Provider,
		Model:     c.Model,
		BaseURL:   c.Target,
		APIKeyEnv: c.APIKeyEnv,
	})
	if err != nil {
		return nil, err
	}
	if _, ok := completer.(llm.Unavailable); ok {
		return completer, nil
	}
	return llm.NewGuard(gc).Completer(completer), nil
}

func newPublisher(c config.EventStreamConfig, logger *slog.Logger) (eventstream.Publisher, error) {
	switch c.Provider {
	case EventsNop, "":
		return nop.NewPublisher(), nil
	case EventsKafka:
		return kafka.NewPublisher(kafka.Config{
			Brokers: c.Brokers,
			Topic:   c.Topic,
		}, logger)
	default:
		return nil, fmt.Errorf("unsupported event stream provider: %s", c.Provider)
	}
}

// dataPath returns configured when set, else name inside dataDir. With no
// data dir it returns configured, which may be empty.
func dataPath(dataDir, configured, name string) string {
	if configured != "" || dataDir == "" {
		return configured
	}
	return filepath.Join(dataDir, name)
}
