// Package manager owns the session and message lifecycle and ties the
// retriever, the summarizer and the store together.
//
// The request path (SaveMessage, StoreMemory, RetrieveContext) only ever
// enqueues compression checks; they run on the manager's worker pool.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/papercomputeco/recall/pkg/compression"
	"github.com/papercomputeco/recall/pkg/eventstream"
	"github.com/papercomputeco/recall/pkg/eventstream/nop"
	"github.com/papercomputeco/recall/pkg/memory"
	"github.com/papercomputeco/recall/pkg/retriever"
	"github.com/papercomputeco/recall/pkg/storage"
	"github.com/papercomputeco/recall/pkg/tokens"
	"github.com/papercomputeco/recall/pkg/vector"
	"github.com/papercomputeco/recall/pkg/worker"
)

const (
	// DefaultRelevanceThreshold is the minimum relevance SearchMemories keeps.
	DefaultRelevanceThreshold = 0.7

	// DefaultRetrievalLimit is the default number of search results.
	DefaultRetrievalLimit = 10

	// DefaultCleanupDays is the retention age used by CleanupOldMemories
	// when days is not positive.
	DefaultCleanupDays = 30

	// DefaultMaxTokens is the context budget used when none is given.
	DefaultMaxTokens = 4000

	// recentContextWindow is how many memories GetRecentContext inspects.
	recentContextWindow = 50

	// highRelevance keeps a memory in SearchMemories without a keyword hit.
	highRelevance = 0.9
)

// Compressor runs adaptive compression for a session.
type Compressor interface {
	AdaptiveCompression(ctx context.Context, sessionID string) []*memory.Memory
	Threshold() int
}

// Clearer is a cache that can be emptied on Reset.
type Clearer interface {
	Clear()
}

// Config configures a Manager.
type Config struct {
	Store     storage.Driver
	Retriever *retriever.Retriever

	// Vector is the index behind Retriever. It is used for metrics and
	// Reset and may be nil.
	Vector vector.Driver

	Compressor Compressor

	// Enricher runs tagging, rescoring and merging. Defaults to the
	// compressor when it implements Enricher.
	Enricher Enricher

	// Counter measures message and memory content. Defaults to tokens.Approx.
	Counter tokens.Counter

	// Events receives memory.stored and memory.deleted events.
	Events eventstream.Publisher

	// Caches are cleared by Reset.
	Caches []Clearer

	// RelevanceThreshold is the SearchMemories default.
	RelevanceThreshold float64

	// RetrievalLimit is the SearchMemories default limit.
	RetrievalLimit int

	// Workers and QueueSize size the compression worker pool.
	Workers   uint
	QueueSize uint

	Logger *slog.Logger

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Manager is the engine-facing service for sessions and memories.
type Manager struct {
	store      storage.Driver
	retriever  *retriever.Retriever
	vector     vector.Driver
	compressor Compressor
	enricher   Enricher
	counter    tokens.Counter
	events     eventstream.Publisher
	caches     []Clearer
	pool       *worker.Pool
	logger     *slog.Logger
	now        func() time.Time

	relevanceThreshold float64
	retrievalLimit     int
}

// New creates a Manager and starts its compression workers.
func New(c Config) (*Manager, error) {
	if c.Store == nil {
		return nil, errors.New("manager requires a store")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Counter == nil {
		c.Counter = tokens.Approx{}
	}
	if c.Events == nil {
		c.Events = nop.NewPublisher()
	}
	if c.Retriever == nil {
		c.Retriever = retriever.New(retriever.Config{
			Store:  c.Store,
			Vector: c.Vector,
			Logger: c.Logger,
			Now:    c.Now,
		})
	}
	if c.Compressor == nil {
		c.Compressor = compression.New(compression.Config{
			Store:   c.Store,
			Counter: c.Counter,
			Indexer: c.Retriever,
			Events:  c.Events,
			Logger:  c.Logger,
			Now:     c.Now,
		})
	}
	if c.Enricher == nil {
		c.Enricher, _ = c.Compressor.(Enricher)
	}
	if c.RelevanceThreshold <= 0 {
		c.RelevanceThreshold = DefaultRelevanceThreshold
	}
	if c.RetrievalLimit <= 0 {
		c.RetrievalLimit = DefaultRetrievalLimit
	}

	m := &Manager{
		store:              c.Store,
		retriever:          c.Retriever,
		vector:             c.Vector,
		compressor:         c.Compressor,
		enricher:           c.Enricher,
		counter:            c.Counter,
		events:             c.Events,
		caches:             c.Caches,
		logger:             c.Logger,
		now:                c.Now,
		relevanceThreshold: c.RelevanceThreshold,
		retrievalLimit:     c.RetrievalLimit,
	}

	pool, err := worker.NewPool(&worker.Config{
		Handler:    m.handleJob,
		NumWorkers: c.Workers,
		QueueSize:  c.QueueSize,
		Logger:     c.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not start compression workers: %w", err)
	}
	m.pool = pool

	return m, nil
}

// Close waits for queued compression checks to finish.
func (m *Manager) Close() {
	m.pool.Close()
}

func (m *Manager) handleJob(ctx context.Context, job worker.Job) {
	m.CheckCompression(ctx, job.SessionID)
}

// CreateSession creates a session. An empty title selects the default.
func (m *Manager) CreateSession(ctx context.Context, title string) (*memory.Session, error) {
	s := memory.NewSession(title)
	now := m.now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now

	if err := m.store.CreateSession(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	m.logger.Info("created session", "session_id", s.ID)
	return s, nil
}

// GetSession returns a session with its messages.
func (m *Manager) GetSession(ctx context.Context, id string) (*memory.Session, error) {
	return m.store.GetSession(ctx, id)
}

// ListSessions returns sessions by most recent update.
func (m *Manager) ListSessions(ctx context.Context, limit int) ([]*memory.Session, error) {
	return m.store.ListSessions(ctx, limit)
}

// UpdateSessionTitle renames a session.
func (m *Manager) UpdateSessionTitle(ctx context.Context, id, title string) (*memory.Session, error) {
	s, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if title == "" {
		title = memory.DefaultSessionTitle
	}
	s.Title = title
	s.UpdatedAt = m.now().UTC()
	if err := m.store.UpdateSession(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to update session %s: %w", id, err)
	}
	return s, nil
}

// DeleteSession removes a session, its messages, its memories and their
// vector documents.
func (m *Manager) DeleteSession(ctx context.Context, id string) error {
	if _, err := m.store.GetSession(ctx, id); err != nil {
		return err
	}

	ids, err := m.store.DeleteSessionMemories(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete memories of session %s: %w", id, err)
	}
	if err := m.store.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	if err := m.retriever.Forget(ctx, ids); err != nil {
		m.logger.Warn("removing session embeddings failed", "session_id", id, "error", err)
	}

	m.publishDeleted(ctx, id, ids)
	m.logger.Info("deleted session", "session_id", id, "memories", len(ids))
	return nil
}

func (m *Manager) publish(ctx context.Context, event *eventstream.MemoryEvent) {
	if err := m.events.Publish(ctx, event); err != nil {
		m.logger.Warn("publishing event failed", "event_type", event.EventType, "error", err)
	}
}

func (m *Manager) publishDeleted(ctx context.Context, sessionID string, ids []string) {
	if len(ids) == 0 {
		return
	}
	event := eventstream.NewMemoryEvent(eventstream.EventTypeMemoryDeleted, sessionID, m.now())
	event.RelatedIDs = ids
	m.publish(ctx, event)
}
