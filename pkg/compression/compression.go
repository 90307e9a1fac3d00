// Package compression folds aging session memories into summaries.
//
// A Summarizer watches a session's token mass. Once it passes the
// threshold, AdaptiveCompression derives cutoff points from the session's
// time span and summarizes the oldest eligible memories before each cutoff,
// one batch at a time. Originals are never deleted: their relevance is
// scaled by memory.CompressionDecay and they are tagged compressed.
package compression

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/papercomputeco/recall/pkg/eventstream"
	"github.com/papercomputeco/recall/pkg/eventstream/nop"
	"github.com/papercomputeco/recall/pkg/llm"
	"github.com/papercomputeco/recall/pkg/memory"
	"github.com/papercomputeco/recall/pkg/storage"
	"github.com/papercomputeco/recall/pkg/tokens"
)

// ErrSummaryUnavailable is returned by CompressBatch when the completion
// provider fails or returns nothing. No memory is modified in that case.
var ErrSummaryUnavailable = errors.New("summary unavailable")

const (
	// DefaultThreshold is the session token mass that triggers compression.
	DefaultThreshold = 8000

	// DefaultBatchDelay separates consecutive batches of one pass.
	DefaultBatchDelay = 500 * time.Millisecond

	MinBatchSize = 5
	MaxBatchSize = 20

	// MaxInputTokens bounds the text sent for summarization.
	MaxInputTokens = 16000

	// MaxSummaryTokens caps the completion length.
	MaxSummaryTokens = 2000

	// MinRelevance is the relevance a memory must exceed to be compressed.
	MinRelevance = 0.3

	summaryTemperature = 0.3
)

// Store is the part of storage.Driver the summarizer uses.
type Store interface {
	GetMemories(ctx context.Context, f storage.Filter) ([]*memory.Memory, error)
	CountMemories(ctx context.Context, f storage.Filter) (int, error)
	PutMemory(ctx context.Context, m *memory.Memory) error
	ScaleRelevance(ctx context.Context, id string, factor float64) error
	MergeMetadata(ctx context.Context, id string, patch map[string]any) error
	SessionStats(ctx context.Context, sessionID string) (memory.Stats, error)
	PutMetric(ctx context.Context, m *memory.Metric) error
}

// Indexer adds a memory's embedding to the vector index.
type Indexer interface {
	Index(ctx context.Context, m *memory.Memory) bool
}

// Config configures a Summarizer.
type Config struct {
	Store     Store
	Completer llm.Completer

	// Counter measures prompt lines and summaries. Defaults to tokens.Approx.
	Counter tokens.Counter

	// Indexer, when set, embeds every new summary.
	Indexer Indexer

	// Events receives memory.compressed events. Defaults to a no-op.
	Events eventstream.Publisher

	Logger *slog.Logger

	// Threshold is the token mass above which a session is compressed.
	Threshold int

	// BatchDelay is the pause between batches of one pass. A negative
	// value disables it.
	BatchDelay time.Duration

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Summarizer compresses session memories and runs the model-assisted
// enrichment helpers.
type Summarizer struct {
	store      Store
	completer  llm.Completer
	counter    tokens.Counter
	indexer    Indexer
	events     eventstream.Publisher
	logger     *slog.Logger
	batchDelay time.Duration
	now        func() time.Time

	threshold atomic.Int64

	inflight singleflight.Group
	leases   sync.Map
}

// New creates a Summarizer.
func New(c Config) *Summarizer {
	if c.Completer == nil {
		c.Completer = llm.Unavailable{}
	}
	if c.Counter == nil {
		c.Counter = tokens.Approx{}
	}
	if c.Events == nil {
		c.Events = nop.NewPublisher()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.BatchDelay == 0 {
		c.BatchDelay = DefaultBatchDelay
	}
	if c.Now == nil {
		c.Now = time.Now
	}

	s := &Summarizer{
		store:      c.Store,
		completer:  c.Completer,
		counter:    c.Counter,
		indexer:    c.Indexer,
		events:     c.Events,
		logger:     c.Logger,
		batchDelay: c.BatchDelay,
		now:        c.Now,
	}
	s.threshold.Store(int64(c.Threshold))
	return s
}

// Threshold returns the current compression threshold.
func (s *Summarizer) Threshold() int {
	return int(s.threshold.Load())
}

// SetThreshold changes the compression threshold. Non-positive values
// restore the default.
func (s *Summarizer) SetThreshold(n int) {
	if n <= 0 {
		n = DefaultThreshold
	}
	s.threshold.Store(int64(n))
	s.logger.Info("compression threshold updated", "threshold", n)
}
