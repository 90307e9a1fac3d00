// Package maintenance runs the periodic memory upkeep: daily relevance
// decay, retention cleanup and embedding backfill.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
)

const (
	// DefaultSchedule runs maintenance daily at 03:00 (seconds field first).
	DefaultSchedule = "0 0 3 * * *"

	DefaultCleanupDays  = 30
	DefaultReindexBatch = 50

	// DefaultRunTimeout bounds one scheduled run.
	DefaultRunTimeout = 10 * time.Minute
)

// Maintainer performs the upkeep operations.
type Maintainer interface {
	RecomputeAllRelevanceScores(ctx context.Context) (int64, error)
	CleanupOldMemories(ctx context.Context, days int) (int64, error)
	ReindexEmbeddings(ctx context.Context, batch int) (int, error)
}

// Config configures a Scheduler.
type Config struct {
	Maintainer Maintainer

	// Schedule is a six field cron expression or descriptor such as
	// "@daily" or "@every 6h".
	Schedule string

	CleanupDays  int
	ReindexBatch int

	// RunTimeout bounds each scheduled run.
	RunTimeout time.Duration

	Logger *slog.Logger
}

// Report is the outcome of one maintenance run.
type Report struct {
	Decayed   int64 `json:"decayed"`
	Deleted   int64 `json:"deleted"`
	Reindexed int   `json:"reindexed"`
}

// Scheduler runs maintenance on a cron schedule.
type Scheduler struct {
	maintainer   Maintainer
	schedule     string
	cleanupDays  int
	reindexBatch int
	runTimeout   time.Duration
	logger       *slog.Logger

	mu   sync.Mutex
	cron *rcron.Cron
	runs int
}

// New validates the schedule and returns a stopped Scheduler.
func New(c Config) (*Scheduler, error) {
	if c.Maintainer == nil {
		return nil, errors.New("maintenance requires a maintainer")
	}
	if c.Schedule == "" {
		c.Schedule = DefaultSchedule
	}
	if _, err := parser().Parse(c.Schedule); err != nil {
		return nil, fmt.Errorf("invalid maintenance schedule %q: %w", c.Schedule, err)
	}
	if c.CleanupDays <= 0 {
		c.CleanupDays = DefaultCleanupDays
	}
	if c.ReindexBatch <= 0 {
		c.ReindexBatch = DefaultReindexBatch
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = DefaultRunTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	return &Scheduler{
		maintainer:   c.Maintainer,
		schedule:     c.Schedule,
		cleanupDays:  c.CleanupDays,
		reindexBatch: c.ReindexBatch,
		runTimeout:   c.RunTimeout,
		logger:       c.Logger,
	}, nil
}

func parser() rcron.Parser {
	return rcron.NewParser(rcron.Second | rcron.Minute | rcron.Hour | rcron.Dom | rcron.Month | rcron.Dow | rcron.Descriptor)
}

// Start registers the maintenance job and starts the cron runner. It stops
// when ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return errors.New("maintenance scheduler already started")
	}

	c := rcron.New(rcron.WithParser(parser()), rcron.WithChain(rcron.SkipIfStillRunning(rcron.DiscardLogger)))
	_, err := c.AddFunc(s.schedule, func() {
		runCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
		if _, err := s.RunOnce(runCtx); err != nil {
			s.logger.Error("scheduled maintenance failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("could not register maintenance job: %w", err)
	}

	c.Start()
	s.cron = c
	s.logger.Info("maintenance scheduler started", "schedule", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts the cron runner and waits for a running job to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.logger.Info("maintenance scheduler stopped")
}

// Runs reports how many maintenance runs have completed.
func (s *Scheduler) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// RunOnce decays relevance, removes expired memories and backfills
// missing embeddings. Later steps run even when an earlier one fails; the
// errors are joined.
func (s *Scheduler) RunOnce(ctx context.Context) (Report, error) {
	var (
		report Report
		errs   []error
		err    error
	)

	if report.Decayed, err = s.maintainer.RecomputeAllRelevanceScores(ctx); err != nil {
		errs = append(errs, fmt.Errorf("relevance decay: %w", err))
	}
	if report.Deleted, err = s.maintainer.CleanupOldMemories(ctx, s.cleanupDays); err != nil {
		errs = append(errs, fmt.Errorf("retention cleanup: %w", err))
	}
	if report.Reindexed, err = s.maintainer.ReindexEmbeddings(ctx, s.reindexBatch); err != nil {
		errs = append(errs, fmt.Errorf("embedding backfill: %w", err))
	}

	s.mu.Lock()
	s.runs++
	s.mu.Unlock()

	s.logger.Info("maintenance finished",
		"decayed", report.Decayed,
		"deleted", report.Deleted,
		"reindexed", report.Reindexed,
		"errors", len(errs),
	)
	return report, errors.Join(errs...)
}
