// Package worker provides an asynchronous worker pool for session
// maintenance jobs, such as compression checks, that must never run on the
// request path.
//
// Enqueue never blocks: a full queue drops the job, and the next message
// saved to the session enqueues a fresh check.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
)

var (
	defaultNumWorkers   uint = 2
	defaultJobQueueSize uint = 256
)

// Job is a unit of work for the worker pool to execute against.
type Job struct {
	SessionID string
}

// Handler processes a job.
type Handler func(ctx context.Context, job Job)

// Config is the configuration options for the worker pool.
type Config struct {
	// Handler runs each dequeued job.
	Handler Handler

	// NumWorkers is the number of background workers in the pool.
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel (defaults to 256).
	QueueSize uint

	Logger *slog.Logger
}

// Pool runs jobs asynchronously on a fixed set of workers. A session with
// a job already waiting in the queue is not enqueued twice.
type Pool struct {
	config *Config
	queue  chan Job
	wg     sync.WaitGroup
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]struct{}
	closed  bool
}

// NewPool creates a new Pool and starts its worker goroutines.
func NewPool(c *Config) (*Pool, error) {
	if c.Handler == nil {
		return nil, errors.New("worker pool requires a handler")
	}

	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}

	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}

	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}

	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	wp := &Pool{
		config:  c,
		queue:   make(chan Job, c.QueueSize),
		logger:  c.Logger,
		pending: map[string]struct{}{},
	}

	wp.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go wp.worker(i)
	}

	return wp, nil
}

// Enqueue submits a job for processing by the worker pool.
// Returns true if the job is queued or one for the same session is already
// waiting, false if the queue is full or the pool is closed.
func (p *Pool) Enqueue(job Job) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}
	if _, ok := p.pending[job.SessionID]; ok {
		p.logger.Debug("job already queued", "session_id", job.SessionID)
		return true
	}

	select {
	case p.queue <- job:
		p.pending[job.SessionID] = struct{}{}
		p.logger.Debug("job queued", "session_id", job.SessionID)
		return true
	default:
		p.logger.Warn("job not queued, queue full, job dropped", "session_id", job.SessionID)
		return false
	}
}

// Close signals workers to stop and waits for in-flight jobs to drain.
// Call this during graceful shutdown after the HTTP server has stopped.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}

// worker is the inner worker thread that continuously pulls jobs off the jobs queue
func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	p.logger.Debug("worker started", "worker_id", id)

	for job := range p.queue {
		p.mu.Lock()
		delete(p.pending, job.SessionID)
		p.mu.Unlock()

		p.processJob(job)
	}

	p.logger.Debug("worker stopped", "worker_id", id)
}

func (p *Pool) processJob(job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job panicked", "session_id", job.SessionID, "panic", r)
		}
	}()
	p.config.Handler(context.Background(), job)
}
