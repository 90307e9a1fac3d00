package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/papercomputeco/recall/pkg/embeddings"
)

const (
	DefaultTimeout          = 30 * time.Second
	DefaultRatePerMinute    = 50
	DefaultBreakerThreshold = 3
	DefaultBreakerRecovery  = 30 * time.Second
)

// GuardConfig configures a Guard. Zero values select the defaults.
type GuardConfig struct {
	// Timeout bounds each provider call.
	Timeout time.Duration

	// RatePerMinute caps provider calls. Callers wait for a slot.
	RatePerMinute int

	// BreakerThreshold is the number of consecutive failures that opens
	// the breaker.
	BreakerThreshold int

	// BreakerRecovery is how long the breaker stays open before a single
	// trial call is let through.
	BreakerRecovery time.Duration

	Logger *slog.Logger

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// Guard applies a timeout, a rate limit and a consecutive-failure circuit
// breaker to provider calls. An open breaker fails fast with ErrUnavailable.
type Guard struct {
	timeout   time.Duration
	limiter   *rate.Limiter
	threshold int
	recovery  time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	state    breakerState
	failures int
	openedAt time.Time
}

// NewGuard creates a Guard.
func NewGuard(c GuardConfig) *Guard {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RatePerMinute <= 0 {
		c.RatePerMinute = DefaultRatePerMinute
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = DefaultBreakerThreshold
	}
	if c.BreakerRecovery <= 0 {
		c.BreakerRecovery = DefaultBreakerRecovery
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}

	return &Guard{
		timeout:   c.Timeout,
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(c.RatePerMinute)), c.RatePerMinute),
		threshold: c.BreakerThreshold,
		recovery:  c.BreakerRecovery,
		logger:    c.Logger,
		now:       c.Now,
	}
}

// Do runs fn under the guard. The context passed to fn carries the call
// timeout.
func (g *Guard) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if !g.allow() {
		return fmt.Errorf("%s: %w: circuit open", op, ErrUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.limiter.Wait(ctx); err != nil {
		g.release()
		return fmt.Errorf("%s: waiting for rate limit: %w", op, err)
	}

	err := fn(ctx)
	g.record(op, err)
	return err
}

// Open reports whether the breaker is currently rejecting calls.
func (g *Guard) Open() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state == breakerOpen && g.now().Sub(g.openedAt) < g.recovery
}

func (g *Guard) allow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case breakerOpen:
		if g.now().Sub(g.openedAt) < g.recovery {
			return false
		}
		g.state = breakerHalfOpen
		return true
	case breakerHalfOpen:
		// one trial call at a time
		return false
	default:
		return true
	}
}

// release undoes allow for a call that never reached the provider.
func (g *Guard) release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == breakerHalfOpen {
		g.state = breakerOpen
	}
}

func (g *Guard) record(op string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err == nil {
		if g.state != breakerClosed {
			g.logger.Info("provider recovered, closing circuit", "op", op)
		}
		g.state = breakerClosed
		g.failures = 0
		return
	}

	g.failures++
	if g.state == breakerHalfOpen || g.failures >= g.threshold {
		if g.state != breakerOpen {
			g.logger.Warn("provider failing, opening circuit",
				"op", op,
				"failures", g.failures,
				"recovery", g.recovery,
				"error", err,
			)
		}
		g.state = breakerOpen
		g.openedAt = g.now()
	}
}

// Completer wraps c so every call goes through the guard.
func (g *Guard) Completer(c Completer) Completer {
	return CompleteFunc(func(ctx context.Context, req Request) (string, error) {
		var out string
		err := g.Do(ctx, "complete", func(ctx context.Context) error {
			var err error
			out, err = c.Complete(ctx, req)
			return err
		})
		return out, err
	})
}

// Embedder wraps e so every call goes through the guard.
func (g *Guard) Embedder(e embeddings.Embedder) embeddings.Embedder {
	return &guardedEmbedder{guard: g, inner: e}
}

type guardedEmbedder struct {
	guard *Guard
	inner embeddings.Embedder
}

func (e *guardedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := e.guard.Do(ctx, "embed", func(ctx context.Context) error {
		var err error
		out, err = e.inner.Embed(ctx, text)
		return err
	})
	return out, err
}

func (e *guardedEmbedder) Close() error {
	return e.inner.Close()
}
