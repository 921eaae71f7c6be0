// Package poller drives a target on a fixed interval. It is the clock of the
// profiler controller.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Target is polled on every tick.
type Target interface {
	PollOnce(ctx context.Context) error
}

// Cleaner is implemented by targets that also need periodic housekeeping.
type Cleaner interface {
	RunCleanup(ctx context.Context) error
}

// stopper is implemented by targets that can shut down on their own; their
// errors are not logged once they have.
type stopper interface {
	Stopped() bool
}

// Config contains configuration for a poller.
type Config struct {
	// Name labels log lines, e.g. "profiler_poller".
	Name string

	PollInterval time.Duration

	// CleanupInterval defaults to one minute. It is ignored unless the
	// target implements Cleaner.
	CleanupInterval time.Duration

	Logger zerolog.Logger
}

// Poller manages the poll and cleanup loops of one target.
type Poller struct {
	parent          context.Context
	pollInterval    time.Duration
	cleanupInterval time.Duration
	logger          zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New creates a stopped poller. Loops end when parent is done.
func New(parent context.Context, cfg Config) *Poller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.Name == "" {
		cfg.Name = "poller"
	}

	return &Poller{
		parent:          parent,
		pollInterval:    cfg.PollInterval,
		cleanupInterval: cfg.CleanupInterval,
		logger:          cfg.Logger.With().Str("component", cfg.Name).Logger(),
	}
}

// Start polls t immediately and then on every interval. Starting a running
// poller is a no-op.
func (p *Poller) Start(t Target) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}

	ctx, cancel := context.WithCancel(p.parent)
	p.cancel = cancel
	p.running = true

	p.logger.Info().
		Dur("poll_interval", p.pollInterval).
		Dur("cleanup_interval", p.cleanupInterval).
		Msg("Starting poller")

	p.wg.Add(1)
	go p.pollLoop(ctx, t)

	if c, ok := t.(Cleaner); ok {
		p.wg.Add(1)
		go p.cleanupLoop(ctx, c)
	}
}

// Stop ends both loops and waits for an in-flight tick. It is idempotent and
// the poller may be started again.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info().Msg("Poller stopped")
}

// IsRunning returns whether the poller is currently running.
func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) pollLoop(ctx context.Context, t Target) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	p.poll(ctx, t, "Initial poll failed")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx, t, "Poll failed")
		}
	}
}

func (p *Poller) poll(ctx context.Context, t Target, msg string) {
	if err := t.PollOnce(ctx); err != nil && !p.quiet(ctx, t) {
		p.logger.Error().Err(err).Msg(msg)
	}
}

func (p *Poller) cleanupLoop(ctx context.Context, c Cleaner) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.RunCleanup(ctx); err != nil && !p.quiet(ctx, c) {
				p.logger.Error().Err(err).Msg("Cleanup failed")
			}
		}
	}
}

func (p *Poller) quiet(ctx context.Context, target any) bool {
	if ctx.Err() != nil {
		return true
	}
	s, ok := target.(stopper)
	return ok && s.Stopped()
}
