// Package retry retries transient failures with exponential backoff.
//
// The backoff before attempt n (n >= 1) is InitialBackoff * 2^(n-1), capped
// at MaxBackoff, plus a jitter that grows linearly with the attempt number.
// Every wait honours context cancellation.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Config defines the retry behavior. MaxRetries and InitialBackoff must be
// positive.
type Config struct {
	// MaxRetries is the total number of attempts, the first one included.
	MaxRetries int

	// InitialBackoff is the wait before the second attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps a single wait. Zero means no cap.
	MaxBackoff time.Duration

	// Jitter in [0, 1] adds backoff * Jitter * attempt / MaxRetries to each
	// wait.
	Jitter float64
}

// DefaultConfig is tuned for reads against a local profiler service: a
// handful of quick attempts that give up well within one poll interval.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     200 * time.Millisecond,
		Jitter:         0.1,
	}
}

// Normalize fills non-positive fields from DefaultConfig.
func (c Config) Normalize() Config {
	def := DefaultConfig()
	if c.MaxRetries < 1 {
		c.MaxRetries = def.MaxRetries
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = def.InitialBackoff
	}
	return c
}

// ShouldRetryFunc reports whether err is worth another attempt. A nil
// ShouldRetryFunc retries every error.
type ShouldRetryFunc func(error) bool

// Do calls fn until it succeeds, shouldRetry rejects its error, attempts run
// out or ctx is done. Exhausted attempts are reported with the last error
// wrapped.
func Do(ctx context.Context, cfg Config, fn func() error, shouldRetry ShouldRetryFunc) error {
	var lastErr error

	for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(Backoff(cfg, attempt)):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("failed after %d retries: %w", cfg.MaxRetries, lastErr)
}

// Backoff returns the wait before the given attempt.
func Backoff(cfg Config, attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}

	backoff := time.Duration(math.Pow(2, float64(attempt-1)) * float64(cfg.InitialBackoff))
	if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
		backoff = cfg.MaxBackoff
	}

	if cfg.Jitter > 0 && cfg.MaxRetries > 0 {
		backoff += time.Duration(float64(backoff) * cfg.Jitter * float64(attempt) / float64(cfg.MaxRetries))
	}
	return backoff
}
