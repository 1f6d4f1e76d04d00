// Package resilience retries flaky calls to external services (postgres,
// kafka) with exponential backoff and jitter.
package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

type RetryConfig struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	JitterFraction float64
	// Retryable reports whether err is worth another attempt. Nil retries
	// every error.
	Retryable func(err error) bool
}

// withDefaults fills zero fields: 3 attempts, 100ms doubling up to 10s,
// with ±10% jitter.
func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2
	}
	if c.JitterFraction <= 0 {
		c.JitterFraction = 0.1
	}
	return c
}

// backoff yields the delay before each retry.
type backoff struct {
	cfg  RetryConfig
	next float64
}

func (b *backoff) delay() time.Duration {
	if b.next == 0 {
		b.next = float64(b.cfg.InitialDelay)
	}
	d := b.next * (1 + b.cfg.JitterFraction*(2*rand.Float64()-1))
	b.next = min(b.next*b.cfg.Multiplier, float64(b.cfg.MaxDelay))
	return time.Duration(max(min(d, float64(b.cfg.MaxDelay)), 0))
}

// Retry calls fn until it succeeds, returns an error Retryable rejects, or
// MaxAttempts calls have failed. The returned error wraps fn's last error,
// or ctx's error when cancellation cut the retries short.
func Retry(ctx context.Context, name string, cfg RetryConfig, fn func() error) error {
	cfg = cfg.withDefaults()
	logger := slog.Default().With("component", "retry", "operation", name)
	b := &backoff{cfg: cfg}

	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			if attempt > 1 {
				logger.Info("succeeded after retry", "attempt", attempt)
			}
			return nil
		}
		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return fmt.Errorf("%s: %w", name, err)
		}
		if attempt == cfg.MaxAttempts {
			return fmt.Errorf("all %d attempts failed for %s: %w", cfg.MaxAttempts, name, err)
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry aborted: %w", ctx.Err())
		}

		wait := b.delay()
		logger.Warn("operation failed, retrying",
			"attempt", attempt,
			"max_attempts", cfg.MaxAttempts,
			"error", err,
			"next_delay", wait,
		)
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry aborted during backoff: %w", ctx.Err())
		}
	}
}
