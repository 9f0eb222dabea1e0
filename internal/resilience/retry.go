// Package resilience provides the fixed-delay retry policy used by the
// Chain Client Pool: up to N attempts, a constant pause between them,
// no backoff growth.
package resilience

import (
	"context"
	"time"
)

// FixedRetryConfig configures a bounded, constant-delay retry.
type FixedRetryConfig struct {
	MaxAttempts int
	Delay       time.Duration
}

// Retry runs fn up to cfg.MaxAttempts times, pausing cfg.Delay between
// attempts. It returns the last error if every attempt fails, or nil on
// the first success. ctx cancellation aborts the wait between attempts.
func Retry(ctx context.Context, cfg FixedRetryConfig, fn func() error) error {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cfg.Delay):
			}
		}
	}
	return lastErr
}
