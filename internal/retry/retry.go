// Package retry provides exponential backoff for symbol server downloads.
//
//	err := retry.Do(ctx, cfg, func() error {
//	    return client.fetch(ctx, url, dst)
//	}, isTransient)
//
// The backoff before attempt n (n >= 1) is InitialBackoff * 2^(n-1), capped
// at MaxBackoff, plus a jitter share that grows with the attempt number.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Config defines the retry behavior.
type Config struct {
	// MaxRetries is the maximum number of attempts. Values below 1 mean one attempt.
	MaxRetries int `yaml:"max_retries" toml:"max_retries"`

	// InitialBackoff is the wait before the second attempt.
	InitialBackoff time.Duration `yaml:"initial_backoff" toml:"initial_backoff"`

	// MaxBackoff caps the backoff duration. Zero means no cap.
	MaxBackoff time.Duration `yaml:"max_backoff" toml:"max_backoff"`

	// Jitter adds up to this fraction of the backoff (0.0 to 1.0).
	Jitter float64 `yaml:"jitter" toml:"jitter"`
}

// DefaultConfig returns the retry policy used for downloads.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     4,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Jitter:         0.2,
	}
}

// ShouldRetryFunc determines if an error should trigger a retry. If nil,
// all errors are retried.
type ShouldRetryFunc func(error) bool

// Do executes fn until it succeeds, shouldRetry rejects its error, or the
// attempts are exhausted. Context cancellation during a backoff returns
// the context error.
func Do(ctx context.Context, cfg Config, fn func() error, shouldRetry ShouldRetryFunc) error {
	attempts := max(cfg.MaxRetries, 1)
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(calculateBackoff(cfg, attempt)):
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

	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}

func calculateBackoff(cfg Config, attempt int) time.Duration {
	multiplier := math.Pow(2, float64(attempt-1))
	backoff := time.Duration(multiplier * float64(cfg.InitialBackoff))

	if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
		backoff = cfg.MaxBackoff
	}

	if cfg.Jitter > 0 && cfg.MaxRetries > 0 {
		jitterAmount := float64(backoff) * cfg.Jitter * float64(attempt) / float64(cfg.MaxRetries)
		backoff += time.Duration(jitterAmount)
	}

	return backoff
}
