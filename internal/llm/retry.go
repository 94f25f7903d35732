package llm

import (
	"context"
	"time"
)

// RetryConfig controls the backoff schedule used when a provider call
// fails with a transient/overload error (spec.md §4.5: "retry with
// exponential backoff on transient overload (at least 5 attempts,
// starting 1s, doubling)"). Grounded on the donor's BaseProvider.Retry
// (internal/agent/providers/base.go), generalized from linear to
// exponential backoff per the spec.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryConfig matches spec.md §4.5's minimum schedule.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 5, BaseDelay: time.Second}
}

// Retryable classifies whether an error is worth retrying (overload,
// rate limit, transient network/server failure).
type Retryable func(error) bool

// Retry runs op up to cfg.MaxAttempts times, doubling the delay after
// each retryable failure, and returns the last error if every attempt
// fails.
func Retry(ctx context.Context, cfg RetryConfig, isRetryable Retryable, op func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultRetryConfig().MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultRetryConfig().BaseDelay
	}

	delay := cfg.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err
		if isRetryable != nil && !isRetryable(err) {
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return lastErr
}
