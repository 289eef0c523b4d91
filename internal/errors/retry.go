package errors

import (
	"context"
	"time"
)

// RetryConfig configures retry behavior for adapter calls.
// The query pipeline allows at most one retry per adapter with a fixed
// backoff so that retries never dominate the per-stage timeout budget.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (not including the
	// initial attempt).
	MaxRetries int

	// Backoff is the fixed delay before each retry.
	Backoff time.Duration
}

// DefaultRetryConfig returns the default adapter retry budget.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 1,
		Backoff:    200 * time.Millisecond,
	}
}

// Retry executes fn, retrying on failure up to cfg.MaxRetries times with a
// fixed backoff between attempts. If the context is cancelled, it returns the
// context error immediately. Non-retryable SibylErrors are returned without
// further attempts.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		// A structured error that declares itself non-retryable stops here.
		if se, ok := err.(*SibylError); ok && !se.Retryable {
			return err
		}

		if attempt >= cfg.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.Backoff):
		}
	}

	return lastErr
}
