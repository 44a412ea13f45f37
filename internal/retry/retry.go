// Package retry re-runs an operation with exponential backoff.
//
// memlens uses it to wait for a target process that is not running yet, or
// to reattach after the target restarted:
//
//	err := retry.Do(ctx, cfg, func() error {
//	    sess, err = attacher.Attach(ctx, opts)
//	    return err
//	}, func(err error) bool {
//	    return errors.Is(err, memory.ErrProcessNotFound)
//	})
//
// The backoff before attempt n (n >= 1) is InitialBackoff * 2^(n-1), capped
// at MaxBackoff, plus an optional jitter that grows with the attempt number.
// Context cancellation ends the loop immediately with the context error.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Config defines the retry behavior.
//
// The zero value is not usable; MaxRetries and InitialBackoff must be set.
type Config struct {
	// MaxRetries is the maximum number of attempts. Must be greater than 0.
	MaxRetries int

	// InitialBackoff is the wait before the second attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the backoff duration. Zero means no cap.
	MaxBackoff time.Duration

	// Jitter adds up to backoff*Jitter of extra wait on the last attempt
	// (0.0 to 1.0). Zero means no jitter.
	Jitter float64
}

// ShouldRetryFunc reports whether an error should trigger another attempt.
// A nil ShouldRetryFunc retries every error.
type ShouldRetryFunc func(error) bool

// NotifyFunc is called before each backoff with the failed attempt number
// (starting at 1), its error and the wait that follows.
type NotifyFunc func(attempt int, err error, wait time.Duration)

// Do calls fn up to cfg.MaxRetries times until it succeeds, shouldRetry
// rejects its error, or ctx is done. When retries are exhausted the last
// error is wrapped.
func Do(ctx context.Context, cfg Config, fn func() error, shouldRetry ShouldRetryFunc) error {
	return DoNotify(ctx, cfg, fn, shouldRetry, nil)
}

// DoNotify is Do with a hook invoked before every backoff.
func DoNotify(ctx context.Context, cfg Config, fn func() error, shouldRetry ShouldRetryFunc, notify NotifyFunc) error {
	var lastErr error

	for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := calculateBackoff(cfg, attempt)
			if notify != nil {
				notify(attempt, lastErr, backoff)
			}

			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
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

// calculateBackoff computes the wait before the given attempt.
//
// With InitialBackoff=500ms, MaxBackoff=5s, Jitter=0 the waits are 500ms,
// 1s, 2s, 4s, 5s, 5s.
func calculateBackoff(cfg Config, attempt int) time.Duration {
	multiplier := math.Pow(2, float64(attempt-1))
	backoff := time.Duration(multiplier * float64(cfg.InitialBackoff))

	if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
		backoff = cfg.MaxBackoff
	}

	if cfg.Jitter > 0 {
		jitterAmount := float64(backoff) * cfg.Jitter * float64(attempt) / float64(cfg.MaxRetries)
		backoff += time.Duration(jitterAmount)
	}

	return backoff
}
