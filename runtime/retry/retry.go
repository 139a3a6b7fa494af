// Package retry provides the transient-failure retry policy applied at the
// point of origin of external calls: exponential backoff with jitter, with
// exhaustion promoting the failure to the caller.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/KunjShah01/RL-A2A/runtime/rlerrors"
)

// Config configures retry behavior.
type Config struct {
	// MaxAttempts is the maximum number of attempts including the initial
	// one. Zero or one means no retries.
	MaxAttempts int
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration
	// BackoffMultiplier is the factor applied after each retry.
	BackoffMultiplier float64
	// MaxBackoff caps the delay between retries. Zero means uncapped.
	MaxBackoff time.Duration
	// Jitter randomizes each backoff by ±Jitter (0.2 means ±20%).
	Jitter float64
}

// DefaultConfig returns the documented transient-retry policy: three
// attempts with 200 ms base, factor 2, jitter ±20%.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		InitialBackoff:    200 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxBackoff:        10 * time.Second,
		Jitter:            0.2,
	}
}

// ExhaustedError is returned when all attempts failed with transient
// errors. It promotes the transient failure: ExhaustedError itself is not
// retryable.
type ExhaustedError struct {
	// Attempts is the number of attempts made.
	Attempts int
	// TotalDuration is the total time spent across attempts.
	TotalDuration time.Duration
	// LastError is the error from the final attempt.
	LastError error
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts over %v: %v", e.Attempts, e.TotalDuration, e.LastError)
}

// Unwrap returns the final attempt's error wrapped as Fatal, so the
// exhausted failure classifies as non-retryable while errors.Is still
// reaches the original cause.
func (e *ExhaustedError) Unwrap() error {
	return rlerrors.Wrap(rlerrors.KindFatal, e.LastError, "retry exhausted")
}

// Do executes fn, retrying Transient failures per cfg. Non-transient errors
// return immediately. Context cancellation aborts the wait.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !rlerrors.IsRetryable(err) {
			return err
		}
		if attempt >= cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff(cfg, attempt)):
		}
	}

	return &ExhaustedError{
		Attempts:      cfg.MaxAttempts,
		TotalDuration: time.Since(start),
		LastError:     lastErr,
	}
}

// backoff computes the delay before the next attempt.
func backoff(cfg Config, attempt int) time.Duration {
	d := float64(cfg.InitialBackoff) * math.Pow(cfg.BackoffMultiplier, float64(attempt-1))
	if cfg.MaxBackoff > 0 && d > float64(cfg.MaxBackoff) {
		d = float64(cfg.MaxBackoff)
	}
	if cfg.Jitter > 0 {
		d += d * cfg.Jitter * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
