package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/KunjShah01/RL-A2A/runtime/rlerrors"
)

func fastConfig() Config {
	return Config{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		BackoffMultiplier: 2,
		Jitter:            0.2,
	}
}

func TestSucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return rlerrors.New(rlerrors.KindTransient, "flaky")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestNonTransientReturnsImmediately(t *testing.T) {
	attempts := 0
	fatal := rlerrors.New(rlerrors.KindFatal, "broken")
	err := Do(context.Background(), fastConfig(), func(context.Context) error {
		attempts++
		return fatal
	})
	require.ErrorIs(t, err, fatal)
	require.Equal(t, 1, attempts)
}

func TestPlainErrorsAreNotRetried(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(), func(context.Context) error {
		attempts++
		return errors.New("plain failure")
	})
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestExhaustionPromotes(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(), func(context.Context) error {
		attempts++
		return rlerrors.New(rlerrors.KindTransient, "always flaky")
	})
	require.Equal(t, 3, attempts)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, 3, exhausted.Attempts)
	// The promoted error is no longer retryable even though its cause was.
	require.False(t, rlerrors.IsRetryable(err))
	require.Equal(t, rlerrors.KindTransient, rlerrors.KindOf(exhausted.LastError))
}

func TestContextCancellationAbortsWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxAttempts: 5, InitialBackoff: time.Hour, BackoffMultiplier: 2}

	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, cfg, func(context.Context) error {
			return rlerrors.New(rlerrors.KindTransient, "flaky")
		})
	}()
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("retry did not observe cancellation")
	}
}

func TestZeroAttemptsMeansOne(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Config{}, func(context.Context) error {
		attempts++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, attempts)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, 3, cfg.MaxAttempts)
	require.Equal(t, 200*time.Millisecond, cfg.InitialBackoff)
	require.Equal(t, 2.0, cfg.BackoffMultiplier)
	require.Equal(t, 0.2, cfg.Jitter)
}
