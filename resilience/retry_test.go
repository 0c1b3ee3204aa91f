package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/statecraft/agentmem/core"
)

func fastRetryConfig(attempts int) *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   attempts,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(3), func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("redis dial: %w", core.ErrStoreUnavailable)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry() failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryNonRetryableReturnsImmediately(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(5), func() error {
		calls++
		return fmt.Errorf("bad payload: %w", core.ErrSerialization)
	})
	if !errors.Is(err, core.ErrSerialization) {
		t.Fatalf("Retry() error = %v, want ErrSerialization", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 for a non-retryable error", calls)
	}
}

func TestRetryExhaustionKeepsBothSentinels(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetryConfig(3), func() error {
		calls++
		return fmt.Errorf("timed out: %w", core.ErrTimeout)
	})
	if calls != 3 {
		t.Errorf("calls = %d, want the full budget of 3", calls)
	}
	if !errors.Is(err, core.ErrMaxRetriesExceeded) {
		t.Errorf("error chain missing ErrMaxRetriesExceeded: %v", err)
	}
	if !errors.Is(err, core.ErrTimeout) {
		t.Errorf("error chain missing the underlying ErrTimeout: %v", err)
	}
}

func TestRetryContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, fastRetryConfig(10), func() error {
		calls++
		cancel()
		return fmt.Errorf("down: %w", core.ErrStoreUnavailable)
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Retry() error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 after cancellation", calls)
	}
}

func TestRetryNilConfigUsesDefaults(t *testing.T) {
	if err := Retry(context.Background(), nil, func() error { return nil }); err != nil {
		t.Fatalf("Retry() failed: %v", err)
	}
}

func TestFromConfig(t *testing.T) {
	rc := FromConfig(&core.Config{
		RetryAttempts:     7,
		RetryInitialDelay: 3 * time.Millisecond,
		RetryMaxDelay:     9 * time.Millisecond,
	})
	if rc.MaxAttempts != 7 {
		t.Errorf("MaxAttempts = %d, want 7", rc.MaxAttempts)
	}
	if rc.InitialDelay != 3*time.Millisecond {
		t.Errorf("InitialDelay = %v, want 3ms", rc.InitialDelay)
	}
	if rc.MaxDelay != 9*time.Millisecond {
		t.Errorf("MaxDelay = %v, want 9ms", rc.MaxDelay)
	}

	// Zero-valued and nil configs fall back to the defaults
	def := DefaultRetryConfig()
	if got := FromConfig(nil); got.MaxAttempts != def.MaxAttempts {
		t.Errorf("FromConfig(nil).MaxAttempts = %d, want default %d", got.MaxAttempts, def.MaxAttempts)
	}
	if got := FromConfig(&core.Config{}); got.InitialDelay != def.InitialDelay {
		t.Errorf("FromConfig(zero).InitialDelay = %v, want default %v", got.InitialDelay, def.InitialDelay)
	}
}
