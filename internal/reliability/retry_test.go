package reliability

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetry_Success(t *testing.T) {
	attempts := 0
	fn := func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("database locked")
		}
		return nil
	}

	config := RetryConfig{
		MaxRetries:     5,
		InitialBackoff: 10 * time.Millisecond,
		Multiplier:     2.0,
	}

	if err := Retry(context.Background(), config, fn); err != nil {
		t.Errorf("Retry() error = %v, want nil", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetry_MaxRetriesExceeded(t *testing.T) {
	attempts := 0
	cause := errors.New("persistent error")
	fn := func(ctx context.Context) error {
		attempts++
		return cause
	}

	err := Retry(context.Background(), RetryConfig{MaxRetries: 3, InitialBackoff: time.Millisecond}, fn)
	if !errors.Is(err, ErrMaxRetriesExceeded) {
		t.Errorf("expected ErrMaxRetriesExceeded, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("expected the last error to be wrapped, got %v", err)
	}
	if attempts != 4 { // Initial attempt + 3 retries
		t.Errorf("attempts = %d, want 4", attempts)
	}
}

func TestRetry_Permanent(t *testing.T) {
	attempts := 0
	cause := errors.New("unknown backend")
	fn := func(ctx context.Context) error {
		attempts++
		return Permanent(cause)
	}

	err := Retry(context.Background(), RetryConfig{MaxRetries: 3, InitialBackoff: time.Millisecond}, fn)
	if err != cause {
		t.Errorf("expected the unwrapped cause, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetry_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	fn := func(ctx context.Context) error {
		attempts++
		cancel()
		return errors.New("error")
	}

	err := Retry(ctx, RetryConfig{MaxRetries: 5, InitialBackoff: time.Second}, fn)
	if !errors.Is(err, ErrRetryAborted) {
		t.Errorf("expected ErrRetryAborted, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetry_ContextErrorNotRetried(t *testing.T) {
	attempts := 0
	fn := func(ctx context.Context) error {
		attempts++
		return context.DeadlineExceeded
	}

	err := Retry(context.Background(), RetryConfig{MaxRetries: 3, InitialBackoff: time.Millisecond}, fn)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetry_OnRetryBackoff(t *testing.T) {
	var waits []time.Duration
	config := RetryConfig{
		MaxRetries:     4,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     4 * time.Millisecond,
		Multiplier:     2,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			waits = append(waits, wait)
		},
	}

	Retry(context.Background(), config, func(ctx context.Context) error {
		return errors.New("fail")
	})

	want := []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond, 4 * time.Millisecond}
	if len(waits) != len(want) {
		t.Fatalf("got %d waits, want %d", len(waits), len(want))
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Errorf("wait %d = %v, want %v", i, waits[i], want[i])
		}
	}
}

func TestAddJitter(t *testing.T) {
	d := 100 * time.Millisecond
	for i := 0; i < 100; i++ {
		got := addJitter(d)
		if got < 90*time.Millisecond || got > 110*time.Millisecond {
			t.Fatalf("addJitter(%v) = %v, outside ±10%%", d, got)
		}
	}
}
