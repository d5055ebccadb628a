package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsAfterRetryableFailures(t *testing.T) {
	base := NewBaseProvider("test", 3, time.Millisecond)
	attempts := 0

	err := base.Retry(context.Background(), func(error) bool { return true }, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry() = %v, want nil", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryStopsOnNonRetryableError(t *testing.T) {
	base := NewBaseProvider("test", 5, time.Millisecond)
	attempts := 0
	wantErr := errors.New("permanent")

	err := base.Retry(context.Background(), func(error) bool { return false }, func() error {
		attempts++
		return wantErr
	})

	if !errors.Is(err, wantErr) {
		t.Fatalf("Retry() = %v, want %v", err, wantErr)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (should not retry non-retryable errors)", attempts)
	}
}

func TestRetryExhaustsMaxAttempts(t *testing.T) {
	base := NewBaseProvider("test", 3, time.Millisecond)
	attempts := 0
	wantErr := errors.New("always fails")

	err := base.Retry(context.Background(), func(error) bool { return true }, func() error {
		attempts++
		return wantErr
	})

	if !errors.Is(err, wantErr) {
		t.Fatalf("Retry() = %v, want %v", err, wantErr)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryRespectsContextCancellation(t *testing.T) {
	base := NewBaseProvider("test", 5, 50*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	err := base.Retry(ctx, func(error) bool { return true }, func() error {
		attempts++
		if attempts == 1 {
			cancel()
		}
		return errors.New("transient")
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Retry() = %v, want context.Canceled", err)
	}
}
