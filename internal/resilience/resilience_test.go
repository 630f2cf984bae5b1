package resilience

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mcops/masterclaw/internal/constants"
	"github.com/mcops/masterclaw/internal/errkind"
)

func withStateDir(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	old := os.Getenv(constants.EnvStateDir)
	os.Setenv(constants.EnvStateDir, dir)
	t.Cleanup(func() { os.Setenv(constants.EnvStateDir, old) })
	_ = filepath.Join(dir)
}

func TestBreakerOpensAfterFailureThreshold(t *testing.T) {
	withStateDir(t)
	b, err := New("gateway", Config{FailureThreshold: 2, ResetTimeoutMillis: 100000, SuccessThreshold: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := b.Allow(); err != nil {
			t.Fatalf("Allow() iteration %d: %v", i, err)
		}
		if err := b.RecordFailure(); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}

	if err := b.Allow(); errkind.KindOf(err) != errkind.CircuitOpen {
		t.Fatalf("Allow() after threshold = %v, want CircuitOpen", err)
	}
}

func TestBreakerClosesAfterHalfOpenSuccesses(t *testing.T) {
	withStateDir(t)
	b, err := New("gateway", Config{FailureThreshold: 1, ResetTimeoutMillis: 1000, SuccessThreshold: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := b.Allow(); err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if err := b.RecordFailure(); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	// Advance the clock past ResetTimeoutMillis so the next Allow moves open -> half-open.
	start := time.Now()
	timeNow = func() time.Time { return start.Add(2 * time.Second) }
	t.Cleanup(func() { timeNow = time.Now })
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow (half-open probe): %v", err)
	}
	if err := b.RecordSuccess(); err != nil {
		t.Fatalf("RecordSuccess 1: %v", err)
	}
	if err := b.RecordSuccess(); err != nil {
		t.Fatalf("RecordSuccess 2: %v", err)
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow() after closing = %v, want nil", err)
	}
}

func TestDoRetriesRetryableErrors(t *testing.T) {
	withStateDir(t)
	b, err := New("openai", Config{FailureThreshold: 100})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	attempts := 0
	_, err = Do(context.Background(), b, RetryConfig{MaxRetries: 2, BaseDelay: 1, MaxDelay: 2}, true, nil,
		func(ctx context.Context) (string, error) {
			attempts++
			if attempts < 3 {
				return "", errkind.New(errkind.Generic, "timed out").WithRule("TIMEOUT")
			}
			return "ok", nil
		})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestDoDoesNotRetryNonIdempotent(t *testing.T) {
	withStateDir(t)
	b, err := New("openai", Config{FailureThreshold: 100})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	attempts := 0
	_, err = Do(context.Background(), b, RetryConfig{MaxRetries: 2, BaseDelay: 1, MaxDelay: 2}, false, nil,
		func(ctx context.Context) (string, error) {
			attempts++
			return "", errkind.New(errkind.Generic, "timed out").WithRule("TIMEOUT")
		})
	if err == nil {
		t.Fatalf("expected Do to propagate the error for a non-idempotent op")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry for non-idempotent op)", attempts)
	}
}
