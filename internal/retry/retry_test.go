package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoRetriesOnce(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 2}, func(context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestDoReturnsLastError(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 2}, func(context.Context) error {
		calls++
		return errors.New("down")
	})
	if err == nil || err.Error() != "down" {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestDoStopsOnPermanent(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("bad request")
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 2}, func(context.Context) error {
		calls++
		return Permanent(sentinel)
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDoAppliesAttemptTimeout(t *testing.T) {
	t.Parallel()

	err := Do(context.Background(), Policy{MaxAttempts: 1, Timeout: 10 * time.Millisecond}, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestDoHonoursCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_ = Do(ctx, Policy{MaxAttempts: 2, Delay: time.Hour}, func(context.Context) error {
		calls++
		return errors.New("fail")
	})
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}
