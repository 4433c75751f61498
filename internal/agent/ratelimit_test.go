package agent

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRateLimiter_ImmediateBurst(t *testing.T) {
	rl := NewRateLimiter(5, 60.0)

	// Should be able to consume 5 tokens immediately (burst)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := rl.Wait(ctx); err != nil {
			t.Fatalf("burst token %d failed: %v", i, err)
		}
	}
}

func TestRateLimiter_WaitsAfterBurst(t *testing.T) {
	rl := NewRateLimiter(1, 600.0) // 1 burst, 10/sec refill

	ctx := context.Background()
	// Consume the single burst token
	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("first wait: %v", err)
	}

	// Next wait should block briefly
	start := time.Now()
	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("second wait: %v", err)
	}
	elapsed := time.Since(start)

	// Should have waited ~100ms (1 token / 10 per sec)
	if elapsed < 50*time.Millisecond {
		t.Fatalf("expected some wait time, got %v", elapsed)
	}
}

func TestRateLimiter_CancelledContext(t *testing.T) {
	rl := NewRateLimiter(1, 1.0) // 1 burst, very slow refill

	ctx, cancel := context.WithCancel(context.Background())

	// Drain the burst
	if err := rl.Wait(ctx); err != nil {
		t.Fatal(err)
	}

	// Cancel context before next wait completes
	cancel()
	err := rl.Wait(ctx)
	if err == nil {
		t.Fatal("expected context cancelled error")
	}
}

func TestRateLimiter_DefaultValues(t *testing.T) {
	// Zero/negative values should use defaults
	rl := NewRateLimiter(0, 0)
	if rl.max != 1 {
		t.Fatalf("expected default max=1, got %v", rl.max)
	}
	if rl.rate == 0 {
		t.Fatal("rate should not be zero")
	}
}

func TestRateLimiter_TokenRefill(t *testing.T) {
	rl := NewRateLimiter(2, 6000.0) // 2 burst, 100/sec refill

	ctx := context.Background()

	// Consume both burst tokens
	rl.Wait(ctx)
	rl.Wait(ctx)

	// Wait 30ms, should refill ~3 tokens at 100/sec
	time.Sleep(30 * time.Millisecond)

	start := time.Now()
	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("post-refill wait: %v", err)
	}
	elapsed := time.Since(start)

	// Should return almost immediately since tokens refilled
	if elapsed > 20*time.Millisecond {
		t.Fatalf("expected near-instant after refill, got %v", elapsed)
	}
}

func TestRateLimiter_ThrottledBeforeDeadline(t *testing.T) {
	rl := NewRateLimiter(1, 1.0/15) // one call per 15 minutes

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rl.Wait(ctx); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	err := rl.Wait(ctx)
	if !errors.Is(err, ErrThrottled) {
		t.Fatalf("expected ErrThrottled, got %v", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("throttled wait should fail fast")
	}
}

func TestRateLimiter_QueuesConcurrentCallers(t *testing.T) {
	rl := NewRateLimiter(1, 600.0) // one token every 100ms

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	done := make(chan time.Duration, 3)
	for i := 0; i < 3; i++ {
		go func() {
			if err := rl.Wait(ctx); err != nil {
				t.Errorf("wait: %v", err)
			}
			done <- time.Since(start)
		}()
	}
	var last time.Duration
	for i := 0; i < 3; i++ {
		if d := <-done; d > last {
			last = d
		}
	}
	// The third caller holds the slot two spacings out.
	if last < 150*time.Millisecond {
		t.Fatalf("callers were not spaced out, last returned after %v", last)
	}
}

func TestRateLimiter_ThrottledReleasesReservation(t *testing.T) {
	rl := NewRateLimiter(1, 600.0)
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	short, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := rl.Wait(short); !errors.Is(err, ErrThrottled) {
		t.Fatalf("expected ErrThrottled, got %v", err)
	}

	// The refused caller must not push the next one further back.
	start := time.Now()
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 180*time.Millisecond {
		t.Fatalf("waited %v, the refused reservation was kept", elapsed)
	}
}

func TestRateLimiter_Spacing(t *testing.T) {
	if got := NewRateLimiter(1, 1.0/15).Spacing(); got != 15*time.Minute {
		t.Fatalf("expected 15m, got %v", got)
	}
}
