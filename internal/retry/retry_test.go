package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient")
var errPermanent = errors.New("permanent")

func isTransient(err error) bool { return errors.Is(err, errTransient) }

func fastConfig(attempts int) Config {
	return Config{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestDo_SucceedsFirstTry(t *testing.T) {
	v, n, err := Do(context.Background(), fastConfig(3), isTransient, func(ctx context.Context) (string, error) {
		return "ok", nil
	})
	if err != nil || v != "ok" || n != 1 {
		t.Fatalf("got (%q, %d, %v)", v, n, err)
	}
}

func TestDo_RetriesTransientUntilSuccess(t *testing.T) {
	calls := 0
	v, n, err := Do(context.Background(), fastConfig(5), isTransient, func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errTransient
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if v != 42 || n != 3 {
		t.Fatalf("expected 42 after 3 attempts, got %d after %d", v, n)
	}
}

func TestDo_StopsAtMaxAttempts(t *testing.T) {
	_, n, err := Do(context.Background(), fastConfig(3), isTransient, func(ctx context.Context) (int, error) {
		return 0, errTransient
	})
	if !errors.Is(err, errTransient) {
		t.Fatalf("expected last transient error, got %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 attempts, got %d", n)
	}
}

func TestDo_PermanentNotRetried(t *testing.T) {
	_, n, err := Do(context.Background(), fastConfig(5), isTransient, func(ctx context.Context) (int, error) {
		return 0, errPermanent
	})
	if !errors.Is(err, errPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if n != 1 {
		t.Fatalf("permanent error must not be retried, got %d attempts", n)
	}
}

func TestDo_NormalizesAttempts(t *testing.T) {
	_, n, _ := Do(context.Background(), Config{MaxAttempts: -2}, isTransient, func(ctx context.Context) (int, error) {
		return 0, errTransient
	})
	if n != 1 {
		t.Fatalf("expected single attempt, got %d", n)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	cfg := Config{MaxAttempts: 100, BaseDelay: 20 * time.Millisecond, MaxDelay: 20 * time.Millisecond}
	_, _, err := Do(ctx, cfg, isTransient, func(ctx context.Context) (int, error) {
		return 0, errTransient
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

type throttledError struct{ after time.Duration }

func (e *throttledError) Error() string             { return "throttled" }
func (e *throttledError) Unwrap() error             { return errTransient }
func (e *throttledError) RetryDelay() time.Duration { return e.after }

func TestDo_HonorsRetryDelay(t *testing.T) {
	cfg := Config{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Second}
	calls := 0
	start := time.Now()
	_, n, err := Do(context.Background(), cfg, isTransient, func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, &throttledError{after: 60 * time.Millisecond}
		}
		return 1, nil
	})
	if err != nil || n != 2 {
		t.Fatalf("got (%d, %v)", n, err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("retried after %v, before the requested delay", elapsed)
	}
}

func TestDo_RetryDelayCappedAtMaxDelay(t *testing.T) {
	cfg := Config{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 20 * time.Millisecond}
	calls := 0
	start := time.Now()
	_, _, err := Do(context.Background(), cfg, isTransient, func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, &throttledError{after: 10 * time.Second}
		}
		return 1, nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("delay not capped: waited %v", elapsed)
	}
}

func TestDo_ZeroRetryDelayUsesBackoff(t *testing.T) {
	calls := 0
	_, n, err := Do(context.Background(), fastConfig(3), isTransient, func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, &throttledError{}
		}
		return 1, nil
	})
	if err != nil || n != 3 {
		t.Fatalf("got (%d, %v)", n, err)
	}
}

func TestDo_WithJitter(t *testing.T) {
	cfg := fastConfig(4)
	cfg.Jitter = 0.5
	calls := 0
	_, n, err := Do(context.Background(), cfg, isTransient, func(ctx context.Context) (int, error) {
		calls++
		if calls < 4 {
			return 0, errTransient
		}
		return 1, nil
	})
	if err != nil || n != 4 {
		t.Fatalf("got (%d, %v)", n, err)
	}
}
