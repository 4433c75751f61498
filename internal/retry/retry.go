// Package retry provides the bounded exponential backoff shared by every
// component that talks to a remote service.
package retry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// Config bounds a retry loop.
type Config struct {
	MaxAttempts int           // total attempts including the first, >= 1
	BaseDelay   time.Duration // first backoff delay
	MaxDelay    time.Duration // backoff ceiling
	Jitter      float64       // 0..1 fraction applied to each delay
}

// Default returns the settings used when a component configures nothing.
func Default() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Jitter:      0.1,
	}
}

func normalize(cfg Config) Config {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.Jitter < 0 || cfg.Jitter > 1 {
		cfg.Jitter = 0
	}
	return cfg
}

// DelayHinter is implemented by errors that carry a server-requested wait,
// such as a Retry-After header.
type DelayHinter interface {
	RetryDelay() time.Duration
}

// hintedDelay returns the wait requested by the last error, capped at ceiling,
// or -1 so the policy falls back to its backoff.
func hintedDelay[T any](ceiling time.Duration) failsafe.DelayFunc[T] {
	return func(exec failsafe.ExecutionAttempt[T]) time.Duration {
		var h DelayHinter
		if !errors.As(exec.LastError(), &h) {
			return -1
		}
		d := h.RetryDelay()
		if d <= 0 {
			return -1
		}
		return min(d, ceiling)
	}
}

// Policy builds the failsafe retry policy for cfg. Only errors for which
// retryable returns true are retried. An error implementing DelayHinter
// replaces the backoff delay for the next attempt.
func Policy[T any](cfg Config, retryable func(error) bool) retrypolicy.RetryPolicy[T] {
	cfg = normalize(cfg)
	builder := retrypolicy.NewBuilder[T]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithDelayFunc(hintedDelay[T](cfg.MaxDelay)).
		WithMaxRetries(cfg.MaxAttempts - 1)
	if cfg.Jitter > 0 {
		builder = builder.WithJitterFactor(cfg.Jitter)
	}
	return builder.HandleIf(func(_ T, err error) bool {
		return err != nil && retryable != nil && retryable(err)
	}).Build()
}

// Do runs fn until it succeeds, returns a non-retryable error, the attempt
// budget is spent or ctx is done. It reports how many attempts were made and
// the error of the last attempt.
func Do[T any](ctx context.Context, cfg Config, retryable func(error) bool, fn func(ctx context.Context) (T, error)) (T, int, error) {
	var (
		attempts int32
		lastErr  error
	)
	result, err := failsafe.With[T](Policy[T](cfg, retryable)).
		WithContext(ctx).
		Get(func() (T, error) {
			atomic.AddInt32(&attempts, 1)
			v, err := fn(ctx)
			lastErr = err
			return v, err
		})

	n := int(atomic.LoadInt32(&attempts))
	if err == nil {
		return result, n, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		if lastErr != nil {
			return result, n, fmt.Errorf("%w (last error: %v)", ctxErr, lastErr)
		}
		return result, n, ctxErr
	}
	if lastErr != nil {
		return result, n, lastErr
	}
	return result, n, err
}
