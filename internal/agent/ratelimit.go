package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrThrottled is returned when the next token would arrive after the
// caller's deadline.
var ErrThrottled = errors.New("throttled")

// RateLimiter is a token bucket that spaces out calls to one platform.
type RateLimiter struct {
	mu       sync.Mutex
	tokens   float64
	max      float64
	rate     float64 // tokens per second
	lastTime time.Time
}

func NewRateLimiter(maxBurst int, ratePerMinute float64) *RateLimiter {
	if maxBurst <= 0 {
		maxBurst = 1
	}
	if ratePerMinute <= 0 {
		ratePerMinute = 30
	}
	return &RateLimiter{
		tokens:   float64(maxBurst),
		max:      float64(maxBurst),
		rate:     ratePerMinute / 60.0,
		lastTime: time.Now(),
	}
}

// Wait reserves the next token and blocks until it is due. Reservations are
// served in call order, so concurrent callers queue one spacing apart. It
// fails fast with ErrThrottled when ctx has a deadline that falls before the
// reserved slot; a reservation given up that way or by cancellation is
// returned to the bucket.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rl.mu.Lock()
	now := time.Now()
	rl.refill(now)
	rl.tokens--
	if rl.tokens >= 0 {
		rl.mu.Unlock()
		return nil
	}
	wait := time.Duration(-rl.tokens / rl.rate * float64(time.Second))
	if deadline, ok := ctx.Deadline(); ok && now.Add(wait).After(deadline) {
		rl.tokens++
		rl.mu.Unlock()
		return fmt.Errorf("%w: next slot in %s", ErrThrottled, wait.Round(time.Second))
	}
	rl.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		rl.release()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// refill must be called with mu held. tokens is negative while callers are
// queued.
func (rl *RateLimiter) refill(now time.Time) {
	rl.tokens += now.Sub(rl.lastTime).Seconds() * rl.rate
	if rl.tokens > rl.max {
		rl.tokens = rl.max
	}
	rl.lastTime = now
}

func (rl *RateLimiter) release() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill(time.Now())
	rl.tokens++
	if rl.tokens > rl.max {
		rl.tokens = rl.max
	}
}

// Spacing is the interval between two tokens.
func (rl *RateLimiter) Spacing() time.Duration {
	return time.Duration(float64(time.Second) / rl.rate).Round(time.Millisecond)
}
