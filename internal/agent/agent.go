// Package agent implements the award pipeline: a detector, the intake and
// dispatch coordinators, the content agent and one publisher agent per
// platform. Agents only talk to each other through the message bus.
package agent

import (
	"context"
	"fmt"
	"sync"

	"awardbot/internal/domain"
)

// Sender names used on the bus.
const (
	senderDetector = "detector"
	senderIntake   = "intake"
	senderDispatch = "dispatch"
	senderContent  = "content"
)

func publisherSender(platform string) string {
	return "publisher:" + platform
}

// payload extracts a typed payload, reporting a mismatch as an error so the
// bus logs it.
func payload[T any](msg domain.Message) (*T, error) {
	p, ok := msg.Payload.(*T)
	if !ok || p == nil {
		var zero T
		return nil, fmt.Errorf("unexpected payload %T on %s, want *%T", msg.Payload, msg.Topic, zero)
	}
	return p, nil
}

// subscriptions closes a group of bus subscriptions together.
type subscriptions []domain.Subscription

func (s subscriptions) close() {
	for _, sub := range s {
		sub.Close()
	}
}

// workers runs handler-spawned goroutines. Once stopped it refuses new
// work, so wait never races with a late handler.
type workers struct {
	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

func (w *workers) spawn(fn func()) bool {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return false
	}
	w.wg.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.wg.Done()
		fn()
	}()
	return true
}

func (w *workers) stopAndWait() {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
	w.wg.Wait()
}

func isDone(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
