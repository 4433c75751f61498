package bus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"awardbot/internal/domain"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("bus closed")

// InMemoryBus is an in-process topic bus. Every subscription owns an
// unbounded mailbox drained by its own goroutine, so a slow subscriber never
// blocks the publisher or its siblings, and messages on a topic reach each
// subscriber in publish order.
type InMemoryBus struct {
	subs   map[domain.Topic][]*subscription
	mu     sync.RWMutex
	pubMu  sync.Mutex
	closed bool
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
	now    func() time.Time
}

// New creates an empty bus.
func New(logger *slog.Logger) *InMemoryBus {
	ctx, cancel := context.WithCancel(context.Background())
	return &InMemoryBus{
		subs:   make(map[domain.Topic][]*subscription),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
		now:    time.Now,
	}
}

// Publish enqueues the payload for every current subscriber of topic.
func (b *InMemoryBus) Publish(ctx context.Context, topic domain.Topic, sender string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := domain.Message{
		ID:        uuid.NewString(),
		Topic:     topic,
		Sender:    sender,
		Payload:   payload,
		Timestamp: b.now(),
	}

	// pubMu keeps the relative order of concurrent publishers identical
	// across all subscribers of a topic.
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		b.logger.Warn("attempted to publish to closed bus", "topic", topic, "sender", sender)
		return ErrClosed
	}
	subs := append([]*subscription(nil), b.subs[topic]...)
	b.mu.RUnlock()

	if len(subs) == 0 {
		b.logger.Debug("no subscribers for topic", "topic", topic, "sender", sender)
	}
	for _, s := range subs {
		s.enqueue(msg)
	}
	return nil
}

// Subscribe registers handler for future messages on topic. There is no
// replay of earlier messages.
func (b *InMemoryBus) Subscribe(topic domain.Topic, name string, handler domain.Handler) domain.Subscription {
	s := newSubscription(b, topic, name, handler)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.logger.Warn("subscribe on closed bus", "topic", topic, "subscriber", name)
		s.stop()
		return s
	}
	b.subs[topic] = append(b.subs[topic], s)
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		s.run(b.ctx)
	}()
	return s
}

// Subscribers returns the number of live subscriptions on topic.
func (b *InMemoryBus) Subscribers(topic domain.Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

func (b *InMemoryBus) remove(s *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[s.topic]
	for i, cur := range list {
		if cur == s {
			b.subs[s.topic] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Close stops accepting messages, lets every mailbox drain and waits for
// the handlers to return.
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var all []*subscription
	for _, list := range b.subs {
		all = append(all, list...)
	}
	b.mu.Unlock()

	for _, s := range all {
		s.drainAndStop()
	}
	b.wg.Wait()
	b.cancel()
}
