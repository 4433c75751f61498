package bus

import (
	"context"
	"fmt"
	"sync"

	"awardbot/internal/domain"
)

type subscription struct {
	bus     *InMemoryBus
	topic   domain.Topic
	name    string
	handler domain.Handler

	mu       sync.Mutex
	queue    []domain.Message
	notify   chan struct{}
	stopped  bool
	draining bool
	done     chan struct{}
	once     sync.Once
}

func newSubscription(b *InMemoryBus, topic domain.Topic, name string, h domain.Handler) *subscription {
	return &subscription{
		bus:     b,
		topic:   topic,
		name:    name,
		handler: h,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (s *subscription) enqueue(msg domain.Message) {
	s.mu.Lock()
	if s.stopped || s.draining {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, msg)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// next pops the head of the mailbox. ok is false once the subscription is
// stopped, or is draining with an empty queue.
func (s *subscription) next() (msg domain.Message, ok, wait bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return msg, false, false
	}
	if len(s.queue) == 0 {
		return msg, false, !s.draining
	}
	msg = s.queue[0]
	s.queue[0] = domain.Message{}
	s.queue = s.queue[1:]
	return msg, true, false
}

func (s *subscription) run(ctx context.Context) {
	for {
		msg, ok, wait := s.next()
		if ok {
			s.deliver(ctx, msg)
			continue
		}
		if !wait {
			return
		}
		select {
		case <-s.notify:
		case <-s.done:
		}
	}
}

func (s *subscription) deliver(ctx context.Context, msg domain.Message) {
	defer func() {
		if r := recover(); r != nil {
			s.bus.logger.Error("bus handler panic",
				"topic", msg.Topic,
				"subscriber", s.name,
				"message", msg.ID,
				"panic", fmt.Sprint(r),
			)
		}
	}()
	if err := s.handler(ctx, msg); err != nil {
		s.bus.logger.Warn("bus handler error",
			"topic", msg.Topic,
			"subscriber", s.name,
			"message", msg.ID,
			"error", err,
		)
	}
}

// drainAndStop lets queued messages finish, then ends the run loop.
func (s *subscription) drainAndStop() {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()
	s.once.Do(func() { close(s.done) })
}

func (s *subscription) stop() {
	s.mu.Lock()
	s.stopped = true
	s.queue = nil
	s.mu.Unlock()
	s.once.Do(func() { close(s.done) })
}

// Close unsubscribes. Messages still queued are discarded.
func (s *subscription) Close() {
	s.bus.remove(s)
	s.stop()
}
