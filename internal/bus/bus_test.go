package bus

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"awardbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestBus_PublishAndReceive(t *testing.T) {
	b := New(testLogger())
	defer b.Close()

	var received int32
	b.Subscribe(domain.TopicNewAnnouncement, "test", func(ctx context.Context, msg domain.Message) error {
		if msg.ID == "" || msg.Sender != "detector" {
			t.Errorf("unexpected envelope: %+v", msg)
		}
		atomic.AddInt32(&received, 1)
		return nil
	})

	if err := b.Publish(context.Background(), domain.TopicNewAnnouncement, "detector", "x"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, func() bool { return atomic.LoadInt32(&received) == 1 })
}

func TestBus_TopicIsolation(t *testing.T) {
	b := New(testLogger())

	var count int32
	b.Subscribe(domain.TopicContentRequest, "content", func(ctx context.Context, msg domain.Message) error {
		atomic.AddInt32(&count, 1)
		return nil
	})

	_ = b.Publish(context.Background(), domain.TopicPublishRequest, "dispatch", nil)
	_ = b.Publish(context.Background(), domain.TopicContentRequest, "dispatch", nil)
	b.Close()

	if got := atomic.LoadInt32(&count); got != 1 {
		t.Errorf("expected 1 delivery, got %d", got)
	}
}

func TestBus_PreservesOrderPerSubscriber(t *testing.T) {
	b := New(testLogger())

	var mu sync.Mutex
	got := map[string][]int{}
	for _, name := range []string{"a", "b"} {
		b.Subscribe(domain.TopicPublishResult, name, func(ctx context.Context, msg domain.Message) error {
			mu.Lock()
			got[name] = append(got[name], msg.Payload.(int))
			mu.Unlock()
			return nil
		})
	}

	for i := 0; i < 100; i++ {
		_ = b.Publish(context.Background(), domain.TopicPublishResult, "p", i)
	}
	b.Close()

	for _, name := range []string{"a", "b"} {
		if len(got[name]) != 100 {
			t.Fatalf("subscriber %s got %d messages", name, len(got[name]))
		}
		for i, v := range got[name] {
			if v != i {
				t.Fatalf("subscriber %s: position %d has %d", name, i, v)
			}
		}
	}
}

func TestBus_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := New(testLogger())
	defer b.Close()

	release := make(chan struct{})
	b.Subscribe(domain.TopicPublishRequest, "slow", func(ctx context.Context, msg domain.Message) error {
		<-release
		return nil
	})
	var fast int32
	b.Subscribe(domain.TopicPublishRequest, "fast", func(ctx context.Context, msg domain.Message) error {
		atomic.AddInt32(&fast, 1)
		return nil
	})

	start := time.Now()
	for i := 0; i < 50; i++ {
		_ = b.Publish(context.Background(), domain.TopicPublishRequest, "dispatch", i)
	}
	if time.Since(start) > time.Second {
		t.Fatal("publisher was blocked by slow subscriber")
	}
	waitFor(t, func() bool { return atomic.LoadInt32(&fast) == 50 })
	close(release)
}

func TestBus_HandlerPanicAndErrorIsolated(t *testing.T) {
	b := New(testLogger())

	var ok int32
	b.Subscribe(domain.TopicDispatchComplete, "panics", func(ctx context.Context, msg domain.Message) error {
		panic("boom")
	})
	b.Subscribe(domain.TopicDispatchComplete, "errors", func(ctx context.Context, msg domain.Message) error {
		return errors.New("failed")
	})
	b.Subscribe(domain.TopicDispatchComplete, "ok", func(ctx context.Context, msg domain.Message) error {
		atomic.AddInt32(&ok, 1)
		return nil
	})

	if err := b.Publish(context.Background(), domain.TopicDispatchComplete, "dispatch", nil); err != nil {
		t.Fatalf("publisher saw handler failure: %v", err)
	}
	_ = b.Publish(context.Background(), domain.TopicDispatchComplete, "dispatch", nil)
	b.Close()

	if atomic.LoadInt32(&ok) != 2 {
		t.Errorf("expected healthy subscriber to get 2 messages, got %d", ok)
	}
}

func TestBus_NoReplayForLateSubscriber(t *testing.T) {
	b := New(testLogger())

	_ = b.Publish(context.Background(), domain.TopicTaskAssignment, "intake", 1)

	var count int32
	b.Subscribe(domain.TopicTaskAssignment, "late", func(ctx context.Context, msg domain.Message) error {
		atomic.AddInt32(&count, 1)
		return nil
	})
	_ = b.Publish(context.Background(), domain.TopicTaskAssignment, "intake", 2)
	b.Close()

	if atomic.LoadInt32(&count) != 1 {
		t.Errorf("expected only the message published after subscribing, got %d", count)
	}
}

func TestBus_SubscriptionClose(t *testing.T) {
	b := New(testLogger())
	defer b.Close()

	var count int32
	sub := b.Subscribe(domain.TopicContentGenerated, "test", func(ctx context.Context, msg domain.Message) error {
		atomic.AddInt32(&count, 1)
		return nil
	})
	_ = b.Publish(context.Background(), domain.TopicContentGenerated, "content", nil)
	waitFor(t, func() bool { return atomic.LoadInt32(&count) == 1 })

	sub.Close()
	if b.Subscribers(domain.TopicContentGenerated) != 0 {
		t.Fatal("subscription still registered after Close")
	}
	_ = b.Publish(context.Background(), domain.TopicContentGenerated, "content", nil)
	time.Sleep(20 * time.Millisecond)
	if atomic.LoadInt32(&count) != 1 {
		t.Errorf("expected 1 after unsubscribe, got %d", count)
	}
}

func TestBus_PublishAfterClose(t *testing.T) {
	b := New(testLogger())
	b.Close()
	if err := b.Publish(context.Background(), domain.TopicNewAnnouncement, "detector", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	b.Close()
}

func TestBus_PublishCancelledContext(t *testing.T) {
	b := New(testLogger())
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.Publish(ctx, domain.TopicNewAnnouncement, "detector", nil); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
