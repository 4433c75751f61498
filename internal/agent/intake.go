package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"awardbot/internal/domain"
	"awardbot/internal/metrics"
)

// Intake is the idempotency gate of the pipeline and the only component that
// writes processed records.
type Intake struct {
	store   domain.RecordStore
	bus     domain.MessageBus
	stats   *RunStats
	metrics *metrics.Metrics
	logger  *slog.Logger

	gate sync.Mutex
	subs subscriptions
}

type IntakeConfig struct {
	Store   domain.RecordStore
	Bus     domain.MessageBus
	Stats   *RunStats
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

func NewIntake(cfg IntakeConfig) *Intake {
	if cfg.Stats == nil {
		cfg.Stats = NewRunStats()
	}
	return &Intake{
		store:   cfg.Store,
		bus:     cfg.Bus,
		stats:   cfg.Stats,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}
}

// Start subscribes to new announcements and dispatch completions.
func (in *Intake) Start() {
	in.subs = append(in.subs,
		in.bus.Subscribe(domain.TopicNewAnnouncement, senderIntake, in.handleNew),
		in.bus.Subscribe(domain.TopicDispatchComplete, senderIntake, in.handleComplete),
	)
}

func (in *Intake) Stop() {
	in.subs.close()
	in.subs = nil
}

func (in *Intake) Stats() *RunStats {
	return in.stats
}

func (in *Intake) handleNew(ctx context.Context, msg domain.Message) error {
	p, err := payload[domain.NewAnnouncement](msg)
	if err != nil {
		return err
	}
	ann := p.Announcement
	in.stats.received()

	in.gate.Lock()
	created, err := in.store.Create(ctx, domain.ProcessedRecord{
		AnnouncementID: ann.ID,
		Title:          ann.Title,
		URL:            ann.URL,
		FirstSeenAt:    time.Now(),
	})
	in.gate.Unlock()
	if err != nil {
		in.stats.rejected()
		return fmt.Errorf("record %s: %w", ann.ID, err)
	}
	if !created {
		in.stats.duplicate()
		in.metrics.Duplicate()
		in.logger.Debug("duplicate announcement discarded", "announcement", ann.ID)
		return nil
	}

	priority := AwardPriority(ann)
	if err := in.bus.Publish(ctx, domain.TopicTaskAssignment, senderIntake, &domain.TaskAssignment{
		Announcement: ann,
		Priority:     priority,
	}); err != nil {
		// The record stays incomplete and is listed by `records incomplete`.
		in.stats.rejected()
		return fmt.Errorf("forward %s: %w", ann.ID, err)
	}
	in.stats.forwarded()
	in.logger.Info("announcement accepted", "announcement", ann.ID, "priority", priority)
	return nil
}

func (in *Intake) handleComplete(ctx context.Context, msg domain.Message) error {
	p, err := payload[domain.DispatchComplete](msg)
	if err != nil {
		return err
	}
	outcome := p.Outcome

	in.gate.Lock()
	err = in.store.RecordOutcome(ctx, *outcome)
	in.gate.Unlock()
	in.stats.completed(outcome.Status)
	if err != nil {
		return fmt.Errorf("record outcome %s: %w", outcome.AnnouncementID, err)
	}

	in.logger.Info("dispatch complete",
		"announcement", outcome.AnnouncementID,
		"status", outcome.Status,
		"succeeded", outcome.Succeeded,
		"failed", outcome.Failed,
		"skipped", outcome.Skipped,
	)
	in.logger.Info(Summary(outcome))
	return nil
}

// WaitSettled blocks until the intake has handled at least received
// announcements and every forwarded task has completed, or ctx ends.
func (in *Intake) WaitSettled(ctx context.Context, received int) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		s := in.stats.Snapshot()
		handled := s.Duplicates + s.Forwarded + s.Rejected
		if s.Received >= received && handled >= s.Received && s.Pending() <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Summary renders an outcome as a single human-readable line.
func Summary(o *domain.DispatchOutcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %q: %s (%d succeeded, %d failed, %d skipped)",
		o.AnnouncementID, o.Title, o.Status, o.Succeeded, o.Failed, o.Skipped)
	if o.Reason != "" {
		fmt.Fprintf(&b, " reason=%q", o.Reason)
	}
	for _, r := range o.Results {
		b.WriteString(" ")
		b.WriteString(r.Platform)
		b.WriteString("=")
		b.WriteString(string(r.Status))
		if r.FailureKind != domain.FailureNone {
			b.WriteString("(" + string(r.FailureKind) + ")")
		}
	}
	return b.String()
}

var (
	topHonours = []string{"冠軍", "第一", "金牌", "首獎", "最佳", "特優", "champion", "best", "first place", "gold"}
	wideReach  = []string{"國際", "全國", "international", "national", "ieee", "acm"}
)

// AwardPriority scores an announcement from 1 to 10: top honours and
// international or national scope rank higher.
func AwardPriority(ann *domain.Announcement) int {
	text := strings.ToLower(ann.Title + " " + ann.Summary)
	priority := 5
	for _, k := range topHonours {
		if strings.Contains(text, k) {
			priority += 3
			break
		}
	}
	for _, k := range wideReach {
		if strings.Contains(text, k) {
			priority += 2
			break
		}
	}
	if priority > 10 {
		priority = 10
	}
	return priority
}
