package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"awardbot/internal/domain"
	"awardbot/internal/metrics"
)

// Detector polls the source and emits one NEW_ANNOUNCEMENT per identifier
// that has never been recorded. It only reads the record store.
type Detector struct {
	source   domain.Source
	seen     domain.SeenChecker
	bus      domain.MessageBus
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

type DetectorConfig struct {
	Source   domain.Source
	Seen     domain.SeenChecker
	Bus      domain.MessageBus
	Interval time.Duration
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

func NewDetector(cfg DetectorConfig) *Detector {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Minute
	}
	return &Detector{
		source:   cfg.Source,
		seen:     cfg.Seen,
		bus:      cfg.Bus,
		interval: cfg.Interval,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		now:      time.Now,
	}
}

// Scan performs one detection tick and returns how many announcements were
// emitted. A source failure marks nothing as seen; the next tick retries.
func (d *Detector) Scan(ctx context.Context) (int, error) {
	listed, err := d.source.ListCurrentAnnouncements(ctx)
	if err != nil {
		d.metrics.ScanError()
		d.logger.Warn("source unavailable, will retry next tick", "err", err)
		return 0, fmt.Errorf("list announcements: %w", err)
	}

	now := d.now()
	unique := make([]domain.Announcement, 0, len(listed))
	index := make(map[string]bool, len(listed))
	for _, a := range listed {
		if a.ID == "" {
			a.ID = domain.AnnouncementID(a.PublishedAt, a.Title, a.Summary)
		}
		if index[a.ID] {
			continue
		}
		index[a.ID] = true
		if a.DetectedAt.IsZero() {
			a.DetectedAt = now
		}
		unique = append(unique, a)
	}

	ids := make([]string, len(unique))
	for i, a := range unique {
		ids[i] = a.ID
	}
	seen, err := d.seen.Seen(ctx, ids)
	if err != nil {
		d.logger.Error("cannot read processed records", "err", err)
		return 0, fmt.Errorf("check processed records: %w", err)
	}

	fresh := unique[:0]
	for _, a := range unique {
		if !seen[a.ID] {
			fresh = append(fresh, a)
		}
	}
	sort.SliceStable(fresh, func(i, j int) bool {
		if !fresh[i].PublishedAt.Equal(fresh[j].PublishedAt) {
			return fresh[i].PublishedAt.Before(fresh[j].PublishedAt)
		}
		return fresh[i].ID < fresh[j].ID
	})

	emitted := 0
	for i := range fresh {
		ann := fresh[i]
		if err := d.bus.Publish(ctx, domain.TopicNewAnnouncement, senderDetector, &domain.NewAnnouncement{Announcement: &ann}); err != nil {
			return emitted, fmt.Errorf("publish announcement %s: %w", ann.ID, err)
		}
		emitted++
		d.logger.Info("new announcement detected", "announcement", ann.ID, "title", ann.Title)
	}
	d.metrics.Detected(emitted)
	d.logger.Debug("scan finished", "listed", len(listed), "new", emitted)
	return emitted, nil
}

// Run scans immediately and then on every interval until ctx is done.
func (d *Detector) Run(ctx context.Context) error {
	d.logger.Info("detector started", "interval", d.interval)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if _, err := d.Scan(ctx); err != nil && isDone(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			d.logger.Info("detector stopped")
			return nil
		case <-ticker.C:
		}
	}
}
