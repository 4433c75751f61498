package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"awardbot/internal/bus"
	"awardbot/internal/domain"
	"awardbot/internal/metrics"
	"awardbot/internal/platform"
	"awardbot/internal/retry"
	"awardbot/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func announcement(day int, title string) domain.Announcement {
	published := time.Date(2025, 3, day, 9, 0, 0, 0, time.UTC)
	return domain.Announcement{
		ID:          domain.AnnouncementID(published, title, "summary "+title),
		Title:       title,
		Summary:     "summary " + title,
		URL:         "https://example.edu/news/" + title,
		PublishedAt: published,
	}
}

type fakeSource struct {
	mu    sync.Mutex
	items []domain.Announcement
	err   error
}

func (s *fakeSource) set(items []domain.Announcement, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items, s.err = items, err
}

func (s *fakeSource) ListCurrentAnnouncements(context.Context) ([]domain.Announcement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]domain.Announcement(nil), s.items...), nil
}

type fakeGenerator struct {
	fn    func(ctx context.Context, ann *domain.Announcement) (*domain.ContentPackage, error)
	calls atomic.Int32
}

func (g *fakeGenerator) Name() string                  { return "fake" }
func (g *fakeGenerator) Healthy(context.Context) error { return nil }

func (g *fakeGenerator) Generate(ctx context.Context, ann *domain.Announcement, langs []string) (*domain.ContentPackage, error) {
	g.calls.Add(1)
	if g.fn != nil {
		return g.fn(ctx, ann)
	}
	return textPackage(ann), nil
}

func textPackage(ann *domain.Announcement) *domain.ContentPackage {
	return &domain.ContentPackage{
		AnnouncementID: ann.ID,
		Texts:          map[string]string{"zh": "恭喜 " + ann.Title, "en": "Congratulations " + ann.Title},
		Hashtags:       []string{"#NYCU"},
		Generator:      "fake",
	}
}

type fakeClient struct {
	name       string
	needsImage bool
	fn         func(ctx context.Context, post platform.Post) (platform.PostRef, error)

	calls atomic.Int32
	mu    sync.Mutex
	posts []platform.Post
}

func (c *fakeClient) Name() string { return c.name }

func (c *fakeClient) Requirements() platform.Requirements {
	return platform.Requirements{NeedsImage: c.needsImage}
}

func (c *fakeClient) Publish(ctx context.Context, post platform.Post) (platform.PostRef, error) {
	n := c.calls.Add(1)
	c.mu.Lock()
	c.posts = append(c.posts, post)
	c.mu.Unlock()
	if c.fn != nil {
		return c.fn(ctx, post)
	}
	return platform.PostRef{ID: fmt.Sprintf("%s-%d", c.name, n)}, nil
}

func okClient(name string) *fakeClient { return &fakeClient{name: name} }

func failingClient(name string, kind platform.Kind) *fakeClient {
	return &fakeClient{name: name, fn: func(context.Context, platform.Post) (platform.PostRef, error) {
		return platform.PostRef{}, &platform.Error{Platform: name, Kind: kind, Message: "rejected"}
	}}
}

type pipelineOptions struct {
	contentTimeout  time.Duration
	platformTimeout time.Duration
	maxConcurrent   int
	ratePerMinute   float64
	queueTimeout    time.Duration
}

type pipeline struct {
	bus      *bus.InMemoryBus
	store    *store.SQLiteStore
	source   *fakeSource
	detector *Detector
	intake   *Intake
	dispatch *Dispatch
	content  *ContentAgent
	metrics  *metrics.Metrics
}

func newPipeline(t *testing.T, gen domain.Generator, clients []*fakeClient, opts pipelineOptions) *pipeline {
	t.Helper()
	if opts.contentTimeout == 0 {
		opts.contentTimeout = 5 * time.Second
	}
	if opts.platformTimeout == 0 {
		opts.platformTimeout = 5 * time.Second
	}
	logger := testLogger()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "records.db"), logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	p := &pipeline{
		bus:     bus.New(logger),
		store:   st,
		source:  &fakeSource{},
		metrics: metrics.New(),
	}
	langs := []string{"zh", "en"}

	var specs []PlatformSpec
	var pubs []*Publisher
	for _, c := range clients {
		specs = append(specs, PlatformSpec{Name: c.name, Timeout: opts.platformTimeout})
		pubs = append(pubs, NewPublisher(PublisherConfig{
			Bus:           p.bus,
			Publisher:     c,
			Timeout:       10 * time.Second,
			Retry:         retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
			RatePerMinute: opts.ratePerMinute,
			QueueTimeout:  opts.queueTimeout,
			Languages:     langs,
			Metrics:       p.metrics,
			Logger:        logger,
		}))
	}

	p.intake = NewIntake(IntakeConfig{Store: st, Bus: p.bus, Metrics: p.metrics, Logger: logger})
	p.dispatch = NewDispatch(DispatchConfig{
		Bus:            p.bus,
		Platforms:      specs,
		Languages:      langs,
		ContentTimeout: opts.contentTimeout,
		MaxConcurrent:  opts.maxConcurrent,
		Metrics:        p.metrics,
		Logger:         logger,
	})
	p.content = NewContentAgent(ContentAgentConfig{
		Bus:       p.bus,
		Generator: gen,
		Timeout:   10 * time.Second,
		Languages: langs,
		Metrics:   p.metrics,
		Logger:    logger,
	})
	p.detector = NewDetector(DetectorConfig{
		Source:  p.source,
		Seen:    st,
		Bus:     p.bus,
		Metrics: p.metrics,
		Logger:  logger,
	})

	p.intake.Start()
	p.dispatch.Start()
	p.content.Start()
	for _, pub := range pubs {
		pub.Start()
	}

	t.Cleanup(func() {
		for _, pub := range pubs {
			pub.Stop()
		}
		p.content.Stop()
		p.dispatch.Stop()
		p.bus.Close()
		p.intake.Stop()
		st.Close()
	})
	return p
}

// scan runs one detection tick and waits until every forwarded task completed.
func (p *pipeline) scan(t *testing.T, items ...domain.Announcement) int {
	t.Helper()
	p.source.set(items, nil)
	n, err := p.detector.Scan(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	p.settle(t, n)
	return n
}

// settle waits until the intake has handled n announcements and every
// forwarded task has an outcome.
func (p *pipeline) settle(t *testing.T, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.intake.WaitSettled(ctx, n); err != nil {
		t.Fatalf("pipeline did not settle: %v (%s)", err, p.intake.Stats().Snapshot())
	}
}

func (p *pipeline) outcome(t *testing.T, id string) *domain.DispatchOutcome {
	t.Helper()
	rec, err := p.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get record %s: %v", id, err)
	}
	if !rec.Complete() {
		t.Fatalf("record %s has no outcome", id)
	}
	return rec.Outcome
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
