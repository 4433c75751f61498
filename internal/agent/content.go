package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"awardbot/internal/domain"
	"awardbot/internal/metrics"
)

type ContentAgentConfig struct {
	Bus       domain.MessageBus
	Generator domain.Generator
	Timeout   time.Duration
	Languages []string
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// ContentAgent answers every CONTENT_REQUEST with exactly one
// CONTENT_GENERATED, carrying either a package or an error.
type ContentAgent struct {
	bus       domain.MessageBus
	generator domain.Generator
	timeout   time.Duration
	languages []string
	metrics   *metrics.Metrics
	logger    *slog.Logger

	work   workers
	sub    domain.Subscription
	ctx    context.Context
	cancel context.CancelFunc
}

func NewContentAgent(cfg ContentAgentConfig) *ContentAgent {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 180 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ContentAgent{
		bus:       cfg.Bus,
		generator: cfg.Generator,
		timeout:   cfg.Timeout,
		languages: cfg.Languages,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (c *ContentAgent) Start() {
	c.sub = c.bus.Subscribe(domain.TopicContentRequest, senderContent, c.handleRequest)
}

func (c *ContentAgent) Stop() {
	if c.sub != nil {
		c.sub.Close()
	}
	c.cancel()
	c.work.stopAndWait()
}

// handleRequest hands generation to its own goroutine so a slow model
// never holds up the next request in the mailbox.
func (c *ContentAgent) handleRequest(_ context.Context, msg domain.Message) error {
	req, err := payload[domain.ContentRequest](msg)
	if err != nil {
		return err
	}
	if !c.work.spawn(func() { c.answer(req) }) {
		c.logger.Warn("content agent stopped, request dropped", "announcement", req.Announcement.ID)
	}
	return nil
}

func (c *ContentAgent) answer(req *domain.ContentRequest) {
	ann := req.Announcement
	langs := req.Languages
	if len(langs) == 0 {
		langs = c.languages
	}

	start := time.Now()
	pkg, err := c.generate(ann, langs)
	reply := &domain.ContentGenerated{AnnouncementID: ann.ID}
	if err != nil {
		reply.Err = err.Error()
		c.metrics.ContentResult(false)
		c.logger.Warn("content generation failed", "announcement", ann.ID, "generator", c.generator.Name(), "err", err)
	} else {
		reply.Content = pkg
		c.metrics.ContentResult(true)
		c.logger.Info("content generated", "announcement", ann.ID, "generator", pkg.Generator, "elapsed", time.Since(start).Round(time.Millisecond))
	}

	if err := c.bus.Publish(c.ctx, domain.TopicContentGenerated, senderContent, reply); err != nil {
		c.logger.Error("cannot publish generated content", "announcement", ann.ID, "err", err)
	}
}

func (c *ContentAgent) generate(ann *domain.Announcement, langs []string) (pkg *domain.ContentPackage, err error) {
	defer func() {
		if r := recover(); r != nil {
			pkg, err = nil, fmt.Errorf("generator panic: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
	defer cancel()

	pkg, err = c.generator.Generate(ctx, ann, langs)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, domain.ErrGeneratorTimeout) {
			err = fmt.Errorf("%w: %v", domain.ErrGeneratorTimeout, err)
		}
		return nil, err
	}
	if !pkg.HasText(langs) {
		return nil, fmt.Errorf("%w: no text for %v", domain.ErrMalformedOutput, langs)
	}
	if pkg.AnnouncementID == "" {
		pkg.AnnouncementID = ann.ID
	}
	if pkg.Announcement == nil {
		pkg.Announcement = ann
	}
	if pkg.GeneratedAt.IsZero() {
		pkg.GeneratedAt = time.Now()
	}
	return pkg, nil
}
