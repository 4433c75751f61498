package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"awardbot/internal/domain"
	"awardbot/internal/metrics"
	"awardbot/internal/platform"
	"awardbot/internal/retry"
)

type PublisherConfig struct {
	Bus           domain.MessageBus
	Publisher     platform.Publisher
	Timeout       time.Duration
	Retry         retry.Config
	RatePerMinute float64 // 0 disables throttling
	// QueueTimeout bounds the wait for a throttle slot before the first
	// attempt. Defaults to one spacing interval.
	QueueTimeout time.Duration
	Languages     []string
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
}

// Publisher wraps one platform client. It answers every PUBLISH_REQUEST for
// its platform with exactly one PUBLISH_RESULT.
type Publisher struct {
	bus       domain.MessageBus
	client    platform.Publisher
	name      string
	timeout   time.Duration
	retry     retry.Config
	limiter   *RateLimiter
	queueWait time.Duration
	languages []string
	metrics   *metrics.Metrics
	logger    *slog.Logger

	work   workers
	sub    domain.Subscription
	ctx    context.Context
	cancel context.CancelFunc
}

func NewPublisher(cfg PublisherConfig) *Publisher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.Default()
	}
	name := cfg.Publisher.Name()
	p := &Publisher{
		bus:       cfg.Bus,
		client:    cfg.Publisher,
		name:      name,
		timeout:   cfg.Timeout,
		retry:     cfg.Retry,
		languages: cfg.Languages,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger.With("platform", name),
	}
	if cfg.RatePerMinute > 0 {
		p.limiter = NewRateLimiter(1, cfg.RatePerMinute)
		p.queueWait = cfg.QueueTimeout
		if p.queueWait <= 0 {
			p.queueWait = p.limiter.Spacing()
		}
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	return p
}

func (p *Publisher) Name() string { return p.name }

func (p *Publisher) Start() {
	p.sub = p.bus.Subscribe(domain.TopicPublishRequest, publisherSender(p.name), p.handleRequest)
}

func (p *Publisher) Stop() {
	if p.sub != nil {
		p.sub.Close()
	}
	p.cancel()
	p.work.stopAndWait()
}

func (p *Publisher) handleRequest(_ context.Context, msg domain.Message) error {
	req, err := payload[domain.PublishRequest](msg)
	if err != nil {
		return err
	}
	if req.Platform != p.name {
		return nil
	}
	started := p.work.spawn(func() {
		res := p.publish(req)
		p.metrics.PublishResult(p.name, string(res.Status), res.Attempts)
		if err := p.bus.Publish(p.ctx, domain.TopicPublishResult, publisherSender(p.name), &res); err != nil {
			p.logger.Error("cannot publish result", "announcement", req.AnnouncementID, "err", err)
		}
	})
	if !started {
		p.logger.Warn("publisher stopped, request dropped", "announcement", req.AnnouncementID)
	}
	return nil
}

func (p *Publisher) publish(req *domain.PublishRequest) (res domain.PublishResult) {
	start := time.Now()
	res = domain.PublishResult{AnnouncementID: req.AnnouncementID, Platform: p.name}
	log := p.logger.With("announcement", req.AnnouncementID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("publisher panic", "panic", r)
			res.Status = domain.PublishFailed
			res.FailureKind = domain.FailurePermanent
			res.Error = fmt.Sprintf("panic: %v", r)
		}
		res.Elapsed = time.Since(start)
	}()

	post, kind, reason := p.buildPost(req)
	if kind != domain.FailureNone {
		res.Status = domain.PublishSkipped
		res.FailureKind = kind
		res.Error = reason
		log.Info("publish skipped", "reason", reason)
		return res
	}

	if err := p.awaitSlot(); err != nil {
		res.Status = domain.PublishFailed
		res.FailureKind = classify(err)
		res.Error = err.Error()
		log.Warn("no publish slot", "queue_timeout", p.queueWait, "err", err)
		return res
	}

	// The publish timeout starts once the slot is granted.
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()

	ref, attempts, err := retry.Do(ctx, p.retry, platform.IsRetryable, func(ctx context.Context) (platform.PostRef, error) {
		ref, err := p.client.Publish(ctx, post)
		if err != nil {
			log.Debug("publish attempt failed", "kind", platform.KindOf(err), "err", err)
		}
		return ref, err
	})
	res.Attempts = attempts
	if err != nil {
		res.Status = domain.PublishFailed
		res.FailureKind = classify(err)
		res.Error = err.Error()
		log.Warn("publish failed", "kind", res.FailureKind, "attempts", attempts, "err", err)
		return res
	}

	res.Status = domain.PublishSuccess
	res.PostID = ref.ID
	res.PostURL = ref.URL
	log.Info("published", "post", ref.ID, "url", ref.URL, "attempts", attempts)
	return res
}

// awaitSlot queues for the platform's throttle. Requests that arrive in the
// same tick are spaced out instead of failing.
func (p *Publisher) awaitSlot() error {
	if p.limiter == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(p.ctx, p.queueWait)
	defer cancel()
	return p.limiter.Wait(ctx)
}

// buildPost checks preconditions. A non-empty kind means the request is
// skipped, never attempted.
func (p *Publisher) buildPost(req *domain.PublishRequest) (platform.Post, domain.FailureKind, string) {
	ann := req.Announcement
	if ann == nil && req.Content != nil {
		ann = req.Content.Announcement
	}
	if req.Content == nil || ann == nil {
		return platform.Post{}, domain.FailureNoContent, "no content"
	}
	if p.client.Requirements().NeedsImage && !ann.HasImage() {
		return platform.Post{}, domain.FailureNoImage, "platform requires an image"
	}

	text := req.Content.PlatformTexts[p.name]
	if text == "" {
		text = req.Content.TextFor(p.name, p.languages)
		if tags := strings.Join(req.Content.Hashtags, " "); tags != "" && text != "" {
			text += "\n\n" + tags
		}
	}
	if strings.TrimSpace(text) == "" {
		return platform.Post{}, domain.FailureNoContent, "no text for configured languages"
	}

	title := ann.Title
	for _, lang := range p.languages {
		if t := req.Content.Titles[lang]; t != "" {
			title = t
			break
		}
	}
	post := platform.Post{
		AnnouncementID: ann.ID,
		Title:          title,
		Text:           text,
		Link:           ann.URL,
		Hashtags:       req.Content.Hashtags,
	}
	if ann.HasImage() {
		post.ImageURL = platform.EncodeImageURL(ann.ImageURL)
	}
	return post, domain.FailureNone, ""
}

func classify(err error) domain.FailureKind {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domain.FailureTimeout
	case errors.Is(err, ErrThrottled), platform.IsRetryable(err):
		return domain.FailureTransient
	default:
		return domain.FailurePermanent
	}
}
