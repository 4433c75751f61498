package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"awardbot/internal/domain"
	"awardbot/internal/metrics"
)

// PlatformSpec names a registered platform and how long dispatch waits for
// its result.
type PlatformSpec struct {
	Name    string
	Timeout time.Duration
}

type DispatchConfig struct {
	Bus            domain.MessageBus
	Platforms      []PlatformSpec
	Languages      []string
	ContentTimeout time.Duration
	MaxConcurrent  int
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
}

// Dispatch runs one state machine per task:
// PENDING_CONTENT -> AWAITING_PUBLISH_RESULTS -> COMPLETE.
// Runs are independent; a slow announcement never delays another.
type Dispatch struct {
	bus            domain.MessageBus
	platforms      []PlatformSpec
	languages      []string
	contentTimeout time.Duration
	metrics        *metrics.Metrics
	logger         *slog.Logger
	now            func() time.Time

	sem     *semaphore.Weighted
	mu      sync.Mutex
	runs    map[string]*run
	stopped bool
	wg      sync.WaitGroup
	subs    subscriptions

	ctx    context.Context
	cancel context.CancelFunc
}

type run struct {
	ann      *domain.Announcement
	priority int
	content  chan *domain.ContentGenerated

	mu      sync.Mutex
	results map[string]chan domain.PublishResult
	settled map[string]bool
}

func NewDispatch(cfg DispatchConfig) *Dispatch {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 2
	}
	if cfg.ContentTimeout <= 0 {
		cfg.ContentTimeout = 240 * time.Second
	}
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"zh", "en"}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatch{
		bus:            cfg.Bus,
		platforms:      cfg.Platforms,
		languages:      cfg.Languages,
		contentTimeout: cfg.ContentTimeout,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
		now:            time.Now,
		sem:            semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		runs:           make(map[string]*run),
		ctx:            ctx,
		cancel:         cancel,
	}
}

func (d *Dispatch) Start() {
	d.subs = append(d.subs,
		d.bus.Subscribe(domain.TopicTaskAssignment, senderDispatch, d.handleTask),
		d.bus.Subscribe(domain.TopicContentGenerated, senderDispatch, d.handleContent),
		d.bus.Subscribe(domain.TopicPublishResult, senderDispatch, d.handleResult),
	)
}

// Wait blocks until every run in flight has completed or ctx ends.
func (d *Dispatch) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop abandons unfinished runs. Their records stay incomplete.
func (d *Dispatch) Stop() {
	d.subs.close()
	d.subs = nil
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	d.cancel()
	d.wg.Wait()
}

// InFlight returns the number of runs that have not completed.
func (d *Dispatch) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.runs)
}

func (d *Dispatch) handleTask(_ context.Context, msg domain.Message) error {
	task, err := payload[domain.TaskAssignment](msg)
	if err != nil {
		return err
	}
	ann := task.Announcement

	r := &run{
		ann:      ann,
		priority: task.Priority,
		content:  make(chan *domain.ContentGenerated, 1),
		results:  make(map[string]chan domain.PublishResult, len(d.platforms)),
		settled:  make(map[string]bool, len(d.platforms)),
	}
	for _, p := range d.platforms {
		r.results[p.Name] = make(chan domain.PublishResult, 1)
	}

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		d.logger.Warn("dispatch stopped, task dropped", "announcement", ann.ID)
		return nil
	}
	if _, busy := d.runs[ann.ID]; busy {
		d.mu.Unlock()
		d.logger.Warn("task already in flight, ignored", "announcement", ann.ID)
		return nil
	}
	d.runs[ann.ID] = r
	d.wg.Add(1)
	d.mu.Unlock()

	go d.execute(r)
	return nil
}

func (d *Dispatch) lookup(id string) *run {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.runs[id]
}

func (d *Dispatch) handleContent(_ context.Context, msg domain.Message) error {
	cg, err := payload[domain.ContentGenerated](msg)
	if err != nil {
		return err
	}
	r := d.lookup(cg.AnnouncementID)
	if r == nil {
		d.logger.Warn("content for unknown run dropped", "announcement", cg.AnnouncementID)
		return nil
	}
	select {
	case r.content <- cg:
	default:
		d.logger.Warn("duplicate content dropped", "announcement", cg.AnnouncementID)
	}
	return nil
}

func (d *Dispatch) handleResult(_ context.Context, msg domain.Message) error {
	res, err := payload[domain.PublishResult](msg)
	if err != nil {
		return err
	}
	r := d.lookup(res.AnnouncementID)
	if r == nil {
		d.logger.Warn("late publish result dropped", "announcement", res.AnnouncementID, "platform", res.Platform, "status", res.Status)
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	ch, known := r.results[res.Platform]
	switch {
	case !known:
		d.logger.Warn("result from unregistered platform dropped", "announcement", res.AnnouncementID, "platform", res.Platform)
	case r.settled[res.Platform]:
		d.logger.Warn("late publish result dropped", "announcement", res.AnnouncementID, "platform", res.Platform, "status", res.Status)
	default:
		select {
		case ch <- *res:
		default:
			d.logger.Warn("duplicate publish result dropped", "announcement", res.AnnouncementID, "platform", res.Platform)
		}
	}
	return nil
}

// expire closes a platform after its deadline. A result that was delivered
// before the close is still returned.
func (r *run) expire(platform string) (domain.PublishResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settled[platform] = true
	select {
	case res := <-r.results[platform]:
		return res, true
	default:
		return domain.PublishResult{}, false
	}
}

func (d *Dispatch) finish(id string) {
	d.mu.Lock()
	delete(d.runs, id)
	d.mu.Unlock()
}

func (d *Dispatch) execute(r *run) {
	defer d.wg.Done()
	defer d.finish(r.ann.ID)

	ctx := d.ctx
	log := d.logger.With("announcement", r.ann.ID)

	if err := d.sem.Acquire(ctx, 1); err != nil {
		log.Info("dispatch abandoned before start")
		return
	}
	defer d.sem.Release(1)

	started := d.now()
	d.metrics.DispatchStarted()
	log.Info("dispatch started", "priority", r.priority, "platforms", len(d.platforms))

	var (
		results []domain.PublishResult
		reason  string
	)
	if len(d.platforms) == 0 {
		reason = "no platforms enabled"
	} else {
		content, detail := d.awaitContent(ctx, r, log)
		if ctx.Err() != nil {
			log.Info("dispatch abandoned", "state", "pending_content")
			return
		}
		if content == nil {
			reason = "no content"
			results = d.skipAll(r.ann.ID, detail)
			log.Warn("content unavailable, all platforms skipped", "err", detail)
		} else {
			var ok bool
			results, ok = d.publishAll(ctx, r, content, log)
			if !ok {
				log.Info("dispatch abandoned", "state", "awaiting_publish_results")
				return
			}
		}
	}

	outcome := domain.NewDispatchOutcome(r.ann, results, started, d.now())
	outcome.Reason = reason
	d.metrics.DispatchFinished(string(outcome.Status), outcome.CompletedAt.Sub(started))

	// Remove the run before announcing completion so a redelivered task
	// is accepted again.
	d.finish(r.ann.ID)
	if err := d.bus.Publish(ctx, domain.TopicDispatchComplete, senderDispatch, &domain.DispatchComplete{Outcome: outcome}); err != nil {
		log.Error("cannot publish dispatch outcome", "err", err)
		return
	}
	log.Info("dispatch finished", "status", outcome.Status, "elapsed", outcome.CompletedAt.Sub(started).Round(time.Millisecond))
}

// awaitContent requests content and waits for the single answer. A nil
// package means the content step failed and detail says why.
func (d *Dispatch) awaitContent(ctx context.Context, r *run, log *slog.Logger) (*domain.ContentPackage, string) {
	req := &domain.ContentRequest{Announcement: r.ann, Languages: d.languages}
	if err := d.bus.Publish(ctx, domain.TopicContentRequest, senderDispatch, req); err != nil {
		return nil, fmt.Sprintf("content request: %v", err)
	}

	timer := time.NewTimer(d.contentTimeout)
	defer timer.Stop()
	select {
	case cg := <-r.content:
		switch {
		case cg.Err != "":
			return nil, cg.Err
		case !cg.Content.HasText(d.languages):
			return nil, domain.ErrMalformedOutput.Error()
		}
		log.Debug("content received", "generator", cg.Content.Generator)
		return cg.Content, ""
	case <-timer.C:
		return nil, fmt.Sprintf("content not generated within %s", d.contentTimeout)
	case <-ctx.Done():
		return nil, ctx.Err().Error()
	}
}

func (d *Dispatch) skipAll(id, detail string) []domain.PublishResult {
	results := make([]domain.PublishResult, len(d.platforms))
	for i, p := range d.platforms {
		results[i] = domain.PublishResult{
			AnnouncementID: id,
			Platform:       p.Name,
			Status:         domain.PublishSkipped,
			FailureKind:    domain.FailureNoContent,
			Error:          detail,
		}
	}
	return results
}

// publishAll fans the content out to every platform and collects exactly
// one result per platform, in registration order.
func (d *Dispatch) publishAll(ctx context.Context, r *run, content *domain.ContentPackage, log *slog.Logger) ([]domain.PublishResult, bool) {
	for _, p := range d.platforms {
		req := &domain.PublishRequest{
			AnnouncementID: r.ann.ID,
			Platform:       p.Name,
			Announcement:   r.ann,
			Content:        content,
		}
		if err := d.bus.Publish(ctx, domain.TopicPublishRequest, senderDispatch, req); err != nil {
			log.Error("cannot publish request", "platform", p.Name, "err", err)
			return nil, false
		}
	}

	results := make([]domain.PublishResult, len(d.platforms))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range d.platforms {
		g.Go(func() error {
			timer := time.NewTimer(p.Timeout)
			defer timer.Stop()

			r.mu.Lock()
			ch := r.results[p.Name]
			r.mu.Unlock()

			select {
			case res := <-ch:
				results[i] = res
			case <-timer.C:
				if res, ok := r.expire(p.Name); ok {
					results[i] = res
					return nil
				}
				log.Warn("publisher did not answer in time", "platform", p.Name, "timeout", p.Timeout)
				results[i] = domain.PublishResult{
					AnnouncementID: r.ann.ID,
					Platform:       p.Name,
					Status:         domain.PublishFailed,
					FailureKind:    domain.FailureTimeout,
					Error:          fmt.Sprintf("no result within %s", p.Timeout),
					Elapsed:        p.Timeout,
				}
			case <-gctx.Done():
				return gctx.Err()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, false
	}
	return results, true
}
