package main

import (
	"context"
	"fmt"
	"time"

	"awardbot/internal/agent"
	"awardbot/internal/bus"
	"awardbot/internal/config"
	"awardbot/internal/generator"
	"awardbot/internal/metrics"
	"awardbot/internal/platform"
	"awardbot/internal/retry"
	"awardbot/internal/source"
	"awardbot/internal/store"
)

const (
	shutdownTimeout = 10 * time.Second
	// publishGrace separates a publisher's own timeout from the dispatch
	// window so its result arrives before the window closes.
	publishGrace = 5 * time.Second
)

// pipeline is the full set of agents wired to one bus and one record store.
type pipeline struct {
	cfg        *config.Config
	bus        *bus.InMemoryBus
	store      *store.SQLiteStore
	metrics    *metrics.Metrics
	detector   *agent.Detector
	intake     *agent.Intake
	dispatch   *agent.Dispatch
	content    *agent.ContentAgent
	publishers []*agent.Publisher
}

func buildPipeline(cfg *config.Config) (*pipeline, error) {
	st, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("record store: %w", err)
	}

	gen, err := generator.New(cfg.Content, logger.With("component", "generator"))
	if err != nil {
		st.Close()
		return nil, err
	}

	p := &pipeline{
		cfg:     cfg,
		bus:     bus.New(logger.With("component", "bus")),
		store:   st,
		metrics: metrics.New(),
	}
	langs := cfg.Content.Languages

	entries, excluded := platform.Build(cfg.Platforms, logger)
	for _, ex := range excluded {
		logger.Info("platform excluded", "platform", ex.Name, "reason", ex.Reason)
	}

	var specs []agent.PlatformSpec
	for _, e := range entries {
		publish, queue, window := platformTimings(cfg.Dispatch, e.Settings)
		specs = append(specs, agent.PlatformSpec{Name: e.Publisher.Name(), Timeout: window})
		p.publishers = append(p.publishers, agent.NewPublisher(agent.PublisherConfig{
			Bus:           p.bus,
			Publisher:     e.Publisher,
			Timeout:       publish,
			Retry:         retryConfig(e.Settings),
			RatePerMinute: e.Settings.RatePerMinute,
			QueueTimeout:  queue,
			Languages:     langs,
			Metrics:       p.metrics,
			Logger:        logger,
		}))
	}
	if len(specs) == 0 {
		logger.Warn("no platforms enabled; every announcement will be recorded as all_failed")
	}

	p.intake = agent.NewIntake(agent.IntakeConfig{
		Store:   st,
		Bus:     p.bus,
		Metrics: p.metrics,
		Logger:  logger.With("component", "intake"),
	})
	p.dispatch = agent.NewDispatch(agent.DispatchConfig{
		Bus:            p.bus,
		Platforms:      specs,
		Languages:      langs,
		ContentTimeout: time.Duration(cfg.Dispatch.ContentTimeoutSeconds) * time.Second,
		MaxConcurrent:  cfg.Dispatch.MaxConcurrentRuns,
		Metrics:        p.metrics,
		Logger:         logger.With("component", "dispatch"),
	})
	p.content = agent.NewContentAgent(agent.ContentAgentConfig{
		Bus:       p.bus,
		Generator: gen,
		Timeout:   time.Duration(cfg.Content.TimeoutSeconds) * time.Second,
		Languages: langs,
		Metrics:   p.metrics,
		Logger:    logger.With("component", "content"),
	})
	p.detector = agent.NewDetector(agent.DetectorConfig{
		Source:   source.New(cfg.Source, logger.With("component", "source")),
		Seen:     st,
		Bus:      p.bus,
		Interval: time.Duration(cfg.Detector.IntervalMinutes) * time.Minute,
		Metrics:  p.metrics,
		Logger:   logger.With("component", "detector"),
	})
	return p, nil
}

// platformTimings derives a platform's publish timeout, how long a request
// may queue for its throttle, and the dispatch window covering both. A
// throttled platform may have one request per concurrent run waiting.
func platformTimings(d config.DispatchConfig, c config.PlatformCommon) (publish, queue, window time.Duration) {
	publish = time.Duration(c.TimeoutSeconds) * time.Second
	if publish <= 0 {
		publish = time.Duration(d.PublishTimeoutSeconds) * time.Second
	}
	if c.RatePerMinute > 0 {
		spacing := agent.NewRateLimiter(1, c.RatePerMinute).Spacing()
		queue = time.Duration(max(d.MaxConcurrentRuns, 1)) * spacing
	}
	return publish, queue, queue + publish + publishGrace
}

// retryConfig overlays a platform's retry settings on the defaults.
func retryConfig(c config.PlatformCommon) retry.Config {
	r := retry.Default()
	if c.MaxAttempts > 0 {
		r.MaxAttempts = c.MaxAttempts
	}
	if c.BaseDelayMs > 0 {
		r.BaseDelay = time.Duration(c.BaseDelayMs) * time.Millisecond
	}
	if c.MaxDelayMs > 0 {
		r.MaxDelay = time.Duration(c.MaxDelayMs) * time.Millisecond
	}
	return r
}

// start subscribes every agent. Consumers subscribe before the detector
// first publishes, since the bus has no replay.
func (p *pipeline) start(ctx context.Context) {
	p.intake.Start()
	p.dispatch.Start()
	p.content.Start()
	for _, pub := range p.publishers {
		pub.Start()
	}

	if p.cfg.Metrics.Enabled {
		go func() {
			if err := p.metrics.Serve(ctx, p.cfg.Metrics.Addr, p.cfg.Metrics.Path, logger); err != nil {
				logger.Error("metrics endpoint error", "err", err)
			}
		}()
	}
	logger.Info("pipeline started", "platforms", len(p.publishers), "languages", p.cfg.Content.Languages)
}

// shutdown stops the agents, abandoning runs that have not finished. Their
// records stay incomplete and are listed by `records incomplete`.
func (p *pipeline) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if n := p.dispatch.InFlight(); n > 0 {
		logger.Warn("abandoning in-flight dispatch runs", "runs", n)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, pub := range p.publishers {
			pub.Stop()
		}
		p.content.Stop()
		p.dispatch.Stop()
		p.bus.Close()
		p.intake.Stop()
	}()

	var shutdownErr error
	select {
	case <-done:
		logger.Info("shutdown complete", "stats", p.intake.Stats().Snapshot().String())
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		shutdownErr = fmt.Errorf("shutdown timed out")
	}

	if err := p.store.Close(); err != nil && shutdownErr == nil {
		shutdownErr = err
	}
	return shutdownErr
}
