// Package metrics exposes pipeline counters in Prometheus format.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	announcementsDetected  prometheus.Counter
	announcementsDuplicate prometheus.Counter
	scanErrors             prometheus.Counter
	dispatchOutcomes       *prometheus.CounterVec
	dispatchDuration       prometheus.Histogram
	dispatchInFlight       prometheus.Gauge
	publishResults         *prometheus.CounterVec
	publishAttempts        *prometheus.CounterVec
	contentResults         *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.announcementsDetected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "awardbot_announcements_detected_total",
		Help: "Announcements emitted by the detector",
	})
	m.announcementsDuplicate = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "awardbot_announcements_duplicate_total",
		Help: "Announcements discarded by intake as already processed",
	})
	m.scanErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "awardbot_scan_errors_total",
		Help: "Detector ticks that failed to reach the source",
	})
	m.dispatchOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "awardbot_dispatch_outcomes_total",
		Help: "Completed dispatch runs by outcome status",
	}, []string{"status"})
	m.dispatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "awardbot_dispatch_duration_seconds",
		Help:    "Time from task assignment to dispatch completion",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})
	m.dispatchInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "awardbot_dispatch_in_flight",
		Help: "Dispatch runs currently in progress",
	})
	m.publishResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "awardbot_publish_results_total",
		Help: "Publish results by platform and status",
	}, []string{"platform", "status"})
	m.publishAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "awardbot_publish_attempts_total",
		Help: "Publish attempts including retries",
	}, []string{"platform"})
	m.contentResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "awardbot_content_results_total",
		Help: "Content generation results",
	}, []string{"result"})

	m.registry.MustRegister(
		m.announcementsDetected,
		m.announcementsDuplicate,
		m.scanErrors,
		m.dispatchOutcomes,
		m.dispatchDuration,
		m.dispatchInFlight,
		m.publishResults,
		m.publishAttempts,
		m.contentResults,
	)
	return m
}

func (m *Metrics) Detected(n int) {
	if m == nil {
		return
	}
	m.announcementsDetected.Add(float64(n))
}

func (m *Metrics) Duplicate() {
	if m == nil {
		return
	}
	m.announcementsDuplicate.Inc()
}

func (m *Metrics) ScanError() {
	if m == nil {
		return
	}
	m.scanErrors.Inc()
}

func (m *Metrics) DispatchStarted() {
	if m == nil {
		return
	}
	m.dispatchInFlight.Inc()
}

func (m *Metrics) DispatchFinished(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.dispatchInFlight.Dec()
	m.dispatchOutcomes.WithLabelValues(status).Inc()
	m.dispatchDuration.Observe(d.Seconds())
}

func (m *Metrics) PublishResult(platform, status string, attempts int) {
	if m == nil {
		return
	}
	m.publishResults.WithLabelValues(platform, status).Inc()
	if attempts > 0 {
		m.publishAttempts.WithLabelValues(platform).Add(float64(attempts))
	}
}

func (m *Metrics) ContentResult(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.contentResults.WithLabelValues(result).Inc()
}

// Registry returns the registry for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve runs the metrics endpoint until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr, path string, logger *slog.Logger) error {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics endpoint listening", "addr", addr, "path", path)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
