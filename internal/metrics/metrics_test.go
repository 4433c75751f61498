package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.Detected(3)
	m.Duplicate()
	m.PublishResult("twitter", "success", 2)
	m.PublishResult("twitter", "failed", 3)
	m.DispatchStarted()
	m.DispatchFinished("partial", 2*time.Second)

	if got := testutil.ToFloat64(m.announcementsDetected); got != 3 {
		t.Errorf("detected = %v", got)
	}
	if got := testutil.ToFloat64(m.publishAttempts.WithLabelValues("twitter")); got != 5 {
		t.Errorf("attempts = %v", got)
	}
	if got := testutil.ToFloat64(m.dispatchOutcomes.WithLabelValues("partial")); got != 1 {
		t.Errorf("partial outcomes = %v", got)
	}
	if got := testutil.ToFloat64(m.dispatchInFlight); got != 0 {
		t.Errorf("in flight = %v", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.Detected(1)
	m.Duplicate()
	m.ScanError()
	m.DispatchStarted()
	m.DispatchFinished("all_failed", time.Second)
	m.PublishResult("x", "success", 1)
	m.ContentResult(false)
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ContentResult(true)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `awardbot_content_results_total{result="ok"} 1`) {
		t.Fatalf("metric missing from output:\n%s", body)
	}
}
