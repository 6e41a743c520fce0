package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveConsolidation(t *testing.T) {
	m := New()

	m.ObserveConsolidation(time.Now(), 7, 4, nil)
	m.ObserveConsolidation(time.Now(), 3, 0, errors.New("embedding failed"))

	if got := testutil.ToFloat64(m.RawTagsTotal); got != 10 {
		t.Errorf("Expected 10 raw tags, got %v", got)
	}
	if got := testutil.ToFloat64(m.FinalTagsTotal); got != 4 {
		t.Errorf("Expected 4 final tags, got %v", got)
	}
	if got := testutil.CollectAndCount(m.ConsolidationDuration); got != 2 {
		t.Errorf("Expected ok and error series, got %d", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *BusinessMetrics
	m.ObserveConsolidation(time.Now(), 1, 1, nil)
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.SessionsStartedTotal.Inc()
	m.JobsTotal.WithLabelValues("tag_video", "completed").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"videotagger_sessions_started_total 1",
		`videotagger_jobs_total{kind="tag_video",status="completed"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Metrics output missing %q", want)
		}
	}
}
