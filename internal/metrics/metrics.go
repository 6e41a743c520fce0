package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "videotagger"

// BusinessMetrics holds the service's domain counters and histograms
type BusinessMetrics struct {
	registry *prometheus.Registry

	SessionsStartedTotal   prometheus.Counter
	SessionsCompletedTotal prometheus.Counter
	JobsTotal              *prometheus.CounterVec // kind, status
	VideosTaggedTotal      *prometheus.CounterVec // status
	TranscriptsTotal       *prometheus.CounterVec // result: fetched, reused, skipped, failed
	RawTagsTotal           prometheus.Counter
	FinalTagsTotal         prometheus.Counter
	ConsolidationDuration  *prometheus.HistogramVec // result
	QueueWaitSeconds       *prometheus.HistogramVec // task_type
	HTTPRequestsTotal      *prometheus.CounterVec   // route, code
}

// New creates and registers the business metrics on a private registry
func New() *BusinessMetrics {
	m := &BusinessMetrics{
		registry: prometheus.NewRegistry(),
		SessionsStartedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Processing sessions started.",
		}),
		SessionsCompletedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_completed_total",
			Help:      "Processing sessions whose jobs all finished.",
		}),
		JobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Finished processing jobs by kind and status.",
		}, []string{"kind", "status"}),
		VideosTaggedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "videos_tagged_total",
			Help:      "Videos run through tag generation and consolidation.",
		}, []string{"status"}),
		TranscriptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_total",
			Help:      "Transcript lookups by result.",
		}, []string{"result"}),
		RawTagsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "raw_tags_total",
			Help:      "Tags received from the generator before consolidation.",
		}),
		FinalTagsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "final_tags_total",
			Help:      "Tags stored after consolidation.",
		}),
		ConsolidationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "consolidation_duration_seconds",
			Help:      "Time spent consolidating one tag set.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"result"}),
		QueueWaitSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "queue_wait_seconds",
			Help:      "Time a task spent queued before processing.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 3, 10),
		}, []string{"task_type"}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP API requests by route and status code.",
		}, []string{"route", "code"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.SessionsStartedTotal,
		m.SessionsCompletedTotal,
		m.JobsTotal,
		m.VideosTaggedTotal,
		m.TranscriptsTotal,
		m.RawTagsTotal,
		m.FinalTagsTotal,
		m.ConsolidationDuration,
		m.QueueWaitSeconds,
		m.HTTPRequestsTotal,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *BusinessMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry
func (m *BusinessMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveConsolidation records one consolidation run
func (m *BusinessMetrics) ObserveConsolidation(start time.Time, raw, final int, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ConsolidationDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	m.RawTagsTotal.Add(float64(raw))
	if err == nil {
		m.FinalTagsTotal.Add(float64(final))
	}
}
