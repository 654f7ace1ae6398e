package service

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hugo-lorenzo-mato/ghostwriter/internal/core"
)

const metricsNamespace = "ghostwriter"

// Metrics collects pipeline, cache and delivery metrics. Each instance owns
// its registry. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	runs           *prometheus.CounterVec
	runDuration    prometheus.Histogram
	stages         *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	attempts       *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	cacheEvictions *prometheus.CounterVec
	deliveries     *prometheus.CounterVec
	webhooks       *prometheus.CounterVec
	confidence     prometheus.Histogram
}

// NewMetrics registers every collector on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Pipeline runs by final status",
		}, []string{"status", "degraded"}),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Wall time of a pipeline run",
			Buckets:   []float64{0.05, 0.25, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		stages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:      "stages_total",
			Help:      "Stage results by stage and status",
		}, []string{"stage", "status", "from_cache"}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Stage latency",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"stage"}),
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "selector",
			Name:      "attempts_total",
			Help:      "Backend candidates considered, by outcome",
		}, []string{"stage", "backend", "outcome"}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Fingerprint cache lookups",
		}, []string{"agent", "result"}),
		cacheEvictions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Cache entries removed, by reason",
		}, []string{"reason"}),
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "delivery",
			Name:      "total",
			Help:      "Delivery decisions by sink and action",
		}, []string{"sink", "action"}),
		webhooks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Webhook deliveries by event type and result",
		}, []string{"event", "result"}),
		confidence: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:      "confidence",
			Help:      "Distribution of report confidence",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		}),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RunFinished records a completed run.
func (m *Metrics) RunFinished(report *core.Report, d time.Duration) {
	if m == nil || report == nil {
		return
	}
	degraded := "false"
	if report.Degraded {
		degraded = "true"
	}
	m.runs.WithLabelValues(string(report.Status), degraded).Inc()
	m.runDuration.Observe(d.Seconds())
	m.confidence.Observe(report.Confidence)
}

// StageFinished records a terminal stage.
func (m *Metrics) StageFinished(sr *core.StageResult) {
	if m == nil || sr == nil {
		return
	}
	fromCache := "false"
	if sr.FromCache {
		fromCache = "true"
	}
	m.stages.WithLabelValues(string(sr.Stage), string(sr.Status), fromCache).Inc()
	if d := sr.Duration(); d > 0 {
		m.stageDuration.WithLabelValues(string(sr.Stage)).Observe(d.Seconds())
	}
}

// BackendAttempt records one selector candidate.
func (m *Metrics) BackendAttempt(stage core.StageID, backend, outcome string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(string(stage), backend, outcome).Inc()
}

// CacheLookup records a hit or a miss.
func (m *Metrics) CacheLookup(agentID string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(agentID, result).Inc()
}

// CacheEvicted records removed entries.
func (m *Metrics) CacheEvicted(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.cacheEvictions.WithLabelValues(reason).Add(float64(n))
}

// DeliveryFinished records a delivery decision.
func (m *Metrics) DeliveryFinished(sink string, action core.DeliveryAction) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(sink, string(action)).Inc()
}

// WebhookReceived records an incoming webhook and what was done with it.
func (m *Metrics) WebhookReceived(event, result string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(event, result).Inc()
}
