package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every collector the engine exports. One Registry per
// process; the serve and worker commands expose it on /metrics.
type Registry struct {
	reg *prometheus.Registry

	ScanStageDuration *prometheus.HistogramVec
	ScanCandidates    *prometheus.HistogramVec
	UpstreamRequests  *prometheus.CounterVec
	QueueDepth        prometheus.Gauge
	JobsProcessed     *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
	CacheLookups      *prometheus.CounterVec
}

// NewRegistry creates and registers all collectors.
func NewRegistry() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.ScanStageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "equityrun",
		Name:      "scan_stage_duration_seconds",
		Help:      "Wall time of each discovery pipeline stage.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"stage"})

	r.ScanCandidates = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "equityrun",
		Name:      "scan_candidates",
		Help:      "Candidates emitted per run by classification.",
		Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
	}, []string{"classification"})

	r.UpstreamRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "equityrun",
		Name:      "upstream_requests_total",
		Help:      "Upstream API requests by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})

	r.QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "equityrun",
		Name:      "queue_depth",
		Help:      "Discovery jobs waiting in the queue.",
	})

	r.JobsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "equityrun",
		Name:      "jobs_processed_total",
		Help:      "Discovery jobs completed by final state.",
	}, []string{"state"})

	r.HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "equityrun",
		Name:      "http_request_duration_seconds",
		Help:      "Gateway request latency by route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "status"})

	r.CacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "equityrun",
		Name:      "cache_lookups_total",
		Help:      "Contender cache lookups by result.",
	}, []string{"result"})

	r.reg.MustRegister(
		r.ScanStageDuration,
		r.ScanCandidates,
		r.UpstreamRequests,
		r.QueueDepth,
		r.JobsProcessed,
		r.HTTPDuration,
		r.CacheLookups,
	)
	return r
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// ObserveStage records one stage duration.
func (r *Registry) ObserveStage(stage string, d time.Duration) {
	r.ScanStageDuration.WithLabelValues(stage).Observe(d.Seconds())
}
