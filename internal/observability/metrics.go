// Package observability provides Prometheus metrics and tracing helpers.
//
// Metrics are registered against an injected prometheus.Registerer so tests
// can use a fresh registry per case. The serve command builds its own
// registry, adds the Go and process collectors, and exposes it via /metrics.
//
// All metric operations are thread-safe via Prometheus's internal locking.
// A nil *Metrics is valid and records nothing.
package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "skinscan"

	executorSubsystem = "executor"
	ingestSubsystem   = "ingest"
	httpSubsystem     = "http"
)

// Outcome labels shared by the counters below.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Metrics holds every Prometheus collector the service exports.
type Metrics struct {
	// ClassificationsInFlight is the number of busy worker slots.
	ClassificationsInFlight prometheus.Gauge

	// QueueDepth is the number of submissions waiting for a slot.
	QueueDepth prometheus.Gauge

	// ClassificationSeconds measures classifier run time per job.
	// Labels: outcome (success, error)
	ClassificationSeconds *prometheus.HistogramVec

	// QueueWaitSeconds measures time from submit to a worker picking the job up.
	QueueWaitSeconds prometheus.Histogram

	// IngestTotal counts ingest requests by terminal stage.
	// Labels: result (done, invalid_input, classification_failure, storage_failure)
	IngestTotal *prometheus.CounterVec

	// RequestsTotal counts HTTP requests.
	// Labels: route, method, status
	RequestsTotal *prometheus.CounterVec

	// RequestSeconds measures HTTP handler latency.
	// Labels: route, method
	RequestSeconds *prometheus.HistogramVec
}

// NewMetrics creates and registers all collectors on reg.
// Panics if called twice with the same registerer (duplicate registration).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ClassificationsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: executorSubsystem,
			Name:      "in_flight",
			Help:      "Number of classifications currently running on a worker slot",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: executorSubsystem,
			Name:      "queue_depth",
			Help:      "Number of classification jobs waiting for a free worker slot",
		}),
		ClassificationSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: executorSubsystem,
			Name:      "classification_seconds",
			Help:      "Classifier run time per job",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		QueueWaitSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: executorSubsystem,
			Name:      "queue_wait_seconds",
			Help:      "Time a job waited in the FIFO queue before a worker took it",
			Buckets:   prometheus.DefBuckets,
		}),
		IngestTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: ingestSubsystem,
			Name:      "requests_total",
			Help:      "Ingest requests by terminal result",
		}, []string{"result"}),
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: httpSubsystem,
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status",
		}, []string{"route", "method", "status"}),
		RequestSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: httpSubsystem,
			Name:      "request_seconds",
			Help:      "HTTP handler latency by route and method",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
}

// JobQueued records a submission entering the queue.
func (m *Metrics) JobQueued() {
	if m == nil {
		return
	}
	m.QueueDepth.Inc()
}

// JobDropped reverses JobQueued for a submission the queue refused.
func (m *Metrics) JobDropped() {
	if m == nil {
		return
	}
	m.QueueDepth.Dec()
}

// JobStarted records a worker taking a job after waiting for wait.
func (m *Metrics) JobStarted(wait time.Duration) {
	if m == nil {
		return
	}
	m.QueueDepth.Dec()
	m.ClassificationsInFlight.Inc()
	m.QueueWaitSeconds.Observe(wait.Seconds())
}

// JobFinished records a worker releasing its slot.
func (m *Metrics) JobFinished(took time.Duration, err error) {
	if m == nil {
		return
	}
	m.ClassificationsInFlight.Dec()
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	m.ClassificationSeconds.WithLabelValues(outcome).Observe(took.Seconds())
}

// IngestResult counts one ingest request ending with result.
func (m *Metrics) IngestResult(result string) {
	if m == nil {
		return
	}
	m.IngestTotal.WithLabelValues(result).Inc()
}

// HTTPRequest records one completed HTTP request.
func (m *Metrics) HTTPRequest(route, method string, status int, took time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.RequestSeconds.WithLabelValues(route, method).Observe(took.Seconds())
}
