package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTPMetrics contains HTTP-related Prometheus metrics
type HTTPMetrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// PipelineMetrics contains ingestion-pipeline-specific metrics
type PipelineMetrics struct {
	EventsQueued      prometheus.Counter
	BatchesQueued     prometheus.Counter
	EventsObserved    prometheus.Counter
	EventsProcessed   prometheus.Counter
	DuplicatesDropped prometheus.Counter
	MalformedDropped  prometheus.Counter
	StoreErrors       prometheus.Counter
	QueueDepth        prometheus.Gauge
}

// NewHTTPMetrics creates HTTP metrics for a service
func NewHTTPMetrics(serviceName string) *HTTPMetrics {
	return &HTTPMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: serviceName + "_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    serviceName + "_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// NewPipelineMetrics creates pipeline metrics for a service
func NewPipelineMetrics(serviceName string) *PipelineMetrics {
	return &PipelineMetrics{
		EventsQueued: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_events_queued_total",
				Help: "Total number of events accepted at the ingress and enqueued",
			},
		),
		BatchesQueued: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_batches_queued_total",
				Help: "Total number of batch publishes accepted at the ingress",
			},
		),
		EventsObserved: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_events_observed_total",
				Help: "Total number of envelopes dequeued by the consumer",
			},
		),
		EventsProcessed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_events_processed_total",
				Help: "Total number of events persisted as new rows",
			},
		),
		DuplicatesDropped: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_duplicates_dropped_total",
				Help: "Total number of events dropped by the unique index",
			},
		),
		MalformedDropped: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_malformed_dropped_total",
				Help: "Total number of unparseable envelopes dropped by the consumer",
			},
		),
		StoreErrors: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: serviceName + "_store_errors_total",
				Help: "Total number of store failures that dropped an event",
			},
		),
		QueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: serviceName + "_queue_depth",
				Help: "Number of envelopes waiting in the broker queue",
			},
		),
	}
}

// RecordHTTPRequest records an HTTP request metric
func (m *HTTPMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
