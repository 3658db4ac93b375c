package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "aegisshield"
	subsystem = "discovery_console"
)

// Collector holds all metrics for the discovery console. A nil *Collector is
// valid and records nothing.
type Collector struct {
	// Backend client
	backendRequests *prometheus.CounterVec
	backendDuration *prometheus.HistogramVec

	// HTTP API
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	// Batch jobs
	batchSubmitted  prometheus.Counter
	batchFinished   *prometheus.CounterVec
	batchPollErrors prometheus.Counter
	batchActive     prometheus.Gauge

	// Deletions
	deletions         *prometheus.CounterVec
	bulkDeleteResults *prometheus.CounterVec

	// Cache
	cacheHits          *prometheus.CounterVec
	cacheMisses        *prometheus.CounterVec
	cacheInvalidations *prometheus.CounterVec

	// Realtime and events
	websocketClients prometheus.Gauge
	eventsPublished  *prometheus.CounterVec
}

// NewCollector creates a collector registered with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		backendRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "backend_requests_total",
			Help:      "Total number of requests sent to the analysis backend",
		}, []string{"method", "status"}),
		backendDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "backend_request_duration_seconds",
			Help:      "Duration of analysis backend requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP API requests",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP API requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		batchSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "batch_jobs_submitted_total",
			Help:      "Total number of batch analysis jobs submitted",
		}),
		batchFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "batch_jobs_finished_total",
			Help:      "Total number of batch analysis jobs that reached a terminal status",
		}, []string{"status"}),
		batchPollErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "batch_poll_errors_total",
			Help:      "Total number of failed batch status polls",
		}),
		batchActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "batch_jobs_active",
			Help:      "Whether a batch analysis job is being polled",
		}),

		deletions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "discovery_deletions_total",
			Help:      "Total number of alert discovery delete requests",
		}, []string{"result"}),
		bulkDeleteResults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bulk_deletion_outcomes_total",
			Help:      "Total number of bulk deletions by outcome",
		}, []string{"kind"}),

		cacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cache_hits_total",
			Help:      "Total number of derived-view cache hits",
		}, []string{"view"}),
		cacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cache_misses_total",
			Help:      "Total number of derived-view cache misses",
		}, []string{"view"}),
		cacheInvalidations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cache_invalidations_total",
			Help:      "Total number of derived-view invalidations",
		}, []string{"view"}),

		websocketClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "websocket_clients",
			Help:      "Number of connected WebSocket clients",
		}),
		eventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "workflow_events_published_total",
			Help:      "Total number of workflow events published",
		}, []string{"type", "result"}),
	}
}

// RecordBackendRequest records one backend round trip
func (c *Collector) RecordBackendRequest(method string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.backendRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	c.backendDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordHTTPRequest records one API request
func (c *Collector) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// BatchSubmitted records a started batch job
func (c *Collector) BatchSubmitted() {
	if c == nil {
		return
	}
	c.batchSubmitted.Inc()
	c.batchActive.Set(1)
}

// BatchFinished records a batch job leaving the polling state
func (c *Collector) BatchFinished(status string) {
	if c == nil {
		return
	}
	c.batchFinished.WithLabelValues(status).Inc()
	c.batchActive.Set(0)
}

// BatchPollError records a failed status poll
func (c *Collector) BatchPollError() {
	if c == nil {
		return
	}
	c.batchPollErrors.Inc()
}

// RecordDeletion records a single delete request result
func (c *Collector) RecordDeletion(success bool) {
	if c == nil {
		return
	}
	result := "success"
	if !success {
		result = "error"
	}
	c.deletions.WithLabelValues(result).Inc()
}

// RecordBulkDeletion records the outcome kind of a bulk deletion
func (c *Collector) RecordBulkDeletion(kind string) {
	if c == nil {
		return
	}
	c.bulkDeleteResults.WithLabelValues(kind).Inc()
}

// CacheHit records a cache hit for a view
func (c *Collector) CacheHit(view string) {
	if c == nil {
		return
	}
	c.cacheHits.WithLabelValues(view).Inc()
}

// CacheMiss records a cache miss for a view
func (c *Collector) CacheMiss(view string) {
	if c == nil {
		return
	}
	c.cacheMisses.WithLabelValues(view).Inc()
}

// CacheInvalidated records an invalidation of a view
func (c *Collector) CacheInvalidated(view string) {
	if c == nil {
		return
	}
	c.cacheInvalidations.WithLabelValues(view).Inc()
}

// SetWebSocketClients sets the connected client gauge
func (c *Collector) SetWebSocketClients(n int) {
	if c == nil {
		return
	}
	c.websocketClients.Set(float64(n))
}

// EventPublished records a workflow event publish attempt
func (c *Collector) EventPublished(eventType string, err error) {
	if c == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	c.eventsPublished.WithLabelValues(eventType, result).Inc()
}
