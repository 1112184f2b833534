// Package metrics provides Prometheus metrics for the rollboard service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the rollboard service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	registry         prometheus.Registerer

	// Core business metrics
	rollsGranted     prometheus.Counter
	rollsRejected    *prometheus.CounterVec
	rollLatency      prometheus.Histogram
	rollTotals       *prometheus.CounterVec
	idempotentReplay prometheus.Counter

	// Boundary metrics
	daysClosed       prometheus.Counter
	weeksClosed      prometheus.Counter
	foldsApplied     prometheus.Counter
	closureDuration  *prometheus.HistogramVec
	integrityAlerts  *prometheus.CounterVec
	openDays         prometheus.Gauge
	openWeeks        prometheus.Gauge
	boardPlayers     *prometheus.GaugeVec
	journalLatency   prometheus.Histogram
	journalErrors    prometheus.Counter
	indexQueryLatecy prometheus.Histogram

	// Dispatch pipeline
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueEnqueued      prometheus.Counter
	queueDequeued      prometheus.Counter
	queueEnqueueErrors prometheus.Counter
	workerCount        prometheus.Gauge
	workerLatency      prometheus.Histogram
	dispatchErrors     *prometheus.CounterVec
	dispatched         *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	errorsByEndpoint    *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "rollboard",
		subsystem:        "dice",
		histogramBuckets: []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// RefreshInterval reports how often gauges are expected to be refreshed.
func (m *Manager) RefreshInterval() time.Duration { return m.refreshInterval }

// Enabled reports whether recording is active.
func (m *Manager) Enabled() bool { return m.enabled }

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	}, labels)
}

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: m.histogramBuckets,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: m.histogramBuckets,
	}, labels)
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every metric
	m.rollsGranted = m.counter("rolls_granted_total", "Total number of rolls granted and recorded")
	m.rollsRejected = m.counterVec("rolls_rejected_total", "Rolls refused, by reason", "reason")
	m.rollLatency = m.histogram("roll_latency_milliseconds", "End-to-end roll latency in milliseconds")
	m.rollTotals = m.counterVec("roll_totals_total", "Distribution of two-dice totals", "total")
	m.idempotentReplay = m.counter("idempotent_replays_total", "Roll responses replayed for a repeated idempotency key")

	m.daysClosed = m.counter("days_closed_total", "Number of day boundaries closed")
	m.weeksClosed = m.counter("weeks_closed_total", "Number of week boundaries closed")
	m.foldsApplied = m.counter("folds_applied_total", "Closed daily records folded into weekly totals")
	m.closureDuration = m.histogramVec("closure_duration_milliseconds", "Duration of boundary closures", "scope")
	m.integrityAlerts = m.counterVec("integrity_alerts_total", "Closure ordering violations, by kind", "kind")
	m.openDays = m.gauge("open_days", "Dates with open daily records")
	m.openWeeks = m.gauge("open_weeks", "Weeks with open weekly records")
	m.boardPlayers = m.gaugeVec("board_players", "Players tracked on the current boards", "scope")
	m.journalLatency = m.histogram("journal_write_latency_milliseconds", "Durable journal write latency in milliseconds")
	m.journalErrors = m.counter("journal_errors_total", "Durable journal write failures")
	m.indexQueryLatecy = m.histogram("index_query_latency_milliseconds", "Leaderboard index query latency in milliseconds")

	m.queueSize = m.gauge("queue_size", "Closures waiting for dispatch")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum dispatch queue capacity")
	m.queueEnqueued = m.counter("queue_enqueue_total", "Closures enqueued for dispatch")
	m.queueDequeued = m.counter("queue_dequeue_total", "Closures dequeued by workers")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Closures that could not be enqueued")
	m.workerCount = m.gauge("worker_count", "Dispatch workers running")
	m.workerLatency = m.histogram("worker_processing_latency_milliseconds", "Dispatch worker latency in milliseconds")
	m.dispatchErrors = m.counterVec("dispatch_errors_total", "Dispatcher failures, by dispatcher", "dispatcher")
	m.dispatched = m.counterVec("dispatched_total", "Closures delivered, by dispatcher and scope", "dispatcher", "scope")

	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds", "endpoint", "method", "status_code")
	m.errorsByEndpoint = m.counterVec("errors_by_endpoint_total", "HTTP errors by endpoint", "endpoint", "method", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds")
}

// Roll metrics.

// RecordRollGranted counts a granted roll and its two-dice total.
func RecordRollGranted(total string) {
	if !globalManager.enabled {
		return
	}
	globalManager.rollsGranted.Inc()
	globalManager.rollTotals.WithLabelValues(total).Inc()
}

// RecordRollRejected counts a refused roll.
func RecordRollRejected(reason string) {
	if !globalManager.enabled {
		return
	}
	globalManager.rollsRejected.WithLabelValues(reason).Inc()
}

// RecordRollLatency records end-to-end roll latency.
func RecordRollLatency(latencyMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.rollLatency.Observe(latencyMs)
}

// RecordIdempotentReplay counts a replayed roll response.
func RecordIdempotentReplay() {
	if !globalManager.enabled {
		return
	}
	globalManager.idempotentReplay.Inc()
}

// Boundary metrics.

// RecordDayClosed counts a day closure and its duration.
func RecordDayClosed(durationMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.daysClosed.Inc()
	globalManager.closureDuration.WithLabelValues("daily").Observe(durationMs)
}

// RecordWeekClosed counts a week closure and its duration.
func RecordWeekClosed(durationMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.weeksClosed.Inc()
	globalManager.closureDuration.WithLabelValues("weekly").Observe(durationMs)
}

// RecordFolds counts daily records folded into weekly totals.
func RecordFolds(n int) {
	if !globalManager.enabled {
		return
	}
	globalManager.foldsApplied.Add(float64(n))
}

// RecordIntegrityAlert counts a closure-ordering violation.
func RecordIntegrityAlert(kind string) {
	if !globalManager.enabled {
		return
	}
	globalManager.integrityAlerts.WithLabelValues(kind).Inc()
}

// UpdateOpenPeriods sets the open day and week gauges.
func UpdateOpenPeriods(days, weeks int) {
	globalManager.openDays.Set(float64(days))
	globalManager.openWeeks.Set(float64(weeks))
}

// UpdateBoardPlayers sets the player count of the current board for scope.
func UpdateBoardPlayers(scope string, count int) {
	globalManager.boardPlayers.WithLabelValues(scope).Set(float64(count))
}

// RecordJournalWrite records a journal write and whether it failed.
func RecordJournalWrite(latencyMs float64, err error) {
	if !globalManager.enabled {
		return
	}
	globalManager.journalLatency.Observe(latencyMs)
	if err != nil {
		globalManager.journalErrors.Inc()
	}
}

// RecordIndexQueryLatency records a leaderboard index read.
func RecordIndexQueryLatency(latencyMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.indexQueryLatecy.Observe(latencyMs)
}

// Dispatch pipeline metrics.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueued.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeued.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// UpdateWorkerCount sets the running worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records how long a worker took for one closure.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerLatency.Observe(latencyMs)
}

// RecordDispatch counts a closure delivery attempt.
func RecordDispatch(dispatcher, scope string, err error) {
	if err != nil {
		globalManager.dispatchErrors.WithLabelValues(dispatcher).Inc()
		return
	}
	globalManager.dispatched.WithLabelValues(dispatcher, scope).Inc()
}

// HTTP metrics.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByEndpoint counts an HTTP error response.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorsByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// System metrics.

// UpdateSystemMemoryUsage sets the memory gauge.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the goroutine gauge.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records an average GC pause.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom registry serving /healthz.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// SetEnabled toggles recording of business metrics on the global manager.
func SetEnabled(enabled bool) {
	globalManager.enabled = enabled
}
