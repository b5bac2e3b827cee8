// Package metrics provides Prometheus metrics for the versus preference service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector of the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      map[string]string
	registry         prometheus.Registerer

	// Propagation engine
	roundsProcessed     prometheus.Counter
	roundsFailed        *prometheus.CounterVec
	choicesApplied      prometheus.Counter
	relatedCredits      prometheus.Counter
	propagationLatency  prometheus.Histogram
	normalizations      prometheus.Counter
	skippedEdges        *prometheus.CounterVec
	playerLockWaitMilli prometheus.Histogram

	// Round sessions
	sessionsActive   prometheus.Gauge
	sessionsStarted  prometheus.Counter
	sessionsFinished *prometheus.CounterVec
	sessionPicks     *prometheus.CounterVec
	itemsSupplied    prometheus.Counter

	// Async submission queue and workers
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueEnqueueErrors *prometheus.CounterVec
	roundsDuplicate    prometheus.Counter
	workerCount        prometheus.Gauge
	workerLatency      prometheus.Histogram

	// Storage
	storeOperations *prometheus.CounterVec
	storeLatency    *prometheus.HistogramVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorsByComponent *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "versus",
		subsystem:        "preference",
		histogramBuckets: []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		constLabels:      map[string]string{},
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		Buckets: m.histogramBuckets,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		Buckets: m.histogramBuckets,
	}, labels)
}

func (m *Manager) initializeMetrics() {
	m.roundsProcessed = m.counter("rounds_processed_total", "Rounds applied to player scores")
	m.roundsFailed = m.counterVec("rounds_failed_total", "Rounds rejected or failed, by reason", "reason")
	m.choicesApplied = m.counter("choices_applied_total", "Individual pairwise choices applied")
	m.relatedCredits = m.counter("related_credits_total", "Partial credits propagated over relationship edges")
	m.propagationLatency = m.histogram("propagation_latency_milliseconds", "Wall-clock time of one round propagation")
	m.normalizations = m.counter("normalizations_total", "Player score renormalizations with a positive maximum")
	m.skippedEdges = m.counterVec("skipped_edges_total", "Relationship edges ignored during propagation", "reason")
	m.playerLockWaitMilli = m.histogram("player_lock_wait_milliseconds", "Time spent waiting for the per-player lock")

	m.sessionsActive = m.gauge("sessions_active", "Round sessions currently open")
	m.sessionsStarted = m.counter("sessions_started_total", "Round sessions started")
	m.sessionsFinished = m.counterVec("sessions_finished_total", "Round sessions that ended, by outcome", "outcome")
	m.sessionPicks = m.counterVec("session_picks_total", "Picks made in round sessions, by policy", "policy")
	m.itemsSupplied = m.counter("items_supplied_total", "Items handed to round controllers by the item pool")

	m.queueSize = m.gauge("queue_size", "Async rounds waiting in the queue")
	m.queueCapacity = m.gauge("queue_capacity", "Capacity of the async round queue")
	m.queueEnqueueErrors = m.counterVec("queue_enqueue_errors_total", "Async rounds rejected by the queue", "reason")
	m.roundsDuplicate = m.counter("rounds_duplicate_total", "Async rounds dropped as duplicates")
	m.workerCount = m.gauge("worker_count", "Async round workers")
	m.workerLatency = m.histogram("worker_latency_milliseconds", "Async round processing time per job")

	m.storeOperations = m.counterVec("store_operations_total", "Score store operations by driver, op and outcome", "driver", "op", "outcome")
	m.storeLatency = m.histogramVec("store_latency_milliseconds", "Score store operation latency", "driver", "op")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint, method and status", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration", "endpoint", "method", "status_code")

	m.errorsByComponent = m.counterVec("errors_total", "Errors by component and type", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_bytes", "Heap bytes allocated")
	m.systemGoroutineCount = m.gauge("system_goroutines", "Number of goroutines")
}

// RecordRoundProcessed counts a successful round with its choice count.
func RecordRoundProcessed(choices int) {
	globalManager.roundsProcessed.Inc()
	globalManager.choicesApplied.Add(float64(choices))
}

// RecordRoundFailed counts a round that did not commit.
func RecordRoundFailed(reason string) {
	globalManager.roundsFailed.WithLabelValues(reason).Inc()
}

// RecordRelatedCredits counts edge credits applied in one round.
func RecordRelatedCredits(n int) {
	globalManager.relatedCredits.Add(float64(n))
}

// RecordPropagationLatency records a round's wall-clock time in milliseconds.
func RecordPropagationLatency(latencyMs float64) {
	globalManager.propagationLatency.Observe(latencyMs)
}

// RecordNormalization counts a renormalization with a positive maximum.
func RecordNormalization() {
	globalManager.normalizations.Inc()
}

// RecordSkippedEdge counts an ignored relationship edge.
func RecordSkippedEdge(reason string) {
	globalManager.skippedEdges.WithLabelValues(reason).Inc()
}

// RecordPlayerLockWait records how long a round waited for its player lock.
func RecordPlayerLockWait(waitMs float64) {
	globalManager.playerLockWaitMilli.Observe(waitMs)
}

// UpdateSessionsActive sets the number of open sessions.
func UpdateSessionsActive(n int) {
	globalManager.sessionsActive.Set(float64(n))
}

// RecordSessionStarted counts a new session.
func RecordSessionStarted() {
	globalManager.sessionsStarted.Inc()
}

// RecordSessionFinished counts a session end; outcome is e.g. "submitted", "failed", "expired".
func RecordSessionFinished(outcome string) {
	globalManager.sessionsFinished.WithLabelValues(outcome).Inc()
}

// RecordSessionPick counts a pick under the given policy.
func RecordSessionPick(policy string) {
	globalManager.sessionPicks.WithLabelValues(policy).Inc()
}

// RecordItemsSupplied counts items handed to a controller.
func RecordItemsSupplied(n int) {
	globalManager.itemsSupplied.Add(float64(n))
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordQueueEnqueueError counts a rejected enqueue.
func RecordQueueEnqueueError(reason string) {
	globalManager.queueEnqueueErrors.WithLabelValues(reason).Inc()
}

// RecordRoundDuplicate counts a deduplicated async round.
func RecordRoundDuplicate() {
	globalManager.roundsDuplicate.Inc()
}

// UpdateWorkerCount sets the current worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// RecordWorkerLatency records async job latency in milliseconds.
func RecordWorkerLatency(latencyMs float64) {
	globalManager.workerLatency.Observe(latencyMs)
}

// RecordStoreOperation records a store call outcome and latency.
func RecordStoreOperation(driver, op string, err error, latencyMs float64) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	globalManager.storeOperations.WithLabelValues(driver, op, outcome).Inc()
	globalManager.storeLatency.WithLabelValues(driver, op).Observe(latencyMs)
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records errors by component and type.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// UpdateSystemMemoryUsage sets allocated heap bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the goroutine count.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
