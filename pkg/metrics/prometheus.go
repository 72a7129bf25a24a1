// Package metrics provides Prometheus metrics for the arena game engine.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager owns every Prometheus collector of the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          atomic.Bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Lifecycle
	gamesCreated     *prometheus.CounterVec
	gamesCompleted   *prometheus.CounterVec
	gamesRespawned   prometheus.Counter
	duelTransitions  *prometheus.CounterVec
	notifications    *prometheus.CounterVec
	lifecycleLatency *prometheus.HistogramVec

	// Roster
	rosterPages   *prometheus.CounterVec
	rosterPartial prometheus.Counter
	rosterSize    prometheus.Histogram

	// Graph sync
	changeEvents     *prometheus.CounterVec
	changeDuplicates prometheus.Counter
	graphOps         *prometheus.CounterVec
	edgeBatches      *prometheus.CounterVec
	triggers         *prometheus.CounterVec

	// Repository
	repositoryLatency *prometheus.HistogramVec

	// Queue
	queueSize              prometheus.Gauge
	queueCapacity          prometheus.Gauge
	queueUtilization       prometheus.Gauge
	queueEnqueueRate       prometheus.Counter
	queueDequeueRate       prometheus.Counter
	queueEnqueueErrors     prometheus.Counter
	queueProcessingLatency prometheus.Histogram

	// Workers
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrorRate         prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // keeps default Go collectors out

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "arena",
		subsystem:        "engine",
		histogramBuckets: prometheus.DefBuckets,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}
	m.enabled.Store(true)
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

// Enabled reports whether the manager records.
func (m *Manager) Enabled() bool {
	return m.enabled.Load()
}

// SetEnabled turns recording through the package helpers on or off.
func SetEnabled(enabled bool) {
	globalManager.enabled.Store(enabled)
}

// active returns the global manager, or nil while recording is off.
func active() *Manager {
	if !globalManager.Enabled() {
		return nil
	}
	return globalManager
}

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

func (m *Manager) counter(auto promauto.Factory, name, help string) prometheus.Counter {
	return auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) counterVec(auto promauto.Factory, name, help string, labels ...string) *prometheus.CounterVec {
	return auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help,
		ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) gauge(auto promauto.Factory, name, help string) prometheus.Gauge {
	return auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogram(auto promauto.Factory, name, help string, buckets []float64) prometheus.Histogram {
	return auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help,
		ConstLabels: m.customLabels, Buckets: buckets,
	})
}

func (m *Manager) histogramVec(auto promauto.Factory, name, help string, labels ...string) *prometheus.HistogramVec {
	return auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help,
		ConstLabels: m.customLabels, Buckets: m.histogramBuckets,
	}, labels)
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	// A manager created disabled keeps its collectors off the registry.
	auto := promauto.With(nil)
	if m.Enabled() {
		auto = promauto.With(m.registry)
	}

	m.gamesCreated = m.counterVec(auto, "games_created_total", "Games persisted as new records by kind and origin", "kind", "origin")
	m.gamesCompleted = m.counterVec(auto, "games_completed_total", "Games completed by outcome", "outcome")
	m.gamesRespawned = m.counter(auto, "games_respawned_total", "Recurring challenges respawned after completion")
	m.duelTransitions = m.counterVec(auto, "duel_transitions_total", "Duel negotiation transitions", "state")
	m.notifications = m.counterVec(auto, "notifications_published_total", "Notifications published by detail type", "detail_type")
	m.lifecycleLatency = m.histogramVec(auto, "lifecycle_latency_milliseconds", "Lifecycle operation latency", "operation", "status")

	m.rosterPages = m.counterVec(auto, "roster_pages_total", "Hierarchy pages fetched during roster resolution", "kind")
	m.rosterPartial = m.counter(auto, "roster_partial_total", "Roster resolutions that returned partial results")
	m.rosterSize = m.histogram(auto, "roster_size", "Participants per resolved roster",
		[]float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 5000})

	m.changeEvents = m.counterVec(auto, "change_events_total", "Change notifications handled by kind", "kind")
	m.changeDuplicates = m.counter(auto, "change_events_duplicate_total", "Change notifications suppressed as redeliveries")
	m.graphOps = m.counterVec(auto, "graph_operations_total", "Graph collaborator calls by operation and outcome", "operation", "outcome")
	m.edgeBatches = m.counterVec(auto, "edge_batches_total", "Edge batch messages by result", "result")
	m.triggers = m.counterVec(auto, "recurrence_triggers_total", "Recurrence trigger registry events", "event")

	m.repositoryLatency = m.histogramVec(auto, "repository_latency_milliseconds", "Primary store call latency", "operation")

	m.queueSize = m.gauge(auto, "queue_size", "Messages waiting in the delay queue")
	m.queueCapacity = m.gauge(auto, "queue_capacity", "Maximum delay queue capacity")
	m.queueUtilization = m.gauge(auto, "queue_utilization_ratio", "Delay queue utilization (size / capacity)")
	m.queueEnqueueRate = m.counter(auto, "queue_enqueue_total", "Messages enqueued")
	m.queueDequeueRate = m.counter(auto, "queue_dequeue_total", "Messages delivered to consumers")
	m.queueEnqueueErrors = m.counter(auto, "queue_enqueue_errors_total", "Rejected enqueue attempts")
	m.queueProcessingLatency = m.histogram(auto, "queue_processing_latency_milliseconds", "Enqueue latency", m.histogramBuckets)

	m.workerActiveCount = m.gauge(auto, "worker_active_count", "Running consumer workers")
	m.workerProcessingLatency = m.histogram(auto, "worker_processing_latency_milliseconds", "Per-message consumer latency", m.histogramBuckets)
	m.workerErrorRate = m.counter(auto, "worker_errors_total", "Consumer processing errors")

	m.httpRequests = m.counterVec(auto, "http_requests_total", "HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec(auto, "http_request_duration_milliseconds", "HTTP request duration", "endpoint", "method", "status_code")

	m.errorRateByComponent = m.counterVec(auto, "errors_by_component_total", "Errors by component and type", "component", "error_type")
	m.errorRateByEndpoint = m.counterVec(auto, "errors_by_endpoint_total", "HTTP errors by endpoint", "endpoint", "method", "error_type")

	m.systemMemoryUsage = m.gauge(auto, "system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge(auto, "system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram(auto, "system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// Lifecycle.

// RecordGameCreated counts a newly persisted game. origin is create, update or respawn.
func RecordGameCreated(kind, origin string) {
	if m := active(); m != nil {
		m.gamesCreated.WithLabelValues(kind, origin).Inc()
	}
}

// RecordGameCompleted counts a completion by outcome (winner, draw, finalized).
func RecordGameCompleted(outcome string) {
	if m := active(); m != nil {
		m.gamesCompleted.WithLabelValues(outcome).Inc()
	}
}

// RecordGameRespawned counts a recurrence respawn.
func RecordGameRespawned() {
	if m := active(); m != nil {
		m.gamesRespawned.Inc()
	}
}

// RecordDuelTransition counts an accepted or declined duel.
func RecordDuelTransition(state string) {
	if m := active(); m != nil {
		m.duelTransitions.WithLabelValues(state).Inc()
	}
}

// RecordNotification counts a published notification.
func RecordNotification(detailType string) {
	if m := active(); m != nil {
		m.notifications.WithLabelValues(detailType).Inc()
	}
}

// RecordLifecycleLatency records the latency of a lifecycle operation.
func RecordLifecycleLatency(operation, status string, latencyMs float64) {
	if m := active(); m != nil {
		m.lifecycleLatency.WithLabelValues(operation, status).Observe(latencyMs)
	}
}

// Roster.

// RecordRosterPage counts one fetched hierarchy page.
func RecordRosterPage(kind string) {
	if m := active(); m != nil {
		m.rosterPages.WithLabelValues(kind).Inc()
	}
}

// RecordRosterPartial counts a partial roster resolution.
func RecordRosterPartial() {
	if m := active(); m != nil {
		m.rosterPartial.Inc()
	}
}

// ObserveRosterSize records the size of a resolved roster.
func ObserveRosterSize(n int) {
	if m := active(); m != nil {
		m.rosterSize.Observe(float64(n))
	}
}

// Graph sync.

// RecordChangeEvent counts a handled change notification.
func RecordChangeEvent(kind string) {
	if m := active(); m != nil {
		m.changeEvents.WithLabelValues(kind).Inc()
	}
}

// RecordChangeDuplicate counts a suppressed change redelivery.
func RecordChangeDuplicate() {
	if m := active(); m != nil {
		m.changeDuplicates.Inc()
	}
}

// RecordGraphOp counts a graph call; outcome is ok, empty or error.
func RecordGraphOp(operation, outcome string) {
	if m := active(); m != nil {
		m.graphOps.WithLabelValues(operation, outcome).Inc()
	}
}

// RecordEdgeBatch counts an edge batch event (enqueued, applied, redelivered, dropped).
func RecordEdgeBatch(result string) {
	if m := active(); m != nil {
		m.edgeBatches.WithLabelValues(result).Inc()
	}
}

// RecordTrigger counts a recurrence trigger event (registered, cancelled, fired).
func RecordTrigger(event string) {
	if m := active(); m != nil {
		m.triggers.WithLabelValues(event).Inc()
	}
}

// Repository.

// RecordRepositoryLatency records a primary store call latency.
func RecordRepositoryLatency(operation string, latencyMs float64) {
	if m := active(); m != nil {
		m.repositoryLatency.WithLabelValues(operation).Observe(latencyMs)
	}
}

// Queue.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	if m := active(); m != nil {
		m.queueSize.Set(float64(size))
	}
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	if m := active(); m != nil {
		m.queueCapacity.Set(float64(capacity))
	}
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	if m := active(); m != nil {
		m.queueUtilization.Set(utilization)
	}
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	if m := active(); m != nil {
		m.queueEnqueueRate.Inc()
	}
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	if m := active(); m != nil {
		m.queueDequeueRate.Inc()
	}
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	if m := active(); m != nil {
		m.queueEnqueueErrors.Inc()
	}
}

// RecordQueueProcessingLatency records enqueue latency.
func RecordQueueProcessingLatency(latencyMs float64) {
	if m := active(); m != nil {
		m.queueProcessingLatency.Observe(latencyMs)
	}
}

// Workers.

// UpdateWorkerActiveCount sets the number of running workers.
func UpdateWorkerActiveCount(count int) {
	if m := active(); m != nil {
		m.workerActiveCount.Set(float64(count))
	}
}

// RecordWorkerProcessingLatency records per-message consumer latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	if m := active(); m != nil {
		m.workerProcessingLatency.Observe(latencyMs)
	}
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	if m := active(); m != nil {
		m.workerErrorRate.Inc()
	}
}

// HTTP.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	if m := active(); m != nil {
		m.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	}
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	if m := active(); m != nil {
		m.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
	}
}

// Errors.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	if m := active(); m != nil {
		m.errorRateByComponent.WithLabelValues(component, errorType).Inc()
	}
}

// RecordErrorByEndpoint records an HTTP error.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	if m := active(); m != nil {
		m.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
	}
}

// System.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	if m := active(); m != nil {
		m.systemMemoryUsage.Set(float64(bytes))
	}
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	if m := active(); m != nil {
		m.systemGoroutineCount.Set(float64(count))
	}
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	if m := active(); m != nil {
		m.systemGCPauseTime.Observe(pauseMs)
	}
}

// RefreshInterval is how often gauges sampled from the runtime should be updated.
func RefreshInterval() time.Duration {
	return globalManager.refreshInterval
}

// GetRegistry returns the registry the global manager writes to.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
