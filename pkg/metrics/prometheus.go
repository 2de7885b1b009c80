// Package metrics provides Prometheus metrics for the ghost capture coordination service.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          atomic.Bool
	refreshInterval  atomic.Int64 // nanoseconds
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Shared state store
	storeWrites        *prometheus.CounterVec
	storeWriteErrors   *prometheus.CounterVec
	storeEvents        *prometheus.CounterVec
	storeSubscriptions prometheus.Gauge
	storeTransactions  *prometheus.CounterVec
	storeSnapshots     prometheus.Counter
	storeSnapshotMs    prometheus.Histogram

	// Trigger dispatch
	triggersDispatched *prometheus.CounterVec
	triggersDuplicate  prometheus.Counter
	triggersDropped    prometheus.Counter
	handlerLatency     *prometheus.HistogramVec
	handlerErrors      *prometheus.CounterVec

	// Queue
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueEnqueues      prometheus.Counter
	queueDequeues      prometheus.Counter
	queueEnqueueErrors *prometheus.CounterVec

	// Workers
	workerCount prometheus.Gauge

	// Capture protocol
	captureTransitions *prometheus.CounterVec
	captureRejections  *prometheus.CounterVec
	pointsAwarded      prometheus.Counter
	notifications      *prometheus.CounterVec
	chatTrimmed        prometheus.Counter
	ghostsSpawned      *prometheus.CounterVec
	sweepRemovals      *prometheus.CounterVec
	playersOnline      prometheus.Gauge
	nearbyPlayers      prometheus.Histogram

	// Leaderboard
	leaderboardPlayers prometheus.Gauge
	leaderboardLatency *prometheus.HistogramVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpErrors          *prometheus.CounterVec
	streamClients       prometheus.Gauge

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "ghostcoop",
		subsystem:        "coordinator",
		histogramBuckets: prometheus.DefBuckets,
		customLabels:     make(map[string]string),
		metricPrefix:     "",
		registry:         prometheus.DefaultRegisterer,
	}
	m.enabled.Store(true)
	m.refreshInterval.Store(int64(defaultRefreshInterval))

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()
	return m
}

// Enabled reports whether recording is on.
func (m *Manager) Enabled() bool { return m.enabled.Load() }

// RefreshInterval is how often periodically refreshed gauges are updated.
func (m *Manager) RefreshInterval() time.Duration {
	return time.Duration(m.refreshInterval.Load())
}

// Configure applies runtime options (enabled, refresh interval) to the
// global manager. Naming and registry options only take effect in NewManager.
func Configure(opts ...Option) {
	for _, opt := range opts {
		opt(globalManager)
	}
}

// Enabled reports whether the global recorders are on.
func Enabled() bool { return globalManager.Enabled() }

// RefreshInterval returns the global gauge refresh interval.
func RefreshInterval() time.Duration { return globalManager.RefreshInterval() }

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, Buckets: buckets, ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, Buckets: m.histogramBuckets, ConstLabels: m.customLabels,
	}, labels)
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	m.storeWrites = m.counterVec("store_writes_total", "Store writes by operation", "op")
	m.storeWriteErrors = m.counterVec("store_write_errors_total", "Rejected store writes by operation", "op")
	m.storeEvents = m.counterVec("store_events_delivered_total", "Subscription events delivered by class", "event")
	m.storeSubscriptions = m.gauge("store_subscriptions", "Active store subscriptions")
	m.storeTransactions = m.counterVec("store_transactions_total", "Store transactions by outcome", "outcome")
	m.storeSnapshots = m.counter("store_snapshots_total", "Store snapshots written to disk")
	m.storeSnapshotMs = m.histogram("store_snapshot_duration_milliseconds", "Snapshot write duration in milliseconds", m.histogramBuckets)

	m.triggersDispatched = m.counterVec("triggers_dispatched_total", "Trigger events dispatched by template and op", "template", "op")
	m.triggersDuplicate = m.counter("triggers_duplicate_total", "Trigger deliveries dropped as duplicates")
	m.triggersDropped = m.counter("triggers_dropped_total", "Trigger deliveries dropped on backpressure")
	m.handlerLatency = m.histogramVec("handler_latency_milliseconds", "Trigger handler latency in milliseconds", "template")
	m.handlerErrors = m.counterVec("handler_errors_total", "Trigger handler errors by template", "template")

	m.queueSize = m.gauge("queue_size", "Current number of queued trigger events")
	m.queueCapacity = m.gauge("queue_capacity", "Total capacity across queue lanes")
	m.queueEnqueues = m.counter("queue_enqueue_total", "Trigger events enqueued")
	m.queueDequeues = m.counter("queue_dequeue_total", "Trigger events dequeued")
	m.queueEnqueueErrors = m.counterVec("queue_enqueue_errors_total", "Enqueue failures by reason", "reason")

	m.workerCount = m.gauge("worker_count", "Number of trigger workers (queue lanes)")

	m.captureTransitions = m.counterVec("capture_transitions_total", "Capture state transitions by target state", "state")
	m.captureRejections = m.counterVec("capture_rejections_total", "Ignored capture triggers by reason", "trigger", "reason")
	m.pointsAwarded = m.counter("points_awarded_total", "Points distributed to participants")
	m.notifications = m.counterVec("notifications_total", "Notifications emitted by type", "type")
	m.chatTrimmed = m.counter("chat_trimmed_total", "Chat messages removed by history trimming")
	m.ghostsSpawned = m.counterVec("ghosts_spawned_total", "Ghosts spawned by kind", "kind")
	m.sweepRemovals = m.counterVec("sweep_removals_total", "Records removed by the sweeper", "kind")
	m.playersOnline = m.gauge("players_online", "Players with a live record in the store")
	m.nearbyPlayers = m.histogram("nearby_players", "Size of a client's nearby set after a rebuild", []float64{0, 1, 2, 3, 5, 8, 13, 21})

	m.leaderboardPlayers = m.gauge("leaderboard_players", "Players ranked on the leaderboard")
	m.leaderboardLatency = m.histogramVec("leaderboard_latency_milliseconds", "Leaderboard operation latency in milliseconds", "op")

	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds", "endpoint", "method", "status_code")
	m.httpErrors = m.counterVec("http_errors_total", "HTTP errors by endpoint and type", "endpoint", "method", "error_type")
	m.streamClients = m.gauge("stream_clients", "Connected websocket stream clients")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// Store metrics.

// RecordStoreWrite increments the write counter for op (set, update, delete, push, transact).
func RecordStoreWrite(op string) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.storeWrites.WithLabelValues(op).Inc()
}

// RecordStoreWriteError increments the rejected write counter for op.
func RecordStoreWriteError(op string) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.storeWriteErrors.WithLabelValues(op).Inc()
}

// RecordStoreEvent increments the delivered event counter for an event class.
func RecordStoreEvent(event string) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.storeEvents.WithLabelValues(event).Inc()
}

// UpdateStoreSubscriptions sets the number of live subscriptions.
func UpdateStoreSubscriptions(count int) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.storeSubscriptions.Set(float64(count))
}

// RecordStoreTransaction records a transaction outcome (committed, aborted, retried).
func RecordStoreTransaction(outcome string) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.storeTransactions.WithLabelValues(outcome).Inc()
}

// RecordStoreSnapshot records a snapshot written to disk.
func RecordStoreSnapshot(durationMs float64) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.storeSnapshots.Inc()
	globalManager.storeSnapshotMs.Observe(durationMs)
}

// Trigger metrics.

// RecordTriggerDispatched counts a trigger event routed to a handler.
func RecordTriggerDispatched(template, op string) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.triggersDispatched.WithLabelValues(template, op).Inc()
}

// RecordTriggerDuplicate counts a trigger delivery dropped by dedupe.
func RecordTriggerDuplicate() {
	if !globalManager.Enabled() {
		return
	}
	globalManager.triggersDuplicate.Inc()
}

// RecordTriggerDropped counts a trigger delivery lost to backpressure.
func RecordTriggerDropped() {
	if !globalManager.Enabled() {
		return
	}
	globalManager.triggersDropped.Inc()
}

// RecordHandlerLatency records how long a trigger handler ran.
func RecordHandlerLatency(template string, latencyMs float64) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.handlerLatency.WithLabelValues(template).Observe(latencyMs)
}

// RecordHandlerError counts a failed trigger handler invocation.
func RecordHandlerError(template string) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.handlerErrors.WithLabelValues(template).Inc()
}

// Queue metrics.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	if !globalManager.Enabled() {
		return
	}
	globalManager.queueEnqueues.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	if !globalManager.Enabled() {
		return
	}
	globalManager.queueDequeues.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError(reason string) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.queueEnqueueErrors.WithLabelValues(reason).Inc()
}

// UpdateWorkerCount sets the current worker count.
func UpdateWorkerCount(count int) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.workerCount.Set(float64(count))
}

// Capture protocol metrics.

// RecordCaptureTransition counts an entity entering state (attempting, in_progress, captured, reset).
func RecordCaptureTransition(state string) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.captureTransitions.WithLabelValues(state).Inc()
}

// RecordCaptureRejection counts a trigger ignored by the coordinator's guards.
func RecordCaptureRejection(trigger, reason string) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.captureRejections.WithLabelValues(trigger, reason).Inc()
}

// RecordPointsAwarded adds distributed points.
func RecordPointsAwarded(points int) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.pointsAwarded.Add(float64(points))
}

// RecordNotification counts an emitted notification.
func RecordNotification(kind string) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.notifications.WithLabelValues(kind).Inc()
}

// RecordChatTrimmed adds trimmed chat messages.
func RecordChatTrimmed(count int) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.chatTrimmed.Add(float64(count))
}

// RecordGhostSpawned counts a spawned ghost.
func RecordGhostSpawned(kind string) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.ghostsSpawned.WithLabelValues(kind).Inc()
}

// RecordSweepRemoval adds records removed by the sweeper (attempt, player, ghost).
func RecordSweepRemoval(kind string, count int) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.sweepRemovals.WithLabelValues(kind).Add(float64(count))
}

// UpdatePlayersOnline sets the number of live player records.
func UpdatePlayersOnline(count int) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.playersOnline.Set(float64(count))
}

// RecordNearbyPlayers observes a client's nearby set size.
func RecordNearbyPlayers(count int) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.nearbyPlayers.Observe(float64(count))
}

// Leaderboard metrics.

// UpdateLeaderboardPlayers sets the number of ranked players.
func UpdateLeaderboardPlayers(count int) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.leaderboardPlayers.Set(float64(count))
}

// RecordLeaderboardLatency records one leaderboard operation (set, rank, top).
func RecordLeaderboardLatency(op string, latencyMs float64) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.leaderboardLatency.WithLabelValues(op).Observe(latencyMs)
}

// HTTP metrics.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordHTTPError records an error response.
func RecordHTTPError(endpoint, method, errorType string) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.httpErrors.WithLabelValues(endpoint, method, errorType).Inc()
}

// UpdateStreamClients sets the number of connected stream clients.
func UpdateStreamClients(count int) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.streamClients.Set(float64(count))
}

// System metrics.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	if !globalManager.Enabled() {
		return
	}
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
