// Package metrics provides Prometheus metrics for the netvr coordinator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector exported by the coordinator.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Connections
	connectedClients   prometheus.Gauge
	connectionsTotal   prometheus.Counter
	disconnectsTotal   *prometheus.CounterVec
	handshakeFailures  prometheus.Counter
	datagramsReceived  prometheus.Counter
	datagramsDropped   *prometheus.CounterVec
	sendFailures       *prometheus.CounterVec
	configurationsSeen prometheus.Counter

	// Reconciliation
	mergedClients   prometheus.Gauge
	reconcileMisses prometheus.Counter

	// Calibration
	calibrationSessions *prometheus.CounterVec
	calibrationPairs    prometheus.Histogram
	calibrationDuration prometheus.Histogram

	// Coordinator loop
	tickLatency      prometheus.Histogram
	commandQueueSize prometheus.Gauge
	commandsEnqueued prometheus.Counter
	commandsRejected *prometheus.CounterVec
	objectGrabs      prometheus.Counter
	worldObjects     prometheus.Gauge

	// HTTP / dashboard
	httpRequests         *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpErrors           *prometheus.CounterVec
	dashboardSubscribers prometheus.Gauge

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics. Only build info is exported
// from the runtime; memory and goroutines come from our own gauges.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	customRegistry.MustRegister(collectors.NewBuildInfoCollector())
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "netvr",
		subsystem:        "coordinator",
		histogramBuckets: prometheus.DefBuckets,
		constLabels:      prometheus.Labels{},
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
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
		Buckets:     buckets,
	})
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	m.connectedClients = m.gauge("connected_clients", "Number of clients with a live configuration stream")
	m.connectionsTotal = m.counter("connections_total", "Total number of accepted client connections")
	m.disconnectsTotal = m.counterVec("disconnects_total", "Client disconnects by reason", "reason")
	m.handshakeFailures = m.counter("handshake_failures_total", "Stream handshakes that failed or timed out")
	m.datagramsReceived = m.counter("datagrams_received_total", "Datagrams accepted from clients")
	m.datagramsDropped = m.counterVec("datagrams_dropped_total", "Datagrams dropped by reason", "reason")
	m.sendFailures = m.counterVec("send_failures_total", "Outbound sends that failed by channel", "channel")
	m.configurationsSeen = m.counter("configuration_updates_total", "Configuration snapshots received from clients")

	m.mergedClients = m.gauge("merged_clients", "Clients with a version-consistent merged view")
	m.reconcileMisses = m.counter("reconcile_misses_total", "Clients left pending or stale by a reconcile round")

	m.calibrationSessions = m.counterVec("calibration_sessions_total", "Calibration sessions by outcome", "outcome")
	m.calibrationPairs = m.histogram("calibration_accepted_pairs", "Sample pairs accepted by the rotation filter",
		[]float64{0, 3, 5, 10, 25, 50, 100, 250, 500, 1000})
	m.calibrationDuration = m.histogram("calibration_duration_seconds", "Wall time of calibration sessions",
		[]float64{0.5, 1, 2, 5, 10, 20, 30, 45, 60, 90})

	m.tickLatency = m.histogram("tick_latency_milliseconds", "Time spent handling one coordinator tick",
		[]float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 20})
	m.commandQueueSize = m.gauge("command_queue_size", "Commands waiting for the coordinator loop")
	m.commandsEnqueued = m.counter("commands_enqueued_total", "Commands accepted by the coordinator queue")
	m.commandsRejected = m.counterVec("commands_rejected_total", "Commands rejected by reason", "reason")
	m.objectGrabs = m.counter("object_grabs_total", "Ownership changes on world objects")
	m.worldObjects = m.gauge("world_objects", "Objects in the shared world state")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint and method",
		"endpoint", "method", "status_code")
	m.httpRequestDuration = promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "http_request_duration_milliseconds",
		Help:        "HTTP request duration in milliseconds",
		ConstLabels: m.constLabels,
		Buckets:     m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})
	m.httpErrors = m.counterVec("http_errors_total", "HTTP error responses by endpoint and type",
		"endpoint", "method", "error_type", "severity")
	m.dashboardSubscribers = m.gauge("dashboard_subscribers", "Open dashboard websocket sessions")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Heap memory in use")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
}

// UpdateConnectedClients sets the number of live clients.
func UpdateConnectedClients(n int) { globalManager.connectedClients.Set(float64(n)) }

// RecordConnection counts an accepted connection.
func RecordConnection() { globalManager.connectionsTotal.Inc() }

// RecordDisconnect counts a closed connection.
func RecordDisconnect(reason string) { globalManager.disconnectsTotal.WithLabelValues(reason).Inc() }

// RecordHandshakeFailure counts a failed stream handshake.
func RecordHandshakeFailure() { globalManager.handshakeFailures.Inc() }

// RecordDatagram counts an accepted datagram.
func RecordDatagram() { globalManager.datagramsReceived.Inc() }

// RecordDatagramDropped counts a dropped datagram.
func RecordDatagramDropped(reason string) {
	globalManager.datagramsDropped.WithLabelValues(reason).Inc()
}

// RecordSendFailure counts an outbound send failure on "stream" or "datagram".
func RecordSendFailure(channel string) { globalManager.sendFailures.WithLabelValues(channel).Inc() }

// RecordConfigurationUpdate counts a received configuration snapshot.
func RecordConfigurationUpdate() { globalManager.configurationsSeen.Inc() }

// UpdateMergedClients sets the size of the merged view.
func UpdateMergedClients(n int) { globalManager.mergedClients.Set(float64(n)) }

// RecordReconcileMisses adds clients that did not converge in a round.
func RecordReconcileMisses(n int) {
	if n > 0 {
		globalManager.reconcileMisses.Add(float64(n))
	}
}

// RecordCalibration counts a finished calibration session.
func RecordCalibration(outcome string, seconds float64) {
	globalManager.calibrationSessions.WithLabelValues(outcome).Inc()
	globalManager.calibrationDuration.Observe(seconds)
}

// RecordCalibrationPairs observes the accepted pair count of one computation.
func RecordCalibrationPairs(n int) { globalManager.calibrationPairs.Observe(float64(n)) }

// RecordTickLatency observes the duration of one coordinator tick.
func RecordTickLatency(ms float64) { globalManager.tickLatency.Observe(ms) }

// UpdateCommandQueueSize sets the pending command count.
func UpdateCommandQueueSize(n int) { globalManager.commandQueueSize.Set(float64(n)) }

// RecordCommandEnqueued counts an accepted command.
func RecordCommandEnqueued() { globalManager.commandsEnqueued.Inc() }

// RecordCommandRejected counts a rejected command.
func RecordCommandRejected(reason string) {
	globalManager.commandsRejected.WithLabelValues(reason).Inc()
}

// RecordObjectGrab counts an ownership change.
func RecordObjectGrab() { globalManager.objectGrabs.Inc() }

// UpdateWorldObjects sets the number of world objects.
func UpdateWorldObjects(n int) { globalManager.worldObjects.Set(float64(n)) }

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPError counts one 4xx/5xx response.
func RecordHTTPError(endpoint, method, errorType, severity string) {
	globalManager.httpErrors.WithLabelValues(endpoint, method, errorType, severity).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// UpdateDashboardSubscribers sets the number of websocket subscribers.
func UpdateDashboardSubscribers(n int) { globalManager.dashboardSubscribers.Set(float64(n)) }

// UpdateSystemMemoryUsage sets heap usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the goroutine count.
func UpdateSystemGoroutineCount(count int) { globalManager.systemGoroutineCount.Set(float64(count)) }

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
