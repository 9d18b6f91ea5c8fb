// Package metrics provides Prometheus metrics for the veracity validator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the validator.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      map[string]string
	registry         prometheus.Registerer

	// Submissions
	submissionsReceived  prometheus.Counter
	submissionsDuplicate prometheus.Counter
	schemaViolations     prometheus.Counter

	// Scoring
	challengesScored  *prometheus.CounterVec
	componentOutcomes *prometheus.CounterVec
	finalScore        prometheus.Histogram
	scoringLatency    prometheus.Histogram
	scoringErrors     prometheus.Counter

	// Receipt ledger
	ledgerWrites       prometheus.Counter
	ledgerWriteErrors  prometheus.Counter
	ledgerWriteLatency prometheus.Histogram

	// Ground truth
	groundTruthLatency *prometheus.HistogramVec
	groundTruthErrors  *prometheus.CounterVec
	snapshotLookups    *prometheus.CounterVec

	// Merge
	mergeNodes     *prometheus.CounterVec
	mergeEdges     prometheus.Counter
	mergeConflicts *prometheus.CounterVec
	mergeRejected  *prometheus.CounterVec
	mergeLatency   prometheus.Histogram

	// Leaderboard
	leaderboardUpdates      prometheus.Counter
	totalMiners             prometheus.Gauge
	repositoryUpdateLatency prometheus.Histogram
	repositoryQueryLatency  prometheus.Histogram

	// Queue
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueued      prometheus.Counter
	queueDequeued      prometheus.Counter
	queueEnqueueErrors prometheus.Counter

	// Workers
	workerCount             prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorsByComponent *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "veracity",
		subsystem:        "validator",
		histogramBuckets: prometheus.DefBuckets,
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

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every metric
	latencyMs := []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

	m.submissionsReceived = m.counter("submissions_received_total", "Dataset submissions accepted for processing")
	m.submissionsDuplicate = m.counter("submissions_duplicate_total", "Submissions dropped because their id was already seen")
	m.schemaViolations = m.counter("schema_violations_total", "Datasets rejected by the schema validator")

	m.challengesScored = m.counterVec("challenges_scored_total", "Challenges scored by terminal state", "state")
	m.componentOutcomes = m.counterVec("component_outcomes_total", "Per-component verification outcomes", "component", "outcome")
	m.finalScore = m.histogram("final_score", "Distribution of final challenge scores", []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1})
	m.scoringLatency = m.histogram("scoring_latency_milliseconds", "Scoring latency including the receipt write", latencyMs)
	m.scoringErrors = m.counter("scoring_errors_total", "Scoring operations that did not complete")

	m.ledgerWrites = m.counter("ledger_writes_total", "Receipts durably appended")
	m.ledgerWriteErrors = m.counter("ledger_write_errors_total", "Receipt appends that failed or timed out")
	m.ledgerWriteLatency = m.histogram("ledger_write_latency_milliseconds", "Receipt append latency", latencyMs)

	m.groundTruthLatency = m.histogramVec("ground_truth_latency_milliseconds", "Ground-truth fetch latency", latencyMs, "component")
	m.groundTruthErrors = m.counterVec("ground_truth_errors_total", "Ground-truth fetches that produced no value", "component", "reason")
	m.snapshotLookups = m.counterVec("snapshot_lookups_total", "Ground-truth snapshot cache lookups", "result")

	m.mergeNodes = m.counterVec("merge_nodes_upserted_total", "Graph nodes upserted by the merger", "kind")
	m.mergeEdges = m.counter("merge_edges_upserted_total", "Graph edges upserted by the merger")
	m.mergeConflicts = m.counterVec("merge_conflicts_total", "Immutable attribute disagreements seen during merge", "attribute")
	m.mergeRejected = m.counterVec("merge_rejected_total", "Datasets or records rejected by the merger", "reason")
	m.mergeLatency = m.histogram("merge_latency_milliseconds", "Dataset merge latency", latencyMs)

	m.leaderboardUpdates = m.counter("leaderboard_updates_total", "Miner leaderboard updates")
	m.totalMiners = m.gauge("miners_total", "Miners present on the leaderboard")
	m.repositoryUpdateLatency = m.histogram("repository_update_latency_milliseconds", "Leaderboard update latency", latencyMs)
	m.repositoryQueryLatency = m.histogram("repository_query_latency_milliseconds", "Leaderboard query latency", latencyMs)

	m.queueSize = m.gauge("queue_size", "Submissions waiting in the queue")
	m.queueCapacity = m.gauge("queue_capacity", "Queue capacity")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Queue fill ratio")
	m.queueEnqueued = m.counter("queue_enqueued_total", "Submissions enqueued")
	m.queueDequeued = m.counter("queue_dequeued_total", "Submissions dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Submissions rejected by the queue")

	m.workerCount = m.gauge("worker_count", "Running pipeline workers")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds", "End-to-end pipeline latency per submission", latencyMs)
	m.workerErrors = m.counter("worker_errors_total", "Submissions whose pipeline returned an error")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_seconds", "HTTP request duration", m.histogramBuckets, "endpoint", "method", "status_code")

	m.errorsByComponent = m.counterVec("errors_total", "Errors by component and type", "component", "type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Heap memory in use")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
}

// RecordSubmissionReceived increments the accepted submissions counter.
func RecordSubmissionReceived() { globalManager.submissionsReceived.Inc() }

// RecordSubmissionDuplicate increments the duplicate submissions counter.
func RecordSubmissionDuplicate() { globalManager.submissionsDuplicate.Inc() }

// RecordSchemaViolation increments the schema violations counter.
func RecordSchemaViolation() { globalManager.schemaViolations.Inc() }

// RecordChallengeScored counts a scored challenge and observes its final score.
func RecordChallengeScored(state string, final float64) {
	globalManager.challengesScored.WithLabelValues(state).Inc()
	globalManager.finalScore.Observe(final)
}

// RecordComponentOutcome counts one component verification outcome.
func RecordComponentOutcome(component, outcome string) {
	globalManager.componentOutcomes.WithLabelValues(component, outcome).Inc()
}

// RecordScoringLatency records scoring latency in milliseconds.
func RecordScoringLatency(latencyMs float64) { globalManager.scoringLatency.Observe(latencyMs) }

// RecordScoringError increments the scoring errors counter.
func RecordScoringError() { globalManager.scoringErrors.Inc() }

// RecordLedgerWrite records a successful receipt append.
func RecordLedgerWrite(latencyMs float64) {
	globalManager.ledgerWrites.Inc()
	globalManager.ledgerWriteLatency.Observe(latencyMs)
}

// RecordLedgerWriteError increments the ledger write error counter.
func RecordLedgerWriteError() { globalManager.ledgerWriteErrors.Inc() }

// RecordGroundTruthLatency observes one ground-truth fetch.
func RecordGroundTruthLatency(component string, latencyMs float64) {
	globalManager.groundTruthLatency.WithLabelValues(component).Observe(latencyMs)
}

// RecordGroundTruthError counts a fetch that ended without a value.
func RecordGroundTruthError(component, reason string) {
	globalManager.groundTruthErrors.WithLabelValues(component, reason).Inc()
}

// RecordSnapshotLookup counts a snapshot cache hit or miss.
func RecordSnapshotLookup(result string) { globalManager.snapshotLookups.WithLabelValues(result).Inc() }

// RecordMergeNode counts an upserted node.
func RecordMergeNode(kind string) { globalManager.mergeNodes.WithLabelValues(kind).Inc() }

// RecordMergeEdge counts an upserted edge.
func RecordMergeEdge() { globalManager.mergeEdges.Inc() }

// RecordMergeConflict counts an immutable attribute disagreement.
func RecordMergeConflict(attribute string) {
	globalManager.mergeConflicts.WithLabelValues(attribute).Inc()
}

// RecordMergeRejected counts a rejected dataset or record.
func RecordMergeRejected(reason string) { globalManager.mergeRejected.WithLabelValues(reason).Inc() }

// RecordMergeLatency records merge latency in milliseconds.
func RecordMergeLatency(latencyMs float64) { globalManager.mergeLatency.Observe(latencyMs) }

// RecordLeaderboardUpdate increments the leaderboard updates counter.
func RecordLeaderboardUpdate() { globalManager.leaderboardUpdates.Inc() }

// UpdateTotalMiners sets the number of ranked miners.
func UpdateTotalMiners(count int) { globalManager.totalMiners.Set(float64(count)) }

// RecordRepositoryUpdateLatency records leaderboard update latency.
func RecordRepositoryUpdateLatency(latencyMs float64) {
	globalManager.repositoryUpdateLatency.Observe(latencyMs)
}

// RecordRepositoryQueryLatency records leaderboard query latency.
func RecordRepositoryQueryLatency(latencyMs float64) {
	globalManager.repositoryQueryLatency.Observe(latencyMs)
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) { globalManager.queueUtilization.Set(utilization) }

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() { globalManager.queueEnqueued.Inc() }

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() { globalManager.queueDequeued.Inc() }

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() { globalManager.queueEnqueueErrors.Inc() }

// UpdateWorkerCount sets the current worker count.
func UpdateWorkerCount(count int) { globalManager.workerCount.Set(float64(count)) }

// RecordWorkerProcessingLatency records pipeline latency per submission.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() { globalManager.workerErrors.Inc() }

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in seconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// UpdateSystemMemoryUsage sets the heap memory in use.
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) { globalManager.systemGoroutineCount.Set(float64(count)) }

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
