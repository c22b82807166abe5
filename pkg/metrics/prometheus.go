// Package metrics provides Prometheus metrics for the tabulator service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the tabulator service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Score ledger writes
	scoresUpserted       prometheus.Counter
	scoresDeleted        prometheus.Counter
	scoresReset          prometheus.Counter
	scoresRejected       *prometheus.CounterVec
	submissionsDuplicate prometheus.Counter

	// Event channel
	eventsPublished    prometheus.Counter
	eventsDelivered    prometheus.Counter
	eventHandlerPanics prometheus.Counter
	eventQueueDepth    prometheus.Gauge
	eventSubscribers   prometheus.Gauge

	// Rank calculator
	rankingComputations prometheus.Counter
	rankingLatency      prometheus.Histogram
	configAnomalies     prometheus.Counter
	scoresDropped       *prometheus.CounterVec

	// Ranking cache
	cacheHits          prometheus.Counter
	cacheMisses        prometheus.Counter
	cacheFetches       prometheus.Counter
	cacheCoalesced     prometheus.Counter
	cacheInvalidations prometheus.Counter
	cacheEntries       prometheus.Gauge
	cacheFetchLatency  prometheus.Histogram

	// Persistence gateway
	repositoryQueries      *prometheus.CounterVec
	repositoryQueryLatency *prometheus.HistogramVec
	repositoryRecordsTotal prometheus.Gauge

	// Live synchronization
	syncPolls        *prometheus.CounterVec
	syncLeafChanges  prometheus.Counter
	syncFullReplaces prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	streamClients       prometheus.Gauge

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
		namespace:        "tabulator",
		subsystem:        "engine",
		histogramBuckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000},
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

func (m *Manager) initializeMetrics() {
	m.scoresUpserted = m.counter("scores_upserted_total", "Scores written through the persistence gateway")
	m.scoresDeleted = m.counter("scores_deleted_total", "Scores removed individually")
	m.scoresReset = m.counter("scores_reset_total", "Scores removed by bulk resets")
	m.scoresRejected = m.counterVec("scores_rejected_total", "Score submissions rejected by validation", "reason")
	m.submissionsDuplicate = m.counter("submissions_duplicate_total", "Score submissions ignored by idempotency key")

	m.eventsPublished = m.counter("events_published_total", "Score events published on the event channel")
	m.eventsDelivered = m.counter("events_delivered_total", "Score events delivered to subscribers")
	m.eventHandlerPanics = m.counter("event_handler_panics_total", "Subscriber handlers that panicked")
	m.eventQueueDepth = m.gauge("event_queue_depth", "Events waiting for dispatch")
	m.eventSubscribers = m.gauge("event_subscribers", "Active event channel subscriptions")

	m.rankingComputations = m.counter("ranking_computations_total", "Segment rankings computed")
	m.rankingLatency = m.histogram("ranking_latency_milliseconds", "Time to rank one segment")
	m.configAnomalies = m.counter("config_anomalies_total", "Criteria skipped for a non-positive max score")
	m.scoresDropped = m.counterVec("scores_dropped_total", "Scores ignored during ranking", "reason")

	m.cacheHits = m.counter("cache_hits_total", "Ranking cache hits")
	m.cacheMisses = m.counter("cache_misses_total", "Ranking cache misses")
	m.cacheFetches = m.counter("cache_fetches_total", "Gateway fetches issued by the ranking cache")
	m.cacheCoalesced = m.counter("cache_coalesced_total", "Cache requests that joined an in-flight fetch")
	m.cacheInvalidations = m.counter("cache_invalidations_total", "Ranking cache invalidations")
	m.cacheEntries = m.gauge("cache_entries", "Competitions currently cached")
	m.cacheFetchLatency = m.histogram("cache_fetch_latency_milliseconds", "Fetch and recompute latency")

	m.repositoryQueries = m.counterVec("repository_queries_total", "Gateway queries by operation and outcome",
		"operation", "result")
	m.repositoryQueryLatency = promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: m.constLabels,
		Name:    "repository_query_latency_milliseconds",
		Help:    "Gateway query latency in milliseconds",
		Buckets: m.histogramBuckets,
	}, []string{"operation"})
	m.repositoryRecordsTotal = m.gauge("repository_records", "Scores held by the in-memory gateway")

	m.syncPolls = m.counterVec("sync_polls_total", "Live sync poll outcomes", "result")
	m.syncLeafChanges = m.counter("sync_leaf_changes_total", "Leaf changes applied by the selective synchronizer")
	m.syncFullReplaces = m.counter("sync_full_replaces_total", "Bulk ledger replacements")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint and method",
		"endpoint", "method", "status_code")
	m.httpRequestDuration = promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: m.constLabels,
		Name:    "http_request_duration_milliseconds",
		Help:    "HTTP request duration in milliseconds",
		Buckets: m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})
	m.streamClients = m.gauge("stream_clients", "Connected server-sent event clients")

	m.errorsByComponent = m.counterVec("errors_total", "Errors by component and type", "component", "type")

	m.systemMemoryUsage = m.gauge("system_memory_bytes", "Heap memory in use")
	m.systemGoroutineCount = m.gauge("system_goroutines", "Number of goroutines")
}

// RecordScoreUpserted increments the upsert counter.
func RecordScoreUpserted() { globalManager.scoresUpserted.Inc() }

// RecordScoreDeleted increments the single delete counter.
func RecordScoreDeleted() { globalManager.scoresDeleted.Inc() }

// RecordScoresReset adds n removed scores to the reset counter.
func RecordScoresReset(n int) { globalManager.scoresReset.Add(float64(n)) }

// RecordScoreRejected counts a rejected submission by reason.
func RecordScoreRejected(reason string) { globalManager.scoresRejected.WithLabelValues(reason).Inc() }

// RecordSubmissionDuplicate counts a submission skipped by idempotency key.
func RecordSubmissionDuplicate() { globalManager.submissionsDuplicate.Inc() }

// RecordEventPublished increments the published events counter.
func RecordEventPublished() { globalManager.eventsPublished.Inc() }

// RecordEventDelivered increments the delivered events counter.
func RecordEventDelivered() { globalManager.eventsDelivered.Inc() }

// RecordEventHandlerPanic counts a recovered subscriber panic.
func RecordEventHandlerPanic() { globalManager.eventHandlerPanics.Inc() }

// UpdateEventQueueDepth sets the number of undispatched events.
func UpdateEventQueueDepth(n int) { globalManager.eventQueueDepth.Set(float64(n)) }

// UpdateEventSubscribers sets the number of active subscriptions.
func UpdateEventSubscribers(n int) { globalManager.eventSubscribers.Set(float64(n)) }

// RecordRankingComputation records one segment ranking and its latency.
func RecordRankingComputation(latencyMs float64) {
	globalManager.rankingComputations.Inc()
	globalManager.rankingLatency.Observe(latencyMs)
}

// RecordConfigAnomaly counts a criterion skipped for an invalid max score.
func RecordConfigAnomaly() { globalManager.configAnomalies.Inc() }

// RecordScoreDropped counts a score ignored during ranking.
func RecordScoreDropped(reason string) { globalManager.scoresDropped.WithLabelValues(reason).Inc() }

// RecordCacheHit increments the cache hit counter.
func RecordCacheHit() { globalManager.cacheHits.Inc() }

// RecordCacheMiss increments the cache miss counter.
func RecordCacheMiss() { globalManager.cacheMisses.Inc() }

// RecordCacheFetch records one gateway fetch and its latency.
func RecordCacheFetch(latencyMs float64) {
	globalManager.cacheFetches.Inc()
	globalManager.cacheFetchLatency.Observe(latencyMs)
}

// RecordCacheCoalesced counts a request that shared an in-flight fetch.
func RecordCacheCoalesced() { globalManager.cacheCoalesced.Inc() }

// RecordCacheInvalidation increments the invalidation counter.
func RecordCacheInvalidation() { globalManager.cacheInvalidations.Inc() }

// UpdateCacheEntries sets the number of cached competitions.
func UpdateCacheEntries(n int) { globalManager.cacheEntries.Set(float64(n)) }

// RecordRepositoryQuery records one gateway query.
func RecordRepositoryQuery(operation string, latencyMs float64, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	globalManager.repositoryQueries.WithLabelValues(operation, result).Inc()
	globalManager.repositoryQueryLatency.WithLabelValues(operation).Observe(latencyMs)
}

// UpdateRepositoryRecordsTotal sets the number of stored scores.
func UpdateRepositoryRecordsTotal(n int) { globalManager.repositoryRecordsTotal.Set(float64(n)) }

// RecordSyncPoll counts a poll by result: changed, unchanged, not_modified, resync or error.
func RecordSyncPoll(result string) { globalManager.syncPolls.WithLabelValues(result).Inc() }

// RecordSyncApply records the outcome of one selective synchronization.
func RecordSyncApply(changes int, fullReplace bool) {
	globalManager.syncLeafChanges.Add(float64(changes))
	if fullReplace {
		globalManager.syncFullReplaces.Inc()
	}
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// UpdateStreamClients sets the number of connected event stream clients.
func UpdateStreamClients(n int) { globalManager.streamClients.Set(float64(n)) }

// RecordError records an error with component and type labels.
func RecordError(component, errorType string) {
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
