package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts all HTTP requests processed by the service.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests handled by the service.",
		},
		[]string{"path", "method", "status"},
	)

	// HTTPRequestDuration measures how long HTTP handlers take to respond.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of latencies for HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	// StoreOperations tracks commands issued against the backing store.
	StoreOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_operations_total",
			Help: "Count of store commands by operation and status.",
		},
		[]string{"operation", "status"},
	)

	// StoreOperationDuration measures how long store commands take.
	StoreOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_operation_duration_seconds",
			Help:    "Histogram of latencies for store commands.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// CacheHits counts reads answered from the cache, per entity kind.
	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Number of cache hits by entity kind.",
		},
		[]string{"kind"},
	)

	// CacheMisses counts reads that fell through to the caller.
	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Number of cache misses by entity kind.",
		},
		[]string{"kind"},
	)

	// InvalidatedKeys counts entries removed by each invalidation path.
	InvalidatedKeys = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_invalidated_keys_total",
			Help: "Number of cache keys removed, by invalidation path.",
		},
		[]string{"via"},
	)

	// LockAcquisitions counts distributed lock outcomes.
	LockAcquisitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lock_acquisitions_total",
			Help: "Count of distributed lock attempts by outcome.",
		},
		[]string{"status"},
	)

	// LockWaitDuration measures time spent waiting for a lock.
	LockWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lock_wait_duration_seconds",
			Help:    "Histogram of time spent acquiring distributed locks.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// AsyncWrites counts fire-and-forget cache writes.
	AsyncWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_async_writes_total",
			Help: "Count of asynchronous cache writes by status.",
		},
		[]string{"status"},
	)

	// WarmupEntries counts warmup computations by result.
	WarmupEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_warmup_entries_total",
			Help: "Count of warmup entries by result.",
		},
		[]string{"status"},
	)
)

// Register registers all metrics in the default registry.
func Register() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		StoreOperations,
		StoreOperationDuration,
		CacheHits,
		CacheMisses,
		InvalidatedKeys,
		LockAcquisitions,
		LockWaitDuration,
		AsyncWrites,
		WarmupEntries,
	)
}

// RecordStoreOp increments StoreOperations with result status.
func RecordStoreOp(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	StoreOperations.WithLabelValues(operation, status).Inc()
}

// RecordStoreLatency records the duration of a store command.
func RecordStoreLatency(operation string, durationSeconds float64) {
	StoreOperationDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordCacheResult records a hit or miss for an entity kind.
func RecordCacheResult(kind string, hit bool) {
	if hit {
		CacheHits.WithLabelValues(kind).Inc()
		return
	}
	CacheMisses.WithLabelValues(kind).Inc()
}

// RecordInvalidation adds removed-key counts for an invalidation path.
func RecordInvalidation(via string, count int64) {
	if count > 0 {
		InvalidatedKeys.WithLabelValues(via).Add(float64(count))
	}
}

// RecordLock records a lock attempt outcome and its wait time.
func RecordLock(status string, waitSeconds float64) {
	LockAcquisitions.WithLabelValues(status).Inc()
	LockWaitDuration.Observe(waitSeconds)
}

// RecordAsyncWrite records the outcome of a fire-and-forget write.
func RecordAsyncWrite(err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	AsyncWrites.WithLabelValues(status).Inc()
}

// RecordWarmup adds warmup results.
func RecordWarmup(succeeded, failed int) {
	if succeeded > 0 {
		WarmupEntries.WithLabelValues("succeeded").Add(float64(succeeded))
	}
	if failed > 0 {
		WarmupEntries.WithLabelValues("failed").Add(float64(failed))
	}
}
