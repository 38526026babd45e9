package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PasteCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastry_paste_created_total",
		Help: "no. of pastes created",
	})
	PasteRetrieved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastry_paste_retrieved_total",
		Help: "no. of pastes retrieved",
	})
	PasteDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastry_paste_deleted_total",
		Help: "no. of pastes explicitly deleted",
	})
	PasteListed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastry_paste_list_requests_total",
		Help: "no. of public list requests served",
	})
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastry_cache_hits_total",
		Help: "no. of cache hits",
	})
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastry_cache_misses_total",
		Help: "no. of cache misses",
	})
	SweepCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastry_sweep_cycles_total",
		Help: "no. of expiry sweep cycles",
	})
	SweptPastes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastry_swept_pastes_total",
		Help: "no. of expired pastes removed by the sweep",
	})
	SweepFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastry_sweep_failures_total",
		Help: "no. of per-item delete failures during sweeps",
	})
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pastry_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pastry_rate_limit_hits_total",
			Help: "no. of rate limit violations",
		},
		[]string{"endpoint"},
	)
)
