package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Allocation pipeline.
	AllocationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "allocator_allocation_duration_seconds",
			Help:    "Duration of the allocation engine call for a /compact submission, from the balance check through persistence",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	AllocationRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "allocator_allocation_rejections_total",
			Help: "Total rejected submissions by error class",
		},
		[]string{"class"},
	)

	AllocationsAccepted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "allocator_allocations_accepted_total",
			Help: "Total accepted and persisted compacts by kind",
		},
		[]string{"kind"},
	)

	// Nonce lifecycle.
	NonceExhaustion = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "allocator_nonce_exhaustion_total",
			Help: "Total times /suggested-nonce exhausted its fragment scan for a sponsor",
		},
		[]string{"chain"},
	)

	NonceReplaysRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "allocator_nonce_replays_rejected_total",
			Help: "Total submissions rejected for reusing an already-consumed nonce",
		},
		[]string{"chain"},
	)

	// Indexer.
	IndexerCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "allocator_indexer_call_duration_seconds",
			Help:    "Duration of outbound indexer calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	IndexerCallErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "allocator_indexer_call_errors_total",
			Help: "Total failed outbound indexer calls",
		},
		[]string{"op"},
	)

	// Database.
	DBConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "allocator_db_connection_status",
		Help: "Database connection status (1=healthy, 0=unhealthy)",
	})

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "allocator_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query_type"},
	)

	// Event publishing.
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "allocator_events_published_total",
			Help: "Total lifecycle events published",
		},
		[]string{"event_type"},
	)

	EventsPublishFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "allocator_events_publish_failed_total",
			Help: "Total lifecycle events that failed to publish",
		},
		[]string{"event_type"},
	)
)
