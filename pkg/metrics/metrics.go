package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncCycles records completed sync cycles by kind (full|incremental) and result (success|error).
	SyncCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "synccore_sync_cycles_total",
			Help: "Total number of sync cycles",
		},
		[]string{"kind", "result"},
	)

	// SyncRecords counts records moved during sync by direction (downloaded|uploaded).
	SyncRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "synccore_sync_records_total",
			Help: "Total number of records exchanged with the remote",
		},
		[]string{"direction"},
	)

	// QueueDepth tracks pending action queue items.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "synccore_queue_depth",
			Help: "Number of pending action queue items",
		},
	)

	// QueueDeadLetters counts items removed from the active queue after exhausting retries.
	QueueDeadLetters = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "synccore_queue_dead_letters_total",
			Help: "Total number of dead-lettered queue items",
		},
	)

	// CacheBytes tracks the live, non-expired cache footprint.
	CacheBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "synccore_cache_bytes",
			Help: "Live cache size in bytes",
		},
	)

	// CacheEvictions counts entries evicted under size pressure.
	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "synccore_cache_evictions_total",
			Help: "Total number of cache entries evicted",
		},
	)

	// Conflicts counts conflict resolutions by table and strategy.
	Conflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "synccore_conflicts_total",
			Help: "Total number of resolved sync conflicts",
		},
		[]string{"table", "strategy"},
	)
)
