package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Hits tracks cache hits by client.
	Hits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serp_cache_hits_total",
			Help: "Total number of response cache hits",
		},
		[]string{"client"},
	)

	// Misses tracks cache misses.
	Misses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "serp_cache_misses_total",
			Help: "Total number of response cache misses",
		},
	)

	// Writes tracks entry writes (first stores and overwrites alike).
	Writes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serp_cache_writes_total",
			Help: "Total number of response cache writes",
		},
		[]string{"client"},
	)

	// WrittenBytes tracks cumulative bytes written to the cache by client.
	// Current size is not tracked: entries expire in Redis without the
	// manager observing it.
	WrittenBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serp_cache_written_bytes_total",
			Help: "Cumulative bytes written to the response cache",
		},
		[]string{"client"},
	)

	// Errors tracks cache operation errors.
	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "serp_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "put", "delete"
	)
)
