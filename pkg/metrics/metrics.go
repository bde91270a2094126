// Package metrics provides the centralized Prometheus metrics registry for
// the serp API client. All metrics are defined in their respective packages
// (client, cache, ratelimit, webhook) to maintain modularity and avoid
// circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the serp API client.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Rate Limit Metrics (pkg/ratelimit):
//   - serp_ratelimit_attempts_total{client} (Counter): Admitted attempts by API client
//   - serp_ratelimit_blocks_total{client} (Counter): Requests blocked by the sliding window
//
// Cache Metrics (pkg/cache):
//   - serp_cache_hits_total{client} (Counter): Response store hits by API client
//   - serp_cache_misses_total{client} (Counter): Response store misses by API client
//   - serp_cache_writes_total{client} (Counter): Entries written by API client
//   - serp_cache_written_bytes_total{client} (Counter): Cumulative bytes written
//   - serp_cache_errors_total{operation} (Counter): Cache operation errors
//
// Request Metrics (pkg/client):
//   - serp_upstream_requests_total{endpoint, status} (Counter): Upstream calls by endpoint and HTTP status
//   - serp_upstream_request_duration_seconds{endpoint} (Histogram): Upstream call duration by endpoint
//   - serp_standard_results_total{status} (Counter): Standard protocol outcomes (resolved, absent, pending)
//
// Delivery Metrics (pkg/webhook):
//   - serp_deliveries_total{method, outcome} (Counter): Webhook deliveries by method and outcome
//   - serp_delivery_duration_seconds{method} (Histogram): Delivery reconciliation duration
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(serp_cache_hits_total[5m])) /
//   (sum(rate(serp_cache_hits_total[5m])) + sum(rate(serp_cache_misses_total[5m])))
//
//   # Rate Limit Pressure
//   rate(serp_ratelimit_blocks_total[5m])
//
//   # Delivery Failure Rate
//   sum(rate(serp_deliveries_total{outcome!="reconciled"}[5m])) /
//   sum(rate(serp_deliveries_total[5m]))
//
//   # P95 Upstream Latency
//   histogram_quantile(0.95, rate(serp_upstream_request_duration_seconds_bucket[5m]))
//
//   # Spend Per Client (attempts as a proxy for billable task posts)
//   sum by (client) (rate(serp_ratelimit_attempts_total[1h]))
