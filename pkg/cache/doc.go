// Package cache provides the fingerprint-keyed response store with a Redis
// backend.
//
// Entries are keyed by (client name, cache key), where the cache key is the
// deterministic request fingerprint computed by pkg/fingerprint. Writes are
// upserts: a task result delivered asynchronously overwrites the pending
// acknowledgment stored at task-creation time under the same key.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	manager := cache.NewManager(redisClient, logger)
//
//	entry, err := manager.Get(ctx, "dataforseo", key)
//	if err == cache.ErrCacheMiss {
//		// Miss - create an upstream task or return absent.
//	}
//
// # Writing Entries
//
//	err := manager.Put(ctx, &cache.Entry{
//		ClientName:  "dataforseo",
//		CacheKey:    key,
//		Endpoint:    "serp/google/organic/task_post",
//		Version:     "v3",
//		RawResponse: body,
//		Cost:        cost,
//		TTL:         24 * time.Hour, // zero TTL = never expires
//	})
//
// # Claims
//
// Claim/Unclaim implement a short-lease advisory claim per fingerprint so
// that concurrent identical misses collapse to a single upstream call. The
// claim is best-effort: correctness never depends on holding it, and a
// caller that cannot reach Redis proceeds unclaimed.
//
// # Metrics
//
// The store exports Prometheus metrics:
//
//   - serp_cache_hits_total{client} - Cache hits
//   - serp_cache_misses_total - Cache misses
//   - serp_cache_writes_total{client} - Entry writes
//   - serp_cache_written_bytes_total{client} - Cumulative bytes written
//   - serp_cache_errors_total{operation} - Cache operation errors
package cache
