// Package cache provides a generic, thread-safe cache with recency ordering,
// always-on statistics and optional Prometheus metrics.
//
// New builds a cache from a Config. MaxEntries bounds it with least recently
// used eviction; zero leaves it unbounded. A disabled config yields a cache that
// stores nothing and always misses:
//
//	programs, err := cache.New(cache.Config{Enabled: true, MaxEntries: 1000},
//		cache.WithMetrics[*traversal.Program](registry, "query_cache"))
//
// Peek reads an entry without promoting it or counting a lookup.
//
// WithEvictionCallback runs for every entry that leaves the cache, including
// Delete and Clear. Callbacks run outside the cache lock and may call back into
// the cache.
package cache
