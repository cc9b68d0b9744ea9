// Package cache provides a generic, thread-safe TTL cache.
//
// trafficstreams keeps the most recent snapshot baseline of every snapshot source in a
// TTL cache. The ttl is the staleness bound: once a baseline is older than the ttl it is
// no longer returned, so live aggregation falls back to stream data alone instead of
// merging against an outdated snapshot.
//
//	baselines, err := cache.NewTTL[snapshot.Baseline](ctx, 2*time.Minute, 30*time.Second,
//	    cache.WithMetrics[snapshot.Baseline](registry, "snapshot_baselines"))
//	_, _ = baselines.Set("dashboard", b)
//	if b, ok := baselines.Get("dashboard"); ok { ... }
//
// Statistics are always collected; WithMetrics exports them as trafficstreams_cache_*.
package cache
