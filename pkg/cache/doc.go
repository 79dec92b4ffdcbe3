// Package cache provides a two-tier get-or-compute cache.
//
// The memory tier is a bounded LRU holding entries with a per-entry expiry. The
// optional disk tier stores one JSON file per key under <root>/<tag>/<key>.json and
// expires files by modification time. Which tiers a key uses, and for how long, is
// decided per call by a Policy:
//
//	c, err := cache.NewTiered[*report.Report](cache.Options{
//		MaxEntries: 256,
//		Disk:       disk,
//		Clock:      quartz.NewReal(),
//		Logger:     logger,
//	})
//	r, err := c.GetOrCompute(ctx, key, cache.Policy{Tag: "weekly", MemoryTTL: time.Hour, Persist: true}, build)
//
// Concurrent callers that miss on the same key share a single computation.
//
// # Version guard
//
// VersionGuard runs once at startup. It compares the major version recorded in
// <root>/Info.json with the running build and wipes the disk tier when they differ.
//
// # Errors
//
// Disk failures never reach callers of GetOrCompute. They are logged, counted and
// turned into a recompute. Errors returned by compute are passed through unchanged.
package cache
