package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/gpureport/pkg/observability"
)

const (
	// DefaultMaxEntries bounds the memory tier when Options.MaxEntries is unset
	DefaultMaxEntries = 256
	// DefaultMemoryTTL applies to policies without a MemoryTTL
	DefaultMemoryTTL = time.Hour

	tierMemory = "memory"
	tierDisk   = "disk"
)

// Policy decides where an entry lives and for how long
type Policy struct {
	// Tag groups entries for bulk invalidation and names their disk directory
	Tag string
	// MemoryTTL bounds how long the memory tier serves the entry
	MemoryTTL time.Duration
	// Persist enables the disk tier for this entry
	Persist bool
	// DiskTTL expires disk files by modification time; zero never expires
	DiskTTL time.Duration
}

func (p Policy) memoryTTL() time.Duration {
	if p.MemoryTTL <= 0 {
		return DefaultMemoryTTL
	}
	return p.MemoryTTL
}

// Cloner is implemented by values that must be deep-copied before they leave the
// cache. Values of other types are returned as is.
type Cloner[T any] interface {
	Clone() T
}

type entry[T any] struct {
	data      T
	tag       string
	createdAt time.Time
	expiresAt time.Time
}

// Options configures a Tiered cache
type Options struct {
	MaxEntries int
	// Disk is optional; without it every policy behaves as memory-only
	Disk    *DiskStore
	Clock   quartz.Clock
	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Stats is a point-in-time view of cache activity
type Stats struct {
	MemoryHits    int64   `json:"memoryHits"`
	DiskHits      int64   `json:"diskHits"`
	Misses        int64   `json:"misses"`
	Computes      int64   `json:"computes"`
	HitRate       float64 `json:"hitRate"`
	MemoryEntries int     `json:"memoryEntries"`
	DiskFiles     int     `json:"diskFiles"`
	DiskBytes     int64   `json:"diskBytes"`
}

// Tiered is a get-or-compute cache with a memory tier and an optional disk tier.
// The memory LRU only holds its lock for map operations; computations run outside
// it, serialized per key by a singleflight group.
type Tiered[T any] struct {
	memory  *lru.Cache[string, *entry[T]]
	disk    *DiskStore
	group   singleflight.Group
	clock   quartz.Clock
	logger  *observability.Logger
	metrics *observability.Metrics

	memoryHits atomic.Int64
	diskHits   atomic.Int64
	misses     atomic.Int64
	computes   atomic.Int64
}

// NewTiered creates a cache
func NewTiered[T any](opts Options) (*Tiered[T], error) {
	size := opts.MaxEntries
	if size <= 0 {
		size = DefaultMaxEntries
	}
	memory, err := lru.New[string, *entry[T]](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory tier: %w", err)
	}

	clock := opts.Clock
	if clock == nil {
		clock = quartz.NewReal()
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &Tiered[T]{
		memory:  memory,
		disk:    opts.Disk,
		clock:   clock,
		logger:  logger.WithComponent("tiered_cache"),
		metrics: opts.Metrics,
	}, nil
}

// GetOrCompute returns the cached value for key or computes it.
//
// Lookup order is memory, then disk when policy.Persist is set, then compute. A
// disk hit is promoted into memory. A computed value is stored in memory and, if
// the policy allows, on disk. Concurrent callers for the same key share one
// computation and its error.
func (c *Tiered[T]) GetOrCompute(ctx context.Context, key string, policy Policy, compute func(context.Context) (T, error)) (T, error) {
	var zero T
	if key == "" {
		return zero, ErrInvalidKey
	}

	if v, ok := c.lookupMemory(key, false); ok {
		return cloneValue(v), nil
	}

	res, err, _ := c.group.Do(key, func() (any, error) {
		// a previous flight may have filled the entry while this caller waited
		if v, ok := c.lookupMemory(key, true); ok {
			return v, nil
		}
		if v, ok := c.lookupDisk(key, policy); ok {
			return v, nil
		}
		return c.compute(ctx, key, policy, compute)
	})
	if err != nil {
		return zero, err
	}
	v, _ := res.(T)
	return cloneValue(v), nil
}

// Refresh evicts key from both tiers and recomputes it, bypassing lookups. Callers
// of GetOrCompute arriving meanwhile wait for the refreshed value.
func (c *Tiered[T]) Refresh(ctx context.Context, key string, policy Policy, compute func(context.Context) (T, error)) (T, error) {
	var zero T
	if key == "" {
		return zero, ErrInvalidKey
	}

	if err := c.Invalidate(policy.Tag, key); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Failed to evict disk entry before refresh")
	}
	c.group.Forget(key)

	res, err, _ := c.group.Do(key, func() (any, error) {
		return c.compute(ctx, key, policy, compute)
	})
	if err != nil {
		return zero, err
	}
	v, _ := res.(T)
	return cloneValue(v), nil
}

// Invalidate removes key from memory and, when a disk tier exists, its file under tag
func (c *Tiered[T]) Invalidate(tag, key string) error {
	if c.memory.Remove(key) {
		c.metrics.RecordEviction(tierMemory, "invalidated")
		c.metrics.SetCacheEntries(tierMemory, c.memory.Len())
	}
	if c.disk == nil || tag == "" {
		return nil
	}
	if err := c.disk.Remove(tag, key); err != nil {
		c.metrics.RecordDiskError("delete")
		return err
	}
	return nil
}

// InvalidateTag removes every entry stored under tag from both tiers
func (c *Tiered[T]) InvalidateTag(tag string) error {
	removed := 0
	for _, key := range c.memory.Keys() {
		if e, ok := c.memory.Peek(key); ok && e.tag == tag {
			if c.memory.Remove(key) {
				removed++
			}
		}
	}
	c.recordEvictions(removed, "invalidated")

	if c.disk == nil {
		return nil
	}
	if err := c.disk.RemoveTag(tag); err != nil {
		c.metrics.RecordDiskError("delete")
		return fmt.Errorf("failed to clear disk entries for %s: %w", tag, err)
	}
	return nil
}

// InvalidateAll empties both tiers. The disk version marker is kept.
func (c *Tiered[T]) InvalidateAll() error {
	removed := c.memory.Len()
	c.memory.Purge()
	c.recordEvictions(removed, "invalidated")

	if c.disk == nil {
		return nil
	}
	if err := c.disk.Clear(); err != nil {
		c.metrics.RecordDiskError("delete")
		return fmt.Errorf("failed to clear disk cache: %w", err)
	}
	return nil
}

// CleanupExpired drops expired memory entries and disk files older than the TTL
// configured for their tag in diskTTLs. It returns the number of entries removed.
func (c *Tiered[T]) CleanupExpired(diskTTLs map[string]time.Duration) int {
	now := c.clock.Now()
	removed := 0
	for _, key := range c.memory.Keys() {
		if e, ok := c.memory.Peek(key); ok && !now.Before(e.expiresAt) {
			if c.memory.Remove(key) {
				removed++
			}
		}
	}
	c.recordEvictions(removed, "expired")

	if c.disk != nil {
		n := c.disk.RemoveExpired(diskTTLs)
		for i := 0; i < n; i++ {
			c.metrics.RecordEviction(tierDisk, "expired")
		}
		removed += n
	}
	return removed
}

// Stats reports hit counters and tier sizes
func (c *Tiered[T]) Stats() Stats {
	s := Stats{
		MemoryHits:    c.memoryHits.Load(),
		DiskHits:      c.diskHits.Load(),
		Misses:        c.misses.Load(),
		Computes:      c.computes.Load(),
		MemoryEntries: c.memory.Len(),
	}
	if total := s.MemoryHits + s.DiskHits + s.Misses; total > 0 {
		s.HitRate = float64(s.MemoryHits+s.DiskHits) / float64(total)
	}
	if c.disk != nil {
		files, bytes, err := c.disk.Usage()
		if err != nil {
			c.logger.WithError(err).Warn("Failed to measure disk cache")
		}
		s.DiskFiles, s.DiskBytes = files, bytes
	}
	return s
}

func (c *Tiered[T]) lookupMemory(key string, evictStale bool) (T, bool) {
	var zero T
	e, ok := c.memory.Get(key)
	if !ok {
		return zero, false
	}
	if !c.clock.Now().Before(e.expiresAt) {
		// only the flight owning key may evict, otherwise a fresh entry stored
		// concurrently could be dropped
		if evictStale && c.memory.Remove(key) {
			c.recordEvictions(1, "expired")
		}
		return zero, false
	}
	c.memoryHits.Add(1)
	c.metrics.RecordCacheHit(tierMemory, e.tag)
	return e.data, true
}

func (c *Tiered[T]) lookupDisk(key string, policy Policy) (T, bool) {
	var zero T
	if !policy.Persist || c.disk == nil {
		return zero, false
	}

	raw, err := c.disk.Load(policy.Tag, key, policy.DiskTTL)
	switch {
	case err == nil:
	case errors.Is(err, ErrCacheMiss):
		return zero, false
	case errors.Is(err, ErrCorruptEntry):
		c.metrics.RecordDiskError("corrupt")
		c.logger.WithError(err).WithField("key", key).Warn("Discarded corrupt cache file")
		return zero, false
	default:
		c.metrics.RecordDiskError("read")
		c.logger.WithError(err).WithField("key", key).Warn("Failed to read cache file")
		return zero, false
	}

	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		c.metrics.RecordDiskError("corrupt")
		c.logger.WithError(err).WithField("key", key).Warn("Discarded undecodable cache file")
		if err := c.disk.Remove(policy.Tag, key); err != nil {
			c.logger.WithError(err).WithField("key", key).Warn("Failed to delete cache file")
		}
		return zero, false
	}

	c.diskHits.Add(1)
	c.metrics.RecordCacheHit(tierDisk, policy.Tag)
	c.logger.WithField("key", key).Debug("Promoted disk cache entry to memory")
	c.putMemory(key, policy, v)
	return v, true
}

func (c *Tiered[T]) compute(ctx context.Context, key string, policy Policy, fn func(context.Context) (T, error)) (T, error) {
	c.misses.Add(1)
	c.metrics.RecordCacheMiss(policy.Tag)

	start := c.clock.Now()
	// the result is shared by every waiting caller, so the first caller's
	// cancellation must not abort it
	v, err := fn(context.WithoutCancel(ctx))
	elapsed := c.clock.Now().Sub(start)
	c.metrics.RecordCompute(policy.Tag, elapsed, err)
	if err != nil {
		return v, err
	}
	c.computes.Add(1)
	c.logger.WithFields(map[string]interface{}{
		"key":         key,
		"duration_ms": elapsed.Milliseconds(),
		"persist":     policy.Persist && c.disk != nil,
	}).Info("Computed cache entry")

	if policy.Persist && c.disk != nil {
		if err := c.disk.Save(policy.Tag, key, v); err != nil {
			c.metrics.RecordDiskError("write")
			c.logger.WithError(err).WithField("key", key).Warn("Failed to persist cache entry, serving from memory only")
		}
	}
	c.putMemory(key, policy, v)
	return v, nil
}

func (c *Tiered[T]) putMemory(key string, policy Policy, v T) {
	now := c.clock.Now()
	if c.memory.Add(key, &entry[T]{
		data:      v,
		tag:       policy.Tag,
		createdAt: now,
		expiresAt: now.Add(policy.memoryTTL()),
	}) {
		c.metrics.RecordEviction(tierMemory, "capacity")
	}
	c.metrics.SetCacheEntries(tierMemory, c.memory.Len())
}

func (c *Tiered[T]) recordEvictions(n int, reason string) {
	for i := 0; i < n; i++ {
		c.metrics.RecordEviction(tierMemory, reason)
	}
	if n > 0 {
		c.metrics.SetCacheEntries(tierMemory, c.memory.Len())
	}
}

func cloneValue[T any](v T) T {
	if c, ok := any(v).(Cloner[T]); ok {
		return c.Clone()
	}
	return v
}
