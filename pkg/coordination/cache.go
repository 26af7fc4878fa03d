package coordination

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// hitWeight is the score bonus per cache hit, expressed in seconds of age.
// A frequently hit entry survives size pressure over a slightly newer idle one.
const hitWeight = 30 * time.Second

const fallbackEntrySize = 64

// CacheEntry is one memoized result.
type CacheEntry struct {
	Key       string
	Value     any
	Timestamp time.Time
	ExpiresAt time.Time
	Hits      int64
	Size      int64
}

type inflightCall struct {
	done  chan struct{}
	value any
	err   error
}

// ComputeFunc produces the value to memoize.
type ComputeFunc func(ctx context.Context) (any, error)

// ResultCache memoizes expensive computations with TTL- and size-based
// eviction. Identical in-flight computations are deduplicated: every caller
// for the same key receives the one result being computed.
type ResultCache struct {
	mu       sync.Mutex
	entries  map[string]*CacheEntry
	inflight map[string]*inflightCall
	maxBytes int64
	used     int64
	clock    Clock
	logger   *slog.Logger
	stop     chan struct{}
	stopOnce sync.Once
}

// NewResultCache creates a cache bounded by maxBytes and starts the periodic
// eviction loop. Close must be called to stop it.
func NewResultCache(maxBytes int64, sweepInterval time.Duration, clock Clock, logger *slog.Logger) *ResultCache {
	if clock == nil {
		clock = SystemClock()
	}

	cache := &ResultCache{
		entries:  make(map[string]*CacheEntry),
		inflight: make(map[string]*inflightCall),
		maxBytes: maxBytes,
		clock:    clock,
		logger:   logger,
		stop:     make(chan struct{}),
	}

	if sweepInterval > 0 {
		go cache.sweepLoop(sweepInterval)
	}

	return cache
}

// Memoize returns the cached value for key if present and unexpired; joins an
// in-flight computation for the same key if one exists; otherwise computes,
// stores and returns.
func (c *ResultCache) Memoize(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc) (any, error) {
	c.mu.Lock()

	now := c.clock.Now()

	if entry, ok := c.entries[key]; ok && entry.ExpiresAt.After(now) {
		entry.Hits++
		value := entry.Value
		c.mu.Unlock()

		return value, nil
	}

	if call, ok := c.inflight[key]; ok {
		c.mu.Unlock()

		select {
		case <-call.done:
			return call.value, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	call := &inflightCall{done: make(chan struct{})}
	c.inflight[key] = call
	c.mu.Unlock()

	value, err := compute(ctx)
	call.value = value
	call.err = err
	close(call.done)

	c.mu.Lock()
	delete(c.inflight, key)

	if err == nil {
		c.storeLocked(key, value, ttl)
	}
	c.mu.Unlock()

	return value, err
}

// Get returns the unexpired cached value for key without computing.
func (c *ResultCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || !entry.ExpiresAt.After(c.clock.Now()) {
		return nil, false
	}

	entry.Hits++

	return entry.Value, true
}

// Invalidate drops the entry for key.
func (c *ResultCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok {
		c.used -= entry.Size
		delete(c.entries, key)
	}
}

// UsedBytes returns the current estimated cache size.
func (c *ResultCache) UsedBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.used
}

// Len returns the number of cached entries, expired or not.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// Close stops the eviction loop.
func (c *ResultCache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *ResultCache) storeLocked(key string, value any, ttl time.Duration) {
	now := c.clock.Now()
	size := estimateSize(value)

	if existing, ok := c.entries[key]; ok {
		c.used -= existing.Size
	}

	c.entries[key] = &CacheEntry{
		Key:       key,
		Value:     value,
		Timestamp: now,
		ExpiresAt: now.Add(ttl),
		Size:      size,
	}
	c.used += size

	if c.maxBytes > 0 && c.used > c.maxBytes {
		c.evictLocked(now)
	}
}

// evictLocked removes expired entries first, then entries with the lowest
// score (older timestamp, fewer hits) until the budget is respected.
func (c *ResultCache) evictLocked(now time.Time) {
	for key, entry := range c.entries {
		if !entry.ExpiresAt.After(now) {
			c.used -= entry.Size
			delete(c.entries, key)
		}
	}

	if c.maxBytes <= 0 || c.used <= c.maxBytes {
		return
	}

	scored := make([]*CacheEntry, 0, len(c.entries))
	for _, entry := range c.entries {
		scored = append(scored, entry)
	}

	sort.Slice(scored, func(i, j int) bool {
		return entryScore(scored[i]).Before(entryScore(scored[j]))
	})

	for _, entry := range scored {
		if c.used <= c.maxBytes {
			break
		}

		c.used -= entry.Size
		delete(c.entries, entry.Key)
	}
}

func (c *ResultCache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			c.evictLocked(c.clock.Now())
			c.mu.Unlock()
		case <-c.stop:
			return
		}
	}
}

func entryScore(entry *CacheEntry) time.Time {
	return entry.Timestamp.Add(time.Duration(entry.Hits) * hitWeight)
}

func estimateSize(value any) int64 {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fallbackEntrySize
	}

	return int64(len(encoded))
}
