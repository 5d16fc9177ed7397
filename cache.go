package staterequest

import (
	"container/list"
	"sync"
	"time"
)

// CacheCounters are the cache's observable counters.
// Derived ratios are computed on demand by Stats, not maintained live.
type CacheCounters struct {
	Hits          int64
	Misses        int64
	Sets          int64
	Evictions     int64
	Expirations   int64
	TotalGetTimeMs int64
	TotalSetTimeMs int64
}

// CacheStats is the read-only snapshot returned by Cache.Stats, combining
// the raw counters with their derived ratios.
type CacheStats struct {
	CacheCounters
	Size                    int
	MaxSize                 int
	HitRate                 float64
	MissRate                float64
	UtilizationPercentage   float64
	AverageCacheAgeMs       float64
	OldestEntryAgeMs        int64
	NewestEntryAgeMs        int64
}

// CachePersistence is the storage contract for cache state. An
// implementation that also satisfies TransactionalPersistence is
// preferred by CoordinatedCachePersistence over plain Load/Store.
type CachePersistence interface {
	Load() (*CacheStateRecord, error)
	Store(state CacheStateRecord) error
}

// CacheOptions configures a Cache. The zero value is valid and yields
// sane defaults.
type CacheOptions struct {
	MaxSize             int
	DefaultTTL          time.Duration
	RespectCacheControl bool
	ExcludeMethods      map[string]bool
	CacheableStatusCodes map[int]bool
	KeyFunc             CacheKeyFunc
	Persistence         CachePersistence
	Logger              Logger
}

// Cache is a bounded LRU of HTTP responses keyed by a canonicalized
// request fingerprint (cachekey.go), honoring Cache-Control/Expires
// (cache_http.go). A single mutex guards both the entry map and the
// access-order list; sharding for raw throughput is not compatible with
// a strict global LRU eviction order and is dropped here — see DESIGN.md.
type Cache struct {
	mu      sync.Mutex
	opts    CacheOptions
	entries map[string]*list.Element
	order   *list.List // front = least recently used, back = most recently used
	counters CacheCounters
	logger  Logger
}

type cacheNode struct {
	key   string
	entry CacheEntry
}

// NewCache builds a Cache with opts, filling unset fields with sane
// defaults (maxSize 1000, defaultTTL 300s, excludeMethods
// {POST,PUT,PATCH,DELETE}, a standard set of cacheable status codes).
func NewCache(opts CacheOptions) *Cache {
	if opts.MaxSize <= 0 {
		opts.MaxSize = 1000
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = defaultCacheTTL
	}
	if opts.ExcludeMethods == nil {
		opts.ExcludeMethods = defaultExcludeMethods
	}
	if opts.CacheableStatusCodes == nil {
		opts.CacheableStatusCodes = defaultCacheableStatusCodes
	}
	if opts.KeyFunc == nil {
		opts.KeyFunc = buildCacheKey
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	c := &Cache{
		opts:    opts,
		entries: make(map[string]*list.Element),
		order:   list.New(),
		logger:  logger,
	}
	if opts.Persistence != nil {
		c.load()
	}
	return c
}

// EligibleMethod and EligibleStatus report whether a request's method and
// a response's status code are cache-eligible under this cache's
// configured policy. Callers check the method before issuing a request
// and the status after receiving one.
func (c *Cache) EligibleMethod(method string) bool {
	return isCacheableMethod(method, c.opts.ExcludeMethods)
}

func (c *Cache) EligibleStatus(status int) bool {
	return isCacheableStatus(status, c.opts.CacheableStatusCodes)
}

// Get looks up cfg's fingerprint. An expired entry found on read is
// deleted and counted as both a miss and an expiration.
func (c *Cache) Get(cfg TransportConfig) (CacheEntry, bool) {
	start := time.Now()
	key := c.opts.KeyFunc(cfg)

	c.mu.Lock()
	defer c.mu.Unlock()
	defer func() {
		c.counters.TotalGetTimeMs += time.Since(start).Milliseconds()
	}()

	el, ok := c.entries[key]
	if !ok {
		c.counters.Misses++
		return CacheEntry{}, false
	}
	node := el.Value.(*cacheNode)
	now := time.Now()
	if !node.entry.ExpiresAt.After(now) {
		c.order.Remove(el)
		delete(c.entries, key)
		c.counters.Misses++
		c.counters.Expirations++
		c.persistAsync()
		return CacheEntry{}, false
	}

	c.order.MoveToBack(el)
	c.counters.Hits++
	return node.entry, true
}

// Set stores entry under cfg's fingerprint, honoring cache-control via
// headers (already resolved into entry.ExpiresAt by the caller — Set
// itself only performs the LRU bookkeeping). On insert at capacity, the
// least-recently-used key is evicted first.
func (c *Cache) Set(cfg TransportConfig, entry CacheEntry) {
	start := time.Now()
	key := c.opts.KeyFunc(cfg)

	c.mu.Lock()
	defer c.mu.Unlock()
	defer func() {
		c.counters.TotalSetTimeMs += time.Since(start).Milliseconds()
	}()

	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheNode).entry = entry
		c.order.MoveToBack(el)
		c.counters.Sets++
		c.persistAsync()
		return
	}

	if c.order.Len() >= c.opts.MaxSize {
		front := c.order.Front()
		if front != nil {
			evicted := front.Value.(*cacheNode)
			c.order.Remove(front)
			delete(c.entries, evicted.key)
			c.counters.Evictions++
		}
	}

	el := c.order.PushBack(&cacheNode{key: key, entry: entry})
	c.entries[key] = el
	c.counters.Sets++
	c.persistAsync()
}

// StoreFromResponse resolves TTL/cacheability from resp's headers and, if
// cacheable, stores it. It is the convenience path the engine calls after
// a successful transport attempt.
func (c *Cache) StoreFromResponse(cfg TransportConfig, payload responsePayload, now time.Time) {
	if !c.EligibleMethod(cfg.Method) || !c.EligibleStatus(payload.Status) {
		return
	}
	ttl, cacheable := resolveCacheTTL(payload.Headers, c.opts.RespectCacheControl, now, c.opts.DefaultTTL)
	if !cacheable {
		return
	}
	c.Set(cfg, CacheEntry{
		Data:       payload.Body,
		Status:     payload.Status,
		StatusText: payload.StatusText,
		Headers:    payload.Headers,
		Timestamp:  now,
		ExpiresAt:  now.Add(ttl),
		MaxAge:     &ttl,
	})
}

// Stats returns a snapshot of the cache's counters and derived ratios.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.counters.Hits + c.counters.Misses
	stats := CacheStats{
		CacheCounters: c.counters,
		Size:          c.order.Len(),
		MaxSize:       c.opts.MaxSize,
	}
	if total > 0 {
		stats.HitRate = float64(c.counters.Hits) / float64(total) * 100
		stats.MissRate = float64(c.counters.Misses) / float64(total) * 100
	}
	if c.opts.MaxSize > 0 {
		stats.UtilizationPercentage = float64(c.order.Len()) / float64(c.opts.MaxSize) * 100
	}

	if c.order.Len() > 0 {
		now := time.Now()
		var totalAge int64
		oldest := now
		newest := time.Time{}
		for el := c.order.Front(); el != nil; el = el.Next() {
			ts := el.Value.(*cacheNode).entry.Timestamp
			totalAge += now.Sub(ts).Milliseconds()
			if ts.Before(oldest) {
				oldest = ts
			}
			if ts.After(newest) {
				newest = ts
			}
		}
		stats.AverageCacheAgeMs = float64(totalAge) / float64(c.order.Len())
		stats.OldestEntryAgeMs = now.Sub(oldest).Milliseconds()
		stats.NewestEntryAgeMs = now.Sub(newest).Milliseconds()
	}
	return stats
}

// snapshot builds the CacheStateRecord persisted by persistAsync/load.
func (c *Cache) snapshot() CacheStateRecord {
	entries := make(map[string]CacheEntry, len(c.entries))
	order := make([]string, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		node := el.Value.(*cacheNode)
		entries[node.key] = node.entry
		order = append(order, node.key)
	}
	return CacheStateRecord{
		Entries:     entries,
		AccessOrder: order,
		Counters:    c.counters,
	}
}

// persistAsync stores the current snapshot without blocking the caller.
// Failures are logged and ignored; a persistence outage never blocks a
// cache read or write.
func (c *Cache) persistAsync() {
	if c.opts.Persistence == nil {
		return
	}
	snap := c.snapshot()
	go func() {
		if err := c.opts.Persistence.Store(snap); err != nil {
			c.logger.Warn("cache persistence store failed", "error", err)
		}
	}()
}

// load restores state from Persistence.Load at construction time.
func (c *Cache) load() {
	state, err := c.opts.Persistence.Load()
	if err != nil {
		c.logger.Warn("cache persistence load failed", "error", err)
		return
	}
	if state == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters = state.Counters
	for _, key := range state.AccessOrder {
		entry, ok := state.Entries[key]
		if !ok {
			continue
		}
		el := c.order.PushBack(&cacheNode{key: key, entry: entry})
		c.entries[key] = el
	}
}
