// Package cache provides the in-process cache used by the filter gateway.
//
// DESIGN: One implementation, three instances (response cache, AI-result
// cache, credential cache). Pluggable eviction (LRU / LFU / time-aware /
// hybrid), byte-accounted memory limits, transparent compression of large
// payloads, and a periodic maintenance sweep that drops expired entries.
//
// Concurrency: a single exclusive lock guards the map and the recency list.
// Critical sections are small (lookup, move-to-front, insert/evict) and no
// I/O happens under the lock.
package cache

import (
	"container/list"
	"fmt"
	"sync"
	"time"
)

// Eviction policies selectable at construction.
type Policy string

const (
	PolicyLRU       Policy = "lru"
	PolicyLFU       Policy = "lfu"
	PolicyTimeAware Policy = "time_aware"
	PolicyHybrid    Policy = "hybrid" // default
)

// ParsePolicy maps a config string to a Policy, defaulting to hybrid.
func ParsePolicy(s string) Policy {
	switch Policy(s) {
	case PolicyLRU, PolicyLFU, PolicyTimeAware, PolicyHybrid:
		return Policy(s)
	default:
		return PolicyHybrid
	}
}

const (
	// defaultSizeBytes is charged when a payload's footprint cannot be
	// estimated (empty payload).
	defaultSizeBytes = 1024

	// maintenanceInterval is how often the background sweep runs.
	maintenanceInterval = 30 * time.Second
)

// Observer receives cache telemetry. All methods must be cheap; they are
// called outside the cache lock.
type Observer interface {
	RecordCacheHit(cache string)
	RecordCacheMiss(cache string)
	RecordCacheEviction(cache string)
	SetCacheBytes(cache string, bytes int64)
}

// Options configure a cache instance.
type Options struct {
	Name       string        // Instance name for telemetry ("response", "ai_result", ...)
	MaxEntries int           // Entry count ceiling
	MaxBytes   int64         // Byte accounting ceiling
	DefaultTTL time.Duration // TTL applied when Set is called with ttl == 0
	Policy     Policy
	Observer   Observer // Optional
}

type entry struct {
	key        string
	payload    []byte
	compressed bool
	sizeBytes  int64
	expiresAt  time.Time
	createdAt  time.Time
	lastAccess time.Time
	frequency  int64

	// element is the entry's node in the recency list (front = most recent).
	element *list.Element
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Entries     int     `json:"entries"`
	TotalBytes  int64   `json:"totalBytes"`
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Evictions   int64   `json:"evictions"`
	Expirations int64   `json:"expirations"`
	HitRate     float64 `json:"hitRate"`
	MemoryUsage string  `json:"memoryUsage"`
}

// Cache is a byte-accounted in-memory cache with pluggable eviction.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	recency *list.List // front = most recently used

	opts       Options
	totalBytes int64

	hits        int64
	misses      int64
	evictions   int64
	expirations int64

	stopChan chan struct{}
	stopped  bool
}

// New creates a cache and starts its maintenance goroutine.
func New(opts Options) *Cache {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 1000
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 64 << 20
	}
	if opts.Policy == "" {
		opts.Policy = PolicyHybrid
	}
	c := &Cache{
		entries:  make(map[string]*entry),
		recency:  list.New(),
		opts:     opts,
		stopChan: make(chan struct{}),
	}
	go c.maintain()
	return c
}

// Get returns the payload for key, or miss if absent or expired. Expired
// entries are removed as a side effect. A hit bumps frequency, refreshes
// lastAccess and moves the entry to the most-recently-used position.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.misses++
		c.mu.Unlock()
		c.observeMiss()
		return nil, false
	}
	now := time.Now()
	if now.After(e.expiresAt) {
		c.removeLocked(e)
		c.expirations++
		c.misses++
		c.mu.Unlock()
		c.observeMiss()
		return nil, false
	}
	e.lastAccess = now
	e.frequency++
	c.recency.MoveToFront(e.element)
	payload, compressed := e.payload, e.compressed
	c.hits++
	c.mu.Unlock()
	c.observeHit()

	if compressed {
		out, err := decompress(payload)
		if err != nil {
			// Corrupt entry; drop it and report a miss.
			c.Delete(key)
			return nil, false
		}
		return out, true
	}
	return payload, true
}

// Set stores payload under key. ttl == 0 uses the configured default.
// Large payloads are compressed when that strictly shrinks them. Before
// insertion, victims are evicted until both the entry-count and byte caps
// hold with the new entry included; a payload too large to ever fit is
// declined outright.
func (c *Cache) Set(key string, payload []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.opts.DefaultTTL
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	stored, wasCompressed := maybeCompress(payload)
	size := footprint(payload)

	// A payload charged above the byte cap can never fit: evicting every
	// entry would still leave the cap breached. Decline it, and drop any
	// stale entry under the same key so a failed overwrite cannot serve
	// the old value.
	if size > c.opts.MaxBytes {
		c.mu.Lock()
		if old, ok := c.entries[key]; ok {
			c.removeLocked(old)
		}
		c.evictions++
		total := c.totalBytes
		c.mu.Unlock()
		c.observeEviction()
		c.observeBytes(total)
		return
	}

	now := time.Now()
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}

	if old, ok := c.entries[key]; ok {
		c.removeLocked(old)
	}

	evicted := 0
	for len(c.entries) >= c.opts.MaxEntries || c.totalBytes+size > c.opts.MaxBytes {
		if !c.evictOneLocked(now) {
			break
		}
		evicted++
	}

	e := &entry{
		key:        key,
		payload:    stored,
		compressed: wasCompressed,
		sizeBytes:  size,
		expiresAt:  now.Add(ttl),
		createdAt:  now,
		lastAccess: now,
		frequency:  1,
	}
	e.element = c.recency.PushFront(e)
	c.entries[key] = e
	c.totalBytes += size
	total := c.totalBytes
	c.mu.Unlock()

	for i := 0; i < evicted; i++ {
		c.observeEviction()
	}
	c.observeBytes(total)
}

// Delete removes key if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.removeLocked(e)
	}
	c.mu.Unlock()
}

// Clear drops all entries. Counters are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*entry)
	c.recency.Init()
	c.totalBytes = 0
	c.mu.Unlock()
	c.observeBytes(0)
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statsLocked()
}

func (c *Cache) statsLocked() Stats {
	s := Stats{
		Entries:     len(c.entries),
		TotalBytes:  c.totalBytes,
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
		MemoryUsage: humanBytes(c.totalBytes),
	}
	if lookups := c.hits + c.misses; lookups > 0 {
		s.HitRate = float64(c.hits) / float64(lookups)
	}
	return s
}

// Destroy stops the maintenance goroutine and releases all entries.
// The cache must not be used afterwards.
func (c *Cache) Destroy() {
	c.mu.Lock()
	if !c.stopped {
		c.stopped = true
		close(c.stopChan)
		c.entries = make(map[string]*entry)
		c.recency.Init()
		c.totalBytes = 0
	}
	c.mu.Unlock()
}

// removeLocked unlinks e from the map, the recency list and the byte total.
func (c *Cache) removeLocked(e *entry) {
	delete(c.entries, e.key)
	c.recency.Remove(e.element)
	c.totalBytes -= e.sizeBytes
}

// evictOneLocked removes one victim according to the configured policy.
// Returns false when the cache is empty.
func (c *Cache) evictOneLocked(now time.Time) bool {
	if len(c.entries) == 0 {
		return false
	}

	var victim *entry
	switch c.opts.Policy {
	case PolicyLRU:
		if back := c.recency.Back(); back != nil {
			victim = back.Value.(*entry)
		}
	case PolicyLFU:
		for _, e := range c.entries {
			if victim == nil || e.frequency < victim.frequency {
				victim = e
			}
		}
	case PolicyTimeAware:
		best := -1.0
		for _, e := range c.entries {
			score := timeAwareScore(e, now)
			if score > best {
				best, victim = score, e
			}
		}
	default: // hybrid
		best := -1.0
		for _, e := range c.entries {
			score := hybridScore(e, now)
			if score > best {
				best, victim = score, e
			}
		}
	}

	if victim == nil {
		return false
	}
	c.removeLocked(victim)
	c.evictions++
	return true
}

// timeAwareScore ranks by lifetime consumed plus inverse frequency.
// ageRatio = (now-created)/(expiry-created); higher score = better victim.
func timeAwareScore(e *entry, now time.Time) float64 {
	lifetime := e.expiresAt.Sub(e.createdAt).Seconds()
	ageRatio := 1.0
	if lifetime > 0 {
		ageRatio = now.Sub(e.createdAt).Seconds() / lifetime
	}
	return ageRatio + 1.0/float64(e.frequency+1)
}

// hybridScore blends inverse frequency, staleness and size.
// 0.4/(freq+1) + 0.4*daysSinceAccess + 0.2*sizeMB; higher = better victim.
func hybridScore(e *entry, now time.Time) float64 {
	days := now.Sub(e.lastAccess).Hours() / 24
	sizeMB := float64(e.sizeBytes) / (1 << 20)
	return 0.4/float64(e.frequency+1) + 0.4*days + 0.2*sizeMB
}

// maintain runs the periodic sweep until Destroy is called.
func (c *Cache) maintain() {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// sweep drops expired entries and refreshes the byte gauge.
func (c *Cache) sweep() {
	now := time.Now()
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	for _, e := range c.entries {
		if now.After(e.expiresAt) {
			c.removeLocked(e)
			c.expirations++
		}
	}
	total := c.totalBytes
	c.mu.Unlock()
	c.observeBytes(total)
}

// footprint estimates a payload's memory cost. Strings are charged at two
// bytes per byte (UTF-16 sized estimate); empty payloads fall back to 1 KB.
func footprint(payload []byte) int64 {
	if len(payload) == 0 {
		return defaultSizeBytes
	}
	return int64(len(payload)) * 2
}

func humanBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.2f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.2f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

func (c *Cache) observeHit() {
	if c.opts.Observer != nil {
		c.opts.Observer.RecordCacheHit(c.opts.Name)
	}
}

func (c *Cache) observeMiss() {
	if c.opts.Observer != nil {
		c.opts.Observer.RecordCacheMiss(c.opts.Name)
	}
}

func (c *Cache) observeEviction() {
	if c.opts.Observer != nil {
		c.opts.Observer.RecordCacheEviction(c.opts.Name)
	}
}

func (c *Cache) observeBytes(total int64) {
	if c.opts.Observer != nil {
		c.opts.Observer.SetCacheBytes(c.opts.Name, total)
	}
}
