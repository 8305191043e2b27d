package arp

import (
	"log/slog"
	"net/netip"
	"time"

	"github.com/kvos/netkern/internal"
)

// Entry is one IP to MAC mapping held by a [Cache].
type Entry struct {
	IP           netip.Addr
	MAC          [6]byte
	CreatedAt    time.Time
	LastAccessed time.Time
	Permanent    bool
	AccessCount  uint64
}

// Expired reports whether the entry's last access is older than timeout.
// Permanent entries never expire.
func (e *Entry) Expired(now time.Time, timeout time.Duration) bool {
	if e.Permanent {
		return false
	}
	return now.Sub(e.LastAccessed) > timeout
}

// CacheConfig configures a [Cache]. Zero fields take defaults.
type CacheConfig struct {
	// MaxSize bounds the entry count. Defaults to 1024.
	MaxSize int
	// Timeout is the idle time after which non-permanent entries may be
	// removed by cleanup. Defaults to 20 minutes.
	Timeout time.Duration
	// CleanupInterval rate-limits [Cache.MaybeCleanup]. Defaults to 60s.
	CleanupInterval time.Duration
	// Now supplies the time source. Defaults to time.Now.
	Now func() time.Time
	// Logger logs evictions and sweeps. Nil disables logging.
	Logger *slog.Logger
}

// Cache is a bounded IP to MAC mapping table with aging. Insertion past the
// bound evicts the oldest entry by creation time (oldest-by-insertion, not
// LRU). Single-writer; the caller serializes access.
type Cache struct {
	entries         map[netip.Addr]*Entry
	maxSize         int
	timeout         time.Duration
	cleanupInterval time.Duration
	lastCleanup     time.Time
	now             func() time.Time
	log             *slog.Logger
}

// CacheStats is a snapshot of cache occupancy.
type CacheStats struct {
	Entries          int
	MaxSize          int
	PermanentEntries int
}

// NewCache returns a Cache configured by cfg.
func NewCache(cfg CacheConfig) *Cache {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 60 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Cache{
		entries:         make(map[netip.Addr]*Entry),
		maxSize:         cfg.MaxSize,
		timeout:         cfg.Timeout,
		cleanupInterval: cfg.CleanupInterval,
		now:             cfg.Now,
		log:             cfg.Logger,
	}
}

// Insert adds or refreshes the mapping for ip, resetting its creation and
// access times. If the cache exceeds its bound the oldest entry by creation
// time is evicted, repeatedly until within bound.
func (c *Cache) Insert(ip netip.Addr, mac [6]byte, permanent bool) {
	now := c.now()
	c.entries[ip] = &Entry{
		IP:           ip,
		MAC:          mac,
		CreatedAt:    now,
		LastAccessed: now,
		Permanent:    permanent,
	}
	for len(c.entries) > c.maxSize {
		c.evictOldest()
	}
}

// Lookup returns the MAC mapped to ip, touching the entry's access time and
// count on hit. Misses are not cached.
func (c *Cache) Lookup(ip netip.Addr) (mac [6]byte, ok bool) {
	e, ok := c.entries[ip]
	if !ok {
		return mac, false
	}
	e.LastAccessed = c.now()
	e.AccessCount++
	return e.MAC, true
}

// Remove deletes the entry for ip, returning it if present.
func (c *Cache) Remove(ip netip.Addr) (Entry, bool) {
	e, ok := c.entries[ip]
	if !ok {
		return Entry{}, false
	}
	delete(c.entries, ip)
	return *e, true
}

// Clear drops all entries.
func (c *Cache) Clear() {
	clear(c.entries)
}

// Len returns the number of entries held.
func (c *Cache) Len() int { return len(c.entries) }

// Cleanup removes all non-permanent entries whose last access is older than
// the cache timeout.
func (c *Cache) Cleanup() {
	now := c.now()
	removed := 0
	for ip, e := range c.entries {
		if e.Expired(now, c.timeout) {
			delete(c.entries, ip)
			removed++
		}
	}
	if removed > 0 {
		internal.LogAttrs(c.log, slog.LevelDebug, "arp.Cache:cleanup", slog.Int("removed", removed))
	}
}

// MaybeCleanup runs [Cache.Cleanup] at most once per cleanup interval so the
// sweep cost is amortized over many calls.
func (c *Cache) MaybeCleanup() {
	now := c.now()
	if now.Sub(c.lastCleanup) < c.cleanupInterval {
		return
	}
	c.Cleanup()
	c.lastCleanup = now
}

// Stats returns a snapshot of cache occupancy.
func (c *Cache) Stats() CacheStats {
	permanent := 0
	for _, e := range c.entries {
		if e.Permanent {
			permanent++
		}
	}
	return CacheStats{
		Entries:          len(c.entries),
		MaxSize:          c.maxSize,
		PermanentEntries: permanent,
	}
}

func (c *Cache) evictOldest() {
	var oldestIP netip.Addr
	var oldest *Entry
	for ip, e := range c.entries {
		if oldest == nil || e.CreatedAt.Before(oldest.CreatedAt) {
			oldestIP = ip
			oldest = e
		}
	}
	if oldest != nil {
		delete(c.entries, oldestIP)
		a4 := oldestIP.As4()
		internal.LogAttrs(c.log, slog.LevelDebug, "arp.Cache:evict", internal.SlogAddr4("ip", &a4))
	}
}
