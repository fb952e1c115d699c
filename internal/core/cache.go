package core

// cache.go implements the read cache in front of the store's list path.
// Entries are keyed by (dictionary, as-of date, canonical filter set) and
// grouped per dictionary so a write can drop everything it may have staled
// in one call. Staleness is bounded by TTL only between invalidations,
// never across a write the caller itself issued: Service invalidates before
// reporting the write as successful.

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCacheTTL bounds staleness for entries never touched by a write.
const DefaultCacheTTL = 15 * time.Minute

// DefaultCacheMaxEntries caps the cache; inserts evict the oldest entry of
// the same dictionary once the cap is hit.
const DefaultCacheMaxEntries = 1024

type cacheEntry struct {
	dict      uuid.UUID
	rows      []PositionRow
	expiresAt time.Time
	storedAt  time.Time
}

// ReadCache memoizes resolved position lists with per-dictionary invalidation.
type ReadCache struct {
	ttl        time.Duration
	maxEntries int

	mu      sync.Mutex
	entries map[string]cacheEntry
	byDict  map[uuid.UUID]map[string]struct{}
	gens    map[uuid.UUID]uint64
}

// NewReadCache creates a cache with the given TTL and entry cap. Zero values
// fall back to the defaults.
func NewReadCache(ttl time.Duration, maxEntries int) *ReadCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultCacheMaxEntries
	}
	return &ReadCache{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]cacheEntry),
		byDict:     make(map[uuid.UUID]map[string]struct{}),
		gens:       make(map[uuid.UUID]uint64),
	}
}

// Generation returns the dictionary's invalidation counter. A reader
// captures it before resolving rows from the store and hands it back to
// Put, which discards the install if a write invalidated the dictionary
// in between. Without it a slow reader could publish rows that predate a
// completed write.
func (c *ReadCache) Generation(dictionaryID uuid.UUID) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[dictionaryID]
}

// Get returns the cached rows for a key, or false on miss or expiry.
func (c *ReadCache) Get(key string) ([]PositionRow, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		c.removeLocked(key, e)
		return nil, false
	}
	return e.rows, true
}

// Put stores rows under a key belonging to the given dictionary. gen must
// be the value Generation returned before the rows were resolved; a stale
// generation means an intervening invalidation and the install is dropped.
func (c *ReadCache) Put(dictionaryID uuid.UUID, key string, rows []PositionRow, gen uint64) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gens[dictionaryID] != gen {
		return
	}
	if len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}

	c.entries[key] = cacheEntry{dict: dictionaryID, rows: rows, expiresAt: now.Add(c.ttl), storedAt: now}

	keys, ok := c.byDict[dictionaryID]
	if !ok {
		keys = make(map[string]struct{})
		c.byDict[dictionaryID] = keys
	}
	keys[key] = struct{}{}
}

// Invalidate removes every entry keyed under the dictionary and bumps its
// generation so in-flight readers cannot reinstall pre-write rows.
func (c *ReadCache) Invalidate(dictionaryID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.byDict[dictionaryID] {
		delete(c.entries, key)
	}
	delete(c.byDict, dictionaryID)
	c.gens[dictionaryID]++
}

// Sweep drops expired entries and returns how many were removed.
func (c *ReadCache) Sweep() int {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			c.removeLocked(key, e)
			removed++
		}
	}
	return removed
}

// Len returns the live entry count.
func (c *ReadCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictOldestLocked removes the entry stored longest ago.
func (c *ReadCache) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	for key, e := range c.entries {
		if oldestKey == "" || e.storedAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = e.storedAt
		}
	}
	if oldestKey != "" {
		c.removeLocked(oldestKey, c.entries[oldestKey])
	}
}

// removeLocked drops an entry from both indexes.
func (c *ReadCache) removeLocked(key string, e cacheEntry) {
	delete(c.entries, key)
	if keys := c.byDict[e.dict]; keys != nil {
		delete(keys, key)
		if len(keys) == 0 {
			delete(c.byDict, e.dict)
		}
	}
}

// CacheKey builds the canonical cache key for a list query. Filters are
// sorted so equivalent filter sets serialize identically.
func CacheKey(dictionaryID uuid.UUID, asOf time.Time, filters []Filter) string {
	parts := make([]string, 0, len(filters))
	for _, f := range filters {
		parts = append(parts, strings.ToUpper(f.Attr)+"|"+string(f.Op)+"|"+f.Value)
	}
	sort.Strings(parts)

	var b strings.Builder
	b.WriteString(dictionaryID.String())
	b.WriteByte('@')
	b.WriteString(DateOnly(asOf).Format(DateEncoding))
	for _, p := range parts {
		b.WriteByte(';')
		b.WriteString(p)
	}
	return b.String()
}
