package gatekeeper

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// ============================================================================
// DECISION CACHE
// ============================================================================

// CacheEntry pairs a cached decision with its absolute expiry.
type CacheEntry struct {
	Value     AccessDecision
	ExpiresAt time.Time
}

// CacheStats is a point-in-time snapshot of cache effectiveness.
type CacheStats struct {
	Size    int     `json:"size"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// PolicyCache is a bounded TTL cache for policy-path access decisions. A
// revoked grant must never appear valid, so every mutation path (TTL expiry,
// explicit invalidation, size eviction) removes entries rather than marking
// them.
type PolicyCache struct {
	mu      sync.RWMutex
	entries map[string]CacheEntry
	ttl     time.Duration
	maxSize int
	hits    uint64
	misses  uint64
	now     func() time.Time
}

const (
	DefaultCacheTTL     = 5 * time.Minute
	DefaultCacheMaxSize = 1000
)

func NewPolicyCache(ttl time.Duration, maxSize int) *PolicyCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultCacheMaxSize
	}
	return &PolicyCache{
		entries: make(map[string]CacheEntry),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Get returns the cached decision for key. An absent or expired entry counts
// as a miss; expired entries are deleted lazily on the miss.
func (c *PolicyCache) Get(key string) (AccessDecision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		return AccessDecision{}, false
	}
	if c.now().After(entry.ExpiresAt) {
		delete(c.entries, key)
		c.misses++
		return AccessDecision{}, false
	}
	c.hits++
	return entry.Value, true
}

// Set stores value under key with the cache TTL. When the cache is full it
// evicts the oldest 10% of entries by expiry before inserting.
func (c *PolicyCache) Set(key string, value AccessDecision) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldest()
	}
	c.entries[key] = CacheEntry{Value: value, ExpiresAt: c.now().Add(c.ttl)}
}

// evictOldest removes the 10% of entries closest to expiry (at least one).
// Caller holds the lock.
func (c *PolicyCache) evictOldest() {
	type keyed struct {
		key string
		exp time.Time
	}
	all := make([]keyed, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, keyed{k, e.ExpiresAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].exp.Before(all[j].exp) })
	n := len(all) / 10
	if n < 1 {
		n = 1
	}
	for _, v := range all[:n] {
		delete(c.entries, v.key)
	}
}

// ClearExpired eagerly sweeps every expired entry and returns the count removed.
func (c *PolicyCache) ClearExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if now.After(e.ExpiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Invalidate removes every entry whose key matches the regular expression
// pattern and returns the count removed. A bad pattern removes nothing.
func (c *PolicyCache) Invalidate(pattern string) int {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k := range c.entries {
		if re.MatchString(k) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// InvalidateUser removes entries keyed by the given user id prefix.
func (c *PolicyCache) InvalidateUser(userID string) int {
	return c.Invalidate("^" + regexp.QuoteMeta(userID) + "-")
}

// InvalidateResource removes entries mentioning the given resource segment.
func (c *PolicyCache) InvalidateResource(resource string) int {
	return c.Invalidate("-" + regexp.QuoteMeta(resource) + "-")
}

// Clear drops every cached decision.
func (c *PolicyCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]CacheEntry)
}

// Stats returns the current size and hit/miss counters. HitRate is 0 before
// the first lookup.
func (c *PolicyCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	stats := CacheStats{Size: len(c.entries), Hits: c.hits, Misses: c.misses}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}

// DecisionCacheKey builds the canonical cache key for a policy-path lookup.
func DecisionCacheKey(roles []Role, resource ResourceKind, action ActionKind, scope string) string {
	parts := make([]string, len(roles))
	for i, r := range roles {
		parts[i] = string(r)
	}
	return strings.Join(parts, ",") + "-" + string(resource) + "-" + string(action) + "-" + scope
}

// ----------------------------------------------------------------------------
// Process-wide singleton. Production wiring should construct its own cache;
// the singleton exists for hosts that share one cache across call sites.
// ----------------------------------------------------------------------------

var (
	defaultCacheMu   sync.Mutex
	defaultCacheInst *PolicyCache
)

// DefaultCache returns the lazily constructed process-wide cache.
func DefaultCache() *PolicyCache {
	defaultCacheMu.Lock()
	defer defaultCacheMu.Unlock()
	if defaultCacheInst == nil {
		defaultCacheInst = NewPolicyCache(DefaultCacheTTL, DefaultCacheMaxSize)
	}
	return defaultCacheInst
}

// ResetDefaultCache discards the singleton so the next DefaultCache call
// constructs a fresh one. Intended for tests.
func ResetDefaultCache() {
	defaultCacheMu.Lock()
	defer defaultCacheMu.Unlock()
	defaultCacheInst = nil
}
