// Copyright (C) 2025 COSMOS Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cache provides an in-memory TTL cache for completed query results.
//
// The cache trades strict LRU precision for simplicity: eviction removes a
// batch of the least recently accessed entries rather than exactly one, so
// steady-state inserts rarely pay an eviction scan.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// DefaultTTL is how long a cached answer stays valid.
	DefaultTTL = 300 * time.Second

	// DefaultMaxSize is the entry cap before batch eviction kicks in.
	DefaultMaxSize = 100
)

// =============================================================================
// Key Derivation
// =============================================================================

// Key derives the deterministic cache key for a query.
//
// # Description
//
// The key is a SHA-256 hex digest over the query text, model name,
// temperature, and a canonical rendering of the source filters. Filters are
// canonicalized by sorting keys before JSON encoding, so two filter maps
// with the same contents always hash identically regardless of insertion
// order. Session identity is deliberately excluded: the same question from
// two sessions shares one cache slot.
//
// # Inputs
//
//   - query: The user's question text.
//   - model: Generation model name.
//   - temperature: Generation temperature.
//   - filters: Source type filter map, may be nil.
//
// # Outputs
//
//   - string: 64-char hex digest.
func Key(query, model string, temperature float32, filters map[string]bool) string {
	h := sha256.New()
	h.Write([]byte(query))
	h.Write([]byte{'|'})
	h.Write([]byte(model))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.FormatFloat(float64(temperature), 'f', -1, 32)))
	h.Write([]byte{'|'})
	h.Write([]byte(canonicalFilters(filters)))
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalFilters renders a filter map as JSON with sorted keys.
func canonicalFilters(filters map[string]bool) string {
	if len(filters) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]struct {
		K string
		V bool
	}, 0, len(keys))
	for _, k := range keys {
		ordered = append(ordered, struct {
			K string
			V bool
		}{k, filters[k]})
	}

	var sb []byte
	sb = append(sb, '{')
	for i, kv := range ordered {
		if i > 0 {
			sb = append(sb, ',')
		}
		keyJSON, _ := json.Marshal(kv.K)
		sb = append(sb, keyJSON...)
		sb = append(sb, ':')
		sb = strconv.AppendBool(sb, kv.V)
	}
	sb = append(sb, '}')
	return string(sb)
}

// =============================================================================
// Response Cache
// =============================================================================

// entry is a stored value with its expiry deadline.
type entry struct {
	value     any
	expiresAt time.Time
}

// Stats is a point-in-time snapshot of cache effectiveness.
type Stats struct {
	Size      int     `json:"size"`
	MaxSize   int     `json:"max_size"`
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
}

// ResponseCache is a bounded TTL cache keyed by Key digests.
//
// # Description
//
// All operations are safe for concurrent use. Expiry is enforced lazily on
// Get; there is no background sweeper. When an insert would exceed the
// size cap, the cache evicts max(1, cap/10) of the least recently
// accessed entries in one pass. Access times live in a side map so a
// read never rewrites a stored entry.
//
// # Limitations
//
//   - Eviction is approximate LRU: an expired-but-unread entry still
//     counts against the cap until eviction or Get touches it.
type ResponseCache struct {
	mu         sync.Mutex
	entries    map[string]entry
	accessedAt map[string]time.Time
	ttl        time.Duration
	maxSize    int

	hits      uint64
	misses    uint64
	evictions uint64

	// now is swappable for tests.
	now func() time.Time
}

// NewResponseCache creates a ResponseCache with the given bounds.
// Non-positive arguments fall back to the defaults.
func NewResponseCache(ttl time.Duration, maxSize int) *ResponseCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &ResponseCache{
		entries:    make(map[string]entry),
		accessedAt: make(map[string]time.Time),
		ttl:        ttl,
		maxSize:    maxSize,
		now:        time.Now,
	}
}

// Get returns the cached value for key, or (nil, false) when the key is
// absent or expired. Expired entries are purged on the spot. A hit
// refreshes the entry's access time but never its expiry.
func (c *ResponseCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		delete(c.accessedAt, key)
		c.misses++
		return nil, false
	}

	c.accessedAt[key] = c.now()
	c.hits++
	return e.value, true
}

// Set stores value under key with a fresh TTL, evicting the least recently
// accessed batch first when the cache is full. Overwriting an existing key
// never triggers eviction.
func (c *ResponseCache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}

	now := c.now()
	c.entries[key] = entry{value: value, expiresAt: now.Add(c.ttl)}
	c.accessedAt[key] = now
}

// evictOldestLocked removes max(1, cap/10) entries with the oldest access
// times. Caller must hold c.mu.
func (c *ResponseCache) evictOldestLocked() {
	batch := c.maxSize / 10
	if batch < 1 {
		batch = 1
	}

	type aged struct {
		key string
		at  time.Time
	}
	all := make([]aged, 0, len(c.accessedAt))
	for k, at := range c.accessedAt {
		all = append(all, aged{key: k, at: at})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })

	if batch > len(all) {
		batch = len(all)
	}
	for _, a := range all[:batch] {
		delete(c.entries, a.key)
		delete(c.accessedAt, a.key)
		c.evictions++
	}

	slog.Debug("Cache eviction completed",
		"evicted", batch,
		"remaining", len(c.entries))
}

// Clear drops every entry. Hit and miss counters survive so operators can
// still read lifetime effectiveness after a manual flush.
func (c *ResponseCache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.entries)
	c.entries = make(map[string]entry)
	c.accessedAt = make(map[string]time.Time)
	slog.Info("Cache cleared", "entries_removed", n)
	return n
}

// Len returns the number of stored entries, expired ones included.
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Snapshot returns current cache statistics.
func (c *ResponseCache) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Size:      len(c.entries),
		MaxSize:   c.maxSize,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// String describes the cache bounds for startup logging.
func (c *ResponseCache) String() string {
	return fmt.Sprintf("ResponseCache(ttl=%s, max_size=%d)", c.ttl, c.maxSize)
}
