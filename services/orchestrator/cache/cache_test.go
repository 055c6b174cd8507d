// Copyright (C) 2025 COSMOS Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey_FilterOrderIrrelevant(t *testing.T) {
	a := Key("what is rust", "mixtral-8x7b-32768", 0.7, map[string]bool{"web": true, "video": false})
	b := Key("what is rust", "mixtral-8x7b-32768", 0.7, map[string]bool{"video": false, "web": true})
	assert.Equal(t, a, b, "filter insertion order must not change the key")
}

func TestKey_DistinguishesInputs(t *testing.T) {
	base := Key("q", "m", 0.7, nil)

	assert.NotEqual(t, base, Key("q2", "m", 0.7, nil), "query must affect the key")
	assert.NotEqual(t, base, Key("q", "m2", 0.7, nil), "model must affect the key")
	assert.NotEqual(t, base, Key("q", "m", 0.8, nil), "temperature must affect the key")
	assert.NotEqual(t, base, Key("q", "m", 0.7, map[string]bool{"web": true}), "filters must affect the key")
}

func TestKey_NilAndEmptyFiltersEquivalent(t *testing.T) {
	assert.Equal(t, Key("q", "m", 0.7, nil), Key("q", "m", 0.7, map[string]bool{}))
}

func TestResponseCache_SetGet(t *testing.T) {
	c := NewResponseCache(time.Minute, 10)

	c.Set("k1", "answer one")
	got, ok := c.Get("k1")
	require.True(t, ok)
	assert.Equal(t, "answer one", got)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestResponseCache_Expiry(t *testing.T) {
	c := NewResponseCache(300*time.Second, 10)
	current := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return current }

	c.Set("k1", "v1")

	// Just inside the TTL.
	current = current.Add(299 * time.Second)
	_, ok := c.Get("k1")
	assert.True(t, ok)

	// Past the TTL the entry is purged.
	current = current.Add(2 * time.Second)
	_, ok = c.Get("k1")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "expired entry must be removed on access")
}

func TestResponseCache_GetDoesNotExtendTTL(t *testing.T) {
	c := NewResponseCache(100*time.Second, 10)
	current := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return current }

	c.Set("k1", "v1")

	current = current.Add(90 * time.Second)
	_, ok := c.Get("k1")
	require.True(t, ok)

	// The read above must not have pushed out the expiry.
	current = current.Add(20 * time.Second)
	_, ok = c.Get("k1")
	assert.False(t, ok)
}

func TestResponseCache_EvictsOldestAccessedBatch(t *testing.T) {
	c := NewResponseCache(time.Hour, 100)
	current := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return current }

	for i := 0; i < 100; i++ {
		c.Set(fmt.Sprintf("k%03d", i), i)
		current = current.Add(time.Second)
	}
	require.Equal(t, 100, c.Len())

	// Touch the ten oldest-inserted keys so they become the most recently
	// accessed and must survive eviction.
	for i := 0; i < 10; i++ {
		_, ok := c.Get(fmt.Sprintf("k%03d", i))
		require.True(t, ok)
		current = current.Add(time.Second)
	}

	c.Set("overflow", "new")

	// Batch size is 100/10 = 10, so we end at 91 entries.
	assert.Equal(t, 91, c.Len())
	for i := 0; i < 10; i++ {
		_, ok := c.Get(fmt.Sprintf("k%03d", i))
		assert.True(t, ok, "recently accessed key k%03d must survive", i)
	}
	_, ok := c.Get("overflow")
	assert.True(t, ok)
	// k010..k019 were the least recently accessed and should be gone.
	for i := 10; i < 20; i++ {
		_, ok := c.Get(fmt.Sprintf("k%03d", i))
		assert.False(t, ok, "stale key k%03d should have been evicted", i)
	}
}

func TestResponseCache_SmallCacheEvictsAtLeastOne(t *testing.T) {
	c := NewResponseCache(time.Hour, 5)
	current := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return current }

	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
		current = current.Add(time.Second)
	}

	c.Set("k5", 5)
	assert.Equal(t, 5, c.Len(), "5/10 rounds up to an eviction batch of 1")
	_, ok := c.Get("k0")
	assert.False(t, ok, "the single oldest entry is evicted")
}

func TestResponseCache_OverwriteDoesNotEvict(t *testing.T) {
	c := NewResponseCache(time.Hour, 3)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	c.Set("b", 22)
	assert.Equal(t, 3, c.Len())
	got, ok := c.Get("b")
	require.True(t, ok)
	assert.Equal(t, 22, got)
}

func TestResponseCache_Clear(t *testing.T) {
	c := NewResponseCache(time.Hour, 10)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a")

	removed := c.Clear()
	assert.Equal(t, 2, removed)
	assert.Equal(t, 0, c.Len())

	stats := c.Snapshot()
	assert.Equal(t, uint64(1), stats.Hits, "counters survive a clear")
}

func TestResponseCache_Snapshot(t *testing.T) {
	c := NewResponseCache(time.Hour, 10)
	c.Set("a", 1)
	c.Get("a")
	c.Get("a")
	c.Get("nope")

	s := c.Snapshot()
	assert.Equal(t, 1, s.Size)
	assert.Equal(t, 10, s.MaxSize)
	assert.Equal(t, uint64(2), s.Hits)
	assert.Equal(t, uint64(1), s.Misses)
	assert.InDelta(t, 2.0/3.0, s.HitRate, 1e-9)
}

func TestResponseCache_ConcurrentAccess(t *testing.T) {
	c := NewResponseCache(time.Minute, 50)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", i%60)
				c.Set(key, i)
				c.Get(key)
			}
		}(w)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 50, "cache must never exceed its cap")
}
