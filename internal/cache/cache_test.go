package cache

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(entries int, maxBytes int64, policy Policy) *Cache {
	return New(Options{
		Name:       "test",
		MaxEntries: entries,
		MaxBytes:   maxBytes,
		DefaultTTL: time.Minute,
		Policy:     policy,
	})
}

// TestCache_SetAndGet verifies basic round trips.
func TestCache_SetAndGet(t *testing.T) {
	c := newTestCache(10, 1<<20, PolicyLRU)
	defer c.Destroy()

	c.Set("k", []byte("value"), 0)
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("value"), got)

	_, ok = c.Get("absent")
	assert.False(t, ok)
}

// TestCache_Expiry verifies expired entries are never returned and are
// removed as a side effect of Get.
func TestCache_Expiry(t *testing.T) {
	c := newTestCache(10, 1<<20, PolicyLRU)
	defer c.Destroy()

	c.Set("k", []byte("v"), 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

// TestCache_EntryCap verifies the entry-count ceiling holds after inserts.
func TestCache_EntryCap(t *testing.T) {
	c := newTestCache(3, 1<<20, PolicyLRU)
	defer c.Destroy()

	for i := 0; i < 10; i++ {
		c.Set(fmt.Sprintf("k%d", i), []byte("v"), 0)
	}
	assert.LessOrEqual(t, c.Len(), 3)
}

// TestCache_ByteCap verifies Σ entry.size ≤ maxBytes at every step.
func TestCache_ByteCap(t *testing.T) {
	// Each 100-byte payload is charged 200 bytes; cap allows two entries.
	c := newTestCache(100, 500, PolicyLRU)
	defer c.Destroy()

	payload := bytes.Repeat([]byte("x"), 100)
	for i := 0; i < 8; i++ {
		c.Set(fmt.Sprintf("k%d", i), payload, 0)
		assert.LessOrEqual(t, c.Stats().TotalBytes, int64(500))
	}

	// A single payload charged above the cap (400 bytes charged as 800)
	// is declined rather than inserted over an emptied cache.
	c.Set("huge", bytes.Repeat([]byte("y"), 400), 0)
	assert.LessOrEqual(t, c.Stats().TotalBytes, int64(500))
	_, ok := c.Get("huge")
	assert.False(t, ok)

	// Declining an oversized overwrite also drops the stale entry.
	c.Set("k9", payload, 0)
	c.Set("k9", bytes.Repeat([]byte("y"), 400), 0)
	_, ok = c.Get("k9")
	assert.False(t, ok)
	assert.LessOrEqual(t, c.Stats().TotalBytes, int64(500))
}

// TestCache_LRUVictim verifies the least-recently-used entry is evicted
// and that Get refreshes recency.
func TestCache_LRUVictim(t *testing.T) {
	c := newTestCache(2, 1<<20, PolicyLRU)
	defer c.Destroy()

	c.Set("a", []byte("1"), 0)
	c.Set("b", []byte("2"), 0)
	_, ok := c.Get("a") // refresh "a"; "b" becomes the LRU victim
	require.True(t, ok)

	c.Set("c", []byte("3"), 0)

	_, ok = c.Get("a")
	assert.True(t, ok, "recently used entry should survive")
	_, ok = c.Get("b")
	assert.False(t, ok, "LRU entry should be evicted")
}

// TestCache_LFUVictim verifies the least-frequently-used entry is evicted.
func TestCache_LFUVictim(t *testing.T) {
	c := newTestCache(2, 1<<20, PolicyLFU)
	defer c.Destroy()

	c.Set("hot", []byte("1"), 0)
	c.Set("cold", []byte("2"), 0)
	for i := 0; i < 5; i++ {
		c.Get("hot")
	}

	c.Set("new", []byte("3"), 0)

	_, ok := c.Get("hot")
	assert.True(t, ok)
	_, ok = c.Get("cold")
	assert.False(t, ok, "LFU entry should be evicted")
}

// TestCache_CompressionRoundTrip verifies large payloads survive the
// compress/decompress cycle byte for byte.
func TestCache_CompressionRoundTrip(t *testing.T) {
	c := newTestCache(10, 64<<20, PolicyHybrid)
	defer c.Destroy()

	// Highly compressible payload well above the threshold.
	payload := bytes.Repeat([]byte("abcdefgh"), 4096)
	c.Set("big", payload, 0)

	got, ok := c.Get("big")
	require.True(t, ok)
	assert.Equal(t, payload, got)
}

// TestMaybeCompress_OnlyWhenSmaller verifies compression is applied only
// when the compressed form is strictly smaller.
func TestMaybeCompress_OnlyWhenSmaller(t *testing.T) {
	small := []byte("tiny")
	stored, compressed := maybeCompress(small)
	assert.False(t, compressed)
	assert.Equal(t, small, stored)

	big := bytes.Repeat([]byte("z"), 10000)
	stored, compressed = maybeCompress(big)
	require.True(t, compressed)
	assert.Less(t, len(stored), len(big))

	out, err := decompress(stored)
	require.NoError(t, err)
	assert.Equal(t, big, out)
}

// TestCache_Stats verifies hit-rate accounting.
func TestCache_Stats(t *testing.T) {
	c := newTestCache(10, 1<<20, PolicyHybrid)
	defer c.Destroy()

	c.Set("k", []byte("v"), 0)
	c.Get("k")
	c.Get("k")
	c.Get("missing")

	s := c.Stats()
	assert.Equal(t, int64(2), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.InDelta(t, 2.0/3.0, s.HitRate, 1e-9)
	assert.Equal(t, 1, s.Entries)
	assert.NotEmpty(t, s.MemoryUsage)
}

// TestCache_Clear verifies Clear empties the cache but keeps it usable.
func TestCache_Clear(t *testing.T) {
	c := newTestCache(10, 1<<20, PolicyHybrid)
	defer c.Destroy()

	c.Set("k", []byte("v"), 0)
	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(0), c.Stats().TotalBytes)

	c.Set("k2", []byte("v2"), 0)
	_, ok := c.Get("k2")
	assert.True(t, ok)
}

// TestCache_DestroyStopsWrites verifies Set is a no-op after Destroy.
func TestCache_DestroyStopsWrites(t *testing.T) {
	c := newTestCache(10, 1<<20, PolicyHybrid)
	c.Destroy()

	c.Set("k", []byte("v"), 0)
	_, ok := c.Get("k")
	assert.False(t, ok)
}

// TestFootprint verifies the UTF-16-sized estimate and the fallback.
func TestFootprint(t *testing.T) {
	assert.Equal(t, int64(defaultSizeBytes), footprint(nil))
	assert.Equal(t, int64(10), footprint([]byte("hello")))
}
