package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestCache_GetSet(t *testing.T) {
	c := New("test", 10, time.Minute)

	c.Set("k1", "v1")
	v, ok := c.Get("k1")
	if !ok {
		t.Fatal("expected hit for k1")
	}
	if v.(string) != "v1" {
		t.Errorf("expected 'v1', got %v", v)
	}

	if _, ok := c.Get("absent"); ok {
		t.Error("expected miss for absent key")
	}
}

func TestCache_LRUEviction(t *testing.T) {
	c := New("test", 3, time.Minute)

	for i := 1; i <= 4; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
	}

	if c.Len() != 3 {
		t.Fatalf("expected 3 entries after overflow, got %d", c.Len())
	}
	if _, ok := c.Get("k1"); ok {
		t.Error("expected oldest key k1 to be evicted")
	}
	for i := 2; i <= 4; i++ {
		if _, ok := c.Get(fmt.Sprintf("k%d", i)); !ok {
			t.Errorf("expected k%d to survive", i)
		}
	}

	stats := c.Stats()
	if stats.Evictions != 1 {
		t.Errorf("expected 1 eviction, got %d", stats.Evictions)
	}
}

func TestCache_LRUOrderRespectsAccess(t *testing.T) {
	c := New("test", 3, time.Minute)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	// Touch "a" so "b" becomes the least recently used.
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected hit for a")
	}

	c.Set("d", 4)

	if _, ok := c.Get("b"); ok {
		t.Error("expected least-recently-used key b to be evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("expected recently accessed key a to survive")
	}
}

func TestCache_SetMovesToFront(t *testing.T) {
	c := New("test", 2, time.Minute)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("a", 10) // re-set moves a to most recent
	c.Set("c", 3)  // evicts b, not a

	if _, ok := c.Get("b"); ok {
		t.Error("expected b to be evicted")
	}
	v, ok := c.Get("a")
	if !ok {
		t.Fatal("expected a to survive re-set")
	}
	if v.(int) != 10 {
		t.Errorf("expected updated value 10, got %v", v)
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	c := New("test", 10, 30*time.Millisecond)

	c.Set("k", "v")

	// Before expiry: hit, recency refreshed.
	if _, ok := c.Get("k"); !ok {
		t.Fatal("expected hit before expiry")
	}

	time.Sleep(50 * time.Millisecond)

	if _, ok := c.Get("k"); ok {
		t.Error("expected miss after TTL elapsed")
	}
	if c.Len() != 0 {
		t.Errorf("expected expired entry to be removed on access, len=%d", c.Len())
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("expected 1 hit / 1 miss, got %d / %d", stats.Hits, stats.Misses)
	}
}

func TestCache_PerEntryTTL(t *testing.T) {
	c := New("test", 10, time.Minute)

	c.SetTTL("short", "v", 20*time.Millisecond)
	c.Set("long", "v")

	time.Sleep(40 * time.Millisecond)

	if _, ok := c.Get("short"); ok {
		t.Error("expected short-TTL entry to expire")
	}
	if _, ok := c.Get("long"); !ok {
		t.Error("expected default-TTL entry to survive")
	}
}

func TestCache_Invalidate(t *testing.T) {
	c := New("test", 10, time.Minute)

	c.Set("k", "v")
	if !c.Invalidate("k") {
		t.Error("expected Invalidate to report removal")
	}
	if c.Invalidate("k") {
		t.Error("expected second Invalidate to report absence")
	}
	if _, ok := c.Get("k"); ok {
		t.Error("expected miss after invalidation")
	}
}

func TestCache_InvalidatePrefix(t *testing.T) {
	c := New("test", 10, time.Minute)

	c.Set("tools:s1:a", 1)
	c.Set("tools:s1:b", 2)
	c.Set("tools:s2:a", 3)

	removed := c.InvalidatePrefix("tools:s1:")
	if removed != 2 {
		t.Errorf("expected 2 removed, got %d", removed)
	}
	if _, ok := c.Get("tools:s2:a"); !ok {
		t.Error("expected other session's entry to survive")
	}
}

func TestCache_CleanupExpired(t *testing.T) {
	c := New("test", 10, time.Minute)

	c.SetTTL("e1", 1, time.Nanosecond)
	c.SetTTL("e2", 2, time.Nanosecond)
	c.Set("fresh", 3)

	time.Sleep(5 * time.Millisecond)

	removed := c.CleanupExpired()
	if removed != 2 {
		t.Errorf("expected 2 expired removed, got %d", removed)
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 entry left, got %d", c.Len())
	}
}

func TestCache_Clear(t *testing.T) {
	c := New("test", 10, time.Minute)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Clear()

	if c.Len() != 0 {
		t.Errorf("expected empty cache, got %d entries", c.Len())
	}
}

func TestCache_Stats(t *testing.T) {
	c := New("session_context", 10, time.Minute)

	c.Set("a", 1)
	c.Get("a")
	c.Get("a")
	c.Get("missing")

	stats := c.Stats()
	if stats.Name != "session_context" {
		t.Errorf("expected name 'session_context', got %q", stats.Name)
	}
	if stats.Hits != 2 || stats.Misses != 1 {
		t.Errorf("expected 2 hits / 1 miss, got %d / %d", stats.Hits, stats.Misses)
	}
	want := float64(2) / 3 * 100
	if stats.HitRate < want-0.01 || stats.HitRate > want+0.01 {
		t.Errorf("expected hit rate ~%.1f, got %.1f", want, stats.HitRate)
	}
}

func TestCache_StatsNoLookups(t *testing.T) {
	c := New("test", 10, time.Minute)
	if rate := c.Stats().HitRate; rate != 0 {
		t.Errorf("expected 0 hit rate with no lookups, got %f", rate)
	}
}

func TestCache_Concurrent(t *testing.T) {
	c := New("test", 100, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", n%10)
			c.Set(key, n)
			c.Get(key)
			c.InvalidatePrefix("k9")
		}(i)
	}
	wg.Wait()

	if c.Len() > 10 {
		t.Errorf("expected at most 10 distinct keys, got %d", c.Len())
	}
}
