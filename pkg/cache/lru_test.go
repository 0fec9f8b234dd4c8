package cache

import (
	"fmt"
	"testing"
	"time"
)

func TestLRUEviction(t *testing.T) {
	c := NewLRU(3, 0)
	for i := 0; i < 4; i++ {
		c.Put(fmt.Sprintf("k%d", i), i)
	}
	if c.Len() != 3 {
		t.Fatalf("expected 3 entries after eviction, got %d", c.Len())
	}
	if _, ok := c.Get("k0"); ok {
		t.Fatalf("k0 should have been evicted")
	}
	if v, ok := c.Get("k3"); !ok || v.(int) != 3 {
		t.Fatalf("k3 missing or wrong: %v %v", v, ok)
	}
}

func TestLRURecencyOrder(t *testing.T) {
	c := NewLRU(2, 0)
	c.Put("a", 1)
	c.Put("b", 2)
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("a should be present")
	}
	c.Put("c", 3) // evicts b, the least recently used
	if _, ok := c.Get("b"); ok {
		t.Fatalf("b should have been evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("a should survive")
	}
}

func TestLRUTTLExpiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewLRU(10, time.Minute).WithClock(func() time.Time { return now })
	c.Put("k", "v")
	if _, ok := c.Get("k"); !ok {
		t.Fatalf("entry should be live before TTL")
	}
	now = now.Add(2 * time.Minute)
	if _, ok := c.Get("k"); ok {
		t.Fatalf("entry should have expired")
	}
}

func TestLRUStats(t *testing.T) {
	c := NewLRU(2, 0)
	c.Put("a", 1)
	c.Get("a")
	c.Get("missing")
	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Size != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestHashKeyDeterministic(t *testing.T) {
	if HashKey("hello") != HashKey("hello") {
		t.Fatalf("hash key should be deterministic")
	}
	if HashKey("hello") == HashKey("world") {
		t.Fatalf("different inputs should not collide")
	}
}
