package cache

import (
	"testing"
	"time"
)

func TestMemoryTTL(t *testing.T) {
	c := NewMemory(10, 20*time.Millisecond)

	now := time.Now()
	c.now = func() time.Time { return now }

	c.Set("k", "hello")

	got, hit := c.Get("k")
	if !hit {
		t.Fatalf("expected hit immediately after Set")
	}
	if got != "hello" {
		t.Fatalf("expected 'hello', got %q", got)
	}

	// Advance past the TTL; the entry must read as a miss and be purged.
	now = now.Add(30 * time.Millisecond)

	if _, hit := c.Get("k"); hit {
		t.Fatalf("expected miss after TTL expiry")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry should be purged on access, len=%d", c.Len())
	}
}

func TestMemoryLRUEviction(t *testing.T) {
	c := NewMemory(3, time.Minute)

	c.Set("a", "1")
	c.Set("b", "2")
	c.Set("c", "3")

	// Re-access the oldest inserted key so it becomes most recently used.
	if _, hit := c.Get("a"); !hit {
		t.Fatalf("expected hit for a")
	}

	// Inserting a 4th key must evict the least-recently-used ("b"),
	// not the least-recently-inserted ("a").
	c.Set("d", "4")

	if _, hit := c.Get("b"); hit {
		t.Fatalf("expected b to be evicted")
	}
	if _, hit := c.Get("a"); !hit {
		t.Fatalf("expected a to survive after re-access")
	}
	if _, hit := c.Get("c"); !hit {
		t.Fatalf("expected c to survive")
	}
	if _, hit := c.Get("d"); !hit {
		t.Fatalf("expected d to be present")
	}
}

func TestMemoryUpdateRefreshesRecency(t *testing.T) {
	c := NewMemory(2, time.Minute)

	c.Set("a", "1")
	c.Set("b", "2")
	c.Set("a", "1v2") // update moves a to the front

	c.Set("c", "3") // evicts b

	if _, hit := c.Get("b"); hit {
		t.Fatalf("expected b to be evicted")
	}
	got, hit := c.Get("a")
	if !hit || got != "1v2" {
		t.Fatalf("expected updated value for a, got %q hit=%v", got, hit)
	}
}

func TestMemoryClear(t *testing.T) {
	c := NewMemory(10, time.Minute)
	c.Set("a", "1")
	c.Set("b", "2")
	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("expected empty cache after Clear, len=%d", c.Len())
	}
	if _, hit := c.Get("a"); hit {
		t.Fatalf("expected miss after Clear")
	}
}
