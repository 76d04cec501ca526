package cache

import (
	"container/list"
	"sync"
	"time"
)

type memoryEntry struct {
	key      string
	value    string
	storedAt time.Time
}

// Memory is the first cache tier: a fixed-capacity LRU with a single TTL.
// Staleness is checked lazily on read; there is no background sweep, so an
// expired entry occupies its slot until accessed or evicted.
type Memory struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	ll       *list.List // front = most recently used
	items    map[string]*list.Element
	now      func() time.Time
}

// NewMemory creates the in-memory tier. Non-positive capacity or TTL fall
// back to defaults sized for a busy sheet recalculation.
func NewMemory(capacity int, ttl time.Duration) *Memory {
	if capacity <= 0 {
		capacity = 500
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Memory{
		capacity: capacity,
		ttl:      ttl,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
		now:      time.Now,
	}
}

// Get returns the cached value for key. Absent and present-but-expired both
// report a miss; expired entries are purged on access.
func (c *Memory) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return "", false
	}
	ent := el.Value.(*memoryEntry)
	if c.now().Sub(ent.storedAt) > c.ttl {
		c.ll.Remove(el)
		delete(c.items, key)
		return "", false
	}
	c.ll.MoveToFront(el)
	return ent.value, true
}

// Set stores value under key, refreshing recency. The least-recently-used
// entry is evicted once capacity is exceeded. Set always succeeds.
func (c *Memory) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		ent := el.Value.(*memoryEntry)
		ent.value = value
		ent.storedAt = c.now()
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(&memoryEntry{key: key, value: value, storedAt: c.now()})
	c.items[key] = el

	for c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*memoryEntry).key)
	}
}

// Len returns the number of items currently in the cache.
func (c *Memory) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Clear removes all items. Useful for tests or manual resets.
func (c *Memory) Clear() {
	c.mu.Lock()
	c.ll.Init()
	c.items = make(map[string]*list.Element)
	c.mu.Unlock()
}
