package canonical

import (
	"container/list"
	"sync"
)

// CacheInfo exposes hit/miss counters for diagnostics.
type CacheInfo struct {
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
	Size     int   `json:"size"`
	Capacity int   `json:"capacity"`
}

// lruCache is a fixed-capacity map with access-order eviction.
type lruCache struct {
	capacity int
	mu       sync.Mutex
	entries  map[string]*list.Element
	order    *list.List
	hits     int64
	misses   int64
}

type lruEntry struct {
	key   string
	value string
}

func newLRUCache(capacity int) *lruCache {
	return &lruCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

func (c *lruCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.entries[key]
	if !ok {
		c.misses++
		return "", false
	}

	c.order.MoveToFront(element)
	c.hits++
	return element.Value.(*lruEntry).value, true
}

func (c *lruCache) Put(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if element, ok := c.entries[key]; ok {
		c.order.MoveToFront(element)
		element.Value.(*lruEntry).value = value
		return
	}

	element := c.order.PushFront(&lruEntry{key: key, value: value})
	c.entries[key] = element

	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*lruEntry).key)
		}
	}
}

func (c *lruCache) Info() CacheInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	return CacheInfo{
		Hits:     c.hits,
		Misses:   c.misses,
		Size:     c.order.Len(),
		Capacity: c.capacity,
	}
}
