package cache

import (
	"container/list"
	"sync"
	"time"
)

// MemoryCache implements an in-memory store with optional LRU eviction.
// With a positive capacity it is the L1 accelerator in front of a named cache;
// with capacity <= 0 it never evicts and serves as the memory backend's store.
type MemoryCache struct {
	capacity int64 // Maximum size in bytes, <= 0 for unbounded
	size     int64 // Current size in bytes

	// LRU implementation
	items    map[string]*list.Element
	eviction *list.List

	mu sync.RWMutex

	stats CacheStats
}

type memoryCacheEntry struct {
	key       string
	value     []byte
	size      int64
	timestamp time.Time
	hits      int64
}

// NewMemoryCache creates a new memory cache with the specified capacity in bytes.
func NewMemoryCache(capacity int64) *MemoryCache {
	return &MemoryCache{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		eviction: list.New(),
		stats: CacheStats{
			Capacity: max(capacity, 0),
		},
	}
}

func (c *MemoryCache) bounded() bool { return c.capacity > 0 }

// Get retrieves a value from the cache.
func (c *MemoryCache) Get(key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return nil, ErrCacheMiss
	}

	// Move to front (most recently used)
	c.eviction.MoveToFront(elem)
	entry := elem.Value.(*memoryCacheEntry)
	entry.hits++

	c.stats.Hits++
	c.stats.LastAccess = time.Now()
	return entry.value, nil
}

// Put stores a value in the cache.
func (c *MemoryCache) Put(key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	valueSize := int64(len(value))

	if c.bounded() && valueSize > c.capacity {
		return ErrItemTooLarge
	}

	if elem, ok := c.items[key]; ok {
		c.eviction.MoveToFront(elem)
		entry := elem.Value.(*memoryCacheEntry)

		c.size += valueSize - entry.size

		entry.value = value
		entry.size = valueSize
		entry.timestamp = time.Now()

		c.evictOverflow()
		c.stats.Size = c.size
		return nil
	}

	for c.bounded() && c.size+valueSize > c.capacity && c.eviction.Len() > 0 {
		c.evictOldest()
	}

	entry := &memoryCacheEntry{
		key:       key,
		value:     value,
		size:      valueSize,
		timestamp: time.Now(),
	}

	elem := c.eviction.PushFront(entry)
	c.items[key] = elem
	c.size += valueSize

	c.stats.Size = c.size
	return nil
}

// Delete removes an entry from the cache.
func (c *MemoryCache) Delete(key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return false, nil
	}

	c.removeElement(elem)
	return true, nil
}

// Clear removes all entries from the cache.
func (c *MemoryCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.eviction.Init()
	c.size = 0
	c.stats.Size = 0

	return nil
}

// Size returns the current cache size in bytes.
func (c *MemoryCache) Size() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.size
}

// Stats returns cache statistics.
func (c *MemoryCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := c.stats
	stats.Size = c.size
	stats.ItemCount = int64(len(c.items))

	if stats.Hits+stats.Misses > 0 {
		stats.HitRate = float64(stats.Hits) / float64(stats.Hits+stats.Misses)
	}

	return stats
}

// Contains checks if a key exists in the cache without updating LRU.
func (c *MemoryCache) Contains(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.items[key]
	return ok
}

// Keys returns all keys in insertion-recency order, oldest first.
func (c *MemoryCache) Keys() ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.items))
	for elem := c.eviction.Back(); elem != nil; elem = elem.Prev() {
		keys = append(keys, elem.Value.(*memoryCacheEntry).key)
	}
	return keys, nil
}

// Resize changes the cache capacity.
func (c *MemoryCache) Resize(newCapacity int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.capacity = newCapacity
	c.stats.Capacity = max(newCapacity, 0)
	c.evictOverflow()
}

// Flush is a no-op; memory has nothing to persist.
func (c *MemoryCache) Flush() error { return nil }

// Close releases the entries.
func (c *MemoryCache) Close() error { return c.Clear() }

// evictOverflow evicts until the cache fits (must be called with lock held).
func (c *MemoryCache) evictOverflow() {
	for c.bounded() && c.size > c.capacity && c.eviction.Len() > 0 {
		c.evictOldest()
	}
}

// evictOldest removes the least recently used item (must be called with lock held).
func (c *MemoryCache) evictOldest() {
	elem := c.eviction.Back()
	if elem != nil {
		c.removeElement(elem)
		c.stats.Evictions++
		c.stats.LastEvict = time.Now()
	}
}

// removeElement removes an element from the cache (must be called with lock held).
func (c *MemoryCache) removeElement(elem *list.Element) {
	c.eviction.Remove(elem)
	entry := elem.Value.(*memoryCacheEntry)
	delete(c.items, entry.key)
	c.size -= entry.size
}

// memoryBackend keeps every named cache in process memory.
type memoryBackend struct {
	mu     sync.Mutex
	order  []string
	stores map[string]*MemoryCache
}

// NewMemoryBackend returns a Backend that loses its contents on exit.
func NewMemoryBackend() Backend {
	return &memoryBackend{stores: make(map[string]*MemoryCache)}
}

func (b *memoryBackend) Names() ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]string(nil), b.order...), nil
}

func (b *memoryBackend) Open(name string) (Store, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s, ok := b.stores[name]; ok {
		return s, nil
	}
	s := NewMemoryCache(0)
	b.stores[name] = s
	b.order = append(b.order, name)
	return s, nil
}

func (b *memoryBackend) Get(name string) (Store, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.stores[name]
	if !ok {
		return nil, false, nil
	}
	return s, true, nil
}

func (b *memoryBackend) Remove(name string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.stores[name]
	if !ok {
		return false, nil
	}
	_ = s.Clear()
	delete(b.stores, name)
	for i, n := range b.order {
		if n == name {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (b *memoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stores = make(map[string]*MemoryCache)
	b.order = nil
	return nil
}
