package translation

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// DefaultCacheSize is the entry capacity used when none is configured.
const DefaultCacheSize = 500

// Cache maps batch text to its cleaned response. When full, the oldest
// inserted entry is evicted; reads do not refresh an entry's position.
type Cache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	entries  map[string]*list.Element
}

type cacheEntry struct {
	key   string
	value string
}

// NewCache returns a cache holding at most capacity entries. A capacity of
// zero or less disables caching.
func NewCache(capacity int) *Cache {
	return &Cache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
}

// CacheKey identifies a request by language pair and full text.
func CacheKey(text, source, target string) string {
	h := sha256.New()
	h.Write([]byte(source))
	h.Write([]byte{0})
	h.Write([]byte(target))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the stored response for text in the given language pair.
func (c *Cache) Get(text, source, target string) (string, bool) {
	if c == nil || c.capacity <= 0 {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[CacheKey(text, source, target)]
	if !ok {
		return "", false
	}
	return el.Value.(*cacheEntry).value, true
}

// Put stores value. Replacing an existing key keeps its insertion position.
func (c *Cache) Put(text, source, target, value string) {
	if c == nil || c.capacity <= 0 {
		return
	}
	key := CacheKey(text, source, target)

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).value = value
		return
	}
	for c.order.Len() >= c.capacity {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
	c.entries[key] = c.order.PushBack(&cacheEntry{key: key, value: value})
}

// Len is the number of stored entries.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
