package engine

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/wippyai/imager/opt"
)

// CacheKey hashes input bytes together with the normalized parameters.
func CacheKey(data []byte, p opt.Params) uint64 {
	d := xxhash.New()
	_, _ = d.Write(data)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(p.Size)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(string(p.Format))
	return d.Sum64()
}

// Cache is a bounded optimize-result store with first-in first-out eviction.
type Cache struct {
	entries map[uint64][]byte
	order   []uint64
	limit   int
	hits    uint64
	misses  uint64
	mu      sync.Mutex
}

// NewCache creates a cache holding at most limit results.
func NewCache(limit int) *Cache {
	if limit < 1 {
		limit = 1
	}
	return &Cache{
		entries: make(map[uint64][]byte, limit),
		order:   make([]uint64, 0, limit),
		limit:   limit,
	}
}

// Get returns the stored result for key. The slice must not be modified.
func (c *Cache) Get(key uint64) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return v, ok
}

// Put stores a copy of data under key.
func (c *Cache) Put(key uint64, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		return
	}
	for len(c.order) >= c.limit {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = append([]byte(nil), data...)
	c.order = append(c.order, key)
}

// Len returns the number of stored results.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns hit and miss counts.
func (c *Cache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
