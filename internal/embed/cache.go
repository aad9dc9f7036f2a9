package embed

import "sync"

// Cache is the session cache of record embeddings keyed by URL.
// It has no eviction and the last write wins.
type Cache struct {
	mu      sync.RWMutex
	vectors map[string][]float32
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{vectors: make(map[string][]float32)}
}

// Get returns the vector for url.
func (c *Cache) Get(url string) ([]float32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.vectors[url]
	return v, ok
}

// Put stores vec for url. Empty vectors are ignored.
func (c *Cache) Put(url string, vec []float32) {
	if len(vec) == 0 {
		return
	}
	c.mu.Lock()
	c.vectors[url] = vec
	c.mu.Unlock()
}

// Len returns the number of cached vectors.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.vectors)
}
