package catalog

import "sync"

// Cache maps version id to it's resolved catalog entry, or to a not found marker (nil entry).
// It lives for one process run, and is never evicted.
type Cache struct {
	mu      sync.RWMutex
	entries map[int64]*ModelInfo
}

func NewCache() *Cache {
	return &Cache{entries: map[int64]*ModelInfo{}}
}

// Get returns the cached entry of versionId. cached is false on cache miss;
// if cached is true and info is nil, the version is known to be not found.
func (c *Cache) Get(versionId int64) (info *ModelInfo, cached bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, cached = c.entries[versionId]
	return
}

// Put stores info of versionId. A nil info records a not found result.
func (c *Cache) Put(versionId int64, info *ModelInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[versionId] = info
}

func (c *Cache) Contains(versionId int64) bool {
	_, cached := c.Get(versionId)
	return cached
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
