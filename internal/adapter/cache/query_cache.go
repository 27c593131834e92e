package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sync"
	"time"

	"chromamcp/internal/domain"
)

// QueryCache is a small LRU of query results. Each entry remembers the store
// generation it was computed at and is dropped once the store moves on.
type QueryCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	order   []string
	maxSize int
	ttl     time.Duration
	now     func() time.Time

	hits   uint64
	misses uint64
}

type cacheEntry struct {
	result     domain.QueryResult
	timestamp  time.Time
	generation uint64
}

type Stats struct {
	Size   int    `json:"size"`
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
}

func NewQueryCache(maxSize int, ttl time.Duration) *QueryCache {
	if maxSize <= 0 {
		maxSize = 100
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &QueryCache{
		entries: make(map[string]*cacheEntry),
		order:   make([]string, 0, maxSize),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

func cacheKey(collection, query string, n int) string {
	h := sha256.New()
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(collection)))
	h.Write(lenBuf[:])
	h.Write([]byte(collection))
	h.Write([]byte(query))
	binary.BigEndian.PutUint64(lenBuf[:], uint64(n))
	h.Write(lenBuf[:])
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// Get returns a cached result computed at generation gen.
func (c *QueryCache) Get(collection, query string, n int, gen uint64) (domain.QueryResult, bool) {
	key := cacheKey(collection, query, n)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists {
		c.misses++
		return domain.QueryResult{}, false
	}

	if c.now().Sub(entry.timestamp) > c.ttl || entry.generation != gen {
		delete(c.entries, key)
		c.removeFromOrder(key)
		c.misses++
		return domain.QueryResult{}, false
	}

	c.moveToEnd(key)
	c.hits++
	return entry.result, true
}

// Put stores result as computed at generation gen.
func (c *QueryCache) Put(collection, query string, n int, gen uint64, result domain.QueryResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(collection, query, n)
	entry := &cacheEntry{
		result:     result,
		timestamp:  c.now(),
		generation: gen,
	}

	if _, exists := c.entries[key]; exists {
		c.entries[key] = entry
		c.moveToEnd(key)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	c.entries[key] = entry
	c.order = append(c.order, key)
}

func (c *QueryCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *QueryCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{Size: len(c.entries), Hits: c.hits, Misses: c.misses}
}

func (c *QueryCache) evictOldest() {
	if len(c.order) == 0 {
		return
	}
	oldest := c.order[0]
	c.order = c.order[1:]
	delete(c.entries, oldest)
}

func (c *QueryCache) moveToEnd(key string) {
	c.removeFromOrder(key)
	c.order = append(c.order, key)
}

func (c *QueryCache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
