package polygon

import (
	"sync"
	"time"
)

// memoCache is a short-lived in-process memo keyed by (endpoint, params). It
// absorbs duplicate fetches within a single discovery run; entries never
// outlive memoMaxTTL.
type memoCache struct {
	mu sync.Mutex
	m  map[string]memoEntry
}

type memoEntry struct {
	b   []byte
	exp time.Time
}

const memoMaxTTL = 60 * time.Second

func newMemoCache() *memoCache {
	return &memoCache{m: make(map[string]memoEntry)}
}

func (c *memoCache) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[key]
	if !ok || time.Now().After(e.exp) {
		delete(c.m, key)
		return nil, false
	}
	return e.b, true
}

func (c *memoCache) set(key string, val []byte, ttl time.Duration) {
	if ttl <= 0 || ttl > memoMaxTTL {
		ttl = memoMaxTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = memoEntry{b: append([]byte(nil), val...), exp: time.Now().Add(ttl)}
}
