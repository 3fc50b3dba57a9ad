package transport

import (
	"encoding/json"
	"sync"
	"time"
)

type cacheEntry struct {
	method  string
	params  json.RawMessage
	result  json.RawMessage
	expires time.Time
}

// resultCache keeps raw results of cacheable calls until their TTL runs out.
type resultCache struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]cacheEntry
}

func newResultCache(now func() time.Time) *resultCache {
	return &resultCache{now: now, entries: make(map[string]cacheEntry)}
}

func cacheKey(method string, params json.RawMessage) string {
	return method + "\x00" + string(params)
}

func (c *resultCache) get(method string, params json.RawMessage) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := cacheKey(method, params)
	e, ok := c.entries[k]
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, k)
		return nil, false
	}
	return e.result, true
}

func (c *resultCache) put(method string, params, result json.RawMessage, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[cacheKey(method, params)] = cacheEntry{
		method:  method,
		params:  params,
		result:  result,
		expires: c.now().Add(ttl),
	}
	c.mu.Unlock()
}

// clear drops the entries of method whose params match (all of them when match is nil).
func (c *resultCache) clear(method string, match func(params json.RawMessage) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k, e := range c.entries {
		if e.method != method {
			continue
		}
		if match != nil && !match(e.params) {
			continue
		}
		delete(c.entries, k)
		n++
	}
	return n
}
