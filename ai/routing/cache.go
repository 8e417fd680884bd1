package routing

import (
	"time"

	"github.com/hrygo/fincue/ai/backend"
	"github.com/hrygo/fincue/ai/cache"
)

type cachedResult struct {
	data       any
	confidence float64
}

// resultCache keeps successful remote results keyed by input content so a repeated
// task is not paid for twice.
type resultCache struct {
	lru      *cache.LRUCache[string, cachedResult]
	ttl      time.Duration
	observer Observer
}

func newResultCache(size int, ttl time.Duration, observer Observer) *resultCache {
	if size == 0 {
		size = 256
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &resultCache{
		lru:      cache.NewLRUCache[string, cachedResult](size, ttl),
		ttl:      ttl,
		observer: observer,
	}
}

func cacheKey(kind backend.TaskKind, payload []byte) string {
	return cache.ContentKey(string(kind), payload)
}

// cacheGet returns a cached remote attempt. Hits cost nothing.
func cacheGet[T any](c *resultCache, kind backend.TaskKind, key string) (attempt[T], bool) {
	if c == nil {
		return attempt[T]{}, false
	}
	v, ok := c.lru.Get(key)
	var data T
	if ok {
		data, ok = v.data.(T)
	}
	if c.observer != nil {
		if ok {
			c.observer.RecordCacheHit(string(kind))
		} else {
			c.observer.RecordCacheMiss(string(kind))
		}
	}
	if !ok {
		return attempt[T]{}, false
	}
	return attempt[T]{data: data, confidence: v.confidence, source: backend.SourceRemote}, true
}

func cachePut[T any](c *resultCache, key string, a attempt[T]) {
	if c == nil {
		return
	}
	c.lru.Set(key, cachedResult{data: a.data, confidence: a.confidence}, c.ttl)
}

// CacheStats reports result cache usage; the zero value when the cache is disabled.
func (r *Router) CacheStats() cache.Stats {
	if r.cache == nil {
		return cache.Stats{}
	}
	return r.cache.lru.Stats()
}
