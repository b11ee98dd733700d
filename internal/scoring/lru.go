package scoring

import "container/list"

// lruCache is a non-concurrent LRU map from note id to scoring result.
// Callers hold the adapter lock; the cache itself does no locking.
type lruCache struct {
	capacity int
	order    *list.List
	entries  map[string]*list.Element
}

type lruEntry struct {
	key    string
	result ScoringResult
}

func newLRUCache(capacity int) *lruCache {
	if capacity <= 0 {
		capacity = 10000
	}

	return &lruCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
}

func (c *lruCache) Get(key string) (ScoringResult, bool) {
	elem, ok := c.entries[key]
	if !ok {
		return ScoringResult{}, false
	}

	c.order.MoveToFront(elem)

	return elem.Value.(*lruEntry).result, true
}

func (c *lruCache) Put(key string, result ScoringResult) {
	if elem, ok := c.entries[key]; ok {
		elem.Value.(*lruEntry).result = result
		c.order.MoveToFront(elem)

		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*lruEntry).key)
		}
	}

	c.entries[key] = c.order.PushFront(&lruEntry{key: key, result: result})
}

func (c *lruCache) Purge() {
	c.order.Init()
	c.entries = make(map[string]*list.Element)
}

func (c *lruCache) Len() int {
	return c.order.Len()
}
