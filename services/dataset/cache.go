package dataset

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// IndexCache memoizes dataset indexes for a bounded time. When full, the
// least recently used entry is evicted.
type IndexCache struct {
	lru *expirable.LRU[string, []Triple]
}

// NewIndexCache returns a cache of at most capacity datasets, each kept for
// ttl. A non-positive ttl keeps entries until invalidated or evicted.
func NewIndexCache(capacity int, ttl time.Duration) *IndexCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &IndexCache{lru: expirable.NewLRU[string, []Triple](capacity, nil, ttl)}
}

// Get returns a copy of the cached index of name.
func (c *IndexCache) Get(name string) ([]Triple, bool) {
	triples, ok := c.lru.Get(name)
	if !ok {
		return nil, false
	}
	return append([]Triple(nil), triples...), true
}

// Put stores a copy of the index of name.
func (c *IndexCache) Put(name string, triples []Triple) {
	c.lru.Add(name, append([]Triple(nil), triples...))
}

// Invalidate drops the index of name.
func (c *IndexCache) Invalidate(name string) {
	c.lru.Remove(name)
}

// Len returns the number of cached datasets.
func (c *IndexCache) Len() int {
	return c.lru.Len()
}
