// Package cache provides a small bounded in-memory cache with per-entry
// expiry.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type entry[K comparable, V any] struct {
	key    K
	value  V
	stored time.Time
}

// TTL keeps at most maxEntries values for ttl each. When full, the least
// recently stored entry is evicted. Safe for concurrent use.
type TTL[K comparable, V any] struct {
	ttl        time.Duration
	maxEntries int
	clock      clockwork.Clock

	mu    sync.Mutex
	items map[K]*list.Element
	order *list.List // front is newest
}

// NewTTL creates a cache. A nil clock uses the real clock; maxEntries below
// one is treated as one.
func NewTTL[K comparable, V any](ttl time.Duration, maxEntries int, clock clockwork.Clock) *TTL[K, V] {
	if maxEntries < 1 {
		maxEntries = 1
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TTL[K, V]{
		ttl:        ttl,
		maxEntries: maxEntries,
		clock:      clock,
		items:      make(map[K]*list.Element),
		order:      list.New(),
	}
}

// Get returns the value for key if present and not expired
func (c *TTL[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		return zero, false
	}
	e := el.Value.(*entry[K, V])
	if c.clock.Since(e.stored) >= c.ttl {
		c.order.Remove(el)
		delete(c.items, key)
		return zero, false
	}
	return e.value, true
}

// Set stores value under key, evicting the oldest entry when full
func (c *TTL[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[K, V])
		e.value = value
		e.stored = now
		c.order.MoveToFront(el)
		return
	}

	for c.order.Len() >= c.maxEntries {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*entry[K, V]).key)
	}
	c.items[key] = c.order.PushFront(&entry[K, V]{key: key, value: value, stored: now})
}

// Delete removes key
func (c *TTL[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.order.Remove(el)
		delete(c.items, key)
	}
}

// Len reports the number of stored entries, expired ones included until
// they are next looked up
func (c *TTL[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
