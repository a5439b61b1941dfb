// Package dedupe suppresses repeated completion signals at the orchestrator
// ingress. Correctness never depends on it: the orchestrator also rejects
// duplicates through conditional writes. It only saves the redundant work.
package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	seenAt time.Time
	elem   *list.Element
}

// Cache is a bounded set of recently seen keys. Keys expire after ttl and the
// oldest key is evicted when the cache is full.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// New creates a cache. Expired keys are dropped lazily on access and on
// eviction, so no background goroutine is needed.
func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Cache{
		entries: make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Seen marks key and reports whether it was already present and unexpired.
// Check and mark happen under one lock.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.entries[key]; ok {
		if now.Sub(e.seenAt) < c.ttl {
			return true
		}
		e.seenAt = now
		c.order.MoveToBack(e.elem)
		return false
	}

	c.expireLocked(now)
	if len(c.entries) >= c.maxSize {
		c.removeLocked(c.order.Front())
	}
	c.entries[key] = &entry{seenAt: now, elem: c.order.PushBack(key)}
	return false
}

// Forget removes key so that the next Seen reports it as new. Callers use it
// when processing of a first sighting failed.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.removeLocked(e.elem)
	}
}

// Len returns the number of tracked keys, including expired ones not yet dropped.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// expireLocked drops expired keys from the front of the order list.
func (c *Cache) expireLocked(now time.Time) {
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		key, _ := front.Value.(string)
		if now.Sub(c.entries[key].seenAt) < c.ttl {
			return
		}
		c.removeLocked(front)
	}
}

func (c *Cache) removeLocked(elem *list.Element) {
	if elem == nil {
		return
	}
	key, _ := elem.Value.(string)
	c.order.Remove(elem)
	delete(c.entries, key)
}
