package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	v   V
	at  time.Time
	exp time.Time
}

// TTLCache is an in-process map whose entries expire. The price book uses it to
// stop serving prices the feed has not refreshed within the staleness window.
type TTLCache[V any] struct {
	mu  sync.RWMutex
	m   map[string]entry[V]
	ttl time.Duration
	now func() time.Time
}

// NewTTLCache creates a cache with a default ttl. Zero means entries never expire.
func NewTTLCache[V any](ttl time.Duration) *TTLCache[V] {
	return &TTLCache[V]{m: make(map[string]entry[V]), ttl: ttl, now: time.Now}
}

// WithClock replaces the time source, for tests.
func (c *TTLCache[V]) WithClock(now func() time.Time) *TTLCache[V] {
	c.now = now
	return c
}

func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	if !ok {
		var zero V
		return zero, false
	}
	if !e.exp.IsZero() && c.now().After(e.exp) {
		var zero V
		return zero, false
	}
	return e.v, true
}

// Peek returns the value even if expired, with the time it was set.
func (c *TTLCache[V]) Peek(key string) (V, time.Time, bool) {
	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	return e.v, e.at, ok
}

// Set stores v with the default ttl.
func (c *TTLCache[V]) Set(key string, v V) {
	c.SetTTL(key, v, c.ttl)
}

func (c *TTLCache[V]) SetTTL(key string, v V, ttl time.Duration) {
	now := c.now()
	var exp time.Time
	if ttl > 0 {
		exp = now.Add(ttl)
	}
	c.mu.Lock()
	c.m[key] = entry[V]{v: v, at: now, exp: exp}
	c.mu.Unlock()
}

// Keys lists live keys.
func (c *TTLCache[V]) Keys() []string {
	now := c.now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.m))
	for k, e := range c.m {
		if e.exp.IsZero() || !now.After(e.exp) {
			out = append(out, k)
		}
	}
	return out
}

// Sweep drops expired entries and returns how many were removed.
func (c *TTLCache[V]) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.m {
		if !e.exp.IsZero() && now.After(e.exp) {
			delete(c.m, k)
			n++
		}
	}
	return n
}
