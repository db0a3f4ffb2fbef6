package cache

import (
	"context"
	"sync"
	"time"
)

type memoryItem struct {
	data     []byte
	expireAt time.Time // zero: no expiry
	touched  time.Time
}

func (m memoryItem) expired(now time.Time) bool {
	return !m.expireAt.IsZero() && now.After(m.expireAt)
}

// MemoryCache implements Store in process. It backs the session store when Redis is disabled
// and evicts the least recently touched key when full.
type MemoryCache struct {
	mu      sync.Mutex
	data    map[string]memoryItem
	maxSize int
	now     func() time.Time
}

func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &MemoryConfig{MaxSize: 1000, Now: time.Now}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &MemoryCache{data: make(map[string]memoryItem), maxSize: cfg.MaxSize, now: cfg.Now}
}

func (mc *MemoryCache) Set(_ context.Context, key string, value any, expiration time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.put(key, data, expiration)
	return nil
}

func (mc *MemoryCache) put(key string, data []byte, expiration time.Duration) {
	now := mc.now()
	if _, ok := mc.data[key]; !ok && mc.maxSize > 0 && len(mc.data) >= mc.maxSize {
		mc.evict(now)
	}
	item := memoryItem{data: append([]byte(nil), data...), touched: now}
	if expiration > 0 {
		item.expireAt = now.Add(expiration)
	}
	mc.data[key] = item
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest any) error {
	mc.mu.Lock()
	now := mc.now()
	item, ok := mc.data[key]
	if ok && item.expired(now) {
		delete(mc.data, key)
		ok = false
	}
	if ok {
		item.touched = now
		mc.data[key] = item
	}
	mc.mu.Unlock()
	if !ok {
		return ErrCacheMiss
	}
	return decode(item.data, dest)
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, key := range keys {
		delete(mc.data, key)
	}
	return nil
}

func (mc *MemoryCache) TryLock(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if item, ok := mc.data[key]; ok && !item.expired(mc.now()) && string(item.data) != owner {
		return false, nil
	}
	mc.put(key, []byte(owner), ttl)
	return true, nil
}

func (mc *MemoryCache) Unlock(_ context.Context, key, owner string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	item, ok := mc.data[key]
	if !ok || item.expired(mc.now()) {
		delete(mc.data, key)
		return nil
	}
	if string(item.data) != owner {
		return ErrNotOwner
	}
	delete(mc.data, key)
	return nil
}

func (mc *MemoryCache) Close() error { return nil }

// evict drops expired keys, or the least recently touched one if none expired.
func (mc *MemoryCache) evict(now time.Time) {
	var oldestKey string
	var oldest time.Time
	dropped := false
	for k, item := range mc.data {
		if item.expired(now) {
			delete(mc.data, k)
			dropped = true
			continue
		}
		if oldestKey == "" || item.touched.Before(oldest) {
			oldestKey, oldest = k, item.touched
		}
	}
	if !dropped && oldestKey != "" {
		delete(mc.data, oldestKey)
	}
}

var (
	_ Store = (*MemoryCache)(nil)
	_ Store = (*RedisCache)(nil)
)
