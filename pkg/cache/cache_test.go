package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_SetGetExpire(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCache(WithMemoryClock(func() time.Time { return now }))
	ctx := context.Background()

	type state struct {
		Status string `json:"status"`
	}
	require.NoError(t, c.Set(ctx, "breaker", state{Status: "NORMAL"}, time.Minute))
	var got state
	require.NoError(t, c.Get(ctx, "breaker", &got))
	assert.Equal(t, "NORMAL", got.Status)

	require.NoError(t, c.Set(ctx, "raw", "text", 0))
	var s string
	require.NoError(t, c.Get(ctx, "raw", &s))
	assert.Equal(t, "text", s)

	now = now.Add(2 * time.Minute)
	assert.ErrorIs(t, c.Get(ctx, "breaker", &got), ErrCacheMiss)
	require.NoError(t, c.Get(ctx, "raw", &s), "zero expiration never expires")

	require.NoError(t, c.Delete(ctx, "raw"))
	assert.ErrorIs(t, c.Get(ctx, "raw", &s), ErrCacheMiss)
}

func TestMemoryCache_LockOwnership(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCache(WithMemoryClock(func() time.Time { return now }))
	ctx := context.Background()

	ok, err := c.TryLock(ctx, "leader", "a", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = c.TryLock(ctx, "leader", "b", 10*time.Second)
	assert.False(t, ok)
	ok, _ = c.TryLock(ctx, "leader", "a", 10*time.Second)
	assert.True(t, ok, "holder refreshes")

	assert.ErrorIs(t, c.Unlock(ctx, "leader", "b"), ErrNotOwner)

	now = now.Add(11 * time.Second)
	ok, _ = c.TryLock(ctx, "leader", "b", 10*time.Second)
	assert.True(t, ok, "expired lock is free")
	require.NoError(t, c.Unlock(ctx, "leader", "b"))
	require.NoError(t, c.Unlock(ctx, "leader", "b"))
}

func TestMemoryCache_EvictsOldest(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCache(WithMemoryMaxSize(2), WithMemoryClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", "1", 0))
	now = now.Add(time.Second)
	require.NoError(t, c.Set(ctx, "b", "2", 0))
	now = now.Add(time.Second)
	var s string
	require.NoError(t, c.Get(ctx, "a", &s))
	now = now.Add(time.Second)
	require.NoError(t, c.Set(ctx, "c", "3", 0))

	assert.ErrorIs(t, c.Get(ctx, "b", &s), ErrCacheMiss)
	require.NoError(t, c.Get(ctx, "a", &s))
	require.NoError(t, c.Get(ctx, "c", &s))
}
