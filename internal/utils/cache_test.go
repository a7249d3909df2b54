package utils

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type status struct {
	Round int    `json:"round"`
	State string `json:"state"`
}

func TestCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	ctx := context.Background()
	cache := NewCache(rdb, time.Minute)
	key := RoundStatusKey(3, 2)
	assert.Equal(t, "tontine:3:round:2:status", key)

	var got status
	found, err := cache.Get(ctx, key, &got)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, cache.Set(ctx, key, status{Round: 2, State: "open"}))
	found, err = cache.Get(ctx, key, &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, status{Round: 2, State: "open"}, got)

	mr.FastForward(2 * time.Minute)
	found, err = cache.Get(ctx, key, &got)
	require.NoError(t, err)
	assert.False(t, found, "entries expire after the ttl")

	require.NoError(t, cache.Set(ctx, key, status{Round: 2}))
	require.NoError(t, cache.Delete(ctx, key, RoundStatusKey(3, 3)))
	assert.False(t, mr.Exists(key))
}

func TestDisabledCache(t *testing.T) {
	ctx := context.Background()
	for _, cache := range []*Cache{nil, NewCache(nil, time.Minute)} {
		var got status
		found, err := cache.Get(ctx, "k", &got)
		require.NoError(t, err)
		assert.False(t, found)
		assert.NoError(t, cache.Set(ctx, "k", got))
		assert.NoError(t, cache.Delete(ctx, "k"))
	}
}

func TestCacheSetFor(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	ctx := context.Background()
	cache := NewCache(rdb, time.Hour)

	require.NoError(t, cache.SetFor(ctx, "short", status{Round: 1}, 5*time.Second))
	assert.Equal(t, 5*time.Second, mr.TTL("short"))

	require.NoError(t, cache.SetFor(ctx, "none", status{Round: 1}, 0))
	assert.False(t, mr.Exists("none"))
	assert.Equal(t, time.Hour, cache.TTL())
}
