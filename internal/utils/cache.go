package utils

import (
	"context"       // Context for Redis operations
	"encoding/json" // JSON encoding/decoding
	"fmt"           // Key formatting
	"time"          // Time durations

	"github.com/redis/go-redis/v9" // Redis client
)

// Cache is a JSON read cache on Redis. A Cache without a client is a no-op,
// so callers never branch on whether Redis is configured.
type Cache struct {
	rdb *redis.Client // Redis client, may be nil
	ttl time.Duration // Entry lifetime
}

// NewCache creates a cache with entries living for ttl
func NewCache(rdb *redis.Client, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl}
}

// RoundStatusKey is the cache key of a round's status
func RoundStatusKey(tontineID uint, roundNumber int) string {
	return fmt.Sprintf("tontine:%d:round:%d:status", tontineID, roundNumber)
}

// Get retrieves a value from Redis and unmarshals it into dest
func (c *Cache) Get(ctx context.Context, key string, dest any) (bool, error) {
	if c == nil || c.rdb == nil {
		return false, nil
	}
	val, err := c.rdb.Get(ctx, key).Result() // Get value from Redis
	if err == redis.Nil {
		return false, nil // Key does not exist
	} else if err != nil {
		return false, err // Other Redis error
	}
	return true, json.Unmarshal([]byte(val), dest) // Unmarshal JSON into dest
}

// TTL is the default entry lifetime
func (c *Cache) TTL() time.Duration {
	if c == nil {
		return 0
	}
	return c.ttl
}

// Set stores value as JSON with the cache TTL
func (c *Cache) Set(ctx context.Context, key string, value any) error {
	return c.SetFor(ctx, key, value, c.TTL())
}

// SetFor stores value as JSON for ttl; a non-positive ttl stores nothing
func (c *Cache) SetFor(ctx context.Context, key string, value any, ttl time.Duration) error {
	if c == nil || c.rdb == nil || ttl <= 0 {
		return nil
	}
	b, err := json.Marshal(value) // Marshal value to JSON
	if err != nil {
		return err // Return error if marshaling fails
	}
	return c.rdb.Set(ctx, key, b, ttl).Err() // Set value in Redis with TTL
}

// Delete removes keys from Redis
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if c == nil || c.rdb == nil || len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err() // Delete keys from Redis
}
