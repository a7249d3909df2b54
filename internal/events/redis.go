package events

import (
	"context"       // Context for Redis operations
	"encoding/json" // JSON encoding
	"fmt"           // Error wrapping

	"tontine_system/internal/domain" // Event payloads

	"github.com/redis/go-redis/v9" // Redis client
)

// RedisPublisher publishes events as JSON on a Redis pub/sub channel
type RedisPublisher struct {
	rdb     *redis.Client // Redis client
	channel string        // Target channel
}

// NewRedisPublisher creates a publisher for channel
func NewRedisPublisher(rdb *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, channel: channel}
}

// Publish marshals evt and publishes it
func (p *RedisPublisher) Publish(ctx context.Context, evt domain.Event) error {
	b, err := json.Marshal(evt) // Marshal event to JSON
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.rdb.Publish(ctx, p.channel, b).Err(); err != nil {
		return fmt.Errorf("failed to publish %s: %w", evt.Type, err)
	}
	return nil
}
