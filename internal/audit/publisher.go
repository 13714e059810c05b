package audit

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher publishes audit payloads on Redis Pub/Sub channels.
// Delivery is at most once: messages with no subscriber are lost.
type RedisPublisher struct {
	client redis.UniversalClient
}

func NewRedisPublisher(client redis.UniversalClient) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	return p.client.Publish(ctx, topic, payload).Err()
}

// NopPublisher discards payloads. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, []byte) error { return nil }
