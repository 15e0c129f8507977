package events

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// RedisPublisher sends each event on a pub/sub channel. Subscribers that are
// not connected at publish time miss the event.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
}

// NewRedisPublisher publishes on channel using an already pinged client.
func NewRedisPublisher(rdb *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Type, err)
	}
	if err := p.rdb.Publish(ctx, p.channel, value).Err(); err != nil {
		return fmt.Errorf("publish %s to redis: %w", ev.Type, err)
	}
	return nil
}

func (p *RedisPublisher) Close() error { return p.rdb.Close() }
