package notify

import (
	"context"
	"fmt"
	"time"

	"solana-forensics/internal/core/domain"

	goredis "github.com/redis/go-redis/v9"
)

// RedisPublisher PUBLISHes alert envelopes on a pub/sub channel for live
// dashboards. Having no subscribers is not an error.
type RedisPublisher struct {
	client  *goredis.Client
	channel string
	now     func() time.Time
}

func NewRedisPublisher(client *goredis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel, now: time.Now}
}

func (p *RedisPublisher) Name() string { return ChannelRedis }

func (p *RedisPublisher) Notify(ctx context.Context, a *domain.Alert) error {
	body, err := encodeAlert(a, p.now())
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.channel, body).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}
