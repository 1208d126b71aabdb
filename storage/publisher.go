package storage

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"study-mate/domain"
)

// Publisher announces changes on the Redis updates channel.
type Publisher struct {
	redis   *redis.Client
	channel string
}

// NewPublisher creates a publisher for channel.
func NewPublisher(client *redis.Client, channel string) *Publisher {
	return &Publisher{redis: client, channel: channel}
}

// Publish sends the update.
func (p *Publisher) Publish(ctx context.Context, u domain.Update) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return p.redis.Publish(ctx, p.channel, data).Err()
}
