package stream

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"study-mate/domain"
)

const reconnectDelay = time.Second

// SubscribeUpdates listens on the updates channel and notifies the broker
// until ctx is cancelled. The subscription is re-established when the
// channel closes.
func SubscribeUpdates(ctx context.Context, logger *log.Logger, rc *redis.Client, channel string, broker *Broker) {
	for {
		sub := rc.Subscribe(ctx, channel)
		consume(ctx, logger, sub.Channel(), broker)
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func consume(ctx context.Context, logger *log.Logger, ch <-chan *redis.Message, broker *Broker) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var u domain.Update
			if err := sonic.UnmarshalString(msg.Payload, &u); err != nil || u.UserID == "" {
				logger.WithField("payload", msg.Payload).Warn("unable to parse update")
				continue
			}
			broker.Notify(u.UserID, u.EntityType)
		}
	}
}
