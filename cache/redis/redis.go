package redis

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Matches the in-process bus so a busy room behaves the same on either.
const subscriberBufferSize = 1024

type RedisBus struct {
	client redis.UniversalClient
	log    *logrus.Entry
}

func NewRedisBus(ctx context.Context, devMode bool, redisEndpoint string) (*RedisBus, error) {
	opts := &redis.Options{Addr: redisEndpoint}
	if !devMode {
		// AWS elasticache endpoints require TLS
		opts.TLSConfig = &tls.Config{}
	}
	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return NewRedisBusFromClient(client), nil
}

func NewRedisBusFromClient(client redis.UniversalClient) *RedisBus {
	return &RedisBus{client: client, log: logrus.WithField("component", "redis_bus")}
}

func (bus *RedisBus) Publish(ctx context.Context, channel string, message []byte) error {
	if err := bus.client.Publish(ctx, channel, message).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

func (bus *RedisBus) Subscribe(ctx context.Context, channel string, handler func(message []byte)) error {
	pubsub := bus.client.Subscribe(ctx, channel)
	// Ensure subscription is established
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return err
	}

	ch := pubsub.Channel(redis.WithChannelSize(subscriberBufferSize))

	go func() {
		defer pubsub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					bus.log.WithField("channel", channel).Warn("pubsub channel closed")
					return
				}
				handler([]byte(msg.Payload))
			}
		}
	}()

	return nil
}

func (bus *RedisBus) Close() error {
	return bus.client.Close()
}
