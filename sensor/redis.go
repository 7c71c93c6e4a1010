package sensor

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisSource reads JSON events from a pub/sub channel.
type RedisSource struct {
	addr    string
	channel string
	logger  *zap.Logger
}

func NewRedisSource(addr, channel string, logger *zap.Logger) *RedisSource {
	return &RedisSource{addr: addr, channel: channel, logger: logger}
}

func (r *RedisSource) Name() string { return "redis" }

// Run waits for the server with exponential backoff, subscribes, and
// forwards payloads until ctx is cancelled. go-redis re-subscribes after
// dropped connections.
func (r *RedisSource) Run(ctx context.Context, sink Sink) error {
	client := redis.NewClient(&redis.Options{Addr: r.addr})
	defer client.Close()

	ping := func() error { return client.Ping(ctx).Err() }
	notify := func(err error, next time.Duration) {
		r.logger.Warn("redis unavailable, retrying", zap.String("addr", r.addr), zap.Error(err), zap.Duration("next", next))
	}
	if err := backoff.RetryNotify(ping, backoff.WithContext(backoff.NewExponentialBackOff(), ctx), notify); err != nil {
		return err
	}

	pubsub := client.Subscribe(ctx, r.channel)
	defer func() {
		if err := pubsub.Close(); err != nil {
			r.logger.Debug("closing redis pubsub", zap.Error(err))
		}
	}()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %s: %w", r.channel, err)
	}
	r.logger.Info("redis subscribed", zap.String("addr", r.addr), zap.String("channel", r.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			sink.Deliver(r.Name(), []byte(msg.Payload))
		}
	}
}
