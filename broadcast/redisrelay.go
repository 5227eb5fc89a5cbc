package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/nightscape/holon/change"
	"github.com/nightscape/holon/holonlog"
)

// RedisRelay mirrors batches published on a Hub onto a Redis pub/sub
// channel, so a second process on the same Redis instance can observe
// the same change stream (e.g. a secondary cache replica, or a
// monitoring tool) without holding an in-process Subscription.
//
// Grounded directly on the teacher's db/repository/redis.go
// Publish/Subscribe pair (marshal-to-JSON, client.Publish /
// client.Subscribe + pubsub.Channel()).
type RedisRelay[T any] struct {
	client  *redis.Client
	channel string
}

// NewRedisRelay dials url (a redis:// URL, as parsed by redis.ParseURL)
// and prepares to relay onto channel.
func NewRedisRelay[T any](url, channel string) (*RedisRelay[T], error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("broadcast: parse redis url: %w", err)
	}
	return &RedisRelay[T]{client: redis.NewClient(opts), channel: channel}, nil
}

// Close releases the underlying Redis client.
func (r *RedisRelay[T]) Close() error { return r.client.Close() }

// Forward subscribes to hub and republishes every batch onto Redis until
// ctx is cancelled. Intended to run in its own goroutine.
func (r *RedisRelay[T]) Forward(ctx context.Context, hub *Hub[T]) {
	sub := hub.Subscribe()
	defer sub.Unsubscribe()

	log := holonlog.For("broadcast.redisrelay")
	for {
		ev, err := sub.Recv(ctx)
		if err != nil {
			return
		}
		if ev.Lagged > 0 {
			log.WithField("lagged", ev.Lagged).Warn("redis relay lagged behind hub, gap not retransmitted")
			continue
		}
		data, err := json.Marshal(ev.Batch)
		if err != nil {
			log.WithError(err).Error("marshal batch for redis relay")
			continue
		}
		if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
			log.WithError(err).Error("publish batch to redis")
		}
	}
}

// Subscribe opens a Redis pub/sub subscription and decodes incoming
// payloads back into Batch[T], mirroring
// db/repository.RedisRepository.Subscribe's wait-for-confirmation +
// forwarding-goroutine shape.
func (r *RedisRelay[T]) Subscribe(ctx context.Context) (<-chan change.Batch[T], error) {
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("broadcast: subscribe to %s: %w", r.channel, err)
	}

	out := make(chan change.Batch[T])
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		log := holonlog.For("broadcast.redisrelay")
		for {
			select {
			case msg := <-ch:
				if msg == nil {
					return
				}
				var batch change.Batch[T]
				if err := json.Unmarshal([]byte(msg.Payload), &batch); err != nil {
					log.WithError(err).Error("decode batch from redis relay")
					continue
				}
				select {
				case out <- batch:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}
