package push

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisRelay republishes push frames on redis pub/sub so consumers outside
// this process (dashboards, other API replicas) can follow call activity.
// Each room maps to the channel prefix+room.
type RedisRelay struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisRelay(rdb redis.UniversalClient, prefix string) *RedisRelay {
	return &RedisRelay{rdb: rdb, prefix: prefix}
}

func (r *RedisRelay) Channel(room string) string { return r.prefix + room }

func (r *RedisRelay) Publish(ctx context.Context, room, event string, payload any) error {
	msg, err := NewMessage(event, payload)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := r.rdb.Publish(ctx, r.Channel(room), raw).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", room, err)
	}
	return nil
}

// Forward subscribes to every relayed room and delivers frames into hub until
// ctx is done. A replica that does not own a kiosk's connection still reaches it.
// Frames this replica published itself must not be forwarded twice, so callers
// that run Forward should publish through the relay only, not through Fanout.
func (r *RedisRelay) Forward(ctx context.Context, hub *Hub) error {
	sub := r.rdb.PSubscribe(ctx, r.prefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis psubscribe: %w", err)
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				hub.log.Warn("relay frame ignored", "channel", m.Channel, "err", err)
				continue
			}
			hub.Deliver(m.Channel[len(r.prefix):], msg)
		}
	}
}
