package bus

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/gebre-tech/backend/internal/domain"
)

// envelope wraps a mirrored event with the publishing instance's id so a
// bridge can ignore its own publishes when they come back around.
type envelope struct {
	Origin string          `json:"origin"`
	Event  json.RawMessage `json:"event"`
}

// RedisBridge mirrors local publishes to Redis pub/sub and feeds publishes
// from other instances into the local hub. Delivery within the process group
// is at-least-once; event ids let clients deduplicate.
type RedisBridge struct {
	client *redis.Client
	prefix string
	origin string
	hub    *Hub
	log    *zap.SugaredLogger
}

func NewRedisBridge(client *redis.Client, prefix string, hub *Hub, log *zap.SugaredLogger) *RedisBridge {
	b := &RedisBridge{
		client: client,
		prefix: prefix,
		origin: uuid.NewString(),
		hub:    hub,
		log:    log,
	}
	hub.SetMirror(b.publish)
	return b
}

func (b *RedisBridge) redisChannel(channel string) string {
	return b.prefix + ":" + channel
}

func (b *RedisBridge) publish(ctx context.Context, channel string, payload []byte) error {
	env := envelope{Origin: b.origin, Event: payload}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.redisChannel(channel), data).Err()
}

// Run consumes mirrored events until ctx is cancelled. It is meant to be
// started once as a background goroutine from main.
func (b *RedisBridge) Run(ctx context.Context) error {
	pattern := b.redisChannel("conversation:*")
	sub := b.client.PSubscribe(ctx, pattern)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.handle(msg)
		}
	}
}

func (b *RedisBridge) handle(msg *redis.Message) {
	var env envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		b.log.Warnw("bridge: bad envelope", "channel", msg.Channel, "err", err)
		return
	}
	if env.Origin == b.origin {
		return
	}
	var ev domain.Event
	if err := json.Unmarshal(env.Event, &ev); err != nil {
		b.log.Warnw("bridge: bad event", "channel", msg.Channel, "err", err)
		return
	}
	local := strings.TrimPrefix(msg.Channel, b.prefix+":")
	b.hub.DeliverLocal(local, &ev)
}
