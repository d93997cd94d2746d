package presence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTracker keeps a per-user set of live connection ids plus a presence
// document. The TTL bounds leakage from crashed instances that never ran
// their disconnects; a reconnecting user refreshes it.
type RedisTracker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisTracker(client *redis.Client, prefix string, ttl time.Duration) *RedisTracker {
	return &RedisTracker{client: client, prefix: prefix, ttl: ttl, now: time.Now}
}

func (t *RedisTracker) connKey(userID string) string {
	return t.prefix + ":conns:" + userID
}

func (t *RedisTracker) presenceKey(userID string) string {
	return t.prefix + ":presence:" + userID
}

func (t *RedisTracker) Connected(ctx context.Context, userID, connID string) error {
	pipe := t.client.TxPipeline()
	pipe.SAdd(ctx, t.connKey(userID), connID)
	pipe.Expire(ctx, t.connKey(userID), t.ttl)
	doc, _ := json.Marshal(Info{Status: Online, LastSeen: t.now().UTC()})
	pipe.Set(ctx, t.presenceKey(userID), doc, t.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (t *RedisTracker) Disconnected(ctx context.Context, userID, connID string) error {
	if err := t.client.SRem(ctx, t.connKey(userID), connID).Err(); err != nil {
		return err
	}
	remaining, err := t.client.SCard(ctx, t.connKey(userID)).Result()
	if err != nil || remaining > 0 {
		return err
	}
	doc, _ := json.Marshal(Info{Status: Offline, LastSeen: t.now().UTC()})
	return t.client.Set(ctx, t.presenceKey(userID), doc, t.ttl).Err()
}

func (t *RedisTracker) Get(ctx context.Context, userID string) (Info, error) {
	raw, err := t.client.Get(ctx, t.presenceKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Info{Status: Offline}, nil
	}
	if err != nil {
		return Info{}, err
	}
	var info Info
	if err := json.Unmarshal(raw, &info); err != nil {
		return Info{}, err
	}
	return info, nil
}
