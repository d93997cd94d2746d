package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLedger is the shared Ledger: SET NX makes the check-and-mark atomic
// across all instances, and the key TTL bounds retention.
type RedisLedger struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisLedger(client *redis.Client, prefix string, ttl time.Duration) *RedisLedger {
	return &RedisLedger{client: client, prefix: prefix, ttl: ttl}
}

func (l *RedisLedger) MarkIfNew(ctx context.Context, conversationID, userID, clientID string) (bool, error) {
	key := fmt.Sprintf("%s:dedup:%s", l.prefix, entryKey(conversationID, userID, clientID))
	ok, err := l.client.SetNX(ctx, key, 1, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup setnx: %w", err)
	}
	return ok, nil
}
