package connections

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RefreshLocker marks a refresh as in flight across processes so only one
// call reaches the upstream token endpoint per connection.
type RefreshLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type RedisRefreshLocker struct {
	client *redis.Client
}

func NewRedisRefreshLocker(client *redis.Client) *RedisRefreshLocker {
	return &RedisRefreshLocker{client: client}
}

func lockKey(key string) string {
	return "refresh:lock:" + key
}

func (l *RedisRefreshLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, lockKey(key), "1", ttl).Result()
}

func (l *RedisRefreshLocker) Release(ctx context.Context, key string) error {
	return l.client.Del(ctx, lockKey(key)).Err()
}
