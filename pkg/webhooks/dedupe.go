package webhooks

import (
	"context"
	"fmt"
	"time"

	"github.com/doorstep-ai/platform/pkg/common/models"
	"github.com/redis/go-redis/v9"
)

// DedupeStore answers "is this the first time we have seen this event".
// First writer wins; every later caller gets false for the lifetime of the
// key.
type DedupeStore interface {
	FirstSeen(ctx context.Context, platform models.Platform, eventID string, ttl time.Duration) (bool, error)
}

type RedisDedupeStore struct {
	client *redis.Client
}

func NewRedisDedupeStore(client *redis.Client) *RedisDedupeStore {
	return &RedisDedupeStore{client: client}
}

func dedupeKey(platform models.Platform, eventID string) string {
	return fmt.Sprintf("webhook:%s:%s", platform, eventID)
}

func (s *RedisDedupeStore) FirstSeen(ctx context.Context, platform models.Platform, eventID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return s.client.SetNX(ctx, dedupeKey(platform, eventID), "1", ttl).Result()
}
