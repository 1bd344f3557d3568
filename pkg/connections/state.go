package connections

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/doorstep-ai/platform/pkg/common/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrStateInvalid = errors.New("oauth state invalid or already used")

// StateStore issues and consumes the anti-CSRF nonce binding an OAuth
// handshake to (user, platform). Single use with a short TTL: the callback
// deletes the nonce on first consumption, so a replayed callback fails.
type StateStore interface {
	Create(ctx context.Context, userID string, platform models.Platform) (string, error)
	Consume(ctx context.Context, nonce string) (string, models.Platform, error)
}

type statePayload struct {
	UserID   string          `json:"user_id"`
	Platform models.Platform `json:"platform"`
}

type RedisStateStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStateStore(client *redis.Client, ttl time.Duration) *RedisStateStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisStateStore{client: client, ttl: ttl}
}

func stateKey(nonce string) string {
	return "oauth:state:" + nonce
}

func (s *RedisStateStore) Create(ctx context.Context, userID string, platform models.Platform) (string, error) {
	nonce := uuid.New().String()
	payload, err := json.Marshal(statePayload{UserID: userID, Platform: platform})
	if err != nil {
		return "", err
	}
	if err := s.client.Set(ctx, stateKey(nonce), payload, s.ttl).Err(); err != nil {
		return "", err
	}
	return nonce, nil
}

func (s *RedisStateStore) Consume(ctx context.Context, nonce string) (string, models.Platform, error) {
	if nonce == "" {
		return "", "", ErrStateInvalid
	}

	// GETDEL makes consumption atomic: two racing callbacks cannot both
	// observe the nonce.
	raw, err := s.client.GetDel(ctx, stateKey(nonce)).Result()
	if errors.Is(err, redis.Nil) {
		return "", "", ErrStateInvalid
	}
	if err != nil {
		return "", "", err
	}

	var payload statePayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return "", "", ErrStateInvalid
	}
	return payload.UserID, payload.Platform, nil
}
