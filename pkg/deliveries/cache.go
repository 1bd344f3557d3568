package deliveries

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/doorstep-ai/platform/pkg/common/logger"
	"github.com/doorstep-ai/platform/pkg/common/models"
	"github.com/redis/go-redis/v9"
)

var ErrCacheMiss = errors.New("delivery not cached")

// StatusTransition is one step in a delivery's observed lifecycle. The
// accumulated timeline travels with the cached snapshot and is persisted to
// history when the delivery reaches a terminal status.
type StatusTransition struct {
	From models.DeliveryStatus `json:"from,omitempty"`
	To   models.DeliveryStatus `json:"to"`
	At   time.Time             `json:"at"`
}

// Entry is the cached snapshot: the delivery plus its transition timeline.
type Entry struct {
	Delivery models.UnifiedDelivery `json:"delivery"`
	Timeline []StatusTransition     `json:"timeline,omitempty"`
}

// Cache holds live delivery snapshots in redis. Entries expire on their own;
// an expired entry is indistinguishable from a miss, which forces the next
// read through to the upstream.
type Cache struct {
	client     *redis.Client
	ttl        time.Duration
	sessionTTL time.Duration
}

func NewCache(client *redis.Client, ttl, sessionTTL time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	if sessionTTL <= 0 {
		sessionTTL = 45 * time.Second
	}
	return &Cache{client: client, ttl: ttl, sessionTTL: sessionTTL}
}

func deliveryKey(userID string, platform models.Platform, externalID string) string {
	return fmt.Sprintf("delivery:%s:%s:%s", userID, platform, externalID)
}

func userIndexKey(userID string) string {
	return "deliveries:user:" + userID
}

func ownerKey(platform models.Platform, externalID string) string {
	return fmt.Sprintf("delivery:owner:%s:%s", platform, externalID)
}

// TTLFor picks the snapshot lifetime. Session-proxy data goes stale faster
// than direct API data, so those entries live shorter.
func (c *Cache) TTLFor(sessionBacked bool) time.Duration {
	if sessionBacked {
		return c.sessionTTL
	}
	return c.ttl
}

func (c *Cache) Put(ctx context.Context, entry Entry, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	d := entry.Delivery
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling delivery snapshot: %w", err)
	}

	key := deliveryKey(d.UserID, d.Platform, d.ExternalOrderID)
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, key, payload, ttl)
	// Owner index: webhook payloads identify the order, not the user.
	pipe.Set(ctx, ownerKey(d.Platform, d.ExternalOrderID), d.UserID, ttl)
	pipe.SAdd(ctx, userIndexKey(d.UserID), key)
	// The index only needs to outlive its newest member.
	pipe.Expire(ctx, userIndexKey(d.UserID), c.ttl*2)
	_, err = pipe.Exec(ctx)
	return err
}

// Owner resolves which user a live delivery belongs to. Misses once the
// snapshot has expired, which is exactly when updates should be dropped.
func (c *Cache) Owner(ctx context.Context, platform models.Platform, externalID string) (string, error) {
	userID, err := c.client.Get(ctx, ownerKey(platform, externalID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	return userID, err
}

func (c *Cache) Get(ctx context.Context, userID string, platform models.Platform, externalID string) (*Entry, error) {
	raw, err := c.client.Get(ctx, deliveryKey(userID, platform, externalID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("unmarshaling cached delivery: %w", err)
	}
	return &entry, nil
}

// ListByUser returns every live cached entry for the user and prunes index
// members whose snapshots have expired.
func (c *Cache) ListByUser(ctx context.Context, userID string) ([]Entry, error) {
	keys, err := c.client.SMembers(ctx, userIndexKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	var (
		entries []Entry
		stale   []interface{}
	)
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			stale = append(stale, keys[i])
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			logger.WithField("key", keys[i]).WithError(err).Warn("dropping unreadable cached delivery")
			stale = append(stale, keys[i])
			continue
		}
		entries = append(entries, entry)
	}

	if len(stale) > 0 {
		if err := c.client.SRem(ctx, userIndexKey(userID), stale...).Err(); err != nil {
			logger.WithError(err).Warn("pruning delivery index")
		}
	}
	return entries, nil
}

func (c *Cache) Remove(ctx context.Context, userID string, platform models.Platform, externalID string) error {
	key := deliveryKey(userID, platform, externalID)
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.Del(ctx, ownerKey(platform, externalID))
	pipe.SRem(ctx, userIndexKey(userID), key)
	_, err := pipe.Exec(ctx)
	return err
}
