package webhooks

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/doorstep-ai/platform/pkg/common/logger"
	"github.com/doorstep-ai/platform/pkg/common/models"
	"github.com/doorstep-ai/platform/pkg/platforms"
)

// Result is the acknowledgement returned to the sending platform.
// Received=true with Processed=false covers the deliberately tolerated
// cases: duplicates, pings, and events for orders we are not tracking.
type Result struct {
	Received  bool `json:"received"`
	Duplicate bool `json:"duplicate,omitempty"`
	Processed bool `json:"processed"`
}

// DeliveryUpdater applies a normalized webhook delivery to live state.
// Returns false when no tracked delivery matches; webhooks never create
// deliveries.
type DeliveryUpdater interface {
	ApplyWebhookUpdate(ctx context.Context, d *models.UnifiedDelivery) (bool, error)
}

// SourceLimiter budgets inbound requests per source address.
type SourceLimiter interface {
	Allow(source string) bool
}

type Pipeline struct {
	registry  *platforms.Registry
	dedupe    DedupeStore
	updater   DeliveryUpdater
	limiter   SourceLimiter
	dedupeTTL time.Duration
}

func NewPipeline(registry *platforms.Registry, dedupe DedupeStore, updater DeliveryUpdater, limiter SourceLimiter, dedupeTTL time.Duration) *Pipeline {
	return &Pipeline{
		registry:  registry,
		dedupe:    dedupe,
		updater:   updater,
		limiter:   limiter,
		dedupeTTL: dedupeTTL,
	}
}

// Process runs one inbound webhook through the full chain: rate check,
// platform validation, signature verification, dedupe, normalization,
// state update. The error (when non-nil) carries the rejection reason;
// the Result is only meaningful on a nil error.
func (p *Pipeline) Process(ctx context.Context, platformKey string, payload []byte, signature, remoteAddr string) (Result, error) {
	if p.limiter != nil && !p.limiter.Allow(remoteAddr) {
		return Result{}, &platforms.RateLimitedError{RetryAfterSeconds: 1}
	}

	adapter, err := p.registry.Get(platformKey)
	if err != nil {
		return Result{}, err
	}
	if !adapter.SupportsWebhooks() {
		return Result{}, &platforms.UnsupportedPlatformError{Platform: platformKey}
	}

	log := logger.WithPlatform(string(adapter.Platform()))

	// Signature before parsing: unauthenticated bytes get no parser time.
	if !adapter.VerifyWebhook(payload, signature) {
		return Result{}, &platforms.SignatureInvalidError{Platform: adapter.Platform()}
	}

	var body map[string]interface{}
	if err := json.Unmarshal(payload, &body); err != nil {
		return Result{}, &platforms.PlatformDataError{
			Platform: adapter.Platform(),
			Reason:   "payload is not a json object",
			Err:      err,
		}
	}

	event := platforms.ParseWebhookEvent(adapter.Platform(), body)

	first, err := p.dedupe.FirstSeen(ctx, event.Platform, event.EventID, p.dedupeTTL)
	if err != nil {
		return Result{}, err
	}
	if !first {
		log.WithField("event_id", event.EventID).Debug("duplicate webhook dropped")
		return Result{Received: true, Duplicate: true, Processed: false}, nil
	}

	delivery, err := adapter.NormalizeWebhook(event)
	if err != nil {
		return Result{}, err
	}
	if delivery == nil {
		// Well-formed but carrying nothing actionable (ping, test event).
		return Result{Received: true, Processed: false}, nil
	}

	applied, err := p.updater.ApplyWebhookUpdate(ctx, delivery)
	if err != nil {
		return Result{}, err
	}
	if !applied {
		log.WithField("order_id", delivery.ExternalOrderID).Debug("webhook for untracked order ignored")
		return Result{Received: true, Processed: false}, nil
	}

	log.WithFields(map[string]interface{}{
		"event_id": event.EventID,
		"order_id": delivery.ExternalOrderID,
		"status":   delivery.Status,
	}).Info("webhook applied")
	return Result{Received: true, Processed: true}, nil
}

// BucketLimiter is a per-source token bucket. Buckets are created on first
// sight and refilled lazily on each check.
type BucketLimiter struct {
	mu      sync.Mutex
	rps     int
	burst   int
	buckets map[string]*bucket
}

type bucket struct {
	tokens float64
	last   time.Time
}

func NewBucketLimiter(rps, burst int) *BucketLimiter {
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = rps
	}
	return &BucketLimiter{
		rps:     rps,
		burst:   burst,
		buckets: make(map[string]*bucket),
	}
}

func (l *BucketLimiter) Allow(source string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[source]
	if !ok {
		b = &bucket{tokens: float64(l.burst), last: now}
		l.buckets[source] = b
	}

	b.tokens += now.Sub(b.last).Seconds() * float64(l.rps)
	if b.tokens > float64(l.burst) {
		b.tokens = float64(l.burst)
	}
	b.last = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
