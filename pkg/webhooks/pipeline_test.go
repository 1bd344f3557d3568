package webhooks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/doorstep-ai/platform/pkg/common/logger"
	"github.com/doorstep-ai/platform/pkg/common/models"
	"github.com/doorstep-ai/platform/pkg/platforms"
)

func TestMain(m *testing.M) {
	logger.Init()
	m.Run()
}

type memDedupe struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemDedupe() *memDedupe {
	return &memDedupe{seen: make(map[string]bool)}
}

func (d *memDedupe) FirstSeen(_ context.Context, platform models.Platform, eventID string, _ time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := string(platform) + ":" + eventID
	if d.seen[key] {
		return false, nil
	}
	d.seen[key] = true
	return true, nil
}

type recordingUpdater struct {
	mu      sync.Mutex
	applied []models.UnifiedDelivery
	known   map[string]bool
}

func (u *recordingUpdater) ApplyWebhookUpdate(_ context.Context, d *models.UnifiedDelivery) (bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.known != nil && !u.known[d.ExternalOrderID] {
		return false, nil
	}
	u.applied = append(u.applied, *d)
	return true, nil
}

type hookAdapter struct {
	platform models.Platform
	webhooks bool
	goodSig  string
}

func (a *hookAdapter) ID() string                  { return "hook-" + string(a.platform) }
func (a *hookAdapter) Platform() models.Platform   { return a.platform }
func (a *hookAdapter) DisplayName() string         { return string(a.platform) }
func (a *hookAdapter) OrderType() models.OrderType { return models.OrderTypeRestaurant }
func (a *hookAdapter) SupportsOAuth() bool         { return true }
func (a *hookAdapter) SupportsWebhooks() bool      { return a.webhooks }
func (a *hookAdapter) HistoricalAccuracy() int     { return 90 }

func (a *hookAdapter) OAuthURL(string, string) (string, error) { return "", nil }

func (a *hookAdapter) ExchangeCode(context.Context, string) (models.TokenSet, error) {
	return models.TokenSet{}, nil
}

func (a *hookAdapter) RefreshToken(context.Context, string) (models.TokenSet, error) {
	return models.TokenSet{}, nil
}

func (a *hookAdapter) ActiveDeliveries(context.Context, platforms.Credentials) ([]models.UnifiedDelivery, error) {
	return nil, nil
}

func (a *hookAdapter) DeliveryDetails(context.Context, platforms.Credentials, string) (*models.UnifiedDelivery, error) {
	return nil, nil
}

func (a *hookAdapter) VerifyWebhook(_ []byte, signature string) bool {
	return signature == a.goodSig
}

func (a *hookAdapter) NormalizeWebhook(event models.WebhookEvent) (*models.UnifiedDelivery, error) {
	if event.EventType == "ping" {
		return nil, nil
	}
	orderID, _ := event.Payload["order_id"].(string)
	if orderID == "" {
		return nil, nil
	}
	st, _ := event.Payload["status"].(string)
	return &models.UnifiedDelivery{
		ID:              string(a.platform) + "-" + orderID,
		UserID:          "user-1",
		Platform:        a.platform,
		ExternalOrderID: orderID,
		Status:          models.DeliveryStatus(st),
		Fetch:           models.FetchMetadata{Method: "webhook", AdapterID: a.ID()},
	}, nil
}

func (a *hookAdapter) TestConnection(context.Context, platforms.Credentials) error { return nil }
func (a *hookAdapter) RevokeToken(context.Context, platforms.Credentials) error    { return nil }

func testPipeline(updater *recordingUpdater) *Pipeline {
	registry := platforms.NewRegistry(func(models.Platform) (platforms.Adapter, bool) {
		return nil, false
	})
	registry.Override(models.PlatformDoorDash, &hookAdapter{
		platform: models.PlatformDoorDash,
		webhooks: true,
		goodSig:  "valid-sig",
	})
	registry.Override(models.PlatformWalmart, &hookAdapter{
		platform: models.PlatformWalmart,
		webhooks: false,
	})
	return NewPipeline(registry, newMemDedupe(), updater, nil, time.Hour)
}

func TestProcessIdempotence(t *testing.T) {
	updater := &recordingUpdater{}
	pipeline := testPipeline(updater)

	payload := []byte(`{"event_id":"evt-1","event_type":"delivery_update","order_id":"111","status":"out_for_delivery"}`)

	first, err := pipeline.Process(context.Background(), "doordash", payload, "valid-sig", "10.0.0.1")
	if err != nil {
		t.Fatalf("first Process: %v", err)
	}
	if !first.Received || !first.Processed || first.Duplicate {
		t.Fatalf("first result = %+v", first)
	}
	if len(updater.applied) != 1 {
		t.Fatalf("updates applied = %d, want 1", len(updater.applied))
	}
	if updater.applied[0].Status != models.StatusOutForDelivery {
		t.Errorf("applied status = %s", updater.applied[0].Status)
	}

	second, err := pipeline.Process(context.Background(), "doordash", payload, "valid-sig", "10.0.0.1")
	if err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if !second.Received || !second.Duplicate || second.Processed {
		t.Fatalf("second result = %+v", second)
	}
	if len(updater.applied) != 1 {
		t.Errorf("duplicate event reached the updater, applied = %d", len(updater.applied))
	}
}

func TestProcessRejectsBadSignature(t *testing.T) {
	pipeline := testPipeline(&recordingUpdater{})

	payload := []byte(`{"event_id":"evt-2","order_id":"111","status":"delivered"}`)
	_, err := pipeline.Process(context.Background(), "doordash", payload, "wrong-sig", "10.0.0.1")
	if !platforms.IsSignatureInvalid(err) {
		t.Fatalf("expected signature error, got %v", err)
	}

	_, err = pipeline.Process(context.Background(), "doordash", payload, "", "10.0.0.1")
	if !platforms.IsSignatureInvalid(err) {
		t.Fatalf("missing signature accepted: %v", err)
	}
}

func TestProcessRejectsUnknownOrNonWebhookPlatform(t *testing.T) {
	pipeline := testPipeline(&recordingUpdater{})
	payload := []byte(`{"event_id":"evt-3"}`)

	if _, err := pipeline.Process(context.Background(), "grubhub", payload, "valid-sig", "10.0.0.1"); !platforms.IsUnsupportedPlatform(err) {
		t.Fatalf("unknown platform accepted: %v", err)
	}
	if _, err := pipeline.Process(context.Background(), "walmart", payload, "valid-sig", "10.0.0.1"); !platforms.IsUnsupportedPlatform(err) {
		t.Fatalf("webhook-less platform accepted: %v", err)
	}
}

func TestProcessRejectsMalformedPayload(t *testing.T) {
	pipeline := testPipeline(&recordingUpdater{})

	_, err := pipeline.Process(context.Background(), "doordash", []byte("not-json"), "valid-sig", "10.0.0.1")
	if !platforms.IsPlatformData(err) {
		t.Fatalf("expected data error, got %v", err)
	}
}

func TestProcessAcceptsPingWithoutApplying(t *testing.T) {
	updater := &recordingUpdater{}
	pipeline := testPipeline(updater)

	payload := []byte(`{"event_id":"evt-4","event_type":"ping"}`)
	result, err := pipeline.Process(context.Background(), "doordash", payload, "valid-sig", "10.0.0.1")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !result.Received || result.Processed {
		t.Fatalf("ping result = %+v", result)
	}
	if len(updater.applied) != 0 {
		t.Error("ping reached the updater")
	}
}

func TestProcessUnknownOrderAcceptedNotProcessed(t *testing.T) {
	updater := &recordingUpdater{known: map[string]bool{}}
	pipeline := testPipeline(updater)

	payload := []byte(`{"event_id":"evt-5","order_id":"untracked","status":"delivered"}`)
	result, err := pipeline.Process(context.Background(), "doordash", payload, "valid-sig", "10.0.0.1")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !result.Received || result.Processed {
		t.Fatalf("untracked order result = %+v", result)
	}
}

func TestProcessRateLimit(t *testing.T) {
	updater := &recordingUpdater{}
	registry := platforms.NewRegistry(func(models.Platform) (platforms.Adapter, bool) {
		return nil, false
	})
	registry.Override(models.PlatformDoorDash, &hookAdapter{
		platform: models.PlatformDoorDash,
		webhooks: true,
		goodSig:  "valid-sig",
	})
	pipeline := NewPipeline(registry, newMemDedupe(), updater, NewBucketLimiter(1, 2), time.Hour)

	payload := func(i byte) []byte {
		return []byte(`{"event_id":"evt-rl-` + string('0'+i) + `","event_type":"ping"}`)
	}

	for i := byte(0); i < 2; i++ {
		if _, err := pipeline.Process(context.Background(), "doordash", payload(i), "valid-sig", "10.1.1.1"); err != nil {
			t.Fatalf("request %d inside burst rejected: %v", i, err)
		}
	}
	if _, err := pipeline.Process(context.Background(), "doordash", payload(3), "valid-sig", "10.1.1.1"); !platforms.IsRateLimited(err) {
		t.Fatalf("expected rate limit, got %v", err)
	}
	// A different source still has its own budget.
	if _, err := pipeline.Process(context.Background(), "doordash", payload(4), "valid-sig", "10.2.2.2"); err != nil {
		t.Fatalf("independent source rejected: %v", err)
	}
}

func TestBucketLimiterRefills(t *testing.T) {
	limiter := NewBucketLimiter(100, 1)
	if !limiter.Allow("src") {
		t.Fatal("first request rejected")
	}
	if limiter.Allow("src") {
		t.Fatal("burst of 1 allowed a second immediate request")
	}
	time.Sleep(30 * time.Millisecond)
	if !limiter.Allow("src") {
		t.Fatal("bucket did not refill")
	}
}
