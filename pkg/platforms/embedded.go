package platforms

import (
	"context"
	"fmt"
	"net/url"

	"github.com/doorstep-ai/platform/pkg/common/logger"
	"github.com/doorstep-ai/platform/pkg/common/models"
	"github.com/doorstep-ai/platform/pkg/status"
)

// embeddedSessionAdapter serves platforms with no partner API at all. The
// credential is a browser session captured client-side (cookie header
// blob); there is no OAuth and no webhook channel, and the session dies
// whenever the upstream invalidates it.
type embeddedSessionAdapter struct {
	cfg        adapterConfig
	client     *upstreamClient
	normalizer *status.Normalizer
}

func newEmbeddedSessionAdapter(cfg adapterConfig, normalizer *status.Normalizer) *embeddedSessionAdapter {
	return &embeddedSessionAdapter{
		cfg:        cfg,
		client:     newUpstreamClient(cfg.Platform, cfg.Timeout),
		normalizer: normalizer,
	}
}

func (a *embeddedSessionAdapter) ID() string                  { return string(a.cfg.Platform) + "-embedded" }
func (a *embeddedSessionAdapter) Platform() models.Platform   { return a.cfg.Platform }
func (a *embeddedSessionAdapter) DisplayName() string         { return a.cfg.DisplayName }
func (a *embeddedSessionAdapter) OrderType() models.OrderType { return a.cfg.OrderType }
func (a *embeddedSessionAdapter) SupportsOAuth() bool         { return false }
func (a *embeddedSessionAdapter) SupportsWebhooks() bool      { return false }
func (a *embeddedSessionAdapter) HistoricalAccuracy() int     { return a.cfg.Accuracy }

func (a *embeddedSessionAdapter) OAuthURL(userID, state string) (string, error) {
	return "", ErrCapabilityUnsupported
}

func (a *embeddedSessionAdapter) ExchangeCode(ctx context.Context, code string) (models.TokenSet, error) {
	return models.TokenSet{}, ErrCapabilityUnsupported
}

func (a *embeddedSessionAdapter) RefreshToken(ctx context.Context, refreshToken string) (models.TokenSet, error) {
	return models.TokenSet{}, ErrCapabilityUnsupported
}

func (a *embeddedSessionAdapter) ActiveDeliveries(ctx context.Context, creds Credentials) ([]models.UnifiedDelivery, error) {
	if creds.SessionBlob == "" {
		return nil, &UpstreamAuthError{Platform: a.cfg.Platform, Op: "fetch", Err: fmt.Errorf("missing session")}
	}

	var resp struct {
		Orders []map[string]interface{} `json:"orders"`
	}
	if err := a.client.getJSON(ctx, a.cfg.BaseURL+"/orders/current", creds, authSessionCookie, &resp); err != nil {
		return nil, err
	}

	deliveries := make([]models.UnifiedDelivery, 0, len(resp.Orders))
	for _, raw := range resp.Orders {
		d, err := parseDelivery(a.cfg.Platform, a.normalizer, a.ID(), raw)
		if err != nil {
			logger.WithPlatform(string(a.cfg.Platform)).WithError(err).Warn("skipping malformed order payload")
			continue
		}
		d.UserID = creds.UserID
		d.Fetch.Method = "poll"
		d.Tracking = models.TrackingCapabilities{LiveLocation: false, DriverInfo: false, Webhooks: false}
		deliveries = append(deliveries, *d)
	}
	return deliveries, nil
}

func (a *embeddedSessionAdapter) DeliveryDetails(ctx context.Context, creds Credentials, externalOrderID string) (*models.UnifiedDelivery, error) {
	if creds.SessionBlob == "" {
		return nil, &UpstreamAuthError{Platform: a.cfg.Platform, Op: "fetch", Err: fmt.Errorf("missing session")}
	}

	var raw map[string]interface{}
	u := fmt.Sprintf("%s/orders/%s", a.cfg.BaseURL, url.PathEscape(externalOrderID))
	if err := a.client.getJSON(ctx, u, creds, authSessionCookie, &raw); err != nil {
		return nil, err
	}

	d, err := parseDelivery(a.cfg.Platform, a.normalizer, a.ID(), raw)
	if err != nil {
		return nil, err
	}
	d.UserID = creds.UserID
	d.Fetch.Method = "poll"
	d.Tracking = models.TrackingCapabilities{LiveLocation: false, DriverInfo: false, Webhooks: false}
	return d, nil
}

func (a *embeddedSessionAdapter) VerifyWebhook(payload []byte, signature string) bool {
	return false
}

func (a *embeddedSessionAdapter) NormalizeWebhook(event models.WebhookEvent) (*models.UnifiedDelivery, error) {
	return nil, ErrCapabilityUnsupported
}

func (a *embeddedSessionAdapter) TestConnection(ctx context.Context, creds Credentials) error {
	if creds.SessionBlob == "" {
		return &UpstreamAuthError{Platform: a.cfg.Platform, Op: "test", Err: fmt.Errorf("missing session")}
	}
	var out map[string]interface{}
	return a.client.getJSON(ctx, a.cfg.BaseURL+"/account/summary", creds, authSessionCookie, &out)
}

// RevokeToken is a no-op: there is no upstream endpoint to revoke a scraped
// session against. Deleting the stored blob is the whole disconnect.
func (a *embeddedSessionAdapter) RevokeToken(ctx context.Context, creds Credentials) error {
	return nil
}
