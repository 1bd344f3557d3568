package platforms

import (
	"context"
	"fmt"
	"net/url"

	"github.com/doorstep-ai/platform/pkg/common/logger"
	"github.com/doorstep-ai/platform/pkg/common/models"
	"github.com/doorstep-ai/platform/pkg/status"
	"golang.org/x/oauth2"
)

// sessionProxyAdapter serves platforms that grant an OAuth handshake but no
// webhook channel. Freshness is synthesized by short-TTL polling: the
// delivery cache holds these platforms' entries for less time so the next
// read re-polls sooner.
type sessionProxyAdapter struct {
	cfg        adapterConfig
	oauth      *oauth2.Config
	client     *upstreamClient
	normalizer *status.Normalizer
}

func newSessionProxyAdapter(cfg adapterConfig, normalizer *status.Normalizer) *sessionProxyAdapter {
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:  cfg.AuthURL,
			TokenURL: cfg.TokenURL,
		},
		Scopes: cfg.Scopes,
	}
	return &sessionProxyAdapter{
		cfg:        cfg,
		oauth:      oauthCfg,
		client:     newUpstreamClient(cfg.Platform, cfg.Timeout),
		normalizer: normalizer,
	}
}

func (a *sessionProxyAdapter) ID() string                  { return string(a.cfg.Platform) + "-session-proxy" }
func (a *sessionProxyAdapter) Platform() models.Platform   { return a.cfg.Platform }
func (a *sessionProxyAdapter) DisplayName() string         { return a.cfg.DisplayName }
func (a *sessionProxyAdapter) OrderType() models.OrderType { return a.cfg.OrderType }
func (a *sessionProxyAdapter) SupportsOAuth() bool         { return true }
func (a *sessionProxyAdapter) SupportsWebhooks() bool      { return false }
func (a *sessionProxyAdapter) HistoricalAccuracy() int     { return a.cfg.Accuracy }

func (a *sessionProxyAdapter) OAuthURL(userID, state string) (string, error) {
	if state == "" {
		return "", fmt.Errorf("oauth state required")
	}
	return a.oauth.AuthCodeURL(state), nil
}

func (a *sessionProxyAdapter) ExchangeCode(ctx context.Context, code string) (models.TokenSet, error) {
	token, err := a.oauth.Exchange(ctx, code)
	if err != nil {
		return models.TokenSet{}, &UpstreamAuthError{Platform: a.cfg.Platform, Op: "exchange", Err: err}
	}
	return tokenSetFromOAuth(token), nil
}

func (a *sessionProxyAdapter) RefreshToken(ctx context.Context, refreshToken string) (models.TokenSet, error) {
	if refreshToken == "" {
		return models.TokenSet{}, &TokenExpiredError{Platform: a.cfg.Platform}
	}
	source := a.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		if retrieveErr, ok := err.(*oauth2.RetrieveError); ok && retrieveErr.Response != nil && retrieveErr.Response.StatusCode < 500 {
			return models.TokenSet{}, &TokenExpiredError{Platform: a.cfg.Platform}
		}
		return models.TokenSet{}, &UpstreamAuthError{Platform: a.cfg.Platform, Op: "refresh", Err: err}
	}
	return tokenSetFromOAuth(token), nil
}

func (a *sessionProxyAdapter) ActiveDeliveries(ctx context.Context, creds Credentials) ([]models.UnifiedDelivery, error) {
	var resp struct {
		Deliveries []map[string]interface{} `json:"deliveries"`
		Orders     []map[string]interface{} `json:"orders"`
	}
	if err := a.client.getJSON(ctx, a.cfg.BaseURL+"/api/orders/in-progress", creds, authBearer, &resp); err != nil {
		return nil, err
	}

	rawOrders := resp.Deliveries
	if len(rawOrders) == 0 {
		rawOrders = resp.Orders
	}

	deliveries := make([]models.UnifiedDelivery, 0, len(rawOrders))
	for _, raw := range rawOrders {
		d, err := parseDelivery(a.cfg.Platform, a.normalizer, a.ID(), raw)
		if err != nil {
			logger.WithPlatform(string(a.cfg.Platform)).WithError(err).Warn("skipping malformed order payload")
			continue
		}
		d.UserID = creds.UserID
		d.Fetch.Method = "poll"
		d.Tracking = models.TrackingCapabilities{LiveLocation: false, DriverInfo: true, Webhooks: false}
		deliveries = append(deliveries, *d)
	}
	return deliveries, nil
}

func (a *sessionProxyAdapter) DeliveryDetails(ctx context.Context, creds Credentials, externalOrderID string) (*models.UnifiedDelivery, error) {
	var raw map[string]interface{}
	u := fmt.Sprintf("%s/api/orders/%s", a.cfg.BaseURL, url.PathEscape(externalOrderID))
	if err := a.client.getJSON(ctx, u, creds, authBearer, &raw); err != nil {
		return nil, err
	}

	d, err := parseDelivery(a.cfg.Platform, a.normalizer, a.ID(), raw)
	if err != nil {
		return nil, err
	}
	d.UserID = creds.UserID
	d.Fetch.Method = "poll"
	d.Tracking = models.TrackingCapabilities{LiveLocation: false, DriverInfo: true, Webhooks: false}
	return d, nil
}

func (a *sessionProxyAdapter) VerifyWebhook(payload []byte, signature string) bool {
	return false
}

func (a *sessionProxyAdapter) NormalizeWebhook(event models.WebhookEvent) (*models.UnifiedDelivery, error) {
	return nil, ErrCapabilityUnsupported
}

func (a *sessionProxyAdapter) TestConnection(ctx context.Context, creds Credentials) error {
	var out map[string]interface{}
	return a.client.getJSON(ctx, a.cfg.BaseURL+"/api/account", creds, authBearer, &out)
}

func (a *sessionProxyAdapter) RevokeToken(ctx context.Context, creds Credentials) error {
	if a.cfg.RevokeURL == "" {
		return nil
	}
	body := fmt.Sprintf("token=%s&client_id=%s", url.QueryEscape(creds.AccessToken), url.QueryEscape(a.cfg.ClientID))
	if err := a.client.postForm(ctx, a.cfg.RevokeURL, body); err != nil {
		logger.WithPlatform(string(a.cfg.Platform)).WithError(err).Warn("token revocation failed")
		return err
	}
	return nil
}
