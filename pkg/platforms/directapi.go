package platforms

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"time"

	"github.com/doorstep-ai/platform/pkg/common/logger"
	"github.com/doorstep-ai/platform/pkg/common/models"
	"github.com/doorstep-ai/platform/pkg/status"
	"golang.org/x/oauth2"
)

// adapterConfig carries the per-platform settings a variant is built from.
type adapterConfig struct {
	Platform      models.Platform
	DisplayName   string
	OrderType     models.OrderType
	Accuracy      int
	BaseURL       string
	AuthURL       string
	TokenURL      string
	RevokeURL     string
	ClientID      string
	ClientSecret  string
	RedirectURL   string
	Scopes        []string
	WebhookSecret string
	Timeout       time.Duration
}

// directAPIAdapter serves platforms with a formal partner API: full OAuth
// and webhook support.
type directAPIAdapter struct {
	cfg        adapterConfig
	oauth      *oauth2.Config
	client     *upstreamClient
	normalizer *status.Normalizer
}

func newDirectAPIAdapter(cfg adapterConfig, normalizer *status.Normalizer) *directAPIAdapter {
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
	return &directAPIAdapter{
		cfg:        cfg,
		oauth:      oauthCfg,
		client:     newUpstreamClient(cfg.Platform, cfg.Timeout),
		normalizer: normalizer,
	}
}

func (a *directAPIAdapter) ID() string                { return string(a.cfg.Platform) + "-direct" }
func (a *directAPIAdapter) Platform() models.Platform { return a.cfg.Platform }
func (a *directAPIAdapter) DisplayName() string       { return a.cfg.DisplayName }
func (a *directAPIAdapter) OrderType() models.OrderType {
	return a.cfg.OrderType
}
func (a *directAPIAdapter) SupportsOAuth() bool    { return true }
func (a *directAPIAdapter) SupportsWebhooks() bool { return true }
func (a *directAPIAdapter) HistoricalAccuracy() int {
	return a.cfg.Accuracy
}

func (a *directAPIAdapter) OAuthURL(userID, state string) (string, error) {
	if state == "" {
		return "", fmt.Errorf("oauth state required")
	}
	return a.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline), nil
}

func (a *directAPIAdapter) ExchangeCode(ctx context.Context, code string) (models.TokenSet, error) {
	token, err := a.oauth.Exchange(ctx, code)
	if err != nil {
		return models.TokenSet{}, &UpstreamAuthError{Platform: a.cfg.Platform, Op: "exchange", Err: err}
	}
	return tokenSetFromOAuth(token), nil
}

func (a *directAPIAdapter) RefreshToken(ctx context.Context, refreshToken string) (models.TokenSet, error) {
	if refreshToken == "" {
		return models.TokenSet{}, &TokenExpiredError{Platform: a.cfg.Platform}
	}
	source := a.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		// An invalid_grant means the refresh token itself is dead; the
		// caller must mark the connection expired, not retry.
		if retrieveErr, ok := err.(*oauth2.RetrieveError); ok && retrieveErr.Response != nil && retrieveErr.Response.StatusCode < 500 {
			return models.TokenSet{}, &TokenExpiredError{Platform: a.cfg.Platform}
		}
		return models.TokenSet{}, &UpstreamAuthError{Platform: a.cfg.Platform, Op: "refresh", Err: err}
	}
	return tokenSetFromOAuth(token), nil
}

func (a *directAPIAdapter) ActiveDeliveries(ctx context.Context, creds Credentials) ([]models.UnifiedDelivery, error) {
	var resp struct {
		Orders []map[string]interface{} `json:"orders"`
	}
	if err := a.client.getJSON(ctx, a.cfg.BaseURL+"/v1/orders/active", creds, authBearer, &resp); err != nil {
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
		d.Tracking = models.TrackingCapabilities{LiveLocation: true, DriverInfo: true, Webhooks: true}
		deliveries = append(deliveries, *d)
	}
	return deliveries, nil
}

func (a *directAPIAdapter) DeliveryDetails(ctx context.Context, creds Credentials, externalOrderID string) (*models.UnifiedDelivery, error) {
	var raw map[string]interface{}
	url := fmt.Sprintf("%s/v1/orders/%s", a.cfg.BaseURL, url.PathEscape(externalOrderID))
	if err := a.client.getJSON(ctx, url, creds, authBearer, &raw); err != nil {
		return nil, err
	}

	d, err := parseDelivery(a.cfg.Platform, a.normalizer, a.ID(), raw)
	if err != nil {
		return nil, err
	}
	d.UserID = creds.UserID
	d.Fetch.Method = "poll"
	d.Tracking = models.TrackingCapabilities{LiveLocation: true, DriverInfo: true, Webhooks: true}
	return d, nil
}

// VerifyWebhook checks an HMAC-SHA256 hex signature over the raw body in
// constant time. A missing signature or unconfigured secret is a rejection.
func (a *directAPIAdapter) VerifyWebhook(payload []byte, signature string) bool {
	if signature == "" || a.cfg.WebhookSecret == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(a.cfg.WebhookSecret))
	mac.Write(payload)
	expected := mac.Sum(nil)

	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, provided)
}

func (a *directAPIAdapter) NormalizeWebhook(event models.WebhookEvent) (*models.UnifiedDelivery, error) {
	switch event.EventType {
	case "ping", "test", "webhook.test":
		return nil, nil
	}

	body := event.Payload
	if nested, ok := body["delivery"].(map[string]interface{}); ok {
		body = nested
	} else if nested, ok := body["order"].(map[string]interface{}); ok {
		body = nested
	} else if nested, ok := body["data"].(map[string]interface{}); ok {
		body = nested
	}

	if firstString(body, orderIDKeys) == "" {
		// Well-formed event with no delivery payload: not an error.
		return nil, nil
	}

	d, err := parseDelivery(a.cfg.Platform, a.normalizer, a.ID(), body)
	if err != nil {
		return nil, err
	}
	d.Fetch.Method = "webhook"
	d.Tracking = models.TrackingCapabilities{LiveLocation: true, DriverInfo: true, Webhooks: true}
	return d, nil
}

func (a *directAPIAdapter) TestConnection(ctx context.Context, creds Credentials) error {
	var out map[string]interface{}
	return a.client.getJSON(ctx, a.cfg.BaseURL+"/v1/me", creds, authBearer, &out)
}

func (a *directAPIAdapter) RevokeToken(ctx context.Context, creds Credentials) error {
	if a.cfg.RevokeURL == "" {
		return nil
	}
	body := fmt.Sprintf("token=%s&client_id=%s", url.QueryEscape(creds.AccessToken), url.QueryEscape(a.cfg.ClientID))
	if err := a.client.postForm(ctx, a.cfg.RevokeURL, body); err != nil {
		// Best effort: the caller disconnects locally regardless.
		logger.WithPlatform(string(a.cfg.Platform)).WithError(err).Warn("token revocation failed")
		return err
	}
	return nil
}

func tokenSetFromOAuth(token *oauth2.Token) models.TokenSet {
	set := models.TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry.UTC()
		set.ExpiresAt = &expiry
	}
	if scope, ok := token.Extra("scope").(string); ok {
		set.Scope = scope
	}
	return set
}
