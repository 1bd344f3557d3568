package platforms

import (
	"context"

	"github.com/doorstep-ai/platform/pkg/common/models"
)

// fakeAdapter is the minimal stand-in tests install via Registry.Override.
type fakeAdapter struct {
	platform   models.Platform
	deliveries []models.UnifiedDelivery
	err        error
}

func (f *fakeAdapter) ID() string                  { return string(f.platform) + "-fake" }
func (f *fakeAdapter) Platform() models.Platform   { return f.platform }
func (f *fakeAdapter) DisplayName() string         { return string(f.platform) }
func (f *fakeAdapter) OrderType() models.OrderType { return models.OrderTypeRestaurant }
func (f *fakeAdapter) SupportsOAuth() bool         { return true }
func (f *fakeAdapter) SupportsWebhooks() bool      { return true }
func (f *fakeAdapter) HistoricalAccuracy() int     { return 90 }

func (f *fakeAdapter) OAuthURL(userID, state string) (string, error) {
	return "https://example.com/oauth?state=" + state, nil
}

func (f *fakeAdapter) ExchangeCode(ctx context.Context, code string) (models.TokenSet, error) {
	return models.TokenSet{AccessToken: "tok-" + code}, f.err
}

func (f *fakeAdapter) RefreshToken(ctx context.Context, refreshToken string) (models.TokenSet, error) {
	return models.TokenSet{AccessToken: "refreshed"}, f.err
}

func (f *fakeAdapter) ActiveDeliveries(ctx context.Context, creds Credentials) ([]models.UnifiedDelivery, error) {
	return f.deliveries, f.err
}

func (f *fakeAdapter) DeliveryDetails(ctx context.Context, creds Credentials, externalOrderID string) (*models.UnifiedDelivery, error) {
	for i := range f.deliveries {
		if f.deliveries[i].ExternalOrderID == externalOrderID {
			return &f.deliveries[i], nil
		}
	}
	return nil, &PlatformDataError{Platform: f.platform, Reason: "not found"}
}

func (f *fakeAdapter) VerifyWebhook(payload []byte, signature string) bool { return signature != "" }

func (f *fakeAdapter) NormalizeWebhook(event models.WebhookEvent) (*models.UnifiedDelivery, error) {
	if len(f.deliveries) == 0 {
		return nil, nil
	}
	return &f.deliveries[0], nil
}

func (f *fakeAdapter) TestConnection(ctx context.Context, creds Credentials) error { return f.err }
func (f *fakeAdapter) RevokeToken(ctx context.Context, creds Credentials) error    { return f.err }
