package platforms

import (
	"context"

	"github.com/doorstep-ai/platform/pkg/common/models"
)

// Credentials is the decrypted material an adapter needs for one upstream
// call. Exactly one of AccessToken or SessionBlob is populated depending on
// the adapter variant.
type Credentials struct {
	UserID      string
	AccessToken string
	SessionBlob string
}

// Adapter is the uniform integration contract every platform implements.
// Callers branch on the capability flags, never on the concrete type:
// OAuth-specific operations on a non-OAuth adapter (and webhook operations
// on a non-webhook adapter) fail with ErrCapabilityUnsupported.
type Adapter interface {
	ID() string
	Platform() models.Platform
	DisplayName() string
	OrderType() models.OrderType

	// Capability flags.
	SupportsOAuth() bool
	SupportsWebhooks() bool

	// HistoricalAccuracy is the platform's observed ETA accuracy in
	// percent, used to scale estimate confidence.
	HistoricalAccuracy() int

	// OAuth lifecycle. State is a caller-supplied anti-CSRF token.
	OAuthURL(userID, state string) (string, error)
	ExchangeCode(ctx context.Context, code string) (models.TokenSet, error)
	RefreshToken(ctx context.Context, refreshToken string) (models.TokenSet, error)

	// Delivery reads.
	ActiveDeliveries(ctx context.Context, creds Credentials) ([]models.UnifiedDelivery, error)
	DeliveryDetails(ctx context.Context, creds Credentials, externalOrderID string) (*models.UnifiedDelivery, error)

	// Webhook handling. VerifyWebhook must compare in constant time; a
	// missing signature is always a rejection. NormalizeWebhook returns
	// (nil, nil) for well-formed events that carry no delivery data.
	VerifyWebhook(payload []byte, signature string) bool
	NormalizeWebhook(event models.WebhookEvent) (*models.UnifiedDelivery, error)

	// Best-effort connection maintenance. Revoke failures must not block
	// local disconnection.
	TestConnection(ctx context.Context, creds Credentials) error
	RevokeToken(ctx context.Context, creds Credentials) error
}
