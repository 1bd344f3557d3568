package platforms

import (
	"github.com/doorstep-ai/platform/pkg/common/config"
	"github.com/doorstep-ai/platform/pkg/common/models"
	"github.com/doorstep-ai/platform/pkg/status"
)

type variant int

const (
	variantDirectAPI variant = iota
	variantSessionProxy
	variantEmbeddedSession
)

type platformSpec struct {
	variant     variant
	displayName string
	orderType   models.OrderType
	// accuracy is the platform's observed ETA accuracy in percent, from
	// historical comparisons of promised vs actual arrival.
	accuracy  int
	baseURL   string
	authPath  string
	tokenPath string
	revoke    string
}

// catalog pins each platform to its integration strategy. The three-way
// split follows the three trust boundaries upstreams actually offer: a
// partner API with webhooks, an OAuth'd read-only API without webhooks, or
// nothing but the user's own browser session.
var catalog = map[models.Platform]platformSpec{
	models.PlatformDoorDash: {
		variant: variantDirectAPI, displayName: "DoorDash", orderType: models.OrderTypeRestaurant,
		accuracy: 95, baseURL: "https://api.doordash.com",
		authPath: "https://identity.doordash.com/connect/authorize", tokenPath: "https://identity.doordash.com/connect/token",
		revoke: "https://identity.doordash.com/connect/revocation",
	},
	models.PlatformUberEats: {
		variant: variantDirectAPI, displayName: "Uber Eats", orderType: models.OrderTypeRestaurant,
		accuracy: 93, baseURL: "https://api.uber.com/v1/eats",
		authPath: "https://auth.uber.com/oauth/v2/authorize", tokenPath: "https://auth.uber.com/oauth/v2/token",
		revoke: "https://auth.uber.com/oauth/v2/revoke",
	},
	models.PlatformInstacart: {
		variant: variantDirectAPI, displayName: "Instacart", orderType: models.OrderTypeGrocery,
		accuracy: 88, baseURL: "https://connect.instacart.com",
		authPath: "https://connect.instacart.com/oauth/authorize", tokenPath: "https://connect.instacart.com/oauth/token",
		revoke: "https://connect.instacart.com/oauth/revoke",
	},
	models.PlatformWalmart: {
		variant: variantSessionProxy, displayName: "Walmart", orderType: models.OrderTypeGrocery,
		accuracy: 82, baseURL: "https://www.walmart.com",
		authPath: "https://identity.walmart.com/authorize", tokenPath: "https://identity.walmart.com/token",
	},
	models.PlatformAmazon: {
		variant: variantSessionProxy, displayName: "Amazon", orderType: models.OrderTypeRetail,
		accuracy: 85, baseURL: "https://www.amazon.com",
		authPath: "https://www.amazon.com/ap/oa", tokenPath: "https://api.amazon.com/auth/o2/token",
	},
	models.PlatformShipt: {
		variant: variantSessionProxy, displayName: "Shipt", orderType: models.OrderTypeGrocery,
		accuracy: 80, baseURL: "https://api.shipt.com",
		authPath: "https://shop.shipt.com/oauth/authorize", tokenPath: "https://shop.shipt.com/oauth/token",
	},
	models.PlatformDrizly: {
		variant: variantEmbeddedSession, displayName: "Drizly", orderType: models.OrderTypeAlcohol,
		accuracy: 75, baseURL: "https://drizly.com/api",
	},
	models.PlatformTotalWine: {
		variant: variantEmbeddedSession, displayName: "Total Wine", orderType: models.OrderTypeAlcohol,
		accuracy: 70, baseURL: "https://www.totalwine.com/api",
	},
	models.PlatformCostco: {
		variant: variantEmbeddedSession, displayName: "Costco", orderType: models.OrderTypeRetail,
		accuracy: 72, baseURL: "https://www.costco.com/api",
	},
	models.PlatformSamsClub: {
		variant: variantEmbeddedSession, displayName: "Sam's Club", orderType: models.OrderTypeRetail,
		accuracy: 74, baseURL: "https://www.samsclub.com/api",
	},
}

// NewDefaultRegistry wires the production registry: each platform built
// from the catalog plus its environment credentials.
func NewDefaultRegistry(cfg *config.Config, normalizer *status.Normalizer) *Registry {
	return NewRegistry(func(platform models.Platform) (Adapter, bool) {
		spec, ok := catalog[platform]
		if !ok {
			return nil, false
		}

		acfg := adapterConfig{
			Platform:      platform,
			DisplayName:   spec.displayName,
			OrderType:     spec.orderType,
			Accuracy:      spec.accuracy,
			BaseURL:       spec.baseURL,
			AuthURL:       spec.authPath,
			TokenURL:      spec.tokenPath,
			RevokeURL:     spec.revoke,
			ClientID:      config.PlatformEnv(string(platform), "CLIENT_ID"),
			ClientSecret:  config.PlatformEnv(string(platform), "CLIENT_SECRET"),
			RedirectURL:   cfg.OAuthCallbackBaseURL + "/oauth/" + string(platform) + "/callback",
			Scopes:        []string{"orders.read"},
			WebhookSecret: config.PlatformEnv(string(platform), "WEBHOOK_SECRET"),
			Timeout:       cfg.UpstreamTimeout,
		}

		switch spec.variant {
		case variantDirectAPI:
			return newDirectAPIAdapter(acfg, normalizer), true
		case variantSessionProxy:
			return newSessionProxyAdapter(acfg, normalizer), true
		case variantEmbeddedSession:
			return newEmbeddedSessionAdapter(acfg, normalizer), true
		}
		return nil, false
	})
}
