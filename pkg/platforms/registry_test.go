package platforms

import (
	"os"
	"testing"

	"github.com/doorstep-ai/platform/pkg/common/config"
	"github.com/doorstep-ai/platform/pkg/common/logger"
	"github.com/doorstep-ai/platform/pkg/common/models"
	"github.com/doorstep-ai/platform/pkg/status"
)

func TestMain(m *testing.M) {
	logger.Init()
	os.Exit(m.Run())
}

func testRegistry() *Registry {
	return NewDefaultRegistry(config.Load(), status.NewNormalizer())
}

func TestRegistryLookupIsIdempotent(t *testing.T) {
	reg := testRegistry()

	first, err := reg.Get("doordash")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := reg.Get("doordash")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Fatal("repeated lookups must return the same instance")
	}
}

func TestRegistryRejectsUnknownPlatform(t *testing.T) {
	reg := testRegistry()
	_, err := reg.Get("grubhub")
	if err == nil {
		t.Fatal("expected error for unknown platform")
	}
	if !IsUnsupportedPlatform(err) {
		t.Fatalf("expected UnsupportedPlatformError, got %T", err)
	}
}

func TestRegistryCoversAllPlatforms(t *testing.T) {
	reg := testRegistry()
	for _, p := range models.AllPlatforms() {
		adapter, err := reg.GetPlatform(p)
		if err != nil {
			t.Fatalf("no adapter for %s: %v", p, err)
		}
		if adapter.Platform() != p {
			t.Fatalf("adapter for %s reports platform %s", p, adapter.Platform())
		}
		if adapter.HistoricalAccuracy() <= 0 || adapter.HistoricalAccuracy() > 100 {
			t.Fatalf("adapter for %s has accuracy %d", p, adapter.HistoricalAccuracy())
		}
	}
}

func TestRegistryResetAndOverride(t *testing.T) {
	reg := testRegistry()

	fake := &fakeAdapter{platform: models.PlatformDoorDash}
	reg.Override(models.PlatformDoorDash, fake)

	got, err := reg.GetPlatform(models.PlatformDoorDash)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != Adapter(fake) {
		t.Fatal("override not applied")
	}

	reg.Reset()
	rebuilt, err := reg.GetPlatform(models.PlatformDoorDash)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rebuilt == Adapter(fake) {
		t.Fatal("reset should drop the override")
	}
}

func TestCapabilityFlagsMatchVariants(t *testing.T) {
	reg := testRegistry()

	cases := []struct {
		platform models.Platform
		oauth    bool
		webhooks bool
	}{
		{models.PlatformDoorDash, true, true},
		{models.PlatformInstacart, true, true},
		{models.PlatformUberEats, true, true},
		{models.PlatformWalmart, true, false},
		{models.PlatformAmazon, true, false},
		{models.PlatformShipt, true, false},
		{models.PlatformCostco, false, false},
		{models.PlatformSamsClub, false, false},
		{models.PlatformDrizly, false, false},
		{models.PlatformTotalWine, false, false},
	}
	for _, tc := range cases {
		adapter, err := reg.GetPlatform(tc.platform)
		if err != nil {
			t.Fatalf("no adapter for %s: %v", tc.platform, err)
		}
		if adapter.SupportsOAuth() != tc.oauth {
			t.Fatalf("%s: SupportsOAuth = %v, want %v", tc.platform, adapter.SupportsOAuth(), tc.oauth)
		}
		if adapter.SupportsWebhooks() != tc.webhooks {
			t.Fatalf("%s: SupportsWebhooks = %v, want %v", tc.platform, adapter.SupportsWebhooks(), tc.webhooks)
		}
	}
}
