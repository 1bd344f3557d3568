package status

import (
	"os"
	"testing"

	"github.com/doorstep-ai/platform/pkg/common/logger"
	"github.com/doorstep-ai/platform/pkg/common/models"
)

func TestMain(m *testing.M) {
	logger.Init()
	os.Exit(m.Run())
}

func TestNormalizeRawCollapsesSeparators(t *testing.T) {
	cases := map[string]string{
		"BEING-PREPARED":   "being_prepared",
		"Out For Delivery": "out_for_delivery",
		"  picked_up  ":    "picked_up",
		"en - route":       "en_route",
	}
	for raw, want := range cases {
		if got := NormalizeRaw(raw); got != want {
			t.Fatalf("NormalizeRaw(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestNormalizeKnownStatuses(t *testing.T) {
	n := NewNormalizer()

	cases := []struct {
		platform models.Platform
		raw      string
		want     models.DeliveryStatus
	}{
		{models.PlatformDoorDash, "BEING-PREPARED", models.StatusPreparing},
		{models.PlatformDoorDash, "picked_up", models.StatusOutForDelivery},
		{models.PlatformDoorDash, "dasher_assigned", models.StatusDriverAssigned},
		{models.PlatformUberEats, "courier_at_store", models.StatusDriverAtStore},
		{models.PlatformInstacart, "almost_there", models.StatusArriving},
		{models.PlatformWalmart, "Ready For Pickup", models.StatusReadyForPickup},
		{models.PlatformAmazon, "running_late", models.StatusDelayed},
		{models.PlatformDrizly, "in_transit", models.StatusOutForDelivery},
	}
	for _, tc := range cases {
		if got := n.Normalize(tc.platform, tc.raw); got != tc.want {
			t.Fatalf("Normalize(%s, %q) = %s, want %s", tc.platform, tc.raw, got, tc.want)
		}
	}
}

func TestNormalizeUnmappedFallsBackToPreparing(t *testing.T) {
	n := NewNormalizer()
	if got := n.Normalize(models.PlatformDoorDash, "quantum_tunnelling"); got != models.StatusPreparing {
		t.Fatalf("expected fallback to preparing, got %s", got)
	}
	if got := n.Normalize(models.Platform("nonexistent"), "whatever"); got != models.StatusPreparing {
		t.Fatalf("expected fallback for unknown platform, got %s", got)
	}
}

// Every raw status in every table must resolve to one of the ten canonical
// values, and normalizing the raw key must be a no-op (tables store
// pre-normalized keys).
func TestTableCoverage(t *testing.T) {
	n := NewNormalizer()
	for _, platform := range models.AllPlatforms() {
		table := n.Table(platform)
		if len(table) == 0 {
			t.Fatalf("platform %s has no status table", platform)
		}
		for raw, want := range table {
			if NormalizeRaw(raw) != raw {
				t.Fatalf("table key %q for %s is not pre-normalized", raw, platform)
			}
			got := n.Normalize(platform, raw)
			if got != want {
				t.Fatalf("Normalize(%s, %q) = %s, want %s", platform, raw, got, want)
			}
			if got.Priority() >= 10 {
				t.Fatalf("Normalize(%s, %q) returned non-canonical value %s", platform, raw, got)
			}
		}
	}
}

func TestSortByPriority(t *testing.T) {
	deliveries := []models.UnifiedDelivery{
		{ID: "a", Status: models.StatusDelivered},
		{ID: "b", Status: models.StatusPreparing},
		{ID: "c", Status: models.StatusArriving},
		{ID: "d", Status: models.StatusOutForDelivery},
		{ID: "e", Status: models.StatusCancelled},
	}
	SortByPriority(deliveries)

	wantOrder := []string{"c", "d", "b", "a", "e"}
	for i, want := range wantOrder {
		if deliveries[i].ID != want {
			t.Fatalf("position %d: got %s, want %s", i, deliveries[i].ID, want)
		}
	}
}

func TestLoadOverridesMergesRows(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/overrides.yaml"
	content := []byte("platforms:\n  doordash:\n    staged-at-hub: out_for_delivery\n    bogus-status: not_a_real_status\n  notaplatform:\n    x: delivered\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("writing override file: %v", err)
	}

	n := NewNormalizer()
	if err := n.LoadOverrides(path); err != nil {
		t.Fatalf("LoadOverrides failed: %v", err)
	}

	if got := n.Normalize(models.PlatformDoorDash, "STAGED-AT-HUB"); got != models.StatusOutForDelivery {
		t.Fatalf("override row not applied, got %s", got)
	}
	// Unknown canonical value is skipped, so the raw key falls back.
	if got := n.Normalize(models.PlatformDoorDash, "bogus-status"); got != models.StatusPreparing {
		t.Fatalf("invalid override should be skipped, got %s", got)
	}
}
