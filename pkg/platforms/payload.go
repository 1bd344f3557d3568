package platforms

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/doorstep-ai/platform/pkg/common/models"
	"github.com/doorstep-ai/platform/pkg/status"
	"github.com/google/uuid"
)

// Upstream payloads are inconsistent and partially documented; the same
// field shows up under different names per platform and per endpoint
// version. The parser probes a fixed alias list per concept instead of
// pinning one schema.
var (
	orderIDKeys   = []string{"order_id", "orderId", "external_order_id", "id", "delivery_id", "deliveryId"}
	statusKeys    = []string{"status", "order_status", "delivery_status", "state"}
	addressKeys   = []string{"address", "delivery_address", "dropoff_address", "destination"}
	latKeys       = []string{"lat", "latitude", "dropoff_lat"}
	lngKeys       = []string{"lng", "lon", "longitude", "dropoff_lng"}
	etaKeys       = []string{"eta", "estimated_arrival", "estimated_delivery_time", "dropoff_eta"}
	driverKeys    = []string{"driver", "courier", "dasher", "shopper"}
	itemCountKeys = []string{"item_count", "items_count", "num_items"}
	totalKeys     = []string{"total", "order_total", "grand_total"}
)

// parseDelivery builds a UnifiedDelivery from a raw upstream object. Fails
// with PlatformDataError when the external order id is missing; everything
// else degrades to zero values.
func parseDelivery(platform models.Platform, normalizer *status.Normalizer, adapterID string, raw map[string]interface{}) (*models.UnifiedDelivery, error) {
	if raw == nil {
		return nil, &PlatformDataError{Platform: platform, Reason: "empty payload"}
	}

	externalID := firstString(raw, orderIDKeys)
	if externalID == "" {
		return nil, &PlatformDataError{Platform: platform, Reason: "missing external order id"}
	}

	rawStatus := firstString(raw, statusKeys)
	canonical := normalizer.Normalize(platform, rawStatus)

	d := &models.UnifiedDelivery{
		ID:              fmt.Sprintf("%s-%s", platform, externalID),
		Platform:        platform,
		ExternalOrderID: externalID,
		Status:          canonical,
		StatusLabel:     canonical.Label(),
		Destination:     parseDestination(raw),
		Driver:          parseDriver(raw),
		Order: models.OrderSummary{
			ItemCount: int(firstNumber(raw, itemCountKeys)),
			Total:     firstNumber(raw, totalKeys),
			Currency:  stringOr(raw, "currency", "USD"),
		},
		Fetch: models.FetchMetadata{
			AdapterID: adapterID,
			FetchedAt: time.Now().UTC(),
		},
	}

	if eta := firstTime(raw, etaKeys); eta != nil {
		d.ETA = &models.ETAEstimate{
			EstimatedArrival: *eta,
			Source:           models.ETASourcePlatform,
		}
	}
	if ordered := firstTime(raw, []string{"ordered_at", "created_at", "placed_at"}); ordered != nil {
		d.Timestamps.OrderedAt = ordered
	}
	if delivered := firstTime(raw, []string{"delivered_at", "completed_at"}); delivered != nil {
		d.Timestamps.DeliveredAt = delivered
	}

	return d, nil
}

// ParseWebhookEvent extracts the envelope from a raw webhook body. An
// absent event id is synthesized so the idempotency key never collapses to
// the empty string.
func ParseWebhookEvent(platform models.Platform, payload map[string]interface{}) models.WebhookEvent {
	eventID := firstString(payload, []string{"event_id", "eventId", "id", "webhook_id"})
	if eventID == "" {
		eventID = uuid.New().String()
	}
	eventType := firstString(payload, []string{"event_type", "eventType", "type", "event"})

	ts := time.Now().UTC()
	if parsed := firstTime(payload, []string{"timestamp", "created_at", "occurred_at"}); parsed != nil {
		ts = *parsed
	}

	return models.WebhookEvent{
		Platform:  platform,
		EventID:   eventID,
		EventType: eventType,
		Timestamp: ts,
		Payload:   payload,
	}
}

func parseDestination(raw map[string]interface{}) models.Destination {
	dest := models.Destination{
		Address:      firstString(raw, addressKeys),
		Instructions: firstString(raw, []string{"instructions", "delivery_instructions", "dropoff_instructions"}),
	}
	if nested, ok := raw["destination"].(map[string]interface{}); ok {
		if dest.Address == "" {
			dest.Address = firstString(nested, []string{"address", "formatted_address"})
		}
		if coords := parseCoordinates(nested); coords != nil {
			dest.Coordinates = coords
			return dest
		}
	}
	dest.Coordinates = parseCoordinates(raw)
	return dest
}

func parseDriver(raw map[string]interface{}) *models.Driver {
	for _, key := range driverKeys {
		nested, ok := raw[key].(map[string]interface{})
		if !ok {
			continue
		}
		driver := &models.Driver{
			Name: firstString(nested, []string{"name", "first_name", "display_name"}),
		}
		if loc, ok := nested["location"].(map[string]interface{}); ok {
			driver.Location = parseCoordinates(loc)
		}
		if driver.Location == nil {
			driver.Location = parseCoordinates(nested)
		}
		if driver.Location != nil {
			now := time.Now().UTC()
			driver.UpdatedAt = &now
		}
		if driver.Name == "" && driver.Location == nil {
			return nil
		}
		return driver
	}
	return nil
}

func parseCoordinates(raw map[string]interface{}) *models.Coordinates {
	lat, latOK := numberAt(raw, latKeys)
	lng, lngOK := numberAt(raw, lngKeys)
	if !latOK || !lngOK {
		return nil
	}
	if lat == 0 && lng == 0 {
		return nil
	}
	return &models.Coordinates{Latitude: lat, Longitude: lng}
}

func firstString(raw map[string]interface{}, keys []string) string {
	for _, key := range keys {
		if v, ok := raw[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func stringOr(raw map[string]interface{}, key, fallback string) string {
	if v, ok := raw[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func firstNumber(raw map[string]interface{}, keys []string) float64 {
	v, _ := numberAt(raw, keys)
	return v
}

func numberAt(raw map[string]interface{}, keys []string) (float64, bool) {
	for _, key := range keys {
		switch v := raw[key].(type) {
		case float64:
			return v, true
		case int:
			return float64(v), true
		case json.Number:
			if f, err := v.Float64(); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func firstTime(raw map[string]interface{}, keys []string) *time.Time {
	for _, key := range keys {
		s, ok := raw[key].(string)
		if !ok || s == "" {
			continue
		}
		for _, layout := range []string{time.RFC3339, time.RFC3339Nano, "2006-01-02 15:04:05"} {
			if parsed, err := time.Parse(layout, s); err == nil {
				utc := parsed.UTC()
				return &utc
			}
		}
	}
	return nil
}
