package models

import (
	"fmt"
	"strings"
	"time"
)

// Platform is the closed set of delivery services the engine integrates.
type Platform string

const (
	PlatformInstacart Platform = "instacart"
	PlatformDoorDash  Platform = "doordash"
	PlatformUberEats  Platform = "ubereats"
	PlatformAmazon    Platform = "amazon"
	PlatformWalmart   Platform = "walmart"
	PlatformShipt     Platform = "shipt"
	PlatformDrizly    Platform = "drizly"
	PlatformTotalWine Platform = "totalwine"
	PlatformCostco    Platform = "costco"
	PlatformSamsClub  Platform = "samsclub"
)

var allPlatforms = []Platform{
	PlatformInstacart,
	PlatformDoorDash,
	PlatformUberEats,
	PlatformAmazon,
	PlatformWalmart,
	PlatformShipt,
	PlatformDrizly,
	PlatformTotalWine,
	PlatformCostco,
	PlatformSamsClub,
}

func AllPlatforms() []Platform {
	out := make([]Platform, len(allPlatforms))
	copy(out, allPlatforms)
	return out
}

func ParsePlatform(raw string) (Platform, error) {
	key := Platform(strings.ToLower(strings.TrimSpace(raw)))
	for _, p := range allPlatforms {
		if p == key {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown platform %q", raw)
}

// OrderType groups platforms by fulfillment category; ETA variance differs
// per category.
type OrderType string

const (
	OrderTypeRestaurant OrderType = "restaurant"
	OrderTypeGrocery    OrderType = "grocery"
	OrderTypeAlcohol    OrderType = "alcohol"
	OrderTypeRetail     OrderType = "retail"
)

// DeliveryStatus is the canonical cross-platform status vocabulary. Every
// raw upstream status maps into exactly one of these ten values.
type DeliveryStatus string

const (
	StatusPreparing            DeliveryStatus = "preparing"
	StatusReadyForPickup       DeliveryStatus = "ready_for_pickup"
	StatusDriverAssigned       DeliveryStatus = "driver_assigned"
	StatusDriverHeadingToStore DeliveryStatus = "driver_heading_to_store"
	StatusDriverAtStore        DeliveryStatus = "driver_at_store"
	StatusOutForDelivery       DeliveryStatus = "out_for_delivery"
	StatusArriving             DeliveryStatus = "arriving"
	StatusDelivered            DeliveryStatus = "delivered"
	StatusCancelled            DeliveryStatus = "cancelled"
	StatusDelayed              DeliveryStatus = "delayed"
)

// statusPriority is the presentation sort order and part of the contract:
// imminent deliveries sort first, terminal ones last.
var statusPriority = map[DeliveryStatus]int{
	StatusArriving:             0,
	StatusOutForDelivery:       1,
	StatusDriverAtStore:        2,
	StatusDriverHeadingToStore: 3,
	StatusDriverAssigned:       4,
	StatusReadyForPickup:       5,
	StatusDelayed:              6,
	StatusPreparing:            7,
	StatusDelivered:            8,
	StatusCancelled:            9,
}

func (s DeliveryStatus) Priority() int {
	if p, ok := statusPriority[s]; ok {
		return p
	}
	return len(statusPriority)
}

func (s DeliveryStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// Label is the default human-readable text for a canonical status.
func (s DeliveryStatus) Label() string {
	switch s {
	case StatusPreparing:
		return "Preparing your order"
	case StatusReadyForPickup:
		return "Ready for pickup"
	case StatusDriverAssigned:
		return "Driver assigned"
	case StatusDriverHeadingToStore:
		return "Driver heading to store"
	case StatusDriverAtStore:
		return "Driver at store"
	case StatusOutForDelivery:
		return "Out for delivery"
	case StatusArriving:
		return "Arriving now"
	case StatusDelivered:
		return "Delivered"
	case StatusCancelled:
		return "Cancelled"
	case StatusDelayed:
		return "Running late"
	}
	return string(s)
}

type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type Destination struct {
	Address      string       `json:"address"`
	Coordinates  *Coordinates `json:"coordinates,omitempty"`
	Instructions string       `json:"instructions,omitempty"`
}

type Driver struct {
	Name      string       `json:"name,omitempty"`
	Location  *Coordinates `json:"location,omitempty"`
	UpdatedAt *time.Time   `json:"updated_at,omitempty"`
}

type ETASource string

const (
	ETASourcePlatform   ETASource = "platform"
	ETASourceCalculated ETASource = "calculated"
	ETASourceEstimated  ETASource = "estimated"
)

type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "high"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceLow    ConfidenceLevel = "low"
)

type ETARange struct {
	MinMinutes int `json:"min_minutes"`
	MaxMinutes int `json:"max_minutes"`
}

type ETAEstimate struct {
	EstimatedArrival time.Time       `json:"estimated_arrival"`
	MinutesRemaining int             `json:"minutes_remaining"`
	Confidence       int             `json:"confidence"`
	ConfidenceLevel  ConfidenceLevel `json:"confidence_level"`
	Range            *ETARange       `json:"range,omitempty"`
	Source           ETASource       `json:"source"`
	Factors          []string        `json:"factors,omitempty"`
}

type OrderSummary struct {
	ItemCount int     `json:"item_count"`
	Total     float64 `json:"total"`
	Currency  string  `json:"currency"`
}

type TrackingCapabilities struct {
	LiveLocation bool `json:"live_location"`
	DriverInfo   bool `json:"driver_info"`
	Webhooks     bool `json:"webhooks"`
}

type FetchMetadata struct {
	Method    string    `json:"method"` // poll, webhook, cache
	AdapterID string    `json:"adapter_id"`
	FetchedAt time.Time `json:"fetched_at"`
}

type DeliveryTimestamps struct {
	OrderedAt   *time.Time `json:"ordered_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

// UnifiedDelivery is the canonical cross-platform order representation.
// Mutated in place on every poll or webhook event until the status reaches
// a terminal value, at which point it is archived to history.
type UnifiedDelivery struct {
	ID              string               `json:"id"`
	UserID          string               `json:"user_id"`
	Platform        Platform             `json:"platform"`
	ExternalOrderID string               `json:"external_order_id"`
	Status          DeliveryStatus       `json:"status"`
	StatusLabel     string               `json:"status_label"`
	Destination     Destination          `json:"destination"`
	Driver          *Driver              `json:"driver,omitempty"`
	ETA             *ETAEstimate         `json:"eta,omitempty"`
	Order           OrderSummary         `json:"order"`
	Tracking        TrackingCapabilities `json:"tracking"`
	Timestamps      DeliveryTimestamps   `json:"timestamps"`
	Fetch           FetchMetadata        `json:"fetch"`
}

// WebhookEvent is the parsed inbound platform event. It exists only long
// enough to derive an idempotency key and normalize; it is never persisted.
type WebhookEvent struct {
	Platform  Platform               `json:"platform"`
	EventID   string                 `json:"event_id"`
	EventType string                 `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
}

// Event bus envelope types.
const (
	EventTypeDeliveryUpdate = "delivery_update"
	EventTypeLocationUpdate = "location_update"
)

type DeliveryEvent struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	UserID     string                 `json:"user_id"`
	Platform   Platform               `json:"platform"`
	DeliveryID string                 `json:"delivery_id"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Delivery   *UnifiedDelivery       `json:"delivery,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// TokenSet is the result of an OAuth code exchange or refresh.
type TokenSet struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Scope        string     `json:"scope,omitempty"`
}

// ConnectionStatus tracks the health of a (user, platform) link.
type ConnectionStatus string

const (
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionExpired      ConnectionStatus = "expired"
	ConnectionError        ConnectionStatus = "error"
	ConnectionDisconnected ConnectionStatus = "disconnected"
)
