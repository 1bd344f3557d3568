package eta

import (
	"fmt"
	"math"
	"time"

	"github.com/doorstep-ai/platform/pkg/common/models"
)

// TrafficLevel feeds the speed heuristic and the confidence penalty.
type TrafficLevel string

const (
	TrafficLight    TrafficLevel = "light"
	TrafficModerate TrafficLevel = "moderate"
	TrafficHeavy    TrafficLevel = "heavy"
)

const (
	baseConfidence     = 50
	platformETABonus   = 20
	driverTrackedBonus = 15
	proximityNearBonus = 5  // driver within 3 miles
	proximityCloseBonus = 10 // driver within 1 mile
	activeStatusBonus  = 10

	moderateTrafficPenalty = 5
	heavyTrafficPenalty    = 10

	highConfidenceFloor   = 80
	mediumConfidenceFloor = 50

	// Average door-to-door courier speed in miles per hour before traffic
	// adjustment. Tuned against observed delivery traces, not road speed.
	baseSpeedMPH = 18.0

	earthRadiusMiles = 3958.8
)

// statusDefaultMinutes is the fallback when neither the platform nor driver
// telemetry gives us anything to work with.
var statusDefaultMinutes = map[models.DeliveryStatus]int{
	models.StatusPreparing:            35,
	models.StatusReadyForPickup:       20,
	models.StatusDriverAssigned:       25,
	models.StatusDriverHeadingToStore: 22,
	models.StatusDriverAtStore:        18,
	models.StatusOutForDelivery:       12,
	models.StatusArriving:             3,
	models.StatusDelayed:              45,
	models.StatusDelivered:            0,
	models.StatusCancelled:            0,
}

var orderTypeMultiplier = map[models.OrderType]float64{
	models.OrderTypeRestaurant: 1.0,
	models.OrderTypeGrocery:    1.15,
	models.OrderTypeAlcohol:    1.10,
	models.OrderTypeRetail:     1.20,
}

// Options carries the per-call context the estimate depends on.
type Options struct {
	OrderType models.OrderType
	// PlatformAccuracy is the platform's historical ETA accuracy in
	// percent; zero means unknown and is treated as 100.
	PlatformAccuracy int
	Traffic          TrafficLevel
	Now              time.Time
}

type Engine struct{}

func NewEngine() *Engine {
	return &Engine{}
}

// Estimate produces a deterministic, explainable arrival estimate. Every
// adjustment is recorded as a factor string for diagnostics.
func (e *Engine) Estimate(d *models.UnifiedDelivery, opts Options) models.ETAEstimate {
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var (
		minutes  float64
		source   models.ETASource
		factors  []string
		distance = -1.0
	)

	driverTracked := d.Driver != nil && d.Driver.Location != nil && d.Destination.Coordinates != nil
	if driverTracked {
		distance = haversineMiles(*d.Driver.Location, *d.Destination.Coordinates)
	}

	switch {
	case hasPlatformETA(d, now):
		minutes = math.Max(0, d.ETA.EstimatedArrival.Sub(now).Minutes())
		source = models.ETASourcePlatform
		factors = append(factors, "platform-provided eta")
	case driverTracked:
		minutes = travelMinutes(distance, opts.Traffic)
		source = models.ETASourceCalculated
		factors = append(factors, fmt.Sprintf("calculated from driver location %.1f mi out", distance))
	default:
		minutes = float64(statusDefault(d.Status))
		source = models.ETASourceEstimated
		factors = append(factors, fmt.Sprintf("status default for %s", d.Status))
	}

	if mult, ok := orderTypeMultiplier[opts.OrderType]; ok && mult != 1.0 {
		minutes *= mult
		factors = append(factors, fmt.Sprintf("%s order multiplier %.2f", opts.OrderType, mult))
	}

	confidence := float64(baseConfidence)
	if source == models.ETASourcePlatform {
		confidence += platformETABonus
		factors = append(factors, "platform eta bonus")
	}
	if driverTracked {
		confidence += driverTrackedBonus
		factors = append(factors, "driver location tracked")
		switch {
		case distance < 1.0:
			confidence += proximityCloseBonus
			factors = append(factors, "driver within 1 mile")
		case distance < 3.0:
			confidence += proximityNearBonus
			factors = append(factors, "driver within 3 miles")
		}
	}
	if d.Status == models.StatusOutForDelivery || d.Status == models.StatusArriving {
		confidence += activeStatusBonus
		factors = append(factors, "active delivery status")
	}

	accuracy := opts.PlatformAccuracy
	if accuracy <= 0 || accuracy > 100 {
		accuracy = 100
	}
	if accuracy < 100 {
		confidence *= float64(accuracy) / 100.0
		factors = append(factors, fmt.Sprintf("platform historical accuracy %d%%", accuracy))
	}

	switch opts.Traffic {
	case TrafficModerate:
		confidence -= moderateTrafficPenalty
		factors = append(factors, "moderate traffic")
	case TrafficHeavy:
		confidence -= heavyTrafficPenalty
		factors = append(factors, "heavy traffic")
	}

	score := int(math.Round(confidence))
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	roundedMinutes := int(math.Ceil(minutes))
	if d.Status.Terminal() {
		roundedMinutes = 0
	}

	estimate := models.ETAEstimate{
		EstimatedArrival: now.Add(time.Duration(roundedMinutes) * time.Minute),
		MinutesRemaining: roundedMinutes,
		Confidence:       score,
		ConfidenceLevel:  level(score),
		Source:           source,
		Factors:          factors,
	}

	// High confidence needs no range; below that the band widens as
	// confidence falls.
	if score < highConfidenceFloor {
		variance := minutes * (float64(100-score) / 100.0) * 0.5
		min := int(math.Floor(minutes - variance))
		if min < 0 {
			min = 0
		}
		max := int(math.Ceil(minutes + variance))
		if min > roundedMinutes {
			min = roundedMinutes
		}
		if max < roundedMinutes {
			max = roundedMinutes
		}
		estimate.Range = &models.ETARange{MinMinutes: min, MaxMinutes: max}
	}

	return estimate
}

func hasPlatformETA(d *models.UnifiedDelivery, now time.Time) bool {
	return d.ETA != nil &&
		d.ETA.Source == models.ETASourcePlatform &&
		!d.ETA.EstimatedArrival.IsZero() &&
		d.ETA.EstimatedArrival.After(now.Add(-time.Minute))
}

func statusDefault(s models.DeliveryStatus) int {
	if m, ok := statusDefaultMinutes[s]; ok {
		return m
	}
	return statusDefaultMinutes[models.StatusPreparing]
}

func travelMinutes(distanceMiles float64, traffic TrafficLevel) float64 {
	speed := baseSpeedMPH
	switch traffic {
	case TrafficModerate:
		speed *= 0.75
	case TrafficHeavy:
		speed *= 0.6
	}
	minutes := distanceMiles / speed * 60.0
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}

func level(confidence int) models.ConfidenceLevel {
	switch {
	case confidence >= highConfidenceFloor:
		return models.ConfidenceHigh
	case confidence >= mediumConfidenceFloor:
		return models.ConfidenceMedium
	default:
		return models.ConfidenceLow
	}
}

func haversineMiles(a, b models.Coordinates) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMiles * math.Asin(math.Sqrt(h))
}
