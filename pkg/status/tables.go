package status

import "github.com/doorstep-ai/platform/pkg/common/models"

// defaultTables maps each platform's raw status vocabulary to the canonical
// set. Keys are pre-normalized (lowercase, underscores). Gaps fall back to
// preparing and are logged, so an unmapped upstream value degrades rather
// than breaks.
func defaultTables() map[models.Platform]map[string]models.DeliveryStatus {
	return map[models.Platform]map[string]models.DeliveryStatus{
		models.PlatformDoorDash: {
			"created":            models.StatusPreparing,
			"confirmed":          models.StatusPreparing,
			"being_prepared":     models.StatusPreparing,
			"ready_for_pickup":   models.StatusReadyForPickup,
			"dasher_assigned":    models.StatusDriverAssigned,
			"dasher_confirmed":   models.StatusDriverAssigned,
			"enroute_to_pickup":  models.StatusDriverHeadingToStore,
			"arrived_at_store":   models.StatusDriverAtStore,
			"picked_up":          models.StatusOutForDelivery,
			"enroute_to_dropoff": models.StatusOutForDelivery,
			"arriving":           models.StatusArriving,
			"arrived_at_dropoff": models.StatusArriving,
			"delivered":          models.StatusDelivered,
			"cancelled":          models.StatusCancelled,
			"delayed":            models.StatusDelayed,
		},
		models.PlatformUberEats: {
			"order_received":      models.StatusPreparing,
			"preparing":           models.StatusPreparing,
			"ready":               models.StatusReadyForPickup,
			"courier_assigned":    models.StatusDriverAssigned,
			"courier_en_route":    models.StatusDriverHeadingToStore,
			"courier_at_store":    models.StatusDriverAtStore,
			"order_picked_up":     models.StatusOutForDelivery,
			"en_route_to_dropoff": models.StatusOutForDelivery,
			"nearby":              models.StatusArriving,
			"delivered":           models.StatusDelivered,
			"canceled":            models.StatusCancelled,
			"running_late":        models.StatusDelayed,
		},
		models.PlatformInstacart: {
			"order_placed":     models.StatusPreparing,
			"shopping":         models.StatusPreparing,
			"shopping_started": models.StatusPreparing,
			"checkout":         models.StatusReadyForPickup,
			"shopper_assigned": models.StatusDriverAssigned,
			"picking_up":       models.StatusDriverAtStore,
			"on_the_way":       models.StatusOutForDelivery,
			"out_for_delivery": models.StatusOutForDelivery,
			"almost_there":     models.StatusArriving,
			"delivered":        models.StatusDelivered,
			"cancelled":        models.StatusCancelled,
			"delayed":          models.StatusDelayed,
		},
		models.PlatformAmazon: {
			"ordered":               models.StatusPreparing,
			"preparing_for_dispatch": models.StatusPreparing,
			"shipped":               models.StatusOutForDelivery,
			"out_for_delivery":      models.StatusOutForDelivery,
			"arriving_today":        models.StatusArriving,
			"nearby":                models.StatusArriving,
			"delivered":             models.StatusDelivered,
			"cancelled":             models.StatusCancelled,
			"delayed":               models.StatusDelayed,
			"running_late":          models.StatusDelayed,
		},
		models.PlatformWalmart: {
			"placed":           models.StatusPreparing,
			"preparing":        models.StatusPreparing,
			"picking":          models.StatusPreparing,
			"ready_for_pickup": models.StatusReadyForPickup,
			"driver_assigned":  models.StatusDriverAssigned,
			"on_the_way":       models.StatusOutForDelivery,
			"out_for_delivery": models.StatusOutForDelivery,
			"almost_here":      models.StatusArriving,
			"delivered":        models.StatusDelivered,
			"canceled":         models.StatusCancelled,
			"delayed":          models.StatusDelayed,
		},
		models.PlatformShipt: {
			"order_placed":     models.StatusPreparing,
			"shopping":         models.StatusPreparing,
			"shopper_assigned": models.StatusDriverAssigned,
			"at_store":         models.StatusDriverAtStore,
			"on_the_way":       models.StatusOutForDelivery,
			"arriving_soon":    models.StatusArriving,
			"delivered":        models.StatusDelivered,
			"cancelled":        models.StatusCancelled,
		},
		models.PlatformDrizly: {
			"confirmed":        models.StatusPreparing,
			"accepted":         models.StatusPreparing,
			"in_transit":       models.StatusOutForDelivery,
			"out_for_delivery": models.StatusOutForDelivery,
			"arriving":         models.StatusArriving,
			"delivered":        models.StatusDelivered,
			"cancelled":        models.StatusCancelled,
			"delayed":          models.StatusDelayed,
		},
		models.PlatformTotalWine: {
			"received":         models.StatusPreparing,
			"processing":       models.StatusPreparing,
			"ready":            models.StatusReadyForPickup,
			"out_for_delivery": models.StatusOutForDelivery,
			"delivered":        models.StatusDelivered,
			"cancelled":        models.StatusCancelled,
		},
		models.PlatformCostco: {
			"order_received":   models.StatusPreparing,
			"processing":       models.StatusPreparing,
			"shipped":          models.StatusOutForDelivery,
			"out_for_delivery": models.StatusOutForDelivery,
			"arriving_today":   models.StatusArriving,
			"delivered":        models.StatusDelivered,
			"cancelled":        models.StatusCancelled,
			"delayed":          models.StatusDelayed,
		},
		models.PlatformSamsClub: {
			"placed":           models.StatusPreparing,
			"preparing":        models.StatusPreparing,
			"ready_for_pickup": models.StatusReadyForPickup,
			"shipped":          models.StatusOutForDelivery,
			"out_for_delivery": models.StatusOutForDelivery,
			"delivered":        models.StatusDelivered,
			"canceled":         models.StatusCancelled,
			"delayed":          models.StatusDelayed,
		},
	}
}
