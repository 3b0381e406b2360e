package carrier

import (
	"github.com/example/fulfillment/pkg/models"
)

// statusTable is the closed mapping from GHN's status vocabulary to the
// internal shipping state machine. GHN distinguishes many in-transit
// sub-statuses; they all collapse into PENDING_DELIVERY to keep the
// externally visible state machine small.
var statusTable = map[string]models.ShippingStatus{
	"ready_to_pick":            models.ShippingCreated,
	"picking":                  models.ShippingCreated,
	"money_collect_picking":    models.ShippingCreated,
	"picked":                   models.ShippingPickuped,
	"storing":                  models.ShippingPendingDelivery,
	"transporting":             models.ShippingPendingDelivery,
	"sorting":                  models.ShippingPendingDelivery,
	"delivering":               models.ShippingPendingDelivery,
	"money_collect_delivering": models.ShippingPendingDelivery,
	"delivery_fail":            models.ShippingPendingDelivery,
	"delivered":                models.ShippingDelivered,
	"waiting_to_return":        models.ShippingReturned,
	"return":                   models.ShippingReturned,
	"return_transporting":      models.ShippingReturned,
	"return_sorting":           models.ShippingReturned,
	"returning":                models.ShippingReturned,
	"return_fail":              models.ShippingReturned,
	"returned":                 models.ShippingReturned,
	"cancel":                   models.ShippingCancelled,
	"lost":                     models.ShippingFailed,
	"damage":                   models.ShippingFailed,
}

// MapStatus translates a carrier status string. Unknown values return
// ShippingStatusUnknown and ok=false; callers keep the current state.
func MapStatus(carrierStatus string) (models.ShippingStatus, bool) {
	st, ok := statusTable[carrierStatus]
	if !ok {
		return models.ShippingStatusUnknown, false
	}
	return st, true
}
