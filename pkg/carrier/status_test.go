package carrier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/example/fulfillment/pkg/models"
)

func TestMapStatusKnownVocabulary(t *testing.T) {
	cases := map[string]models.ShippingStatus{
		"ready_to_pick": models.ShippingCreated,
		"picking":       models.ShippingCreated,
		"picked":        models.ShippingPickuped,
		"storing":       models.ShippingPendingDelivery,
		"transporting":  models.ShippingPendingDelivery,
		"delivering":    models.ShippingPendingDelivery,
		"delivery_fail": models.ShippingPendingDelivery,
		"delivered":     models.ShippingDelivered,
		"returning":     models.ShippingReturned,
		"returned":      models.ShippingReturned,
		"cancel":        models.ShippingCancelled,
		"lost":          models.ShippingFailed,
		"damage":        models.ShippingFailed,
	}
	for carrierStatus, want := range cases {
		got, ok := MapStatus(carrierStatus)
		assert.True(t, ok, carrierStatus)
		assert.Equal(t, want, got, carrierStatus)
	}
}

func TestMapStatusUnknown(t *testing.T) {
	for _, s := range []string{"", "exception", "DELIVERED", "Picked"} {
		got, ok := MapStatus(s)
		assert.False(t, ok, s)
		assert.Equal(t, models.ShippingStatusUnknown, got)
	}
}

// A failed delivery attempt is not a failed shipment; GHN retries delivery,
// so delivery_fail keeps the shipment in transit.
func TestMapStatusDeliveryFailStaysInTransit(t *testing.T) {
	got, ok := MapStatus("delivery_fail")
	assert.True(t, ok)
	assert.Equal(t, models.ShippingPendingDelivery, got)
}
