package shipping

import (
	"strings"

	"github.com/angelmondragon/marketplace-escrow/pkg/enums"
)

var providerStatuses = map[string]enums.ShippingStatus{
	"pending":            enums.ShippingStatusPendingPickup,
	"pending_pickup":     enums.ShippingStatusPendingPickup,
	"awaiting_pickup":    enums.ShippingStatusPendingPickup,
	"confirmed":          enums.ShippingStatusConfirmed,
	"processing":         enums.ShippingStatusConfirmed,
	"picked_up":          enums.ShippingStatusPickedUp,
	"pickedup":           enums.ShippingStatusPickedUp,
	"in_transit":         enums.ShippingStatusInTransit,
	"intransit":          enums.ShippingStatusInTransit,
	"out_for_delivery":   enums.ShippingStatusOutForDelivery,
	"completed":          enums.ShippingStatusDelivered,
	"delivered":          enums.ShippingStatusDelivered,
	"failed":             enums.ShippingStatusDeliveryFailed,
	"delivery_failed":    enums.ShippingStatusDeliveryFailed,
	"cancelled":          enums.ShippingStatusCancelled,
	"canceled":           enums.ShippingStatusCancelled,
	"returned":           enums.ShippingStatusReturned,
	"return_to_sender":   enums.ShippingStatusReturned,
	"returned_to_sender": enums.ShippingStatusReturned,
}

// NormalizeStatus maps provider vocabulary onto ShippingStatus. The bool is false for
// statuses the engine does not know.
func NormalizeStatus(raw string) (enums.ShippingStatus, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	status, ok := providerStatuses[key]
	return status, ok
}
