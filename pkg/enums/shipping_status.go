package enums

import "fmt"

// ShippingStatus is the canonical shipment status stored on an order.
type ShippingStatus string

const (
	ShippingStatusPendingPickup  ShippingStatus = "pending_pickup"
	ShippingStatusConfirmed      ShippingStatus = "confirmed"
	ShippingStatusPickedUp       ShippingStatus = "picked_up"
	ShippingStatusInTransit      ShippingStatus = "in_transit"
	ShippingStatusOutForDelivery ShippingStatus = "out_for_delivery"
	ShippingStatusDelivered      ShippingStatus = "delivered"
	ShippingStatusDeliveryFailed ShippingStatus = "delivery_failed"
	ShippingStatusCancelled      ShippingStatus = "cancelled"
	ShippingStatusReturned       ShippingStatus = "returned"
	ShippingStatusSelfPickup     ShippingStatus = "self_pickup"
)

var validShippingStatuses = []ShippingStatus{
	ShippingStatusPendingPickup,
	ShippingStatusConfirmed,
	ShippingStatusPickedUp,
	ShippingStatusInTransit,
	ShippingStatusOutForDelivery,
	ShippingStatusDelivered,
	ShippingStatusDeliveryFailed,
	ShippingStatusCancelled,
	ShippingStatusReturned,
	ShippingStatusSelfPickup,
}

// progressRank orders the forward statuses. Failure statuses are not ranked.
var progressRank = map[ShippingStatus]int{
	ShippingStatusPendingPickup:  0,
	ShippingStatusSelfPickup:     0,
	ShippingStatusConfirmed:      1,
	ShippingStatusPickedUp:       2,
	ShippingStatusInTransit:      3,
	ShippingStatusOutForDelivery: 4,
	ShippingStatusDelivered:      5,
}

// String implements fmt.Stringer.
func (s ShippingStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known ShippingStatus.
func (s ShippingStatus) IsValid() bool {
	for _, candidate := range validShippingStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsFailure reports whether the status is one of the failure branches.
func (s ShippingStatus) IsFailure() bool {
	switch s {
	case ShippingStatusDeliveryFailed, ShippingStatusCancelled, ShippingStatusReturned:
		return true
	}
	return false
}

// IsClosed reports whether the shipment can no longer progress.
func (s ShippingStatus) IsClosed() bool {
	return s == ShippingStatusCancelled || s == ShippingStatusReturned
}

// Rank returns the forward-progress position and whether the status is ranked.
func (s ShippingStatus) Rank() (int, bool) {
	rank, ok := progressRank[s]
	return rank, ok
}

// ParseShippingStatus converts raw input into a ShippingStatus.
func ParseShippingStatus(value string) (ShippingStatus, error) {
	for _, candidate := range validShippingStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid shipping status %q", value)
}
