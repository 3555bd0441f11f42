package enums

import "fmt"

// ShippingMethod identifies who moves the parcel.
type ShippingMethod string

const (
	ShippingMethodShipBubble   ShippingMethod = "shipbubble"
	ShippingMethodSelfArranged ShippingMethod = "self-arranged"
)

var validShippingMethods = []ShippingMethod{
	ShippingMethodShipBubble,
	ShippingMethodSelfArranged,
}

// String implements fmt.Stringer.
func (m ShippingMethod) String() string {
	return string(m)
}

// IsValid reports whether the value is a known ShippingMethod.
func (m ShippingMethod) IsValid() bool {
	for _, candidate := range validShippingMethods {
		if candidate == m {
			return true
		}
	}
	return false
}

// ParseShippingMethod converts raw input into a ShippingMethod.
func ParseShippingMethod(value string) (ShippingMethod, error) {
	for _, candidate := range validShippingMethods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid shipping method %q", value)
}
