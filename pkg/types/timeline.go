package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Timeline milestone keys.
const (
	MilestoneOrderConfirmed = "order_confirmed"
	MilestonePickedUp       = "picked_up"
	MilestoneInTransit      = "in_transit"
	MilestoneOutForDelivery = "out_for_delivery"
	MilestoneDelivered      = "delivered"
	MilestoneDeliveryFailed = "delivery_failed"
)

// ShippingTimeline maps milestone names to the first time they were observed.
type ShippingTimeline map[string]time.Time

// Has reports whether the milestone is already recorded.
func (t ShippingTimeline) Has(milestone string) bool {
	if t == nil {
		return false
	}
	_, ok := t[milestone]
	return ok
}

// SetOnce records the milestone only if it has not been set. It returns true
// when the timeline changed.
func (t *ShippingTimeline) SetOnce(milestone string, at time.Time) bool {
	if milestone == "" || t.has(milestone) {
		return false
	}
	if *t == nil {
		*t = make(ShippingTimeline)
	}
	(*t)[milestone] = at.UTC()
	return true
}

func (t *ShippingTimeline) has(milestone string) bool {
	return t != nil && (*t).Has(milestone)
}

// Clone returns an independent copy.
func (t ShippingTimeline) Clone() ShippingTimeline {
	if t == nil {
		return nil
	}
	out := make(ShippingTimeline, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// Value marshals the timeline into JSON.
func (t ShippingTimeline) Value() (driver.Value, error) {
	if t == nil {
		return "{}", nil
	}
	buf, err := json.Marshal(map[string]time.Time(t))
	if err != nil {
		return nil, err
	}
	return string(buf), nil
}

// Scan decodes JSON into the timeline.
func (t *ShippingTimeline) Scan(value interface{}) error {
	if value == nil {
		*t = nil
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("shipping timeline: unsupported scan type %T", value)
	}

	result := make(ShippingTimeline)
	if err := json.Unmarshal(raw, &result); err != nil {
		return err
	}
	*t = result
	return nil
}
