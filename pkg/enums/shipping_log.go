package enums

// ShippingLogAction names what produced an audit entry.
type ShippingLogAction string

const (
	ShippingLogActionShippingEvent  ShippingLogAction = "shipping_event"
	ShippingLogActionConfirmReceipt ShippingLogAction = "confirm_receipt"
	ShippingLogActionConfirmQuality ShippingLogAction = "confirm_quality"
	ShippingLogActionReleaseEscrow  ShippingLogAction = "release_escrow"
	ShippingLogActionInspection     ShippingLogAction = "inspection_sweep"
	ShippingLogActionShipment       ShippingLogAction = "shipment_created"
)

// ShippingEventSource records how a status reached the engine.
type ShippingEventSource string

const (
	ShippingEventSourceWebhook ShippingEventSource = "webhook"
	ShippingEventSourcePoll    ShippingEventSource = "poll"
	ShippingEventSourceBuyer   ShippingEventSource = "buyer"
	ShippingEventSourceSystem  ShippingEventSource = "system"
)

// FailureIntent is the follow-up routed for failed or returned shipments.
type FailureIntent string

const (
	FailureIntentNone   FailureIntent = ""
	FailureIntentRetry  FailureIntent = "retry"
	FailureIntentRefund FailureIntent = "refund"
)
