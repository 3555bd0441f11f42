package escrow

import (
	"time"

	"github.com/angelmondragon/marketplace-escrow/internal/ledger"
	"github.com/angelmondragon/marketplace-escrow/pkg/db/models"
	"github.com/angelmondragon/marketplace-escrow/pkg/enums"
	"github.com/angelmondragon/marketplace-escrow/pkg/outbox"
	"github.com/angelmondragon/marketplace-escrow/pkg/outbox/payloads"
)

// applyPatch copies p onto order and returns the column names it touched.
func applyPatch(order *models.Order, p Patch) []string {
	var columns []string
	if p.ShippingStatus != nil {
		order.ShippingStatus = *p.ShippingStatus
		columns = append(columns, "shipping_status")
	}
	if p.Status != nil {
		order.Status = *p.Status
		columns = append(columns, "status")
	}
	if p.BuyerConfirmedReceipt != nil {
		order.BuyerConfirmedReceipt = *p.BuyerConfirmedReceipt
		columns = append(columns, "buyer_confirmed_receipt")
	}
	if p.InspectionPeriodEnd != nil {
		end := *p.InspectionPeriodEnd
		order.InspectionPeriodEnd = &end
		columns = append(columns, "inspection_period_end")
	}
	if p.QualityRating != nil {
		rating := *p.QualityRating
		order.QualityRating = &rating
		columns = append(columns, "quality_rating")
	}
	if p.QualityNotes != nil {
		notes := *p.QualityNotes
		order.QualityNotes = &notes
		columns = append(columns, "quality_notes")
	}
	if p.Timeline != nil {
		order.ShippingTimeline = p.Timeline.Clone()
		columns = append(columns, "shipping_timeline")
	}
	switch {
	case p.FailureIntent != nil:
		intent := *p.FailureIntent
		order.FailureIntent = &intent
		columns = append(columns, "failure_intent")
	case p.ClearFailureIntent:
		order.FailureIntent = nil
		columns = append(columns, "failure_intent")
	}
	if p.DeliveredAt != nil {
		at := *p.DeliveredAt
		order.DeliveredAt = &at
		columns = append(columns, "delivered_at")
	}
	if p.CompletedAt != nil {
		at := *p.CompletedAt
		order.CompletedAt = &at
		columns = append(columns, "completed_at")
	}
	if p.CancelledAt != nil {
		at := *p.CancelledAt
		order.CancelledAt = &at
		columns = append(columns, "cancelled_at")
	}
	return columns
}

// applyShipmentDetails fills tracking fields the provider reported. Existing values are replaced
// only by non-empty new ones.
func applyShipmentDetails(order *models.Order, details *shipmentDetails) []string {
	var columns []string
	set := func(current **string, incoming *string, column string) {
		if incoming == nil || *incoming == "" {
			return
		}
		if *current != nil && **current == *incoming {
			return
		}
		value := *incoming
		*current = &value
		columns = append(columns, column)
	}
	set(&order.TrackingCode, details.trackingCode, "tracking_code")
	set(&order.TrackingURL, details.trackingURL, "tracking_url")
	set(&order.Courier, details.courier, "courier")
	return columns
}

func orderEvent(order *models.Order, eventType enums.OutboxEventType, at time.Time, data any) outbox.DomainEvent {
	return outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Data:          data,
		OccurredAt:    at,
	}
}

func statusChangedPayload(order *models.Order, previous enums.ShippingStatus, source enums.ShippingEventSource, at time.Time) payloads.ShippingStatusChangedEvent {
	return payloads.ShippingStatusChangedEvent{
		OrderID:            order.ID,
		BuyerID:            order.BuyerID,
		SellerID:           order.SellerID,
		PreviousStatus:     previous,
		ShippingStatus:     order.ShippingStatus,
		OrderStatus:        order.Status,
		Source:             source,
		ProviderShipmentID: order.ProviderShipmentID,
		OccurredAt:         at,
	}
}

func inspectionStartedPayload(order *models.Order) payloads.InspectionStartedEvent {
	return payloads.InspectionStartedEvent{
		OrderID:             order.ID,
		BuyerID:             order.BuyerID,
		SellerID:            order.SellerID,
		InspectionPeriodEnd: order.InspectionPeriodEnd.UTC(),
	}
}

func shipmentFailedPayload(order *models.Order, intent enums.FailureIntent) payloads.ShipmentFailedEvent {
	return payloads.ShipmentFailedEvent{
		OrderID:        order.ID,
		BuyerID:        order.BuyerID,
		SellerID:       order.SellerID,
		ShippingStatus: order.ShippingStatus,
		Intent:         intent,
	}
}

func escrowReleasedPayload(order *models.Order, release *Release, trigger Trigger) payloads.EscrowReleasedEvent {
	return payloads.EscrowReleasedEvent{
		OrderID:           order.ID,
		BuyerID:           order.BuyerID,
		SellerID:          release.SellerID,
		VerificationLevel: order.VerificationLevel,
		Amount:            release.Amount.StringFixed(2),
		Currency:          ledger.Currency,
		Reference:         release.Reference,
		Trigger:           string(trigger.Kind),
		ReleasedAt:        trigger.At,
	}
}

