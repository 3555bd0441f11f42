package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketplace-escrow/pkg/db/models"
	"github.com/angelmondragon/marketplace-escrow/pkg/enums"
	"github.com/angelmondragon/marketplace-escrow/pkg/types"
)

// CreateOrderInput is what checkout hands over once the buyer has paid (or is about to).
type CreateOrderInput struct {
	BuyerID           uuid.UUID
	SellerID          uuid.UUID
	ProductID         uuid.UUID
	TotalAmount       decimal.Decimal
	ServiceFee        decimal.Decimal
	VerificationLevel enums.VerificationLevel
	ShippingMethod    enums.ShippingMethod
	Status            enums.OrderStatus
	ShipFrom          types.ShipAddress
	ShipTo            types.ShipAddress
	PackageWeightKG   decimal.Decimal
}

// OrderView is the order as participants see it.
type OrderView struct {
	ID                    uuid.UUID               `json:"id"`
	BuyerID               uuid.UUID               `json:"buyer_id"`
	SellerID              uuid.UUID               `json:"seller_id"`
	ProductID             uuid.UUID               `json:"product_id"`
	TotalAmount           decimal.Decimal         `json:"total_amount"`
	ServiceFee            decimal.Decimal         `json:"service_fee"`
	Currency              string                  `json:"currency"`
	VerificationLevel     enums.VerificationLevel `json:"verification_level"`
	ShippingMethod        enums.ShippingMethod    `json:"shipping_method"`
	ShippingStatus        enums.ShippingStatus    `json:"shipping_status"`
	Status                enums.OrderStatus       `json:"status"`
	EscrowReleased        bool                    `json:"escrow_released"`
	BuyerConfirmedReceipt bool                    `json:"buyer_confirmed_receipt"`
	InspectionPeriodEnd   *time.Time              `json:"inspection_period_end,omitempty"`
	QualityRating         *int                    `json:"quality_rating,omitempty"`
	QualityNotes          *string                 `json:"quality_notes,omitempty"`
	ShippingTimeline      types.ShippingTimeline  `json:"shipping_timeline,omitempty"`
	FailureIntent         *enums.FailureIntent    `json:"failure_intent,omitempty"`
	ProviderShipmentID    *string                 `json:"provider_shipment_id,omitempty"`
	TrackingCode          *string                 `json:"tracking_code,omitempty"`
	TrackingURL           *string                 `json:"tracking_url,omitempty"`
	Courier               *string                 `json:"courier,omitempty"`
	ShipFrom              types.ShipAddress       `json:"ship_from"`
	ShipTo                types.ShipAddress       `json:"ship_to"`
	PackageWeightKG       decimal.Decimal         `json:"package_weight_kg"`
	DeliveredAt           *time.Time              `json:"delivered_at,omitempty"`
	CompletedAt           *time.Time              `json:"completed_at,omitempty"`
	CancelledAt           *time.Time              `json:"cancelled_at,omitempty"`
	CreatedAt             time.Time               `json:"created_at"`
	UpdatedAt             time.Time               `json:"updated_at"`
}

// OrderList wraps a page of orders plus the next page cursor.
type OrderList struct {
	Orders     []OrderView `json:"orders"`
	NextCursor string      `json:"next_cursor,omitempty"`
}

// TrackingView is the live shipment state. Stale is set when the provider could not be
// reached and the stored status is returned instead.
type TrackingView struct {
	OrderID            uuid.UUID            `json:"order_id"`
	ProviderShipmentID string               `json:"provider_shipment_id"`
	ShippingStatus     enums.ShippingStatus `json:"shipping_status"`
	ProviderStatus     string               `json:"provider_status,omitempty"`
	TrackingCode       *string              `json:"tracking_code,omitempty"`
	TrackingURL        *string              `json:"tracking_url,omitempty"`
	Courier            *string              `json:"courier,omitempty"`
	Events             any                  `json:"events,omitempty"`
	EscrowReleased     bool                 `json:"escrow_released"`
	Outcome            string               `json:"outcome,omitempty"`
	Stale              bool                 `json:"stale"`
}

func toOrderView(order *models.Order) OrderView {
	return OrderView{
		ID:                    order.ID,
		BuyerID:               order.BuyerID,
		SellerID:              order.SellerID,
		ProductID:             order.ProductID,
		TotalAmount:           order.TotalAmount,
		ServiceFee:            order.ServiceFee,
		Currency:              order.Currency,
		VerificationLevel:     order.VerificationLevel,
		ShippingMethod:        order.ShippingMethod,
		ShippingStatus:        order.ShippingStatus,
		Status:                order.Status,
		EscrowReleased:        order.EscrowReleased,
		BuyerConfirmedReceipt: order.BuyerConfirmedReceipt,
		InspectionPeriodEnd:   order.InspectionPeriodEnd,
		QualityRating:         order.QualityRating,
		QualityNotes:          order.QualityNotes,
		ShippingTimeline:      order.ShippingTimeline,
		FailureIntent:         order.FailureIntent,
		ProviderShipmentID:    order.ProviderShipmentID,
		TrackingCode:          order.TrackingCode,
		TrackingURL:           order.TrackingURL,
		Courier:               order.Courier,
		ShipFrom:              order.ShipFrom,
		ShipTo:                order.ShipTo,
		PackageWeightKG:       order.PackageWeightKG,
		DeliveredAt:           order.DeliveredAt,
		CompletedAt:           order.CompletedAt,
		CancelledAt:           order.CancelledAt,
		CreatedAt:             order.CreatedAt,
		UpdatedAt:             order.UpdatedAt,
	}
}
