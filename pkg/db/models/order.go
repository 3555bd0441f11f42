package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketplace-escrow/pkg/enums"
	"github.com/angelmondragon/marketplace-escrow/pkg/types"
)

// Order is a single buyer/seller transaction held in escrow until delivery policy releases it.
type Order struct {
	ID                    uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	BuyerID               uuid.UUID               `gorm:"column:buyer_id;type:uuid;not null"`
	SellerID              uuid.UUID               `gorm:"column:seller_id;type:uuid;not null"`
	ProductID             uuid.UUID               `gorm:"column:product_id;type:uuid;not null"`
	TotalAmount           decimal.Decimal         `gorm:"column:total_amount;type:numeric(14,2);not null"`
	ServiceFee            decimal.Decimal         `gorm:"column:service_fee;type:numeric(14,2);not null;default:0"`
	Currency              string                  `gorm:"column:currency;not null;default:'NGN'"`
	VerificationLevel     enums.VerificationLevel `gorm:"column:verification_level;not null"`
	ShippingMethod        enums.ShippingMethod    `gorm:"column:shipping_method;not null"`
	ShippingStatus        enums.ShippingStatus    `gorm:"column:shipping_status;not null"`
	Status                enums.OrderStatus       `gorm:"column:status;not null"`
	EscrowReleased        bool                    `gorm:"column:escrow_released;not null;default:false"`
	BuyerConfirmedReceipt bool                    `gorm:"column:buyer_confirmed_receipt;not null;default:false"`
	InspectionPeriodEnd   *time.Time              `gorm:"column:inspection_period_end"`
	QualityRating         *int                    `gorm:"column:quality_rating"`
	QualityNotes          *string                 `gorm:"column:quality_notes"`
	ShippingTimeline      types.ShippingTimeline  `gorm:"column:shipping_timeline;type:jsonb"`
	FailureIntent         *enums.FailureIntent    `gorm:"column:failure_intent"`
	ProviderShipmentID    *string                 `gorm:"column:provider_shipment_id"`
	TrackingCode          *string                 `gorm:"column:tracking_code"`
	TrackingURL           *string                 `gorm:"column:tracking_url"`
	Courier               *string                 `gorm:"column:courier"`
	ShipFrom              types.ShipAddress       `gorm:"column:ship_from;type:jsonb;serializer:json"`
	ShipTo                types.ShipAddress       `gorm:"column:ship_to;type:jsonb;serializer:json"`
	PackageWeightKG       decimal.Decimal         `gorm:"column:package_weight_kg;type:numeric(8,2);not null;default:1"`
	DeliveredAt           *time.Time              `gorm:"column:delivered_at"`
	CompletedAt           *time.Time              `gorm:"column:completed_at"`
	CancelledAt           *time.Time              `gorm:"column:cancelled_at"`
	CreatedAt             time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

// SellerCredit is the amount released to the seller.
func (o Order) SellerCredit() decimal.Decimal {
	return o.TotalAmount.Sub(o.ServiceFee)
}

// IsParticipant reports whether the user is the buyer or the seller.
func (o Order) IsParticipant(userID uuid.UUID) bool {
	return userID == o.BuyerID || userID == o.SellerID
}
