package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-escrow/pkg/enums"
)

// ShippingStatusChangedEvent fans out every accepted shipment status change.
type ShippingStatusChangedEvent struct {
	OrderID            uuid.UUID                 `json:"order_id"`
	BuyerID            uuid.UUID                 `json:"buyer_id"`
	SellerID           uuid.UUID                 `json:"seller_id"`
	PreviousStatus     enums.ShippingStatus      `json:"previous_status"`
	ShippingStatus     enums.ShippingStatus      `json:"shipping_status"`
	OrderStatus        enums.OrderStatus         `json:"order_status"`
	Source             enums.ShippingEventSource `json:"source"`
	ProviderShipmentID *string                   `json:"provider_shipment_id,omitempty"`
	OccurredAt         time.Time                 `json:"occurred_at"`
}

// InspectionStartedEvent is emitted when a premium order enters its inspection window.
type InspectionStartedEvent struct {
	OrderID             uuid.UUID `json:"order_id"`
	BuyerID             uuid.UUID `json:"buyer_id"`
	SellerID            uuid.UUID `json:"seller_id"`
	InspectionPeriodEnd time.Time `json:"inspection_period_end"`
}

// EscrowReleasedEvent is emitted once per order when funds reach the seller wallet.
type EscrowReleasedEvent struct {
	OrderID           uuid.UUID               `json:"order_id"`
	BuyerID           uuid.UUID               `json:"buyer_id"`
	SellerID          uuid.UUID               `json:"seller_id"`
	VerificationLevel enums.VerificationLevel `json:"verification_level"`
	Amount            string                  `json:"amount"`
	Currency          string                  `json:"currency"`
	Reference         string                  `json:"reference"`
	Trigger           string                  `json:"trigger"`
	ReleasedAt        time.Time               `json:"released_at"`
}

// ShipmentFailedEvent routes failed or returned shipments to refund or retry handling.
type ShipmentFailedEvent struct {
	OrderID        uuid.UUID            `json:"order_id"`
	BuyerID        uuid.UUID            `json:"buyer_id"`
	SellerID       uuid.UUID            `json:"seller_id"`
	ShippingStatus enums.ShippingStatus `json:"shipping_status"`
	Intent         enums.FailureIntent  `json:"intent"`
}

// WalletWithdrawalCompletedEvent is emitted after a successful withdrawal debit.
type WalletWithdrawalCompletedEvent struct {
	UserID        uuid.UUID `json:"user_id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	Reference     string    `json:"reference"`
	Amount        string    `json:"amount"`
	BalanceAfter  string    `json:"balance_after"`
}
