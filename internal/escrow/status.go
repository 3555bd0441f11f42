package escrow

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-escrow/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-escrow/pkg/errors"
)

// StatusView is the escrow read model for an order.
type StatusView struct {
	OrderID               uuid.UUID               `json:"order_id"`
	VerificationLevel     enums.VerificationLevel `json:"verification_level"`
	ShippingStatus        enums.ShippingStatus    `json:"shipping_status"`
	Status                enums.OrderStatus       `json:"status"`
	EscrowReleased        bool                    `json:"escrow_released"`
	BuyerConfirmedReceipt bool                    `json:"buyer_confirmed_receipt"`
	InspectionPeriodEnd   *time.Time              `json:"inspection_period_end,omitempty"`
	CanReleaseEscrow      bool                    `json:"can_release_escrow"`
	CanConfirmQuality     bool                    `json:"can_confirm_quality"`
	HoursRemaining        *int                    `json:"hours_remaining,omitempty"`
}

func (s *service) Status(ctx context.Context, orderID uuid.UUID, actor Actor) (*StatusView, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if err := participantOrAdmin(actor)(order); err != nil {
		return nil, err
	}

	now := s.now()
	view := &StatusView{
		OrderID:               order.ID,
		VerificationLevel:     order.VerificationLevel,
		ShippingStatus:        order.ShippingStatus,
		Status:                order.Status,
		EscrowReleased:        order.EscrowReleased,
		BuyerConfirmedReceipt: order.BuyerConfirmedReceipt,
		InspectionPeriodEnd:   order.InspectionPeriodEnd,
	}
	if !order.EscrowReleased {
		release, err := Decide(*order, Trigger{Kind: TriggerReleaseRequest, At: now}, s.policy)
		view.CanReleaseEscrow = err == nil && release.Release != nil

		quality, err := Decide(*order, Trigger{Kind: TriggerConfirmQuality, At: now}, s.policy)
		view.CanConfirmQuality = err == nil && quality.Release != nil
	}
	if order.VerificationLevel == enums.VerificationLevelPremium && order.InspectionPeriodEnd != nil && !order.EscrowReleased {
		hours := HoursRemaining(*order.InspectionPeriodEnd, now)
		view.HoursRemaining = &hours
	}
	return view, nil
}
