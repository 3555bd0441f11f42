package shipbubblewebhook

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-escrow/internal/escrow"
	"github.com/angelmondragon/marketplace-escrow/internal/shipping"
	"github.com/angelmondragon/marketplace-escrow/internal/shippinglog"
	"github.com/angelmondragon/marketplace-escrow/pkg/db/models"
	"github.com/angelmondragon/marketplace-escrow/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-escrow/pkg/errors"
	"github.com/angelmondragon/marketplace-escrow/pkg/logger"
	"github.com/angelmondragon/marketplace-escrow/pkg/types"
)

// Event is the inbound delivery-status notification.
type Event struct {
	ProviderShipmentID string            `json:"providerShipmentId" validate:"required_without=OrderID,max=128"`
	OrderID            string            `json:"order_id" validate:"omitempty,max=128"`
	Status             string            `json:"status" validate:"required,max=64"`
	TrackingCode       *string           `json:"trackingCode" validate:"omitempty,max=128"`
	TrackingURL        *string           `json:"trackingUrl" validate:"omitempty,max=512"`
	Courier            *string           `json:"courier" validate:"omitempty,max=128"`
	Events             []json.RawMessage `json:"events"`
}

// ShipmentID returns the provider shipment id. ShipBubble's native payload calls it order_id.
func (e Event) ShipmentID() string {
	if id := strings.TrimSpace(e.ProviderShipmentID); id != "" {
		return id
	}
	return strings.TrimSpace(e.OrderID)
}

// Result is what the endpoint reports back to the provider.
type Result struct {
	Outcome        string               `json:"outcome"`
	OrderID        *uuid.UUID           `json:"order_id,omitempty"`
	ShippingStatus enums.ShippingStatus `json:"shipping_status,omitempty"`
	EscrowReleased bool                 `json:"escrow_released"`
	Reason         string               `json:"reason,omitempty"`
}

const (
	OutcomeIgnored   = "ignored"
	OutcomeDuplicate = "duplicate"
)

type orderFinder interface {
	FindByProviderShipmentID(ctx context.Context, providerShipmentID string) (*models.Order, error)
}

type escrowApplier interface {
	ApplyShippingEvent(ctx context.Context, input escrow.ShippingEventInput) (*escrow.Result, error)
}

type auditLog interface {
	Append(ctx context.Context, tx *gorm.DB, entry shippinglog.Entry) error
}

type webhookMetrics interface {
	IncWebhookEvent(status, outcome string)
}

type ServiceParams struct {
	Orders  orderFinder
	Escrow  escrowApplier
	Audit   auditLog
	Metrics webhookMetrics
	Logger  *logger.Logger
}

type Service struct {
	orders  orderFinder
	escrow  escrowApplier
	audit   auditLog
	metrics webhookMetrics
	logg    *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order repository required")
	}
	if params.Escrow == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "escrow service required")
	}
	if params.Audit == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "audit log required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		orders:  params.Orders,
		escrow:  params.Escrow,
		audit:   params.Audit,
		metrics: params.Metrics,
		logg:    params.Logger,
	}, nil
}

// HandleEvent applies one provider notification. Unknown orders are NotFound; events the
// engine refuses are acknowledged as ignored so the provider stops retrying them.
func (s *Service) HandleEvent(ctx context.Context, raw []byte, event Event) (*Result, error) {
	shipmentID := event.ShipmentID()
	if shipmentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "provider shipment id is required")
	}
	ctx = s.logg.WithShipmentID(ctx, shipmentID)

	order, err := s.orders.FindByProviderShipmentID(ctx, shipmentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup order by shipment")
	}
	if order == nil {
		s.count(event.Status, "not_found")
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	ctx = s.logg.WithOrderID(ctx, order.ID.String())
	orderID := order.ID

	if order.ShippingMethod != enums.ShippingMethodShipBubble {
		return s.ignore(ctx, order, raw, event.Status, "shipping method "+string(order.ShippingMethod)+" does not accept provider events")
	}

	status, known := shipping.NormalizeStatus(event.Status)
	if !known {
		return s.ignore(ctx, order, raw, event.Status, "unknown provider status "+event.Status)
	}

	res, err := s.escrow.ApplyShippingEvent(ctx, escrow.ShippingEventInput{
		OrderID:      order.ID,
		Status:       status,
		Source:       enums.ShippingEventSourceWebhook,
		TrackingCode: event.TrackingCode,
		TrackingURL:  event.TrackingURL,
		Courier:      event.Courier,
		Payload:      types.RawJSON(raw),
	})
	if err != nil {
		typed := pkgerrors.As(err)
		if typed == nil || typed.Code() == pkgerrors.CodeInternal || typed.Code() == pkgerrors.CodeNotFound {
			s.count(string(status), "error")
			return nil, err
		}
		// Rejections are audited by the escrow service.
		s.count(string(status), "rejected")
		return &Result{Outcome: OutcomeIgnored, OrderID: &orderID, ShippingStatus: order.ShippingStatus, EscrowReleased: order.EscrowReleased, Reason: typed.Message()}, nil
	}

	s.count(string(status), string(res.Outcome))
	s.logg.Info(ctx, "shipping event "+string(status)+" applied: "+string(res.Outcome))
	return &Result{
		Outcome:        string(res.Outcome),
		OrderID:        &orderID,
		ShippingStatus: res.ShippingStatus,
		EscrowReleased: res.EscrowReleased,
		Reason:         res.Reason,
	}, nil
}

func (s *Service) ignore(ctx context.Context, order *models.Order, raw []byte, status, reason string) (*Result, error) {
	s.count(status, OutcomeIgnored)
	s.logg.Warn(ctx, "shipping event ignored: "+reason)
	if err := s.audit.Append(ctx, nil, shippinglog.Entry{
		OrderID: order.ID,
		Action:  enums.ShippingLogActionShippingEvent,
		Status:  status,
		Outcome: OutcomeIgnored,
		Source:  enums.ShippingEventSourceWebhook,
		Payload: types.RawJSON(raw),
		Notes:   reason,
	}); err != nil {
		return nil, err
	}
	orderID := order.ID
	return &Result{Outcome: OutcomeIgnored, OrderID: &orderID, ShippingStatus: order.ShippingStatus, EscrowReleased: order.EscrowReleased, Reason: reason}, nil
}

func (s *Service) count(status, outcome string) {
	if s.metrics != nil {
		s.metrics.IncWebhookEvent(status, outcome)
	}
}
