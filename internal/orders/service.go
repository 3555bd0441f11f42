package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-escrow/internal/escrow"
	"github.com/angelmondragon/marketplace-escrow/internal/ledger"
	"github.com/angelmondragon/marketplace-escrow/internal/shipping"
	"github.com/angelmondragon/marketplace-escrow/internal/shippinglog"
	"github.com/angelmondragon/marketplace-escrow/pkg/db/models"
	"github.com/angelmondragon/marketplace-escrow/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-escrow/pkg/errors"
	"github.com/angelmondragon/marketplace-escrow/pkg/logger"
	"github.com/angelmondragon/marketplace-escrow/pkg/outbox"
	"github.com/angelmondragon/marketplace-escrow/pkg/outbox/payloads"
	"github.com/angelmondragon/marketplace-escrow/pkg/pagination"
	"github.com/angelmondragon/marketplace-escrow/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// EscrowEngine receives polled status changes.
type EscrowEngine interface {
	ApplyShippingEvent(ctx context.Context, input escrow.ShippingEventInput) (*escrow.Result, error)
}

// Shipper books and tracks provider shipments.
type Shipper interface {
	CreateShipment(ctx context.Context, req shipping.ShipmentRequest) (*shipping.ShipmentResult, error)
	Track(ctx context.Context, providerShipmentID string) (*shipping.TrackResult, error)
}

type auditTrail interface {
	Append(ctx context.Context, tx *gorm.DB, entry shippinglog.Entry) error
	ListByOrder(ctx context.Context, orderID uuid.UUID, params pagination.Params) (*shippinglog.Page, error)
}

// Service covers order intake and the shipment side of the lifecycle. Escrow transitions
// themselves live in the escrow package.
type Service interface {
	Create(ctx context.Context, input CreateOrderInput) (*OrderView, error)
	Get(ctx context.Context, orderID uuid.UUID, actor escrow.Actor) (*OrderView, error)
	List(ctx context.Context, actor escrow.Actor, params pagination.Params) (*OrderList, error)
	CreateShipment(ctx context.Context, orderID uuid.UUID, actor escrow.Actor, serviceCode string) (*OrderView, error)
	Track(ctx context.Context, orderID uuid.UUID, actor escrow.Actor) (*TrackingView, error)
	ShippingLogs(ctx context.Context, orderID uuid.UUID, actor escrow.Actor, params pagination.Params) (*shippinglog.Page, error)
}

type ServiceParams struct {
	Repository Repository
	TxRunner   txRunner
	Outbox     outboxPublisher
	Escrow     EscrowEngine
	Shipping   Shipper
	Audit      auditTrail
	Logger     *logger.Logger
	Now        func() time.Time
}

type service struct {
	repo     Repository
	tx       txRunner
	outbox   outboxPublisher
	escrow   EscrowEngine
	shipping Shipper
	audit    auditTrail
	logg     *logger.Logger
	now      func() time.Time
}

// NewService wires the order service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.TxRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Escrow == nil {
		return nil, fmt.Errorf("escrow engine required")
	}
	if params.Shipping == nil {
		return nil, fmt.Errorf("shipping service required")
	}
	if params.Audit == nil {
		return nil, fmt.Errorf("shipping log required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:     params.Repository,
		tx:       params.TxRunner,
		outbox:   params.Outbox,
		escrow:   params.Escrow,
		shipping: params.Shipping,
		audit:    params.Audit,
		logg:     params.Logger,
		now:      now,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateOrderInput) (*OrderView, error) {
	order, err := newOrder(input)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, nil, order); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create order")
	}
	s.logg.Info(s.logg.WithOrderID(ctx, order.ID.String()), "order created")
	view := toOrderView(order)
	return &view, nil
}

func newOrder(input CreateOrderInput) (*models.Order, error) {
	if input.BuyerID == uuid.Nil || input.SellerID == uuid.Nil || input.ProductID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer, seller and product are required")
	}
	if input.BuyerID == input.SellerID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer and seller must differ")
	}
	if !input.TotalAmount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "total amount must be positive")
	}
	if input.ServiceFee.IsNegative() || input.ServiceFee.GreaterThan(input.TotalAmount) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "service fee must be between 0 and the total amount")
	}
	if !input.VerificationLevel.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid verification level")
	}

	status := input.Status
	if status == "" {
		status = enums.OrderStatusPaid
	}
	if status != enums.OrderStatusPending && status != enums.OrderStatusPaid {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "new orders must be pending or paid")
	}

	method := input.ShippingMethod
	shippingStatus := enums.ShippingStatusPendingPickup
	if input.VerificationLevel == enums.VerificationLevelSelfArranged {
		method = enums.ShippingMethodSelfArranged
	}
	if method == "" {
		method = enums.ShippingMethodShipBubble
	}
	if !method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid shipping method")
	}
	if method == enums.ShippingMethodSelfArranged {
		shippingStatus = enums.ShippingStatusSelfPickup
	} else if input.ShipFrom.State == "" || input.ShipTo.State == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "ship-from and ship-to states are required for provider shipping")
	}

	weight := input.PackageWeightKG
	if weight.IsZero() {
		weight = decimal.NewFromInt(1)
	}
	if weight.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "package weight must be positive")
	}

	return &models.Order{
		BuyerID:           input.BuyerID,
		SellerID:          input.SellerID,
		ProductID:         input.ProductID,
		TotalAmount:       input.TotalAmount,
		ServiceFee:        input.ServiceFee,
		Currency:          ledger.Currency,
		VerificationLevel: input.VerificationLevel,
		ShippingMethod:    method,
		ShippingStatus:    shippingStatus,
		Status:            status,
		ShippingTimeline:  types.ShippingTimeline{},
		ShipFrom:          input.ShipFrom,
		ShipTo:            input.ShipTo,
		PackageWeightKG:   weight,
	}, nil
}

func (s *service) Get(ctx context.Context, orderID uuid.UUID, actor escrow.Actor) (*OrderView, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := canView(order, actor); err != nil {
		return nil, err
	}
	view := toOrderView(order)
	return &view, nil
}

func (s *service) List(ctx context.Context, actor escrow.Actor, params pagination.Params) (*OrderList, error) {
	if actor.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListByParticipant(ctx, actor.UserID, cursor, params.Limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list orders")
	}
	rows, next := pagination.Trim(rows, params.Limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	})
	list := &OrderList{Orders: make([]OrderView, 0, len(rows)), NextCursor: next}
	for i := range rows {
		list.Orders = append(list.Orders, toOrderView(&rows[i]))
	}
	return list, nil
}

// CreateShipment books a courier for a provider-shipped order. The booking happens before
// the transaction, so a provider failure leaves the order exactly as it was.
func (s *service) CreateShipment(ctx context.Context, orderID uuid.UUID, actor escrow.Actor, serviceCode string) (*OrderView, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithOrderID(ctx, order.ID.String())
	if actor.UserID != order.SellerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the seller can create the shipment")
	}
	if err := checkShippable(order); err != nil {
		return nil, err
	}

	booked, err := s.shipping.CreateShipment(ctx, shipping.ShipmentRequest{
		Parcel: shipping.Parcel{
			ShipFrom:  order.ShipFrom,
			ShipTo:    order.ShipTo,
			WeightKG:  order.PackageWeightKG,
			ItemValue: order.TotalAmount,
			ItemName:  "Order " + order.ID.String(),
		},
		ServiceCode: serviceCode,
	})
	if err != nil {
		s.logg.Warn(ctx, "shipment booking failed: "+err.Error())
		return nil, err
	}
	ctx = s.logg.WithShipmentID(ctx, booked.ProviderShipmentID)

	var updated *models.Order
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		locked, err := s.repo.FindByIDForUpdate(ctx, tx, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
		}
		if locked == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		if err := checkShippable(locked); err != nil {
			return err
		}

		at := s.now().UTC()
		previous := locked.ShippingStatus
		shipmentID := booked.ProviderShipmentID
		locked.ProviderShipmentID = &shipmentID
		locked.TrackingCode = optional(booked.TrackingCode)
		locked.TrackingURL = optional(booked.TrackingURL)
		locked.Courier = optional(booked.Courier)
		locked.ShippingStatus = booked.Status
		timeline := locked.ShippingTimeline.Clone()
		timeline.SetOnce(types.MilestoneOrderConfirmed, at)
		locked.ShippingTimeline = timeline

		columns := []string{"provider_shipment_id", "tracking_code", "tracking_url", "courier", "shipping_status", "shipping_timeline"}
		if err := s.repo.Save(ctx, tx, locked, columns); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store shipment")
		}
		sellerID := actor.UserID
		if err := s.audit.Append(ctx, tx, shippinglog.Entry{
			OrderID: locked.ID,
			Action:  enums.ShippingLogActionShipment,
			Status:  string(locked.ShippingStatus),
			Outcome: string(escrow.OutcomeApplied),
			Source:  enums.ShippingEventSourceSystem,
			ActorID: &sellerID,
			Notes:   "shipment " + shipmentID + " booked",
		}); err != nil {
			return err
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventShippingStatusChanged,
			AggregateType: enums.AggregateOrder,
			AggregateID:   locked.ID,
			Actor:         &outbox.ActorRef{UserID: sellerID, Role: string(actor.Role)},
			Data: payloads.ShippingStatusChangedEvent{
				OrderID:            locked.ID,
				BuyerID:            locked.BuyerID,
				SellerID:           locked.SellerID,
				PreviousStatus:     previous,
				ShippingStatus:     locked.ShippingStatus,
				OrderStatus:        locked.Status,
				Source:             enums.ShippingEventSourceSystem,
				ProviderShipmentID: locked.ProviderShipmentID,
				OccurredAt:         at,
			},
			OccurredAt: at,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit shipment event")
		}
		updated = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(ctx, "shipment created")
	view := toOrderView(updated)
	return &view, nil
}

func checkShippable(order *models.Order) error {
	if order.ShippingMethod != enums.ShippingMethodShipBubble {
		return pkgerrors.New(pkgerrors.CodeVerificationMismatch, "order is not shipped through the provider")
	}
	if order.ProviderShipmentID != nil && *order.ProviderShipmentID != "" {
		return pkgerrors.New(pkgerrors.CodeConflict, "shipment already created")
	}
	if order.Status != enums.OrderStatusPending && order.Status != enums.OrderStatusPaid {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order can no longer be shipped")
	}
	return nil
}

// Track polls the provider. A changed status goes through the escrow state machine like a
// webhook would; if the provider is unreachable the stored state is returned marked stale.
func (s *service) Track(ctx context.Context, orderID uuid.UUID, actor escrow.Actor) (*TrackingView, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := canView(order, actor); err != nil {
		return nil, err
	}
	if order.ProviderShipmentID == nil || *order.ProviderShipmentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order has no provider shipment")
	}
	ctx = s.logg.WithShipmentID(s.logg.WithOrderID(ctx, order.ID.String()), *order.ProviderShipmentID)

	view := &TrackingView{
		OrderID:            order.ID,
		ProviderShipmentID: *order.ProviderShipmentID,
		ShippingStatus:     order.ShippingStatus,
		TrackingCode:       order.TrackingCode,
		TrackingURL:        order.TrackingURL,
		Courier:            order.Courier,
		EscrowReleased:     order.EscrowReleased,
	}

	tracked, err := s.shipping.Track(ctx, *order.ProviderShipmentID)
	if err != nil {
		s.logg.Warn(ctx, "tracking unavailable, serving stored status: "+err.Error())
		view.Stale = true
		return view, nil
	}
	view.ProviderStatus = tracked.RawStatus
	if len(tracked.Events) > 0 {
		view.Events = tracked.Events
	}
	if !tracked.Known || tracked.Status == order.ShippingStatus {
		return view, nil
	}

	res, err := s.escrow.ApplyShippingEvent(ctx, escrow.ShippingEventInput{
		OrderID:      order.ID,
		Status:       tracked.Status,
		Source:       enums.ShippingEventSourcePoll,
		TrackingCode: optional(tracked.TrackingCode),
		TrackingURL:  optional(tracked.TrackingURL),
		Courier:      optional(tracked.Courier),
	})
	if err != nil {
		typed := pkgerrors.As(err)
		if typed == nil || typed.Code() == pkgerrors.CodeInternal {
			return nil, err
		}
		view.Outcome = string(escrow.OutcomeRejected)
		return view, nil
	}
	view.ShippingStatus = res.ShippingStatus
	view.EscrowReleased = res.EscrowReleased
	view.Outcome = string(res.Outcome)
	if v := optional(tracked.TrackingCode); v != nil {
		view.TrackingCode = v
	}
	if v := optional(tracked.TrackingURL); v != nil {
		view.TrackingURL = v
	}
	if v := optional(tracked.Courier); v != nil {
		view.Courier = v
	}
	return view, nil
}

func (s *service) ShippingLogs(ctx context.Context, orderID uuid.UUID, actor escrow.Actor, params pagination.Params) (*shippinglog.Page, error) {
	order, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := canView(order, actor); err != nil {
		return nil, err
	}
	return s.audit.ListByOrder(ctx, order.ID, params)
}

func (s *service) load(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return order, nil
}

func canView(order *models.Order, actor escrow.Actor) error {
	if actor.Role == enums.UserRoleAdmin || order.IsParticipant(actor.UserID) {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "not a participant of this order")
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
