package escrow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-escrow/internal/ledger"
	"github.com/angelmondragon/marketplace-escrow/internal/shippinglog"
	"github.com/angelmondragon/marketplace-escrow/pkg/db/models"
	"github.com/angelmondragon/marketplace-escrow/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-escrow/pkg/errors"
	"github.com/angelmondragon/marketplace-escrow/pkg/logger"
	"github.com/angelmondragon/marketplace-escrow/pkg/outbox"
	"github.com/angelmondragon/marketplace-escrow/pkg/types"
)

// OrderStore is the slice of order persistence the state machine drives.
type OrderStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Order, error)
	Save(ctx context.Context, tx *gorm.DB, order *models.Order, columns []string) error
	MarkEscrowReleased(ctx context.Context, tx *gorm.DB, order *models.Order, columns []string) (bool, error)
	ListInspectionDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}

// Ledger credits seller wallets. Credits join the caller's transaction.
type Ledger interface {
	Credit(ctx context.Context, tx *gorm.DB, input ledger.MutationInput) (*models.WalletTransaction, error)
}

// AuditLog appends to the order trail.
type AuditLog interface {
	Append(ctx context.Context, tx *gorm.DB, entry shippinglog.Entry) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type escrowMetrics interface {
	IncReleased(trigger, level string)
	IncRejected(trigger, code string)
}

// Actor is who asked for an escrow action. System actors have a nil UserID.
type Actor struct {
	UserID uuid.UUID
	Role   enums.UserRole
}

// SystemActor is used by the sweep job and webhook ingestion.
var SystemActor = Actor{Role: enums.UserRoleAdmin}

func (a Actor) isAdmin() bool { return a.Role == enums.UserRoleAdmin }

func (a Actor) ref() *uuid.UUID {
	if a.UserID == uuid.Nil {
		return nil
	}
	id := a.UserID
	return &id
}

// Service drives orders through the escrow state machine and applies its decisions.
type Service interface {
	ApplyShippingEvent(ctx context.Context, input ShippingEventInput) (*Result, error)
	ConfirmReceipt(ctx context.Context, orderID uuid.UUID, actor Actor) (*Result, error)
	ConfirmQuality(ctx context.Context, input ConfirmQualityInput) (*Result, error)
	ReleaseEscrow(ctx context.Context, orderID uuid.UUID, actor Actor) (*Result, error)
	Status(ctx context.Context, orderID uuid.UUID, actor Actor) (*StatusView, error)
	ProcessExpired(ctx context.Context) (*SweepResult, error)
}

// ShippingEventInput is a normalized provider status for one order.
type ShippingEventInput struct {
	OrderID      uuid.UUID
	Status       enums.ShippingStatus
	Source       enums.ShippingEventSource
	TrackingCode *string
	TrackingURL  *string
	Courier      *string
	Payload      types.RawJSON
	OccurredAt   time.Time
}

// ConfirmQualityInput carries the buyer's optional rating.
type ConfirmQualityInput struct {
	OrderID uuid.UUID
	Actor   Actor
	Rating  *int
	Notes   *string
}

// Result is the order state after an action was applied.
type Result struct {
	OrderID               uuid.UUID               `json:"order_id"`
	Outcome               Outcome                 `json:"outcome"`
	Status                enums.OrderStatus       `json:"status"`
	ShippingStatus        enums.ShippingStatus    `json:"shipping_status"`
	VerificationLevel     enums.VerificationLevel `json:"verification_level"`
	EscrowReleased        bool                    `json:"escrow_released"`
	BuyerConfirmedReceipt bool                    `json:"buyer_confirmed_receipt"`
	InspectionPeriodEnd   *time.Time              `json:"inspection_period_end,omitempty"`
	FailureIntent         enums.FailureIntent     `json:"failure_intent,omitempty"`
	ReleasedAmount        *decimal.Decimal        `json:"released_amount,omitempty"`
	Reference             string                  `json:"reference,omitempty"`
	Reason                string                  `json:"reason,omitempty"`
}

// SweepResult summarizes one ProcessExpired run.
type SweepResult struct {
	Scanned  int `json:"scanned"`
	Released int `json:"released"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

type ServiceParams struct {
	Orders    OrderStore
	Ledger    Ledger
	Audit     AuditLog
	Outbox    outboxEmitter
	TxRunner  txRunner
	Metrics   escrowMetrics
	Logger    *logger.Logger
	Policy    Policy
	BatchSize int
	Now       func() time.Time
}

type service struct {
	orders    OrderStore
	ledger    Ledger
	audit     AuditLog
	outbox    outboxEmitter
	tx        txRunner
	metrics   escrowMetrics
	logg      *logger.Logger
	policy    Policy
	batchSize int
	now       func() time.Time
}

// NewService wires the escrow engine.
func NewService(params ServiceParams) (Service, error) {
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "order store required")
	}
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "ledger required")
	}
	if params.Audit == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "audit log required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "outbox emitter required")
	}
	if params.TxRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = 100
	}
	return &service{
		orders:    params.Orders,
		ledger:    params.Ledger,
		audit:     params.Audit,
		outbox:    params.Outbox,
		tx:        params.TxRunner,
		metrics:   params.Metrics,
		logg:      params.Logger,
		policy:    params.Policy,
		batchSize: batch,
		now:       now,
	}, nil
}

// command bundles what apply needs beyond the trigger itself.
type command struct {
	action    enums.ShippingLogAction
	source    enums.ShippingEventSource
	actor     Actor
	payload   types.RawJSON
	authorize func(order *models.Order) error
	shipment  *shipmentDetails
}

type shipmentDetails struct {
	trackingCode *string
	trackingURL  *string
	courier      *string
}

func (s *service) ApplyShippingEvent(ctx context.Context, input ShippingEventInput) (*Result, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	source := input.Source
	if source == "" {
		source = enums.ShippingEventSourceWebhook
	}
	at := input.OccurredAt
	if at.IsZero() {
		at = s.now()
	}
	return s.apply(ctx, input.OrderID, Trigger{Kind: TriggerShippingEvent, At: at, Status: input.Status}, command{
		action:  enums.ShippingLogActionShippingEvent,
		source:  source,
		actor:   SystemActor,
		payload: input.Payload,
		shipment: &shipmentDetails{
			trackingCode: input.TrackingCode,
			trackingURL:  input.TrackingURL,
			courier:      input.Courier,
		},
	})
}

func (s *service) ConfirmReceipt(ctx context.Context, orderID uuid.UUID, actor Actor) (*Result, error) {
	return s.apply(ctx, orderID, Trigger{Kind: TriggerConfirmReceipt, At: s.now()}, command{
		action:    enums.ShippingLogActionConfirmReceipt,
		source:    enums.ShippingEventSourceBuyer,
		actor:     actor,
		authorize: buyerOnly(actor),
	})
}

func (s *service) ConfirmQuality(ctx context.Context, input ConfirmQualityInput) (*Result, error) {
	return s.apply(ctx, input.OrderID, Trigger{
		Kind:   TriggerConfirmQuality,
		At:     s.now(),
		Rating: input.Rating,
		Notes:  input.Notes,
	}, command{
		action:    enums.ShippingLogActionConfirmQuality,
		source:    enums.ShippingEventSourceBuyer,
		actor:     input.Actor,
		authorize: buyerOnly(input.Actor),
	})
}

func (s *service) ReleaseEscrow(ctx context.Context, orderID uuid.UUID, actor Actor) (*Result, error) {
	return s.apply(ctx, orderID, Trigger{Kind: TriggerReleaseRequest, At: s.now()}, command{
		action:    enums.ShippingLogActionReleaseEscrow,
		source:    sourceFor(actor),
		actor:     actor,
		authorize: participantOrAdmin(actor),
	})
}

// ProcessExpired releases every premium order whose inspection window has closed.
// One order failing does not stop the rest of the batch.
func (s *service) ProcessExpired(ctx context.Context) (*SweepResult, error) {
	now := s.now()
	ids, err := s.orders.ListInspectionDue(ctx, now, s.batchSize)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list inspection due orders")
	}

	result := &SweepResult{Scanned: len(ids)}
	var errs error
	for _, id := range ids {
		res, err := s.apply(ctx, id, Trigger{Kind: TriggerInspectionSweep, At: now}, command{
			action: enums.ShippingLogActionInspection,
			source: enums.ShippingEventSourceSystem,
			actor:  SystemActor,
		})
		if err != nil {
			if typed := pkgerrors.As(err); typed != nil && typed.Code() != pkgerrors.CodeInternal {
				result.Skipped++
				continue
			}
			result.Failed++
			errs = multierr.Append(errs, fmt.Errorf("order %s: %w", id, err))
			continue
		}
		if res.Outcome == OutcomeReleased {
			result.Released++
		} else {
			result.Skipped++
		}
	}
	if errs != nil {
		s.logg.Error(ctx, "escrow sweep finished with failures", errs)
	}
	return result, errs
}

func (s *service) apply(ctx context.Context, orderID uuid.UUID, trigger Trigger, cmd command) (*Result, error) {
	ctx = s.logg.WithOrderID(ctx, orderID.String())

	var (
		loaded   *models.Order
		decision Decision
		rejected error
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.orders.FindByIDForUpdate(ctx, tx, orderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
		}
		if order == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		snapshot := *order
		loaded = &snapshot
		if cmd.authorize != nil {
			if err := cmd.authorize(order); err != nil {
				rejected = err
				return err
			}
		}

		decision, err = Decide(*order, trigger, s.policy)
		if err != nil {
			rejected = err
			return err
		}
		return s.commit(ctx, tx, order, trigger, &decision, cmd)
	})
	if err != nil {
		if rejected != nil && loaded != nil {
			s.recordRejection(ctx, loaded, trigger, cmd, rejected)
		}
		return nil, err
	}

	if decision.Outcome == OutcomeReleased && s.metrics != nil {
		s.metrics.IncReleased(string(trigger.Kind), string(loaded.VerificationLevel))
	}
	return s.result(loaded, decision), nil
}

// commit persists the decision. Order state, the ledger credit, the audit row and
// outbox events share tx.
func (s *service) commit(ctx context.Context, tx *gorm.DB, order *models.Order, trigger Trigger, decision *Decision, cmd command) error {
	previous := order.ShippingStatus
	columns := applyPatch(order, decision.Patch)
	if cmd.shipment != nil {
		columns = append(columns, applyShipmentDetails(order, cmd.shipment)...)
	}

	if decision.Release != nil {
		ok, err := s.orders.MarkEscrowReleased(ctx, tx, order, columns)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark escrow released")
		}
		if !ok {
			decision.Outcome = OutcomeAlreadyReleased
			decision.Release = nil
			decision.Reason = "escrow already released"
		} else if decision.Release.Amount.IsPositive() {
			orderID := order.ID
			_, err := s.ledger.Credit(ctx, tx, ledger.MutationInput{
				UserID:    decision.Release.SellerID,
				Amount:    decision.Release.Amount,
				Reference: decision.Release.Reference,
				Narration: fmt.Sprintf("Escrow release for order %s", order.ID),
				Type:      enums.WalletTransactionEscrowCredit,
				OrderID:   &orderID,
				Verified:  true,
			})
			if err != nil {
				return err
			}
		}
	} else if len(columns) > 0 {
		if err := s.orders.Save(ctx, tx, order, columns); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update order")
		}
	}

	if err := s.audit.Append(ctx, tx, shippinglog.Entry{
		OrderID: order.ID,
		Action:  cmd.action,
		Status:  auditStatus(order, trigger),
		Outcome: string(decision.Outcome),
		Source:  cmd.source,
		ActorID: cmd.actor.ref(),
		Payload: cmd.payload,
		Notes:   decision.Reason,
	}); err != nil {
		return err
	}

	return s.emitEvents(ctx, tx, order, previous, trigger, decision, cmd)
}

func (s *service) emitEvents(ctx context.Context, tx *gorm.DB, order *models.Order, previous enums.ShippingStatus, trigger Trigger, decision *Decision, cmd command) error {
	var events []outbox.DomainEvent
	if decision.Patch.ShippingStatus != nil && decision.Outcome != OutcomeAlreadyReleased {
		events = append(events, orderEvent(order, enums.EventShippingStatusChanged, trigger.At, statusChangedPayload(order, previous, cmd.source, trigger.At)))
	}
	if decision.Outcome == OutcomeInspectionStarted && order.InspectionPeriodEnd != nil {
		events = append(events, orderEvent(order, enums.EventInspectionStarted, trigger.At, inspectionStartedPayload(order)))
	}
	if decision.FailureIntent != enums.FailureIntentNone {
		events = append(events, orderEvent(order, enums.EventShipmentFailed, trigger.At, shipmentFailedPayload(order, decision.FailureIntent)))
	}
	if decision.Outcome == OutcomeReleased && decision.Release != nil {
		events = append(events, orderEvent(order, enums.EventEscrowReleased, trigger.At, escrowReleasedPayload(order, decision.Release, trigger)))
	}

	for _, event := range events {
		if id := cmd.actor.ref(); id != nil {
			event.Actor = &outbox.ActorRef{UserID: *id, Role: string(cmd.actor.Role)}
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit "+string(event.EventType))
		}
	}
	return nil
}

// recordRejection audits a refused action outside the rolled-back transaction.
func (s *service) recordRejection(ctx context.Context, order *models.Order, trigger Trigger, cmd command, rejected error) {
	code := pkgerrors.CodeInternal
	if typed := pkgerrors.As(rejected); typed != nil {
		code = typed.Code()
	}
	if s.metrics != nil {
		s.metrics.IncRejected(string(trigger.Kind), string(code))
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"trigger":            string(trigger.Kind),
		"verification_level": string(order.VerificationLevel),
		"code":               string(code),
	})
	s.logg.Warn(logCtx, "escrow action rejected: "+rejected.Error())

	err := s.audit.Append(ctx, nil, shippinglog.Entry{
		OrderID: order.ID,
		Action:  cmd.action,
		Status:  auditStatus(order, trigger),
		Outcome: string(OutcomeRejected),
		Source:  cmd.source,
		ActorID: cmd.actor.ref(),
		Payload: cmd.payload,
		Notes:   rejected.Error(),
	})
	if err != nil {
		s.logg.Error(logCtx, "failed to audit rejected escrow action", err)
	}
}

func (s *service) result(order *models.Order, decision Decision) *Result {
	view := *order
	applyPatch(&view, decision.Patch)
	if decision.Release != nil || decision.Outcome == OutcomeAlreadyReleased {
		view.EscrowReleased = true
	}
	res := &Result{
		OrderID:               view.ID,
		Outcome:               decision.Outcome,
		Status:                view.Status,
		ShippingStatus:        view.ShippingStatus,
		VerificationLevel:     view.VerificationLevel,
		EscrowReleased:        view.EscrowReleased,
		BuyerConfirmedReceipt: view.BuyerConfirmedReceipt,
		InspectionPeriodEnd:   view.InspectionPeriodEnd,
		FailureIntent:         decision.FailureIntent,
		Reason:                decision.Reason,
	}
	if decision.Release != nil {
		amount := decision.Release.Amount
		res.ReleasedAmount = &amount
		res.Reference = decision.Release.Reference
	}
	return res
}

func buyerOnly(actor Actor) func(order *models.Order) error {
	return func(order *models.Order) error {
		if actor.isAdmin() || actor.UserID == order.BuyerID {
			return nil
		}
		return pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer can confirm this order")
	}
}

func participantOrAdmin(actor Actor) func(order *models.Order) error {
	return func(order *models.Order) error {
		if actor.isAdmin() || order.IsParticipant(actor.UserID) {
			return nil
		}
		return pkgerrors.New(pkgerrors.CodeForbidden, "not a participant in this order")
	}
}

func sourceFor(actor Actor) enums.ShippingEventSource {
	if actor.UserID == uuid.Nil {
		return enums.ShippingEventSourceSystem
	}
	return enums.ShippingEventSourceBuyer
}

func auditStatus(order *models.Order, trigger Trigger) string {
	if trigger.Kind == TriggerShippingEvent && trigger.Status != "" {
		return string(trigger.Status)
	}
	return string(order.ShippingStatus)
}
