package escrow

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketplace-escrow/pkg/db/models"
	"github.com/angelmondragon/marketplace-escrow/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-escrow/pkg/errors"
	"github.com/angelmondragon/marketplace-escrow/pkg/types"
)

// DefaultInspectionPeriod is how long a premium buyer has to inspect a delivered item.
const DefaultInspectionPeriod = 48 * time.Hour

// TriggerKind names what asked the state machine to act.
type TriggerKind string

const (
	TriggerShippingEvent   TriggerKind = "shipping_event"
	TriggerConfirmReceipt  TriggerKind = "confirm_receipt"
	TriggerConfirmQuality  TriggerKind = "confirm_quality"
	TriggerReleaseRequest  TriggerKind = "release_request"
	TriggerInspectionSweep TriggerKind = "inspection_sweep"
)

// Trigger is one input to Decide.
type Trigger struct {
	Kind   TriggerKind
	At     time.Time
	Status enums.ShippingStatus
	Rating *int
	Notes  *string
}

// Policy carries the tunables Decide needs.
type Policy struct {
	InspectionPeriod time.Duration
}

func (p Policy) inspectionPeriod() time.Duration {
	if p.InspectionPeriod <= 0 {
		return DefaultInspectionPeriod
	}
	return p.InspectionPeriod
}

// Outcome summarizes what a decision did to the order.
type Outcome string

const (
	OutcomeApplied           Outcome = "applied"
	OutcomeInspectionStarted Outcome = "inspection_started"
	OutcomeReleased          Outcome = "released"
	OutcomeAlreadyReleased   Outcome = "already_released"
	OutcomeFailureRouted     Outcome = "failure_routed"
	OutcomeIgnored           Outcome = "ignored"
	OutcomeRejected          Outcome = "rejected"
)

// Patch lists the order fields a decision changes. Nil fields stay untouched.
type Patch struct {
	ShippingStatus        *enums.ShippingStatus
	Status                *enums.OrderStatus
	BuyerConfirmedReceipt *bool
	InspectionPeriodEnd   *time.Time
	QualityRating         *int
	QualityNotes          *string
	Timeline              types.ShippingTimeline
	FailureIntent         *enums.FailureIntent
	ClearFailureIntent    bool
	DeliveredAt           *time.Time
	CompletedAt           *time.Time
	CancelledAt           *time.Time
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.ShippingStatus == nil &&
		p.Status == nil &&
		p.BuyerConfirmedReceipt == nil &&
		p.InspectionPeriodEnd == nil &&
		p.QualityRating == nil &&
		p.QualityNotes == nil &&
		p.Timeline == nil &&
		p.FailureIntent == nil &&
		!p.ClearFailureIntent &&
		p.DeliveredAt == nil &&
		p.CompletedAt == nil &&
		p.CancelledAt == nil
}

// Release is the ledger credit owed to the seller.
type Release struct {
	SellerID  uuid.UUID
	Amount    decimal.Decimal
	Reference string
}

// Decision is the full result of applying a trigger to an order.
type Decision struct {
	Outcome       Outcome
	Patch         Patch
	Release       *Release
	FailureIntent enums.FailureIntent
	Reason        string
}

// ReleaseReference is the ledger reference for an order's escrow credit. One per order.
func ReleaseReference(orderID uuid.UUID) string {
	return "escrow-release:" + orderID.String()
}

var milestoneForStatus = map[enums.ShippingStatus]string{
	enums.ShippingStatusConfirmed:      types.MilestoneOrderConfirmed,
	enums.ShippingStatusPickedUp:       types.MilestonePickedUp,
	enums.ShippingStatusInTransit:      types.MilestoneInTransit,
	enums.ShippingStatusOutForDelivery: types.MilestoneOutForDelivery,
	enums.ShippingStatusDelivered:      types.MilestoneDelivered,
	enums.ShippingStatusDeliveryFailed: types.MilestoneDeliveryFailed,
}

// Decide computes the next state for order under trigger. It never performs I/O.
func Decide(order models.Order, trigger Trigger, policy Policy) (Decision, error) {
	if trigger.At.IsZero() {
		trigger.At = time.Now()
	}
	trigger.At = trigger.At.UTC()

	d := decider{order: order, trigger: trigger, policy: policy}
	switch trigger.Kind {
	case TriggerShippingEvent:
		return d.shippingEvent()
	case TriggerConfirmReceipt:
		return d.confirmReceipt()
	case TriggerConfirmQuality:
		return d.confirmQuality()
	case TriggerReleaseRequest, TriggerInspectionSweep:
		return d.releaseRequest()
	default:
		return Decision{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown trigger %q", trigger.Kind))
	}
}

type decider struct {
	order   models.Order
	trigger Trigger
	policy  Policy
	patch   Patch
}

func (d *decider) shippingEvent() (Decision, error) {
	o := d.order
	status := d.trigger.Status
	if o.VerificationLevel == enums.VerificationLevelSelfArranged || o.ShippingMethod == enums.ShippingMethodSelfArranged {
		return Decision{}, pkgerrors.New(pkgerrors.CodeVerificationMismatch, "self-arranged orders do not accept provider events")
	}
	if !status.IsValid() {
		return Decision{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown shipping status %q", status))
	}
	if o.ShippingStatus.IsClosed() {
		return ignored("shipment already " + string(o.ShippingStatus)), nil
	}
	if status.IsFailure() {
		return d.failureEvent(status)
	}
	if status == enums.ShippingStatusDelivered {
		return d.delivered()
	}

	if o.ShippingStatus != enums.ShippingStatusDeliveryFailed {
		newRank, _ := status.Rank()
		if curRank, ok := o.ShippingStatus.Rank(); ok && newRank <= curRank {
			return ignored(fmt.Sprintf("stale %s after %s", status, o.ShippingStatus)), nil
		}
	} else {
		d.patch.ClearFailureIntent = o.FailureIntent != nil
	}

	d.setShippingStatus(status)
	d.setMilestone(milestoneForStatus[status])
	switch status {
	case enums.ShippingStatusPickedUp, enums.ShippingStatusInTransit, enums.ShippingStatusOutForDelivery:
		if o.Status == enums.OrderStatusPending || o.Status == enums.OrderStatusPaid {
			d.setStatus(enums.OrderStatusShipped)
		}
	}
	return d.decision(OutcomeApplied, ""), nil
}

// failureEvent routes failed, cancelled and returned shipments. Never releases escrow.
func (d *decider) failureEvent(status enums.ShippingStatus) (Decision, error) {
	o := d.order
	if status == o.ShippingStatus {
		return ignored("duplicate " + string(status)), nil
	}
	if o.EscrowReleased || o.ShippingStatus == enums.ShippingStatusDelivered || o.ShippingTimeline.Has(types.MilestoneDelivered) {
		return ignored(string(status) + " after delivery"), nil
	}

	d.setShippingStatus(status)
	var intent enums.FailureIntent
	switch status {
	case enums.ShippingStatusDeliveryFailed:
		intent = enums.FailureIntentRetry
		d.setMilestone(types.MilestoneDeliveryFailed)
	case enums.ShippingStatusReturned:
		intent = enums.FailureIntentRefund
		d.setStatus(enums.OrderStatusFailed)
	case enums.ShippingStatusCancelled:
		intent = enums.FailureIntentRefund
		d.setStatus(enums.OrderStatusCancelled)
		at := d.trigger.At
		d.patch.CancelledAt = &at
	}
	d.patch.FailureIntent = &intent

	dec := d.decision(OutcomeFailureRouted, string(intent)+" intent")
	dec.FailureIntent = intent
	return dec, nil
}

func (d *decider) delivered() (Decision, error) {
	o := d.order
	d.markDelivered()

	if o.EscrowReleased {
		return d.decision(OutcomeAlreadyReleased, "escrow already released"), nil
	}

	switch o.VerificationLevel {
	case enums.VerificationLevelBasic:
		return d.release("delivered"), nil
	case enums.VerificationLevelPremium:
		if o.InspectionPeriodEnd == nil {
			d.startInspection()
			return d.decision(OutcomeInspectionStarted, ""), nil
		}
		return d.decision(OutcomeApplied, ""), nil
	default:
		return Decision{}, pkgerrors.New(pkgerrors.CodeVerificationMismatch, "unsupported verification level")
	}
}

func (d *decider) confirmReceipt() (Decision, error) {
	o := d.order
	if o.ShippingStatus.IsClosed() || o.Status == enums.OrderStatusCancelled || o.Status == enums.OrderStatusFailed {
		return Decision{}, pkgerrors.New(pkgerrors.CodeStateConflict, "order is closed")
	}
	if !o.BuyerConfirmedReceipt {
		confirmed := true
		d.patch.BuyerConfirmedReceipt = &confirmed
	}
	d.markDelivered()

	if o.EscrowReleased {
		return d.decision(OutcomeAlreadyReleased, "escrow already released"), nil
	}

	switch o.VerificationLevel {
	case enums.VerificationLevelSelfArranged, enums.VerificationLevelBasic:
		return d.release("buyer confirmed receipt"), nil
	case enums.VerificationLevelPremium:
		if o.InspectionPeriodEnd == nil {
			d.startInspection()
			return d.decision(OutcomeInspectionStarted, ""), nil
		}
		return d.decision(OutcomeApplied, ""), nil
	default:
		return Decision{}, pkgerrors.New(pkgerrors.CodeVerificationMismatch, "unsupported verification level")
	}
}

// confirmQuality is the only path that releases a premium order before the window ends.
func (d *decider) confirmQuality() (Decision, error) {
	o := d.order
	if o.VerificationLevel != enums.VerificationLevelPremium {
		return Decision{}, pkgerrors.New(pkgerrors.CodeVerificationMismatch, "quality confirmation is only available for premium orders")
	}
	if r := d.trigger.Rating; r != nil && (*r < 1 || *r > 5) {
		return Decision{}, pkgerrors.New(pkgerrors.CodeValidation, "rating must be between 1 and 5")
	}
	if o.EscrowReleased {
		return d.decision(OutcomeAlreadyReleased, "escrow already released"), nil
	}
	if o.ShippingStatus.IsClosed() || o.Status == enums.OrderStatusCancelled || o.Status == enums.OrderStatusFailed {
		return Decision{}, pkgerrors.New(pkgerrors.CodeStateConflict, "order is closed")
	}
	if !deliveryRecorded(o) {
		return Decision{}, pkgerrors.New(pkgerrors.CodeStateConflict, "delivery has not been recorded")
	}

	if d.trigger.Rating != nil {
		rating := *d.trigger.Rating
		d.patch.QualityRating = &rating
	}
	if d.trigger.Notes != nil {
		notes := *d.trigger.Notes
		d.patch.QualityNotes = &notes
	}
	if !o.BuyerConfirmedReceipt {
		confirmed := true
		d.patch.BuyerConfirmedReceipt = &confirmed
	}
	return d.release("buyer confirmed quality"), nil
}

func (d *decider) releaseRequest() (Decision, error) {
	o := d.order
	if d.trigger.Kind == TriggerInspectionSweep && o.VerificationLevel != enums.VerificationLevelPremium {
		return Decision{}, pkgerrors.New(pkgerrors.CodeVerificationMismatch, "inspection sweep only applies to premium orders")
	}
	if o.EscrowReleased {
		return d.decision(OutcomeAlreadyReleased, "escrow already released"), nil
	}
	if o.ShippingStatus.IsClosed() || o.Status == enums.OrderStatusCancelled || o.Status == enums.OrderStatusFailed {
		return Decision{}, pkgerrors.New(pkgerrors.CodeStateConflict, "order is closed")
	}

	switch o.VerificationLevel {
	case enums.VerificationLevelSelfArranged:
		if !o.BuyerConfirmedReceipt {
			return Decision{}, pkgerrors.New(pkgerrors.CodeVerificationMismatch, "self-arranged orders release only after the buyer confirms receipt")
		}
	case enums.VerificationLevelBasic:
		if !deliveryRecorded(o) {
			return Decision{}, pkgerrors.New(pkgerrors.CodeStateConflict, "delivery has not been recorded")
		}
	case enums.VerificationLevelPremium:
		if o.InspectionPeriodEnd == nil {
			return Decision{}, pkgerrors.New(pkgerrors.CodeInspectionPending, "inspection period has not started")
		}
		if d.trigger.At.Before(*o.InspectionPeriodEnd) {
			return Decision{}, pkgerrors.New(pkgerrors.CodeInspectionPending, "inspection period has not elapsed").
				WithDetails(map[string]any{
					"inspection_period_end": o.InspectionPeriodEnd.UTC(),
					"hours_remaining":       HoursRemaining(*o.InspectionPeriodEnd, d.trigger.At),
				})
		}
	default:
		return Decision{}, pkgerrors.New(pkgerrors.CodeVerificationMismatch, "unsupported verification level")
	}
	return d.release(string(d.trigger.Kind)), nil
}

func (d *decider) release(reason string) Decision {
	at := d.trigger.At
	d.setStatus(enums.OrderStatusCompleted)
	d.patch.CompletedAt = &at
	dec := d.decision(OutcomeReleased, reason)
	dec.Release = &Release{
		SellerID:  d.order.SellerID,
		Amount:    d.order.SellerCredit(),
		Reference: ReleaseReference(d.order.ID),
	}
	return dec
}

func (d *decider) markDelivered() {
	at := d.trigger.At
	d.setShippingStatus(enums.ShippingStatusDelivered)
	d.setMilestone(types.MilestoneDelivered)
	if d.order.DeliveredAt == nil {
		d.patch.DeliveredAt = &at
	}
	if d.order.FailureIntent != nil {
		d.patch.ClearFailureIntent = true
	}
	if !d.order.EscrowReleased {
		d.setStatus(enums.OrderStatusDelivered)
	}
}

func (d *decider) startInspection() {
	end := d.trigger.At.Add(d.policy.inspectionPeriod())
	d.patch.InspectionPeriodEnd = &end
}

func (d *decider) setShippingStatus(status enums.ShippingStatus) {
	if d.order.ShippingStatus == status {
		return
	}
	d.patch.ShippingStatus = &status
}

func (d *decider) setStatus(status enums.OrderStatus) {
	if d.order.Status == status {
		d.patch.Status = nil
		return
	}
	d.patch.Status = &status
}

// setMilestone records the first time a milestone was seen. Later writes are dropped.
func (d *decider) setMilestone(milestone string) {
	if milestone == "" {
		return
	}
	timeline := d.patch.Timeline
	if timeline == nil {
		timeline = d.order.ShippingTimeline.Clone()
	}
	if timeline.SetOnce(milestone, d.trigger.At) {
		d.patch.Timeline = timeline
	}
}

func (d *decider) decision(outcome Outcome, reason string) Decision {
	if outcome == OutcomeApplied && d.patch.IsEmpty() {
		return ignored("no change")
	}
	return Decision{Outcome: outcome, Patch: d.patch, Reason: reason}
}

func ignored(reason string) Decision {
	return Decision{Outcome: OutcomeIgnored, Reason: reason}
}

func deliveryRecorded(o models.Order) bool {
	return o.ShippingStatus == enums.ShippingStatusDelivered ||
		o.ShippingTimeline.Has(types.MilestoneDelivered) ||
		o.BuyerConfirmedReceipt ||
		o.InspectionPeriodEnd != nil
}

// HoursRemaining rounds the time left until end up to whole hours. Zero once elapsed.
func HoursRemaining(end, now time.Time) int {
	left := end.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Hours()))
}
