package escrow

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketplace-escrow/pkg/db/models"
	"github.com/angelmondragon/marketplace-escrow/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-escrow/pkg/errors"
	"github.com/angelmondragon/marketplace-escrow/pkg/types"
)

var baseTime = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newOrder(level enums.VerificationLevel) models.Order {
	method := enums.ShippingMethodShipBubble
	shipping := enums.ShippingStatusPendingPickup
	if level == enums.VerificationLevelSelfArranged {
		method = enums.ShippingMethodSelfArranged
		shipping = enums.ShippingStatusSelfPickup
	}
	return models.Order{
		ID:                uuid.New(),
		BuyerID:           uuid.New(),
		SellerID:          uuid.New(),
		ProductID:         uuid.New(),
		TotalAmount:       decimal.NewFromInt(5000),
		ServiceFee:        decimal.NewFromInt(150),
		Currency:          "NGN",
		VerificationLevel: level,
		ShippingMethod:    method,
		ShippingStatus:    shipping,
		Status:            enums.OrderStatusPaid,
	}
}

func event(status enums.ShippingStatus, at time.Time) Trigger {
	return Trigger{Kind: TriggerShippingEvent, Status: status, At: at}
}

func mustDecide(t *testing.T, order models.Order, trigger Trigger) Decision {
	t.Helper()
	decision, err := Decide(order, trigger, Policy{})
	if err != nil {
		t.Fatalf("decide %s: unexpected error %v", trigger.Kind, err)
	}
	return decision
}

func expectCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != code {
		t.Fatalf("expected %s, got %v", code, err)
	}
}

// apply mimics the persistence step so sequences can be replayed without a store.
func apply(order models.Order, decision Decision) models.Order {
	applyPatch(&order, decision.Patch)
	if decision.Release != nil {
		order.EscrowReleased = true
	}
	return order
}

func TestBasicDeliveredReleasesSellerCredit(t *testing.T) {
	order := newOrder(enums.VerificationLevelBasic)
	decision := mustDecide(t, order, event(enums.ShippingStatusDelivered, baseTime))

	if decision.Outcome != OutcomeReleased {
		t.Fatalf("expected released, got %s", decision.Outcome)
	}
	if decision.Release == nil || !decision.Release.Amount.Equal(decimal.NewFromInt(4850)) {
		t.Fatalf("expected release of 4850, got %+v", decision.Release)
	}
	if decision.Release.SellerID != order.SellerID {
		t.Fatalf("release must target the seller")
	}
	if decision.Release.Reference != "escrow-release:"+order.ID.String() {
		t.Fatalf("unexpected reference %s", decision.Release.Reference)
	}
	next := apply(order, decision)
	if next.Status != enums.OrderStatusCompleted || next.ShippingStatus != enums.ShippingStatusDelivered {
		t.Fatalf("unexpected state %s/%s", next.Status, next.ShippingStatus)
	}
	if got := next.ShippingTimeline[types.MilestoneDelivered]; !got.Equal(baseTime) {
		t.Fatalf("expected delivered milestone at %s, got %s", baseTime, got)
	}
}

func TestZeroServiceFeeCreditsFullTotal(t *testing.T) {
	order := newOrder(enums.VerificationLevelBasic)
	order.ServiceFee = decimal.Zero
	decision := mustDecide(t, order, event(enums.ShippingStatusDelivered, baseTime))
	if !decision.Release.Amount.Equal(decimal.NewFromInt(5000)) {
		t.Fatalf("expected full total, got %s", decision.Release.Amount)
	}
}

func TestDeliveredTwiceReleasesOnce(t *testing.T) {
	order := newOrder(enums.VerificationLevelBasic)
	first := mustDecide(t, order, event(enums.ShippingStatusDelivered, baseTime))
	order = apply(order, first)

	second := mustDecide(t, order, event(enums.ShippingStatusDelivered, baseTime.Add(time.Hour)))
	if second.Outcome != OutcomeAlreadyReleased || second.Release != nil {
		t.Fatalf("expected already_released without release, got %+v", second)
	}
	if second.Patch.Timeline != nil {
		t.Fatalf("delivered milestone must not be overwritten")
	}
}

func TestPremiumInspectionGating(t *testing.T) {
	order := newOrder(enums.VerificationLevelPremium)
	delivered := mustDecide(t, order, event(enums.ShippingStatusDelivered, baseTime))
	if delivered.Outcome != OutcomeInspectionStarted || delivered.Release != nil {
		t.Fatalf("premium delivery must start inspection, got %+v", delivered)
	}
	order = apply(order, delivered)
	if order.InspectionPeriodEnd == nil || !order.InspectionPeriodEnd.Equal(baseTime.Add(48*time.Hour)) {
		t.Fatalf("expected inspection end at T+48h, got %v", order.InspectionPeriodEnd)
	}

	_, err := Decide(order, Trigger{Kind: TriggerReleaseRequest, At: baseTime.Add(time.Hour)}, Policy{})
	expectCode(t, err, pkgerrors.CodeInspectionPending)

	_, err = Decide(order, Trigger{Kind: TriggerInspectionSweep, At: baseTime.Add(time.Hour)}, Policy{})
	expectCode(t, err, pkgerrors.CodeInspectionPending)

	late := mustDecide(t, order, Trigger{Kind: TriggerInspectionSweep, At: baseTime.Add(49 * time.Hour)})
	if late.Outcome != OutcomeReleased || late.Release == nil {
		t.Fatalf("expected release at T+49h, got %+v", late)
	}

	rating := 5
	early := mustDecide(t, order, Trigger{Kind: TriggerConfirmQuality, At: baseTime.Add(time.Hour), Rating: &rating})
	if early.Outcome != OutcomeReleased || early.Release == nil {
		t.Fatalf("quality confirmation must release immediately, got %+v", early)
	}
	if early.Patch.QualityRating == nil || *early.Patch.QualityRating != 5 {
		t.Fatalf("expected rating to be recorded")
	}
}

func TestInspectionPeriodIsConfigurable(t *testing.T) {
	order := newOrder(enums.VerificationLevelPremium)
	decision, err := Decide(order, event(enums.ShippingStatusDelivered, baseTime), Policy{InspectionPeriod: 24 * time.Hour})
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if !decision.Patch.InspectionPeriodEnd.Equal(baseTime.Add(24 * time.Hour)) {
		t.Fatalf("expected 24h window, got %v", decision.Patch.InspectionPeriodEnd)
	}
}

func TestConfirmQualityRules(t *testing.T) {
	basic := newOrder(enums.VerificationLevelBasic)
	_, err := Decide(basic, Trigger{Kind: TriggerConfirmQuality, At: baseTime}, Policy{})
	expectCode(t, err, pkgerrors.CodeVerificationMismatch)

	premium := newOrder(enums.VerificationLevelPremium)
	_, err = Decide(premium, Trigger{Kind: TriggerConfirmQuality, At: baseTime}, Policy{})
	expectCode(t, err, pkgerrors.CodeStateConflict)

	premium.ShippingStatus = enums.ShippingStatusDelivered
	bad := 6
	_, err = Decide(premium, Trigger{Kind: TriggerConfirmQuality, At: baseTime, Rating: &bad}, Policy{})
	expectCode(t, err, pkgerrors.CodeValidation)
}

func TestSelfArrangedReleasesOnlyOnBuyerConfirmation(t *testing.T) {
	order := newOrder(enums.VerificationLevelSelfArranged)

	_, err := Decide(order, event(enums.ShippingStatusDelivered, baseTime), Policy{})
	expectCode(t, err, pkgerrors.CodeVerificationMismatch)

	_, err = Decide(order, Trigger{Kind: TriggerReleaseRequest, At: baseTime}, Policy{})
	expectCode(t, err, pkgerrors.CodeVerificationMismatch)

	confirmed := mustDecide(t, order, Trigger{Kind: TriggerConfirmReceipt, At: baseTime})
	if confirmed.Outcome != OutcomeReleased || confirmed.Release == nil {
		t.Fatalf("buyer confirmation must release, got %+v", confirmed)
	}
}

func TestBasicReleaseRequestNeedsDelivery(t *testing.T) {
	order := newOrder(enums.VerificationLevelBasic)
	_, err := Decide(order, Trigger{Kind: TriggerReleaseRequest, At: baseTime}, Policy{})
	expectCode(t, err, pkgerrors.CodeStateConflict)

	_, err = Decide(order, Trigger{Kind: TriggerInspectionSweep, At: baseTime}, Policy{})
	expectCode(t, err, pkgerrors.CodeVerificationMismatch)
}

func TestFailureEventsNeverRelease(t *testing.T) {
	cases := []struct {
		status enums.ShippingStatus
		intent enums.FailureIntent
		order  enums.OrderStatus
	}{
		{enums.ShippingStatusDeliveryFailed, enums.FailureIntentRetry, enums.OrderStatusShipped},
		{enums.ShippingStatusReturned, enums.FailureIntentRefund, enums.OrderStatusFailed},
		{enums.ShippingStatusCancelled, enums.FailureIntentRefund, enums.OrderStatusCancelled},
	}
	for _, level := range []enums.VerificationLevel{enums.VerificationLevelBasic, enums.VerificationLevelPremium} {
		for _, tc := range cases {
			t.Run(string(level)+"/"+string(tc.status), func(t *testing.T) {
				order := newOrder(level)
				order.ShippingStatus = enums.ShippingStatusInTransit
				order.Status = enums.OrderStatusShipped

				decision := mustDecide(t, order, event(tc.status, baseTime))
				if decision.Release != nil {
					t.Fatalf("failure event must not release")
				}
				if decision.Outcome != OutcomeFailureRouted || decision.FailureIntent != tc.intent {
					t.Fatalf("expected %s intent, got %+v", tc.intent, decision)
				}
				next := apply(order, decision)
				if next.EscrowReleased || next.Status != tc.order {
					t.Fatalf("unexpected state %+v", next)
				}
			})
		}
	}
}

func TestClosedShipmentIgnoresLaterEvents(t *testing.T) {
	order := newOrder(enums.VerificationLevelBasic)
	order = apply(order, mustDecide(t, order, event(enums.ShippingStatusReturned, baseTime)))

	late := mustDecide(t, order, event(enums.ShippingStatusDelivered, baseTime.Add(time.Hour)))
	if late.Outcome != OutcomeIgnored || late.Release != nil {
		t.Fatalf("returned shipment must ignore delivery, got %+v", late)
	}

	_, err := Decide(order, Trigger{Kind: TriggerConfirmReceipt, At: baseTime.Add(time.Hour)}, Policy{})
	expectCode(t, err, pkgerrors.CodeStateConflict)
}

func TestFailureAfterDeliveryIsIgnored(t *testing.T) {
	order := newOrder(enums.VerificationLevelPremium)
	order = apply(order, mustDecide(t, order, event(enums.ShippingStatusDelivered, baseTime)))

	decision := mustDecide(t, order, event(enums.ShippingStatusReturned, baseTime.Add(time.Hour)))
	if decision.Outcome != OutcomeIgnored {
		t.Fatalf("expected ignored, got %s", decision.Outcome)
	}
}

func TestDeliveryFailedCanRecover(t *testing.T) {
	order := newOrder(enums.VerificationLevelBasic)
	order.ShippingStatus = enums.ShippingStatusOutForDelivery
	order = apply(order, mustDecide(t, order, event(enums.ShippingStatusDeliveryFailed, baseTime)))
	if order.FailureIntent == nil || *order.FailureIntent != enums.FailureIntentRetry {
		t.Fatalf("expected retry intent")
	}

	retry := mustDecide(t, order, event(enums.ShippingStatusOutForDelivery, baseTime.Add(time.Hour)))
	if retry.Outcome != OutcomeApplied || !retry.Patch.ClearFailureIntent {
		t.Fatalf("expected recovery to clear intent, got %+v", retry)
	}
	order = apply(order, retry)
	if order.FailureIntent != nil {
		t.Fatalf("failure intent should be cleared")
	}
}

func TestStaleEventsAreIgnored(t *testing.T) {
	order := newOrder(enums.VerificationLevelBasic)
	order = apply(order, mustDecide(t, order, event(enums.ShippingStatusOutForDelivery, baseTime)))
	if order.Status != enums.OrderStatusShipped {
		t.Fatalf("expected shipped, got %s", order.Status)
	}

	stale := mustDecide(t, order, event(enums.ShippingStatusInTransit, baseTime.Add(time.Minute)))
	if stale.Outcome != OutcomeIgnored || !stale.Patch.IsEmpty() {
		t.Fatalf("stale event should be ignored, got %+v", stale)
	}
}

// Replays every ordering of a fixed event set and checks that escrow is only ever
// released after delivery or an explicit buyer confirmation.
func TestNoPrematureCredit(t *testing.T) {
	statuses := []enums.ShippingStatus{
		enums.ShippingStatusConfirmed,
		enums.ShippingStatusPickedUp,
		enums.ShippingStatusInTransit,
		enums.ShippingStatusOutForDelivery,
		enums.ShippingStatusDeliveryFailed,
		enums.ShippingStatusReturned,
		enums.ShippingStatusDelivered,
	}
	triggers := []TriggerKind{TriggerReleaseRequest, TriggerInspectionSweep}

	for _, level := range []enums.VerificationLevel{enums.VerificationLevelBasic, enums.VerificationLevelPremium} {
		permute(statuses, func(seq []enums.ShippingStatus) {
			order := newOrder(level)
			at := baseTime
			deliveredSeen := false
			for _, status := range seq {
				at = at.Add(time.Hour)
				for _, kind := range triggers {
					decision, err := Decide(order, Trigger{Kind: kind, At: at}, Policy{})
					if err == nil && decision.Release != nil && !deliveredSeen {
						t.Fatalf("%s released by %s before delivery in %v", level, kind, seq)
					}
				}
				decision, err := Decide(order, event(status, at), Policy{})
				if err != nil {
					t.Fatalf("unexpected error %v", err)
				}
				if decision.Release != nil && status != enums.ShippingStatusDelivered {
					t.Fatalf("released on %s in %v", status, seq)
				}
				order = apply(order, decision)
				if order.ShippingTimeline.Has(types.MilestoneDelivered) {
					deliveredSeen = true
				}
			}
		})
	}
}

func permute(items []enums.ShippingStatus, visit func([]enums.ShippingStatus)) {
	seq := append([]enums.ShippingStatus(nil), items...)
	var rec func(k int)
	rec = func(k int) {
		if k == len(seq) {
			visit(seq)
			return
		}
		for i := k; i < len(seq); i++ {
			seq[k], seq[i] = seq[i], seq[k]
			rec(k + 1)
			seq[k], seq[i] = seq[i], seq[k]
		}
	}
	rec(0)
}

func TestHoursRemaining(t *testing.T) {
	end := baseTime.Add(48 * time.Hour)
	if got := HoursRemaining(end, baseTime.Add(time.Hour)); got != 47 {
		t.Fatalf("expected 47, got %d", got)
	}
	if got := HoursRemaining(end, baseTime.Add(90*time.Minute)); got != 47 {
		t.Fatalf("expected ceil to 47, got %d", got)
	}
	if got := HoursRemaining(end, end.Add(time.Minute)); got != 0 {
		t.Fatalf("expected 0 after expiry, got %d", got)
	}
}
