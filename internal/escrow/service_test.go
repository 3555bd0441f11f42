package escrow

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-escrow/internal/ledger"
	"github.com/angelmondragon/marketplace-escrow/internal/shippinglog"
	"github.com/angelmondragon/marketplace-escrow/pkg/db/models"
	"github.com/angelmondragon/marketplace-escrow/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-escrow/pkg/errors"
	"github.com/angelmondragon/marketplace-escrow/pkg/logger"
	"github.com/angelmondragon/marketplace-escrow/pkg/outbox"
)

type fakeOrderStore struct {
	mu     sync.Mutex
	orders map[uuid.UUID]models.Order
	// gate, when set, blocks reads until closed so concurrent callers observe the same snapshot.
	gate    chan struct{}
	listErr error
}

func newFakeOrderStore(orders ...models.Order) *fakeOrderStore {
	store := &fakeOrderStore{orders: map[uuid.UUID]models.Order{}}
	for _, o := range orders {
		store.orders[o.ID] = o
	}
	return store
}

func (f *fakeOrderStore) get(id uuid.UUID) models.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orders[id]
}

func (f *fakeOrderStore) FindByID(_ context.Context, id uuid.UUID) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[id]
	if !ok {
		return nil, nil
	}
	return &order, nil
}

func (f *fakeOrderStore) FindByIDForUpdate(ctx context.Context, _ *gorm.DB, id uuid.UUID) (*models.Order, error) {
	order, err := f.FindByID(ctx, id)
	if f.gate != nil {
		<-f.gate
	}
	return order, err
}

func (f *fakeOrderStore) Save(_ context.Context, _ *gorm.DB, order *models.Order, _ []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[order.ID] = *order
	return nil
}

func (f *fakeOrderStore) MarkEscrowReleased(_ context.Context, _ *gorm.DB, order *models.Order, _ []string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.orders[order.ID].EscrowReleased {
		return false, nil
	}
	order.EscrowReleased = true
	f.orders[order.ID] = *order
	return true, nil
}

func (f *fakeOrderStore) ListInspectionDue(_ context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []uuid.UUID
	for id, o := range f.orders {
		if o.VerificationLevel == enums.VerificationLevelPremium && !o.EscrowReleased &&
			o.InspectionPeriodEnd != nil && !o.InspectionPeriodEnd.After(now) {
			ids = append(ids, id)
		}
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

type fakeLedger struct {
	mu      sync.Mutex
	credits []ledger.MutationInput
	err     error
}

func (f *fakeLedger) Credit(_ context.Context, _ *gorm.DB, input ledger.MutationInput) (*models.WalletTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, c := range f.credits {
		if c.Reference == input.Reference {
			return nil, pkgerrors.New(pkgerrors.CodeDuplicateReference, "duplicate")
		}
	}
	f.credits = append(f.credits, input)
	return &models.WalletTransaction{ID: uuid.New(), Reference: input.Reference, Amount: input.Amount}, nil
}

func (f *fakeLedger) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.credits)
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []shippinglog.Entry
}

func (f *fakeAudit) Append(_ context.Context, _ *gorm.DB, entry shippinglog.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAudit) outcomes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e.Outcome)
	}
	return out
}

type fakeOutbox struct {
	mu     sync.Mutex
	events []outbox.DomainEvent
}

func (f *fakeOutbox) Emit(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeOutbox) types() []enums.OutboxEventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]enums.OutboxEventType, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.EventType)
	}
	return out
}

type passthroughTx struct{}

func (passthroughTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type countingMetrics struct {
	mu       sync.Mutex
	released int
	rejected map[string]int
}

func (m *countingMetrics) IncReleased(string, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released++
}

func (m *countingMetrics) IncRejected(_ string, code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rejected == nil {
		m.rejected = map[string]int{}
	}
	m.rejected[code]++
}

type fixture struct {
	svc     Service
	store   *fakeOrderStore
	ledger  *fakeLedger
	audit   *fakeAudit
	outbox  *fakeOutbox
	metrics *countingMetrics
	now     time.Time
}

func newFixture(t *testing.T, orders ...models.Order) *fixture {
	t.Helper()
	f := &fixture{
		store:   newFakeOrderStore(orders...),
		ledger:  &fakeLedger{},
		audit:   &fakeAudit{},
		outbox:  &fakeOutbox{},
		metrics: &countingMetrics{},
		now:     baseTime,
	}
	svc, err := NewService(ServiceParams{
		Orders:   f.store,
		Ledger:   f.ledger,
		Audit:    f.audit,
		Outbox:   f.outbox,
		TxRunner: passthroughTx{},
		Metrics:  f.metrics,
		Logger:   logger.New(logger.Options{ServiceName: "escrow-test", Output: io.Discard}),
		Now:      func() time.Time { return f.now },
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	f.svc = svc
	return f
}

func buyer(o models.Order) Actor  { return Actor{UserID: o.BuyerID, Role: enums.UserRoleUser} }
func seller(o models.Order) Actor { return Actor{UserID: o.SellerID, Role: enums.UserRoleUser} }

func TestReleaseIsIdempotentAcrossTriggers(t *testing.T) {
	order := newOrder(enums.VerificationLevelBasic)
	f := newFixture(t, order)
	ctx := context.Background()

	res, err := f.svc.ApplyShippingEvent(ctx, ShippingEventInput{OrderID: order.ID, Status: enums.ShippingStatusDelivered})
	if err != nil {
		t.Fatalf("webhook delivered: %v", err)
	}
	if res.Outcome != OutcomeReleased || !res.EscrowReleased {
		t.Fatalf("expected release, got %+v", res)
	}
	if res.ReleasedAmount == nil || !res.ReleasedAmount.Equal(decimal.NewFromInt(4850)) {
		t.Fatalf("expected 4850 released, got %v", res.ReleasedAmount)
	}

	again, err := f.svc.ApplyShippingEvent(ctx, ShippingEventInput{OrderID: order.ID, Status: enums.ShippingStatusDelivered})
	if err != nil {
		t.Fatalf("duplicate webhook: %v", err)
	}
	if again.Outcome != OutcomeAlreadyReleased {
		t.Fatalf("expected already_released, got %s", again.Outcome)
	}

	manual, err := f.svc.ReleaseEscrow(ctx, order.ID, seller(order))
	if err != nil {
		t.Fatalf("manual release: %v", err)
	}
	if manual.Outcome != OutcomeAlreadyReleased {
		t.Fatalf("expected already_released, got %s", manual.Outcome)
	}

	if f.ledger.count() != 1 {
		t.Fatalf("expected exactly one credit, got %d", f.ledger.count())
	}
	if !f.store.get(order.ID).EscrowReleased {
		t.Fatalf("order must stay released")
	}
	released := 0
	for _, typ := range f.outbox.types() {
		if typ == enums.EventEscrowReleased {
			released++
		}
	}
	if released != 1 {
		t.Fatalf("expected one escrow_released event, got %d", released)
	}
}

func TestPremiumFlowThroughService(t *testing.T) {
	order := newOrder(enums.VerificationLevelPremium)
	f := newFixture(t, order)
	ctx := context.Background()

	res, err := f.svc.ApplyShippingEvent(ctx, ShippingEventInput{OrderID: order.ID, Status: enums.ShippingStatusDelivered})
	if err != nil {
		t.Fatalf("delivered: %v", err)
	}
	if res.Outcome != OutcomeInspectionStarted || res.InspectionPeriodEnd == nil {
		t.Fatalf("expected inspection start, got %+v", res)
	}

	f.now = baseTime.Add(time.Hour)
	_, err = f.svc.ReleaseEscrow(ctx, order.ID, buyer(order))
	expectCode(t, err, pkgerrors.CodeInspectionPending)
	if f.ledger.count() != 0 {
		t.Fatalf("no credit expected before window ends")
	}
	if f.metrics.rejected[string(pkgerrors.CodeInspectionPending)] != 1 {
		t.Fatalf("expected rejection metric")
	}
	outcomes := f.audit.outcomes()
	if outcomes[len(outcomes)-1] != string(OutcomeRejected) {
		t.Fatalf("rejected attempt must be audited, got %v", outcomes)
	}

	status, err := f.svc.Status(ctx, order.ID, buyer(order))
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.CanReleaseEscrow || !status.CanConfirmQuality {
		t.Fatalf("unexpected flags %+v", status)
	}
	if status.HoursRemaining == nil || *status.HoursRemaining != 47 {
		t.Fatalf("expected 47 hours remaining, got %v", status.HoursRemaining)
	}

	f.now = baseTime.Add(49 * time.Hour)
	sweep, err := f.svc.ProcessExpired(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if sweep.Scanned != 1 || sweep.Released != 1 {
		t.Fatalf("unexpected sweep result %+v", sweep)
	}
	if f.ledger.count() != 1 || !f.ledger.credits[0].Amount.Equal(decimal.NewFromInt(4850)) {
		t.Fatalf("expected one 4850 credit, got %+v", f.ledger.credits)
	}
	if f.ledger.credits[0].Type != enums.WalletTransactionEscrowCredit || f.ledger.credits[0].UserID != order.SellerID {
		t.Fatalf("unexpected credit %+v", f.ledger.credits[0])
	}
}

func TestConfirmQualityReleasesEarly(t *testing.T) {
	order := newOrder(enums.VerificationLevelPremium)
	f := newFixture(t, order)
	ctx := context.Background()

	if _, err := f.svc.ApplyShippingEvent(ctx, ShippingEventInput{OrderID: order.ID, Status: enums.ShippingStatusDelivered}); err != nil {
		t.Fatalf("delivered: %v", err)
	}
	f.now = baseTime.Add(time.Hour)
	rating := 4
	notes := "as described"
	res, err := f.svc.ConfirmQuality(ctx, ConfirmQualityInput{OrderID: order.ID, Actor: buyer(order), Rating: &rating, Notes: &notes})
	if err != nil {
		t.Fatalf("confirm quality: %v", err)
	}
	if res.Outcome != OutcomeReleased || f.ledger.count() != 1 {
		t.Fatalf("expected immediate release, got %+v", res)
	}
	stored := f.store.get(order.ID)
	if stored.QualityRating == nil || *stored.QualityRating != 4 || stored.Status != enums.OrderStatusCompleted {
		t.Fatalf("unexpected stored order %+v", stored)
	}
}

func TestConfirmationRequiresBuyer(t *testing.T) {
	order := newOrder(enums.VerificationLevelBasic)
	f := newFixture(t, order)

	_, err := f.svc.ConfirmReceipt(context.Background(), order.ID, seller(order))
	expectCode(t, err, pkgerrors.CodeForbidden)

	_, err = f.svc.ReleaseEscrow(context.Background(), order.ID, Actor{UserID: uuid.New(), Role: enums.UserRoleUser})
	expectCode(t, err, pkgerrors.CodeForbidden)

	_, err = f.svc.ConfirmReceipt(context.Background(), uuid.New(), buyer(order))
	expectCode(t, err, pkgerrors.CodeNotFound)

	if f.metrics.rejected[string(pkgerrors.CodeForbidden)] != 2 {
		t.Fatalf("expected two forbidden rejections counted, got %v", f.metrics.rejected)
	}
	outcomes := f.audit.outcomes()
	if len(outcomes) != 2 || outcomes[0] != string(OutcomeRejected) || outcomes[1] != string(OutcomeRejected) {
		t.Fatalf("forbidden attempts must be audited, got %v", outcomes)
	}
	if f.ledger.count() != 0 {
		t.Fatalf("forbidden attempts must not credit")
	}
}

func TestFailureRoutingEmitsShipmentFailed(t *testing.T) {
	order := newOrder(enums.VerificationLevelBasic)
	order.ShippingStatus = enums.ShippingStatusInTransit
	f := newFixture(t, order)

	res, err := f.svc.ApplyShippingEvent(context.Background(), ShippingEventInput{OrderID: order.ID, Status: enums.ShippingStatusReturned})
	if err != nil {
		t.Fatalf("returned: %v", err)
	}
	if res.EscrowReleased || res.FailureIntent != enums.FailureIntentRefund {
		t.Fatalf("unexpected result %+v", res)
	}
	if f.ledger.count() != 0 {
		t.Fatalf("returned shipment must not credit")
	}
	found := false
	for _, typ := range f.outbox.types() {
		if typ == enums.EventShipmentFailed {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected shipment_failed event, got %v", f.outbox.types())
	}
}

func TestTrackingDetailsPersistWithEvent(t *testing.T) {
	order := newOrder(enums.VerificationLevelBasic)
	f := newFixture(t, order)
	code := "SB-123"
	courier := "GIG Logistics"

	if _, err := f.svc.ApplyShippingEvent(context.Background(), ShippingEventInput{
		OrderID:      order.ID,
		Status:       enums.ShippingStatusPickedUp,
		TrackingCode: &code,
		Courier:      &courier,
	}); err != nil {
		t.Fatalf("picked up: %v", err)
	}
	stored := f.store.get(order.ID)
	if stored.TrackingCode == nil || *stored.TrackingCode != code || stored.Courier == nil || *stored.Courier != courier {
		t.Fatalf("tracking details not stored: %+v", stored)
	}
	if stored.Status != enums.OrderStatusShipped {
		t.Fatalf("expected shipped, got %s", stored.Status)
	}
}

func TestConcurrentReleaseCreditsOnce(t *testing.T) {
	order := newOrder(enums.VerificationLevelBasic)
	order.ShippingStatus = enums.ShippingStatusOutForDelivery
	f := newFixture(t, order)
	f.store.gate = make(chan struct{})

	var wg sync.WaitGroup
	results := make([]*Result, 2)
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		results[0], errs[0] = f.svc.ApplyShippingEvent(context.Background(), ShippingEventInput{OrderID: order.ID, Status: enums.ShippingStatusDelivered})
	}()
	go func() {
		defer wg.Done()
		results[1], errs[1] = f.svc.ConfirmReceipt(context.Background(), order.ID, buyer(order))
	}()
	time.Sleep(20 * time.Millisecond)
	close(f.store.gate)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	if f.ledger.count() != 1 {
		t.Fatalf("expected exactly one credit, got %d", f.ledger.count())
	}
	outcomes := map[Outcome]int{}
	for _, res := range results {
		outcomes[res.Outcome]++
	}
	if outcomes[OutcomeReleased] != 1 || outcomes[OutcomeAlreadyReleased] != 1 {
		t.Fatalf("expected one release and one already_released, got %v", outcomes)
	}
}

func TestProcessExpiredIsolatesFailures(t *testing.T) {
	end := baseTime.Add(-time.Hour)
	first := newOrder(enums.VerificationLevelPremium)
	first.ShippingStatus = enums.ShippingStatusDelivered
	first.InspectionPeriodEnd = &end
	second := newOrder(enums.VerificationLevelPremium)
	second.ShippingStatus = enums.ShippingStatusDelivered
	second.InspectionPeriodEnd = &end

	f := newFixture(t, first, second)
	f.ledger.err = errors.New("db down")

	res, err := f.svc.ProcessExpired(context.Background())
	if err == nil {
		t.Fatalf("expected aggregated error")
	}
	if res.Scanned != 2 || res.Failed != 2 || res.Released != 0 {
		t.Fatalf("unexpected result %+v", res)
	}

	f.ledger.err = nil
	// The passthrough tx cannot roll back, so reset the flags the failed attempt left behind.
	for _, o := range []models.Order{first, second} {
		_ = f.store.Save(context.Background(), nil, &o, nil)
	}
	res, err = f.svc.ProcessExpired(context.Background())
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if res.Released != 2 || f.ledger.count() != 2 {
		t.Fatalf("expected both released, got %+v", res)
	}
}

func TestProcessExpiredListFailure(t *testing.T) {
	f := newFixture(t)
	f.store.listErr = errors.New("boom")
	_, err := f.svc.ProcessExpired(context.Background())
	expectCode(t, err, pkgerrors.CodeInternal)
}
