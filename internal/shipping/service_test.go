package shipping

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketplace-escrow/pkg/config"
	"github.com/angelmondragon/marketplace-escrow/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-escrow/pkg/errors"
	"github.com/angelmondragon/marketplace-escrow/pkg/logger"
	"github.com/angelmondragon/marketplace-escrow/pkg/shipbubble"
	"github.com/angelmondragon/marketplace-escrow/pkg/types"
)

type stubProvider struct {
	validateErr error
	rates       *shipbubble.Rates
	ratesErr    error
	label       *shipbubble.Shipment
	labelErr    error
	track       *shipbubble.Shipment
	trackErr    error
	block       bool
	calls       int
	booked      shipbubble.LabelRequest
}

func (s *stubProvider) ValidateAddress(ctx context.Context, _ types.ShipAddress) (int64, error) {
	s.calls++
	if s.block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	return 10, s.validateErr
}

func (s *stubProvider) FetchRates(context.Context, shipbubble.RatesRequest) (*shipbubble.Rates, error) {
	return s.rates, s.ratesErr
}

func (s *stubProvider) CreateLabel(_ context.Context, req shipbubble.LabelRequest) (*shipbubble.Shipment, error) {
	s.booked = req
	return s.label, s.labelErr
}

func (s *stubProvider) Track(context.Context, string) (*shipbubble.Shipment, error) {
	return s.track, s.trackErr
}

type recordingMetrics struct {
	reasons []string
}

func (m *recordingMetrics) IncQuoteFallback(reason string) {
	m.reasons = append(m.reasons, reason)
}

func newTestService(t *testing.T, provider Provider, metrics *recordingMetrics) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Provider: provider,
		Config: config.ShipBubbleConfig{
			Timeout:            50 * time.Millisecond,
			BreakerMaxFailures: 2,
			BreakerCooldown:    time.Minute,
		},
		Metrics: metrics,
		Logger:  logger.New(logger.Options{ServiceName: "shipping-test", Output: io.Discard}),
	})
	require.NoError(t, err)
	return svc
}

func parcel(from, to string, weight int64) Parcel {
	return Parcel{
		ShipFrom: types.ShipAddress{Name: "Seller", Line1: "1 Market Rd", City: "X", State: from},
		ShipTo:   types.ShipAddress{Name: "Buyer", Line1: "2 Close", City: "Y", State: to},
		WeightKG: decimal.NewFromInt(weight),
	}
}

func TestFallbackRateTable(t *testing.T) {
	cases := []struct {
		name     string
		from, to string
		weight   int64
		standard int64
		express  int64
	}{
		{"same state", "Lagos", "lagos state", 1, 1500, 2400},
		{"same zone", "Lagos", "Oyo", 2, 2500, 4000},
		{"adjacent zone", "Lagos", "Rivers", 1, 3500, 5600},
		{"distant zone", "Lagos", "Kano", 1, 4500, 7200},
		{"fct alias", "Abuja", "Kano", 1, 3500, 5600},
		{"unknown state", "Atlantis", "Lagos", 1, 4500, 7200},
		{"extra weight rounds up", "Lagos", "Lagos", 5, 2400, 3850},
		{"zero weight", "Enugu", "Imo", 0, 2500, 4000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rates := fallbackRates(tc.from, tc.to, decimal.NewFromInt(tc.weight))
			require.Len(t, rates, 2)
			assert.Equal(t, TierStandard, rates[0].Tier)
			assert.True(t, decimal.NewFromInt(tc.standard).Equal(rates[0].Amount), "standard %s", rates[0].Amount)
			assert.Equal(t, TierExpress, rates[1].Tier)
			assert.True(t, decimal.NewFromInt(tc.express).Equal(rates[1].Amount), "express %s", rates[1].Amount)
		})
	}
}

func TestWeightSurchargeCeil(t *testing.T) {
	assert.True(t, decimal.NewFromInt(300).Equal(weightSurcharge(decimal.RequireFromString("2.1"))))
	assert.True(t, decimal.Zero.Equal(weightSurcharge(decimal.NewFromInt(2))))
}

func TestEveryStateHasAZone(t *testing.T) {
	assert.Len(t, stateZones, 37)
	for state := range stateZones {
		rates := fallbackRates(state, "Lagos", decimal.NewFromInt(1))
		assert.NotEmpty(t, rates)
		assert.True(t, rates[0].Amount.IsPositive())
	}
}

func TestQuoteUsesProviderRates(t *testing.T) {
	provider := &stubProvider{rates: &shipbubble.Rates{
		RequestToken: "tok",
		Couriers: []shipbubble.Courier{
			{CourierID: "b", ServiceCode: "b_std", Total: decimal.NewFromInt(3000)},
			{CourierID: "a", ServiceCode: "a_std", Total: decimal.NewFromInt(2000)},
		},
	}}
	metrics := &recordingMetrics{}
	svc := newTestService(t, provider, metrics)

	quote, err := svc.Quote(context.Background(), QuoteRequest{Parcel: parcel("Lagos", "Kano", 1)})
	require.NoError(t, err)
	assert.False(t, quote.Fallback)
	require.Len(t, quote.Rates, 2)
	assert.Equal(t, "a_std", quote.Rates[0].ServiceCode)
	assert.Equal(t, "NGN", quote.Rates[0].Currency)
	assert.Empty(t, metrics.reasons)
}

func TestQuoteFallsBackWhenProviderUnavailable(t *testing.T) {
	metrics := &recordingMetrics{}
	provider := &stubProvider{validateErr: pkgerrors.New(pkgerrors.CodeDependency, "down")}
	svc := newTestService(t, provider, metrics)

	for i := 0; i < 3; i++ {
		quote, err := svc.Quote(context.Background(), QuoteRequest{Parcel: parcel("Lagos", "Kano", 1)})
		require.NoError(t, err)
		assert.True(t, quote.Fallback)
		require.NotEmpty(t, quote.Rates)
		assert.True(t, decimal.NewFromInt(4500).Equal(quote.Rates[0].Amount))
	}
	assert.Equal(t, []string{"provider_error", "provider_error", "breaker_open"}, metrics.reasons)
	assert.Equal(t, 2, provider.calls, "open breaker must short-circuit the provider")
}

func TestQuoteFallsBackOnTimeout(t *testing.T) {
	metrics := &recordingMetrics{}
	svc := newTestService(t, &stubProvider{block: true}, metrics)

	quote, err := svc.Quote(context.Background(), QuoteRequest{Parcel: parcel("Lagos", "Ogun", 1)})
	require.NoError(t, err)
	assert.True(t, quote.Fallback)
	assert.Equal(t, "timeout", quote.FallbackReason)
}

func TestQuoteWithoutProvider(t *testing.T) {
	metrics := &recordingMetrics{}
	svc := newTestService(t, nil, metrics)

	quote, err := svc.Quote(context.Background(), QuoteRequest{Parcel: parcel("Lagos", "Lagos", 1)})
	require.NoError(t, err)
	assert.True(t, quote.Fallback)
	assert.Equal(t, []string{"provider_not_configured"}, metrics.reasons)

	_, err = svc.Quote(context.Background(), QuoteRequest{Parcel: parcel("", "Lagos", 1)})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

func TestCreateShipmentBooksCheapestCourier(t *testing.T) {
	provider := &stubProvider{
		rates: &shipbubble.Rates{RequestToken: "tok", Couriers: []shipbubble.Courier{
			{CourierID: "dear", ServiceCode: "dear", Total: decimal.NewFromInt(5000)},
			{CourierID: "cheap", ServiceCode: "cheap", Total: decimal.NewFromInt(1800)},
		}},
		label: &shipbubble.Shipment{OrderID: "SB-1", Status: "pending", TrackingCode: "TRK", Courier: "Cheap Co"},
	}
	svc := newTestService(t, provider, &recordingMetrics{})

	res, err := svc.CreateShipment(context.Background(), ShipmentRequest{Parcel: parcel("Lagos", "Oyo", 1)})
	require.NoError(t, err)
	assert.Equal(t, "SB-1", res.ProviderShipmentID)
	assert.Equal(t, enums.ShippingStatusConfirmed, res.Status)
	assert.Equal(t, "cheap", provider.booked.CourierID)
	assert.Equal(t, "tok", provider.booked.RequestToken)
}

func TestCreateShipmentFailureIsDependencyError(t *testing.T) {
	provider := &stubProvider{ratesErr: errors.New("connection reset")}
	svc := newTestService(t, provider, &recordingMetrics{})

	_, err := svc.CreateShipment(context.Background(), ShipmentRequest{Parcel: parcel("Lagos", "Oyo", 1)})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeDependency, pkgerrors.As(err).Code())
}

func TestTrackNormalizesStatus(t *testing.T) {
	provider := &stubProvider{track: &shipbubble.Shipment{OrderID: "SB-1", Status: "Completed"}}
	svc := newTestService(t, provider, &recordingMetrics{})

	res, err := svc.Track(context.Background(), "SB-1")
	require.NoError(t, err)
	assert.True(t, res.Known)
	assert.Equal(t, enums.ShippingStatusDelivered, res.Status)
	assert.Equal(t, "Completed", res.RawStatus)
}

func TestNormalizeStatus(t *testing.T) {
	cases := map[string]enums.ShippingStatus{
		"pending":          enums.ShippingStatusPendingPickup,
		"Picked Up":        enums.ShippingStatusPickedUp,
		"in-transit":       enums.ShippingStatusInTransit,
		"OUT_FOR_DELIVERY": enums.ShippingStatusOutForDelivery,
		"completed":        enums.ShippingStatusDelivered,
		"failed":           enums.ShippingStatusDeliveryFailed,
		"canceled":         enums.ShippingStatusCancelled,
		"return_to_sender": enums.ShippingStatusReturned,
	}
	for raw, want := range cases {
		got, ok := NormalizeStatus(raw)
		assert.True(t, ok, raw)
		assert.Equal(t, want, got, raw)
	}
	_, ok := NormalizeStatus("lost_in_space")
	assert.False(t, ok)
}
