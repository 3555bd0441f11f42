package shipping

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"

	"github.com/angelmondragon/marketplace-escrow/pkg/config"
	"github.com/angelmondragon/marketplace-escrow/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-escrow/pkg/errors"
	"github.com/angelmondragon/marketplace-escrow/pkg/logger"
	"github.com/angelmondragon/marketplace-escrow/pkg/shipbubble"
	"github.com/angelmondragon/marketplace-escrow/pkg/types"
)

// Provider is the subset of the ShipBubble client the adapter uses.
type Provider interface {
	ValidateAddress(ctx context.Context, address types.ShipAddress) (int64, error)
	FetchRates(ctx context.Context, req shipbubble.RatesRequest) (*shipbubble.Rates, error)
	CreateLabel(ctx context.Context, req shipbubble.LabelRequest) (*shipbubble.Shipment, error)
	Track(ctx context.Context, providerShipmentID string) (*shipbubble.Shipment, error)
}

type fallbackMetrics interface {
	IncQuoteFallback(reason string)
}

// Service quotes, books and tracks shipments.
type Service interface {
	// Quote never fails because of the provider; it falls back to the synthetic table.
	Quote(ctx context.Context, req QuoteRequest) (*Quote, error)
	CreateShipment(ctx context.Context, req ShipmentRequest) (*ShipmentResult, error)
	Track(ctx context.Context, providerShipmentID string) (*TrackResult, error)
}

// Parcel describes what is being shipped.
type Parcel struct {
	ShipFrom  types.ShipAddress
	ShipTo    types.ShipAddress
	WeightKG  decimal.Decimal
	ItemValue decimal.Decimal
	ItemName  string
}

type QuoteRequest struct {
	Parcel
}

// Rate is one bookable price.
type Rate struct {
	CourierID   string          `json:"courier_id"`
	CourierName string          `json:"courier_name"`
	ServiceCode string          `json:"service_code"`
	Tier        string          `json:"tier,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	ETA         string          `json:"eta"`
}

// Quote is the rate list returned to checkout.
type Quote struct {
	Rates          []Rate `json:"rates"`
	RequestToken   string `json:"request_token,omitempty"`
	Fallback       bool   `json:"fallback"`
	FallbackReason string `json:"fallback_reason,omitempty"`
}

// ShipmentRequest books a courier. An empty ServiceCode picks the cheapest quote.
type ShipmentRequest struct {
	Parcel
	ServiceCode string
}

// ShipmentResult is the booked shipment.
type ShipmentResult struct {
	ProviderShipmentID string               `json:"provider_shipment_id"`
	TrackingCode       string               `json:"tracking_code,omitempty"`
	TrackingURL        string               `json:"tracking_url,omitempty"`
	Courier            string               `json:"courier,omitempty"`
	Status             enums.ShippingStatus `json:"status"`
}

// TrackResult is the provider's view of a shipment.
type TrackResult struct {
	Status       enums.ShippingStatus       `json:"status"`
	RawStatus    string                     `json:"raw_status"`
	Known        bool                       `json:"known"`
	TrackingCode string                     `json:"tracking_code,omitempty"`
	TrackingURL  string                     `json:"tracking_url,omitempty"`
	Courier      string                     `json:"courier,omitempty"`
	Events       []shipbubble.TrackingEvent `json:"events,omitempty"`
}

type ServiceParams struct {
	Provider Provider
	Config   config.ShipBubbleConfig
	Metrics  fallbackMetrics
	Logger   *logger.Logger
}

type service struct {
	provider   Provider
	breaker    *gobreaker.CircuitBreaker[any]
	timeout    time.Duration
	categoryID int64
	metrics    fallbackMetrics
	logg       *logger.Logger
}

// NewService wires the adapter. A nil provider is allowed: quotes then always fall back.
func NewService(params ServiceParams) (Service, error) {
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	timeout := params.Config.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	maxFailures := params.Config.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	cooldown := params.Config.BreakerCooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	logg := params.Logger

	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "shipbubble",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			typed := pkgerrors.As(err)
			return typed != nil && typed.Code() != pkgerrors.CodeDependency && typed.Code() != pkgerrors.CodeInternal
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			ctx := logg.WithFields(context.Background(), map[string]any{"breaker": name, "from": from.String(), "to": to.String()})
			logg.Warn(ctx, "shipping provider breaker state changed")
		},
	})

	provider := params.Provider
	if provider != nil {
		if c, ok := provider.(*shipbubble.Client); ok && c == nil {
			provider = nil
		}
	}

	return &service{
		provider:   provider,
		breaker:    breaker,
		timeout:    timeout,
		categoryID: params.Config.CategoryID,
		metrics:    params.Metrics,
		logg:       logg,
	}, nil
}

func (s *service) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	if err := validateParcel(req.Parcel); err != nil {
		return nil, err
	}
	if s.provider == nil {
		return s.fallback(ctx, req.Parcel, "provider_not_configured", nil), nil
	}

	rates, err := call(ctx, s, func(ctx context.Context) (*shipbubble.Rates, error) {
		return s.fetchRates(ctx, req.Parcel)
	})
	if err != nil {
		return s.fallback(ctx, req.Parcel, fallbackReason(err), err), nil
	}
	if len(rates.Couriers) == 0 {
		return s.fallback(ctx, req.Parcel, "no_rates", nil), nil
	}

	quote := &Quote{RequestToken: rates.RequestToken, Rates: make([]Rate, 0, len(rates.Couriers))}
	for _, courier := range rates.Couriers {
		currency := courier.Currency
		if currency == "" {
			currency = "NGN"
		}
		quote.Rates = append(quote.Rates, Rate{
			CourierID:   courier.CourierID,
			CourierName: courier.CourierName,
			ServiceCode: courier.ServiceCode,
			Amount:      courier.Total,
			Currency:    currency,
			ETA:         courier.DeliveryETA,
		})
	}
	sort.SliceStable(quote.Rates, func(i, j int) bool { return quote.Rates[i].Amount.LessThan(quote.Rates[j].Amount) })
	return quote, nil
}

// CreateShipment has no fallback: a failure leaves the order untouched so the seller can retry.
func (s *service) CreateShipment(ctx context.Context, req ShipmentRequest) (*ShipmentResult, error) {
	if err := validateParcel(req.Parcel); err != nil {
		return nil, err
	}
	if s.provider == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "shipping provider not configured")
	}

	shipment, err := call(ctx, s, func(ctx context.Context) (*shipbubble.Shipment, error) {
		rates, err := s.fetchRates(ctx, req.Parcel)
		if err != nil {
			return nil, err
		}
		courier, err := pickCourier(rates.Couriers, req.ServiceCode)
		if err != nil {
			return nil, err
		}
		return s.provider.CreateLabel(ctx, shipbubble.LabelRequest{
			RequestToken: rates.RequestToken,
			ServiceCode:  courier.ServiceCode,
			CourierID:    courier.CourierID,
		})
	})
	if err != nil {
		return nil, asDependency(err, "create shipment")
	}

	status, ok := NormalizeStatus(shipment.Status)
	if !ok || status == enums.ShippingStatusPendingPickup {
		status = enums.ShippingStatusConfirmed
	}
	return &ShipmentResult{
		ProviderShipmentID: shipment.OrderID,
		TrackingCode:       shipment.TrackingCode,
		TrackingURL:        shipment.TrackingURL,
		Courier:            shipment.Courier,
		Status:             status,
	}, nil
}

func (s *service) Track(ctx context.Context, providerShipmentID string) (*TrackResult, error) {
	if strings.TrimSpace(providerShipmentID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipment id is required")
	}
	if s.provider == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "shipping provider not configured")
	}
	shipment, err := call(ctx, s, func(ctx context.Context) (*shipbubble.Shipment, error) {
		return s.provider.Track(ctx, providerShipmentID)
	})
	if err != nil {
		return nil, asDependency(err, "track shipment")
	}
	status, known := NormalizeStatus(shipment.Status)
	return &TrackResult{
		Status:       status,
		RawStatus:    shipment.Status,
		Known:        known,
		TrackingCode: shipment.TrackingCode,
		TrackingURL:  shipment.TrackingURL,
		Courier:      shipment.Courier,
		Events:       shipment.Events,
	}, nil
}

func (s *service) fetchRates(ctx context.Context, parcel Parcel) (*shipbubble.Rates, error) {
	senderCode, err := s.provider.ValidateAddress(ctx, parcel.ShipFrom)
	if err != nil {
		return nil, err
	}
	receiverCode, err := s.provider.ValidateAddress(ctx, parcel.ShipTo)
	if err != nil {
		return nil, err
	}
	return s.provider.FetchRates(ctx, shipbubble.RatesRequest{
		SenderAddressCode:   senderCode,
		ReceiverAddressCode: receiverCode,
		CategoryID:          s.categoryID,
		ItemName:            parcel.ItemName,
		ItemValue:           parcel.ItemValue,
		WeightKG:            parcelWeight(parcel),
	})
}

func (s *service) fallback(ctx context.Context, parcel Parcel, reason string, cause error) *Quote {
	if s.metrics != nil {
		s.metrics.IncQuoteFallback(reason)
	}
	logCtx := s.logg.WithField(ctx, "fallback_reason", reason)
	if cause != nil {
		s.logg.Warn(logCtx, "shipping quote fell back to rate table: "+cause.Error())
	} else {
		s.logg.Info(logCtx, "shipping quote served from rate table")
	}
	return &Quote{
		Rates:          fallbackRates(parcel.ShipFrom.State, parcel.ShipTo.State, parcelWeight(parcel)),
		Fallback:       true,
		FallbackReason: reason,
	}
}

// call runs fn through the breaker with the provider timeout applied.
func call[T any](ctx context.Context, s *service, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var zero T
	out, err := s.breaker.Execute(func() (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}
	typed, ok := out.(T)
	if !ok {
		return zero, pkgerrors.New(pkgerrors.CodeInternal, "unexpected provider result")
	}
	return typed, nil
}

func fallbackReason(err error) string {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "breaker_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "provider_error"
	}
}

func asDependency(err error, msg string) error {
	if typed := pkgerrors.As(err); typed != nil && typed.Code() != pkgerrors.CodeInternal {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}

func pickCourier(couriers []shipbubble.Courier, serviceCode string) (shipbubble.Courier, error) {
	if len(couriers) == 0 {
		return shipbubble.Courier{}, pkgerrors.New(pkgerrors.CodeDependency, "no couriers available for route")
	}
	if serviceCode != "" {
		for _, c := range couriers {
			if c.ServiceCode == serviceCode {
				return c, nil
			}
		}
		return shipbubble.Courier{}, pkgerrors.New(pkgerrors.CodeValidation, "requested courier service is not available")
	}
	cheapest := couriers[0]
	for _, c := range couriers[1:] {
		if c.Total.LessThan(cheapest.Total) {
			cheapest = c
		}
	}
	return cheapest, nil
}

func parcelWeight(p Parcel) decimal.Decimal {
	if !p.WeightKG.IsPositive() {
		return decimal.NewFromInt(1)
	}
	return p.WeightKG
}

func validateParcel(p Parcel) error {
	if strings.TrimSpace(p.ShipFrom.State) == "" || strings.TrimSpace(p.ShipTo.State) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "ship from and ship to states are required")
	}
	if p.WeightKG.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeValidation, "weight must not be negative")
	}
	return nil
}
