package shipbubble

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/marketplace-escrow/pkg/errors"
	"github.com/angelmondragon/marketplace-escrow/pkg/types"
)

const (
	defaultBaseURL              = "https://api.shipbubble.com/v1"
	responseBodyReadLimit int64 = 1024
)

var errAPIKeyRequired = errors.New("shipbubble api key is required")

// Client wraps the ShipBubble shipping aggregator API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the configured API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// NewClient builds the ShipBubble client given an API key.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	trimmedKey := strings.TrimSpace(apiKey)
	if trimmedKey == "" {
		return nil, errAPIKeyRequired
	}

	client := &Client{
		apiKey:     trimmedKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// RatesRequest asks for courier quotes between two validated addresses.
type RatesRequest struct {
	SenderAddressCode   int64
	ReceiverAddressCode int64
	PickupDate          time.Time
	CategoryID          int64
	ItemName            string
	ItemValue           decimal.Decimal
	WeightKG            decimal.Decimal
}

// Courier is one quoted service.
type Courier struct {
	CourierID   string          `json:"courier_id"`
	CourierName string          `json:"courier_name"`
	ServiceCode string          `json:"service_code"`
	Total       decimal.Decimal `json:"total"`
	Currency    string          `json:"currency"`
	DeliveryETA string          `json:"delivery_eta"`
}

// Rates is the quote set plus the token needed to book one of them.
type Rates struct {
	RequestToken string
	Couriers     []Courier
}

// LabelRequest books a previously quoted courier.
type LabelRequest struct {
	RequestToken string `json:"request_token"`
	ServiceCode  string `json:"service_code"`
	CourierID    string `json:"courier_id"`
}

// Shipment is a booked label as reported by the provider.
type Shipment struct {
	OrderID      string
	Status       string
	TrackingURL  string
	TrackingCode string
	Courier      string
	Events       []TrackingEvent
}

// TrackingEvent is one scan in the courier history.
type TrackingEvent struct {
	Location  string    `json:"location"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"captured"`
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type shipmentPayload struct {
	OrderID     string `json:"order_id"`
	Status      string `json:"status"`
	TrackingURL string `json:"tracking_url"`
	Courier     struct {
		Name         string `json:"name"`
		TrackingCode string `json:"tracking_code"`
	} `json:"courier"`
	Events []TrackingEvent `json:"events"`
}

func (p shipmentPayload) toShipment() *Shipment {
	return &Shipment{
		OrderID:      p.OrderID,
		Status:       p.Status,
		TrackingURL:  p.TrackingURL,
		TrackingCode: p.Courier.TrackingCode,
		Courier:      p.Courier.Name,
		Events:       p.Events,
	}
}

// ValidateAddress registers an address with the provider and returns its address code.
func (c *Client) ValidateAddress(ctx context.Context, address types.ShipAddress) (int64, error) {
	if c == nil {
		return 0, pkgerrors.New(pkgerrors.CodeDependency, "shipbubble client not configured")
	}
	if strings.TrimSpace(address.Line1) == "" || strings.TrimSpace(address.State) == "" {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "address line and state are required")
	}
	body := map[string]string{
		"name":    address.Name,
		"email":   address.Email,
		"phone":   address.Phone,
		"address": address.Full(),
	}
	var data struct {
		AddressCode int64 `json:"address_code"`
	}
	if err := c.do(ctx, http.MethodPost, "shipping/address/validate", body, &data); err != nil {
		return 0, err
	}
	return data.AddressCode, nil
}

// FetchRates returns courier quotes for a package.
func (c *Client) FetchRates(ctx context.Context, req RatesRequest) (*Rates, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "shipbubble client not configured")
	}
	pickup := req.PickupDate
	if pickup.IsZero() {
		pickup = time.Now().Add(24 * time.Hour)
	}
	name := req.ItemName
	if name == "" {
		name = "marketplace item"
	}
	body := map[string]any{
		"sender_address_code":   req.SenderAddressCode,
		"reciever_address_code": req.ReceiverAddressCode,
		"pickup_date":           pickup.Format("2006-01-02"),
		"category_id":           req.CategoryID,
		"package_items": []map[string]any{{
			"name":        name,
			"description": name,
			"unit_weight": req.WeightKG.String(),
			"unit_amount": req.ItemValue.String(),
			"quantity":    1,
		}},
		"package_dimension": map[string]int{"length": 20, "width": 20, "height": 20},
	}
	var data struct {
		RequestToken string    `json:"request_token"`
		Couriers     []Courier `json:"couriers"`
	}
	if err := c.do(ctx, http.MethodPost, "shipping/fetch_rates", body, &data); err != nil {
		return nil, err
	}
	return &Rates{RequestToken: data.RequestToken, Couriers: data.Couriers}, nil
}

// CreateLabel books the courier and returns the provider shipment.
func (c *Client) CreateLabel(ctx context.Context, req LabelRequest) (*Shipment, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "shipbubble client not configured")
	}
	if req.RequestToken == "" || req.ServiceCode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "request token and service code are required")
	}
	var data shipmentPayload
	if err := c.do(ctx, http.MethodPost, "shipping/labels", req, &data); err != nil {
		return nil, err
	}
	if data.OrderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "shipbubble returned no shipment id")
	}
	return data.toShipment(), nil
}

// Track fetches the current status of a shipment.
func (c *Client) Track(ctx context.Context, providerShipmentID string) (*Shipment, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "shipbubble client not configured")
	}
	trimmed := strings.TrimSpace(providerShipmentID)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipment id is required")
	}
	var data struct {
		Results []shipmentPayload `json:"results"`
	}
	if err := c.do(ctx, http.MethodGet, "shipping/labels/list/"+url.PathEscape(trimmed), nil, &data); err != nil {
		return nil, err
	}
	if len(data.Results) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "shipment not found at provider")
	}
	return data.Results[0].toShipment(), nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal shipbubble request")
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.buildURL(path), reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build shipbubble request")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute shipbubble request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), path+" request failed")
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode shipbubble response")
	}
	if env.Status != "" && env.Status != "success" {
		return pkgerrors.New(pkgerrors.CodeDependency, "shipbubble: "+env.Message)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode shipbubble data")
	}
	return nil
}

func (c *Client) buildURL(path string) string {
	trimmed := strings.TrimRight(c.baseURL, "/")
	path = strings.TrimLeft(path, "/")
	return fmt.Sprintf("%s/%s", trimmed, path)
}
