package shipping

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	internalshipping "github.com/angelmondragon/marketplace-escrow/internal/shipping"
	"github.com/angelmondragon/marketplace-escrow/pkg/logger"
)

type stubQuoter struct {
	quote func(ctx context.Context, req internalshipping.QuoteRequest) (*internalshipping.Quote, error)
}

func (s *stubQuoter) Quote(ctx context.Context, req internalshipping.QuoteRequest) (*internalshipping.Quote, error) {
	return s.quote(ctx, req)
}

const validRatesBody = `{
	"ship_from": {"name":"Ada","phone":"08030000000","line1":"1 Allen Ave","city":"Ikeja","state":"Lagos"},
	"ship_to": {"name":"Bola","phone":"08040000000","line1":"2 Wuse","city":"Abuja","state":"FCT"},
	"weight_kg": "3",
	"item_value": "5000",
	"item_name": "sneakers"
}`

func TestRatesReturnsQuote(t *testing.T) {
	quoter := &stubQuoter{
		quote: func(ctx context.Context, req internalshipping.QuoteRequest) (*internalshipping.Quote, error) {
			if req.ShipFrom.State != "Lagos" || req.ShipTo.State != "FCT" {
				t.Fatalf("unexpected parcel %+v", req.Parcel)
			}
			if !req.WeightKG.Equal(decimal.NewFromInt(3)) {
				t.Fatalf("unexpected weight %s", req.WeightKG)
			}
			return &internalshipping.Quote{
				Fallback: true,
				Rates:    []internalshipping.Rate{{ServiceCode: "standard", Amount: decimal.NewFromInt(3800), Currency: "NGN"}},
			}, nil
		},
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/shipping/rates", strings.NewReader(validRatesBody))
	resp := httptest.NewRecorder()

	Rates(quoter, logger.New(logger.Options{ServiceName: "test"})).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var envelope struct {
		Data internalshipping.Quote `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !envelope.Data.Fallback || len(envelope.Data.Rates) != 1 {
		t.Fatalf("unexpected quote %+v", envelope.Data)
	}
}

func TestRatesValidatesAddresses(t *testing.T) {
	quoter := &stubQuoter{
		quote: func(ctx context.Context, req internalshipping.QuoteRequest) (*internalshipping.Quote, error) {
			t.Fatal("quote should not be called")
			return nil, nil
		},
	}
	body := `{"ship_from":{"name":"Ada"},"ship_to":{"name":"Bola"},"weight_kg":"1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/shipping/rates", strings.NewReader(body))
	resp := httptest.NewRecorder()

	Rates(quoter, logger.New(logger.Options{ServiceName: "test"})).ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}
