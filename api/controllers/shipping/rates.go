package shipping

import (
	"context"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketplace-escrow/api/responses"
	"github.com/angelmondragon/marketplace-escrow/api/validators"
	internalshipping "github.com/angelmondragon/marketplace-escrow/internal/shipping"
	pkgerrors "github.com/angelmondragon/marketplace-escrow/pkg/errors"
	"github.com/angelmondragon/marketplace-escrow/pkg/logger"
	"github.com/angelmondragon/marketplace-escrow/pkg/types"
)

// RateQuoter is the slice of the shipping adapter checkout needs.
type RateQuoter interface {
	Quote(ctx context.Context, req internalshipping.QuoteRequest) (*internalshipping.Quote, error)
}

type ratesRequest struct {
	ShipFrom  types.ShipAddress `json:"ship_from"`
	ShipTo    types.ShipAddress `json:"ship_to"`
	WeightKG  decimal.Decimal   `json:"weight_kg"`
	ItemValue decimal.Decimal   `json:"item_value"`
	ItemName  string            `json:"item_name" validate:"omitempty,max=120"`
}

// Rates quotes courier prices. When the provider is down the synthetic table answers with fallback=true.
func Rates(quoter RateQuoter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if quoter == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "shipping service unavailable"))
			return
		}

		var req ratesRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		quote, err := quoter.Quote(r.Context(), internalshipping.QuoteRequest{
			Parcel: internalshipping.Parcel{
				ShipFrom:  req.ShipFrom,
				ShipTo:    req.ShipTo,
				WeightKG:  req.WeightKG,
				ItemValue: req.ItemValue,
				ItemName:  strings.TrimSpace(req.ItemName),
			},
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, quote)
	}
}
