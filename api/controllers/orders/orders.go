package orders

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketplace-escrow/api/controllers/actorcontext"
	"github.com/angelmondragon/marketplace-escrow/api/responses"
	"github.com/angelmondragon/marketplace-escrow/api/validators"
	"github.com/angelmondragon/marketplace-escrow/internal/escrow"
	internalorders "github.com/angelmondragon/marketplace-escrow/internal/orders"
	"github.com/angelmondragon/marketplace-escrow/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-escrow/pkg/errors"
	"github.com/angelmondragon/marketplace-escrow/pkg/logger"
	"github.com/angelmondragon/marketplace-escrow/pkg/types"
)

type createOrderRequest struct {
	BuyerID           string            `json:"buyer_id" validate:"omitempty,uuid"`
	SellerID          string            `json:"seller_id" validate:"required,uuid"`
	ProductID         string            `json:"product_id" validate:"required,uuid"`
	TotalAmount       decimal.Decimal   `json:"total_amount"`
	ServiceFee        decimal.Decimal   `json:"service_fee"`
	VerificationLevel string            `json:"verification_level" validate:"required,oneof=self-arranged basic premium"`
	ShippingMethod    string            `json:"shipping_method" validate:"omitempty,oneof=shipbubble self-arranged"`
	Status            string            `json:"status" validate:"omitempty,oneof=pending paid"`
	ShipFrom          types.ShipAddress `json:"ship_from" validate:"-"`
	ShipTo            types.ShipAddress `json:"ship_to" validate:"-"`
	PackageWeightKG   decimal.Decimal   `json:"package_weight_kg"`
}

type createShipmentRequest struct {
	ServiceCode string `json:"service_code" validate:"omitempty,max=64"`
}

// Create registers a new escrow order. Buyers create orders for themselves; admins may act for a buyer.
func Create(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		actor, err := actorcontext.ResolveActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req createOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		buyerID := actor.UserID
		if req.BuyerID != "" {
			requested := uuid.MustParse(req.BuyerID)
			if requested != actor.UserID && actor.Role != enums.UserRoleAdmin {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "cannot create orders for another buyer"))
				return
			}
			buyerID = requested
		}

		view, err := svc.Create(r.Context(), internalorders.CreateOrderInput{
			BuyerID:           buyerID,
			SellerID:          uuid.MustParse(req.SellerID),
			ProductID:         uuid.MustParse(req.ProductID),
			TotalAmount:       req.TotalAmount,
			ServiceFee:        req.ServiceFee,
			VerificationLevel: enums.VerificationLevel(req.VerificationLevel),
			ShippingMethod:    enums.ShippingMethod(req.ShippingMethod),
			Status:            enums.OrderStatus(req.Status),
			ShipFrom:          req.ShipFrom,
			ShipTo:            req.ShipTo,
			PackageWeightKG:   req.PackageWeightKG,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, view)
	}
}

// List returns the caller's orders as buyer or seller, newest first.
func List(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		actor, err := actorcontext.ResolveActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := validators.PageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.List(r.Context(), actor, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// Detail returns a single order to a participant or an admin.
func Detail(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		actor, orderID, err := resolveOrderRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		view, err := svc.Get(r.Context(), orderID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// ShippingLogs pages through the order's audit trail.
func ShippingLogs(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		actor, orderID, err := resolveOrderRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := validators.PageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := svc.ShippingLogs(r.Context(), orderID, actor, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

// CreateShipment books the courier for a shipbubble order. Only the seller may call it.
func CreateShipment(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		actor, orderID, err := resolveOrderRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req createShipmentRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &req); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		view, err := svc.CreateShipment(r.Context(), orderID, actor, strings.TrimSpace(req.ServiceCode))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// Tracking polls the courier and returns the latest shipping state.
func Tracking(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		actor, orderID, err := resolveOrderRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		view, err := svc.Track(r.Context(), orderID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

func resolveOrderRequest(r *http.Request) (escrow.Actor, uuid.UUID, error) {
	actor, err := actorcontext.ResolveActor(r)
	if err != nil {
		return escrow.Actor{}, uuid.Nil, err
	}
	orderID, err := parseOrderID(r)
	if err != nil {
		return escrow.Actor{}, uuid.Nil, err
	}
	return actor, orderID, nil
}

func parseOrderID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id")
	}
	return id, nil
}

