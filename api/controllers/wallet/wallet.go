package wallet

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketplace-escrow/api/controllers/actorcontext"
	"github.com/angelmondragon/marketplace-escrow/api/responses"
	"github.com/angelmondragon/marketplace-escrow/api/validators"
	"github.com/angelmondragon/marketplace-escrow/internal/ledger"
	internalwallet "github.com/angelmondragon/marketplace-escrow/internal/wallet"
	pkgerrors "github.com/angelmondragon/marketplace-escrow/pkg/errors"
	"github.com/angelmondragon/marketplace-escrow/pkg/logger"
	"github.com/angelmondragon/marketplace-escrow/pkg/pagination"
)

// LedgerReader is the read side of the wallet ledger.
type LedgerReader interface {
	Balance(ctx context.Context, userID uuid.UUID) (*ledger.BalanceView, error)
	Transactions(ctx context.Context, userID uuid.UUID, params pagination.Params) (*ledger.TransactionPage, error)
}

type setPINRequest struct {
	PIN string `json:"pin" validate:"required,numeric,min=4,max=6"`
}

type withdrawRequest struct {
	Amount    decimal.Decimal `json:"amount" validate:"gt=0"`
	PIN       string          `json:"pin" validate:"required,numeric,min=4,max=6"`
	Narration string          `json:"narration" validate:"omitempty,max=255"`
}

// Balance returns the caller's wallet balance.
func Balance(reader LedgerReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reader == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger unavailable"))
			return
		}
		userID, err := actorcontext.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		view, err := reader.Balance(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// Transactions pages through the caller's ledger rows, newest first.
func Transactions(reader LedgerReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reader == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger unavailable"))
			return
		}
		userID, err := actorcontext.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := validators.PageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := reader.Transactions(r.Context(), userID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

// SetPIN sets or replaces the caller's withdrawal PIN.
func SetPIN(svc internalwallet.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wallet service unavailable"))
			return
		}
		userID, err := actorcontext.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req setPINRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.SetPIN(r.Context(), userID, req.PIN); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]bool{"pin_set": true})
	}
}

// Withdraw debits the caller's wallet after the PIN, window and tier checks pass.
func Withdraw(svc internalwallet.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wallet service unavailable"))
			return
		}
		userID, err := actorcontext.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req withdrawRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Withdraw(r.Context(), internalwallet.WithdrawInput{
			UserID:    userID,
			Amount:    req.Amount,
			PIN:       req.PIN,
			Narration: strings.TrimSpace(req.Narration),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
