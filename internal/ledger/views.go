package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketplace-escrow/pkg/db/models"
	"github.com/angelmondragon/marketplace-escrow/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-escrow/pkg/errors"
	"github.com/angelmondragon/marketplace-escrow/pkg/pagination"
)

// BalanceView is the read model for GET /wallet.
type BalanceView struct {
	UserID   uuid.UUID       `json:"user_id"`
	Balance  decimal.Decimal `json:"balance"`
	Currency string          `json:"currency"`
	PlanTier enums.PlanTier  `json:"plan_tier"`
	HasPIN   bool            `json:"has_pin"`
}

// TransactionView is one ledger row as returned to the wallet owner.
type TransactionView struct {
	ID           uuid.UUID                     `json:"id"`
	Reference    string                        `json:"reference"`
	Amount       decimal.Decimal               `json:"amount"`
	BalanceAfter decimal.Decimal               `json:"balance_after"`
	Type         enums.WalletTransactionType   `json:"type"`
	Status       enums.WalletTransactionStatus `json:"status"`
	Narration    string                        `json:"narration"`
	Verified     bool                          `json:"verified"`
	OrderID      *uuid.UUID                    `json:"order_id,omitempty"`
	CreatedAt    time.Time                     `json:"created_at"`
}

// TransactionPage is a cursor page of ledger rows, newest first.
type TransactionPage struct {
	Items      []TransactionView `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

func (s *service) Balance(ctx context.Context, userID uuid.UUID) (*BalanceView, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	wallet, err := s.repo.FindWallet(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load wallet")
	}
	view := &BalanceView{
		UserID:   userID,
		Balance:  decimal.Zero,
		Currency: Currency,
		PlanTier: enums.PlanTierFree,
	}
	if wallet != nil {
		view.Balance = wallet.Balance
		view.PlanTier = wallet.PlanTier
		view.HasPIN = wallet.PINHash != nil && *wallet.PINHash != ""
	}
	return view, nil
}

func (s *service) Transactions(ctx context.Context, userID uuid.UUID, params pagination.Params) (*TransactionPage, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListTransactions(ctx, userID, cursor, params.Limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list wallet transactions")
	}

	rows, next := pagination.Trim(rows, params.Limit, func(row models.WalletTransaction) pagination.Cursor {
		return pagination.Cursor{CreatedAt: row.CreatedAt, ID: row.ID}
	})
	page := &TransactionPage{Items: make([]TransactionView, 0, len(rows)), NextCursor: next}
	for _, row := range rows {
		page.Items = append(page.Items, toTransactionView(row))
	}
	return page, nil
}

func toTransactionView(row models.WalletTransaction) TransactionView {
	return TransactionView{
		ID:           row.ID,
		Reference:    row.Reference,
		Amount:       row.Amount,
		BalanceAfter: row.BalanceAfter,
		Type:         row.Type,
		Status:       row.Status,
		Narration:    row.Narration,
		Verified:     row.Verified,
		OrderID:      row.OrderID,
		CreatedAt:    row.CreatedAt,
	}
}
