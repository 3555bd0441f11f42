package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/marketplace-escrow/pkg/db"
	"github.com/angelmondragon/marketplace-escrow/pkg/db/models"
	"github.com/angelmondragon/marketplace-escrow/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-escrow/pkg/errors"
	"github.com/angelmondragon/marketplace-escrow/pkg/pagination"
)

// Currency is the only settlement currency wallets hold.
const Currency = "NGN"

// Service applies balance mutations. Each mutation is one balance update plus one
// immutable transaction row, committed together.
type Service interface {
	Credit(ctx context.Context, tx *gorm.DB, input MutationInput) (*models.WalletTransaction, error)
	Debit(ctx context.Context, tx *gorm.DB, input MutationInput) (*models.WalletTransaction, error)
	Balance(ctx context.Context, userID uuid.UUID) (*BalanceView, error)
	Transactions(ctx context.Context, userID uuid.UUID, params pagination.Params) (*TransactionPage, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// MutationInput describes a single credit or debit. Reference must be unique across the ledger.
type MutationInput struct {
	UserID    uuid.UUID
	Amount    decimal.Decimal
	Reference string
	Narration string
	Type      enums.WalletTransactionType
	OrderID   *uuid.UUID
	Verified  bool
}

type service struct {
	repo Repository
	tx   txRunner
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository, tx txRunner) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{repo: repo, tx: tx}, nil
}

func (s *service) Credit(ctx context.Context, tx *gorm.DB, input MutationInput) (*models.WalletTransaction, error) {
	if err := validateMutation(input); err != nil {
		return nil, err
	}
	if !input.Type.IsCredit() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction type is not a credit")
	}

	var created *models.WalletTransaction
	err := s.inTx(ctx, tx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := ensureUnusedReference(ctx, repo, input.Reference); err != nil {
			return err
		}
		balance, err := repo.IncrementBalance(ctx, input.UserID, input.Amount)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "credit wallet")
		}
		created, err = insertTransaction(ctx, repo, input, input.Amount, balance)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *service) Debit(ctx context.Context, tx *gorm.DB, input MutationInput) (*models.WalletTransaction, error) {
	if err := validateMutation(input); err != nil {
		return nil, err
	}
	if input.Type.IsCredit() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction type is not a debit")
	}

	var created *models.WalletTransaction
	err := s.inTx(ctx, tx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := ensureUnusedReference(ctx, repo, input.Reference); err != nil {
			return err
		}
		balance, ok, err := repo.DecrementBalance(ctx, input.UserID, input.Amount)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "debit wallet")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeInsufficientFunds, "insufficient wallet balance")
		}
		created, err = insertTransaction(ctx, repo, input, input.Amount.Neg(), balance)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *service) inTx(ctx context.Context, tx *gorm.DB, fn func(tx *gorm.DB) error) error {
	if tx != nil {
		return fn(tx)
	}
	return s.tx.WithTx(ctx, fn)
}

func validateMutation(input MutationInput) error {
	if input.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if !input.Amount.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if strings.TrimSpace(input.Reference) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "reference is required")
	}
	if !input.Type.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid transaction type %q", input.Type))
	}
	return nil
}

func ensureUnusedReference(ctx context.Context, repo Repository, reference string) error {
	existing, err := repo.FindByReference(ctx, reference)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup reference")
	}
	if existing != nil {
		return duplicateReference(reference)
	}
	return nil
}

func insertTransaction(ctx context.Context, repo Repository, input MutationInput, signed, balance decimal.Decimal) (*models.WalletTransaction, error) {
	txn := &models.WalletTransaction{
		ID:           uuid.New(),
		UserID:       input.UserID,
		Reference:    input.Reference,
		Amount:       signed,
		BalanceAfter: balance,
		Type:         input.Type,
		Status:       enums.WalletTransactionSuccess,
		Narration:    input.Narration,
		Verified:     input.Verified,
		OrderID:      input.OrderID,
		CreatedAt:    time.Now().UTC(),
	}
	if err := repo.CreateTransaction(ctx, txn); err != nil {
		if dbpkg.IsUniqueViolation(err) {
			return nil, duplicateReference(input.Reference)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record wallet transaction")
	}
	return txn, nil
}

func duplicateReference(reference string) error {
	return pkgerrors.New(pkgerrors.CodeDuplicateReference, "transaction reference already applied").
		WithDetails(map[string]any{"reference": reference})
}
