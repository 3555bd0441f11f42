package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/marketplace-escrow/internal/repo"
	"github.com/angelmondragon/marketplace-escrow/pkg/db/models"
	"github.com/angelmondragon/marketplace-escrow/pkg/enums"
	"github.com/angelmondragon/marketplace-escrow/pkg/pagination"
)

// Repository manages persistence for wallets and their transaction log.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	FindWalletForUpdate(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	FindByReference(ctx context.Context, reference string) (*models.WalletTransaction, error)
	IncrementBalance(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error)
	DecrementBalance(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, bool, error)
	CreateTransaction(ctx context.Context, txn *models.WalletTransaction) error
	ListTransactions(ctx context.Context, userID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.WalletTransaction, error)
	LatestSuccessful(ctx context.Context, userID uuid.UUID, txnType enums.WalletTransactionType, since time.Time) (*models.WalletTransaction, error)
	SetPINHash(ctx context.Context, userID uuid.UUID, hash string) error
}

type repository struct {
	repo.Base
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: r.Bound(tx)}
}

func (r *repository) FindWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	return repo.First[models.Wallet](r.DB(ctx).Where("user_id = ?", userID))
}

// FindWalletForUpdate row-locks the wallet on Postgres. sqlite serializes writers already.
func (r *repository) FindWalletForUpdate(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	return repo.First[models.Wallet](repo.ForUpdate(r.DB(ctx)).Where("user_id = ?", userID))
}

func (r *repository) FindByReference(ctx context.Context, reference string) (*models.WalletTransaction, error) {
	return repo.First[models.WalletTransaction](r.DB(ctx).Where("reference = ?", reference))
}

// IncrementBalance adds amount in a single upsert so concurrent credits never lose updates.
func (r *repository) IncrementBalance(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	now := time.Now().UTC()
	wallet := models.Wallet{
		UserID:    userID,
		Balance:   amount,
		PlanTier:  enums.PlanTierFree,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := r.DB(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"balance":    gorm.Expr("wallets.balance + excluded.balance"),
			"updated_at": now,
		}),
	}).Create(&wallet).Error
	if err != nil {
		return decimal.Zero, err
	}
	return r.balance(ctx, userID)
}

// DecrementBalance subtracts amount only when the balance covers it. The bool is false
// when the guard rejected the update.
func (r *repository) DecrementBalance(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, bool, error) {
	res := r.DB(ctx).Model(&models.Wallet{}).
		Where("user_id = ? AND balance >= ?", userID, amount).
		Updates(map[string]any{
			"balance":    gorm.Expr("balance - ?", amount),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return decimal.Zero, false, res.Error
	}
	if res.RowsAffected == 0 {
		return decimal.Zero, false, nil
	}
	balance, err := r.balance(ctx, userID)
	return balance, err == nil, err
}

func (r *repository) balance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	var wallet models.Wallet
	if err := r.DB(ctx).Select("balance").Where("user_id = ?", userID).First(&wallet).Error; err != nil {
		return decimal.Zero, err
	}
	return wallet.Balance, nil
}

func (r *repository) CreateTransaction(ctx context.Context, txn *models.WalletTransaction) error {
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	return r.DB(ctx).Create(txn).Error
}

func (r *repository) ListTransactions(ctx context.Context, userID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.WalletTransaction, error) {
	var rows []models.WalletTransaction
	err := r.DB(ctx).
		Where("user_id = ?", userID).
		Scopes(pagination.Keyset(cursor, pagination.NewestFirst, limit)).
		Find(&rows).Error
	return rows, err
}

func (r *repository) LatestSuccessful(ctx context.Context, userID uuid.UUID, txnType enums.WalletTransactionType, since time.Time) (*models.WalletTransaction, error) {
	return repo.First[models.WalletTransaction](r.DB(ctx).
		Where("user_id = ? AND type = ? AND status = ? AND created_at > ?", userID, txnType, enums.WalletTransactionSuccess, since).
		Order("created_at DESC"))
}

func (r *repository) SetPINHash(ctx context.Context, userID uuid.UUID, hash string) error {
	now := time.Now().UTC()
	wallet := models.Wallet{
		UserID:    userID,
		Balance:   decimal.Zero,
		PlanTier:  enums.PlanTierFree,
		PINHash:   &hash,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return r.DB(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"pin_hash":   hash,
			"updated_at": now,
		}),
	}).Create(&wallet).Error
}
