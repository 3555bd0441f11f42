package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketplace-escrow/pkg/enums"
)

// Wallet holds a user's spendable balance. Only the ledger mutates Balance.
type Wallet struct {
	UserID    uuid.UUID       `gorm:"column:user_id;type:uuid;primaryKey"`
	Balance   decimal.Decimal `gorm:"column:balance;type:numeric(14,2);not null;default:0"`
	PlanTier  enums.PlanTier  `gorm:"column:plan_tier;not null;default:'free'"`
	PINHash   *string         `gorm:"column:pin_hash"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// WalletTransaction is an immutable ledger entry. Amount is signed.
type WalletTransaction struct {
	ID           uuid.UUID                     `gorm:"column:id;type:uuid;primaryKey"`
	UserID       uuid.UUID                     `gorm:"column:user_id;type:uuid;not null"`
	Reference    string                        `gorm:"column:reference;not null;uniqueIndex"`
	Amount       decimal.Decimal               `gorm:"column:amount;type:numeric(14,2);not null"`
	BalanceAfter decimal.Decimal               `gorm:"column:balance_after;type:numeric(14,2);not null"`
	Type         enums.WalletTransactionType   `gorm:"column:type;not null"`
	Status       enums.WalletTransactionStatus `gorm:"column:status;not null"`
	Narration    string                        `gorm:"column:narration;not null"`
	Verified     bool                          `gorm:"column:verified;not null;default:false"`
	OrderID      *uuid.UUID                    `gorm:"column:order_id;type:uuid"`
	CreatedAt    time.Time                     `gorm:"column:created_at;autoCreateTime"`
}
