package enums

import "fmt"

// WalletTransactionType classifies ledger entries.
type WalletTransactionType string

const (
	WalletTransactionFund         WalletTransactionType = "fund"
	WalletTransactionWithdrawal   WalletTransactionType = "withdrawal"
	WalletTransactionEscrowCredit WalletTransactionType = "escrow_credit"
)

var validWalletTransactionTypes = []WalletTransactionType{
	WalletTransactionFund,
	WalletTransactionWithdrawal,
	WalletTransactionEscrowCredit,
}

// IsValid reports whether the value is a known WalletTransactionType.
func (t WalletTransactionType) IsValid() bool {
	for _, candidate := range validWalletTransactionTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// IsCredit reports whether the type increases the balance.
func (t WalletTransactionType) IsCredit() bool {
	return t == WalletTransactionFund || t == WalletTransactionEscrowCredit
}

// WalletTransactionStatus tracks settlement of a ledger entry.
type WalletTransactionStatus string

const (
	WalletTransactionPending WalletTransactionStatus = "pending"
	WalletTransactionSuccess WalletTransactionStatus = "success"
	WalletTransactionFailed  WalletTransactionStatus = "failed"
)

// PlanTier drives withdrawal bounds.
type PlanTier string

const (
	PlanTierFree     PlanTier = "free"
	PlanTierPro      PlanTier = "pro"
	PlanTierBusiness PlanTier = "business"
)

var validPlanTiers = []PlanTier{PlanTierFree, PlanTierPro, PlanTierBusiness}

// IsValid reports whether the value is a known PlanTier.
func (p PlanTier) IsValid() bool {
	for _, candidate := range validPlanTiers {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePlanTier converts raw input into a PlanTier.
func ParsePlanTier(value string) (PlanTier, error) {
	for _, candidate := range validPlanTiers {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid plan tier %q", value)
}
