package wallet

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-escrow/internal/ledger"
	"github.com/angelmondragon/marketplace-escrow/pkg/config"
	"github.com/angelmondragon/marketplace-escrow/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-escrow/pkg/errors"
	"github.com/angelmondragon/marketplace-escrow/pkg/logger"
	"github.com/angelmondragon/marketplace-escrow/pkg/outbox"
	"github.com/angelmondragon/marketplace-escrow/pkg/outbox/payloads"
	"github.com/angelmondragon/marketplace-escrow/pkg/security"
)

// Service gates withdrawals in front of the ledger debit primitive.
type Service interface {
	SetPIN(ctx context.Context, userID uuid.UUID, pin string) error
	Withdraw(ctx context.Context, input WithdrawInput) (*WithdrawResult, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// attemptCounter tracks wrong PIN entries per user in a fixed window.
type attemptCounter interface {
	CounterKey(name string) string
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Counter(ctx context.Context, key string) (int64, error)
	Del(ctx context.Context, keys ...string) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// WithdrawInput is a PIN-gated withdrawal request.
type WithdrawInput struct {
	UserID    uuid.UUID
	Amount    decimal.Decimal
	PIN       string
	Narration string
}

// WithdrawResult reports the debit that was applied.
type WithdrawResult struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	Reference     string          `json:"reference"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	CreatedAt     time.Time       `json:"created_at"`
}

type ServiceParams struct {
	Repository ledger.Repository
	Ledger     ledger.Service
	Outbox     outboxEmitter
	TxRunner   txRunner
	Wallet     config.WalletConfig
	Password   config.PasswordConfig
	Logger     *logger.Logger
	Now        func() time.Time
	// Attempts enables PIN lockout; nil disables it.
	Attempts attemptCounter
}

type service struct {
	repo     ledger.Repository
	ledger   ledger.Service
	outbox   outboxEmitter
	tx       txRunner
	bounds   map[string]config.Bounds
	window   time.Duration
	password config.PasswordConfig
	logg     *logger.Logger
	now      func() time.Time

	attempts    attemptCounter
	maxAttempts int64
	lockout     time.Duration
}

// NewService wires the withdrawal gate.
func NewService(params ServiceParams) (Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.TxRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	bounds, err := params.Wallet.TierBounds()
	if err != nil {
		return nil, err
	}
	window := params.Wallet.WithdrawalWindow
	if window <= 0 {
		window = 12 * time.Hour
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	maxAttempts := int64(params.Wallet.PINMaxAttempts)
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	lockout := params.Wallet.PINLockout
	if lockout <= 0 {
		lockout = 30 * time.Minute
	}
	return &service{
		repo:        params.Repository,
		ledger:      params.Ledger,
		outbox:      params.Outbox,
		tx:          params.TxRunner,
		bounds:      bounds,
		window:      window,
		password:    params.Password,
		logg:        params.Logger,
		now:         now,
		attempts:    params.Attempts,
		maxAttempts: maxAttempts,
		lockout:     lockout,
	}, nil
}

func (s *service) SetPIN(ctx context.Context, userID uuid.UUID, pin string) error {
	if userID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	hash, err := security.HashPIN(strings.TrimSpace(pin), s.password)
	if err != nil {
		if err == security.ErrInvalidPIN {
			return pkgerrors.New(pkgerrors.CodeValidation, err.Error())
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash pin")
	}
	if err := s.repo.SetPINHash(ctx, userID, hash); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store pin")
	}
	s.logg.Info(s.logg.WithUserID(ctx, userID.String()), "wallet pin updated")
	return nil
}

func (s *service) Withdraw(ctx context.Context, input WithdrawInput) (*WithdrawResult, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if !input.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	if err := s.checkLockout(ctx, input.UserID); err != nil {
		return nil, err
	}

	reference := "withdrawal:" + uuid.NewString()
	narration := strings.TrimSpace(input.Narration)
	if narration == "" {
		narration = "wallet withdrawal"
	}

	var (
		result   *WithdrawResult
		wrongPIN bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		wallet, err := repo.FindWalletForUpdate(ctx, input.UserID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load wallet")
		}
		if wallet == nil || wallet.PINHash == nil || *wallet.PINHash == "" {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "withdrawal pin not set")
		}
		ok, err := security.VerifyPIN(input.PIN, *wallet.PINHash)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "verify pin")
		}
		if !ok {
			wrongPIN = true
			return pkgerrors.New(pkgerrors.CodeForbidden, "invalid withdrawal pin")
		}

		if err := s.checkBounds(wallet.PlanTier, input.Amount); err != nil {
			return err
		}

		since := s.now().UTC().Add(-s.window)
		last, err := repo.LatestSuccessful(ctx, input.UserID, enums.WalletTransactionWithdrawal, since)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check withdrawal window")
		}
		if last != nil {
			return pkgerrors.New(pkgerrors.CodeRateLimit, "one withdrawal allowed per window").
				WithDetails(map[string]any{"next_allowed_at": last.CreatedAt.Add(s.window).UTC()})
		}

		txn, err := s.ledger.Debit(ctx, tx, ledger.MutationInput{
			UserID:    input.UserID,
			Amount:    input.Amount,
			Reference: reference,
			Narration: narration,
			Type:      enums.WalletTransactionWithdrawal,
			Verified:  true,
		})
		if err != nil {
			return err
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventWalletWithdrawalCompleted,
			AggregateType: enums.AggregateWallet,
			AggregateID:   input.UserID,
			Actor:         &outbox.ActorRef{UserID: input.UserID},
			Data: payloads.WalletWithdrawalCompletedEvent{
				UserID:        input.UserID,
				TransactionID: txn.ID,
				Reference:     txn.Reference,
				Amount:        input.Amount.String(),
				BalanceAfter:  txn.BalanceAfter.String(),
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit withdrawal event")
		}

		result = &WithdrawResult{
			TransactionID: txn.ID,
			Reference:     txn.Reference,
			Amount:        input.Amount,
			BalanceAfter:  txn.BalanceAfter,
			CreatedAt:     txn.CreatedAt,
		}
		return nil
	})
	if wrongPIN {
		s.recordWrongPIN(ctx, input.UserID)
	}
	if err != nil {
		return nil, err
	}
	s.clearAttempts(ctx, input.UserID)

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"user_id":   input.UserID.String(),
		"reference": result.Reference,
		"amount":    result.Amount.String(),
	})
	s.logg.Info(logCtx, "wallet withdrawal completed")
	return result, nil
}

func (s *service) checkBounds(tier enums.PlanTier, amount decimal.Decimal) error {
	bounds, ok := s.bounds[string(tier)]
	if !ok {
		bounds = s.bounds[string(enums.PlanTierFree)]
	}
	if amount.LessThan(bounds.Min) || amount.GreaterThan(bounds.Max) {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount outside withdrawal limits").
			WithDetails(map[string]any{
				"min":       bounds.Min.String(),
				"max":       bounds.Max.String(),
				"plan_tier": tier,
			})
	}
	return nil
}

func (s *service) attemptKey(userID uuid.UUID) string {
	return s.attempts.CounterKey("pin_attempts:" + userID.String())
}

// checkLockout blocks withdrawals once maxAttempts wrong PINs land inside the
// lockout window. Counter failures fail open; the PIN check still applies.
func (s *service) checkLockout(ctx context.Context, userID uuid.UUID) error {
	if s.attempts == nil {
		return nil
	}
	n, err := s.attempts.Counter(ctx, s.attemptKey(userID))
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "pin attempt counter unavailable")
		return nil
	}
	if n >= s.maxAttempts {
		return pkgerrors.New(pkgerrors.CodeRateLimit, "too many incorrect pin attempts").
			WithDetails(map[string]any{"retry_after_seconds": int(s.lockout.Seconds())})
	}
	return nil
}

func (s *service) recordWrongPIN(ctx context.Context, userID uuid.UUID) {
	if s.attempts == nil {
		return
	}
	n, err := s.attempts.IncrWithTTL(ctx, s.attemptKey(userID), s.lockout)
	logCtx := s.logg.WithFields(ctx, map[string]any{"user_id": userID.String(), "attempts": n})
	if err != nil {
		s.logg.Error(logCtx, "record pin attempt", err)
		return
	}
	s.logg.Warn(logCtx, "wallet withdrawal rejected: wrong pin")
}

func (s *service) clearAttempts(ctx context.Context, userID uuid.UUID) {
	if s.attempts == nil {
		return
	}
	if err := s.attempts.Del(ctx, s.attemptKey(userID)); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "reset pin attempts")
	}
}
