// Package wallet moves cash in and out of trading accounts.
package wallet

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/deltatrade/internal/auth"
	"github.com/ksred/deltatrade/internal/observability"
	"github.com/ksred/deltatrade/internal/types"
	"github.com/ksred/deltatrade/pkg/keylock"
	"github.com/ksred/deltatrade/pkg/response"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	TypeDeposit  = "DEPOSIT"
	TypeWithdraw = "WITHDRAW"
)

var (
	ErrInvalidAmount     = response.NewStatusError(http.StatusBadRequest, response.ErrCodeValidationFailed, "amount must be positive")
	ErrDepositLimit      = response.NewStatusError(http.StatusBadRequest, response.ErrCodeValidationFailed, "deposit limit exceeded")
	ErrInsufficientFunds = response.NewStatusError(http.StatusBadRequest, response.ErrCodeInsufficientFunds, "insufficient funds")
	ErrAccountNotFound   = response.NewStatusError(http.StatusNotFound, response.ErrCodeNotFound, "account not found")
	defaultDepositLimit  = decimal.NewFromInt(1_000_000)
)

// AmountRequest is the body of a deposit or withdrawal.
type AmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type Service struct {
	db           *Database
	locks        *keylock.KeyLock
	depositLimit decimal.Decimal
	metrics      *observability.Metrics
}

// NewService creates the wallet. locks must be the same KeyLock the ledger
// uses so wallet movements and trades on one account never interleave.
func NewService(db *Database, locks *keylock.KeyLock, depositLimit decimal.Decimal, metrics *observability.Metrics) *Service {
	if !depositLimit.IsPositive() {
		depositLimit = defaultDepositLimit
	}
	if locks == nil {
		locks = keylock.New()
	}
	return &Service{
		db:           db,
		locks:        locks,
		depositLimit: depositLimit,
		metrics:      metrics,
	}
}

// Deposit adds amount to the account. The amount must be positive and no
// larger than the deposit limit.
func (s *Service) Deposit(ctx context.Context, accountID string, amount decimal.Decimal) (*types.Transaction, error) {
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if amount.GreaterThan(s.depositLimit) {
		return nil, fmt.Errorf("max %s: %w", s.depositLimit.StringFixed(0), ErrDepositLimit)
	}
	return s.move(ctx, accountID, TypeDeposit, amount, amount, nil)
}

// Withdraw removes amount from the account if the balance covers it.
func (s *Service) Withdraw(ctx context.Context, accountID string, amount decimal.Decimal) (*types.Transaction, error) {
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	return s.move(ctx, accountID, TypeWithdraw, amount, amount.Neg(), func(balance decimal.Decimal) error {
		if balance.LessThan(amount) {
			return ErrInsufficientFunds
		}
		return nil
	})
}

func (s *Service) move(ctx context.Context, accountID, kind string, amount, delta decimal.Decimal, check func(decimal.Decimal) error) (*types.Transaction, error) {
	unlock := s.locks.Lock(accountID)
	defer unlock()

	txn := &types.Transaction{
		TransactionID: uuid.New().String(),
		AccountID:     accountID,
		Type:          kind,
		Amount:        amount,
		CreatedAt:     time.Now(),
	}
	if err := s.db.ApplyMovement(ctx, txn, delta, check); err != nil {
		return nil, err
	}

	s.metrics.WalletMovements.WithLabelValues(kind).Inc()
	log.Info().
		Str("component", "wallet").
		Str("account_id", accountID).
		Str("type", kind).
		Str("amount", amount.StringFixed(2)).
		Str("balance", txn.BalanceAfter.StringFixed(2)).
		Msg("wallet movement recorded")
	return txn, nil
}

func (s *Service) History(ctx context.Context, accountID string) ([]types.Transaction, error) {
	return s.db.GetAccountTransactions(ctx, accountID)
}

// GinHandlers contains HTTP handlers for wallet endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// DepositHandler handles POST /wallet/deposit
func (h *GinHandlers) DepositHandler() gin.HandlerFunc {
	return h.movement(h.service.Deposit)
}

// WithdrawHandler handles POST /wallet/withdraw
func (h *GinHandlers) WithdrawHandler() gin.HandlerFunc {
	return h.movement(h.service.Withdraw)
}

func (h *GinHandlers) movement(apply func(context.Context, string, decimal.Decimal) (*types.Transaction, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID, ok := auth.RequireAccountID(c)
		if !ok {
			return
		}
		var req AmountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}
		txn, err := apply(c.Request.Context(), accountID, req.Amount)
		response.Handle(c, txn, err)
	}
}

// GetHistoryHandler handles GET /wallet/transactions
func (h *GinHandlers) GetHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID, ok := auth.RequireAccountID(c)
		if !ok {
			return
		}
		txns, err := h.service.History(c.Request.Context(), accountID)
		response.Handle(c, txns, err)
	}
}
