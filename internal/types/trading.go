package types

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	StatusOpen   = "OPEN"
	StatusClosed = "CLOSED"

	ReasonManual     = "MANUAL"
	ReasonTakeProfit = "TAKE_PROFIT"
	ReasonStopLoss   = "STOP_LOSS"
)

// Account holds the cash side of a trader. The ledger never caches it.
type Account struct {
	ID          uint            `gorm:"primaryKey" json:"-"`
	AccountID   string          `gorm:"uniqueIndex" json:"account_id"`
	Username    string          `json:"username"`
	CashBalance decimal.Decimal `gorm:"type:numeric(19,2)" json:"cash_balance"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Position is one row per (account, symbol). Quantity may go negative
// because sells are not guarded against short positions.
type Position struct {
	ID          uint            `gorm:"primaryKey" json:"-"`
	AccountID   string          `gorm:"uniqueIndex:idx_positions_account_symbol" json:"account_id"`
	Symbol      string          `gorm:"uniqueIndex:idx_positions_account_symbol" json:"symbol"`
	Quantity    int64           `json:"quantity"`
	AverageCost decimal.Decimal `gorm:"type:numeric(19,2)" json:"average_cost"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Order is the immutable execution record. An OPEN BUY order that carries a
// target price or stop loss is also the standing exit instruction for the
// position it opened.
type Order struct {
	ID             uint             `gorm:"primaryKey" json:"-"`
	OrderID        string           `gorm:"uniqueIndex" json:"order_id"`
	AccountID      string           `gorm:"index" json:"account_id"`
	Symbol         string           `json:"symbol"`
	Side           string           `gorm:"index:idx_orders_status_side" json:"side"` // BUY or SELL
	Price          decimal.Decimal  `gorm:"type:numeric(19,2)" json:"price"`
	Quantity       int64            `json:"quantity"`
	Status         string           `gorm:"index:idx_orders_status_side" json:"status"` // OPEN, CLOSED
	Reason         string           `json:"reason"`                                     // MANUAL, TAKE_PROFIT, STOP_LOSS
	TargetPrice    *decimal.Decimal `gorm:"type:numeric(19,2)" json:"target_price,omitempty"`
	StopLoss       *decimal.Decimal `gorm:"type:numeric(19,2)" json:"stop_loss,omitempty"`
	RealizedPnl    *decimal.Decimal `gorm:"type:numeric(19,2)" json:"realized_pnl,omitempty"`
	ExecutionPrice *decimal.Decimal `gorm:"type:numeric(19,2)" json:"execution_price,omitempty"`
	ExecutionTime  *time.Time       `json:"execution_time,omitempty"`
	ParentOrderID  string           `json:"parent_order_id,omitempty"`
	CreatedAt      time.Time        `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// HasInstruction reports whether the order carries a take-profit or stop-loss.
func (o *Order) HasInstruction() bool {
	return isSet(o.TargetPrice) || isSet(o.StopLoss)
}

func isSet(d *decimal.Decimal) bool {
	return d != nil && d.IsPositive()
}

// Transaction records a wallet movement (deposit or withdrawal).
type Transaction struct {
	ID            uint            `gorm:"primaryKey" json:"-"`
	TransactionID string          `gorm:"uniqueIndex" json:"transaction_id"`
	AccountID     string          `gorm:"index" json:"account_id"`
	Type          string          `json:"type"` // DEPOSIT, WITHDRAW
	Amount        decimal.Decimal `gorm:"type:numeric(19,2)" json:"amount"`
	BalanceAfter  decimal.Decimal `gorm:"type:numeric(19,2)" json:"balance_after"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Notification is a message shown to the account holder after a trade.
type Notification struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	AccountID string    `gorm:"index" json:"account_id"`
	OrderID   string    `json:"order_id"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// WeeklySnapshot is an account's net worth at the start of a week, the
// baseline for the weekly leaderboard.
type WeeklySnapshot struct {
	ID            uint            `gorm:"primaryKey" json:"-"`
	AccountID     string          `gorm:"uniqueIndex:idx_snapshots_account_week" json:"account_id"`
	WeekStart     time.Time       `gorm:"uniqueIndex:idx_snapshots_account_week" json:"week_start"`
	StartNetWorth decimal.Decimal `gorm:"type:numeric(19,2)" json:"start_net_worth"`
	CreatedAt     time.Time       `json:"created_at"`
}
