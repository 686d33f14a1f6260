package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionView is a position valued at the current cached price
type PositionView struct {
	Symbol        string          `json:"symbol"`
	Quantity      int64           `json:"quantity"`
	AverageCost   decimal.Decimal `json:"average_cost"`
	MarketPrice   decimal.Decimal `json:"market_price"`
	MarketValue   decimal.Decimal `json:"market_value"`
	UnrealizedPnl decimal.Decimal `json:"unrealized_pnl"`
}

// PortfolioResponse is the portfolio snapshot returned to the client
type PortfolioResponse struct {
	AccountID   string          `json:"account_id"`
	CashBalance decimal.Decimal `json:"cash_balance"`
	Positions   []PositionView  `json:"positions"`
	NetWorth    decimal.Decimal `json:"net_worth"`
	Timestamp   time.Time       `json:"timestamp"`
}

// TradeResponse represents the response to a buy or sell request
type TradeResponse struct {
	OrderID        string           `json:"order_id"`
	Symbol         string           `json:"symbol"`
	Side           string           `json:"side"`
	Quantity       int64            `json:"quantity"`
	ExecutionPrice decimal.Decimal  `json:"execution_price"`
	CashBalance    decimal.Decimal  `json:"cash_balance"`
	RealizedPnl    *decimal.Decimal `json:"realized_pnl,omitempty"`
	Timestamp      time.Time        `json:"timestamp"`
}
