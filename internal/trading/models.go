package trading

import (
	"net/http"

	"github.com/ksred/deltatrade/pkg/response"
	"github.com/shopspring/decimal"
)

var (
	ErrSymbolUnavailable   = response.NewStatusError(http.StatusBadRequest, response.ErrCodeUnavailable, "invalid symbol or market closed")
	ErrInsufficientBalance = response.NewStatusError(http.StatusBadRequest, response.ErrCodeInsufficientFunds, "insufficient balance")
	ErrInvalidQuantity     = response.NewStatusError(http.StatusBadRequest, response.ErrCodeValidationFailed, "quantity must be positive")
	ErrInvalidInstruction  = response.NewStatusError(http.StatusBadRequest, response.ErrCodeValidationFailed, "target price and stop loss must not be negative")
	ErrAccountNotFound     = response.NewStatusError(http.StatusNotFound, response.ErrCodeNotFound, "account not found")
	ErrOrderNotOpen        = response.NewStatusError(http.StatusConflict, response.ErrCodeConflict, "order is not open")
)

// TradeRequest is the body of a buy or sell. The account comes from the
// authenticated token, never from the body.
type TradeRequest struct {
	AccountID   string           `json:"-"`
	Symbol      string           `json:"symbol" binding:"required"`
	Quantity    int64            `json:"quantity"`
	TargetPrice *decimal.Decimal `json:"target_price,omitempty"`
	StopLoss    *decimal.Decimal `json:"stop_loss,omitempty"`
}

// instruction returns a normalized exit level: nil when unset or zero.
func instruction(d *decimal.Decimal) (*decimal.Decimal, error) {
	if d == nil || d.IsZero() {
		return nil, nil
	}
	if d.IsNegative() {
		return nil, ErrInvalidInstruction
	}
	v := d.Round(2)
	return &v, nil
}
