package trading

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/deltatrade/internal/auth"
	"github.com/ksred/deltatrade/internal/events"
	"github.com/ksred/deltatrade/internal/observability"
	"github.com/ksred/deltatrade/internal/types"
	"github.com/ksred/deltatrade/pkg/keylock"
	"github.com/ksred/deltatrade/pkg/response"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// PriceSource supplies the latest cached price for an internal symbol.
type PriceSource interface {
	Price(symbol string) decimal.Decimal
}

// SymbolResolver maps user input to internal symbols.
type SymbolResolver interface {
	Resolve(symbol string) (string, bool)
}

// Service is the trading ledger. It executes market buys and sells against
// the cached price and keeps cash, positions and the order log consistent.
type Service struct {
	store     Store
	prices    PriceSource
	symbols   SymbolResolver
	locks     *keylock.KeyLock
	publisher events.Publisher
	metrics   *observability.Metrics
	now       func() time.Time
}

// NewService creates the ledger. locks must be shared with every other
// component that mutates account cash so they serialize per account.
func NewService(store Store, prices PriceSource, symbols SymbolResolver, locks *keylock.KeyLock, publisher events.Publisher, metrics *observability.Metrics) *Service {
	if locks == nil {
		locks = keylock.New()
	}
	return &Service{
		store:     store,
		prices:    prices,
		symbols:   symbols,
		locks:     locks,
		publisher: publisher,
		metrics:   metrics,
		now:       time.Now,
	}
}

func (s *Service) resolve(symbol string) string {
	if s.symbols == nil {
		return symbol
	}
	internal, _ := s.symbols.Resolve(symbol)
	return internal
}

// executionPrice returns the cached price rounded half-up to cents.
func (s *Service) executionPrice(symbol string) (decimal.Decimal, error) {
	price := s.prices.Price(symbol)
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%s: %w", symbol, ErrSymbolUnavailable)
	}
	return price.Round(2), nil
}

// Buy debits the account, grows the position and appends an OPEN BUY order.
// A target price or stop loss on the request turns the order into a
// standing exit instruction watched by the monitor.
func (s *Service) Buy(ctx context.Context, req TradeRequest) (*types.TradeResponse, error) {
	if req.Quantity <= 0 {
		return nil, s.reject("invalid_quantity", ErrInvalidQuantity)
	}
	target, err := instruction(req.TargetPrice)
	if err != nil {
		return nil, s.reject("invalid_instruction", err)
	}
	stop, err := instruction(req.StopLoss)
	if err != nil {
		return nil, s.reject("invalid_instruction", err)
	}
	symbol := s.resolve(req.Symbol)

	unlock := s.locks.Lock(req.AccountID)
	defer unlock()

	execPrice, err := s.executionPrice(symbol)
	if err != nil {
		return nil, s.reject("symbol_unavailable", err)
	}
	qty := decimal.NewFromInt(req.Quantity)
	cost := execPrice.Mul(qty).Round(2)
	now := s.now()

	order := &types.Order{
		OrderID:        uuid.New().String(),
		AccountID:      req.AccountID,
		Symbol:         symbol,
		Side:           types.SideBuy,
		Price:          execPrice,
		Quantity:       req.Quantity,
		Status:         types.StatusOpen,
		Reason:         types.ReasonManual,
		TargetPrice:    target,
		StopLoss:       stop,
		ExecutionPrice: &execPrice,
		ExecutionTime:  &now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var balance decimal.Decimal
	err = s.store.Transaction(ctx, func(tx Store) error {
		account, err := tx.GetAccount(ctx, req.AccountID)
		if err != nil {
			return err
		}
		if account.CashBalance.LessThan(cost) {
			return fmt.Errorf("need %s, have %s: %w", cost.StringFixed(2), account.CashBalance.StringFixed(2), ErrInsufficientBalance)
		}
		balance = account.CashBalance.Sub(cost)
		if err := tx.UpdateBalance(ctx, req.AccountID, balance); err != nil {
			return err
		}

		position, err := tx.GetPosition(ctx, req.AccountID, symbol)
		if err != nil {
			return err
		}
		if position == nil {
			position = &types.Position{AccountID: req.AccountID, Symbol: symbol, AverageCost: decimal.Zero}
		}
		newQty := position.Quantity + req.Quantity
		if newQty > 0 {
			total := position.AverageCost.Mul(decimal.NewFromInt(position.Quantity)).Add(cost)
			position.AverageCost = total.DivRound(decimal.NewFromInt(newQty), 2)
		}
		position.Quantity = newQty
		if err := tx.UpsertPosition(ctx, position); err != nil {
			return err
		}

		return tx.AppendOrder(ctx, order)
	})
	if err != nil {
		return nil, s.reject(causeOf(err), err)
	}

	s.executed(order)
	log.Info().
		Str("component", "trading").
		Str("account_id", order.AccountID).
		Str("order_id", order.OrderID).
		Str("symbol", symbol).
		Int64("quantity", order.Quantity).
		Str("price", execPrice.String()).
		Bool("has_instruction", order.HasInstruction()).
		Msg("buy executed")

	return &types.TradeResponse{
		OrderID:        order.OrderID,
		Symbol:         symbol,
		Side:           order.Side,
		Quantity:       order.Quantity,
		ExecutionPrice: execPrice,
		CashBalance:    balance,
		Timestamp:      now,
	}, nil
}

// Sell credits the account and shrinks the position. The position may go
// negative; the average cost is left as it was. Exit levels on the request
// are validated like a buy's and recorded on the SELL order.
func (s *Service) Sell(ctx context.Context, req TradeRequest) (*types.TradeResponse, error) {
	if req.Quantity <= 0 {
		return nil, s.reject("invalid_quantity", ErrInvalidQuantity)
	}
	target, err := instruction(req.TargetPrice)
	if err != nil {
		return nil, s.reject("invalid_instruction", err)
	}
	stop, err := instruction(req.StopLoss)
	if err != nil {
		return nil, s.reject("invalid_instruction", err)
	}
	symbol := s.resolve(req.Symbol)

	unlock := s.locks.Lock(req.AccountID)
	defer unlock()

	var (
		order   *types.Order
		balance decimal.Decimal
	)
	err = s.store.Transaction(ctx, func(tx Store) error {
		var err error
		order, balance, err = s.sell(ctx, tx, sellParams{
			accountID: req.AccountID,
			symbol:    symbol,
			quantity:  req.Quantity,
			reason:    types.ReasonManual,
			target:    target,
			stop:      stop,
		})
		return err
	})
	if err != nil {
		return nil, s.reject(causeOf(err), err)
	}

	s.executed(order)
	return sellResponse(order, balance), nil
}

// Liquidate sells the full quantity of an open instruction order and closes
// it in the same transaction. The close is a compare-and-set on OPEN, so an
// order is liquidated at most once; if the sell fails the order stays OPEN.
func (s *Service) Liquidate(ctx context.Context, parentOrderID, reason string) (*types.TradeResponse, error) {
	parent, err := s.store.GetOrder(ctx, parentOrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order %s: %w", parentOrderID, err)
	}
	if parent.Side != types.SideBuy {
		return nil, fmt.Errorf("order %s is a %s: %w", parentOrderID, parent.Side, ErrOrderNotOpen)
	}

	unlock := s.locks.Lock(parent.AccountID)
	defer unlock()

	var (
		order   *types.Order
		balance decimal.Decimal
	)
	err = s.store.Transaction(ctx, func(tx Store) error {
		if err := tx.UpdateOrderStatus(ctx, parentOrderID, types.StatusOpen, types.StatusClosed); err != nil {
			return err
		}
		var err error
		order, balance, err = s.sell(ctx, tx, sellParams{
			accountID:     parent.AccountID,
			symbol:        parent.Symbol,
			quantity:      parent.Quantity,
			reason:        reason,
			parentOrderID: parentOrderID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.executed(order)
	log.Info().
		Str("component", "trading").
		Str("account_id", order.AccountID).
		Str("order_id", order.OrderID).
		Str("parent_order_id", parentOrderID).
		Str("reason", reason).
		Str("price", order.Price.String()).
		Msg("position liquidated")

	return sellResponse(order, balance), nil
}

type sellParams struct {
	accountID     string
	symbol        string
	quantity      int64
	reason        string
	parentOrderID string
	target        *decimal.Decimal
	stop          *decimal.Decimal
}

// sell performs the cash, position and order writes of a sell on tx.
func (s *Service) sell(ctx context.Context, tx Store, p sellParams) (*types.Order, decimal.Decimal, error) {
	accountID, symbol, quantity := p.accountID, p.symbol, p.quantity
	execPrice, err := s.executionPrice(symbol)
	if err != nil {
		return nil, decimal.Zero, err
	}
	qty := decimal.NewFromInt(quantity)
	revenue := execPrice.Mul(qty).Round(2)
	now := s.now()

	account, err := tx.GetAccount(ctx, accountID)
	if err != nil {
		return nil, decimal.Zero, err
	}
	balance := account.CashBalance.Add(revenue)
	if err := tx.UpdateBalance(ctx, accountID, balance); err != nil {
		return nil, decimal.Zero, err
	}

	position, err := tx.GetPosition(ctx, accountID, symbol)
	if err != nil {
		return nil, decimal.Zero, err
	}
	if position == nil {
		position = &types.Position{AccountID: accountID, Symbol: symbol, AverageCost: decimal.Zero}
	}
	avgBefore := position.AverageCost
	position.Quantity -= quantity
	if err := tx.UpsertPosition(ctx, position); err != nil {
		return nil, decimal.Zero, err
	}

	pnl := execPrice.Sub(avgBefore).Mul(qty)
	order := &types.Order{
		OrderID:        uuid.New().String(),
		AccountID:      accountID,
		Symbol:         symbol,
		Side:           types.SideSell,
		Price:          execPrice,
		Quantity:       quantity,
		Status:         types.StatusClosed,
		Reason:         p.reason,
		TargetPrice:    p.target,
		StopLoss:       p.stop,
		RealizedPnl:    &pnl,
		ExecutionPrice: &execPrice,
		ExecutionTime:  &now,
		ParentOrderID:  p.parentOrderID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := tx.AppendOrder(ctx, order); err != nil {
		return nil, decimal.Zero, err
	}
	return order, balance, nil
}

func sellResponse(order *types.Order, balance decimal.Decimal) *types.TradeResponse {
	return &types.TradeResponse{
		OrderID:        order.OrderID,
		Symbol:         order.Symbol,
		Side:           order.Side,
		Quantity:       order.Quantity,
		ExecutionPrice: order.Price,
		CashBalance:    balance,
		RealizedPnl:    order.RealizedPnl,
		Timestamp:      *order.ExecutionTime,
	}
}

// executed publishes the trade and counts it. Called only after commit.
func (s *Service) executed(order *types.Order) {
	s.metrics.TradesExecuted.WithLabelValues(order.Side, order.Reason).Inc()
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(events.TradeExecuted{
		AccountID:      order.AccountID,
		Symbol:         order.Symbol,
		Side:           order.Side,
		Quantity:       order.Quantity,
		ExecutionPrice: order.Price,
		Reason:         order.Reason,
		OrderID:        order.OrderID,
		At:             *order.ExecutionTime,
	})
}

func (s *Service) reject(cause string, err error) error {
	s.metrics.TradesRejected.WithLabelValues(cause).Inc()
	return err
}

func causeOf(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrSymbolUnavailable):
		return "symbol_unavailable"
	case errors.Is(err, ErrAccountNotFound):
		return "account_not_found"
	default:
		return "store_error"
	}
}

// MarkPrice is the price a position is valued at: the cached price, or the
// average cost while the symbol has no price yet.
func MarkPrice(prices PriceSource, p types.Position) decimal.Decimal {
	price := prices.Price(p.Symbol)
	if !price.IsPositive() {
		return p.AverageCost
	}
	return price
}

// Portfolio values every open position at the current cached price. A
// position whose symbol has no price yet is valued at its average cost.
func (s *Service) Portfolio(ctx context.Context, accountID string) (*types.PortfolioResponse, error) {
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	positions, err := s.store.ListPositions(ctx, accountID)
	if err != nil {
		return nil, err
	}

	views := make([]types.PositionView, 0, len(positions))
	netWorth := account.CashBalance
	for _, p := range positions {
		if p.Quantity == 0 {
			continue
		}
		price := MarkPrice(s.prices, p)
		qty := decimal.NewFromInt(p.Quantity)
		value := price.Mul(qty).Round(2)
		views = append(views, types.PositionView{
			Symbol:        p.Symbol,
			Quantity:      p.Quantity,
			AverageCost:   p.AverageCost,
			MarketPrice:   price.Round(2),
			MarketValue:   value,
			UnrealizedPnl: price.Sub(p.AverageCost).Mul(qty).Round(2),
		})
		netWorth = netWorth.Add(value)
	}

	return &types.PortfolioResponse{
		AccountID:   accountID,
		CashBalance: account.CashBalance,
		Positions:   views,
		NetWorth:    netWorth,
		Timestamp:   s.now(),
	}, nil
}

// OrderHistory returns the account's orders, newest first.
func (s *Service) OrderHistory(ctx context.Context, accountID string) ([]types.Order, error) {
	return s.store.FindOrdersByAccount(ctx, accountID)
}

// GinHandlers contains HTTP handlers for trading endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for trading endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// BuyHandler handles POST requests to buy at the current market price
// Requires a valid JWT token
func (h *GinHandlers) BuyHandler() gin.HandlerFunc {
	return h.trade(h.service.Buy)
}

// SellHandler handles POST requests to sell at the current market price
// Requires a valid JWT token
func (h *GinHandlers) SellHandler() gin.HandlerFunc {
	return h.trade(h.service.Sell)
}

func (h *GinHandlers) trade(execute func(context.Context, TradeRequest) (*types.TradeResponse, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := auth.RequireAccountID(c)
		if !ok {
			return
		}

		var req TradeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		req.AccountID = id

		resp, err := execute(c.Request.Context(), req)
		response.Handle(c, resp, err)
	}
}

// GetPortfolioHandler handles GET requests for the caller's portfolio
func (h *GinHandlers) GetPortfolioHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := auth.RequireAccountID(c)
		if !ok {
			return
		}
		portfolio, err := h.service.Portfolio(c.Request.Context(), id)
		response.Handle(c, portfolio, err)
	}
}

// GetOrdersHandler handles GET requests for the caller's order history
func (h *GinHandlers) GetOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := auth.RequireAccountID(c)
		if !ok {
			return
		}
		orders, err := h.service.OrderHistory(c.Request.Context(), id)
		response.Handle(c, orders, err)
	}
}
