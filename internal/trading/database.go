package trading

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ksred/deltatrade/internal/types"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Store is the persistence the ledger needs. Every method is safe to call on
// the Store handed to a Transaction callback.
type Store interface {
	GetAccount(ctx context.Context, accountID string) (*types.Account, error)
	UpdateBalance(ctx context.Context, accountID string, balance decimal.Decimal) error
	GetPosition(ctx context.Context, accountID, symbol string) (*types.Position, error)
	UpsertPosition(ctx context.Context, position *types.Position) error
	ListPositions(ctx context.Context, accountID string) ([]types.Position, error)
	AppendOrder(ctx context.Context, order *types.Order) error
	GetOrder(ctx context.Context, orderID string) (*types.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID, from, to string) error
	FindOrdersByStatusAndSide(ctx context.Context, status, side string) ([]types.Order, error)
	FindOrdersByAccount(ctx context.Context, accountID string) ([]types.Order, error)
	Transaction(ctx context.Context, fn func(Store) error) error
}

type Database struct {
	db   *gorm.DB
	inTx bool
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetAccount returns ErrAccountNotFound when the account does not exist.
func (d *Database) GetAccount(ctx context.Context, accountID string) (*types.Account, error) {
	var account types.Account
	if err := d.db.WithContext(ctx).Where("account_id = ?", accountID).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to fetch account: %w", err)
	}
	return &account, nil
}

// EnsureAccount returns the account, creating it with the given opening
// balance on first use. created reports whether a row was inserted.
func (d *Database) EnsureAccount(ctx context.Context, accountID, username string, balance decimal.Decimal) (*types.Account, bool, error) {
	existing, err := d.GetAccount(ctx, accountID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, false, err
	}

	account := types.Account{
		AccountID:   accountID,
		Username:    username,
		CashBalance: balance,
	}
	if err := d.db.WithContext(ctx).Create(&account).Error; err != nil {
		// Lost a race with a concurrent first login.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			existing, err := d.GetAccount(ctx, accountID)
			return existing, false, err
		}
		return nil, false, fmt.Errorf("failed to create account: %w", err)
	}
	return &account, true, nil
}

func (d *Database) UpdateBalance(ctx context.Context, accountID string, balance decimal.Decimal) error {
	result := d.db.WithContext(ctx).Model(&types.Account{}).
		Where("account_id = ?", accountID).
		Updates(map[string]interface{}{
			"cash_balance": balance,
			"updated_at":   time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update balance: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// GetPosition returns nil, nil when the account holds no row for symbol.
func (d *Database) GetPosition(ctx context.Context, accountID, symbol string) (*types.Position, error) {
	var position types.Position
	if err := d.db.WithContext(ctx).Where("account_id = ? AND symbol = ?", accountID, symbol).First(&position).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch position: %w", err)
	}
	return &position, nil
}

func (d *Database) UpsertPosition(ctx context.Context, position *types.Position) error {
	if position.ID == 0 {
		return d.db.WithContext(ctx).Create(position).Error
	}
	return d.db.WithContext(ctx).Save(position).Error
}

func (d *Database) ListPositions(ctx context.Context, accountID string) ([]types.Position, error) {
	var positions []types.Position
	if err := d.db.WithContext(ctx).Where("account_id = ?", accountID).Order("symbol").Find(&positions).Error; err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}
	return positions, nil
}

func (d *Database) AppendOrder(ctx context.Context, order *types.Order) error {
	return d.db.WithContext(ctx).Create(order).Error
}

func (d *Database) GetOrder(ctx context.Context, orderID string) (*types.Order, error) {
	var order types.Order
	if err := d.db.WithContext(ctx).Where("order_id = ?", orderID).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateOrderStatus moves an order from one status to another. It returns
// ErrOrderNotOpen when the order is no longer in the from status, which
// makes the transition a compare-and-set.
func (d *Database) UpdateOrderStatus(ctx context.Context, orderID, from, to string) error {
	result := d.db.WithContext(ctx).Model(&types.Order{}).
		Where("order_id = ? AND status = ?", orderID, from).
		Updates(map[string]interface{}{
			"status":     to,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update order status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrOrderNotOpen
	}
	return nil
}

func (d *Database) FindOrdersByStatusAndSide(ctx context.Context, status, side string) ([]types.Order, error) {
	var orders []types.Order
	if err := d.db.WithContext(ctx).
		Where("status = ? AND side = ?", status, side).
		Order("id").
		Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to find orders: %w", err)
	}
	return orders, nil
}

// FindOrdersByAccount returns the account's orders, newest first.
func (d *Database) FindOrdersByAccount(ctx context.Context, accountID string) ([]types.Order, error) {
	var orders []types.Order
	if err := d.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to find orders: %w", err)
	}
	return orders, nil
}

// Transaction runs fn against a Store bound to a single database
// transaction. fn must use the Store it is given: with SQLite the pool has
// one connection, so touching the outer handle inside fn would deadlock.
func (d *Database) Transaction(ctx context.Context, fn func(Store) error) error {
	if d.inTx {
		return fn(d)
	}

	tx := d.db.WithContext(ctx).Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(&Database{db: tx, inTx: true}); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}
