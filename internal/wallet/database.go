package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ksred/deltatrade/internal/types"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// ApplyMovement changes the account balance by delta and records the
// movement in one transaction. check sees the balance before the change
// and may veto it.
func (d *Database) ApplyMovement(ctx context.Context, txn *types.Transaction, delta decimal.Decimal, check func(balance decimal.Decimal) error) error {
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

	var account types.Account
	if err := tx.Where("account_id = ?", txn.AccountID).First(&account).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("failed to fetch account: %w", err)
	}

	if check != nil {
		if err := check(account.CashBalance); err != nil {
			tx.Rollback()
			return err
		}
	}

	balance := account.CashBalance.Add(delta)
	if err := tx.Model(&types.Account{}).
		Where("account_id = ?", txn.AccountID).
		Updates(map[string]interface{}{
			"cash_balance": balance,
			"updated_at":   time.Now(),
		}).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to update balance: %w", err)
	}

	txn.BalanceAfter = balance
	if err := tx.Create(txn).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to record transaction: %w", err)
	}

	return tx.Commit().Error
}

// GetAccountTransactions returns the account's wallet movements, newest first.
func (d *Database) GetAccountTransactions(ctx context.Context, accountID string) ([]types.Transaction, error) {
	var txns []types.Transaction
	if err := d.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}
