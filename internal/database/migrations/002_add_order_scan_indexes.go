package migrations

import (
	"gorm.io/gorm"
)

// AddOrderScanIndexes creates the indexes behind the order history listing
// and the conditional order monitor scan
func AddOrderScanIndexes(db *gorm.DB) error {
	indexes := []string{
		// Order history: one account, newest first
		`CREATE INDEX IF NOT EXISTS idx_orders_account_created
		 ON orders(account_id, created_at)`,

		// Monitor scan only ever looks at open buys
		`CREATE INDEX IF NOT EXISTS idx_orders_open_buys
		 ON orders(symbol) WHERE status = 'OPEN' AND side = 'BUY'`,

		`CREATE INDEX IF NOT EXISTS idx_transactions_account_created
		 ON transactions(account_id, created_at)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
