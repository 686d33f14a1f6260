package migrations

import (
	"github.com/ksred/deltatrade/internal/types"
	"gorm.io/gorm"
)

func AddTradingTables(db *gorm.DB) error {
	if err := db.AutoMigrate(&types.Account{}); err != nil {
		return err
	}

	// Position carries the (account_id, symbol) unique index
	if err := db.AutoMigrate(&types.Position{}); err != nil {
		return err
	}

	return db.AutoMigrate(&types.Order{}, &types.Transaction{})
}
