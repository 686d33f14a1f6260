package migrations

import (
	"github.com/ksred/deltatrade/internal/types"
	"gorm.io/gorm"
)

// AddWeeklySnapshots creates the weekly leaderboard baselines, one row per
// account and week
func AddWeeklySnapshots(db *gorm.DB) error {
	return db.AutoMigrate(&types.WeeklySnapshot{})
}
