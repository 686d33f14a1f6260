package leaderboard

import (
	"context"
	"time"

	"github.com/ksred/deltatrade/internal/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) ListAccounts(ctx context.Context) ([]types.Account, error) {
	var accounts []types.Account
	if err := d.db.WithContext(ctx).Order("id").Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

// ListHoldings returns every position with a nonzero quantity.
func (d *Database) ListHoldings(ctx context.Context) ([]types.Position, error) {
	var positions []types.Position
	if err := d.db.WithContext(ctx).Where("quantity <> 0").Find(&positions).Error; err != nil {
		return nil, err
	}
	return positions, nil
}

func (d *Database) GetSnapshots(ctx context.Context, weekStart time.Time) ([]types.WeeklySnapshot, error) {
	var snapshots []types.WeeklySnapshot
	if err := d.db.WithContext(ctx).Where("week_start = ?", weekStart).Find(&snapshots).Error; err != nil {
		return nil, err
	}
	return snapshots, nil
}

// CreateSnapshots inserts the snapshots, skipping any (account, week) that
// already has one, and returns how many rows were written.
func (d *Database) CreateSnapshots(ctx context.Context, snapshots []types.WeeklySnapshot) (int64, error) {
	if len(snapshots) == 0 {
		return 0, nil
	}
	result := d.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&snapshots)
	return result.RowsAffected, result.Error
}
