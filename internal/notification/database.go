package notification

import (
	"context"

	"github.com/ksred/deltatrade/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateNotification(ctx context.Context, n *types.Notification) error {
	return d.db.WithContext(ctx).Create(n).Error
}

// GetAccountNotifications returns up to limit notifications, newest first.
func (d *Database) GetAccountNotifications(ctx context.Context, accountID string, limit int) ([]types.Notification, error) {
	var notifications []types.Notification
	q := d.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&notifications).Error; err != nil {
		return nil, err
	}
	return notifications, nil
}

// MarkRead flags one of the account's notifications as read. It returns
// gorm.ErrRecordNotFound when no such notification belongs to the account.
func (d *Database) MarkRead(ctx context.Context, accountID string, id uint) error {
	result := d.db.WithContext(ctx).Model(&types.Notification{}).
		Where("id = ? AND account_id = ?", id, accountID).
		Update("read", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
