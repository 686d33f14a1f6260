package database

import (
	"fmt"
	"time"

	"github.com/ksred/deltatrade/internal/config"
	"github.com/ksred/deltatrade/internal/database/migrations"
	"github.com/ksred/deltatrade/internal/types"
	zlog "github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase initializes and returns a new GORM DB connection for the
// configured driver and runs all migrations
func NewDatabase(cfg config.Database) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "", "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         newLogger(zerologWriter{}),
	})
	if err != nil {
		return nil, err
	}

	// SQLite allows a single writer; one connection keeps trades from
	// failing with "database is locked" instead of waiting their turn.
	if cfg.Driver == "" || cfg.Driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// zerologWriter routes gorm's log lines through the global zerolog logger.
type zerologWriter struct{}

func (zerologWriter) Printf(format string, args ...interface{}) {
	zlog.Warn().Str("component", "gorm").Msgf(format, args...)
}

// newLogger logs slow queries and errors to w. Missing rows are an expected
// outcome of lookups like GetPosition and are not logged.
func newLogger(w logger.Writer) logger.Interface {
	return logger.New(w, logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

// Migrate runs the numbered migrations and auto-migrates the remaining schemas
func Migrate(db *gorm.DB) error {
	if err := migrations.AddTradingTables(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := migrations.AddOrderScanIndexes(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := migrations.AddWeeklySnapshots(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return db.AutoMigrate(&types.Notification{})
}
