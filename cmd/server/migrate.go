package main

import (
	"github.com/ksred/deltatrade/internal/database"
	zlog "github.com/rs/zerolog/log"
)

// runMigrate opens the configured database, which applies every migration.
func runMigrate(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	db, err := database.NewDatabase(cfg.Database)
	if err != nil {
		zlog.Error().Err(err).Msg("Migration failed")
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}

	zlog.Info().Str("driver", cfg.Database.Driver).Msg("Migrations applied")
	return nil
}
