package db

import (
	"fmt"
	"log"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"picking-sync-backend/config"
	"picking-sync-backend/internal/model"
)

// Init opens the server-side order catalogue database and runs migrations.
func Init(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)

	log.Println("Running catalogue migrations...")
	if err := MigrateCatalogue(db); err != nil {
		return nil, fmt.Errorf("automigrate failed: %w", err)
	}

	log.Println("Catalogue database initialization complete.")
	return db, nil
}

// MigrateCatalogue applies the server-side schema. Split out so tests can
// run it against an in-memory database.
func MigrateCatalogue(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Order{},
		&model.LineItem{},
		&model.ItemCode{},
		&model.ClaimHistoryEntry{},
		&model.Evidence{},
		&model.AppliedOperation{},
		&model.DeadLetter{},
		&model.PushSubscription{},
	)
}

// InitLocal opens the on-device durable store. SQLite keeps every write
// transactional and crash-safe across process restarts.
func InitLocal(cfg *config.LocalStoreConfig) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open local store at %s: %w", cfg.Path, err)
	}

	if err := MigrateLocal(db); err != nil {
		return nil, fmt.Errorf("local automigrate failed: %w", err)
	}
	return db, nil
}

// MigrateLocal applies the on-device schema.
func MigrateLocal(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Order{},
		&model.LineItem{},
		&model.ItemCode{},
		&model.ClaimHistoryEntry{},
		&model.PendingOperation{},
		&model.DeadLetter{},
		&model.Session{},
		&model.ScanRecord{},
		&model.ClaimState{},
		&model.DeviceIdentity{},
	)
}
