package database

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/opendraft/billing-backend/internal/config"
	"github.com/opendraft/billing-backend/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens the primary store: postgres by default, SQLite when
// SQLITE_PATH is set.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	if cfg.UsesSQLite() {
		dialector = sqlite.Open(cfg.SQLitePath)
	} else {
		dialector = postgres.Open(cfg.DSN())
	}

	db, err := open(dialector)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if cfg.UsesSQLite() {
		configureSQLite(db)
	}

	slog.Info("database connected", "sqlite", cfg.UsesSQLite())
	return db, nil
}

// ConnectMirror opens the secondary reporting store. Without
// MIRROR_DATABASE_URL the mirror table lives in the primary database.
func ConnectMirror(cfg *config.Config, primary *gorm.DB) (*gorm.DB, error) {
	if cfg.MirrorDatabaseURL == "" {
		slog.Info("no mirror database configured, mirroring into primary database")
		return primary, nil
	}

	db, err := open(postgres.Open(cfg.MirrorDatabaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mirror database: %w", err)
	}

	slog.Info("mirror database connected")
	return db, nil
}

// OpenSQLite opens a standalone SQLite database. ":memory:" is kept on a
// single connection so every query sees the same database.
func OpenSQLite(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	configureSQLite(db)
	return db, nil
}

func open(dialector gorm.Dialector) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetMaxIdleConns(25)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

func configureSQLite(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
}

// Migrate runs AutoMigrate for the primary store.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Transaction{},
		&models.Subscription{},
		&models.WebhookEvent{},
		&models.SystemLog{},
	)
}

// MigrateMirror runs AutoMigrate for the reporting store.
func MigrateMirror(db *gorm.DB) error {
	return db.AutoMigrate(&models.SubscriptionMirror{})
}

func Ping(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
