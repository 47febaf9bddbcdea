package database

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/campbot/internal/store"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenSQLite opens the cache file, registers the REGEXP predicate and creates the schema when absent.
func OpenSQLite(path string, zapLogger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if err := store.RegisterSQLFunctions(); err != nil {
		return nil, fmt.Errorf("register sql functions: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := migrateSchema(db); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, zapLogger); err != nil {
		return nil, err
	}

	if zapLogger != nil {
		zapLogger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}

func migrateSchema(db *gorm.DB) error {
	models := append(store.Models(), &migrationRecord{})
	return db.AutoMigrate(models...)
}
