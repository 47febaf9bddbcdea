package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationContributionWrittenAtIndex = "2026-10-19_contribution_written_at_index"
	migrationPurgeOrphanLocales         = "2026-10-19_purge_orphan_locales"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationContributionWrittenAtIndex, apply: createContributionWrittenAtIndex},
		{name: migrationPurgeOrphanLocales, apply: purgeOrphanLocales},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := db.Transaction(migration.apply); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

func createContributionWrittenAtIndex(db *gorm.DB) error {
	return db.Exec("CREATE INDEX IF NOT EXISTS idx_contribution_written_at ON contribution (written_at)").Error
}

// purgeOrphanLocales removes locale rows left behind by caches written before
// document replacement became transactional.
func purgeOrphanLocales(db *gorm.DB) error {
	return db.Exec("DELETE FROM locale WHERE document_id NOT IN (SELECT document_id FROM document)").Error
}
