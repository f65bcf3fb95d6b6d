package database

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/territory/internal/territory"
	"github.com/MarcoPoloResearchLab/territory/internal/zones"
)

const (
	migrationRepairUnclaimedTerritories = "2026-09-20_repair_unclaimed_territories"
	migrationStripProviderPrefixes      = "2026-09-28_strip_provider_prefixes"
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
		{name: migrationRepairUnclaimedTerritories, apply: repairUnclaimedTerritories},
		{name: migrationStripProviderPrefixes, apply: stripProviderPrefixes},
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
		if err := migration.apply(db); err != nil {
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

// repairUnclaimedTerritories clears owner and activity left on unclaimed rows.
func repairUnclaimedTerritories(db *gorm.DB) error {
	return db.Model(&territory.StoredTerritory{}).
		Where("status = ? AND (owner_id <> '' OR activity_count <> 0 OR claimed_at_us <> 0)", string(territory.StatusUnclaimed)).
		Updates(map[string]any{"owner_id": "", "activity_count": 0, "claimed_at_us": 0}).Error
}

// stripProviderPrefixes rewrites "google:123" style owners to canonical user ids.
func stripProviderPrefixes(db *gorm.DB) error {
	const prefix = "google:"
	start := len(prefix) + 1
	tables := []struct {
		table  string
		column string
	}{
		{table: territory.StoredTerritory{}.TableName(), column: "owner_id"},
		{table: zones.StoredZone{}.TableName(), column: "owner_user_id"},
		{table: zones.StoredZone{}.TableName(), column: "subject_user_id"},
	}
	for _, target := range tables {
		statement := fmt.Sprintf("UPDATE %s SET %s = substr(%s, %d) WHERE %s LIKE '%s%%';",
			target.table, target.column, target.column, start, target.column, prefix)
		if err := db.Exec(statement).Error; err != nil {
			return err
		}
	}
	return nil
}
