package database

import (
	"path/filepath"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/territory/internal/territory"
	"github.com/MarcoPoloResearchLab/territory/internal/zones"
)

func TestApplyMigrationsRepairsUnclaimedTerritories(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := AutoMigrate(database); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	broken := territory.StoredTerritory{
		CellID:        "10_20_9",
		CellRow:       10,
		CellCol:       20,
		Status:        string(territory.StatusUnclaimed),
		OwnerID:       "user-1",
		ActivityCount: 4,
		ClaimedAtUs:   1700000000000000,
		UpdatedAtUs:   1700000000000001,
		Version:       3,
	}
	if err := database.Create(&broken).Error; err != nil {
		testContext.Fatalf("failed to insert territory: %v", err)
	}
	zone := zones.StoredZone{ZoneID: "zone-1", OwnerUserID: "google:parent", SubjectUserID: "google:child", RadiusMeters: 10}
	if err := database.Create(&zone).Error; err != nil {
		testContext.Fatalf("failed to insert zone: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored territory.StoredTerritory
	if err := database.Where("cell_id = ?", broken.CellID).Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload territory: %v", err)
	}
	if stored.OwnerID != "" || stored.ActivityCount != 0 || stored.ClaimedAtUs != 0 {
		testContext.Fatalf("expected unclaimed row to be repaired, got %+v", stored)
	}
	if stored.Version != 3 {
		testContext.Fatalf("expected version untouched, got %d", stored.Version)
	}

	var storedZone zones.StoredZone
	if err := database.Where("zone_id = ?", zone.ZoneID).Take(&storedZone).Error; err != nil {
		testContext.Fatalf("failed to reload zone: %v", err)
	}
	if storedZone.OwnerUserID != "parent" || storedZone.SubjectUserID != "child" {
		testContext.Fatalf("expected provider prefixes stripped, got %+v", storedZone)
	}

	for _, name := range []string{migrationRepairUnclaimedTerritories, migrationStripProviderPrefixes} {
		var record migrationRecord
		if err := database.Where("name = ?", name).Take(&record).Error; err != nil {
			testContext.Fatalf("expected migration record %s: %v", name, err)
		}
		if record.AppliedAtSeconds == 0 {
			testContext.Fatalf("expected migration timestamp to be set")
		}
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("re-applying migrations should be a no-op: %v", err)
	}
}

func TestOpenSQLiteCreatesSchema(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "territory.db")
	database, err := OpenSQLite(databasePath, zap.NewNop())
	if err != nil {
		testContext.Fatalf("open sqlite: %v", err)
	}
	for _, table := range []string{"territories", "geo_zones", "user_identities", "db_migrations"} {
		if !database.Migrator().HasTable(table) {
			testContext.Fatalf("expected table %s", table)
		}
	}
	if _, err := OpenSQLite("", nil); err == nil {
		testContext.Fatalf("expected error for empty path")
	}
}
