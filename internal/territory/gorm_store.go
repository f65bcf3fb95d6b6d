package territory

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/territory/internal/grid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errMissingDatabase = errors.New("database handle is required")

// StoredTerritory is the persisted form of a Record.
type StoredTerritory struct {
	CellID           string `gorm:"column:cell_id;primaryKey;size:64;not null"`
	CellRow          int64  `gorm:"column:cell_row;not null;index:idx_territories_lattice,priority:1"`
	CellCol          int64  `gorm:"column:cell_col;not null;index:idx_territories_lattice,priority:2"`
	CategoryID       string `gorm:"column:category_id;size:190;not null;default:'';index"`
	Status           string `gorm:"column:status;size:16;not null;index"`
	OwnerID          string `gorm:"column:owner_id;size:190;not null;default:'';index"`
	ClaimedAtUs      int64  `gorm:"column:claimed_at_us;not null;default:0"`
	LastActivityAtUs int64  `gorm:"column:last_activity_at_us;not null;default:0"`
	ActivityCount    int64  `gorm:"column:activity_count;not null;default:0"`
	UpdatedAtUs      int64  `gorm:"column:updated_at_us;not null"`
	Version          int64  `gorm:"column:version;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (StoredTerritory) TableName() string {
	return "territories"
}

// GormStoreConfig wires a GormStore.
type GormStoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// GormStore persists the ownership table through GORM. Each transition runs in its own
// transaction and locks the row it reads.
type GormStore struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewGormStore validates the configuration and returns a store.
func NewGormStore(cfg GormStoreConfig) (*GormStore, error) {
	if cfg.Database == nil {
		return nil, newServiceError("territory.gorm_store.new", "missing_database", errMissingDatabase)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &GormStore{db: cfg.Database, clock: resolveClock(cfg.Clock), logger: logger}, nil
}

// Get returns the stored record for the cell.
func (s *GormStore) Get(ctx context.Context, cellID grid.CellID) (Record, bool, error) {
	var row StoredTerritory
	err := s.db.WithContext(ctx).Where("cell_id = ?", cellID.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		s.logger.Error("territory select failed", zap.String("operation", opStoreGet), zap.String("cell_id", cellID.String()), zap.Error(err))
		return Record{}, false, newServiceError(opStoreGet, "select_failed", err)
	}
	return row.record(), true, nil
}

// Transition atomically compares and transitions the record for the cell.
func (s *GormStore) Transition(ctx context.Context, cellID grid.CellID, expected Status, mutate Mutation) (Record, error) {
	cell, err := grid.Parse(cellID.String())
	if err != nil {
		return Record{}, newServiceError(opStoreTransition, "invalid_cell", err)
	}

	var committed Record
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row StoredTerritory
		present := true
		selectErr := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("cell_id = ?", cellID.String()).
			Take(&row).Error
		if errors.Is(selectErr, gorm.ErrRecordNotFound) {
			present = false
		} else if selectErr != nil {
			s.logger.Error("territory select failed", zap.String("operation", opStoreTransition), zap.String("cell_id", cellID.String()), zap.Error(selectErr))
			return newServiceError(opStoreTransition, "select_failed", selectErr)
		}

		current := UnclaimedRecord(cellID)
		if present {
			current = row.record()
		}
		next, applyErr := ApplyTransition(current, expected, mutate, s.clock())
		if applyErr != nil {
			return applyErr
		}

		stored := storedTerritoryFromRecord(next, cell)
		if !present {
			if err := tx.Create(&stored).Error; err != nil {
				s.logger.Error("territory insert failed", zap.String("operation", opStoreTransition), zap.String("cell_id", cellID.String()), zap.Error(err))
				return newServiceError(opStoreTransition, "insert_failed", err)
			}
			committed = next
			return nil
		}

		result := tx.Model(&StoredTerritory{}).
			Where("cell_id = ? AND version = ?", cellID.String(), current.Version).
			Updates(map[string]any{
				"category_id":         stored.CategoryID,
				"status":              stored.Status,
				"owner_id":            stored.OwnerID,
				"claimed_at_us":       stored.ClaimedAtUs,
				"last_activity_at_us": stored.LastActivityAtUs,
				"activity_count":      stored.ActivityCount,
				"updated_at_us":       stored.UpdatedAtUs,
				"version":             stored.Version,
			})
		if result.Error != nil {
			s.logger.Error("territory update failed", zap.String("operation", opStoreTransition), zap.String("cell_id", cellID.String()), zap.Error(result.Error))
			return newServiceError(opStoreTransition, "update_failed", result.Error)
		}
		if result.RowsAffected != 1 {
			return &ConflictError{Expected: expected, Current: current}
		}
		committed = next
		return nil
	})
	if txErr != nil {
		return Record{}, txErr
	}
	return committed, nil
}

// List returns every stored record matching the filter, ordered by cell id.
func (s *GormStore) List(ctx context.Context, filter Filter) ([]Record, error) {
	query := s.db.WithContext(ctx).Model(&StoredTerritory{})
	if filter.CategoryID != "" {
		query = query.Where("category_id = ?", filter.CategoryID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	if filter.OwnerID != "" {
		query = query.Where("owner_id = ?", filter.OwnerID)
	}
	if cover, ok := filter.Cover(); ok {
		query = query.
			Where("cell_row BETWEEN ? AND ?", cover.MinRow, cover.MaxRow).
			Where("cell_col BETWEEN ? AND ?", cover.MinCol, cover.MaxCol)
	}

	var rows []StoredTerritory
	if err := query.Order("cell_id ASC").Find(&rows).Error; err != nil {
		s.logger.Error("territory list failed", zap.String("operation", opStoreList), zap.Error(err))
		return nil, newServiceError(opStoreList, "query_failed", err)
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		record := row.record()
		if filter.Matches(record) {
			records = append(records, record)
		}
	}
	return records, nil
}

func storedTerritoryFromRecord(record Record, cell grid.Cell) StoredTerritory {
	return StoredTerritory{
		CellID:           record.CellID.String(),
		CellRow:          cell.Row,
		CellCol:          cell.Col,
		CategoryID:       record.CategoryID,
		Status:           string(record.Status),
		OwnerID:          record.OwnerID,
		ClaimedAtUs:      ToMicros(record.ClaimedAt),
		LastActivityAtUs: ToMicros(record.LastActivityAt),
		ActivityCount:    record.ActivityCount,
		UpdatedAtUs:      ToMicros(record.UpdatedAt),
		Version:          record.Version,
	}
}

func (row StoredTerritory) record() Record {
	return Record{
		CellID:         grid.CellID(row.CellID),
		CategoryID:     row.CategoryID,
		Status:         Status(row.Status),
		OwnerID:        row.OwnerID,
		ClaimedAt:      FromMicros(row.ClaimedAtUs),
		LastActivityAt: FromMicros(row.LastActivityAtUs),
		ActivityCount:  row.ActivityCount,
		UpdatedAt:      FromMicros(row.UpdatedAtUs),
		Version:        row.Version,
	}
}

// ToMicros converts a record timestamp to the storage representation. Zero maps to 0.
func ToMicros(value time.Time) int64 {
	if value.IsZero() {
		return 0
	}
	return value.UnixMicro()
}

// FromMicros converts a storage timestamp back into a record timestamp. 0 maps to zero.
func FromMicros(value int64) time.Time {
	if value == 0 {
		return time.Time{}
	}
	return time.UnixMicro(value).UTC()
}
