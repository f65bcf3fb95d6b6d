// Package postgres implements the territory ownership store on PostgreSQL. Transitions lock the
// target row with SELECT ... FOR UPDATE inside a transaction, so writers on different cells never
// contend.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/territory/internal/grid"
	"github.com/MarcoPoloResearchLab/territory/internal/territory"
)

const (
	tableName     = "territories"
	selectColumns = "cell_id, category_id, status, owner_id, claimed_at_us, last_activity_at_us, activity_count, updated_at_us, version"

	opGet        = "territory.postgres.get"
	opTransition = "territory.postgres.transition"
	opList       = "territory.postgres.list"
)

var (
	errMissingPool = errors.New("postgres pool is required")
	builder        = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
)

// Config wires a Store.
type Config struct {
	Pool   *pgxpool.Pool
	Clock  func() time.Time
	Logger *zap.Logger
}

// Store is a territory.Store backed by a pgx pool.
type Store struct {
	pool   *pgxpool.Pool
	clock  func() time.Time
	logger *zap.Logger
}

// NewStore constructs a Store. The schema is expected to exist; see database.EnsurePostgresSchema.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Pool == nil {
		return nil, territory.NewStoreError("territory.postgres.new", "missing_pool", errMissingPool)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: cfg.Pool, clock: clock, logger: logger}, nil
}

// Get returns the stored record for the cell.
func (s *Store) Get(ctx context.Context, cellID grid.CellID) (territory.Record, bool, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+selectColumns+" FROM "+tableName+" WHERE cell_id = $1 AND version > 0", cellID.String())
	record, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return territory.Record{}, false, nil
	}
	if err != nil {
		s.logger.Error("territory select failed", zap.String("operation", opGet), zap.String("cell_id", cellID.String()), zap.Error(err))
		return territory.Record{}, false, territory.NewStoreError(opGet, "select_failed", err)
	}
	return record, true, nil
}

// Transition atomically compares and transitions the record for the cell. An absent cell gets a
// placeholder row so that concurrent first claims serialize on the same row lock; the placeholder
// is rolled back with the transaction when the transition fails.
func (s *Store) Transition(ctx context.Context, cellID grid.CellID, expected territory.Status, mutate territory.Mutation) (record territory.Record, err error) {
	cell, err := grid.Parse(cellID.String())
	if err != nil {
		return territory.Record{}, territory.NewStoreError(opTransition, "invalid_cell", err)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		s.logger.Error("territory transaction begin failed", zap.String("operation", opTransition), zap.Error(err))
		return territory.Record{}, territory.NewStoreError(opTransition, "begin_failed", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	const insertPlaceholder = `INSERT INTO territories (cell_id, cell_row, cell_col, status, updated_at_us, version)
        VALUES ($1, $2, $3, $4, 0, 0) ON CONFLICT (cell_id) DO NOTHING`
	if _, err = tx.Exec(ctx, insertPlaceholder, cellID.String(), cell.Row, cell.Col, string(territory.StatusUnclaimed)); err != nil {
		s.logger.Error("territory placeholder insert failed", zap.String("operation", opTransition), zap.String("cell_id", cellID.String()), zap.Error(err))
		return territory.Record{}, territory.NewStoreError(opTransition, "insert_failed", err)
	}

	current, err := scanRecord(tx.QueryRow(ctx, "SELECT "+selectColumns+" FROM "+tableName+" WHERE cell_id = $1 FOR UPDATE", cellID.String()))
	if err != nil {
		s.logger.Error("territory lock failed", zap.String("operation", opTransition), zap.String("cell_id", cellID.String()), zap.Error(err))
		return territory.Record{}, territory.NewStoreError(opTransition, "select_failed", err)
	}

	next, err := territory.ApplyTransition(current, expected, mutate, s.clock())
	if err != nil {
		return territory.Record{}, err
	}

	const update = `UPDATE territories SET category_id = $2, status = $3, owner_id = $4, claimed_at_us = $5,
        last_activity_at_us = $6, activity_count = $7, updated_at_us = $8, version = $9 WHERE cell_id = $1`
	if _, err = tx.Exec(ctx, update,
		cellID.String(),
		next.CategoryID,
		string(next.Status),
		next.OwnerID,
		territory.ToMicros(next.ClaimedAt),
		territory.ToMicros(next.LastActivityAt),
		next.ActivityCount,
		territory.ToMicros(next.UpdatedAt),
		next.Version,
	); err != nil {
		s.logger.Error("territory update failed", zap.String("operation", opTransition), zap.String("cell_id", cellID.String()), zap.Error(err))
		return territory.Record{}, territory.NewStoreError(opTransition, "update_failed", err)
	}

	if err = tx.Commit(ctx); err != nil {
		s.logger.Error("territory commit failed", zap.String("operation", opTransition), zap.String("cell_id", cellID.String()), zap.Error(err))
		return territory.Record{}, territory.NewStoreError(opTransition, "commit_failed", err)
	}
	return next, nil
}

// List returns every stored record matching the filter, ordered by cell id.
func (s *Store) List(ctx context.Context, filter territory.Filter) ([]territory.Record, error) {
	query, args, err := listQuery(filter)
	if err != nil {
		return nil, territory.NewStoreError(opList, "build_failed", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		s.logger.Error("territory list failed", zap.String("operation", opList), zap.Error(err))
		return nil, territory.NewStoreError(opList, "query_failed", err)
	}
	defer rows.Close()

	records := make([]territory.Record, 0)
	for rows.Next() {
		record, scanErr := scanRecord(rows)
		if scanErr != nil {
			return nil, territory.NewStoreError(opList, "scan_failed", scanErr)
		}
		if filter.Matches(record) {
			records = append(records, record)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, territory.NewStoreError(opList, "rows_failed", err)
	}
	return records, nil
}

func listQuery(filter territory.Filter) (string, []any, error) {
	query := builder.
		Select(selectColumns).
		From(tableName).
		Where(squirrel.Gt{"version": 0}).
		OrderBy(`cell_id COLLATE "C" ASC`)
	if filter.CategoryID != "" {
		query = query.Where(squirrel.Eq{"category_id": filter.CategoryID})
	}
	if filter.Status != "" {
		query = query.Where(squirrel.Eq{"status": string(filter.Status)})
	}
	if filter.OwnerID != "" {
		query = query.Where(squirrel.Eq{"owner_id": filter.OwnerID})
	}
	if cover, ok := filter.Cover(); ok {
		query = query.
			Where(squirrel.Expr("cell_row BETWEEN ? AND ?", cover.MinRow, cover.MaxRow)).
			Where(squirrel.Expr("cell_col BETWEEN ? AND ?", cover.MinCol, cover.MaxCol))
	}
	return query.ToSql()
}

func scanRecord(row pgx.Row) (territory.Record, error) {
	var (
		cellID, categoryID, status, ownerID string
		claimedAt, lastActivityAt, updatedAt int64
		activityCount, version               int64
	)
	if err := row.Scan(&cellID, &categoryID, &status, &ownerID, &claimedAt, &lastActivityAt, &activityCount, &updatedAt, &version); err != nil {
		return territory.Record{}, err
	}
	return territory.Record{
		CellID:         grid.CellID(cellID),
		CategoryID:     categoryID,
		Status:         territory.Status(status),
		OwnerID:        ownerID,
		ClaimedAt:      territory.FromMicros(claimedAt),
		LastActivityAt: territory.FromMicros(lastActivityAt),
		ActivityCount:  activityCount,
		UpdatedAt:      territory.FromMicros(updatedAt),
		Version:        version,
	}, nil
}
