package territory

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/territory/internal/geo"
	"github.com/MarcoPoloResearchLab/territory/internal/geofence"
	"github.com/MarcoPoloResearchLab/territory/internal/grid"
	"go.uber.org/zap"
)

var (
	errMissingStore = errors.New("ownership store is required")
	errOwnerChanged = errors.New("owner changed since read")
	noOpLogger      = zap.NewNop()
)

const (
	opServiceNew     = "territory.service.new"
	opClaim          = "territory.claim"
	opRelease        = "territory.release"
	opUpdateActivity = "territory.update_activity"
	opGetTerritory   = "territory.get"
	opListTerritory  = "territory.list"

	outcomeSuccess = "success"
	outcomeError   = "error"
)

// ZoneSource supplies the geozones restricting a subject.
type ZoneSource interface {
	ZonesForSubject(ctx context.Context, subjectUserID string) ([]geofence.Zone, error)
}

// Publisher receives every committed record.
type Publisher interface {
	Publish(ctx context.Context, record Record) error
}

// Metrics observes arbitration outcomes and store latency.
type Metrics interface {
	ObserveOperation(operation, outcome string)
	ObserveTransition(operation string, elapsed time.Duration)
}

// Actor is an authenticated caller.
type Actor struct {
	UserID             UserID
	GeofenceRestricted bool
}

// ClaimRequest asks for ownership of a cell.
type ClaimRequest struct {
	CellID     string
	Actor      Actor
	CategoryID string
	Location   *geo.Point
}

// ReleaseRequest gives up ownership of a cell.
type ReleaseRequest struct {
	CellID string
	Actor  Actor
}

// ActivityRequest records engagement on an owned cell.
type ActivityRequest struct {
	CellID string
	Actor  Actor
}

// ServiceConfig wires the arbitrator. Store is required; everything else is optional.
type ServiceConfig struct {
	Store     Store
	Zones     ZoneSource
	Clock     func() time.Time
	Logger    *zap.Logger
	Publisher Publisher
	Metrics   Metrics
	Contest   *ContestTracker
}

// Service arbitrates claim, release and activity requests against the ownership store.
type Service struct {
	store     Store
	zones     ZoneSource
	clock     func() time.Time
	logger    *zap.Logger
	publisher Publisher
	metrics   Metrics
	contest   *ContestTracker
}

// NewService validates the configuration and returns the arbitrator.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", errMissingStore)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		store:     cfg.Store,
		zones:     cfg.Zones,
		clock:     resolveClock(cfg.Clock),
		logger:    logger,
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
		contest:   cfg.Contest,
	}, nil
}

// Claim makes the actor the sole owner of an unclaimed cell.
func (s *Service) Claim(ctx context.Context, request ClaimRequest) (Record, error) {
	record, err := s.claim(ctx, request)
	s.observe(opClaim, err)
	return record, err
}

func (s *Service) claim(ctx context.Context, request ClaimRequest) (Record, error) {
	cellID, err := grid.ParseCellID(request.CellID)
	if err != nil {
		return Record{}, newArbitrationError(CodeInvalidCell, err.Error(), nil)
	}
	categoryID, err := NewCategoryID(request.CategoryID)
	if err != nil {
		return Record{}, newArbitrationError(CodeInvalidRequest, err.Error(), nil)
	}
	if request.Location != nil {
		if err := request.Location.Validate(); err != nil {
			return Record{}, newArbitrationError(CodeInvalidCoordinate, err.Error(), nil)
		}
	}
	actorID := request.Actor.UserID.String()
	fields := []zap.Field{zap.String("cell_id", cellID.String()), zap.String("user_id", actorID)}

	if request.Actor.GeofenceRestricted {
		if err := s.checkEligibility(ctx, request.Actor, request.Location, fields); err != nil {
			return Record{}, err
		}
	}

	now := s.now()
	record, err := s.transition(ctx, opClaim, cellID, StatusUnclaimed, func(current Record) (Record, error) {
		next := current
		next.Status = StatusClaimed
		next.OwnerID = actorID
		next.CategoryID = categoryID.String()
		next.ClaimedAt = now
		next.LastActivityAt = now
		next.ActivityCount = 1
		return next, nil
	})
	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			current := conflict.Current
			if current.Status == StatusClaimed {
				s.contest.RecordRejection(cellID)
				s.logger.Info("claim rejected", append(fields, zap.String("owner_id", current.OwnerID))...)
				return Record{}, newArbitrationError(CodeAlreadyClaimed, "cell is owned by "+current.OwnerID, &current)
			}
			return Record{}, newArbitrationError(CodeInvalidState, "unexpected status "+string(current.Status), &current)
		}
		return Record{}, s.infraError(opClaim, err, fields)
	}

	s.logger.Info("territory claimed", append(fields, zap.String("category_id", record.CategoryID))...)
	s.publish(ctx, record)
	return record, nil
}

func (s *Service) checkEligibility(ctx context.Context, actor Actor, location *geo.Point, fields []zap.Field) error {
	if s.zones == nil {
		return nil
	}
	zones, err := s.zones.ZonesForSubject(ctx, actor.UserID.String())
	if err != nil {
		s.logError(opClaim, "zone_lookup_failed", err, fields...)
		return newServiceError(opClaim, "zone_lookup_failed", err)
	}
	restricting := geofence.Restricting(actor.UserID.String(), zones)
	if len(restricting) == 0 {
		return nil
	}
	if location == nil {
		return newArbitrationError(CodeInvalidCoordinate, "location is required for geofenced actors", nil)
	}
	if !geofence.IsEligible(actor.UserID.String(), *location, restricting) {
		s.logger.Info("claim outside geozones", fields...)
		return newArbitrationError(CodeGeozoneOutOfBounds, "location is outside every assigned zone", nil)
	}
	return nil
}

// Release returns a cell owned by the actor to the unclaimed state.
func (s *Service) Release(ctx context.Context, request ReleaseRequest) (Record, error) {
	record, err := s.release(ctx, request)
	s.observe(opRelease, err)
	return record, err
}

func (s *Service) release(ctx context.Context, request ReleaseRequest) (Record, error) {
	actorID := request.Actor.UserID.String()
	cellID, err := s.requireOwnership(ctx, opRelease, request.CellID, actorID)
	if err != nil {
		return Record{}, err
	}
	fields := []zap.Field{zap.String("cell_id", cellID.String()), zap.String("user_id", actorID)}

	record, err := s.transition(ctx, opRelease, cellID, StatusClaimed, func(current Record) (Record, error) {
		if current.OwnerID != actorID {
			return Record{}, errOwnerChanged
		}
		next := current
		next.Status = StatusUnclaimed
		next.OwnerID = ""
		next.ClaimedAt = time.Time{}
		next.ActivityCount = 0
		return next, nil
	})
	if err != nil {
		return Record{}, s.staleOrInfra(opRelease, err, fields)
	}

	s.logger.Info("territory released", fields...)
	s.publish(ctx, record)
	return record, nil
}

// UpdateActivity increments the activity counter of a cell owned by the actor.
func (s *Service) UpdateActivity(ctx context.Context, request ActivityRequest) (Record, error) {
	record, err := s.updateActivity(ctx, request)
	s.observe(opUpdateActivity, err)
	return record, err
}

func (s *Service) updateActivity(ctx context.Context, request ActivityRequest) (Record, error) {
	actorID := request.Actor.UserID.String()
	cellID, err := s.requireOwnership(ctx, opUpdateActivity, request.CellID, actorID)
	if err != nil {
		return Record{}, err
	}
	fields := []zap.Field{zap.String("cell_id", cellID.String()), zap.String("user_id", actorID)}

	now := s.now()
	record, err := s.transition(ctx, opUpdateActivity, cellID, StatusClaimed, func(current Record) (Record, error) {
		if current.OwnerID != actorID {
			return Record{}, errOwnerChanged
		}
		next := current
		next.ActivityCount = current.ActivityCount + 1
		next.LastActivityAt = now
		return next, nil
	})
	if err != nil {
		return Record{}, s.staleOrInfra(opUpdateActivity, err, fields)
	}

	s.logger.Debug("territory activity recorded", append(fields, zap.Int64("activity_count", record.ActivityCount))...)
	s.publish(ctx, record)
	return record, nil
}

// requireOwnership reads the current record and checks it is claimed by the actor.
func (s *Service) requireOwnership(ctx context.Context, operation, rawCellID, actorID string) (grid.CellID, error) {
	cellID, err := grid.ParseCellID(rawCellID)
	if err != nil {
		return "", newArbitrationError(CodeInvalidCell, err.Error(), nil)
	}
	current, present, err := s.store.Get(ctx, cellID)
	if err != nil {
		return "", s.infraError(operation, err, []zap.Field{zap.String("cell_id", cellID.String()), zap.String("user_id", actorID)})
	}
	if !present || current.Status != StatusClaimed {
		if !present {
			current = UnclaimedRecord(cellID)
		}
		return "", newArbitrationError(CodeNotClaimed, "cell is not claimed", &current)
	}
	if current.OwnerID != actorID {
		return "", newArbitrationError(CodeNotOwner, "cell is owned by another user", &current)
	}
	return cellID, nil
}

// GetTerritory returns the record for the cell, or its implicit unclaimed record.
func (s *Service) GetTerritory(ctx context.Context, rawCellID string) (Record, error) {
	cellID, err := grid.ParseCellID(rawCellID)
	if err != nil {
		return Record{}, newArbitrationError(CodeInvalidCell, err.Error(), nil)
	}
	record, present, err := s.store.Get(ctx, cellID)
	if err != nil {
		return Record{}, s.infraError(opGetTerritory, err, []zap.Field{zap.String("cell_id", cellID.String())})
	}
	if !present {
		return UnclaimedRecord(cellID), nil
	}
	return record, nil
}

// ListTerritories returns the records matching the filter ordered by cell id. A contested status
// filter selects claimed cells currently labelled contested.
func (s *Service) ListTerritories(ctx context.Context, filter Filter) ([]Record, error) {
	if filter.Near != nil {
		if err := filter.Near.Point.Validate(); err != nil {
			return nil, newArbitrationError(CodeInvalidCoordinate, err.Error(), nil)
		}
		if radius := filter.Near.RadiusMeters; radius < 0 || math.IsNaN(radius) || math.IsInf(radius, 0) {
			return nil, newArbitrationError(CodeInvalidRequest, "radius must be finite and not negative", nil)
		}
	}
	filter.CategoryID = strings.TrimSpace(filter.CategoryID)
	filter.OwnerID = strings.TrimSpace(filter.OwnerID)

	wantContested := filter.Status == StatusContested
	if wantContested {
		filter.Status = StatusClaimed
	}
	records, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, s.infraError(opListTerritory, err, nil)
	}
	if !wantContested {
		return records, nil
	}
	contested := make([]Record, 0, len(records))
	for _, record := range records {
		if s.contest.IsContested(record.CellID) {
			contested = append(contested, record)
		}
	}
	return contested, nil
}

// DisplayStatus returns the presentational status of the record.
func (s *Service) DisplayStatus(record Record) Status {
	return s.contest.Label(record)
}

func (s *Service) transition(ctx context.Context, operation string, cellID grid.CellID, expected Status, mutate Mutation) (Record, error) {
	started := time.Now()
	record, err := s.store.Transition(ctx, cellID, expected, mutate)
	if s.metrics != nil {
		s.metrics.ObserveTransition(operation, time.Since(started))
	}
	return record, err
}

func (s *Service) staleOrInfra(operation string, err error, fields []zap.Field) error {
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		current := conflict.Current
		s.logger.Info("stale write rejected", fields...)
		return newArbitrationError(CodeStaleWrite, "cell changed since it was read", &current)
	}
	if errors.Is(err, errOwnerChanged) {
		s.logger.Info("stale write rejected", fields...)
		return newArbitrationError(CodeStaleWrite, "owner changed since it was read", nil)
	}
	return s.infraError(operation, err, fields)
}

func (s *Service) infraError(operation string, err error, fields []zap.Field) error {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		s.logError(operation, "store_failed", err, fields...)
		return err
	}
	if errors.Is(err, ErrRecordInvariant) {
		s.logError(operation, "invariant_violated", err, fields...)
		return newServiceError(operation, "invariant_violated", err)
	}
	s.logError(operation, "store_failed", err, fields...)
	return newServiceError(operation, "store_failed", err)
}

func (s *Service) publish(ctx context.Context, record Record) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, record); err != nil {
		s.logger.Warn("territory change publish failed",
			zap.String("cell_id", record.CellID.String()),
			zap.Int64("version", record.Version),
			zap.Error(err))
	}
}

func (s *Service) observe(operation string, err error) {
	if s.metrics == nil {
		return
	}
	outcome := outcomeSuccess
	if err != nil {
		outcome = outcomeError
		if arbitrationErr, ok := AsArbitrationError(err); ok {
			outcome = strings.ToLower(string(arbitrationErr.Code))
		}
	}
	s.metrics.ObserveOperation(operation, outcome)
}

func (s *Service) now() time.Time {
	return s.clock().UTC().Truncate(time.Microsecond)
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	if s.logger == nil {
		return
	}
	allFields := append([]zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}, fields...)
	if err != nil {
		allFields = append(allFields, zap.Error(err))
	}
	s.logger.Error("territory service error", allFields...)
}
