// Package zones persists the circular safe zones parents assign to restricted users.
package zones

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/territory/internal/geo"
	"github.com/MarcoPoloResearchLab/territory/internal/geofence"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
)

const (
	opServiceNew      = "zones.service.new"
	opCreate          = "zones.create"
	opUpdate          = "zones.update"
	opDelete          = "zones.delete"
	opListByOwner     = "zones.list_by_owner"
	opZonesForSubject = "zones.zones_for_subject"
)

// ServiceError reports an infrastructure failure with a dotted operation code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// ServiceConfig wires the zone directory.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service manages zones and serves them to the claim arbitrator.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService validates the configuration and returns the directory.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, clock: clock, idProvider: cfg.IDProvider, logger: logger}, nil
}

// Create stores a new zone owned by the actor.
func (s *Service) Create(ctx context.Context, actor Actor, input ZoneInput) (geofence.Zone, error) {
	ownerID, err := s.requireManager(actor)
	if err != nil {
		return geofence.Zone{}, err
	}
	subjectID, err := normalizeUserID(input.SubjectUserID, "subject")
	if err != nil {
		return geofence.Zone{}, err
	}
	if err := validateGeometry(input.Center, input.RadiusMeters); err != nil {
		return geofence.Zone{}, err
	}
	name, err := normalizeName(input.Name)
	if err != nil {
		return geofence.Zone{}, err
	}

	zoneID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err, zap.String("owner_user_id", ownerID))
		return geofence.Zone{}, newServiceError(opCreate, "id_generation_failed", err)
	}
	now := s.clock().UTC().Unix()
	stored := StoredZone{
		ZoneID:           zoneID,
		OwnerUserID:      ownerID,
		SubjectUserID:    subjectID,
		CenterLatitude:   input.Center.Latitude,
		CenterLongitude:  input.Center.Longitude,
		RadiusMeters:     input.RadiusMeters,
		Name:             name,
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}
	if err := s.db.WithContext(ctx).Create(&stored).Error; err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("owner_user_id", ownerID))
		return geofence.Zone{}, newServiceError(opCreate, "insert_failed", err)
	}
	s.logger.Info("geozone created",
		zap.String("zone_id", zoneID),
		zap.String("owner_user_id", ownerID),
		zap.String("subject_user_id", subjectID))
	return stored.zone(), nil
}

// Update applies the patch to a zone owned by the actor.
func (s *Service) Update(ctx context.Context, actor Actor, zoneID string, patch ZonePatch) (geofence.Zone, error) {
	ownerID, err := s.requireManager(actor)
	if err != nil {
		return geofence.Zone{}, err
	}

	var updated StoredZone
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stored, err := s.loadOwned(tx, opUpdate, ownerID, zoneID)
		if err != nil {
			return err
		}
		center := geo.Point{Latitude: stored.CenterLatitude, Longitude: stored.CenterLongitude}
		if patch.Center != nil {
			center = *patch.Center
		}
		radius := stored.RadiusMeters
		if patch.RadiusMeters != nil {
			radius = *patch.RadiusMeters
		}
		if err := validateGeometry(center, radius); err != nil {
			return err
		}
		name := stored.Name
		if patch.Name != nil {
			normalized, err := normalizeName(*patch.Name)
			if err != nil {
				return err
			}
			name = normalized
		}

		stored.CenterLatitude = center.Latitude
		stored.CenterLongitude = center.Longitude
		stored.RadiusMeters = radius
		stored.Name = name
		stored.UpdatedAtSeconds = s.clock().UTC().Unix()
		if err := tx.Save(&stored).Error; err != nil {
			s.logError(opUpdate, "save_failed", err, zap.String("zone_id", zoneID))
			return newServiceError(opUpdate, "save_failed", err)
		}
		updated = stored
		return nil
	})
	if txErr != nil {
		return geofence.Zone{}, txErr
	}
	return updated.zone(), nil
}

// Delete removes a zone owned by the actor.
func (s *Service) Delete(ctx context.Context, actor Actor, zoneID string) error {
	ownerID, err := s.requireManager(actor)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stored, err := s.loadOwned(tx, opDelete, ownerID, zoneID)
		if err != nil {
			return err
		}
		if err := tx.Delete(&stored).Error; err != nil {
			s.logError(opDelete, "delete_failed", err, zap.String("zone_id", zoneID))
			return newServiceError(opDelete, "delete_failed", err)
		}
		s.logger.Info("geozone deleted", zap.String("zone_id", zoneID), zap.String("owner_user_id", ownerID))
		return nil
	})
}

// ListByOwner returns the zones managed by the owner ordered by creation.
func (s *Service) ListByOwner(ctx context.Context, ownerUserID string) ([]geofence.Zone, error) {
	return s.list(ctx, opListByOwner, "owner_user_id = ?", ownerUserID)
}

// ZonesForSubject returns every zone restricting the subject.
func (s *Service) ZonesForSubject(ctx context.Context, subjectUserID string) ([]geofence.Zone, error) {
	return s.list(ctx, opZonesForSubject, "subject_user_id = ?", subjectUserID)
}

func (s *Service) list(ctx context.Context, operation, condition, userID string) ([]geofence.Zone, error) {
	var stored []StoredZone
	err := s.db.WithContext(ctx).
		Where(condition, strings.TrimSpace(userID)).
		Order("created_at_s ASC, zone_id ASC").
		Find(&stored).Error
	if err != nil {
		s.logError(operation, "query_failed", err, zap.String("user_id", userID))
		return nil, newServiceError(operation, "query_failed", err)
	}
	zones := make([]geofence.Zone, 0, len(stored))
	for _, row := range stored {
		zones = append(zones, row.zone())
	}
	return zones, nil
}

func (s *Service) requireManager(actor Actor) (string, error) {
	if actor.GeofenceRestricted {
		return "", ErrRestrictedActor
	}
	return normalizeUserID(actor.UserID, "owner")
}

func (s *Service) loadOwned(tx *gorm.DB, operation, ownerID, zoneID string) (StoredZone, error) {
	var stored StoredZone
	err := tx.Where("zone_id = ?", strings.TrimSpace(zoneID)).Take(&stored).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return StoredZone{}, fmt.Errorf("%w: %s", ErrZoneNotFound, zoneID)
	}
	if err != nil {
		s.logError(operation, "select_failed", err, zap.String("zone_id", zoneID))
		return StoredZone{}, newServiceError(operation, "select_failed", err)
	}
	if stored.OwnerUserID != ownerID {
		return StoredZone{}, ErrNotZoneOwner
	}
	return stored, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("zones service error", attrs...)
}
