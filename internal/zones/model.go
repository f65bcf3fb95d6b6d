package zones

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/territory/internal/geo"
	"github.com/MarcoPoloResearchLab/territory/internal/geofence"
)

const (
	// MaxRadiusMeters bounds the radius of a single zone.
	MaxRadiusMeters = 50000.0
	maxNameLength   = 120
	maxIDLength     = 190
)

var (
	// ErrInvalidZone indicates a zone with unusable geometry, name or subject.
	ErrInvalidZone = errors.New("zones: invalid zone")
	// ErrZoneNotFound indicates that no zone exists with the identifier.
	ErrZoneNotFound = errors.New("zones: zone not found")
	// ErrNotZoneOwner indicates a mutation by someone other than the zone's owner.
	ErrNotZoneOwner = errors.New("zones: not zone owner")
	// ErrRestrictedActor indicates a geofence-restricted actor attempted to manage zones.
	ErrRestrictedActor = errors.New("zones: restricted actors cannot manage zones")
)

// Actor is the authenticated caller managing zones.
type Actor struct {
	UserID             string
	GeofenceRestricted bool
}

// ZoneInput describes a new zone.
type ZoneInput struct {
	SubjectUserID string
	Center        geo.Point
	RadiusMeters  float64
	Name          string
}

// ZonePatch carries optional replacements for an existing zone.
type ZonePatch struct {
	Center       *geo.Point
	RadiusMeters *float64
	Name         *string
}

// StoredZone is the persisted form of a zone.
type StoredZone struct {
	ZoneID           string  `gorm:"column:zone_id;primaryKey;size:64;not null"`
	OwnerUserID      string  `gorm:"column:owner_user_id;size:190;not null;index"`
	SubjectUserID    string  `gorm:"column:subject_user_id;size:190;not null;index"`
	CenterLatitude   float64 `gorm:"column:center_latitude;not null"`
	CenterLongitude  float64 `gorm:"column:center_longitude;not null"`
	RadiusMeters     float64 `gorm:"column:radius_meters;not null"`
	Name             string  `gorm:"column:name;size:480;not null;default:''"`
	CreatedAtSeconds int64   `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64   `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (StoredZone) TableName() string {
	return "geo_zones"
}

func (z StoredZone) zone() geofence.Zone {
	return geofence.Zone{
		ID:            z.ZoneID,
		OwnerUserID:   z.OwnerUserID,
		SubjectUserID: z.SubjectUserID,
		Center:        geo.Point{Latitude: z.CenterLatitude, Longitude: z.CenterLongitude},
		RadiusMeters:  z.RadiusMeters,
		Name:          z.Name,
	}
}

func validateGeometry(center geo.Point, radiusMeters float64) error {
	if err := center.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidZone, err)
	}
	if math.IsNaN(radiusMeters) || radiusMeters <= 0 || radiusMeters > MaxRadiusMeters {
		return fmt.Errorf("%w: radius must be in (0, %.0f] meters, got %v", ErrInvalidZone, MaxRadiusMeters, radiusMeters)
	}
	return nil
}

func normalizeName(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if utf8.RuneCountInString(trimmed) > maxNameLength {
		return "", fmt.Errorf("%w: name exceeds %d characters", ErrInvalidZone, maxNameLength)
	}
	return trimmed, nil
}

func normalizeUserID(raw, field string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidZone, field)
	}
	if len(trimmed) > maxIDLength {
		return "", fmt.Errorf("%w: %s exceeds %d characters", ErrInvalidZone, field, maxIDLength)
	}
	return trimmed, nil
}
