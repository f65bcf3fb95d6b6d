// Package geofence evaluates whether a point lies inside the circular safe zones assigned to an actor.
package geofence

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/MarcoPoloResearchLab/territory/internal/geo"
)

// ErrInvalidZone indicates a zone with an unusable radius or center.
var ErrInvalidZone = errors.New("geofence: invalid zone")

// Zone is a circular safe area restricting one subject. OwnerUserID is the parent that manages it.
type Zone struct {
	ID            string    `json:"zoneId"`
	OwnerUserID   string    `json:"ownerUserId"`
	SubjectUserID string    `json:"subjectUserId"`
	Center        geo.Point `json:"center"`
	RadiusMeters  float64   `json:"radiusMeters"`
	Name          string    `json:"name"`
}

// Validate checks the geometry of the zone.
func (z Zone) Validate() error {
	if err := z.Center.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidZone, err)
	}
	if math.IsNaN(z.RadiusMeters) || math.IsInf(z.RadiusMeters, 0) || z.RadiusMeters < 0 {
		return fmt.Errorf("%w: radius %v", ErrInvalidZone, z.RadiusMeters)
	}
	return nil
}

// Contains reports whether the point is within the zone's radius of its center.
func Contains(point geo.Point, zone Zone) bool {
	return geo.DistanceMeters(point, zone.Center) <= zone.RadiusMeters
}

// IsEligible reports whether the actor may act at point. Only zones whose subject is the actor
// restrict it; an actor with no such zones is always eligible.
func IsEligible(actorUserID string, point geo.Point, zones []Zone) bool {
	actor := strings.TrimSpace(actorUserID)
	restricted := false
	for _, zone := range zones {
		if zone.SubjectUserID != actor {
			continue
		}
		restricted = true
		if Contains(point, zone) {
			return true
		}
	}
	return !restricted
}

// Restricting returns the zones among zones that restrict the actor.
func Restricting(actorUserID string, zones []Zone) []Zone {
	actor := strings.TrimSpace(actorUserID)
	matched := make([]Zone, 0, len(zones))
	for _, zone := range zones {
		if zone.SubjectUserID == actor {
			matched = append(matched, zone)
		}
	}
	return matched
}
