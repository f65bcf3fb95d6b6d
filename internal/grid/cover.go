package grid

import (
	"math"

	"github.com/MarcoPoloResearchLab/territory/internal/geo"
)

// polarLatitude is where longitudinal spans collapse and the cover falls back to every column.
const polarLatitude = 89.0

// Range is an inclusive block of lattice rows and columns.
type Range struct {
	MinRow int64
	MaxRow int64
	MinCol int64
	MaxCol int64
}

// Contains reports whether the cell lies inside the range.
func (r Range) Contains(c Cell) bool {
	return c.Row >= r.MinRow && c.Row <= r.MaxRow && c.Col >= r.MinCol && c.Col <= r.MaxCol
}

// CoverCircle returns a block of cells that includes every cell whose center lies within
// radiusMeters of the point. The block may include extra cells; callers refine by distance.
func CoverCircle(center geo.Point, radiusMeters float64) Range {
	if radiusMeters < 0 {
		radiusMeters = 0
	}
	deltaLat := radiusMeters / geo.EarthRadiusMeters * 180 / math.Pi
	minLat := math.Max(-90, center.Latitude-deltaLat)
	maxLat := math.Min(90, center.Latitude+deltaLat)

	cover := Range{
		MinRow: int64(math.Floor(minLat/CellSizeDegrees)) - 1,
		MaxRow: int64(math.Floor(maxLat/CellSizeDegrees)) + 1,
	}

	extremeLat := math.Max(math.Abs(minLat), math.Abs(maxLat))
	fullColumns := func() {
		cover.MinCol = int64(math.Floor(-180/CellSizeDegrees)) - 1
		cover.MaxCol = int64(math.Floor(180/CellSizeDegrees)) + 1
	}
	if extremeLat >= polarLatitude {
		fullColumns()
		return cover
	}
	deltaLng := deltaLat / math.Cos(extremeLat*math.Pi/180)
	minLng := center.Longitude - deltaLng
	maxLng := center.Longitude + deltaLng
	if minLng < -180 || maxLng > 180 {
		fullColumns()
		return cover
	}
	cover.MinCol = int64(math.Floor(minLng/CellSizeDegrees)) - 1
	cover.MaxCol = int64(math.Floor(maxLng/CellSizeDegrees)) + 1
	return cover
}

// WithinRadius reports whether the cell's center lies within radiusMeters of the point.
func WithinRadius(c Cell, point geo.Point, radiusMeters float64) bool {
	return geo.DistanceMeters(c.Center(), point) <= radiusMeters
}
