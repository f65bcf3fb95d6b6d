// Package grid quantizes coordinates onto a fixed-resolution square lattice and answers
// neighborhood and geometry questions about its cells. Every function is pure.
package grid

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/territory/internal/geo"
)

const (
	// Resolution is the only lattice resolution issued and accepted by this package.
	Resolution = 9
	// CellSizeDegrees is the span of one cell along both axes at Resolution.
	CellSizeDegrees = 0.0009

	cellIDSeparator = "_"
	maxCellIDLength = 64
)

var (
	// ErrInvalidCell indicates that a cell identifier is malformed or uses an unknown resolution.
	ErrInvalidCell = errors.New("grid: invalid cell")
	// ErrInvalidCoordinate indicates that the coordinates cannot be located on the lattice.
	ErrInvalidCoordinate = geo.ErrInvalidCoordinate
	// ErrInvalidRadius indicates a negative neighborhood radius.
	ErrInvalidRadius = errors.New("grid: invalid radius")
)

// Lattice bounds reachable from valid coordinates. Computed with the same quantization as
// LocatePoint so that every located cell parses.
var (
	MinRow = int64(math.Floor(-90 / CellSizeDegrees))
	MaxRow = int64(math.Floor(90 / CellSizeDegrees))
	MinCol = int64(math.Floor(-180 / CellSizeDegrees))
	MaxCol = int64(math.Floor(180 / CellSizeDegrees))
)

// CellID is the canonical textual form of a cell: "<row>_<col>_<resolution>".
type CellID string

// String returns the underlying identifier.
func (id CellID) String() string {
	return string(id)
}

// Cell is a parsed lattice address.
type Cell struct {
	Row int64
	Col int64
}

// ID renders the canonical identifier for the cell.
func (c Cell) ID() CellID {
	return CellID(strconv.FormatInt(c.Row, 10) + cellIDSeparator + strconv.FormatInt(c.Col, 10) + cellIDSeparator + strconv.Itoa(Resolution))
}

// Locate returns the cell containing the coordinates.
func Locate(latitude, longitude float64) (CellID, error) {
	point, err := geo.NewPoint(latitude, longitude)
	if err != nil {
		return "", err
	}
	return LocatePoint(point).ID(), nil
}

// LocatePoint quantizes an already validated point.
func LocatePoint(point geo.Point) Cell {
	return Cell{
		Row: int64(math.Floor(point.Latitude / CellSizeDegrees)),
		Col: int64(math.Floor(point.Longitude / CellSizeDegrees)),
	}
}

// Parse validates a raw identifier and returns its lattice address. Only canonical
// identifiers are accepted, so Parse(raw).ID() == raw for every accepted input.
func Parse(rawInput string) (Cell, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return Cell{}, fmt.Errorf("%w: empty", ErrInvalidCell)
	}
	if len(trimmed) > maxCellIDLength {
		return Cell{}, fmt.Errorf("%w: exceeds %d characters", ErrInvalidCell, maxCellIDLength)
	}
	segments := strings.Split(trimmed, cellIDSeparator)
	if len(segments) != 3 {
		return Cell{}, fmt.Errorf("%w: expected row_col_resolution, got %q", ErrInvalidCell, trimmed)
	}
	row, rowErr := strconv.ParseInt(segments[0], 10, 64)
	col, colErr := strconv.ParseInt(segments[1], 10, 64)
	resolution, resErr := strconv.Atoi(segments[2])
	if rowErr != nil || colErr != nil || resErr != nil {
		return Cell{}, fmt.Errorf("%w: non-numeric component in %q", ErrInvalidCell, trimmed)
	}
	if resolution != Resolution {
		return Cell{}, fmt.Errorf("%w: unsupported resolution %d", ErrInvalidCell, resolution)
	}
	cell := Cell{Row: row, Col: col}
	if cell.ID().String() != trimmed {
		return Cell{}, fmt.Errorf("%w: non-canonical form %q", ErrInvalidCell, trimmed)
	}
	if !cell.OnLattice() {
		return Cell{}, fmt.Errorf("%w: %q lies outside the lattice", ErrInvalidCell, trimmed)
	}
	return cell, nil
}

// OnLattice reports whether some valid coordinate quantizes to the cell.
func (c Cell) OnLattice() bool {
	return c.Row >= MinRow && c.Row <= MaxRow && c.Col >= MinCol && c.Col <= MaxCol
}

// ParseCellID validates a raw identifier and returns it as a CellID.
func ParseCellID(rawInput string) (CellID, error) {
	cell, err := Parse(rawInput)
	if err != nil {
		return "", err
	}
	return cell.ID(), nil
}

// Neighbors returns every cell within radius lattice steps (Chebyshev distance) of the
// given cell, including the cell itself, in row-major order. Cells past the poles or the
// antimeridian are clipped, so edge cells have fewer neighbors.
func Neighbors(id CellID, radius int) ([]CellID, error) {
	cell, err := Parse(id.String())
	if err != nil {
		return nil, err
	}
	if radius < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRadius, radius)
	}
	span := 2*radius + 1
	cells := make([]CellID, 0, span*span)
	for dRow := -radius; dRow <= radius; dRow++ {
		for dCol := -radius; dCol <= radius; dCol++ {
			neighbor := Cell{Row: cell.Row + int64(dRow), Col: cell.Col + int64(dCol)}
			if !neighbor.OnLattice() {
				continue
			}
			cells = append(cells, neighbor.ID())
		}
	}
	return cells, nil
}

// RingDistance returns the Chebyshev distance in lattice steps between two cells.
func RingDistance(a, b Cell) int64 {
	dRow := a.Row - b.Row
	if dRow < 0 {
		dRow = -dRow
	}
	dCol := a.Col - b.Col
	if dCol < 0 {
		dCol = -dCol
	}
	if dRow > dCol {
		return dRow
	}
	return dCol
}

// Center returns the midpoint of the cell.
func Center(id CellID) (geo.Point, error) {
	cell, err := Parse(id.String())
	if err != nil {
		return geo.Point{}, err
	}
	return cell.Center(), nil
}

// Center returns the midpoint of the cell. The edge cells that only hold the poles or the
// antimeridian are clamped so the result is always a valid coordinate.
func (c Cell) Center() geo.Point {
	return geo.Point{
		Latitude:  math.Min(90, math.Max(-90, (float64(c.Row)+0.5)*CellSizeDegrees)),
		Longitude: math.Min(180, math.Max(-180, (float64(c.Col)+0.5)*CellSizeDegrees)),
	}
}

// Boundary returns a closed hexagonal ring inscribed in the cell, for map display.
// The first vertex is repeated as the last.
func Boundary(id CellID) ([]geo.Point, error) {
	cell, err := Parse(id.String())
	if err != nil {
		return nil, err
	}
	center := cell.Center()
	half := CellSizeDegrees * 0.5
	offsets := [][2]float64{
		{half, 0},
		{half * 0.5, half * 0.866},
		{-half * 0.5, half * 0.866},
		{-half, 0},
		{-half * 0.5, -half * 0.866},
		{half * 0.5, -half * 0.866},
	}
	ring := make([]geo.Point, 0, len(offsets)+1)
	for _, offset := range offsets {
		ring = append(ring, geo.Point{
			Latitude:  center.Latitude + offset[0],
			Longitude: center.Longitude + offset[1],
		})
	}
	ring = append(ring, ring[0])
	return ring, nil
}
