package grid

import (
	"errors"
	"testing"

	"github.com/MarcoPoloResearchLab/territory/internal/geo"
)

func TestLocateIsDeterministic(testContext *testing.T) {
	first, err := Locate(37.7749, -122.4194)
	if err != nil {
		testContext.Fatalf("locate: %v", err)
	}
	for iteration := 0; iteration < 100; iteration++ {
		again, againErr := Locate(37.7749, -122.4194)
		if againErr != nil {
			testContext.Fatalf("locate: %v", againErr)
		}
		if again != first {
			testContext.Fatalf("expected %s, got %s", first, again)
		}
	}
}

func TestLocateSharesCellForNearbyPoints(testContext *testing.T) {
	cellA, _ := Locate(0.00901, 0.01801)
	cellB, _ := Locate(0.00905, 0.01805)
	if cellA != cellB {
		testContext.Fatalf("expected same cell, got %s and %s", cellA, cellB)
	}
	if cellA != "10_20_9" {
		testContext.Fatalf("expected 10_20_9, got %s", cellA)
	}
}

func TestLocateRejectsInvalidCoordinates(testContext *testing.T) {
	for _, input := range [][2]float64{{91, 0}, {-90.5, 0}, {0, 181}, {0, -180.01}} {
		_, err := Locate(input[0], input[1])
		if !errors.Is(err, ErrInvalidCoordinate) {
			testContext.Fatalf("expected invalid coordinate for %v, got %v", input, err)
		}
	}
}

func TestParseRoundTripsLocatedCells(testContext *testing.T) {
	points := [][2]float64{{0, 0}, {-33.8688, 151.2093}, {89.9999, -179.9999}, {-0.0001, -0.0001}}
	for _, point := range points {
		cellID, err := Locate(point[0], point[1])
		if err != nil {
			testContext.Fatalf("locate %v: %v", point, err)
		}
		parsed, parseErr := Parse(cellID.String())
		if parseErr != nil {
			testContext.Fatalf("parse %s: %v", cellID, parseErr)
		}
		if parsed.ID() != cellID {
			testContext.Fatalf("expected %s, got %s", cellID, parsed.ID())
		}
	}
}

func TestParseRejectsMalformedIdentifiers(testContext *testing.T) {
	inputs := []string{"", "   ", "garbage", "10_20", "10_20_8", "10_20_9_1", "a_20_9", "010_20_9", "+10_20_9", "10__9"}
	for _, input := range inputs {
		if _, err := Parse(input); !errors.Is(err, ErrInvalidCell) {
			testContext.Fatalf("expected invalid cell for %q, got %v", input, err)
		}
	}
}

func TestNeighborsCardinality(testContext *testing.T) {
	for radius := 0; radius <= 4; radius++ {
		cells, err := Neighbors("10_20_9", radius)
		if err != nil {
			testContext.Fatalf("neighbors radius %d: %v", radius, err)
		}
		expected := (2*radius + 1) * (2*radius + 1)
		if len(cells) != expected {
			testContext.Fatalf("radius %d: expected %d cells, got %d", radius, expected, len(cells))
		}
		seen := make(map[CellID]struct{}, len(cells))
		for _, cell := range cells {
			if _, duplicate := seen[cell]; duplicate {
				testContext.Fatalf("radius %d: duplicate cell %s", radius, cell)
			}
			seen[cell] = struct{}{}
		}
		if _, ok := seen["10_20_9"]; !ok {
			testContext.Fatalf("radius %d: origin missing", radius)
		}
	}
}

func TestNeighborsRadiusZeroIsSelf(testContext *testing.T) {
	cells, err := Neighbors("10_20_9", 0)
	if err != nil {
		testContext.Fatalf("neighbors: %v", err)
	}
	if len(cells) != 1 || cells[0] != "10_20_9" {
		testContext.Fatalf("expected only origin, got %v", cells)
	}
}

func TestNeighborsAreSymmetric(testContext *testing.T) {
	const radius = 2
	origin := CellID("-3_7_9")
	cells, err := Neighbors(origin, radius)
	if err != nil {
		testContext.Fatalf("neighbors: %v", err)
	}
	for _, neighbor := range cells {
		reverse, reverseErr := Neighbors(neighbor, radius)
		if reverseErr != nil {
			testContext.Fatalf("neighbors of %s: %v", neighbor, reverseErr)
		}
		found := false
		for _, candidate := range reverse {
			if candidate == origin {
				found = true
				break
			}
		}
		if !found {
			testContext.Fatalf("%s lists %s but not the reverse", origin, neighbor)
		}
	}
}

func TestNeighborsValidation(testContext *testing.T) {
	if _, err := Neighbors("garbage", 1); !errors.Is(err, ErrInvalidCell) {
		testContext.Fatalf("expected invalid cell, got %v", err)
	}
	if _, err := Neighbors("10_20_9", -1); !errors.Is(err, ErrInvalidRadius) {
		testContext.Fatalf("expected invalid radius, got %v", err)
	}
}

func TestCenterLocatesBackToCell(testContext *testing.T) {
	center, err := Center("10_20_9")
	if err != nil {
		testContext.Fatalf("center: %v", err)
	}
	cellID, locateErr := Locate(center.Latitude, center.Longitude)
	if locateErr != nil {
		testContext.Fatalf("locate: %v", locateErr)
	}
	if cellID != "10_20_9" {
		testContext.Fatalf("expected center inside 10_20_9, got %s", cellID)
	}
}

func TestBoundaryIsClosedHexagonInsideCell(testContext *testing.T) {
	ring, err := Boundary("10_20_9")
	if err != nil {
		testContext.Fatalf("boundary: %v", err)
	}
	if len(ring) != 7 {
		testContext.Fatalf("expected 7 points, got %d", len(ring))
	}
	if ring[0] != ring[len(ring)-1] {
		testContext.Fatalf("expected closed ring")
	}
	const tolerance = 1e-12
	for _, vertex := range ring {
		if vertex.Latitude < 10*CellSizeDegrees-tolerance || vertex.Latitude > 11*CellSizeDegrees+tolerance {
			testContext.Fatalf("vertex latitude %f outside cell", vertex.Latitude)
		}
		if vertex.Longitude < 20*CellSizeDegrees-tolerance || vertex.Longitude > 21*CellSizeDegrees+tolerance {
			testContext.Fatalf("vertex longitude %f outside cell", vertex.Longitude)
		}
	}
	if _, err := Boundary("10_20_8"); !errors.Is(err, ErrInvalidCell) {
		testContext.Fatalf("expected invalid cell, got %v", err)
	}
}

func TestCoverCircleIncludesEveryCellWithinRadius(testContext *testing.T) {
	origin := geo.Point{Latitude: 52.52, Longitude: 13.405}
	const radiusMeters = 400.0
	cover := CoverCircle(origin, radiusMeters)
	originCell := LocatePoint(origin)
	neighborhood, err := Neighbors(originCell.ID(), 8)
	if err != nil {
		testContext.Fatalf("neighbors: %v", err)
	}
	inside := 0
	for _, cellID := range neighborhood {
		cell, _ := Parse(cellID.String())
		if !WithinRadius(cell, origin, radiusMeters) {
			continue
		}
		inside++
		if !cover.Contains(cell) {
			testContext.Fatalf("cell %s within radius but outside cover %+v", cellID, cover)
		}
	}
	if inside == 0 {
		testContext.Fatalf("expected at least one cell within radius")
	}
}

func TestParseRejectsCellsOutsideLattice(testContext *testing.T) {
	inputs := []string{
		"999999999_0_9",
		"0_999999999_9",
		"-999999999_0_9",
		"9223372036854775807_0_9",
		"0_-9223372036854775808_9",
		"100001_0_9",
		"0_200001_9",
	}
	for _, input := range inputs {
		if _, err := Parse(input); !errors.Is(err, ErrInvalidCell) {
			testContext.Fatalf("expected invalid cell for %q, got %v", input, err)
		}
		if _, err := Neighbors(CellID(input), 1); !errors.Is(err, ErrInvalidCell) {
			testContext.Fatalf("expected neighbors to reject %q, got %v", input, err)
		}
	}
}

func TestExtremeCoordinatesStayOnLattice(testContext *testing.T) {
	for _, point := range [][2]float64{{90, 180}, {-90, -180}, {90, -180}, {-90, 180}} {
		cellID, err := Locate(point[0], point[1])
		if err != nil {
			testContext.Fatalf("locate %v: %v", point, err)
		}
		center, centerErr := Center(cellID)
		if centerErr != nil {
			testContext.Fatalf("center %s: %v", cellID, centerErr)
		}
		if validateErr := center.Validate(); validateErr != nil {
			testContext.Fatalf("center of %s is not a valid coordinate: %v", cellID, validateErr)
		}
	}
}

func TestNeighborsClipAtLatticeEdge(testContext *testing.T) {
	corner := Cell{Row: MaxRow, Col: MaxCol}.ID()
	cells, err := Neighbors(corner, 1)
	if err != nil {
		testContext.Fatalf("neighbors: %v", err)
	}
	if len(cells) != 4 {
		testContext.Fatalf("expected 4 cells at the corner, got %d: %v", len(cells), cells)
	}
	for _, cellID := range cells {
		if _, parseErr := Parse(cellID.String()); parseErr != nil {
			testContext.Fatalf("neighbor %s does not parse: %v", cellID, parseErr)
		}
	}
}
