package geo

import (
	"errors"
	"math"
	"testing"
)

func TestNewPointRejectsOutOfRange(t *testing.T) {
	testCases := []struct {
		name      string
		latitude  float64
		longitude float64
	}{
		{name: "latitude-high", latitude: 90.0001, longitude: 0},
		{name: "latitude-low", latitude: -91, longitude: 0},
		{name: "longitude-high", latitude: 0, longitude: 180.5},
		{name: "longitude-low", latitude: 0, longitude: -181},
		{name: "nan", latitude: math.NaN(), longitude: 0},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := NewPoint(testCase.latitude, testCase.longitude)
			if !errors.Is(err, ErrInvalidCoordinate) {
				t.Fatalf("expected invalid coordinate error, got %v", err)
			}
		})
	}
}

func TestNewPointAcceptsBounds(t *testing.T) {
	for _, point := range []Point{{90, 180}, {-90, -180}, {0, 0}} {
		if _, err := NewPoint(point.Latitude, point.Longitude); err != nil {
			t.Fatalf("expected %v to be valid, got %v", point, err)
		}
	}
}

func TestDistanceMetersAlongMeridian(t *testing.T) {
	origin := Point{Latitude: 10, Longitude: 20}
	oneDegreeNorth := Point{Latitude: 11, Longitude: 20}
	expected := EarthRadiusMeters * math.Pi / 180
	got := DistanceMeters(origin, oneDegreeNorth)
	if math.Abs(got-expected) > 1e-6 {
		t.Fatalf("expected %.6f meters, got %.6f", expected, got)
	}
	if DistanceMeters(origin, origin) != 0 {
		t.Fatalf("expected zero distance for identical points")
	}
}
