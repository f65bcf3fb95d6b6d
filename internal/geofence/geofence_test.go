package geofence

import (
	"errors"
	"math"
	"testing"

	"github.com/MarcoPoloResearchLab/territory/internal/geo"
)

func northOf(origin geo.Point, meters float64) geo.Point {
	return geo.Point{
		Latitude:  origin.Latitude + meters/geo.EarthRadiusMeters*180/math.Pi,
		Longitude: origin.Longitude,
	}
}

func TestContainsCenterForAnyRadius(testContext *testing.T) {
	center := geo.Point{Latitude: 40.7128, Longitude: -74.006}
	for _, radius := range []float64{0, 1, 150, 50000} {
		zone := Zone{Center: center, RadiusMeters: radius}
		if !Contains(center, zone) {
			testContext.Fatalf("expected center inside zone of radius %v", radius)
		}
	}
}

func TestContainsBoundaryOffsets(testContext *testing.T) {
	center := geo.Point{Latitude: 40.7128, Longitude: -74.006}
	for _, radius := range []float64{10, 250, 5000} {
		zone := Zone{Center: center, RadiusMeters: radius}
		if !Contains(northOf(center, radius-1), zone) {
			testContext.Fatalf("radius %v: expected point at radius-1 inside", radius)
		}
		if Contains(northOf(center, radius+1), zone) {
			testContext.Fatalf("radius %v: expected point at radius+1 outside", radius)
		}
	}
}

func TestIsEligibleWithoutZonesIsOpen(testContext *testing.T) {
	point := geo.Point{Latitude: 1, Longitude: 1}
	if !IsEligible("child-1", point, nil) {
		testContext.Fatalf("expected eligibility with no zones")
	}
	others := []Zone{{SubjectUserID: "child-2", Center: geo.Point{}, RadiusMeters: 10}}
	if !IsEligible("child-1", point, others) {
		testContext.Fatalf("zones for other subjects must not restrict the actor")
	}
}

func TestIsEligibleRequiresAnyZone(testContext *testing.T) {
	home := geo.Point{Latitude: 10, Longitude: 10}
	school := geo.Point{Latitude: 10.05, Longitude: 10}
	zones := []Zone{
		{SubjectUserID: "child-1", Center: home, RadiusMeters: 100},
		{SubjectUserID: "child-1", Center: school, RadiusMeters: 100},
	}
	if !IsEligible("child-1", northOf(school, 50), zones) {
		testContext.Fatalf("expected eligibility inside second zone")
	}
	if IsEligible("child-1", northOf(home, 1000), zones) {
		testContext.Fatalf("expected ineligibility outside every zone")
	}
}

func TestZoneValidate(testContext *testing.T) {
	if err := (Zone{Center: geo.Point{Latitude: 95}, RadiusMeters: 1}).Validate(); !errors.Is(err, ErrInvalidZone) {
		testContext.Fatalf("expected invalid zone for bad center, got %v", err)
	}
	if err := (Zone{RadiusMeters: -1}).Validate(); !errors.Is(err, ErrInvalidZone) {
		testContext.Fatalf("expected invalid zone for negative radius, got %v", err)
	}
	if err := (Zone{RadiusMeters: 5}).Validate(); err != nil {
		testContext.Fatalf("unexpected error: %v", err)
	}
}

func TestRestrictingFiltersBySubject(testContext *testing.T) {
	zones := []Zone{{ID: "a", SubjectUserID: "child-1"}, {ID: "b", SubjectUserID: "child-2"}}
	matched := Restricting("child-1", zones)
	if len(matched) != 1 || matched[0].ID != "a" {
		testContext.Fatalf("unexpected zones %+v", matched)
	}
}
