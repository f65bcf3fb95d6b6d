package server

import (
	"net/http"
	"testing"
)

type zoneView struct {
	ZoneID        string  `json:"zoneId"`
	OwnerUserID   string  `json:"ownerUserId"`
	SubjectUserID string  `json:"subjectUserId"`
	RadiusMeters  float64 `json:"radiusMeters"`
	Name          string  `json:"name"`
	Center        struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"center"`
}

func createZone(t *testing.T, api testAPI, token, childID string, radius float64) zoneView {
	t.Helper()
	status, response := api.do(t, http.MethodPost, "/v1/geofences", token, map[string]interface{}{
		"childId":      childID,
		"latitude":     52.52,
		"longitude":    13.405,
		"radiusMeters": radius,
		"name":         "  Home  ",
	})
	if status != http.StatusCreated {
		t.Fatalf("expected zone creation, got %d %+v", status, response)
	}
	return decodeData[zoneView](t, response)
}

func TestGeofenceDirectoryOverHTTP(t *testing.T) {
	api := newTestAPI(t, testAPIOptions{})
	parentToken := signSession(t, "parent-1")
	otherParentToken := signSession(t, "parent-2")
	childToken := signSession(t, "kid-1", "child")

	zone := createZone(t, api, parentToken, "kid-1", 250)
	if zone.ZoneID == "" || zone.OwnerUserID != "parent-1" || zone.SubjectUserID != "kid-1" || zone.Name != "Home" {
		t.Fatalf("unexpected zone %+v", zone)
	}
	createZone(t, api, otherParentToken, "kid-1", 400)

	_, response := api.do(t, http.MethodGet, "/v1/geofences", parentToken, nil)
	if response.Count != 1 {
		t.Fatalf("expected parent to see one owned zone, got %d", response.Count)
	}

	_, response = api.do(t, http.MethodGet, "/v1/geofences/child/kid-1", parentToken, nil)
	if response.Count != 1 {
		t.Fatalf("expected parent to see only their zones for the child, got %d", response.Count)
	}

	_, response = api.do(t, http.MethodGet, "/v1/geofences", childToken, nil)
	if response.Count != 2 {
		t.Fatalf("expected child to see both zones restricting them, got %d", response.Count)
	}

	status, response := api.do(t, http.MethodPost, "/v1/geofences", childToken, map[string]interface{}{
		"childId":      "kid-1",
		"latitude":     1.0,
		"longitude":    1.0,
		"radiusMeters": 10,
	})
	if status != http.StatusForbidden || response.Error != zoneRestrictedCode {
		t.Fatalf("expected restricted actor rejection, got %d %+v", status, response)
	}

	status, response = api.do(t, http.MethodPut, "/v1/geofences/"+zone.ZoneID, parentToken, map[string]interface{}{
		"radiusMeters": 500,
		"name":         "Grandma",
	})
	if status != http.StatusOK {
		t.Fatalf("expected update success, got %d %+v", status, response)
	}
	if updated := decodeData[zoneView](t, response); updated.RadiusMeters != 500 || updated.Name != "Grandma" || updated.Center.Latitude != 52.52 {
		t.Fatalf("unexpected updated zone %+v", updated)
	}

	status, response = api.do(t, http.MethodPut, "/v1/geofences/"+zone.ZoneID, otherParentToken, map[string]interface{}{"name": "Mine"})
	if status != http.StatusForbidden || response.Error != zoneNotOwnerCode {
		t.Fatalf("expected non-owner rejection, got %d %+v", status, response)
	}

	status, response = api.do(t, http.MethodPut, "/v1/geofences/"+zone.ZoneID, parentToken, map[string]interface{}{"latitude": 1.0})
	if status != http.StatusBadRequest || response.Error != "INVALID_COORDINATE" {
		t.Fatalf("expected half center rejection, got %d %+v", status, response)
	}

	status, response = api.do(t, http.MethodPut, "/v1/geofences/"+zone.ZoneID, parentToken, map[string]interface{}{"radiusMeters": 0})
	if status != http.StatusBadRequest || response.Error != zoneInvalidCode {
		t.Fatalf("expected invalid radius rejection, got %d %+v", status, response)
	}

	status, _ = api.do(t, http.MethodDelete, "/v1/geofences/"+zone.ZoneID, parentToken, nil)
	if status != http.StatusOK {
		t.Fatalf("expected delete success, got %d", status)
	}
	status, response = api.do(t, http.MethodDelete, "/v1/geofences/"+zone.ZoneID, parentToken, nil)
	if status != http.StatusNotFound || response.Error != zoneNotFoundCode {
		t.Fatalf("expected missing zone, got %d %+v", status, response)
	}
}

func TestGeofenceCreateValidation(t *testing.T) {
	api := newTestAPI(t, testAPIOptions{})
	token := signSession(t, "parent-1")

	cases := []map[string]interface{}{
		{"childId": "", "latitude": 1.0, "longitude": 1.0, "radiusMeters": 10},
		{"childId": "kid-1", "latitude": 91.0, "longitude": 1.0, "radiusMeters": 10},
		{"childId": "kid-1", "latitude": 1.0, "longitude": 1.0, "radiusMeters": 60000},
	}
	for index, body := range cases {
		status, response := api.do(t, http.MethodPost, "/v1/geofences", token, body)
		if status != http.StatusBadRequest || response.Error != zoneInvalidCode {
			t.Fatalf("case %d: expected invalid zone, got %d %+v", index, status, response)
		}
	}
}
