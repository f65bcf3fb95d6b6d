package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/MarcoPoloResearchLab/territory/internal/geo"
	"github.com/MarcoPoloResearchLab/territory/internal/geofence"
	"github.com/MarcoPoloResearchLab/territory/internal/territory"
	"github.com/MarcoPoloResearchLab/territory/internal/zones"
)

const (
	opHTTPZonesList   = "http.geofences.list"
	opHTTPZonesChild  = "http.geofences.child"
	opHTTPZonesCreate = "http.geofences.create"
	opHTTPZonesUpdate = "http.geofences.update"
	opHTTPZonesDelete = "http.geofences.delete"
)

type createZonePayload struct {
	ChildID      string  `json:"childId"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	RadiusMeters float64 `json:"radiusMeters"`
	Name         string  `json:"name"`
}

type updateZonePayload struct {
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
	RadiusMeters *float64 `json:"radiusMeters"`
	Name         *string  `json:"name"`
}

func zoneActor(actor territory.Actor) zones.Actor {
	return zones.Actor{UserID: actor.UserID.String(), GeofenceRestricted: actor.GeofenceRestricted}
}

func (h *httpHandler) handleListZones(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		respondFailure(c, http.StatusUnauthorized, unauthorizedCode, "")
		return
	}
	// Restricted actors see the zones that apply to them; managers see the zones they own.
	var (
		list []geofence.Zone
		err  error
	)
	if actor.GeofenceRestricted {
		list, err = h.zones.ZonesForSubject(c.Request.Context(), actor.UserID.String())
	} else {
		list, err = h.zones.ListByOwner(c.Request.Context(), actor.UserID.String())
	}
	if err != nil {
		h.respondZoneError(c, opHTTPZonesList, err)
		return
	}
	respondList(c, list)
}

func (h *httpHandler) handleListChildZones(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		respondFailure(c, http.StatusUnauthorized, unauthorizedCode, "")
		return
	}
	childID := strings.TrimSpace(c.Param("childId"))
	list, err := h.zones.ZonesForSubject(c.Request.Context(), childID)
	if err != nil {
		h.respondZoneError(c, opHTTPZonesChild, err)
		return
	}
	if childID != actor.UserID.String() {
		owned := make([]geofence.Zone, 0, len(list))
		for _, zone := range list {
			if zone.OwnerUserID == actor.UserID.String() {
				owned = append(owned, zone)
			}
		}
		list = owned
	}
	respondList(c, list)
}

func (h *httpHandler) handleCreateZone(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		respondFailure(c, http.StatusUnauthorized, unauthorizedCode, "")
		return
	}
	var request createZonePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondFailure(c, http.StatusBadRequest, invalidRequestCode, "malformed body")
		return
	}
	zone, err := h.zones.Create(c.Request.Context(), zoneActor(actor), zones.ZoneInput{
		SubjectUserID: request.ChildID,
		Center:        geo.Point{Latitude: request.Latitude, Longitude: request.Longitude},
		RadiusMeters:  request.RadiusMeters,
		Name:          request.Name,
	})
	if err != nil {
		h.respondZoneError(c, opHTTPZonesCreate, err)
		return
	}
	respondData(c, http.StatusCreated, zone)
}

func (h *httpHandler) handleUpdateZone(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		respondFailure(c, http.StatusUnauthorized, unauthorizedCode, "")
		return
	}
	var request updateZonePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondFailure(c, http.StatusBadRequest, invalidRequestCode, "malformed body")
		return
	}
	if (request.Latitude == nil) != (request.Longitude == nil) {
		respondFailure(c, http.StatusBadRequest, invalidLocationCode, "latitude and longitude must be supplied together")
		return
	}
	patch := zones.ZonePatch{RadiusMeters: request.RadiusMeters, Name: request.Name}
	if request.Latitude != nil {
		patch.Center = &geo.Point{Latitude: *request.Latitude, Longitude: *request.Longitude}
	}
	zone, err := h.zones.Update(c.Request.Context(), zoneActor(actor), c.Param("zoneId"), patch)
	if err != nil {
		h.respondZoneError(c, opHTTPZonesUpdate, err)
		return
	}
	respondData(c, http.StatusOK, zone)
}

func (h *httpHandler) handleDeleteZone(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		respondFailure(c, http.StatusUnauthorized, unauthorizedCode, "")
		return
	}
	if err := h.zones.Delete(c.Request.Context(), zoneActor(actor), c.Param("zoneId")); err != nil {
		h.respondZoneError(c, opHTTPZonesDelete, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
