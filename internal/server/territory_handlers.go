package server

import (
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/territory/internal/geo"
	"github.com/MarcoPoloResearchLab/territory/internal/territory"
)

const (
	opHTTPList     = "http.territories.list"
	opHTTPGet      = "http.territories.get"
	opHTTPClaim    = "http.territories.claim"
	opHTTPRelease  = "http.territories.release"
	opHTTPActivity = "http.territories.activity"

	scopeMine = "mine"

	defaultListRadiusMeters = 1000.0
)

// claimRequestPayload accepts userId for compatibility with existing clients; the session decides the actor.
type claimRequestPayload struct {
	CellID     string   `json:"cellId"`
	CategoryID string   `json:"categoryId"`
	UserID     string   `json:"userId"`
	Latitude   *float64 `json:"latitude"`
	Longitude  *float64 `json:"longitude"`
}

type cellRequestPayload struct {
	CellID string `json:"cellId"`
	UserID string `json:"userId"`
}

// listFilterError carries the failure code for a malformed listing query.
type listFilterError struct {
	code   string
	detail string
}

// parseListFilter reads the listing query parameters. actorUserID is empty when scope=mine cannot apply.
func parseListFilter(c *gin.Context, actorUserID string) (territory.Filter, *listFilterError) {
	filter := territory.Filter{
		CategoryID: strings.TrimSpace(c.Query("categoryId")),
	}

	status, err := territory.ParseStatus(c.Query("status"))
	if err != nil {
		return territory.Filter{}, &listFilterError{code: invalidRequestCode, detail: err.Error()}
	}
	filter.Status = status

	switch scope := strings.ToLower(strings.TrimSpace(c.Query("scope"))); scope {
	case "", "all":
	case scopeMine:
		if actorUserID == "" {
			return territory.Filter{}, &listFilterError{code: invalidRequestCode, detail: "scope=mine requires a session"}
		}
		filter.OwnerID = actorUserID
	default:
		return territory.Filter{}, &listFilterError{code: invalidRequestCode, detail: "unknown scope " + strconv.Quote(scope)}
	}

	rawLatitude, hasLatitude := c.GetQuery("latitude")
	rawLongitude, hasLongitude := c.GetQuery("longitude")
	if hasLatitude != hasLongitude {
		return territory.Filter{}, &listFilterError{code: invalidLocationCode, detail: "latitude and longitude must be supplied together"}
	}
	if hasLatitude {
		latitude, latErr := strconv.ParseFloat(strings.TrimSpace(rawLatitude), 64)
		longitude, lngErr := strconv.ParseFloat(strings.TrimSpace(rawLongitude), 64)
		if latErr != nil || lngErr != nil {
			return territory.Filter{}, &listFilterError{code: invalidLocationCode, detail: "latitude and longitude must be numbers"}
		}
		point, err := geo.NewPoint(latitude, longitude)
		if err != nil {
			return territory.Filter{}, &listFilterError{code: invalidLocationCode, detail: err.Error()}
		}
		radius := defaultListRadiusMeters
		if rawRadius := strings.TrimSpace(c.Query("radius")); rawRadius != "" {
			parsed, err := strconv.ParseFloat(rawRadius, 64)
			if err != nil || parsed < 0 || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
				return territory.Filter{}, &listFilterError{code: invalidRequestCode, detail: "radius must be a finite non-negative number of meters"}
			}
			radius = parsed
		}
		filter.Near = &territory.Near{Point: point, RadiusMeters: radius}
	}
	return filter, nil
}

func (h *httpHandler) handleListTerritories(c *gin.Context) {
	actor, _ := currentActor(c)
	filter, filterErr := parseListFilter(c, actor.UserID.String())
	if filterErr != nil {
		respondFailure(c, http.StatusBadRequest, filterErr.code, filterErr.detail)
		return
	}
	records, err := h.territories.ListTerritories(c.Request.Context(), filter)
	if err != nil {
		h.respondTerritoryError(c, opHTTPList, err)
		return
	}
	payloads := make([]territoryPayload, 0, len(records))
	for _, record := range records {
		payloads = append(payloads, h.present(record))
	}
	respondList(c, payloads)
}

func (h *httpHandler) handleGetTerritory(c *gin.Context) {
	record, err := h.territories.GetTerritory(c.Request.Context(), c.Param("cellId"))
	if err != nil {
		h.respondTerritoryError(c, opHTTPGet, err)
		return
	}
	respondData(c, http.StatusOK, h.present(record))
}

func (h *httpHandler) handleClaim(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		respondFailure(c, http.StatusUnauthorized, unauthorizedCode, "")
		return
	}
	var request claimRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondFailure(c, http.StatusBadRequest, invalidRequestCode, "malformed body")
		return
	}
	if (request.Latitude == nil) != (request.Longitude == nil) {
		respondFailure(c, http.StatusBadRequest, invalidLocationCode, "latitude and longitude must be supplied together")
		return
	}
	var location *geo.Point
	if request.Latitude != nil {
		location = &geo.Point{Latitude: *request.Latitude, Longitude: *request.Longitude}
	}
	record, err := h.territories.Claim(c.Request.Context(), territory.ClaimRequest{
		CellID:     request.CellID,
		Actor:      actor,
		CategoryID: request.CategoryID,
		Location:   location,
	})
	if err != nil {
		h.respondTerritoryError(c, opHTTPClaim, err)
		return
	}
	respondData(c, http.StatusOK, h.present(record))
}

func (h *httpHandler) handleRelease(c *gin.Context) {
	actor, request, ok := h.bindCellRequest(c)
	if !ok {
		return
	}
	record, err := h.territories.Release(c.Request.Context(), territory.ReleaseRequest{CellID: request.CellID, Actor: actor})
	if err != nil {
		h.respondTerritoryError(c, opHTTPRelease, err)
		return
	}
	respondData(c, http.StatusOK, h.present(record))
}

func (h *httpHandler) handleActivity(c *gin.Context) {
	actor, request, ok := h.bindCellRequest(c)
	if !ok {
		return
	}
	record, err := h.territories.UpdateActivity(c.Request.Context(), territory.ActivityRequest{CellID: request.CellID, Actor: actor})
	if err != nil {
		h.respondTerritoryError(c, opHTTPActivity, err)
		return
	}
	respondData(c, http.StatusOK, h.present(record))
}

func (h *httpHandler) bindCellRequest(c *gin.Context) (territory.Actor, cellRequestPayload, bool) {
	actor, ok := currentActor(c)
	if !ok {
		respondFailure(c, http.StatusUnauthorized, unauthorizedCode, "")
		return territory.Actor{}, cellRequestPayload{}, false
	}
	var request cellRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		respondFailure(c, http.StatusBadRequest, invalidRequestCode, "malformed body")
		return territory.Actor{}, cellRequestPayload{}, false
	}
	return actor, request, true
}

// handleTerritoryStream pushes every committed record as a server-sent event.
func (h *httpHandler) handleTerritoryStream(c *gin.Context) {
	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx)
	defer cleanup()

	categoryID := strings.TrimSpace(c.Query("categoryId"))

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.SSEvent(realtimeEventHeartbeat, gin.H{"source": realtimeSourceBackend, "timestamp": time.Now().UTC()})
	c.Writer.Flush()

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case record, open := <-stream:
			if !open {
				return false
			}
			if categoryID != "" && record.CategoryID != categoryID {
				return true
			}
			c.SSEvent(RealtimeEventTerritoryChanged, h.present(record))
			return true
		case tick := <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"source": realtimeSourceBackend, "timestamp": tick.UTC()})
			return true
		}
	})
	h.logger.Debug("territory stream closed", zap.Error(ctx.Err()))
}
