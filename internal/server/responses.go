package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/territory/internal/geo"
	"github.com/MarcoPoloResearchLab/territory/internal/grid"
	"github.com/MarcoPoloResearchLab/territory/internal/territory"
	"github.com/MarcoPoloResearchLab/territory/internal/zones"
)

const (
	internalErrorCode   = "INTERNAL_ERROR"
	unauthorizedCode    = "UNAUTHORIZED"
	zoneInvalidCode     = "INVALID_ZONE"
	zoneNotFoundCode    = "ZONE_NOT_FOUND"
	zoneNotOwnerCode    = "NOT_ZONE_OWNER"
	zoneRestrictedCode  = "RESTRICTED_ACTOR"
	invalidRequestCode  = string(territory.CodeInvalidRequest)
	invalidCellCode     = string(territory.CodeInvalidCell)
	invalidLocationCode = string(territory.CodeInvalidCoordinate)
)

var statusByCode = map[territory.Code]int{
	territory.CodeInvalidCell:        http.StatusBadRequest,
	territory.CodeInvalidCoordinate:  http.StatusBadRequest,
	territory.CodeInvalidState:       http.StatusBadRequest,
	territory.CodeInvalidRequest:     http.StatusBadRequest,
	territory.CodeGeozoneOutOfBounds: http.StatusForbidden,
	territory.CodeNotOwner:           http.StatusForbidden,
	territory.CodeAlreadyClaimed:     http.StatusConflict,
	territory.CodeNotClaimed:         http.StatusConflict,
	territory.CodeStaleWrite:         http.StatusConflict,
}

// territoryPayload is the wire form of a record; Status carries the displayed label.
type territoryPayload struct {
	territory.Record
	Status territory.Status `json:"status"`
	Center geo.Point        `json:"center"`
}

func presentTerritory(record territory.Record, label territory.Status) territoryPayload {
	payload := territoryPayload{Record: record, Status: label}
	if center, err := grid.Center(record.CellID); err == nil {
		payload.Center = center
	}
	return payload
}

func (h *httpHandler) present(record territory.Record) territoryPayload {
	return presentTerritory(record, h.territories.DisplayStatus(record))
}

func respondData(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

func respondList[T any](c *gin.Context, items []T) {
	if items == nil {
		items = []T{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": items, "count": len(items)})
}

func respondFailure(c *gin.Context, status int, code, detail string) {
	body := gin.H{"success": false, "error": code}
	if detail != "" {
		body["detail"] = detail
	}
	c.JSON(status, body)
}

// respondTerritoryError maps arbitration outcomes onto HTTP statuses and logs infrastructure failures.
func (h *httpHandler) respondTerritoryError(c *gin.Context, operation string, err error) {
	if arbitrationErr, ok := territory.AsArbitrationError(err); ok {
		status, known := statusByCode[arbitrationErr.Code]
		if !known {
			status = http.StatusBadRequest
		}
		body := gin.H{"success": false, "error": string(arbitrationErr.Code)}
		if arbitrationErr.Detail != "" {
			body["detail"] = arbitrationErr.Detail
		}
		if current := arbitrationErr.Current; current != nil {
			if current.OwnerID != "" {
				body["owner_id"] = current.OwnerID
			}
			if current.CategoryID != "" {
				body["category_id"] = current.CategoryID
			}
		}
		h.logger.Debug("territory request rejected",
			zap.String("operation", operation),
			zap.String("code", string(arbitrationErr.Code)))
		c.JSON(status, body)
		return
	}
	h.respondInternal(c, operation, err)
}

func (h *httpHandler) respondZoneError(c *gin.Context, operation string, err error) {
	switch {
	case errors.Is(err, zones.ErrInvalidZone):
		respondFailure(c, http.StatusBadRequest, zoneInvalidCode, err.Error())
	case errors.Is(err, zones.ErrZoneNotFound):
		respondFailure(c, http.StatusNotFound, zoneNotFoundCode, "")
	case errors.Is(err, zones.ErrNotZoneOwner):
		respondFailure(c, http.StatusForbidden, zoneNotOwnerCode, "")
	case errors.Is(err, zones.ErrRestrictedActor):
		respondFailure(c, http.StatusForbidden, zoneRestrictedCode, "")
	default:
		h.respondInternal(c, operation, err)
	}
}

type codedError interface {
	Code() string
}

func (h *httpHandler) respondInternal(c *gin.Context, operation string, err error) {
	body := gin.H{"success": false, "error": internalErrorCode}
	var coded codedError
	if errors.As(err, &coded) {
		body["code"] = coded.Code()
	}
	h.logger.Error("request failed", zap.String("operation", operation), zap.Error(err))
	c.JSON(http.StatusInternalServerError, body)
}
