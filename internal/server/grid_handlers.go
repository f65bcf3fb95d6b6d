package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/MarcoPoloResearchLab/territory/internal/geo"
	"github.com/MarcoPoloResearchLab/territory/internal/grid"
)

const defaultNeighborRadius = 1

type cellPayload struct {
	CellID     grid.CellID `json:"cellId"`
	Row        int64       `json:"row"`
	Col        int64       `json:"col"`
	Resolution int         `json:"resolution"`
	Center     geo.Point   `json:"center"`
	Boundary   []geo.Point `json:"boundary"`
}

func presentCell(cell grid.Cell) cellPayload {
	id := cell.ID()
	boundary, _ := grid.Boundary(id)
	return cellPayload{
		CellID:     id,
		Row:        cell.Row,
		Col:        cell.Col,
		Resolution: grid.Resolution,
		Center:     cell.Center(),
		Boundary:   boundary,
	}
}

func (h *httpHandler) handleLocate(c *gin.Context) {
	latitude, latErr := strconv.ParseFloat(strings.TrimSpace(c.Query("latitude")), 64)
	longitude, lngErr := strconv.ParseFloat(strings.TrimSpace(c.Query("longitude")), 64)
	if latErr != nil || lngErr != nil {
		respondFailure(c, http.StatusBadRequest, invalidLocationCode, "latitude and longitude are required numbers")
		return
	}
	id, err := grid.Locate(latitude, longitude)
	if err != nil {
		respondFailure(c, http.StatusBadRequest, invalidLocationCode, err.Error())
		return
	}
	cell, err := grid.Parse(id.String())
	if err != nil {
		h.respondInternal(c, "http.grid.locate", err)
		return
	}
	respondData(c, http.StatusOK, presentCell(cell))
}

func (h *httpHandler) handleNeighbors(c *gin.Context) {
	cell, ok := parseCellParam(c)
	if !ok {
		return
	}
	radius := defaultNeighborRadius
	if raw := strings.TrimSpace(c.Query("radius")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			respondFailure(c, http.StatusBadRequest, invalidRequestCode, "radius must be a non-negative integer")
			return
		}
		radius = parsed
	}
	if radius > h.maxNeighborRadius {
		respondFailure(c, http.StatusBadRequest, invalidRequestCode, "radius exceeds "+strconv.Itoa(h.maxNeighborRadius))
		return
	}
	neighbors, err := grid.Neighbors(cell.ID(), radius)
	if err != nil {
		respondFailure(c, http.StatusBadRequest, invalidRequestCode, err.Error())
		return
	}
	respondList(c, neighbors)
}

func (h *httpHandler) handleBoundary(c *gin.Context) {
	cell, ok := parseCellParam(c)
	if !ok {
		return
	}
	respondData(c, http.StatusOK, presentCell(cell))
}

func parseCellParam(c *gin.Context) (grid.Cell, bool) {
	cell, err := grid.Parse(c.Param("cellId"))
	if err != nil {
		respondFailure(c, http.StatusBadRequest, invalidCellCode, err.Error())
		return grid.Cell{}, false
	}
	return cell, true
}
