package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/territory/internal/grid"
	"github.com/MarcoPoloResearchLab/territory/internal/territory"
)

// ReplicaReader is the read model a follower keeps converged from the change feed.
type ReplicaReader interface {
	Get(cellID grid.CellID) (territory.Record, bool)
	List(filter territory.Filter) []territory.Record
	Len() int
}

// ReplicaDependencies wires the read-only replica handler.
type ReplicaDependencies struct {
	Replica        ReplicaReader
	MetricsHandler http.Handler
	Logger         *zap.Logger
}

type replicaHandler struct {
	replica ReplicaReader
	logger  *zap.Logger
}

// NewReplicaHandler serves the follower's reconciled records without authentication or writes.
func NewReplicaHandler(deps ReplicaDependencies) (http.Handler, error) {
	if deps.Replica == nil {
		return nil, errMissingReplica
	}
	handler := &replicaHandler{replica: deps.Replica, logger: deps.Logger}
	if handler.logger == nil {
		handler.logger = zap.NewNop()
	}

	router := newBaseRouter(deps.MetricsHandler)
	replica := router.Group("/v1/replica/territories")
	replica.GET("", handler.handleList)
	replica.GET("/:cellId", handler.handleGet)
	return router, nil
}

func (h *replicaHandler) handleList(c *gin.Context) {
	filter, filterErr := parseListFilter(c, "")
	if filterErr != nil {
		respondFailure(c, http.StatusBadRequest, filterErr.code, filterErr.detail)
		return
	}
	records := h.replica.List(filter)
	payloads := make([]territoryPayload, 0, len(records))
	for _, record := range records {
		payloads = append(payloads, presentTerritory(record, record.Status))
	}
	respondList(c, payloads)
}

func (h *replicaHandler) handleGet(c *gin.Context) {
	cell, ok := parseCellParam(c)
	if !ok {
		return
	}
	record, found := h.replica.Get(cell.ID())
	if !found {
		record = territory.UnclaimedRecord(cell.ID())
	}
	respondData(c, http.StatusOK, presentTerritory(record, record.Status))
}
