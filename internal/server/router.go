// Package server exposes the territory arbitrator, grid, and geozone directory over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/territory/internal/auth"
	"github.com/MarcoPoloResearchLab/territory/internal/geofence"
	"github.com/MarcoPoloResearchLab/territory/internal/territory"
	"github.com/MarcoPoloResearchLab/territory/internal/users"
	"github.com/MarcoPoloResearchLab/territory/internal/zones"
)

const (
	actorContextKey          = "territory_actor"
	accessTokenQueryParam    = "access_token"
	defaultHeartbeatInterval = 25 * time.Second
	defaultMaxNeighborRadius = 25
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingActorResolver    = errors.New("actor resolver dependency required")
	errMissingTerritoryService = errors.New("territory service dependency required")
	errMissingZoneDirectory    = errors.New("zone directory dependency required")
	errMissingReplica          = errors.New("replica dependency required")
)

// SessionValidator authenticates requests carrying a session token.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
	ValidateToken(token string) (auth.SessionClaims, error)
}

// ActorResolver maps validated claims onto the actor an operation runs as.
type ActorResolver interface {
	ResolveActor(claims auth.SessionClaims) (territory.Actor, error)
}

// TerritoryService is the arbitrator surface the handlers drive.
type TerritoryService interface {
	Claim(ctx context.Context, request territory.ClaimRequest) (territory.Record, error)
	Release(ctx context.Context, request territory.ReleaseRequest) (territory.Record, error)
	UpdateActivity(ctx context.Context, request territory.ActivityRequest) (territory.Record, error)
	GetTerritory(ctx context.Context, cellID string) (territory.Record, error)
	ListTerritories(ctx context.Context, filter territory.Filter) ([]territory.Record, error)
	DisplayStatus(record territory.Record) territory.Status
}

// ZoneDirectory manages the geozones parents assign to restricted users.
type ZoneDirectory interface {
	Create(ctx context.Context, actor zones.Actor, input zones.ZoneInput) (geofence.Zone, error)
	Update(ctx context.Context, actor zones.Actor, zoneID string, patch zones.ZonePatch) (geofence.Zone, error)
	Delete(ctx context.Context, actor zones.Actor, zoneID string) error
	ListByOwner(ctx context.Context, ownerUserID string) ([]geofence.Zone, error)
	ZonesForSubject(ctx context.Context, subjectUserID string) ([]geofence.Zone, error)
}

// Dependencies wires the HTTP handler. Realtime, MetricsHandler, and Logger are optional.
type Dependencies struct {
	Sessions          SessionValidator
	Actors            ActorResolver
	Territories       TerritoryService
	Zones             ZoneDirectory
	Realtime          *RealtimeDispatcher
	MetricsHandler    http.Handler
	MaxNeighborRadius int
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

// NewHTTPHandler builds the gin engine serving the territory API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Actors == nil {
		return nil, errMissingActorResolver
	}
	if deps.Territories == nil {
		return nil, errMissingTerritoryService
	}
	if deps.Zones == nil {
		return nil, errMissingZoneDirectory
	}

	handler := &httpHandler{
		sessions:          deps.Sessions,
		actors:            deps.Actors,
		territories:       deps.Territories,
		zones:             deps.Zones,
		realtime:          deps.Realtime,
		maxNeighborRadius: deps.MaxNeighborRadius,
		heartbeatInterval: deps.HeartbeatInterval,
		logger:            deps.Logger,
	}
	if handler.realtime == nil {
		handler.realtime = NewRealtimeDispatcher()
	}
	if handler.maxNeighborRadius <= 0 {
		handler.maxNeighborRadius = defaultMaxNeighborRadius
	}
	if handler.heartbeatInterval <= 0 {
		handler.heartbeatInterval = defaultHeartbeatInterval
	}
	if handler.logger == nil {
		handler.logger = zap.NewNop()
	}

	router := newBaseRouter(deps.MetricsHandler)

	grid := router.Group("/v1/grid")
	grid.GET("/locate", handler.handleLocate)
	grid.GET("/cells/:cellId/neighbors", handler.handleNeighbors)
	grid.GET("/cells/:cellId/boundary", handler.handleBoundary)

	protected := router.Group("/v1")
	protected.Use(handler.authorizeRequest)

	territories := protected.Group("/territories")
	territories.GET("", handler.handleListTerritories)
	territories.GET("/stream", handler.handleTerritoryStream)
	territories.GET("/:cellId", handler.handleGetTerritory)
	territories.POST("/claim", handler.handleClaim)
	territories.POST("/release", handler.handleRelease)
	territories.POST("/activity", handler.handleActivity)

	geofences := protected.Group("/geofences")
	geofences.GET("", handler.handleListZones)
	geofences.GET("/child/:childId", handler.handleListChildZones)
	geofences.POST("", handler.handleCreateZone)
	geofences.PUT("/:zoneId", handler.handleUpdateZone)
	geofences.DELETE("/:zoneId", handler.handleDeleteZone)

	return router, nil
}

func newBaseRouter(metricsHandler http.Handler) *gin.Engine {
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(metricsHandler))
	return router
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc:  func(string) bool { return true },
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Last-Event-ID", "X-TAuth-Tenant"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	sessions          SessionValidator
	actors            ActorResolver
	territories       TerritoryService
	zones             ZoneDirectory
	realtime          *RealtimeDispatcher
	maxNeighborRadius int
	heartbeatInterval time.Duration
	logger            *zap.Logger
}

// authorizeRequest validates the session cookie or bearer token. Streams may pass the token as a
// query parameter since EventSource cannot set headers.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	var (
		claims auth.SessionClaims
		err    error
	)
	if token := strings.TrimSpace(c.Query(accessTokenQueryParam)); token != "" {
		claims, err = h.sessions.ValidateToken(token)
	} else {
		claims, err = h.sessions.ValidateRequest(c.Request)
	}
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) {
			h.logger.Info("session validation failed", zap.Error(err))
		} else {
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": unauthorizedCode})
		return
	}

	actor, err := h.actors.ResolveActor(claims)
	if err != nil {
		if errors.Is(err, users.ErrInvalidIdentity) {
			h.logger.Warn("actor resolution rejected claims", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": unauthorizedCode})
			return
		}
		h.logger.Error("actor resolution failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": internalErrorCode})
		return
	}
	c.Set(actorContextKey, actor)
	c.Next()
}

func currentActor(c *gin.Context) (territory.Actor, bool) {
	value, ok := c.Get(actorContextKey)
	if !ok {
		return territory.Actor{}, false
	}
	actor, ok := value.(territory.Actor)
	return actor, ok && actor.UserID != ""
}
