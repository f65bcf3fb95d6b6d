package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/territory/internal/auth"
	"github.com/MarcoPoloResearchLab/territory/internal/territory"
	"github.com/MarcoPoloResearchLab/territory/internal/users"
	"github.com/MarcoPoloResearchLab/territory/internal/zones"
)

const (
	testSigningSecret = "test-signing-secret"
	testCookieName    = "app_session"
	testIssuer        = "tauth"
)

var databaseSequence atomic.Int64

type testAPI struct {
	handler    http.Handler
	dispatcher *RealtimeDispatcher
	zones      *zones.Service
}

type testAPIOptions struct {
	logger            *zap.Logger
	heartbeatInterval time.Duration
}

func newTestAPI(t *testing.T, options testAPIOptions) testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:server_test_%d?mode=memory&cache=shared", databaseSequence.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&users.Identity{}, &zones.StoredZone{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	zoneService, err := zones.NewService(zones.ServiceConfig{Database: db, IDProvider: zones.NewUUIDProvider()})
	if err != nil {
		t.Fatalf("failed to construct zone service: %v", err)
	}
	userService, err := users.NewService(users.ServiceConfig{Database: db, RestrictedRoles: []string{"child"}})
	if err != nil {
		t.Fatalf("failed to construct user service: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		CookieName:    testCookieName,
	})
	if err != nil {
		t.Fatalf("failed to construct session validator: %v", err)
	}

	dispatcher := NewRealtimeDispatcher()
	territoryService, err := territory.NewService(territory.ServiceConfig{
		Store:     territory.NewMemoryStore(nil),
		Zones:     zoneService,
		Publisher: dispatcher,
		Contest:   territory.NewContestTracker(time.Minute, nil),
	})
	if err != nil {
		t.Fatalf("failed to construct territory service: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Sessions:          validator,
		Actors:            userService,
		Territories:       territoryService,
		Zones:             zoneService,
		Realtime:          dispatcher,
		MaxNeighborRadius: 3,
		HeartbeatInterval: options.heartbeatInterval,
		Logger:            options.logger,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	return testAPI{handler: handler, dispatcher: dispatcher, zones: zoneService}
}

func signSession(t *testing.T, userID string, roles ...string) string {
	t.Helper()
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to construct token issuer: %v", err)
	}
	token, _, err := issuer.Issue(auth.SessionIdentity{UserID: userID, Roles: roles})
	if err != nil {
		t.Fatalf("failed to sign session: %v", err)
	}
	return token
}

type apiResponse struct {
	Success    bool            `json:"success"`
	Data       json.RawMessage `json:"data"`
	Count      int             `json:"count"`
	Error      string          `json:"error"`
	Detail     string          `json:"detail"`
	OwnerID    string          `json:"owner_id"`
	CategoryID string          `json:"category_id"`
	Code       string          `json:"code"`
}

type territoryView struct {
	CellID        string `json:"cellId"`
	CategoryID    string `json:"categoryId"`
	Status        string `json:"status"`
	OwnerID       string `json:"ownerId"`
	ActivityCount int64  `json:"activityCount"`
	Version       int64  `json:"version"`
	Center        struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"center"`
}

func (api testAPI) do(t *testing.T, method, path, token string, body interface{}) (int, apiResponse) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	api.handler.ServeHTTP(recorder, request)

	var response apiResponse
	if recorder.Body.Len() > 0 {
		if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
			t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
		}
	}
	return recorder.Code, response
}

func decodeData[T any](t *testing.T, response apiResponse) T {
	t.Helper()
	var value T
	if err := json.Unmarshal(response.Data, &value); err != nil {
		t.Fatalf("failed to decode data %s: %v", string(response.Data), err)
	}
	return value
}
