package territory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/territory/internal/geofence"
	"github.com/MarcoPoloResearchLab/territory/internal/grid"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var databaseSequence atomic.Int64

type storeFactory struct {
	name  string
	build func(t *testing.T) Store
}

func storeFactories() []storeFactory {
	return []storeFactory{
		{name: "memory", build: func(t *testing.T) Store { return NewMemoryStore(nil) }},
		{name: "gorm", build: func(t *testing.T) Store { return newGormTestStore(t) }},
	}
}

func newGormTestStore(t *testing.T) *GormStore {
	t.Helper()
	dsn := fmt.Sprintf("file:territory_test_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), databaseSequence.Add(1))
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
	if err := db.AutoMigrate(&StoredTerritory{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	store, err := NewGormStore(GormStoreConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct gorm store: %v", err)
	}
	return store
}

func mustUserID(t *testing.T, value string) UserID {
	t.Helper()
	id, err := NewUserID(value)
	if err != nil {
		t.Fatalf("unexpected user id error: %v", err)
	}
	return id
}

func actor(t *testing.T, value string) Actor {
	t.Helper()
	return Actor{UserID: mustUserID(t, value)}
}

func restrictedActor(t *testing.T, value string) Actor {
	t.Helper()
	return Actor{UserID: mustUserID(t, value), GeofenceRestricted: true}
}

func mustArbitrationCode(t *testing.T, err error, expected Code) *ArbitrationError {
	t.Helper()
	arbitrationErr, ok := AsArbitrationError(err)
	if !ok {
		t.Fatalf("expected arbitration error %s, got %v", expected, err)
	}
	if arbitrationErr.Code != expected {
		t.Fatalf("expected code %s, got %s (%v)", expected, arbitrationErr.Code, err)
	}
	return arbitrationErr
}

type staticZones struct {
	zones []geofence.Zone
	err   error
}

func (z staticZones) ZonesForSubject(_ context.Context, subjectUserID string) ([]geofence.Zone, error) {
	if z.err != nil {
		return nil, z.err
	}
	return geofence.Restricting(subjectUserID, z.zones), nil
}

type recordingPublisher struct {
	mu      sync.Mutex
	records []Record
	err     error
}

func (p *recordingPublisher) Publish(_ context.Context, record Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, record)
	return p.err
}

func (p *recordingPublisher) published() []Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Record(nil), p.records...)
}

// countingStore counts every call reaching the wrapped store.
type countingStore struct {
	Store
	gets        atomic.Int64
	transitions atomic.Int64
}

func (s *countingStore) Get(ctx context.Context, cellID grid.CellID) (Record, bool, error) {
	s.gets.Add(1)
	return s.Store.Get(ctx, cellID)
}

func (s *countingStore) Transition(ctx context.Context, cellID grid.CellID, expected Status, mutate Mutation) (Record, error) {
	s.transitions.Add(1)
	return s.Store.Transition(ctx, cellID, expected, mutate)
}

// interleavingStore runs hook once between the arbitrator's read and its write.
type interleavingStore struct {
	Store
	once sync.Once
	hook func()
}

func (s *interleavingStore) Transition(ctx context.Context, cellID grid.CellID, expected Status, mutate Mutation) (Record, error) {
	s.once.Do(s.hook)
	return s.Store.Transition(ctx, cellID, expected, mutate)
}

type failingStore struct {
	Store
}

var errStoreUnavailable = errors.New("store unavailable")

func (failingStore) Get(context.Context, grid.CellID) (Record, bool, error) {
	return Record{}, false, errStoreUnavailable
}

func (failingStore) Transition(context.Context, grid.CellID, Status, Mutation) (Record, error) {
	return Record{}, errStoreUnavailable
}

func (failingStore) List(context.Context, Filter) ([]Record, error) {
	return nil, errStoreUnavailable
}

func newTestService(t *testing.T, store Store, zones ZoneSource, publisher Publisher) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{Store: store, Zones: zones, Publisher: publisher})
	if err != nil {
		t.Fatalf("failed to construct territory service: %v", err)
	}
	return service
}
