package server

import (
	"context"
	"sync"

	"github.com/MarcoPoloResearchLab/territory/internal/observability"
	"github.com/MarcoPoloResearchLab/territory/internal/territory"
)

const (
	RealtimeEventTerritoryChanged = "territory-change"
	realtimeEventHeartbeat        = "heartbeat"
	realtimeSourceBackend         = "territory-api"
	defaultRealtimeBufferSize     = 16
)

// RealtimeDispatcher broadcasts committed territory records to every open stream.
// A subscriber that falls behind loses records rather than blocking the arbitrator.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan territory.Record
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[int64]*realtimeSubscriber),
		bufferSize:  defaultRealtimeBufferSize,
	}
}

// Subscribe registers a stream that lives until ctx is done or the returned cleanup runs.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context) (<-chan territory.Record, func()) {
	subscriber := &realtimeSubscriber{
		stream: make(chan territory.Record, d.bufferSize),
	}
	d.registerSubscriber(subscriber)

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish implements territory.Publisher. It never blocks and never fails.
func (d *RealtimeDispatcher) Publish(_ context.Context, record territory.Record) error {
	if record.CellID == "" {
		return nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, subscriber := range d.subscribers {
		select {
		case subscriber.stream <- record:
		default:
		}
	}
	return nil
}

// SubscriberCount reports the number of open streams.
func (d *RealtimeDispatcher) SubscriberCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers)
}

func (d *RealtimeDispatcher) registerSubscriber(subscriber *realtimeSubscriber) {
	d.mu.Lock()
	d.nextID++
	subscriber.id = d.nextID
	d.subscribers[subscriber.id] = subscriber
	d.mu.Unlock()
	observability.SubscriberConnected()
}

// unregisterSubscriber holds the write lock while closing so Publish never sends on a closed stream.
func (d *RealtimeDispatcher) unregisterSubscriber(subscriberID int64) {
	d.mu.Lock()
	subscriber, ok := d.subscribers[subscriberID]
	if ok {
		delete(d.subscribers, subscriberID)
		close(subscriber.stream)
	}
	d.mu.Unlock()
	if ok {
		observability.SubscriberDisconnected()
	}
}
