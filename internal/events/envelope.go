// Package events carries committed territory records between processes over Kafka.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MarcoPoloResearchLab/territory/internal/grid"
	"github.com/MarcoPoloResearchLab/territory/internal/territory"
)

// EventTypeTerritoryChanged marks an envelope carrying a committed record.
const EventTypeTerritoryChanged = "territory.changed"

// ErrInvalidEnvelope indicates a payload that cannot be applied to a replica.
var ErrInvalidEnvelope = errors.New("events: invalid envelope")

// Envelope is the change-feed payload.
type Envelope struct {
	EventID    string           `json:"event_id"`
	EventType  string           `json:"event_type"`
	OccurredAt time.Time        `json:"occurred_at"`
	Record     territory.Record `json:"record"`
}

// NewEventID issues a UUIDv7 event identifier.
func NewEventID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// DecodeEnvelope parses and validates a change-feed payload.
func DecodeEnvelope(payload []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if envelope.EventType != EventTypeTerritoryChanged {
		return Envelope{}, fmt.Errorf("%w: unexpected event type %q", ErrInvalidEnvelope, envelope.EventType)
	}
	if _, err := grid.Parse(envelope.Record.CellID.String()); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if envelope.Record.UpdatedAt.IsZero() {
		return Envelope{}, fmt.Errorf("%w: missing updatedAt", ErrInvalidEnvelope)
	}
	return envelope, nil
}
