package territory

import (
	"context"
	"time"

	"github.com/MarcoPoloResearchLab/territory/internal/grid"
)

// Mutation proposes the next record given the current one. Returning an error aborts the
// transition and leaves the stored record unchanged.
type Mutation func(current Record) (Record, error)

// Store is the authoritative ownership table. Transition is the only write path; implementations
// serialize it per cell and must not block transitions on other cells.
type Store interface {
	Get(ctx context.Context, cellID grid.CellID) (Record, bool, error)
	Transition(ctx context.Context, cellID grid.CellID, expected Status, mutate Mutation) (Record, error)
	List(ctx context.Context, filter Filter) ([]Record, error)
}

const (
	opStoreGet        = "territory.store.get"
	opStoreTransition = "territory.store.transition"
	opStoreList       = "territory.store.list"
)

// ApplyTransition runs the compare-and-transition step against an already locked current record.
// It returns a *ConflictError when the status differs from expected, the mutation's own error when
// it rejects, and otherwise the sealed next record with a bumped version and updatedAt.
func ApplyTransition(current Record, expected Status, mutate Mutation, now time.Time) (Record, error) {
	if current.Status != expected {
		return Record{}, &ConflictError{Expected: expected, Current: current}
	}
	next, err := mutate(current)
	if err != nil {
		return Record{}, err
	}
	next.CellID = current.CellID
	next.Version = current.Version + 1
	next.UpdatedAt = nextUpdatedAt(current.UpdatedAt, now)
	if err := next.checkInvariants(); err != nil {
		return Record{}, err
	}
	return next, nil
}

// nextUpdatedAt keeps updatedAt strictly increasing per cell at microsecond precision.
func nextUpdatedAt(previous, now time.Time) time.Time {
	candidate := now.UTC().Truncate(time.Microsecond)
	if previous.IsZero() {
		return candidate
	}
	floor := previous.UTC().Truncate(time.Microsecond).Add(time.Microsecond)
	if candidate.Before(floor) {
		return floor
	}
	return candidate
}

func resolveClock(clock func() time.Time) func() time.Time {
	if clock == nil {
		return time.Now
	}
	return clock
}
