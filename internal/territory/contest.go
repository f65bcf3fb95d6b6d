package territory

import (
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/territory/internal/grid"
)

// ContestTracker remembers recent rejected competing claims so that presentation layers can
// label a claimed cell as contested. It never affects stored state.
type ContestTracker struct {
	mu       sync.Mutex
	window   time.Duration
	clock    func() time.Time
	rejected map[grid.CellID]time.Time
}

// NewContestTracker builds a tracker. A non-positive window disables labelling.
func NewContestTracker(window time.Duration, clock func() time.Time) *ContestTracker {
	return &ContestTracker{
		window:   window,
		clock:    resolveClock(clock),
		rejected: make(map[grid.CellID]time.Time),
	}
}

// RecordRejection notes a rejected competing claim on the cell.
func (t *ContestTracker) RecordRejection(cellID grid.CellID) {
	if t == nil || t.window <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock()
	t.rejected[cellID] = now
	for candidate, at := range t.rejected {
		if now.Sub(at) > t.window {
			delete(t.rejected, candidate)
		}
	}
}

// IsContested reports whether a competing claim on the cell was rejected within the window.
func (t *ContestTracker) IsContested(cellID grid.CellID) bool {
	if t == nil || t.window <= 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	at, ok := t.rejected[cellID]
	if !ok {
		return false
	}
	if t.clock().Sub(at) > t.window {
		delete(t.rejected, cellID)
		return false
	}
	return true
}

// Label returns the display status for the record.
func (t *ContestTracker) Label(record Record) Status {
	if record.Status == StatusClaimed && t.IsContested(record.CellID) {
		return StatusContested
	}
	return record.Status
}
