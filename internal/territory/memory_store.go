package territory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/territory/internal/grid"
)

type memoryCell struct {
	mu      sync.Mutex
	record  Record
	present bool
}

// MemoryStore keeps the ownership table in process memory with one lock per cell.
type MemoryStore struct {
	clock func() time.Time
	cells sync.Map
}

// NewMemoryStore constructs an empty in-memory store. A nil clock uses time.Now.
func NewMemoryStore(clock func() time.Time) *MemoryStore {
	return &MemoryStore{clock: resolveClock(clock)}
}

// Get returns the stored record for the cell.
func (s *MemoryStore) Get(ctx context.Context, cellID grid.CellID) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, newServiceError(opStoreGet, "context_done", err)
	}
	value, ok := s.cells.Load(cellID)
	if !ok {
		return Record{}, false, nil
	}
	cell := value.(*memoryCell)
	cell.mu.Lock()
	defer cell.mu.Unlock()
	return cell.record, cell.present, nil
}

// Transition atomically compares and transitions the record for the cell.
func (s *MemoryStore) Transition(ctx context.Context, cellID grid.CellID, expected Status, mutate Mutation) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, newServiceError(opStoreTransition, "context_done", err)
	}
	value, _ := s.cells.LoadOrStore(cellID, &memoryCell{})
	cell := value.(*memoryCell)
	cell.mu.Lock()
	defer cell.mu.Unlock()

	current := cell.record
	if !cell.present {
		current = UnclaimedRecord(cellID)
	}
	next, err := ApplyTransition(current, expected, mutate, s.clock())
	if err != nil {
		return Record{}, err
	}
	cell.record = next
	cell.present = true
	return next, nil
}

// List returns every stored record matching the filter, ordered by cell id.
func (s *MemoryStore) List(ctx context.Context, filter Filter) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, newServiceError(opStoreList, "context_done", err)
	}
	cover, narrowed := filter.Cover()
	records := make([]Record, 0)
	s.cells.Range(func(key, value any) bool {
		if narrowed {
			parsed, err := grid.Parse(key.(grid.CellID).String())
			if err != nil || !cover.Contains(parsed) {
				return true
			}
		}
		cell := value.(*memoryCell)
		cell.mu.Lock()
		record, present := cell.record, cell.present
		cell.mu.Unlock()
		if present && filter.Matches(record) {
			records = append(records, record)
		}
		return true
	})
	sort.Slice(records, func(i, j int) bool {
		return records[i].CellID < records[j].CellID
	})
	return records, nil
}
