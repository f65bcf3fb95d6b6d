// Package reconcile merges asynchronously delivered territory snapshots into a local read model
// using last-write-wins on updatedAt.
package reconcile

import (
	"sort"
	"sync"

	"github.com/MarcoPoloResearchLab/territory/internal/grid"
	"github.com/MarcoPoloResearchLab/territory/internal/territory"
)

// Cache is a concurrency-safe replica of the ownership table. It never performs I/O.
type Cache struct {
	mu      sync.RWMutex
	records map[grid.CellID]territory.Record
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{records: make(map[grid.CellID]territory.Record)}
}

// Upsert merges the records and returns how many replaced a cached entry. An incoming record
// wins only when its updatedAt is strictly newer than the cached one.
func (c *Cache) Upsert(records ...territory.Record) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	applied := 0
	for _, incoming := range records {
		if incoming.CellID == "" {
			continue
		}
		cached, ok := c.records[incoming.CellID]
		if ok && !incoming.UpdatedAt.After(cached.UpdatedAt) {
			continue
		}
		c.records[incoming.CellID] = incoming
		applied++
	}
	return applied
}

// Remove evicts the cell and reports whether it was cached.
func (c *Cache) Remove(cellID grid.CellID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.records[cellID]
	delete(c.records, cellID)
	return ok
}

// Get returns the cached record for the cell.
func (c *Cache) Get(cellID grid.CellID) (territory.Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	record, ok := c.records[cellID]
	return record, ok
}

// List returns the cached records matching the filter, ordered by cell id.
func (c *Cache) List(filter territory.Filter) []territory.Record {
	c.mu.RLock()
	records := make([]territory.Record, 0, len(c.records))
	for _, record := range c.records {
		if filter.Matches(record) {
			records = append(records, record)
		}
	}
	c.mu.RUnlock()
	sort.Slice(records, func(i, j int) bool {
		return records[i].CellID < records[j].CellID
	})
	return records
}

// Len reports the number of cached cells.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}
