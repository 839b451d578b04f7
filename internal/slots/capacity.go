package slots

import (
	"context"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// CapacityProvider reports whether a chef can take another order in a band.
type CapacityProvider interface {
	HasCapacity(ctx context.Context, chefID, date, bandID string) (bool, error)
}

// HashCapacity is a deterministic stand-in for chef-side availability: the same
// chef, date and band always hash to the same answer.
type HashCapacity struct {
	// AvailablePercent is the share of (chef, date, band) combinations with capacity.
	AvailablePercent uint64
}

func NewHashCapacity(availablePercent uint64) *HashCapacity {
	if availablePercent > 100 {
		availablePercent = 100
	}
	return &HashCapacity{AvailablePercent: availablePercent}
}

func (h *HashCapacity) HasCapacity(ctx context.Context, chefID, date, bandID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	sum := xxhash.Sum64String(chefID + "|" + date + "|" + bandID)
	return sum%100 < h.AvailablePercent, nil
}

type capacityKey struct {
	chefID string
	date   string
	bandID string
}

type chefCapacity struct {
	limit int
	held  int
}

// MemoryCapacity holds chef-defined limits per band and counts orders held
// against them. Bands without a configured limit defer to the fallback provider.
type MemoryCapacity struct {
	mu       sync.RWMutex
	limits   map[capacityKey]*chefCapacity
	fallback CapacityProvider
}

func NewMemoryCapacity(fallback CapacityProvider) *MemoryCapacity {
	return &MemoryCapacity{
		limits:   make(map[capacityKey]*chefCapacity),
		fallback: fallback,
	}
}

// SetLimit defines how many orders a chef accepts in a band on a date.
func (m *MemoryCapacity) SetLimit(chefID, date, bandID string, limit int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := capacityKey{chefID, date, bandID}
	if c, ok := m.limits[key]; ok {
		c.limit = limit
		return
	}
	m.limits[key] = &chefCapacity{limit: limit}
}

func (m *MemoryCapacity) HasCapacity(ctx context.Context, chefID, date, bandID string) (bool, error) {
	m.mu.RLock()
	c, ok := m.limits[capacityKey{chefID, date, bandID}]
	var free bool
	if ok {
		free = c.held < c.limit
	}
	m.mu.RUnlock()

	if ok {
		return free, nil
	}
	if m.fallback == nil {
		return true, nil
	}
	return m.fallback.HasCapacity(ctx, chefID, date, bandID)
}

// Hold takes one unit of capacity for every chef, all or nothing. Chefs without
// a configured limit are not counted.
func (m *MemoryCapacity) Hold(chefIDs []string, date, bandID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, chefID := range chefIDs {
		if c, ok := m.limits[capacityKey{chefID, date, bandID}]; ok && c.held >= c.limit {
			return fmt.Errorf("chef %s has no capacity for %s %s", chefID, date, bandID)
		}
	}
	for _, chefID := range chefIDs {
		if c, ok := m.limits[capacityKey{chefID, date, bandID}]; ok {
			c.held++
		}
	}
	return nil
}

// Release returns capacity taken by Hold.
func (m *MemoryCapacity) Release(chefIDs []string, date, bandID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, chefID := range chefIDs {
		if c, ok := m.limits[capacityKey{chefID, date, bandID}]; ok && c.held > 0 {
			c.held--
		}
	}
}
