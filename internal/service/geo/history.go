package geo

import (
	"sync"

	"latent/internal/domain/geo"
)

// PositionHistory keeps the most recent positions, evicting the oldest
type PositionHistory struct {
	mu       sync.RWMutex
	items    []geo.Position
	capacity int
}

// NewPositionHistory creates a history holding at most capacity positions
func NewPositionHistory(capacity int) *PositionHistory {
	if capacity <= 0 {
		capacity = 1
	}
	return &PositionHistory{
		items:    make([]geo.Position, 0, capacity),
		capacity: capacity,
	}
}

// Add appends a position, evicting the oldest when full
func (h *PositionHistory) Add(p geo.Position) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.items) == h.capacity {
		copy(h.items, h.items[1:])
		h.items = h.items[:len(h.items)-1]
	}
	h.items = append(h.items, p)
}

// Latest returns the most recent position
func (h *PositionHistory) Latest() (geo.Position, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.items) == 0 {
		return geo.Position{}, false
	}
	return h.items[len(h.items)-1], true
}

// Snapshot returns the positions oldest first
func (h *PositionHistory) Snapshot() []geo.Position {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]geo.Position, len(h.items))
	copy(out, h.items)
	return out
}

// Len returns the number of stored positions
func (h *PositionHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.items)
}
