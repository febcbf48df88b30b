// internal/domain/geo/service.go

package geo

import (
	"context"
	"time"
)

// AnchorSource supplies anchors near a position
type AnchorSource interface {
	// Name returns the name of the source
	Name() string

	// NearbyAnchors returns anchors within radiusMeters of position,
	// sorted by ascending distance by convention
	NearbyAnchors(ctx context.Context, position Position, radiusMeters float64) ([]Anchor, error)
}

// AnchorCache stores anchor batches keyed by tile
type AnchorCache interface {
	// GetAnchors returns a cached batch and whether it was present
	GetAnchors(ctx context.Context, key string) (*CachedAnchors, bool, error)

	// PutAnchors stores a batch under key, replacing any previous entry
	PutAnchors(ctx context.Context, key string, batch CachedAnchors) error
}

// CachedAnchors is a stored anchor batch with the time it was fetched
type CachedAnchors struct {
	Anchors   []Anchor
	FetchedAt time.Time
}
