package geo

import (
	"time"
)

// Position is a single fix reported by the location source
type Position struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Heading   *float64  `json:"heading,omitempty"` // Compass degrees, nil when unknown
	Accuracy  float64   `json:"accuracy"`          // Meters
	Timestamp time.Time `json:"timestamp"`
}

// Anchor is a documented point of interest near the observer
type Anchor struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	DistanceMeters float64 `json:"distance_meters"`
}

// PhantomLocation is a synthetic coordinate derived from a set of anchors.
// AnchorTitles holds at most MaxPhantomAnchors entries.
type PhantomLocation struct {
	Latitude       float64  `json:"latitude"`
	Longitude      float64  `json:"longitude"`
	DriftMagnitude float64  `json:"drift_magnitude"`
	AnchorTitles   []string `json:"anchor_titles"`
}

// MaxPhantomAnchors caps how many anchor titles a phantom carries
const MaxPhantomAnchors = 5

// Coordinates is a bare latitude/longitude pair
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Coordinates returns the position's latitude/longitude pair
func (p Position) Coordinates() Coordinates {
	return Coordinates{Latitude: p.Latitude, Longitude: p.Longitude}
}

// Coordinates returns the anchor's latitude/longitude pair
func (a Anchor) Coordinates() Coordinates {
	return Coordinates{Latitude: a.Latitude, Longitude: a.Longitude}
}

// Coordinates returns the phantom's latitude/longitude pair
func (p PhantomLocation) Coordinates() Coordinates {
	return Coordinates{Latitude: p.Latitude, Longitude: p.Longitude}
}
