package phantom

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"latent/internal/domain/geo"
)

var (
	observer  = geo.Position{Latitude: 51.5074, Longitude: -0.1278}
	anchorsAB = []geo.Anchor{
		{ID: "a", Title: "A", Latitude: 51.5080, Longitude: -0.1270},
		{ID: "b", Title: "B", Latitude: 51.5068, Longitude: -0.1285},
	}
)

func TestSynthesizeDeterministicForSeed(t *testing.T) {
	first := NewSeededSynthesizer(1234, DefaultConfig()).Synthesize(observer, anchorsAB)
	second := NewSeededSynthesizer(1234, DefaultConfig()).Synthesize(observer, anchorsAB)

	assert.Equal(t, first, second)
	assert.Equal(t, []string{"A", "B"}, first.AnchorTitles)

	other := NewSeededSynthesizer(4321, DefaultConfig()).Synthesize(observer, anchorsAB)
	assert.NotEqual(t, first, other)
}

func TestSynthesizeLondonRegression(t *testing.T) {
	p := NewSeededSynthesizer(1234, DefaultConfig()).Synthesize(observer, anchorsAB)

	// pull toward the A/B centroid, pushed to the negative side of the
	// perpendicular, then jittered
	assert.InDelta(t, 51.507437870874625, p.Latitude, 1e-12)
	assert.InDelta(t, -0.12770521769539456, p.Longitude, 1e-12)
	assert.InDelta(t, 0.8532021311633299, p.DriftMagnitude, 1e-9)
	assert.Equal(t, []string{"A", "B"}, p.AnchorTitles)
}

func TestSynthesizeStaysNearPulledPoint(t *testing.T) {
	p := NewSeededSynthesizer(7, DefaultConfig()).Synthesize(observer, anchorsAB)

	// centroid of A and B, pulled 30% from the observer
	centroidLat := (51.5080 + 51.5068) / 2
	centroidLon := (-0.1270 - 0.1285) / 2
	pulledLat := observer.Latitude + 0.3*(centroidLat-observer.Latitude)
	pulledLon := observer.Longitude + 0.3*(centroidLon-observer.Longitude)

	deltaLat := centroidLat - observer.Latitude
	deltaLon := centroidLon - observer.Longitude
	maxOffset := math.Hypot(deltaLat, deltaLon)*DefaultConfig().PerpendicularScale + 2*DefaultConfig().DriftJitterDegrees

	assert.LessOrEqual(t, math.Hypot(p.Latitude-pulledLat, p.Longitude-pulledLon), maxOffset)
	assert.GreaterOrEqual(t, p.DriftMagnitude, 0.0)
}

func TestSynthesizeEmptyAnchors(t *testing.T) {
	s := NewSeededSynthesizer(99, DefaultConfig())

	for i := 0; i < 100; i++ {
		p := s.Synthesize(observer, nil)
		assert.LessOrEqual(t, math.Abs(p.Latitude-observer.Latitude), 0.001)
		assert.LessOrEqual(t, math.Abs(p.Longitude-observer.Longitude), 0.001)
		require.NotNil(t, p.AnchorTitles)
		assert.Empty(t, p.AnchorTitles)
	}
}

func TestSynthesizeTitlesCapped(t *testing.T) {
	var anchors []geo.Anchor
	for i := 0; i < 9; i++ {
		anchors = append(anchors, geo.Anchor{
			ID:        fmt.Sprint(i),
			Title:     fmt.Sprintf("Anchor %d", i),
			Latitude:  observer.Latitude + float64(i)*0.0003,
			Longitude: observer.Longitude - float64(i)*0.0002,
		})
	}

	p := NewSeededSynthesizer(3, DefaultConfig()).Synthesize(observer, anchors)
	assert.Equal(t, []string{"Anchor 0", "Anchor 1", "Anchor 2", "Anchor 3", "Anchor 4"}, p.AnchorTitles)
}

func TestSynthesizeNeverOnObserver(t *testing.T) {
	sets := [][]geo.Anchor{
		nil,
		anchorsAB,
		// a single anchor on top of the observer collapses every offset
		{{ID: "self", Title: "Here", Latitude: observer.Latitude, Longitude: observer.Longitude}},
	}

	zero := DefaultConfig()
	zero.EmptyJitterDegrees = 0
	zero.DriftJitterDegrees = 0

	for _, cfg := range []Config{DefaultConfig(), zero} {
		s := NewSeededSynthesizer(5, cfg)
		for _, anchors := range sets {
			for i := 0; i < 50; i++ {
				p := s.Synthesize(observer, anchors)
				assert.False(t, p.Latitude == observer.Latitude && p.Longitude == observer.Longitude)
			}
		}
	}
}
