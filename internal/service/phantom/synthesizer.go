// internal/service/phantom/synthesizer.go

package phantom

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"latent/internal/domain/geo"
	geoService "latent/internal/service/geo"
)

// minimumOffsetDegrees is applied when every random draw cancels out, so a
// phantom never lands exactly on the observer
const minimumOffsetDegrees = 1e-6

// Config contains the geometric constants of the synthesizer
type Config struct {
	// EmptyJitterDegrees bounds the per-axis offset when there are no anchors
	EmptyJitterDegrees float64

	// Pull is the fraction of the way from observer to anchor centroid
	Pull float64

	// PerpendicularScale is the base scale of the sideways displacement
	PerpendicularScale float64

	// DriftJitterDegrees bounds the per-axis dimensional drift
	DriftJitterDegrees float64

	// DriftDisplayScale converts drift degrees into the presentation scalar
	DriftDisplayScale float64
}

// DefaultConfig returns the standard synthesizer constants
func DefaultConfig() Config {
	return Config{
		EmptyJitterDegrees: 0.0005,
		Pull:               0.3,
		PerpendicularScale: 0.25,
		DriftJitterDegrees: 0.0001,
		DriftDisplayScale:  10000,
	}
}

// Synthesizer derives phantom locations from an observer and its anchors.
// The random source is the only non-deterministic input.
type Synthesizer struct {
	rng    *rand.Rand
	config Config
	mu     sync.Mutex
}

// NewSynthesizer creates a synthesizer drawing from rng. A nil rng is
// seeded from the wall clock.
func NewSynthesizer(rng *rand.Rand, config Config) *Synthesizer {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Synthesizer{
		rng:    rng,
		config: config,
	}
}

// NewSeededSynthesizer creates a synthesizer with a reproducible random source
func NewSeededSynthesizer(seed int64, config Config) *Synthesizer {
	return NewSynthesizer(rand.New(rand.NewSource(seed)), config)
}

// Config returns the constants the synthesizer was built with
func (s *Synthesizer) Config() Config {
	return s.config
}

// Synthesize produces one phantom location. Anchors are expected nearest
// first; only the first MaxPhantomAnchors titles are kept and the input is
// not reordered.
func (s *Synthesizer) Synthesize(observer geo.Position, anchors []geo.Anchor) geo.PhantomLocation {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(anchors) == 0 {
		return s.scatter(observer)
	}

	// Unweighted centroid; anchors sit within a few kilometers so planar
	// averaging is close enough
	var sumLat, sumLon float64
	for _, a := range anchors {
		sumLat += a.Latitude
		sumLon += a.Longitude
	}
	centroidLat := sumLat / float64(len(anchors))
	centroidLon := sumLon / float64(len(anchors))

	deltaLat := centroidLat - observer.Latitude
	deltaLon := centroidLon - observer.Longitude

	lat := observer.Latitude + s.config.Pull*deltaLat
	lon := observer.Longitude + s.config.Pull*deltaLon

	// Rotate the displacement 90 degrees and push the phantom off the
	// observer-centroid line
	factor := (0.5 + 0.5*s.rng.Float64()) * s.config.PerpendicularScale
	if s.rng.Intn(2) == 1 {
		factor = -factor
	}
	lat += -deltaLon * factor
	lon += deltaLat * factor

	jitterLat := s.symmetric(s.config.DriftJitterDegrees)
	jitterLon := s.symmetric(s.config.DriftJitterDegrees)
	lat += jitterLat
	lon += jitterLon

	lat, lon = separate(observer, lat, lon)

	return geo.PhantomLocation{
		Latitude:       lat,
		Longitude:      lon,
		DriftMagnitude: math.Hypot(jitterLat, jitterLon) * s.config.DriftDisplayScale,
		AnchorTitles:   titles(anchors),
	}
}

// scatter handles the anchorless case with a small jitter around the observer
func (s *Synthesizer) scatter(observer geo.Position) geo.PhantomLocation {
	jitterLat := s.symmetric(s.config.EmptyJitterDegrees)
	jitterLon := s.symmetric(s.config.EmptyJitterDegrees)

	lat, lon := separate(observer, observer.Latitude+jitterLat, observer.Longitude+jitterLon)

	return geo.PhantomLocation{
		Latitude:       lat,
		Longitude:      lon,
		DriftMagnitude: math.Hypot(jitterLat, jitterLon) * geoService.MetersPerDegree,
		AnchorTitles:   []string{},
	}
}

// symmetric draws uniformly from [-bound, bound)
func (s *Synthesizer) symmetric(bound float64) float64 {
	return (s.rng.Float64()*2 - 1) * bound
}

func separate(observer geo.Position, lat, lon float64) (float64, float64) {
	if lat == observer.Latitude && lon == observer.Longitude {
		lat += minimumOffsetDegrees
	}
	return lat, lon
}

func titles(anchors []geo.Anchor) []string {
	n := len(anchors)
	if n > geo.MaxPhantomAnchors {
		n = geo.MaxPhantomAnchors
	}
	out := make([]string, 0, n)
	for _, a := range anchors[:n] {
		out = append(out, a.Title)
	}
	return out
}
