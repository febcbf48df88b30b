// internal/service/geo/geomath.go

package geo

import (
	"math"
	"strconv"

	"latent/internal/domain/geo"
)

// EarthRadiusMeters is the mean Earth radius used by Distance
const EarthRadiusMeters = 6371000.0

// MetersPerDegree approximates the length of one degree of latitude
const MetersPerDegree = 111320.0

// Distance returns the great-circle distance between a and b in meters
func Distance(a, b geo.Coordinates) float64 {
	// Convert latitude and longitude from degrees to radians
	lat1 := toRadians(a.Latitude)
	lon1 := toRadians(a.Longitude)
	lat2 := toRadians(b.Latitude)
	lon2 := toRadians(b.Longitude)

	// Haversine formula
	dLat := lat2 - lat1
	dLon := lon2 - lon1

	hSin := math.Sin(dLat / 2)
	hSin *= hSin

	vSin := math.Sin(dLon / 2)
	vSin *= vSin

	h := hSin + math.Cos(lat1)*math.Cos(lat2)*vSin

	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(h))
}

// Bearing returns the initial bearing from a to b in degrees within [0, 360).
// Bearing(a, a) returns 0, which carries no meaning.
func Bearing(a, b geo.Coordinates) float64 {
	lat1 := toRadians(a.Latitude)
	lat2 := toRadians(b.Latitude)
	dLon := toRadians(b.Longitude - a.Longitude)

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)

	deg := math.Atan2(y, x) * 180 / math.Pi
	deg = math.Mod(deg+360, 360)
	if deg >= 360 {
		deg = 0
	}
	return deg
}

// TileKey groups nearby coordinates by rounding each axis to precision
// decimal places. It is a coarse cache key, not a geohash.
func TileKey(c geo.Coordinates, precision int) string {
	return roundAxis(c.Latitude, precision) + "," + roundAxis(c.Longitude, precision)
}

// HasMovedSignificantly reports whether current is at least thresholdMeters
// away from previous. A nil previous always counts as movement.
func HasMovedSignificantly(previous *geo.Position, current geo.Position, thresholdMeters float64) bool {
	if previous == nil {
		return true
	}
	return Distance(previous.Coordinates(), current.Coordinates()) >= thresholdMeters
}

// CompassPoint names the 8-wind compass direction for a bearing
func CompassPoint(bearing float64) string {
	points := [...]string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}
	idx := int(math.Round(math.Mod(bearing, 360)/45)) % len(points)
	if idx < 0 {
		idx += len(points)
	}
	return points[idx]
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

func roundAxis(v float64, precision int) string {
	scale := math.Pow10(precision)
	r := math.Round(v*scale) / scale
	if r == 0 {
		// -0 and 0 share a key
		r = 0
	}
	return strconv.FormatFloat(r, 'f', precision, 64)
}
