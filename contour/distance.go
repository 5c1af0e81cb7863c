package contour

import (
	"fmt"
	"math"

	"github.com/golang/geo/s2"
	"github.com/paulmach/orb"
)

// DistanceFunc measures the separation of two lon/lat points. The spatial
// index uses it for ordering and pruning; the interpolation engine uses its
// value for weighting.
type DistanceFunc func(a, b orb.Point) float64

// HaversineAngle returns atan2(sqrt(h), sqrt(1-h)) for the haversine term h
// of the two points, in radians. This is half the great-circle central
// angle; Epsilon is expressed in these units.
func HaversineAngle(a, b orb.Point) float64 {
	const rad = math.Pi / 180

	dLat := (b.Lat() - a.Lat()) * rad
	dLon := (b.Lon() - a.Lon()) * rad
	lat1 := a.Lat() * rad
	lat2 := b.Lat() * rad

	x := math.Sin(dLat / 2)
	y := math.Sin(dLon / 2)
	h := x*x + y*y*math.Cos(lat1)*math.Cos(lat2)
	if h > 1 {
		h = 1
	}

	return math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// S2Angle returns the full great-circle central angle in radians
func S2Angle(a, b orb.Point) float64 {
	p := s2.LatLngFromDegrees(a.Lat(), a.Lon())
	q := s2.LatLngFromDegrees(b.Lat(), b.Lon())
	return p.Distance(q).Radians()
}

// MetricByName resolves a configured metric name. An empty name selects
// the haversine angle.
func MetricByName(name string) (DistanceFunc, error) {
	switch name {
	case "", "haversine":
		return HaversineAngle, nil
	case "s2":
		return S2Angle, nil
	default:
		return nil, fmt.Errorf("%w: unknown distance metric %q", ErrInvalidInput, name)
	}
}
