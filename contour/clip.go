package contour

import (
	"fmt"
	"sort"

	"github.com/ctessum/geom"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"
)

// snapTolerance is the distance below which ring vertices are merged before
// clipping. The clipper drops whole rings that repeat a vertex.
const snapTolerance = 1e-9

// Intersector computes the overlap of two polygonal geometries.
// A nil geometry with a nil error means they do not overlap.
type Intersector interface {
	Intersect(a, b orb.Geometry) (orb.Geometry, error)
}

// PolygonClipper is the default Intersector, backed by ctessum/geom.
// The result is an orb.Polygon when a single outer ring survives and an
// orb.MultiPolygon otherwise.
type PolygonClipper struct{}

// Intersect implements Intersector
func (PolygonClipper) Intersect(a, b orb.Geometry) (orb.Geometry, error) {
	pa, err := toGeomPolygon(a)
	if err != nil {
		return nil, err
	}
	pb, err := toGeomPolygon(b)
	if err != nil {
		return nil, err
	}
	if len(pa) == 0 || len(pb) == 0 {
		return nil, nil
	}

	var out geom.Polygon
	if res := pa.Intersection(pb); res != nil {
		for _, p := range res.Polygons() {
			out = append(out, p...)
		}
	}
	if len(out) == 0 {
		return nil, nil
	}
	return regroupRings(out), nil
}

// toGeomPolygon flattens an orb polygon or multipolygon into the ring list
// ctessum/geom expects. Rings are cleaned with cleanRing, closing points are
// dropped and rings with fewer than three distinct vertices are skipped.
func toGeomPolygon(g orb.Geometry) (geom.Polygon, error) {
	var rings []orb.Ring
	switch v := g.(type) {
	case nil:
		return nil, nil
	case orb.Polygon:
		rings = v
	case orb.MultiPolygon:
		for _, p := range v {
			rings = append(rings, p...)
		}
	default:
		return nil, fmt.Errorf("%w: cannot clip %s geometry", ErrInvalidInput, g.GeoJSONType())
	}

	out := make(geom.Polygon, 0, len(rings))
	for _, r := range rings {
		r = cleanRing(r)
		n := len(r)
		if n > 1 && r[0].Equal(r[n-1]) {
			n--
		}
		if n < 3 {
			continue
		}
		path := make(geom.Path, n)
		for i := 0; i < n; i++ {
			path[i] = geom.Point{X: r[i][0], Y: r[i][1]}
		}
		out = append(out, path)
	}
	return out, nil
}

// cleanRing returns a closed copy of r without repeated or near-repeated
// vertices. Vertices within snapTolerance of the line through their
// neighbours are removed too.
func cleanRing(r orb.Ring) orb.Ring {
	out := make(orb.Ring, 0, len(r)+1)
	for _, p := range r {
		if n := len(out); n > 0 && planar.Distance(out[n-1], p) <= snapTolerance {
			continue
		}
		out = append(out, p)
	}
	if n := len(out); n > 1 && planar.Distance(out[0], out[n-1]) <= snapTolerance {
		out = out[:n-1]
	}
	if len(out) < 3 {
		return nil
	}
	out = append(out, out[0])

	simplified := simplify.DouglasPeucker(snapTolerance).Ring(out.Clone())
	if len(simplified) < 4 {
		return out
	}
	return simplified
}

// regroupRings turns the flat ring list produced by the clipper back into
// polygons. A ring inside an even number of other rings is an outer ring;
// the rest are holes, attached to the smallest outer ring containing them.
func regroupRings(p geom.Polygon) orb.Geometry {
	rings := make([]orb.Ring, 0, len(p))
	for _, path := range p {
		if len(path) < 3 {
			continue
		}
		r := make(orb.Ring, 0, len(path)+1)
		for _, pt := range path {
			r = append(r, orb.Point{pt.X, pt.Y})
		}
		if !r[0].Equal(r[len(r)-1]) {
			r = append(r, r[0])
		}
		if len(r) < 4 {
			continue
		}
		rings = append(rings, r)
	}
	if len(rings) == 0 {
		return nil
	}

	var outers, holes []orb.Ring
	for i, r := range rings {
		depth := 0
		for j, other := range rings {
			if i != j && ringContainsRing(other, r) == 1 {
				depth++
			}
		}
		if depth%2 == 0 {
			if r.Orientation() != orb.CCW {
				r.Reverse()
			}
			outers = append(outers, r)
		} else {
			if r.Orientation() != orb.CW {
				r.Reverse()
			}
			holes = append(holes, r)
		}
	}

	// Largest first so the output order is stable across clipper versions.
	sort.SliceStable(outers, func(i, j int) bool {
		return planar.Area(outers[i]) > planar.Area(outers[j])
	})

	polygons := make(orb.MultiPolygon, len(outers))
	for i, r := range outers {
		polygons[i] = orb.Polygon{r}
	}
	for _, h := range holes {
		best := -1
		for i, r := range outers {
			if ringContainsRing(r, h) != 1 {
				continue
			}
			if best == -1 || planar.Area(r) < planar.Area(outers[best]) {
				best = i
			}
		}
		if best >= 0 {
			polygons[best] = append(polygons[best], h)
		}
	}

	if len(polygons) == 1 {
		return polygons[0]
	}
	return polygons
}
