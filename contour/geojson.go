package contour

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ValueProperty is the feature property holding the contour threshold
const ValueProperty = "value"

// Assembler turns a grid into GeoJSON contour features. A nil Extractor or
// Intersector selects MarchingSquares or PolygonClipper.
type Assembler struct {
	Extractor   Extractor
	Intersector Intersector
}

// Assemble extracts contours at the given breaks, maps them to lon/lat and,
// when clip is non-nil, keeps only their overlap with the clip geometry.
//
// Features keep extractor order, then polygon order within a threshold.
// Each carries properties.value, the threshold that produced it; clipped
// features get a copy of the original properties.
func (a Assembler) Assemble(grid *Grid, breaks []float64, clip *geojson.Feature) (*geojson.FeatureCollection, error) {
	if grid == nil {
		return nil, fmt.Errorf("%w: no grid to contour", ErrInvalidInput)
	}
	extractor := a.Extractor
	if extractor == nil {
		extractor = MarchingSquares{}
	}
	intersector := a.Intersector
	if intersector == nil {
		intersector = PolygonClipper{}
	}

	contours, err := extractor.Extract(grid.Values, grid.Columns, grid.Rows, breaks)
	if err != nil {
		return nil, fmt.Errorf("extracting contours: %w", err)
	}

	mapper := NewCoordinateMapper(grid.GridDescription)
	fc := geojson.NewFeatureCollection()
	for _, c := range contours {
		polygons, err := c.Polygons()
		if err != nil {
			return nil, fmt.Errorf("extracting contours: %w", err)
		}
		for _, p := range polygons {
			mapped := dropEmptyRings(mapper.MapPolygon(p))
			if len(mapped) == 0 {
				continue
			}
			f := geojson.NewFeature(mapped)
			f.Properties[ValueProperty] = c.Value
			fc.Append(f)
		}
	}

	if clip == nil || clip.Geometry == nil {
		return fc, nil
	}
	return clipFeatures(fc, clip, intersector)
}

// clipFeatures intersects every feature with the clip geometry and drops the
// ones that fall outside it
func clipFeatures(fc *geojson.FeatureCollection, clip *geojson.Feature, is Intersector) (*geojson.FeatureCollection, error) {
	out := geojson.NewFeatureCollection()
	for _, f := range fc.Features {
		g, err := is.Intersect(f.Geometry, clip.Geometry)
		if err != nil {
			return nil, fmt.Errorf("clipping contour %v: %w", f.Properties[ValueProperty], err)
		}
		if isEmptyGeometry(g) {
			continue
		}
		clipped := geojson.NewFeature(g)
		clipped.Properties = f.Properties.Clone()
		out.Append(clipped)
	}
	return out, nil
}

func dropEmptyRings(p orb.Polygon) orb.Polygon {
	out := p[:0]
	for _, r := range p {
		if len(r) > 0 {
			out = append(out, r)
		}
	}
	return out
}

func isEmptyGeometry(g orb.Geometry) bool {
	switch v := g.(type) {
	case nil:
		return true
	case orb.Polygon:
		return len(v) == 0
	case orb.MultiPolygon:
		return len(v) == 0
	default:
		return false
	}
}
