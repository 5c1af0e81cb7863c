package contour

import (
	"math"

	"github.com/paulmach/orb"
)

// AffineMatrix for 2D transforms: x' = ax + by + tx, y' = cx + dy + ty
type AffineMatrix struct {
	A  float64 `json:"a"`
	B  float64 `json:"b"`
	Tx float64 `json:"tx"`
	C  float64 `json:"c"`
	D  float64 `json:"d"`
	Ty float64 `json:"ty"`
}

// Identity returns an identity matrix (no transformation)
func Identity() AffineMatrix {
	return AffineMatrix{A: 1, D: 1}
}

// Translation creates a translation-only transform
func Translation(tx, ty float64) AffineMatrix {
	return AffineMatrix{A: 1, Tx: tx, D: 1, Ty: ty}
}

// Scale creates a scaling transform
func Scale(sx, sy float64) AffineMatrix {
	return AffineMatrix{A: sx, D: sy}
}

// TransformPoint applies an affine transform to a point
func TransformPoint(p orb.Point, m AffineMatrix) orb.Point {
	return orb.Point{
		m.A*p[0] + m.B*p[1] + m.Tx,
		m.C*p[0] + m.D*p[1] + m.Ty,
	}
}

// MultiplyMatrices composes two affine transforms: result = m1 * m2
// Applying result is equivalent to applying m2 first, then m1
func MultiplyMatrices(m1, m2 AffineMatrix) AffineMatrix {
	return AffineMatrix{
		A:  m1.A*m2.A + m1.B*m2.C,
		B:  m1.A*m2.B + m1.B*m2.D,
		Tx: m1.A*m2.Tx + m1.B*m2.Ty + m1.Tx,
		C:  m1.C*m2.A + m1.D*m2.C,
		D:  m1.C*m2.B + m1.D*m2.D,
		Ty: m1.C*m2.Tx + m1.D*m2.Ty + m1.Ty,
	}
}

// InvertMatrix computes the inverse of an affine transform
// Returns identity if matrix is singular (determinant ~= 0)
func InvertMatrix(m AffineMatrix) AffineMatrix {
	det := m.A*m.D - m.B*m.C
	if math.Abs(det) < 1e-12 {
		return Identity()
	}

	invDet := 1.0 / det
	return AffineMatrix{
		A:  m.D * invDet,
		B:  -m.B * invDet,
		Tx: (m.B*m.Ty - m.D*m.Tx) * invDet,
		C:  -m.C * invDet,
		D:  m.A * invDet,
		Ty: (m.C*m.Tx - m.A*m.Ty) * invDet,
	}
}

// CoordinateMapper converts grid index coordinates (col, row) into lon/lat.
//
//	lon = XMin + col*XResolution
//	lat = YMax + row*YResolution   when YResolution < 0 (row 0 is north)
//	lat = YMin + row*YResolution   otherwise
type CoordinateMapper struct {
	forward AffineMatrix
	inverse AffineMatrix
}

// NewCoordinateMapper builds the mapper for a grid description
func NewCoordinateMapper(desc GridDescription) CoordinateMapper {
	originY := desc.YMin
	if desc.YResolution < 0 {
		originY = desc.YMax
	}
	forward := MultiplyMatrices(
		Translation(desc.XMin, originY),
		Scale(desc.XResolution, desc.YResolution),
	)
	return CoordinateMapper{
		forward: forward,
		inverse: InvertMatrix(forward),
	}
}

// Matrix returns the index-to-geographic transform
func (m CoordinateMapper) Matrix() AffineMatrix {
	return m.forward
}

// ToGeo maps an index-space point (col, row) to (lon, lat)
func (m CoordinateMapper) ToGeo(p orb.Point) orb.Point {
	return TransformPoint(p, m.forward)
}

// ToIndex maps (lon, lat) back to index space
func (m CoordinateMapper) ToIndex(p orb.Point) orb.Point {
	return TransformPoint(p, m.inverse)
}

// MapRing maps every point of a ring, keeping order, duplicates and closure
func (m CoordinateMapper) MapRing(r orb.Ring) orb.Ring {
	out := make(orb.Ring, len(r))
	for i, p := range r {
		out[i] = m.ToGeo(p)
	}
	return out
}

// MapPolygon maps every ring of a polygon
func (m CoordinateMapper) MapPolygon(p orb.Polygon) orb.Polygon {
	out := make(orb.Polygon, 0, len(p))
	for _, r := range p {
		out = append(out, m.MapRing(r))
	}
	return out
}
