package contour

import (
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/paulmach/orb"
)

// Extractor traces iso-value polygons from a flattened row-major grid.
// Coordinates of the returned geometry are in index space, [0,width]x[0,height].
type Extractor interface {
	Extract(values []float64, width, height int, thresholds []float64) ([]Contour, error)
}

// MarchingSquares is the default Extractor. Thresholds are processed in
// ascending order, NaN first. For each threshold it returns a
// MultiPolygon covering the cells whose value is >= the threshold, with edge
// points linearly interpolated between cell centres. Cell (col, row) is
// centred at (col+0.5, row+0.5) and the area outside the grid counts as below
// every threshold, so regions touching the border are closed along it.
type MarchingSquares struct {
	// EmitUncrossed keeps the full-frame polygon for a threshold that every
	// cell reaches. By default a threshold that no cell boundary crosses
	// produces an empty result.
	EmitUncrossed bool
}

// Segment endpoints per marching squares case, relative to the lower-left
// sample of the 2x2 window. Bits: 1 bottom-left, 2 bottom-right, 4 top-right,
// 8 top-left, where "bottom" is the row with the larger index.
var squareCases = [16][][2][2]float64{
	{},
	{{{1.0, 1.5}, {0.5, 1.0}}},
	{{{1.5, 1.0}, {1.0, 1.5}}},
	{{{1.5, 1.0}, {0.5, 1.0}}},
	{{{1.0, 0.5}, {1.5, 1.0}}},
	{{{1.0, 1.5}, {0.5, 1.0}}, {{1.0, 0.5}, {1.5, 1.0}}},
	{{{1.0, 0.5}, {1.0, 1.5}}},
	{{{1.0, 0.5}, {0.5, 1.0}}},
	{{{0.5, 1.0}, {1.0, 0.5}}},
	{{{1.0, 1.5}, {1.0, 0.5}}},
	{{{0.5, 1.0}, {1.0, 0.5}}, {{1.5, 1.0}, {1.0, 1.5}}},
	{{{1.5, 1.0}, {1.0, 0.5}}},
	{{{0.5, 1.0}, {1.5, 1.0}}},
	{{{1.0, 1.5}, {1.5, 1.0}}},
	{{{0.5, 1.0}, {1.0, 1.5}}},
	{},
}

// Extract implements Extractor
func (ms MarchingSquares) Extract(values []float64, width, height int, thresholds []float64) ([]Contour, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: contour grid must be at least 1x1, got %dx%d", ErrInvalidInput, width, height)
	}
	if len(values) != width*height {
		return nil, fmt.Errorf("%w: contour grid has %d values, want %d", ErrInvalidInput, len(values), width*height)
	}

	sorted := slices.Clone(thresholds)
	sort.Float64s(sorted)

	contours := make([]Contour, 0, len(sorted))
	for _, t := range sorted {
		mp := orb.MultiPolygon{}
		if !math.IsNaN(t) && (ms.EmitUncrossed || crosses(values, t)) {
			mp = isobands(values, width, height, t)
		}
		contours = append(contours, Contour{Value: t, Geometry: mp})
	}
	return contours, nil
}

// crosses reports whether some cells are >= t and some are below it
func crosses(values []float64, t float64) bool {
	above, below := false, false
	for _, v := range values {
		if v >= t {
			above = true
		} else {
			below = true
		}
		if above && below {
			return true
		}
	}
	return false
}

// isobands traces the rings of the region >= t and groups them into polygons.
// Rings with positive shoelace area are outer rings; the rest are holes and
// are attached to the first outer ring that contains them.
func isobands(values []float64, width, height int, t float64) orb.MultiPolygon {
	var polygons orb.MultiPolygon
	var holes []orb.Ring

	tr := newRingTracer(width, height)
	tr.trace(values, t, func(ring orb.Ring) {
		smoothRing(ring, values, width, height, t)
		if ringArea(ring) > 0 {
			polygons = append(polygons, orb.Polygon{ring})
		} else {
			holes = append(holes, ring)
		}
	})

	for _, hole := range holes {
		for i := range polygons {
			if ringContainsRing(polygons[i][0], hole) != -1 {
				polygons[i] = append(polygons[i], hole)
				break
			}
		}
	}
	return polygons
}

// fragment is an open chain of segments waiting to be joined
type fragment struct {
	start, end int
	ring       orb.Ring
}

type ringTracer struct {
	width, height int
	byStart       map[int]*fragment
	byEnd         map[int]*fragment
}

func newRingTracer(width, height int) *ringTracer {
	return &ringTracer{
		width:   width,
		height:  height,
		byStart: make(map[int]*fragment),
		byEnd:   make(map[int]*fragment),
	}
}

// key identifies a half-integer segment endpoint
func (tr *ringTracer) key(p orb.Point) int {
	return int(math.Round(p[0]*2 + p[1]*float64(tr.width+1)*4))
}

// trace walks every 2x2 window, including the virtual windows overlapping the
// border, and calls emit with each ring as soon as it closes.
func (tr *ringTracer) trace(values []float64, t float64, emit func(orb.Ring)) {
	dx, dy := tr.width, tr.height
	above := func(i int) int {
		if values[i] >= t {
			return 1
		}
		return 0
	}
	run := func(c, x, y int) {
		for _, seg := range squareCases[c] {
			tr.stitch(seg, x, y, emit)
		}
	}

	// first row, y = -1
	x, y := -1, -1
	t1 := above(0)
	run(t1<<1, x, y)
	for x++; x < dx-1; x++ {
		t0 := t1
		t1 = above(x + 1)
		run(t0|t1<<1, x, y)
	}
	run(t1, x, y)

	// intermediate rows
	for y++; y < dy-1; y++ {
		x = -1
		t1 = above(y*dx + dx)
		t2 := above(y * dx)
		run(t1<<1|t2<<2, x, y)
		for x++; x < dx-1; x++ {
			t0 := t1
			t1 = above(y*dx + dx + x + 1)
			t3 := t2
			t2 = above(y*dx + x + 1)
			run(t0|t1<<1|t2<<2|t3<<3, x, y)
		}
		run(t1|t2<<3, x, y)
	}

	// last row, y = dy-1
	x = -1
	t2 := above(y * dx)
	run(t2<<2, x, y)
	for x++; x < dx-1; x++ {
		t3 := t2
		t2 = above(y*dx + x + 1)
		run(t2<<2|t3<<3, x, y)
	}
	run(t2<<3, x, y)
}

// stitch appends one segment, joining it to open fragments where its ends
// meet and emitting the ring once a fragment closes on itself.
func (tr *ringTracer) stitch(seg [2][2]float64, x, y int, emit func(orb.Ring)) {
	start := orb.Point{seg[0][0] + float64(x), seg[0][1] + float64(y)}
	end := orb.Point{seg[1][0] + float64(x), seg[1][1] + float64(y)}
	si, ei := tr.key(start), tr.key(end)

	if f, ok := tr.byEnd[si]; ok {
		if g, ok := tr.byStart[ei]; ok {
			delete(tr.byEnd, f.end)
			delete(tr.byStart, g.start)
			if f == g {
				f.ring = append(f.ring, end)
				emit(f.ring)
				return
			}
			joined := make(orb.Ring, 0, len(f.ring)+len(g.ring))
			joined = append(joined, f.ring...)
			joined = append(joined, g.ring...)
			merged := &fragment{start: f.start, end: g.end, ring: joined}
			tr.byStart[merged.start] = merged
			tr.byEnd[merged.end] = merged
			return
		}
		delete(tr.byEnd, f.end)
		f.ring = append(f.ring, end)
		f.end = ei
		tr.byEnd[ei] = f
		return
	}

	if f, ok := tr.byStart[ei]; ok {
		delete(tr.byStart, f.start)
		f.ring = append(orb.Ring{start}, f.ring...)
		f.start = si
		tr.byStart[si] = f
		return
	}

	f := &fragment{start: si, end: ei, ring: orb.Ring{start, end}}
	tr.byStart[si] = f
	tr.byEnd[ei] = f
}

// smoothRing moves each ring vertex from the cell edge midpoint to the
// linearly interpolated crossing of t between the two adjacent cells.
func smoothRing(ring orb.Ring, values []float64, width, height int, t float64) {
	at := func(col, row int) float64 {
		if col < 0 || col >= width || row < 0 || row >= height {
			return math.NaN()
		}
		return values[row*width+col]
	}

	for i, p := range ring {
		x, y := p[0], p[1]
		xt, yt := int(x), int(y)
		if x > 0 && x < float64(width) && float64(xt) == x {
			ring[i][0] = smoothCoord(x, at(xt-1, yt), at(xt, yt), t)
		}
		if y > 0 && y < float64(height) && float64(yt) == y {
			ring[i][1] = smoothCoord(y, at(xt, yt-1), at(xt, yt), t)
		}
	}
}

func smoothCoord(x, v0, v1, t float64) float64 {
	a := t - v0
	b := v1 - v0
	var d float64
	if !math.IsInf(a, 0) || !math.IsInf(b, 0) {
		d = a / b
	} else {
		d = sign(a) / sign(b)
	}
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return x
	}
	return x + d - 0.5
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// ringArea is the shoelace sum in index space. Rows grow downward, so outer
// rings traced by isobands come out positive.
func ringArea(ring orb.Ring) float64 {
	n := len(ring)
	if n == 0 {
		return 0
	}
	area := ring[n-1][1]*ring[0][0] - ring[n-1][0]*ring[0][1]
	for i := 1; i < n; i++ {
		area += ring[i-1][1]*ring[i][0] - ring[i-1][0]*ring[i][1]
	}
	return area
}

// ringContainsRing returns 1 if hole lies inside ring, -1 if outside and 0
// when its first decisive vertex is on the boundary.
func ringContainsRing(ring, hole orb.Ring) int {
	for _, p := range hole {
		if c := ringContainsPoint(ring, p); c != 0 {
			return c
		}
	}
	return 0
}

func ringContainsPoint(ring orb.Ring, p orb.Point) int {
	x, y := p[0], p[1]
	contains := -1
	for i, j := 0, len(ring)-1; i < len(ring); j, i = i, i+1 {
		pi, pj := ring[i], ring[j]
		if segmentContains(pi, pj, p) {
			return 0
		}
		if (pi[1] > y) != (pj[1] > y) && x < (pj[0]-pi[0])*(y-pi[1])/(pj[1]-pi[1])+pi[0] {
			contains = -contains
		}
	}
	return contains
}

func segmentContains(a, b, c orb.Point) bool {
	if (b[0]-a[0])*(c[1]-a[1]) != (c[0]-a[0])*(b[1]-a[1]) {
		return false
	}
	if a[0] != b[0] {
		return within(a[0], c[0], b[0])
	}
	return within(a[1], c[1], b[1])
}

func within(p, q, r float64) bool {
	return (p <= q && q <= r) || (r <= q && q <= p)
}
