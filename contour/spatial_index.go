package contour

import (
	"sort"

	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// Neighbor is one result of a nearest-neighbour query
type Neighbor struct {
	Index int // position in the slice passed to BuildIndex
	Point orb.Point
	Dist  float64
}

// Index is a k-d tree over observation positions keyed on raw lon/lat.
// It is read-only after BuildIndex and safe for concurrent queries.
type Index struct {
	tree *kdtree.Tree
	size int
}

// BuildIndex builds an index over the observation positions
func BuildIndex(points []Observation) *Index {
	if len(points) == 0 {
		return &Index{}
	}
	entries := make(indexEntries, len(points))
	for i, p := range points {
		entries[i] = indexEntry{pt: p.Point(), idx: i}
	}
	return &Index{
		tree: kdtree.New(entries, false),
		size: len(points),
	}
}

// Len returns the number of indexed points
func (ix *Index) Len() int {
	return ix.size
}

// Nearest returns up to k indexed points closest to q under fn, nearest first.
//
// The tree splits on raw coordinates and prunes a branch when fn from q to
// its projection on the splitting plane exceeds the current k-th distance.
// For metrics that are not Euclidean in lon/lat this may occasionally miss
// a closer point; callers tolerate that.
func (ix *Index) Nearest(q orb.Point, k int, fn DistanceFunc) []Neighbor {
	if ix.tree == nil || k <= 0 {
		return nil
	}

	keeper := kdtree.NewNKeeper(k)
	ix.tree.NearestSet(keeper, indexProbe{pt: q, fn: fn})

	result := make([]Neighbor, 0, k)
	for _, cd := range keeper.Heap {
		e, ok := cd.Comparable.(indexEntry)
		if !ok {
			// sentinel left by the keeper
			continue
		}
		result = append(result, Neighbor{
			Index: e.idx,
			Point: e.pt,
			Dist:  fn(q, e.pt),
		})
	}

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Dist != result[j].Dist {
			return result[i].Dist < result[j].Dist
		}
		return result[i].Index < result[j].Index
	})
	if len(result) > k {
		result = result[:k]
	}
	return result
}

// indexEntry is a stored point. Compare and Distance are planar; the tree
// only calls them when building or when entries are compared to each other.
type indexEntry struct {
	pt  orb.Point
	idx int
}

func (e indexEntry) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return e.pt[d] - comparablePoint(c)[d]
}

func (e indexEntry) Dims() int { return 2 }

func (e indexEntry) Distance(c kdtree.Comparable) float64 {
	p := comparablePoint(c)
	dx := e.pt[0] - p[0]
	dy := e.pt[1] - p[1]
	return dx*dx + dy*dy
}

// indexProbe is the query point. It carries the distance function so the
// tree's ordering and pruning follow the caller's metric.
type indexProbe struct {
	pt orb.Point
	fn DistanceFunc
}

// Compare returns the signed metric distance from the query point to its
// projection on the plane through c perpendicular to dimension d.
func (q indexProbe) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	p := comparablePoint(c)
	proj := q.pt
	proj[d] = p[d]
	dist := q.fn(q.pt, proj)
	if q.pt[d] < p[d] {
		return -dist
	}
	return dist
}

func (q indexProbe) Dims() int { return 2 }

// Distance is squared so it is comparable with Compare*Compare during pruning
func (q indexProbe) Distance(c kdtree.Comparable) float64 {
	d := q.fn(q.pt, comparablePoint(c))
	return d * d
}

func comparablePoint(c kdtree.Comparable) orb.Point {
	switch v := c.(type) {
	case indexEntry:
		return v.pt
	case indexProbe:
		return v.pt
	default:
		panic("contour: unexpected kdtree comparable")
	}
}

// indexEntries satisfies kdtree.Interface
type indexEntries []indexEntry

func (p indexEntries) Index(i int) kdtree.Comparable         { return p[i] }
func (p indexEntries) Len() int                              { return len(p) }
func (p indexEntries) Slice(start, end int) kdtree.Interface { return p[start:end] }

func (p indexEntries) Pivot(d kdtree.Dim) int {
	plane := entryPlane{indexEntries: p, Dim: d}
	return kdtree.Partition(plane, kdtree.MedianOfRandoms(plane, 100))
}

// entryPlane sorts entries along one dimension for partitioning
type entryPlane struct {
	indexEntries
	kdtree.Dim
}

func (p entryPlane) Less(i, j int) bool {
	return p.indexEntries[i].pt[p.Dim] < p.indexEntries[j].pt[p.Dim]
}

func (p entryPlane) Swap(i, j int) {
	p.indexEntries[i], p.indexEntries[j] = p.indexEntries[j], p.indexEntries[i]
}

func (p entryPlane) Slice(start, end int) kdtree.SortSlicer {
	return entryPlane{indexEntries: p.indexEntries[start:end], Dim: p.Dim}
}
