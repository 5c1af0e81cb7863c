package contour

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"
)

// InterpolateOptions tunes the inverse-distance weighting. Zero values select
// the defaults.
type InterpolateOptions struct {
	ValueField string       // observation field to interpolate (DefaultValueField)
	Neighbors  int          // observations weighted per cell (DefaultNeighbors)
	Distance   DistanceFunc // metric for neighbour search and weights (HaversineAngle)
	MaxCells   int          // upper bound on Columns*Rows (DefaultMaxCells)
	Workers    int          // concurrent rows (GOMAXPROCS)
}

func (o InterpolateOptions) withDefaults() InterpolateOptions {
	if o.ValueField == "" {
		o.ValueField = DefaultValueField
	}
	if o.Neighbors == 0 {
		o.Neighbors = DefaultNeighbors
	}
	if o.Distance == nil {
		o.Distance = HaversineAngle
	}
	if o.MaxCells == 0 {
		o.MaxCells = DefaultMaxCells
	}
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	return o
}

// CellCoordinate returns the lon/lat sampled for cell (row, col). It uses the
// same origin as CoordinateMapper so the grid lines up when contours are
// mapped back. For a negative YResolution row 0 therefore samples YMax, not
// YMin, and rows step south from there.
func CellCoordinate(desc GridDescription, row, col int) orb.Point {
	originY := desc.YMin
	if desc.YResolution < 0 {
		originY = desc.YMax
	}
	return orb.Point{
		desc.XMin + float64(col)*desc.XResolution,
		originY + float64(row)*desc.YResolution,
	}
}

// Interpolate resamples the observations onto the grid with inverse
// distance squared weighting over the nearest neighbours of each cell.
// Cells with no usable neighbour hold NoData.
func Interpolate(ctx context.Context, points []Observation, desc GridDescription, opts InterpolateOptions) (*Grid, error) {
	opts = opts.withDefaults()
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if desc.Cells() > opts.MaxCells {
		return nil, fmt.Errorf("%w: grid has %d cells, limit is %d", ErrInvalidInput, desc.Cells(), opts.MaxCells)
	}
	if opts.Neighbors < 1 {
		return nil, fmt.Errorf("%w: neighbour count must be at least 1, got %d", ErrInvalidInput, opts.Neighbors)
	}

	grid := NewGrid(desc)
	if len(points) == 0 {
		return grid, nil
	}

	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value(opts.ValueField)
	}
	index := BuildIndex(points)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for row := 0; row < desc.Rows; row++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out := grid.Values[row*desc.Columns : (row+1)*desc.Columns]
			for col := range out {
				q := CellCoordinate(desc, row, col)
				out[col] = weightedValue(index.Nearest(q, opts.Neighbors, opts.Distance), values)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("interpolating grid: %w", err)
	}
	return grid, nil
}

// weightedValue combines the neighbours of one cell. Neighbours are visited
// nearest first; NoData and NaN values are skipped and a neighbour closer than
// Epsilon replaces the whole sum.
func weightedValue(neighbors []Neighbor, values []float64) float64 {
	var zSum, weightSum float64
	for _, n := range neighbors {
		z := values[n.Index]
		if z == NoData || math.IsNaN(z) {
			continue
		}
		if math.Abs(n.Dist) < Epsilon {
			zSum = z
			weightSum = 1
			break
		}
		w := 1 / (n.Dist * n.Dist)
		zSum += z * w
		weightSum += w
	}

	if math.Abs(weightSum) < Epsilon {
		return NoData
	}
	return zSum / weightSum
}
