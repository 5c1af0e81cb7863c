package contour

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb/geojson"
)

// Request is one interpolate-and-contour job. Empty fields take defaults:
// DefaultValueField, DefaultGridDescription, DefaultNeighbors and the
// haversine metric.
type Request struct {
	Points     []Observation
	Breaks     []float64
	Clip       *geojson.Feature
	ValueField string
	Grid       *GridDescription
	Neighbors  int
	Metric     string
}

// Result pairs the interpolated grid with its contour features
type Result struct {
	Grid     *Grid
	Features *geojson.FeatureCollection
}

// resultJSON is the published response layout
type resultJSON struct {
	GridData       *Grid                      `json:"gridData"`
	VectorContours *geojson.FeatureCollection `json:"vector_contours"`
}

// MarshalJSON encodes {"gridData": ..., "vector_contours": ...}
func (r *Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(resultJSON{GridData: r.Grid, VectorContours: r.Features})
}

// UnmarshalJSON decodes the published layout
func (r *Result) UnmarshalJSON(data []byte) error {
	var raw resultJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Grid = raw.GridData
	r.Features = raw.VectorContours
	return nil
}

// Pipeline runs interpolation followed by contour assembly
type Pipeline struct {
	Assembler Assembler
	MaxCells  int // zero means DefaultMaxCells
	Workers   int // zero means GOMAXPROCS
}

// Run executes the request. Validation failures wrap ErrInvalidInput;
// collaborator errors are returned wrapped with context.
func (p Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	desc := DefaultGridDescription()
	if req.Grid != nil {
		desc = *req.Grid
	}
	metric, err := MetricByName(req.Metric)
	if err != nil {
		return nil, err
	}

	grid, err := Interpolate(ctx, req.Points, desc, InterpolateOptions{
		ValueField: req.ValueField,
		Neighbors:  req.Neighbors,
		Distance:   metric,
		MaxCells:   p.MaxCells,
		Workers:    p.Workers,
	})
	if err != nil {
		return nil, err
	}

	features, err := p.Assembler.Assemble(grid, req.Breaks, req.Clip)
	if err != nil {
		return nil, fmt.Errorf("assembling contours: %w", err)
	}
	return &Result{Grid: grid, Features: features}, nil
}
