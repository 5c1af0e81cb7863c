package contour

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

const (
	// NoData marks a grid cell without any usable neighbour. It is also how
	// stations report a missing measurement, so observations equal to it are
	// skipped during interpolation.
	NoData = 999999

	// Epsilon is the angular distance below which an observation coincides
	// with a grid cell, and the weight sum below which a cell has no data.
	Epsilon = 1e-4

	// DefaultNeighbors is the number of nearest observations weighted per cell.
	DefaultNeighbors = 2

	// DefaultValueField is the observation field interpolated when none is given.
	DefaultValueField = "tempvalue"

	// DefaultMaxCells bounds Columns*Rows for a single interpolation.
	DefaultMaxCells = 1 << 20
)

// ErrInvalidInput is wrapped by every error caused by a malformed grid
// description or observation. Such errors abort the whole call.
var ErrInvalidInput = errors.New("invalid input")

// Observation is a single station measurement
type Observation struct {
	Lon    float64
	Lat    float64
	Fields map[string]float64
}

// Point returns the observation position as an orb.Point (lon, lat)
func (o Observation) Point() orb.Point {
	return orb.Point{o.Lon, o.Lat}
}

// Value returns the named field, or NaN when the observation does not carry it
func (o Observation) Value(field string) float64 {
	v, ok := o.Fields[field]
	if !ok {
		return math.NaN()
	}
	return v
}

// UnmarshalJSON decodes a flat station object. lon and lat are required; every
// other key becomes a field. Numeric strings are accepted and any value that
// cannot be read as a number is stored as NaN.
func (o *Observation) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: observation: %v", ErrInvalidInput, err)
	}
	return o.fromProperties(raw, nil)
}

// fromProperties fills the observation from a decoded object. When coords is
// non-nil the position comes from it instead of the lon/lat keys.
func (o *Observation) fromProperties(raw map[string]interface{}, coords *orb.Point) error {
	if coords != nil {
		o.Lon, o.Lat = coords.Lon(), coords.Lat()
	} else {
		lon, ok := toFloat(raw["lon"])
		if !ok || math.IsNaN(lon) || math.IsInf(lon, 0) {
			return fmt.Errorf("%w: observation has no usable lon (got %v)", ErrInvalidInput, raw["lon"])
		}
		lat, ok := toFloat(raw["lat"])
		if !ok || math.IsNaN(lat) || math.IsInf(lat, 0) {
			return fmt.Errorf("%w: observation has no usable lat (got %v)", ErrInvalidInput, raw["lat"])
		}
		o.Lon, o.Lat = lon, lat
	}

	o.Fields = make(map[string]float64, len(raw))
	for k, v := range raw {
		if coords == nil && (k == "lon" || k == "lat") {
			continue
		}
		if f, ok := toFloat(v); ok {
			o.Fields[k] = f
		} else if v != nil {
			// Present but not numeric: keep it as missing rather than zero.
			if _, isString := v.(string); isString {
				o.Fields[k] = math.NaN()
			}
		}
	}
	return nil
}

// MarshalJSON encodes the observation as a flat object. NaN fields are omitted.
func (o Observation) MarshalJSON() ([]byte, error) {
	out := make(map[string]float64, len(o.Fields)+2)
	for k, v := range o.Fields {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out[k] = v
	}
	out["lon"] = o.Lon
	out["lat"] = o.Lat
	return json.Marshal(out)
}

// toFloat coerces JSON numbers and numeric strings
func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return math.NaN(), false
		}
		return f, true
	case bool:
		return 0, false
	default:
		return 0, false
	}
}

// GridDescription describes a regular lon/lat grid.
// A negative YResolution means row 0 is the northern edge.
type GridDescription struct {
	Columns     int     `yaml:"columns" json:"columns"`
	Rows        int     `yaml:"rows" json:"rows"`
	XResolution float64 `yaml:"xResolution" json:"xResolution"`
	YResolution float64 `yaml:"yResolution" json:"yResolution"`
	XMin        float64 `yaml:"xMin" json:"xMin"`
	XMax        float64 `yaml:"xMax" json:"xMax"`
	YMin        float64 `yaml:"yMin" json:"yMin"`
	YMax        float64 `yaml:"yMax" json:"yMax"`
}

// DefaultGridDescription covers 105.24..110.24E, 28.15..32.5N at 0.05 degrees
func DefaultGridDescription() GridDescription {
	return GridDescription{
		Columns:     101,
		Rows:        88,
		XResolution: 0.05,
		YResolution: 0.05,
		XMin:        105.24,
		XMax:        110.24,
		YMin:        28.15,
		YMax:        32.5,
	}
}

// Validate reports structural problems that make the description unusable
func (d GridDescription) Validate() error {
	if d.Columns <= 0 || d.Rows <= 0 {
		return fmt.Errorf("%w: grid dimensions must be positive, got %dx%d", ErrInvalidInput, d.Columns, d.Rows)
	}
	for name, v := range map[string]float64{
		"xResolution": d.XResolution, "yResolution": d.YResolution,
		"xMin": d.XMin, "xMax": d.XMax, "yMin": d.YMin, "yMax": d.YMax,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: grid %s is not finite", ErrInvalidInput, name)
		}
	}
	if d.XResolution == 0 || d.YResolution == 0 {
		return fmt.Errorf("%w: grid resolution must be non-zero", ErrInvalidInput)
	}
	if d.XMin > d.XMax || d.YMin > d.YMax {
		return fmt.Errorf("%w: grid extent is inverted", ErrInvalidInput)
	}
	return nil
}

// Cells returns Columns*Rows
func (d GridDescription) Cells() int {
	return d.Columns * d.Rows
}

// GridOptions is the wire form used by HTTP clients: a start/end pair and a
// step per axis. xSize/ySize are the column and row counts.
type GridOptions struct {
	XStart float64 `json:"xStart" yaml:"xStart"`
	XEnd   float64 `json:"xEnd" yaml:"xEnd"`
	YStart float64 `json:"yStart" yaml:"yStart"`
	YEnd   float64 `json:"yEnd" yaml:"yEnd"`
	XDelta float64 `json:"xDelta" yaml:"xDelta"`
	YDelta float64 `json:"yDelta" yaml:"yDelta"`
	XSize  int     `json:"xSize" yaml:"xSize"`
	YSize  int     `json:"ySize" yaml:"ySize"`
}

// Description converts the wire options into a GridDescription
func (g GridOptions) Description() GridDescription {
	return GridDescription{
		Columns:     g.XSize,
		Rows:        g.YSize,
		XResolution: g.XDelta,
		YResolution: g.YDelta,
		XMin:        math.Min(g.XStart, g.XEnd),
		XMax:        math.Max(g.XStart, g.XEnd),
		YMin:        math.Min(g.YStart, g.YEnd),
		YMax:        math.Max(g.YStart, g.YEnd),
	}
}

// Grid is a dense row-major grid of interpolated values
type Grid struct {
	GridDescription
	Values []float64
}

// NewGrid allocates a grid filled with NoData
func NewGrid(desc GridDescription) *Grid {
	values := make([]float64, desc.Cells())
	for i := range values {
		values[i] = NoData
	}
	return &Grid{GridDescription: desc, Values: values}
}

// At returns the value at (row, col)
func (g *Grid) At(row, col int) float64 {
	return g.Values[row*g.Columns+col]
}

// Valid reports whether cell i holds a real value
func (g *Grid) Valid(i int) bool {
	return g.Values[i] != NoData
}

// Range returns the min and max over cells holding real values.
// ok is false when every cell is NoData.
func (g *Grid) Range() (lo, hi float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for i, v := range g.Values {
		if !g.Valid(i) {
			continue
		}
		ok = true
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi, ok
}

// gridJSON is the published grid layout: m rows, n columns, the x/y extents
// and the flattened values
type gridJSON struct {
	M           int       `json:"m"`
	N           int       `json:"n"`
	XResolution float64   `json:"x_resolution"`
	YResolution float64   `json:"y_resolution"`
	XLim        []float64 `json:"xlim"`
	YLim        []float64 `json:"ylim"`
	ZLim        []float64 `json:"zlim"`
	Grid        []float64 `json:"grid"`
}

// MarshalJSON encodes the grid in its published layout
func (g *Grid) MarshalJSON() ([]byte, error) {
	zlim := []float64{}
	if lo, hi, ok := g.Range(); ok {
		zlim = []float64{lo, hi}
	}
	return json.Marshal(gridJSON{
		M:           g.Rows,
		N:           g.Columns,
		XResolution: g.XResolution,
		YResolution: g.YResolution,
		XLim:        []float64{g.XMin, g.XMax},
		YLim:        []float64{g.YMin, g.YMax},
		ZLim:        zlim,
		Grid:        g.Values,
	})
}

// UnmarshalJSON decodes the published layout
func (g *Grid) UnmarshalJSON(data []byte) error {
	var raw gridJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw.XLim) != 2 || len(raw.YLim) != 2 {
		return fmt.Errorf("%w: grid xlim/ylim must have two entries", ErrInvalidInput)
	}
	if len(raw.Grid) != raw.M*raw.N {
		return fmt.Errorf("%w: grid has %d values, want %d", ErrInvalidInput, len(raw.Grid), raw.M*raw.N)
	}
	g.GridDescription = GridDescription{
		Columns:     raw.N,
		Rows:        raw.M,
		XResolution: raw.XResolution,
		YResolution: raw.YResolution,
		XMin:        raw.XLim[0],
		XMax:        raw.XLim[1],
		YMin:        raw.YLim[0],
		YMax:        raw.YLim[1],
	}
	g.Values = raw.Grid
	return nil
}

// Contour is one extractor result: the region at or above Value, in grid
// index coordinates. Geometry is an orb.Polygon or an orb.MultiPolygon.
type Contour struct {
	Value    float64
	Geometry orb.Geometry
}

// Polygons normalizes the geometry into a list of polygons
func (c Contour) Polygons() ([]orb.Polygon, error) {
	switch g := c.Geometry.(type) {
	case nil:
		return nil, nil
	case orb.Polygon:
		return []orb.Polygon{g}, nil
	case orb.MultiPolygon:
		return []orb.Polygon(g), nil
	default:
		return nil, fmt.Errorf("contour %v: unsupported geometry %s", c.Value, g.GeoJSONType())
	}
}
