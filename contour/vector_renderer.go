package contour

import (
	"fmt"
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// nrgbaToRGBA converts color.NRGBA to premultiplied color.RGBA for canvas
func nrgbaToRGBA(c color.NRGBA) color.RGBA {
	if c.A == 0 {
		return color.RGBA{0, 0, 0, 0}
	}
	if c.A == 255 {
		return color.RGBA{c.R, c.G, c.B, 255}
	}
	alpha32 := uint32(c.A)
	return color.RGBA{
		R: uint8((uint32(c.R) * alpha32) / 255),
		G: uint8((uint32(c.G) * alpha32) / 255),
		B: uint8((uint32(c.B) * alpha32) / 255),
		A: c.A,
	}
}

// VectorRenderer draws contour features, the clip boundary and the stations
// as vector graphics. Canvas units are millimetres; Width sets the drawing
// width and the height follows the lon/lat aspect.
type VectorRenderer struct {
	Features   *geojson.FeatureCollection
	Clip       *geojson.Feature
	Stations   []Observation
	Bounds     orb.Bound
	Width      float64           // drawing width excluding padding
	Padding    float64           // margin on every side
	Resolution canvas.Resolution // PNG resolution (default 300 DPI)
	Graticule  float64           // graticule spacing in degrees; 0 disables
	FillAlpha  uint8
}

// NewVectorRenderer creates a renderer framed on the grid extent
func NewVectorRenderer(r *Result, config *Config) *VectorRenderer {
	vr := &VectorRenderer{
		Width:      200,
		Padding:    10,
		Resolution: canvas.DPI(300),
		Graticule:  1,
		FillAlpha:  170,
	}
	if config != nil {
		if config.Render.Width > 0 {
			vr.Width = float64(config.Render.Width) / 4
		}
		if config.Render.VectorResolution > 0 {
			vr.Resolution = canvas.DPI(config.Render.VectorResolution)
		}
	}
	if r != nil {
		vr.Features = r.Features
		if r.Grid != nil {
			vr.Bounds = orb.Bound{
				Min: orb.Point{r.Grid.XMin, r.Grid.YMin},
				Max: orb.Point{r.Grid.XMax, r.Grid.YMax},
			}
		}
	}
	if vr.Bounds.IsZero() && vr.Features != nil && len(vr.Features.Features) > 0 {
		b := vr.Features.Features[0].Geometry.Bound()
		for _, f := range vr.Features.Features[1:] {
			b = b.Union(f.Geometry.Bound())
		}
		vr.Bounds = b
	}
	return vr
}

// canvasRenderer is implemented by both the svg and rasterizer renderers
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// noBounds is true when no grid or feature framed the drawing
func (r *VectorRenderer) noBounds() bool {
	return r.Bounds.IsEmpty() || r.Bounds.IsZero()
}

func (r *VectorRenderer) scale() float64 {
	span := r.Bounds.Max.Lon() - r.Bounds.Min.Lon()
	if span <= 0 {
		return 1
	}
	return r.Width / span
}

func (r *VectorRenderer) size() (float64, float64) {
	s := r.scale()
	w := (r.Bounds.Max.Lon()-r.Bounds.Min.Lon())*s + 2*r.Padding
	h := (r.Bounds.Max.Lat()-r.Bounds.Min.Lat())*s + 2*r.Padding
	return w, h
}

// RenderToSVG writes the drawing as SVG
func (r *VectorRenderer) RenderToSVG(w io.Writer) error {
	if r.noBounds() {
		return fmt.Errorf("nothing to render: empty bounds")
	}
	width, height := r.size()
	svgRenderer := svg.New(w, width, height, nil)
	r.renderToCanvas(svgRenderer, width, height)
	return svgRenderer.Close()
}

// RenderToPNG writes the drawing as PNG
func (r *VectorRenderer) RenderToPNG(w io.Writer) error {
	if r.noBounds() {
		return fmt.Errorf("nothing to render: empty bounds")
	}
	width, height := r.size()
	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, width, height)
	return png.Encode(w, rast)
}

func (r *VectorRenderer) renderToCanvas(renderer canvasRenderer, width, height float64) {
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	s := r.scale()
	// canvas has y up, same as latitude
	toCanvas := func(p orb.Point) (float64, float64) {
		return (p.Lon()-r.Bounds.Min.Lon())*s + r.Padding, (p.Lat()-r.Bounds.Min.Lat())*s + r.Padding
	}

	lo, hi := r.valueRange()
	if r.Features != nil {
		for _, f := range r.Features.Features {
			v, _ := f.Properties[ValueProperty].(float64)
			fill := RampColor(v, lo, hi)
			fill.A = r.FillAlpha

			style := canvas.DefaultStyle
			style.Fill = canvas.Paint{Color: nrgbaToRGBA(fill)}
			style.Stroke = canvas.Paint{Color: color.RGBA{47, 79, 79, 255}}
			style.StrokeWidth = 0.2
			style.FillRule = canvas.EvenOdd

			for _, poly := range geometryPolygons(f.Geometry) {
				renderer.RenderPath(polygonPath(poly, toCanvas), style, canvas.Identity)
			}
		}
	}

	if r.Clip != nil {
		clipStyle := canvas.DefaultStyle
		clipStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		clipStyle.Stroke = canvas.Paint{Color: canvas.Black}
		clipStyle.StrokeWidth = 0.5
		for _, poly := range geometryPolygons(r.Clip.Geometry) {
			renderer.RenderPath(polygonPath(poly, toCanvas), clipStyle, canvas.Identity)
		}
	}

	if r.Graticule > 0 {
		gridStyle := canvas.DefaultStyle
		gridStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		gridStyle.Stroke = canvas.Paint{Color: canvas.Gray}
		gridStyle.StrokeWidth = 0.1
		gridStyle.Dashes = []float64{1.0, 1.0}

		minX, minY := r.Bounds.Min.Lon(), r.Bounds.Min.Lat()
		maxX, maxY := r.Bounds.Max.Lon(), r.Bounds.Max.Lat()
		for x := math.Ceil(minX/r.Graticule) * r.Graticule; x <= maxX; x += r.Graticule {
			renderer.RenderPath(linePath(orb.Point{x, minY}, orb.Point{x, maxY}, toCanvas), gridStyle, canvas.Identity)
		}
		for y := math.Ceil(minY/r.Graticule) * r.Graticule; y <= maxY; y += r.Graticule {
			renderer.RenderPath(linePath(orb.Point{minX, y}, orb.Point{maxX, y}, toCanvas), gridStyle, canvas.Identity)
		}
	}

	stationStyle := canvas.DefaultStyle
	stationStyle.Fill = canvas.Paint{Color: canvas.Black}
	stationStyle.Stroke = canvas.Paint{Color: canvas.White}
	stationStyle.StrokeWidth = 0.2
	for _, o := range r.Stations {
		if !r.Bounds.Contains(o.Point()) {
			continue
		}
		cx, cy := toCanvas(o.Point())
		renderer.RenderPath(canvas.Circle(0.8).Translate(cx, cy), stationStyle, canvas.Identity)
	}
}

// valueRange spans the feature values for coloring
func (r *VectorRenderer) valueRange() (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	if r.Features != nil {
		for _, f := range r.Features.Features {
			if v, ok := f.Properties[ValueProperty].(float64); ok {
				lo = math.Min(lo, v)
				hi = math.Max(hi, v)
			}
		}
	}
	if math.IsInf(lo, 0) {
		return 0, 0
	}
	return lo, hi
}

func geometryPolygons(g orb.Geometry) []orb.Polygon {
	switch v := g.(type) {
	case orb.Polygon:
		return []orb.Polygon{v}
	case orb.MultiPolygon:
		return v
	default:
		return nil
	}
}

func polygonPath(p orb.Polygon, toCanvas func(orb.Point) (float64, float64)) *canvas.Path {
	cp := &canvas.Path{}
	for _, ring := range p {
		for i, pt := range ring {
			x, y := toCanvas(pt)
			if i == 0 {
				cp.MoveTo(x, y)
			} else {
				cp.LineTo(x, y)
			}
		}
		cp.Close()
	}
	return cp
}

func linePath(a, b orb.Point, toCanvas func(orb.Point) (float64, float64)) *canvas.Path {
	cp := &canvas.Path{}
	x1, y1 := toCanvas(a)
	x2, y2 := toCanvas(b)
	cp.MoveTo(x1, y1)
	cp.LineTo(x2, y2)
	return cp
}
