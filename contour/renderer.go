package contour

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// rampStops is a blue to red ramp used for grid cells and contour fills
var rampStops = []color.NRGBA{
	{49, 54, 149, 255},
	{69, 117, 180, 255},
	{171, 217, 233, 255},
	{254, 224, 144, 255},
	{244, 109, 67, 255},
	{165, 0, 38, 255},
}

// RampColor maps v within [lo, hi] onto the color ramp. Values outside the
// range are clamped; a degenerate range returns the middle of the ramp.
func RampColor(v, lo, hi float64) color.NRGBA {
	t := 0.5
	if hi > lo {
		t = (v - lo) / (hi - lo)
	}
	t = math.Max(0, math.Min(1, t))

	pos := t * float64(len(rampStops)-1)
	i := int(pos)
	if i >= len(rampStops)-1 {
		return rampStops[len(rampStops)-1]
	}
	f := pos - float64(i)
	a, b := rampStops[i], rampStops[i+1]
	mix := func(x, y uint8) uint8 {
		return uint8(math.Round(float64(x) + (float64(y)-float64(x))*f))
	}
	return color.NRGBA{mix(a.R, b.R), mix(a.G, b.G), mix(a.B, b.B), 255}
}

// GridRenderer draws an interpolated grid as a raster image, north up.
// NoData cells stay transparent.
type GridRenderer struct {
	Grid       *Grid
	CellSize   int  // pixels per cell (default 4)
	ShowLegend bool // draw the value range in the top-left corner
}

// NewGridRenderer sizes cells so the image is roughly width pixels across
func NewGridRenderer(g *Grid, width int) *GridRenderer {
	cell := 4
	if g != nil && g.Columns > 0 && width > 0 {
		cell = max(1, width/g.Columns)
	}
	return &GridRenderer{Grid: g, CellSize: cell, ShowLegend: true}
}

// Render draws the grid
func (r *GridRenderer) Render() *image.RGBA {
	g := r.Grid
	cell := r.CellSize
	if cell < 1 {
		cell = 4
	}

	img := image.NewRGBA(image.Rect(0, 0, g.Columns*cell, g.Rows*cell))
	lo, hi, ok := g.Range()
	if !ok {
		return img
	}

	for row := 0; row < g.Rows; row++ {
		// Image rows run north to south.
		py := row
		if g.YResolution > 0 {
			py = g.Rows - 1 - row
		}
		for col := 0; col < g.Columns; col++ {
			i := row*g.Columns + col
			if !g.Valid(i) {
				continue
			}
			c := RampColor(g.Values[i], lo, hi)
			for dy := 0; dy < cell; dy++ {
				for dx := 0; dx < cell; dx++ {
					img.Set(col*cell+dx, py*cell+dy, c)
				}
			}
		}
	}

	if r.ShowLegend {
		drawRangeLegend(img, lo, hi)
	}
	return img
}

// WritePNG encodes the rendered grid as PNG
func (r *GridRenderer) WritePNG(w io.Writer) error {
	return png.Encode(w, r.Render())
}

// SavePNG saves the rendered grid to a file
func (r *GridRenderer) SavePNG(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return r.WritePNG(f)
}

// drawRangeLegend labels the low and high ends of the ramp
func drawRangeLegend(img *image.RGBA, lo, hi float64) {
	black := color.RGBA{0, 0, 0, 255}
	y := 15
	for _, v := range []float64{hi, lo} {
		c := RampColor(v, lo, hi)
		for dy := 0; dy < 12; dy++ {
			for dx := 0; dx < 12; dx++ {
				img.Set(10+dx, y+dy-10, c)
			}
		}
		drawText(img, 28, y, fmt.Sprintf("%.2f", v), black)
		y += 18
	}
}

// drawText renders text onto an image at the specified position
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}
