package pgo

import (
	"fmt"
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// nrgbaToRGBA converts color.NRGBA to color.RGBA by premultiplying alpha,
// which is what the canvas library expects.
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

// VectorRenderer renders an estimate as vector graphics
type VectorRenderer struct {
	Estimate    *Estimate
	Rejected    []Rejection
	Color       string            // Optional hex override for trajectory paths
	Scale       float64           // Canvas millimeters per meter
	Padding     float64           // Padding in meters
	Resolution  canvas.Resolution // Resolution for PNG output (default: 300 DPI)
	GridSpacing float64           // Grid line spacing in meters; 0 disables
}

// NewVectorRenderer creates a vector renderer with default settings
func NewVectorRenderer(est *Estimate, rejected []Rejection) *VectorRenderer {
	return &VectorRenderer{
		Estimate:    est,
		Rejected:    rejected,
		Scale:       10.0,
		Padding:     2.0,
		Resolution:  canvas.DPI(300),
		GridSpacing: 5.0,
	}
}

// canvasRenderer is implemented by both the svg and rasterizer renderers
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// RenderToSVG writes the graph as an SVG to the provided writer
func (r *VectorRenderer) RenderToSVG(w io.Writer) error {
	minX, minY, maxX, maxY := r.worldBounds()
	width, height := r.canvasSize(minX, minY, maxX, maxY)

	svgRenderer := svg.New(w, width, height, nil)
	r.renderToCanvas(svgRenderer, minX, minY, maxX, maxY, width, height)
	if err := svgRenderer.Close(); err != nil {
		return fmt.Errorf("closing SVG: %w", err)
	}
	return nil
}

// RenderToPNG writes the graph as a PNG to the provided writer
func (r *VectorRenderer) RenderToPNG(w io.Writer) error {
	minX, minY, maxX, maxY := r.worldBounds()
	width, height := r.canvasSize(minX, minY, maxX, maxY)

	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, minX, minY, maxX, maxY, width, height)
	return png.Encode(w, rast)
}

func (r *VectorRenderer) worldBounds() (minX, minY, maxX, maxY float64) {
	b, ok := EstimateBound(r.Estimate)
	if !ok {
		return 0, 0, 0, 0
	}
	return b.Min[0], b.Min[1], b.Max[0], b.Max[1]
}

func (r *VectorRenderer) canvasSize(minX, minY, maxX, maxY float64) (float64, float64) {
	width := ((maxX - minX) + 2*r.Padding) * r.Scale
	height := ((maxY - minY) + 2*r.Padding) * r.Scale
	return math.Max(width, 1), math.Max(height, 1)
}

// renderToCanvas holds the drawing logic shared by SVG and PNG output.
// Canvas coordinates have y pointing up, matching the world frame.
func (r *VectorRenderer) renderToCanvas(renderer canvasRenderer, minX, minY, maxX, maxY, width, height float64) {
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	toCanvas := func(x, y float64) (float64, float64) {
		return (x - minX + r.Padding) * r.Scale, (y - minY + r.Padding) * r.Scale
	}
	line := func(a, b Pose2) *canvas.Path {
		p := &canvas.Path{}
		x0, y0 := toCanvas(a.X, a.Y)
		x1, y1 := toCanvas(b.X, b.Y)
		p.MoveTo(x0, y0)
		p.LineTo(x1, y1)
		return p
	}

	// Grid
	if r.GridSpacing > 0 {
		gridStyle := canvas.DefaultStyle
		gridStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		gridStyle.Stroke = canvas.Paint{Color: canvas.Gray}
		gridStyle.StrokeWidth = 0.2
		gridStyle.Dashes = []float64{1.0, 1.0}

		for x := math.Floor(minX/r.GridSpacing) * r.GridSpacing; x <= maxX; x += r.GridSpacing {
			gridPath := &canvas.Path{}
			x1, y1 := toCanvas(x, minY)
			x2, y2 := toCanvas(x, maxY)
			gridPath.MoveTo(x1, y1)
			gridPath.LineTo(x2, y2)
			renderer.RenderPath(gridPath, gridStyle, canvas.Identity)
		}
		for y := math.Floor(minY/r.GridSpacing) * r.GridSpacing; y <= maxY; y += r.GridSpacing {
			gridPath := &canvas.Path{}
			x1, y1 := toCanvas(minX, y)
			x2, y2 := toCanvas(maxX, y)
			gridPath.MoveTo(x1, y1)
			gridPath.LineTo(x2, y2)
			renderer.RenderPath(gridPath, gridStyle, canvas.Identity)
		}
	}

	trajectories := Trajectories(r.Estimate)
	colors := assignColors(trajectories, r.Color)

	// Odometry chains
	for _, t := range trajectories {
		if len(t.Poses) < 2 {
			continue
		}
		pathStyle := canvas.DefaultStyle
		pathStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		pathStyle.Stroke = canvas.Paint{Color: nrgbaToRGBA(colors[t.Name].Path)}
		pathStyle.StrokeWidth = 0.8

		cp := &canvas.Path{}
		for i, p := range t.Poses {
			cx, cy := toCanvas(p.X, p.Y)
			if i == 0 {
				cp.MoveTo(cx, cy)
			} else {
				cp.LineTo(cx, cy)
			}
		}
		renderer.RenderPath(cp, pathStyle, canvas.Identity)
	}

	// Accepted loop closures
	lcStyle := canvas.DefaultStyle
	lcStyle.Fill = canvas.Paint{Color: canvas.Transparent}
	lcStyle.Stroke = canvas.Paint{Color: loopClosureColor}
	lcStyle.StrokeWidth = 0.5
	for _, c := range r.Estimate.Graph {
		if c.Type != LoopClosure || len(c.Keys) != 2 {
			continue
		}
		a, okA := r.Estimate.Values.Get(c.Keys[0])
		b, okB := r.Estimate.Values.Get(c.Keys[1])
		if okA && okB {
			renderer.RenderPath(line(a, b), lcStyle, canvas.Identity)
		}
	}

	// Rejected loop closures
	rejStyle := canvas.DefaultStyle
	rejStyle.Fill = canvas.Paint{Color: canvas.Transparent}
	rejStyle.Stroke = canvas.Paint{Color: rejectedColor}
	rejStyle.StrokeWidth = 0.5
	rejStyle.Dashes = []float64{2.0, 1.5}
	for _, rej := range r.Rejected {
		c := rej.Constraint
		if c.Type != LoopClosure || len(c.Keys) != 2 {
			continue
		}
		a, okA := r.Estimate.Values.Get(c.Keys[0])
		b, okB := r.Estimate.Values.Get(c.Keys[1])
		if okA && okB {
			renderer.RenderPath(line(a, b), rejStyle, canvas.Identity)
		}
	}

	// Nodes with heading ticks
	for _, t := range trajectories {
		nodeStyle := canvas.DefaultStyle
		nodeStyle.Fill = canvas.Paint{Color: nrgbaToRGBA(colors[t.Name].Node)}
		nodeStyle.Stroke = canvas.Paint{Color: canvas.Transparent}

		headStyle := canvas.DefaultStyle
		headStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		headStyle.Stroke = canvas.Paint{Color: nrgbaToRGBA(colors[t.Name].Node)}
		headStyle.StrokeWidth = 0.3

		for _, p := range t.Poses {
			cx, cy := toCanvas(p.X, p.Y)
			renderer.RenderPath(canvas.Circle(0.8).Translate(cx, cy), nodeStyle, canvas.Identity)

			tick := &canvas.Path{}
			tick.MoveTo(cx, cy)
			tick.LineTo(cx+2.0*math.Cos(p.Theta), cy+2.0*math.Sin(p.Theta))
			renderer.RenderPath(tick, headStyle, canvas.Identity)
		}
	}
}
