package pgo

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// TrajectoryColor defines the colors used for one trajectory's elements
type TrajectoryColor struct {
	Path color.NRGBA
	Node color.NRGBA
}

// DefaultColors returns distinct colors for up to 4 trajectories
func DefaultColors() []TrajectoryColor {
	return []TrajectoryColor{
		{ // Blue
			Path: color.NRGBA{100, 149, 237, 255}, // Cornflower blue
			Node: color.NRGBA{0, 0, 139, 255},     // Dark blue
		},
		{ // Green
			Path: color.NRGBA{144, 238, 144, 255}, // Light green
			Node: color.NRGBA{0, 100, 0, 255},     // Dark green
		},
		{ // Yellow
			Path: color.NRGBA{255, 215, 0, 255},  // Gold
			Node: color.NRGBA{184, 134, 11, 255}, // Dark goldenrod
		},
		{ // Purple
			Path: color.NRGBA{186, 85, 211, 255}, // Medium orchid
			Node: color.NRGBA{75, 0, 130, 255},   // Indigo
		},
	}
}

var (
	loopClosureColor = color.RGBA{255, 140, 0, 255} // Dark orange
	rejectedColor    = color.RGBA{220, 20, 60, 255} // Crimson
)

// assignColors maps trajectory names to palette entries in sorted order.
// override, when set, replaces the path color of every trajectory.
func assignColors(trajectories []Trajectory, override string) map[string]TrajectoryColor {
	palette := DefaultColors()
	out := make(map[string]TrajectoryColor, len(trajectories))
	for i, t := range trajectories {
		tc := palette[i%len(palette)]
		if override != "" {
			c := parseHexColor(override)
			tc.Path = color.NRGBA{c.R, c.G, c.B, 255}
		}
		out[t.Name] = tc
	}
	return out
}

// GraphRenderer draws an estimate into a raster image
type GraphRenderer struct {
	Estimate *Estimate
	Rejected []Rejection
	Color    string  // Optional hex override for trajectory paths
	Scale    float64 // Pixels per meter (default 20)
	Padding  int     // Padding around the image in pixels
	Title    string
}

// NewGraphRenderer creates a raster renderer with default settings
func NewGraphRenderer(est *Estimate, rejected []Rejection) *GraphRenderer {
	return &GraphRenderer{
		Estimate: est,
		Rejected: rejected,
		Scale:    20,
		Padding:  40,
	}
}

// Render draws trajectories, accepted loop closures and rejected loop
// closures whose endpoints are known.
func (r *GraphRenderer) Render() *image.RGBA {
	bound, ok := EstimateBound(r.Estimate)
	minX, minY := bound.Min[0], bound.Min[1]
	maxX, maxY := bound.Max[0], bound.Max[1]

	width := int((maxX-minX)*r.Scale) + 2*r.Padding
	height := int((maxY-minY)*r.Scale) + 2*r.Padding

	// Limit size
	if width > 4000 {
		r.Scale *= float64(4000) / float64(width)
		width = 4000
		height = int((maxY-minY)*r.Scale) + 2*r.Padding
	}
	if height > 4000 {
		r.Scale *= float64(4000) / float64(height)
		height = 4000
		width = int((maxX-minX)*r.Scale) + 2*r.Padding
	}
	if !ok || width <= 0 || height <= 0 {
		width, height = 2*r.Padding+1, 2*r.Padding+1
	}
	// Leave room for the legend
	if width < 200 {
		width = 200
	}
	if height < 80 {
		height = 80
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{250, 250, 250, 255})
		}
	}

	// Image y grows downward; flip so the map reads like the world frame.
	toImage := func(p Pose2) (int, int) {
		x := int((p.X-minX)*r.Scale) + r.Padding
		y := height - (int((p.Y-minY)*r.Scale) + r.Padding)
		return x, y
	}

	trajectories := Trajectories(r.Estimate)
	colors := assignColors(trajectories, r.Color)

	// First pass: odometry chains
	for _, t := range trajectories {
		tc := colors[t.Name]
		c := color.RGBA{tc.Path.R, tc.Path.G, tc.Path.B, 255}
		for i := 1; i < len(t.Poses); i++ {
			x0, y0 := toImage(t.Poses[i-1])
			x1, y1 := toImage(t.Poses[i])
			drawLine(img, x0, y0, x1, y1, c)
		}
	}

	// Second pass: loop closures
	for _, c := range r.Estimate.Graph {
		if c.Type != LoopClosure || len(c.Keys) != 2 {
			continue
		}
		a, okA := r.Estimate.Values.Get(c.Keys[0])
		b, okB := r.Estimate.Values.Get(c.Keys[1])
		if okA && okB {
			x0, y0 := toImage(a)
			x1, y1 := toImage(b)
			drawLine(img, x0, y0, x1, y1, loopClosureColor)
		}
	}
	for _, rej := range r.Rejected {
		c := rej.Constraint
		if c.Type != LoopClosure || len(c.Keys) != 2 {
			continue
		}
		a, okA := r.Estimate.Values.Get(c.Keys[0])
		b, okB := r.Estimate.Values.Get(c.Keys[1])
		if okA && okB {
			x0, y0 := toImage(a)
			x1, y1 := toImage(b)
			drawDashedLine(img, x0, y0, x1, y1, 6, rejectedColor)
		}
	}

	// Third pass: nodes
	for _, t := range trajectories {
		tc := colors[t.Name]
		c := color.RGBA{tc.Node.R, tc.Node.G, tc.Node.B, 255}
		for _, p := range t.Poses {
			x, y := toImage(p)
			drawCircle(img, x, y, 2, c)
		}
	}

	r.drawLegend(img, trajectories, colors)
	return img
}

// SavePNG renders and saves the image to a file
func (r *GraphRenderer) SavePNG(path string) error {
	img := r.Render()

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return png.Encode(f, img)
}

// drawLegend adds the title, one swatch per trajectory, and graph counts
func (r *GraphRenderer) drawLegend(img *image.RGBA, trajectories []Trajectory, colors map[string]TrajectoryColor) {
	black := color.RGBA{0, 0, 0, 255}
	y := 15
	if r.Title != "" {
		drawText(img, 10, y, r.Title, black)
		y += 18
	}
	for _, t := range trajectories {
		tc := colors[t.Name]
		for dy := 0; dy < 12; dy++ {
			for dx := 0; dx < 12; dx++ {
				img.Set(10+dx, y+dy-10, tc.Path)
			}
		}
		drawText(img, 28, y, fmt.Sprintf("%s (%d)", t.Name, len(t.Poses)), black)
		y += 18
	}
	stats := r.Estimate.Stats()
	drawText(img, 10, y, fmt.Sprintf("lc %d / rejected %d", stats.LoopClosures, len(r.Rejected)), black)
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

// drawCircle draws a filled circle
func drawCircle(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				setPixel(img, cx+dx, cy+dy, c)
			}
		}
	}
}

// drawLine draws a line using Bresenham's algorithm
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	drawDashedLine(img, x0, y0, x1, y1, 0, c)
}

// drawDashedLine draws a line with dashes of the given length; 0 draws solid
func drawDashedLine(img *image.RGBA, x0, y0, x1, y1, dash int, c color.RGBA) {
	dx := int(math.Abs(float64(x1 - x0)))
	dy := -int(math.Abs(float64(y1 - y0)))
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for step := 0; ; step++ {
		if dash <= 0 || (step/dash)%2 == 0 {
			setPixel(img, x0, y0, c)
		}
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

func setPixel(img *image.RGBA, x, y int, c color.RGBA) {
	if x >= 0 && x < img.Bounds().Max.X && y >= 0 && y < img.Bounds().Max.Y {
		img.Set(x, y, c)
	}
}

// parseHexColor parses "#rrggbb"; malformed input falls back to red
func parseHexColor(hex string) color.RGBA {
	defaultColor := color.RGBA{255, 0, 0, 255}

	if len(hex) == 0 {
		return defaultColor
	}
	if hex[0] == '#' {
		hex = hex[1:]
	}
	if len(hex) != 6 {
		return defaultColor
	}

	var r, g, b uint8
	if _, err := fmt.Sscanf(hex, "%02x%02x%02x", &r, &g, &b); err != nil {
		return defaultColor
	}
	return color.RGBA{r, g, b, 255}
}
