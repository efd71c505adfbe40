// Package render draws the annotation overlay: the dashed ground-truth
// outlines and the player's in-progress polygon with its point markers.
package render

import (
	"polyscore/internal/geometry"
)

// Color is an sRGB color with 0-255 channels and a 0-1 alpha, the way CSS
// rgba() spells it.
type Color struct {
	R, G, B uint8
	A       float64
}

// RGBA builds a Color.
func RGBA(r, g, b uint8, a float64) Color {
	return Color{R: r, G: g, B: b, A: a}
}

// WithAlpha scales the alpha channel.
func (c Color) WithAlpha(f float64) Color {
	c.A *= f
	return c
}

// Stroke describes a line style. An empty Dash is solid.
type Stroke struct {
	Color Color
	Width float64
	Dash  []float64
}

// Surface receives drawing commands in canonical coordinates.
type Surface interface {
	Clear()
	StrokePolyline(points geometry.Polygon, closed bool, s Stroke) error
	FillCircle(center geometry.Point, radius float64, c Color) error
}

// Style is the overlay's look.
type Style struct {
	GroundTruth Stroke
	Current     Stroke
	PointRadius float64
	PointColor  Color
}

var accent = RGBA(255, 122, 37, 1)

// DefaultStyle matches the page: a thick dashed ground-truth outline and a
// thinner solid player polygon.
func DefaultStyle() Style {
	return Style{
		GroundTruth: Stroke{Color: accent, Width: 3, Dash: []float64{8, 6}},
		Current:     Stroke{Color: accent.WithAlpha(0.95), Width: 1.2},
		PointRadius: 3,
		PointColor:  accent.WithAlpha(0.95),
	}
}

// Frame is one overlay to draw.
type Frame struct {
	GroundTruth []geometry.Polygon
	Current     geometry.Polygon
	// Alpha fades the player polygon; zero means fully opaque.
	Alpha float64
}

// Renderer issues a Frame's commands onto a Surface.
type Renderer struct {
	Style Style
}

// New returns a renderer with DefaultStyle.
func New() *Renderer {
	return &Renderer{Style: DefaultStyle()}
}

// Draw clears the surface and draws the frame. Ground-truth objects with no
// points are skipped.
func (r *Renderer) Draw(s Surface, f Frame) error {
	s.Clear()
	for _, poly := range f.GroundTruth {
		if len(poly) == 0 {
			continue
		}
		if err := s.StrokePolyline(poly, true, r.Style.GroundTruth); err != nil {
			return err
		}
	}
	return r.drawCurrent(s, f.Current, f.Alpha)
}

func (r *Renderer) drawCurrent(s Surface, pts geometry.Polygon, alpha float64) error {
	if len(pts) == 0 {
		return nil
	}
	if alpha <= 0 || alpha > 1 {
		alpha = 1
	}
	stroke := r.Style.Current
	stroke.Color = stroke.Color.WithAlpha(alpha)
	stroke.Dash = nil
	if err := s.StrokePolyline(pts, len(pts) > 2, stroke); err != nil {
		return err
	}
	dot := r.Style.PointColor.WithAlpha(alpha)
	for _, p := range pts {
		if err := s.FillCircle(p, r.Style.PointRadius, dot); err != nil {
			return err
		}
	}
	return nil
}
