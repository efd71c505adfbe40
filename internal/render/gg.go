package render

import (
	"fmt"
	"image"
	"io"

	"github.com/gogpu/gg"

	"polyscore/internal/geometry"
)

// Canvas is a Surface rasterized by gg at the image's natural resolution.
type Canvas struct {
	dc *gg.Context
	bg image.Image
}

// NewCanvas returns a transparent canvas of w by h pixels.
func NewCanvas(w, h int) (*Canvas, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid canvas size %dx%d", w, h)
	}
	return &Canvas{dc: gg.NewContext(w, h)}, nil
}

// NewCanvasOver returns a canvas that draws on top of bg. Clear restores bg
// instead of erasing to transparent.
func NewCanvasOver(bg image.Image) *Canvas {
	return &Canvas{dc: gg.NewContextForImage(bg), bg: bg}
}

// Size reports the pixel dimensions.
func (c *Canvas) Size() (w, h int) {
	return c.dc.Width(), c.dc.Height()
}

func (c *Canvas) Clear() {
	if c.bg == nil {
		c.dc.Clear()
		return
	}
	_ = c.dc.Close()
	c.dc = gg.NewContextForImage(c.bg)
}

func (c *Canvas) StrokePolyline(points geometry.Polygon, closed bool, s Stroke) error {
	if len(points) == 0 {
		return nil
	}
	c.setColor(s.Color)
	c.dc.SetLineWidth(s.Width)
	if len(s.Dash) > 0 {
		c.dc.SetDash(s.Dash...)
	} else {
		c.dc.ClearDash()
	}
	c.dc.MoveTo(points[0].X, points[0].Y)
	for _, p := range points[1:] {
		c.dc.LineTo(p.X, p.Y)
	}
	if closed {
		c.dc.ClosePath()
	}
	if err := c.dc.Stroke(); err != nil {
		return fmt.Errorf("stroke polyline: %w", err)
	}
	return nil
}

func (c *Canvas) FillCircle(center geometry.Point, radius float64, col Color) error {
	c.setColor(col)
	c.dc.DrawCircle(center.X, center.Y, radius)
	if err := c.dc.Fill(); err != nil {
		return fmt.Errorf("fill circle: %w", err)
	}
	return nil
}

func (c *Canvas) setColor(col Color) {
	c.dc.SetRGBA(float64(col.R)/255, float64(col.G)/255, float64(col.B)/255, col.A)
}

// Image returns the rasterized result.
func (c *Canvas) Image() image.Image {
	return c.dc.Image()
}

// EncodePNG writes the canvas as PNG.
func (c *Canvas) EncodePNG(w io.Writer) error {
	return c.dc.EncodePNG(w)
}

// Close releases the gg context.
func (c *Canvas) Close() error {
	return c.dc.Close()
}

// PNG renders f onto a fresh w by h canvas and writes it to out.
func (r *Renderer) PNG(out io.Writer, w, h int, f Frame) error {
	canvas, err := NewCanvas(w, h)
	if err != nil {
		return err
	}
	defer canvas.Close()
	if err := r.Draw(canvas, f); err != nil {
		return err
	}
	return canvas.EncodePNG(out)
}
