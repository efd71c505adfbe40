// Package geometry holds the polygon primitives used for scoring: shoelace area,
// axis-aligned bounds and the bounding-box IoU approximation.
package geometry

import (
	"encoding/json"
	"fmt"
	"math"
)

// Point is a coordinate in canonical annotation space (the ground-truth image's
// native pixel grid).
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Pt is shorthand for Point{X: x, Y: y}.
func Pt(x, y float64) Point {
	return Point{X: x, Y: y}
}

// MarshalJSON encodes a point as the [x, y] pair used by ground-truth files.
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.X, p.Y})
}

// UnmarshalJSON accepts either an [x, y] pair or an {"x":..,"y":..} object.
func (p *Point) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err == nil {
		if len(pair) < 2 {
			return fmt.Errorf("point needs 2 coordinates, got %d", len(pair))
		}
		p.X, p.Y = pair[0], pair[1]
		return nil
	}
	var obj struct {
		X *float64 `json:"x"`
		Y *float64 `json:"y"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("invalid point: %w", err)
	}
	if obj.X == nil || obj.Y == nil {
		return fmt.Errorf("point object requires x and y")
	}
	p.X, p.Y = *obj.X, *obj.Y
	return nil
}

// Polygon is an open ring: the last point implicitly connects back to the first.
// The closing edge is applied by the functions in this package and never stored.
type Polygon []Point

// Clone returns a copy that does not share the backing array.
func (p Polygon) Clone() Polygon {
	if p == nil {
		return nil
	}
	out := make(Polygon, len(p))
	copy(out, p)
	return out
}

// Box is an axis-aligned bounding box.
type Box struct {
	MinX, MinY, MaxX, MaxY float64
}

// Width of the box, never negative.
func (b Box) Width() float64 { return math.Max(0, b.MaxX-b.MinX) }

// Height of the box, never negative.
func (b Box) Height() float64 { return math.Max(0, b.MaxY-b.MinY) }

// Area of the box.
func (b Box) Area() float64 { return b.Width() * b.Height() }

// Intersect returns the overlap of two boxes. Disjoint boxes produce a box with
// zero width or height.
func (b Box) Intersect(o Box) Box {
	return Box{
		MinX: math.Max(b.MinX, o.MinX),
		MinY: math.Max(b.MinY, o.MinY),
		MaxX: math.Min(b.MaxX, o.MaxX),
		MaxY: math.Min(b.MaxY, o.MaxY),
	}
}

// Bounds returns the bounding box of the polygon. The zero Box is returned for
// an empty polygon.
func Bounds(p Polygon) Box {
	if len(p) == 0 {
		return Box{}
	}
	b := Box{MinX: p[0].X, MinY: p[0].Y, MaxX: p[0].X, MaxY: p[0].Y}
	for _, pt := range p[1:] {
		b.MinX = math.Min(b.MinX, pt.X)
		b.MinY = math.Min(b.MinY, pt.Y)
		b.MaxX = math.Max(b.MaxX, pt.X)
		b.MaxY = math.Max(b.MaxY, pt.Y)
	}
	return b
}

// Area is the absolute shoelace area over the implicit closure. Polygons with
// fewer than three points have no area.
func Area(p Polygon) float64 {
	n := len(p)
	if n < 3 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		a, b := p[i], p[(i+1)%n]
		sum += a.X*b.Y - b.X*a.Y
	}
	return math.Abs(sum) / 2
}

// IoU approximates intersection-over-union of two polygons. The intersection is
// the overlap of their bounding boxes, not a true polygon clip; the union uses
// the real shoelace areas. A zero-area operand yields 0.
func IoU(p, q Polygon) float64 {
	areaP, areaQ := Area(p), Area(q)
	if areaP == 0 || areaQ == 0 {
		return 0
	}
	inter := Bounds(p).Intersect(Bounds(q)).Area()
	union := areaP + areaQ - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// BestIoU scores p against every candidate and returns the maximum. found
// reports whether at least one candidate had a positive area; when it is false
// the returned score is 0.
func BestIoU(p Polygon, candidates []Polygon) (best float64, found bool) {
	for _, c := range candidates {
		if Area(c) == 0 {
			continue
		}
		found = true
		if s := IoU(p, c); s > best {
			best = s
		}
	}
	return best, found
}
