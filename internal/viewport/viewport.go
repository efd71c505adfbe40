// Package viewport maps between the on-screen display surface and the canonical
// annotation coordinate space.
package viewport

import (
	"math"

	"polyscore/internal/geometry"
)

const (
	DefaultMinZoom  = 1.0
	DefaultMaxZoom  = 3.0
	DefaultZoomStep = 0.1
)

// Trigger names what caused a recompute.
type Trigger string

const (
	TriggerImageLoad Trigger = "image_load"
	TriggerResize    Trigger = "resize"
	TriggerModeEntry Trigger = "mode_entry"
)

// Size is a width/height pair in pixels.
type Size struct {
	W float64 `json:"w"`
	H float64 `json:"h"`
}

func (s Size) valid() bool { return s.W > 0 && s.H > 0 }

// State is the derived mapping. Zoom is cosmetic and is never part of the
// screen/canonical conversion.
type State struct {
	ScaleX   float64 `json:"scale_x"`
	ScaleY   float64 `json:"scale_y"`
	OffsetX  float64 `json:"offset_x"`
	OffsetY  float64 `json:"offset_y"`
	DisplayW float64 `json:"display_w"`
	DisplayH float64 `json:"display_h"`
	Zoom     float64 `json:"zoom"`
}

// ZoomConfig bounds the cosmetic zoom factor.
type ZoomConfig struct {
	Min  float64
	Max  float64
	Step float64
}

// DefaultZoom returns the [1, 3] range with a 0.1 step.
func DefaultZoom() ZoomConfig {
	return ZoomConfig{Min: DefaultMinZoom, Max: DefaultMaxZoom, Step: DefaultZoomStep}
}

// Transform owns the viewport state. It is the only writer of State; callers
// get copies.
type Transform struct {
	image     Size
	container Size
	zoomCfg   ZoomConfig
	state     State
}

// New returns a transform in its identity state (scale 1, no offset).
func New(zoom ZoomConfig) *Transform {
	if zoom.Min <= 0 {
		zoom.Min = DefaultMinZoom
	}
	if zoom.Max < zoom.Min {
		zoom.Max = zoom.Min
	}
	if zoom.Step <= 0 {
		zoom.Step = DefaultZoomStep
	}
	t := &Transform{zoomCfg: zoom}
	t.state = identity(zoom.Min)
	return t
}

func identity(zoom float64) State {
	return State{ScaleX: 1, ScaleY: 1, Zoom: zoom}
}

// State returns a copy of the current mapping.
func (t *Transform) State() State { return t.state }

// Image returns the natural image size last supplied.
func (t *Transform) Image() Size { return t.image }

// Container returns the container size last supplied.
func (t *Transform) Container() Size { return t.container }

// SetImage records the image's natural size (image-load completion) and recomputes.
func (t *Transform) SetImage(w, h float64) State {
	t.image = Size{W: w, H: h}
	return t.Recompute(TriggerImageLoad)
}

// SetContainer records the container bounds (resize) and recomputes.
func (t *Transform) SetContainer(w, h float64) State {
	t.container = Size{W: w, H: h}
	return t.Recompute(TriggerResize)
}

// EnterMode recomputes on annotation-mode entry and resets zoom.
func (t *Transform) EnterMode() State {
	t.state.Zoom = t.zoomCfg.Min
	return t.Recompute(TriggerModeEntry)
}

// LeaveMode resets the cosmetic zoom.
func (t *Transform) LeaveMode() {
	t.state.Zoom = t.zoomCfg.Min
}

// Recompute derives scale and offsets from the image and container sizes. The
// image is shrunk to fit, never upscaled, and keeps at least one display pixel
// per axis so both scales stay positive. Until both sizes are known the
// mapping stays identity.
func (t *Transform) Recompute(_ Trigger) State {
	zoom := t.state.Zoom
	if !t.image.valid() || !t.container.valid() {
		t.state = identity(zoom)
		return t.state
	}
	scale := math.Min(math.Min(t.container.W/t.image.W, t.container.H/t.image.H), 1)
	displayW := math.Max(round(t.image.W*scale), 1)
	displayH := math.Max(round(t.image.H*scale), 1)
	t.state = State{
		ScaleX:   displayW / t.image.W,
		ScaleY:   displayH / t.image.H,
		OffsetX:  round((t.container.W - displayW) / 2),
		OffsetY:  round((t.container.H - displayH) / 2),
		DisplayW: displayW,
		DisplayH: displayH,
		Zoom:     zoom,
	}
	return t.state
}

// ToCanonical converts a container-relative screen position to canonical
// annotation coordinates.
func (t *Transform) ToCanonical(screenX, screenY float64) geometry.Point {
	s := t.state
	return geometry.Pt((screenX-s.OffsetX)/s.ScaleX, (screenY-s.OffsetY)/s.ScaleY)
}

// ToDisplay converts a canonical point to container-relative display pixels.
func (t *Transform) ToDisplay(p geometry.Point) (x, y float64) {
	s := t.state
	return p.X*s.ScaleX + s.OffsetX, p.Y*s.ScaleY + s.OffsetY
}

// Wheel applies a scroll gesture. Without the modifier the gesture is ignored
// and changed is false. Scrolling up (negative delta) zooms in.
func (t *Transform) Wheel(deltaY float64, modifier bool) (zoom float64, changed bool) {
	if !modifier || deltaY == 0 {
		return t.state.Zoom, false
	}
	step := t.zoomCfg.Step
	if deltaY > 0 {
		step = -step
	}
	z := math.Round((t.state.Zoom+step)*100) / 100
	z = math.Max(t.zoomCfg.Min, math.Min(t.zoomCfg.Max, z))
	changed = z != t.state.Zoom
	t.state.Zoom = z
	return z, changed
}

// round matches the browser's half-up rounding.
func round(v float64) float64 {
	return math.Floor(v + 0.5)
}
