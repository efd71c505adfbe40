package viewport

import (
	"math"
	"testing"

	"polyscore/internal/geometry"
)

func TestRecomputeShrinksToFit(t *testing.T) {
	tr := New(DefaultZoom())
	tr.SetImage(2000, 1000)
	st := tr.SetContainer(1000, 800)
	if st.DisplayW != 1000 || st.DisplayH != 500 {
		t.Fatalf("unexpected display size %vx%v", st.DisplayW, st.DisplayH)
	}
	if st.ScaleX != 0.5 || st.ScaleY != 0.5 {
		t.Fatalf("unexpected scale %v/%v", st.ScaleX, st.ScaleY)
	}
	if st.OffsetX != 0 || st.OffsetY != 150 {
		t.Fatalf("unexpected offsets %v/%v", st.OffsetX, st.OffsetY)
	}
}

func TestRecomputeNeverUpscales(t *testing.T) {
	tr := New(DefaultZoom())
	tr.SetContainer(1200, 900)
	st := tr.SetImage(400, 300)
	if st.ScaleX != 1 || st.ScaleY != 1 {
		t.Fatalf("expected native scale, got %v/%v", st.ScaleX, st.ScaleY)
	}
	if st.OffsetX != 400 || st.OffsetY != 300 {
		t.Fatalf("expected centered offsets, got %v/%v", st.OffsetX, st.OffsetY)
	}
}

func TestRecomputeRoundsDisplaySize(t *testing.T) {
	tr := New(DefaultZoom())
	tr.SetImage(333, 777)
	st := tr.SetContainer(500, 500)
	// scale = 500/777
	wantW := math.Floor(333*500.0/777 + 0.5)
	if st.DisplayW != wantW || st.DisplayH != 500 {
		t.Fatalf("unexpected display %vx%v", st.DisplayW, st.DisplayH)
	}
	if st.ScaleX != wantW/333 {
		t.Fatalf("scaleX must follow rounded display width, got %v", st.ScaleX)
	}
}

func TestThinImageKeepsOneDisplayPixel(t *testing.T) {
	tr := New(DefaultZoom())
	tr.SetImage(10, 4000)
	st := tr.SetContainer(100, 100)
	if st.DisplayW != 1 || st.DisplayH != 100 {
		t.Fatalf("unexpected display size %vx%v", st.DisplayW, st.DisplayH)
	}
	if st.ScaleX <= 0 || st.ScaleY <= 0 {
		t.Fatalf("scales must stay positive, got %v/%v", st.ScaleX, st.ScaleY)
	}
	p := tr.ToCanonical(50, 40)
	if math.IsInf(p.X, 0) || math.IsNaN(p.X) || math.IsInf(p.Y, 0) || math.IsNaN(p.Y) {
		t.Fatalf("non-finite canonical point %+v", p)
	}
}

func TestIdentityBeforeImageKnown(t *testing.T) {
	tr := New(DefaultZoom())
	st := tr.SetContainer(800, 600)
	if st.ScaleX != 1 || st.ScaleY != 1 || st.OffsetX != 0 || st.OffsetY != 0 {
		t.Fatalf("expected identity, got %+v", st)
	}
	if p := tr.ToCanonical(12, 34); p != geometry.Pt(12, 34) {
		t.Fatalf("unexpected canonical %v", p)
	}
}

func TestCanonicalRoundTrip(t *testing.T) {
	tr := New(DefaultZoom())
	tr.SetImage(1600, 1200)
	tr.SetContainer(1000, 1000)
	p := tr.ToCanonical(500, 500)
	x, y := tr.ToDisplay(p)
	if math.Abs(x-500) > 1e-9 || math.Abs(y-500) > 1e-9 {
		t.Fatalf("round trip mismatch: %v,%v", x, y)
	}
	if math.Abs(p.X-800) > 1e-9 || math.Abs(p.Y-600) > 1e-9 {
		t.Fatalf("expected image center, got %v", p)
	}
}

func TestZoomDoesNotAffectConversion(t *testing.T) {
	tr := New(DefaultZoom())
	tr.SetImage(1000, 1000)
	tr.SetContainer(500, 500)
	before := tr.ToCanonical(100, 200)
	for i := 0; i < 5; i++ {
		tr.Wheel(-1, true)
	}
	st := tr.State()
	if math.Abs(st.Zoom-1.5) > 1e-9 {
		t.Fatalf("expected zoom 1.5, got %v", st.Zoom)
	}
	if st.ScaleX != 0.5 {
		t.Fatalf("zoom leaked into scale: %v", st.ScaleX)
	}
	if after := tr.ToCanonical(100, 200); after != before {
		t.Fatalf("conversion changed with zoom: %v vs %v", after, before)
	}
}

func TestWheelClampAndModifier(t *testing.T) {
	tr := New(DefaultZoom())
	if _, changed := tr.Wheel(-1, false); changed {
		t.Fatalf("wheel without modifier must be ignored")
	}
	if z, changed := tr.Wheel(1, true); changed || z != 1 {
		t.Fatalf("zoom out below min: %v %v", z, changed)
	}
	var z float64
	for i := 0; i < 40; i++ {
		z, _ = tr.Wheel(-3, true)
	}
	if z != 3 {
		t.Fatalf("expected clamp at 3, got %v", z)
	}
	z, _ = tr.Wheel(2, true)
	if z != 2.9 {
		t.Fatalf("expected 2.9, got %v", z)
	}
}

func TestEnterModeResetsZoom(t *testing.T) {
	tr := New(DefaultZoom())
	tr.Wheel(-1, true)
	tr.Wheel(-1, true)
	st := tr.EnterMode()
	if st.Zoom != 1 {
		t.Fatalf("expected zoom reset, got %v", st.Zoom)
	}
}
