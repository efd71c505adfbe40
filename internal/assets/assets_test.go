package assets

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/bmp"
)

func writeImage(t *testing.T, dir, name string, enc func(*bytes.Buffer, image.Image) error) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 640, 427))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := enc(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestProbeFormats(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, dir, "a.png", func(b *bytes.Buffer, i image.Image) error { return png.Encode(b, i) })
	writeImage(t, dir, "a.bmp", func(b *bytes.Buffer, i image.Image) error { return bmp.Encode(b, i) })
	store := Store{Root: dir}
	for name, format := range map[string]string{"a.png": "png", "a.bmp": "bmp"} {
		info, err := store.Probe(name)
		if err != nil {
			t.Fatalf("probe %s: %v", name, err)
		}
		if info.Width != 640 || info.Height != 427 || info.Format != format {
			t.Fatalf("%s: unexpected info %+v", name, info)
		}
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, dir, "a.png", func(b *bytes.Buffer, i image.Image) error { return png.Encode(b, i) })
	img, format, err := Store{Root: dir}.Load("a.png")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if format != "png" || img.Bounds().Dx() != 640 {
		t.Fatalf("unexpected image %s %v", format, img.Bounds())
	}
}

func TestProbeRejectsGarbage(t *testing.T) {
	if _, err := Probe(bytes.NewReader([]byte("not an image"))); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := (Store{Root: t.TempDir()}).Probe("missing.png"); err == nil {
		t.Fatalf("expected missing file error")
	}
}
