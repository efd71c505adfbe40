// Package assets reads annotation images: their natural size, which sets the
// canonical coordinate space, and their pixels for overlay backgrounds.
package assets

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Info describes an image without decoding its pixels.
type Info struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
}

// Probe reads just enough of r to learn the image's size and format.
func Probe(r io.Reader) (Info, error) {
	cfg, format, err := image.DecodeConfig(r)
	if err != nil {
		return Info{}, fmt.Errorf("probe image: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Info{}, fmt.Errorf("probe image: empty %s image", format)
	}
	return Info{Width: cfg.Width, Height: cfg.Height, Format: format}, nil
}

// Store resolves image paths against a root directory.
type Store struct {
	Root string
}

// Path resolves name against the root unless it is absolute.
func (s Store) Path(name string) string {
	if filepath.IsAbs(name) || s.Root == "" {
		return filepath.Clean(name)
	}
	return filepath.Join(s.Root, filepath.FromSlash(name))
}

// Probe returns the size of the named image.
func (s Store) Probe(name string) (Info, error) {
	fh, err := os.Open(s.Path(name))
	if err != nil {
		return Info{}, err
	}
	defer fh.Close()
	return Probe(fh)
}

// Load decodes the named image.
func (s Store) Load(name string) (image.Image, string, error) {
	fh, err := os.Open(s.Path(name))
	if err != nil {
		return nil, "", err
	}
	defer fh.Close()
	img, format, err := image.Decode(fh)
	if err != nil {
		return nil, "", fmt.Errorf("decode image %s: %w", name, err)
	}
	return img, format, nil
}
