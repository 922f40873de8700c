// Package workertest provides deterministic face encoders and images for tests.
package workertest

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/andresmejia3/vigil/internal/types"
)

var (
	Red   = color.RGBA{R: 220, A: 255}
	Green = color.RGBA{G: 220, A: 255}
	Blue  = color.RGBA{B: 220, A: 255}
	Gray  = color.RGBA{R: 128, G: 128, B: 128, A: 255}
)

// Solid returns a w×h image filled with c.
func Solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

// PNG encodes a solid image.
func PNG(t testing.TB, w, h int, c color.Color) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, Solid(w, h, c)); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

// JPEG encodes a solid image.
func JPEG(t testing.TB, w, h int, c color.Color) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, Solid(w, h, c), &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("jpeg encode: %v", err)
	}
	return buf.Bytes()
}

// WritePNG writes a solid PNG into dir and returns its path.
func WritePNG(t testing.TB, dir, name string, c color.Color) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, PNG(t, 64, 64, c), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// Dominant names the strongest channel of the image's centre pixel: "red",
// "green", "blue", or "gray" when no channel stands out. It survives lossy
// re-encoding and scaling of solid test images.
func Dominant(img image.Image) string {
	b := img.Bounds()
	r, g, bl, _ := img.At(b.Min.X+b.Dx()/2, b.Min.Y+b.Dy()/2).RGBA()
	const margin = 0x3000
	switch {
	case r > g+margin && r > bl+margin:
		return "red"
	case g > r+margin && g > bl+margin:
		return "green"
	case bl > r+margin && bl > g+margin:
		return "blue"
	}
	return "gray"
}

// ColorEncoder returns faces keyed by the dominant colour of the submitted
// image. Unknown colours yield no faces.
type ColorEncoder struct {
	Faces map[string][]types.Face
	Err   error
	calls atomic.Int64
}

func (e *ColorEncoder) Encode(_ context.Context, data []byte) ([]types.Face, error) {
	e.calls.Add(1)
	if e.Err != nil {
		return nil, e.Err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.New("workertest: undecodable image")
	}
	return e.Faces[Dominant(img)], nil
}

// Calls is the number of Encode invocations so far.
func (e *ColorEncoder) Calls() int { return int(e.calls.Load()) }

// Face builds a face with the given box and embedding.
func Face(top, right, bottom, left int, vec ...float64) types.Face {
	return types.Face{Loc: types.Box{Top: top, Right: right, Bottom: bottom, Left: left}, Vec: vec}
}
