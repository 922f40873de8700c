// Package matcher finds faces in a frame and resolves them against the registry.
package matcher

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"

	"github.com/andresmejia3/vigil/internal/registry"
	"github.com/andresmejia3/vigil/internal/types"
	"github.com/andresmejia3/vigil/internal/worker"
)

const (
	// UnknownName labels faces with no registry entry within tolerance.
	UnknownName = "Unknown"

	DefaultTolerance = 0.6
	DefaultScale     = 4
)

// Match is one face found in a frame, in full-resolution coordinates.
type Match struct {
	Box      types.Box
	Name     string
	Distance float64
	Known    bool
}

// Engine is stateless apart from its configuration.
type Engine struct {
	reg       *registry.Registry
	enc       worker.Encoder
	tolerance float64
	scale     int
}

func New(reg *registry.Registry, enc worker.Encoder, tolerance float64) *Engine {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Engine{reg: reg, enc: enc, tolerance: tolerance, scale: DefaultScale}
}

// Match downscales the frame, encodes the faces in it and looks each one up.
// Results follow detector order.
func (e *Engine) Match(ctx context.Context, frame image.Image) ([]Match, error) {
	small := Downscale(frame, e.scale)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, small, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("failed to encode downscaled frame: %w", err)
	}

	faces, err := e.enc.Encode(ctx, buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("face encoding failed: %w", err)
	}

	matches := make([]Match, 0, len(faces))
	for _, f := range faces {
		m := Match{Box: f.Loc.Scale(e.scale), Name: UnknownName}
		id, dist, ok := e.reg.Nearest(f.Vec, e.tolerance)
		m.Distance = dist
		if ok {
			m.Name, m.Known = id.Name, true
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// Downscale shrinks img by an integer factor with bilinear sampling.
func Downscale(img image.Image, factor int) *image.RGBA {
	b := img.Bounds()
	w, h := max(b.Dx()/factor, 1), max(b.Dy()/factor, 1)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
