package matcher

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/andresmejia3/vigil/internal/registry"
	"github.com/andresmejia3/vigil/internal/types"
	"github.com/andresmejia3/vigil/internal/worker"
	"github.com/andresmejia3/vigil/internal/worker/workertest"
)

func buildRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	dir := t.TempDir()
	refs := []registry.Reference{{
		Name: "bob", ExternalID: "42", Contact: "555",
		Path: workertest.WritePNG(t, dir, "bob_42.png", workertest.Red),
	}}
	enc := &workertest.ColorEncoder{Faces: map[string][]types.Face{
		"red": {workertest.Face(0, 1, 1, 0, 1, 1)},
	}}
	reg, _, err := registry.Build(context.Background(), refs, enc, log)
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

func TestMatch(t *testing.T) {
	reg := buildRegistry(t)

	var gotBounds [2]int
	enc := worker.EncoderFunc(func(_ context.Context, img []byte) ([]types.Face, error) {
		decoded, err := decodeJPEG(img)
		if err != nil {
			return nil, err
		}
		gotBounds = [2]int{decoded.Bounds().Dx(), decoded.Bounds().Dy()}
		return []types.Face{
			workertest.Face(10, 30, 40, 5, 1, 1.1), // bob, distance 0.1
			workertest.Face(1, 2, 3, 0, 9, 9),      // stranger
		}, nil
	})

	e := New(reg, enc, 0.6)
	matches, err := e.Match(context.Background(), workertest.Solid(640, 480, workertest.Gray))
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}

	if gotBounds != [2]int{160, 120} {
		t.Errorf("encoder saw %v, want quarter-size 160x120", gotBounds)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}

	bob := matches[0]
	if !bob.Known || bob.Name != "bob" {
		t.Errorf("first match = %+v, want known bob", bob)
	}
	want := types.Box{Top: 40, Right: 120, Bottom: 160, Left: 20}
	if bob.Box != want {
		t.Errorf("box = %+v, want %+v (scaled x4)", bob.Box, want)
	}

	if matches[1].Known || matches[1].Name != UnknownName {
		t.Errorf("second match = %+v, want Unknown", matches[1])
	}
}

func TestMatch_NoFaces(t *testing.T) {
	enc := worker.EncoderFunc(func(context.Context, []byte) ([]types.Face, error) { return nil, nil })
	matches, err := New(buildRegistry(t), enc, 0).Match(context.Background(), workertest.Solid(8, 8, workertest.Gray))
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 0 {
		t.Errorf("expected no matches, got %v", matches)
	}
}

func TestMatch_EncoderError(t *testing.T) {
	boom := errors.New("boom")
	enc := worker.EncoderFunc(func(context.Context, []byte) ([]types.Face, error) { return nil, boom })
	_, err := New(buildRegistry(t), enc, 0.6).Match(context.Background(), workertest.Solid(8, 8, workertest.Gray))
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped encoder error, got %v", err)
	}
}

func TestDownscale_TinyFrame(t *testing.T) {
	small := Downscale(workertest.Solid(3, 2, workertest.Gray), 4)
	if small.Bounds().Dx() != 1 || small.Bounds().Dy() != 1 {
		t.Errorf("expected 1x1 floor, got %v", small.Bounds())
	}
}

func decodeJPEG(data []byte) (image.Image, error) {
	return jpeg.Decode(bytes.NewReader(data))
}
