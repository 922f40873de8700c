package utils

import (
	"bufio"
	"bytes"
	"context"
	"math"
	"slices"
	"testing"
)

func TestSplitJpeg(t *testing.T) {
	// Construct a stream containing: [Garbage] [JPEG] [JPEG] [Garbage]
	// SOI (Start of Image): FF D8
	// EOI (End of Image):   FF D9
	first := []byte{0xFF, 0xD8, 0x01, 0x02, 0x03, 0xFF, 0xD9}
	second := []byte{0xFF, 0xD8, 0x09, 0xFF, 0xD9}

	streamData := []byte{0x00, 0x00}
	streamData = append(streamData, first...)
	streamData = append(streamData, second...)
	streamData = append(streamData, 0x00, 0x00)

	scanner := bufio.NewScanner(bytes.NewReader(streamData))
	scanner.Split(SplitJpeg)

	var got [][]byte
	for scanner.Scan() {
		got = append(got, bytes.Clone(scanner.Bytes()))
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scanner error: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("Expected 2 frames, got %d", len(got))
	}
	if !bytes.Equal(got[0], first) {
		t.Errorf("Expected %X, got %X", first, got[0])
	}
	if !bytes.Equal(got[1], second) {
		t.Errorf("Expected %X, got %X", second, got[1])
	}
}

func TestSplitJpeg_IncompleteFrame(t *testing.T) {
	// A frame with no EOI must not be emitted
	scanner := bufio.NewScanner(bytes.NewReader([]byte{0xFF, 0xD8, 0x01, 0x02}))
	scanner.Split(SplitJpeg)
	if scanner.Scan() {
		t.Errorf("Expected no token for truncated frame, got %X", scanner.Bytes())
	}
}

func TestEuclideanDist(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"Identical", []float64{1, 2}, []float64{1, 2}, 0},
		{"3-4-5", []float64{0, 0}, []float64{3, 4}, 5},
		{"Length mismatch", []float64{1}, []float64{1, 2}, math.Inf(1)},
		{"Empty", nil, nil, math.Inf(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EuclideanDist(tt.a, tt.b)
			if math.IsInf(tt.want, 1) {
				if !math.IsInf(got, 1) {
					t.Errorf("EuclideanDist() = %v, want +Inf", got)
				}
				return
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("EuclideanDist() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCosineDist(t *testing.T) {
	tests := []struct {
		name string
		a    []float64
		b    []float64
		want float64
	}{
		{"Identical vectors", []float64{1.0, 0.0}, []float64{1.0, 0.0}, 0.0},
		{"Orthogonal vectors", []float64{1.0, 0.0}, []float64{0.0, 1.0}, 1.0},
		{"Opposite vectors", []float64{1.0, 0.0}, []float64{-1.0, 0.0}, 2.0},
		{"B is unnormalized (scaled)", []float64{1.0, 0.0}, []float64{5.0, 0.0}, 0.0},
		{"Empty vectors", []float64{}, []float64{}, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineDist(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("CosineDist() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewFFmpegCmd(t *testing.T) {
	cmd := NewFFmpegCmd(context.Background(), CaptureArgs{Input: "/dev/video0", Format: "v4l2", Quality: 5})
	args := cmd.Args[1:]

	want := []string{"-hide_banner", "-loglevel", "error", "-f", "v4l2", "-i", "/dev/video0",
		"-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "5", "-"}
	if !slices.Equal(args, want) {
		t.Errorf("args = %v, want %v", args, want)
	}

	file := NewFFmpegCmd(context.Background(), CaptureArgs{Input: "clip.mp4"})
	if slices.Contains(file.Args, "v4l2") || slices.Contains(file.Args, "-q:v") {
		t.Errorf("file input should not carry device flags: %v", file.Args)
	}
}

func TestNewLogger(t *testing.T) {
	if _, err := NewLogger("debug", "json"); err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	if _, err := NewLogger("loud", "text"); err == nil {
		t.Error("expected error for invalid level")
	}
	if _, err := NewLogger("info", "xml"); err == nil {
		t.Error("expected error for invalid format")
	}
}
