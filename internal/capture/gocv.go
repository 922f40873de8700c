//go:build gocv

package capture

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"gocv.io/x/gocv"
)

// GoCV reads frames through OpenCV's VideoCapture.
type GoCV struct {
	device  string
	quality int

	mu     sync.Mutex
	cap    *gocv.VideoCapture
	img    gocv.Mat
	closed bool
}

// OpenGoCV opens a device index ("0") or a URL/file path.
func OpenGoCV(device string, quality int) (*GoCV, error) {
	var target interface{} = device
	if id, err := strconv.Atoi(device); err == nil {
		target = id
	}
	vc, err := gocv.OpenVideoCapture(target)
	if err != nil {
		return nil, &Error{Device: device, Err: err}
	}
	vc.Set(gocv.VideoCaptureBufferSize, 1)
	return &GoCV{device: device, quality: quality, cap: vc, img: gocv.NewMat()}, nil
}

// GoCVOpener binds the device for session reuse.
func GoCVOpener(device string, quality int) Opener {
	return func(context.Context) (Source, error) {
		return OpenGoCV(device, quality)
	}
}

func (g *GoCV) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, &Error{Device: g.device, Err: ErrClosed}
	}
	if ok := g.cap.Read(&g.img); !ok || g.img.Empty() {
		return nil, &Error{Device: g.device, Err: errors.New("failed to read frame")}
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, g.img, []int{gocv.IMWriteJpegQuality, g.quality})
	if err != nil {
		return nil, &Error{Device: g.device, Err: fmt.Errorf("jpeg encode: %w", err)}
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// Close releases the device. Safe to call more than once.
func (g *GoCV) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	g.img.Close()
	return g.cap.Close()
}
