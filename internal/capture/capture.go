// Package capture reads JPEG frames from a camera, stream URL or video file.
package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/andresmejia3/vigil/internal/utils"
)

// Source yields encoded frames. Read blocks until a frame is available.
type Source interface {
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

// Opener acquires a fresh Source.
type Opener func(ctx context.Context) (Source, error)

// Error is a failure to obtain a frame. It ends the stream.
type Error struct {
	Device string
	Err    error
}

func (e *Error) Error() string { return fmt.Sprintf("capture %s: %v", e.Device, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// ErrClosed is returned by Read after Close.
var ErrClosed = errors.New("capture closed")

// maxFrameSize bounds a single JPEG from the decoder pipe.
const maxFrameSize = 32 * 1024 * 1024

// FFmpeg decodes any ffmpeg input into an MJPEG pipe.
type FFmpeg struct {
	device  string
	cmd     *utils.SafeCommand
	stdout  io.ReadCloser
	scanner *bufio.Scanner

	mu     sync.Mutex
	closed bool
}

// OpenFFmpeg starts ffmpeg on the given input.
func OpenFFmpeg(ctx context.Context, in utils.CaptureArgs) (*FFmpeg, error) {
	cmd := utils.NewFFmpegCmd(ctx, in)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &Error{Device: in.Input, Err: fmt.Errorf("failed to create stdout pipe: %w", err)}
	}
	if err := cmd.Start(); err != nil {
		return nil, &Error{Device: in.Input, Err: fmt.Errorf("failed to start ffmpeg: %w", err)}
	}
	return newFFmpeg(in.Input, cmd, stdout), nil
}

func newFFmpeg(device string, cmd *utils.SafeCommand, stdout io.ReadCloser) *FFmpeg {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 1024*1024), maxFrameSize)
	scanner.Split(utils.SplitJpeg)
	return &FFmpeg{device: device, cmd: cmd, stdout: stdout, scanner: scanner}
}

// FFmpegOpener binds the input so sessions can reopen the camera on demand.
func FFmpegOpener(in utils.CaptureArgs) Opener {
	return func(ctx context.Context) (Source, error) {
		return OpenFFmpeg(ctx, in)
	}
}

// Read returns the next frame. The returned slice is owned by the caller.
// ctx is not consulted mid-read; Close unblocks a pending Read.
func (f *FFmpeg) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.isClosed() {
		return nil, &Error{Device: f.device, Err: ErrClosed}
	}
	if !f.scanner.Scan() {
		err := f.scanner.Err()
		if err == nil {
			err = io.EOF
		}
		if f.isClosed() {
			err = ErrClosed
		} else if f.cmd != nil && f.cmd.Stderr.Len() > 0 {
			err = fmt.Errorf("%w: %s", err, f.cmd.Stderr.String())
		}
		return nil, &Error{Device: f.device, Err: err}
	}
	frame := make([]byte, len(f.scanner.Bytes()))
	copy(frame, f.scanner.Bytes())
	return frame, nil
}

func (f *FFmpeg) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Close kills ffmpeg and reaps it. Safe to call more than once.
func (f *FFmpeg) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()

	if f.cmd != nil && f.cmd.Process != nil {
		f.cmd.Process.Kill()
	}
	f.stdout.Close()
	if f.cmd != nil {
		f.cmd.Wait() // killed: exit error is expected
	}
	return nil
}
