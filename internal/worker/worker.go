package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"time"

	"github.com/andresmejia3/vigil/internal/types"
	"github.com/andresmejia3/vigil/internal/utils" // Using the SafeCommand wrapper
)

// Encoder finds faces in an encoded image and returns one embedding per face,
// in detector order.
type Encoder interface {
	Encode(ctx context.Context, img []byte) ([]types.Face, error)
}

// EncoderFunc adapts a plain function to Encoder.
type EncoderFunc func(ctx context.Context, img []byte) ([]types.Face, error)

func (f EncoderFunc) Encode(ctx context.Context, img []byte) ([]types.Face, error) {
	return f(ctx, img)
}

// ErrWorkerClosed is returned once the worker has been shut down with Close.
var ErrWorkerClosed = errors.New("face worker is closed")

// maxFaceDim bounds the embedding size read off the pipe so a corrupt header
// cannot make us allocate gigabytes.
const maxFaceDim = 4096

// PythonWorker talks to one face worker subprocess. A request abandoned by
// its caller leaves the pipe out of sync, so the process is killed and the
// next Encode starts a fresh one.
type PythonWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	ctx  context.Context
	argv []string

	mu       sync.Mutex
	closed   bool
	dead     bool
	restarts int
}

// NewPythonWorker starts the face worker subprocess. argv is the command line,
// e.g. ["python3", "-u", "python/worker.py"]. ctx bounds the life of every
// process the worker spawns.
func NewPythonWorker(ctx context.Context, id int, argv []string) (*PythonWorker, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty worker command")
	}
	w := &PythonWorker{ID: id, ctx: ctx, argv: argv}
	if err := w.spawn(); err != nil {
		return nil, err
	}
	return w, nil
}

// spawn must be called with mu held (or before w is shared).
func (w *PythonWorker) spawn() error {
	py := utils.NewSafeCommand(w.ctx, w.argv[0], w.argv[1:]...)
	// A killed worker's children may still hold stderr open.
	py.WaitDelay = time.Second

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, pw, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{pw}

	stdin, err := py.StdinPipe()
	if err != nil {
		pw.Close() // Prevent FD leak
		r.Close()
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		pw.Close()
		r.Close()
		return fmt.Errorf("worker %d failed to start: %w", w.ID, err)
	}

	// Close the write-end in the parent so only the child holds it
	pw.Close()

	w.Cmd, w.Stdin, w.DataPipe = py, stdin, r
	w.dead = false
	return nil
}

// Encode sends one image and decodes the worker's face list.
// Calls are serialized; the pipe protocol is strictly request/response.
func (w *PythonWorker) Encode(ctx context.Context, img []byte) ([]types.Face, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrWorkerClosed
	}
	if w.dead {
		if w.argv == nil {
			return nil, fmt.Errorf("worker %d: %w", w.ID, ErrWorkerClosed)
		}
		if err := w.spawn(); err != nil {
			return nil, fmt.Errorf("failed to restart worker %d: %w", w.ID, err)
		}
		w.restarts++
	}

	type result struct {
		faces []types.Face
		err   error
	}
	done := make(chan result, 1)
	in, out := w.Stdin, w.DataPipe
	go func() {
		faces, err := w.communicate(in, out, img)
		done <- result{faces, err}
	}()

	select {
	case res := <-done:
		var remote *RemoteError
		if res.err != nil && !errors.As(res.err, &remote) {
			// Broken pipe or garbled reply: the stream cannot be trusted.
			w.kill()
		}
		return res.faces, res.err
	case <-ctx.Done():
		// The pipe is now out of sync; drop this process.
		w.kill()
		return nil, fmt.Errorf("worker %d: %w", w.ID, ctx.Err())
	}
}

// Restarts is how many times the subprocess has been replaced.
func (w *PythonWorker) Restarts() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.restarts
}

func (w *PythonWorker) communicate(stdin io.Writer, dataPipe io.Reader, data []byte) ([]types.Face, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, fmt.Errorf("failed to write frame header: %w", err)
	}
	if _, err := stdin.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write frame: %w", err)
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(dataPipe, header); err != nil {
		return nil, fmt.Errorf("worker %d died: %w", w.ID, err) // This is where we catch the "ModuleNotFoundError" crash
	}

	respLen := binary.BigEndian.Uint32(header)
	respBody := make([]byte, respLen)
	if _, err := io.ReadFull(dataPipe, respBody); err != nil {
		return nil, fmt.Errorf("short read from worker %d: %w", w.ID, err)
	}
	return ParseResponse(respBody)
}

// RemoteError is a failure the worker reported for one image. The process
// stays in sync and usable.
type RemoteError struct {
	Msg string
}

func (e *RemoteError) Error() string { return "python worker error: " + e.Msg }

// ParseResponse decodes one worker response body.
//
//	[status u8] 0 => [n u32] n × ([top,right,bottom,left i32] [dim u32] [dim × f32])
//	            1 => [msgLen u32] [msg]
func ParseResponse(body []byte) ([]types.Face, error) {
	r := bytes.NewReader(body)
	status, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("empty worker response: %w", err)
	}

	if status != 0 {
		var msgLen uint32
		if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
			return nil, fmt.Errorf("malformed worker error: %w", err)
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(r, msg); err != nil {
			return nil, fmt.Errorf("malformed worker error: %w", err)
		}
		return nil, &RemoteError{Msg: string(msg)}
	}

	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("failed to read face count: %w", err)
	}

	faces := make([]types.Face, 0, count)
	for i := range count {
		var box [4]int32
		if err := binary.Read(r, binary.BigEndian, &box); err != nil {
			return nil, fmt.Errorf("face %d: failed to read box: %w", i, err)
		}
		var dim uint32
		if err := binary.Read(r, binary.BigEndian, &dim); err != nil {
			return nil, fmt.Errorf("face %d: failed to read dim: %w", i, err)
		}
		if dim > maxFaceDim {
			return nil, fmt.Errorf("face %d: embedding dim %d out of range", i, dim)
		}
		raw := make([]float32, dim)
		if err := binary.Read(r, binary.BigEndian, raw); err != nil {
			return nil, fmt.Errorf("face %d: failed to read vector: %w", i, err)
		}

		vec := make([]float64, dim)
		for j, v := range raw {
			if math.IsNaN(float64(v)) {
				return nil, fmt.Errorf("face %d: NaN in embedding", i)
			}
			vec[j] = float64(v)
		}
		faces = append(faces, types.Face{
			Loc: types.Box{Top: int(box[0]), Right: int(box[1]), Bottom: int(box[2]), Left: int(box[3])},
			Vec: vec,
		})
	}
	return faces, nil
}

// kill stops the current process but leaves the worker usable; the next
// Encode respawns it. kill must be called with mu held.
func (w *PythonWorker) kill() {
	if w.dead {
		return
	}
	w.dead = true
	if w.Cmd != nil && w.Cmd.Process != nil {
		w.Cmd.Process.Kill()
	}
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd != nil {
		w.Cmd.Wait()
	}
}

// Close shuts the worker down. Closing stdin lets the script exit its read loop.
func (w *PythonWorker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.dead {
		return nil
	}
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}
	if err := w.Cmd.Wait(); err != nil {
		return fmt.Errorf("worker %d exited: %w", w.ID, err)
	}
	return nil
}
