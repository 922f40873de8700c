package stream

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"strings"
	"sync"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/andresmejia3/vigil/internal/capture"
	"github.com/andresmejia3/vigil/internal/cooldown"
	"github.com/andresmejia3/vigil/internal/dispatch"
	"github.com/andresmejia3/vigil/internal/matcher"
	"github.com/andresmejia3/vigil/internal/registry"
	"github.com/andresmejia3/vigil/internal/types"
	"github.com/andresmejia3/vigil/internal/worker/workertest"
)

// fakeSource serves a fixed frame forever, or fails after limit reads.
type fakeSource struct {
	frame  []byte
	limit  int
	reads  int
	mu     sync.Mutex
	closed int
}

func (s *fakeSource) Read(context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.limit > 0 && s.reads >= s.limit {
		return nil, &capture.Error{Device: "fake", Err: errors.New("camera unplugged")}
	}
	s.reads++
	return s.frame, nil
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

type fakeMatcher struct {
	matches []matcher.Match
	err     error
	calls   int
}

func (m *fakeMatcher) Match(context.Context, image.Image) ([]matcher.Match, error) {
	m.calls++
	return m.matches, m.err
}

type fakeDispatcher struct {
	names []string
	err   error
}

func (d *fakeDispatcher) Handle(_ context.Context, name string, _ *registry.Registry) (dispatch.Outcome, error) {
	d.names = append(d.names, name)
	return dispatch.Outcome{Persisted: true, Notified: true}, d.err
}

var bob = matcher.Match{Box: types.Box{Top: 8, Right: 56, Bottom: 56, Left: 8}, Name: "bob", Known: true}

// take pulls at most n frames.
func take(t *testing.T, p *Producer, ctx context.Context, n int) ([][]byte, error) {
	t.Helper()
	var frames [][]byte
	for frame, err := range p.Frames(ctx) {
		if err != nil {
			return frames, err
		}
		frames = append(frames, frame)
		if len(frames) == n {
			break
		}
	}
	return frames, nil
}

func TestFrames_SamplesEveryNth(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	raw := workertest.JPEG(t, 64, 64, workertest.Gray)
	src := &fakeSource{frame: raw}
	m := &fakeMatcher{matches: []matcher.Match{bob}}
	d := &fakeDispatcher{}
	p := New(src, m, cooldown.New(time.Minute, log), d, nil, log, Config{Every: 10})

	frames, err := take(t, p, context.Background(), 25)
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 25 {
		t.Fatalf("got %d frames, want 25", len(frames))
	}
	if m.calls != 2 {
		t.Errorf("matcher called %d times, want 2 (frames 10 and 20)", m.calls)
	}
	// Unsampled frames pass through untouched; sampled ones are re-encoded.
	if !bytes.Equal(frames[0], raw) {
		t.Error("frame 1 should be passed through")
	}
	if bytes.Equal(frames[9], raw) {
		t.Error("frame 10 should be annotated")
	}
	if len(d.names) != 1 {
		t.Errorf("dispatches = %v, want one (handled set suppresses repeats)", d.names)
	}
	if src.closed != 1 {
		t.Errorf("source closed %d times, want 1", src.closed)
	}
}

func TestFrames_Annotation(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	src := &fakeSource{frame: workertest.JPEG(t, 64, 64, workertest.Gray)}
	m := &fakeMatcher{matches: []matcher.Match{bob}}
	p := New(src, m, cooldown.New(time.Minute, log), &fakeDispatcher{}, nil, log, Config{Every: 1})

	frames, err := take(t, p, context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	img, err := jpeg.Decode(bytes.NewReader(frames[0]))
	if err != nil {
		t.Fatalf("annotated frame is not a JPEG: %v", err)
	}
	// Label strip sits at the bottom of the box; sample a pixel in it away from the text.
	r, g, b, _ := img.At(50, 30).RGBA()
	if g < 0xA000 || r > 0x6000 || b > 0x6000 {
		t.Errorf("expected green label strip at (50,30), got r=%x g=%x b=%x", r, g, b)
	}
}

func TestFrames_BobScenario(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	tracker := cooldown.New(300*time.Second, log)
	d := &fakeDispatcher{}
	raw := workertest.JPEG(t, 64, 64, workertest.Gray)
	t0 := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	// Two separate runs share the tracker; each sees bob once.
	for i, at := range []time.Time{t0, t0.Add(10 * time.Second)} {
		p := New(&fakeSource{frame: raw}, &fakeMatcher{matches: []matcher.Match{bob}}, tracker, d, nil, log, Config{Every: 1})
		p.WithClock(func() time.Time { return at })
		if _, err := take(t, p, context.Background(), 1); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}

	if len(d.names) != 1 || d.names[0] != "bob" {
		t.Errorf("dispatches = %v, want exactly one for bob", d.names)
	}
	for _, e := range hook.AllEntries() {
		if strings.Contains(e.Message, "cooldown active") {
			t.Error("suppression diagnostic must wait 30s after the first sighting")
		}
	}
}

func TestFrames_UnknownFacesAreNotDispatched(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	d := &fakeDispatcher{}
	stranger := matcher.Match{Box: bob.Box, Name: matcher.UnknownName}
	p := New(&fakeSource{frame: workertest.JPEG(t, 64, 64, workertest.Gray)},
		&fakeMatcher{matches: []matcher.Match{stranger}}, cooldown.New(time.Minute, log), d, nil, log, Config{Every: 1})

	if _, err := take(t, p, context.Background(), 3); err != nil {
		t.Fatal(err)
	}
	if len(d.names) != 0 {
		t.Errorf("unknown faces dispatched: %v", d.names)
	}
}

func TestFrames_CaptureError(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	src := &fakeSource{frame: workertest.JPEG(t, 16, 16, workertest.Gray), limit: 3}
	p := New(src, &fakeMatcher{}, cooldown.New(time.Minute, log), &fakeDispatcher{}, nil, log, Config{})

	frames, err := take(t, p, context.Background(), 100)
	var capErr *capture.Error
	if !errors.As(err, &capErr) {
		t.Fatalf("expected *capture.Error, got %v", err)
	}
	if len(frames) != 3 {
		t.Errorf("got %d frames before failure, want 3", len(frames))
	}
	if src.closed != 1 {
		t.Error("source must be released on failure")
	}
}

func TestFrames_Cancellation(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	src := &fakeSource{frame: workertest.JPEG(t, 16, 16, workertest.Gray)}
	p := New(src, &fakeMatcher{}, cooldown.New(time.Minute, log), &fakeDispatcher{}, nil, log, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	count := 0
	for _, err := range p.Frames(ctx) {
		if err != nil {
			t.Fatalf("cancellation must end the stream cleanly, got %v", err)
		}
		count++
		if count == 5 {
			cancel()
		}
	}
	if count != 5 {
		t.Errorf("got %d frames, want 5", count)
	}
	if src.closed != 1 {
		t.Error("source must be released on cancellation")
	}
}

func TestFrames_DetectionErrorKeepsStreaming(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	raw := workertest.JPEG(t, 16, 16, workertest.Gray)
	p := New(&fakeSource{frame: raw}, &fakeMatcher{err: errors.New("worker timeout")},
		cooldown.New(time.Minute, log), &fakeDispatcher{}, nil, log, Config{Every: 1})

	frames, err := take(t, p, context.Background(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 2 || !bytes.Equal(frames[0], raw) {
		t.Error("frames should pass through when detection fails")
	}
	if len(hook.AllEntries()) == 0 {
		t.Error("detection failure should be logged")
	}
}

func TestFrames_UnknownIdentityIsFatal(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	d := &fakeDispatcher{err: dispatch.ErrUnknownIdentity}
	p := New(&fakeSource{frame: workertest.JPEG(t, 64, 64, workertest.Gray)},
		&fakeMatcher{matches: []matcher.Match{bob}}, cooldown.New(time.Minute, log), d, nil, log, Config{Every: 1})

	_, err := take(t, p, context.Background(), 10)
	if !errors.Is(err, dispatch.ErrUnknownIdentity) {
		t.Errorf("expected ErrUnknownIdentity, got %v", err)
	}
}

func TestFrames_SingleUse(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	p := New(&fakeSource{frame: workertest.JPEG(t, 16, 16, workertest.Gray)}, &fakeMatcher{},
		cooldown.New(time.Minute, log), &fakeDispatcher{}, nil, log, Config{})

	if _, err := take(t, p, context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if _, err := take(t, p, context.Background(), 1); !errors.Is(err, ErrAlreadyUsed) {
		t.Errorf("expected ErrAlreadyUsed, got %v", err)
	}
}

func TestWriteMultipart(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMultipart(&buf, []byte{0xFF, 0xD8, 0xFF, 0xD9}); err != nil {
		t.Fatal(err)
	}
	want := "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: 4\r\n\r\n\xFF\xD8\xFF\xD9\r\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}
