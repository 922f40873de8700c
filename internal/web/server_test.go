package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/andresmejia3/vigil/internal/capture"
	"github.com/andresmejia3/vigil/internal/registry"
	"github.com/andresmejia3/vigil/internal/session"
	"github.com/andresmejia3/vigil/internal/stream"
	"github.com/andresmejia3/vigil/internal/types"
)

type fakeController struct {
	startRes  session.StartResult
	startErr  error
	stopCalls int
	status    session.Status
	streamErr error
	frames    [][]byte
	frameErr  error
}

func (f *fakeController) Start(ctx context.Context) (session.StartResult, error) {
	return f.startRes, f.startErr
}

func (f *fakeController) Stop(ctx context.Context) error {
	f.stopCalls++
	return nil
}

func (f *fakeController) Status() session.Status { return f.status }

func (f *fakeController) Stream(ctx context.Context) (iter.Seq2[[]byte, error], error) {
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return func(yield func([]byte, error) bool) {
		for _, fr := range f.frames {
			if !yield(fr, nil) {
				return
			}
		}
		if f.frameErr != nil {
			yield(nil, f.frameErr)
		}
	}, nil
}

func newTestServer(ctl Controller) *Server {
	log, _ := logtest.NewNullLogger()
	s := NewServer(ctl, "127.0.0.1:0", log)
	s.now = func() time.Time { return time.UnixMilli(1700000000500) }
	return s
}

func do(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestServer(&fakeController{}), http.MethodGet, "/api/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	body := decode(t, rec)
	if body["status"] != "healthy" || body["timestamp"] != 1700000000.5 {
		t.Errorf("body = %v", body)
	}
}

func TestStartDetection(t *testing.T) {
	tests := []struct {
		name       string
		ctl        *fakeController
		wantCode   int
		wantStatus string
	}{
		{
			name: "Started",
			ctl: &fakeController{startRes: session.StartResult{
				SessionID:   "s-1",
				LoadedFaces: 1,
				Report:      registry.Report{Loaded: 1, Skipped: []*registry.SkipError{{Name: "bob", Reason: registry.SkipNoFace}}},
			}},
			wantCode:   http.StatusOK,
			wantStatus: "started",
		},
		{"Already running", &fakeController{startErr: session.ErrAlreadyRunning}, http.StatusOK, "already_running"},
		{"Empty registry", &fakeController{startErr: registry.ErrRegistryEmpty}, http.StatusUnprocessableEntity, "error"},
		{"Case source down", &fakeController{startErr: fmt.Errorf("failed to load references: %w", errors.New("connection refused"))}, http.StatusBadGateway, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, newTestServer(tt.ctl), http.MethodPost, "/api/start_detection")
			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			body := decode(t, rec)
			if body["status"] != tt.wantStatus {
				t.Errorf("status = %v, want %s", body["status"], tt.wantStatus)
			}
			if tt.wantStatus == "started" {
				if body["loaded_faces"] != float64(1) || body["session_id"] != "s-1" {
					t.Errorf("body = %v", body)
				}
				skipped, _ := body["skipped"].(map[string]any)
				if skipped["no_face"] != float64(1) {
					t.Errorf("skipped = %v", body["skipped"])
				}
			}
			if tt.wantStatus == "error" && body["message"] == "" {
				t.Error("error response without message")
			}
		})
	}
}

func TestStartDetection_WrongMethod(t *testing.T) {
	rec := do(t, newTestServer(&fakeController{}), http.MethodGet, "/api/start_detection")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("code = %d", rec.Code)
	}
}

func TestStopDetection(t *testing.T) {
	ctl := &fakeController{}
	s := newTestServer(ctl)
	for range 2 {
		rec := do(t, s, http.MethodPost, "/api/stop_detection")
		if rec.Code != http.StatusOK || decode(t, rec)["status"] != "stopped" {
			t.Errorf("stop = %d %s", rec.Code, rec.Body.String())
		}
	}
	if ctl.stopCalls != 2 {
		t.Errorf("stopCalls = %d", ctl.stopCalls)
	}
}

func TestDetectionStatus(t *testing.T) {
	ev := &types.DetectionEvent{ID: "e1", Name: "alice", ExternalID: "123412341234", Timestamp: time.Unix(0, 0).UTC()}
	ctl := &fakeController{status: session.Status{Active: true, SessionID: "s-1", LatestDetection: ev, LoadedFaces: 3}}
	body := decode(t, do(t, newTestServer(ctl), http.MethodGet, "/api/detection_status"))

	if body["active"] != true || body["loaded_faces"] != float64(3) || body["session_id"] != "s-1" {
		t.Errorf("body = %v", body)
	}
	latest, _ := body["latest_detection"].(map[string]any)
	if latest["name"] != "alice" || latest["adhaar_number"] != "123412341234" {
		t.Errorf("latest_detection = %v", body["latest_detection"])
	}

	idle := decode(t, do(t, newTestServer(&fakeController{}), http.MethodGet, "/api/detection_status"))
	if idle["active"] != false || idle["latest_detection"] != nil {
		t.Errorf("idle body = %v", idle)
	}
	if _, ok := idle["session_id"]; ok {
		t.Error("session_id should be omitted while idle")
	}
}

func TestVideoFeed(t *testing.T) {
	ctl := &fakeController{frames: [][]byte{[]byte("one"), []byte("two")}}
	rec := do(t, newTestServer(ctl), http.MethodGet, "/video_feed")

	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != stream.ContentType {
		t.Errorf("Content-Type = %q", ct)
	}
	var want bytes.Buffer
	stream.WriteMultipart(&want, []byte("one"))
	stream.WriteMultipart(&want, []byte("two"))
	if rec.Body.String() != want.String() {
		t.Errorf("body = %q, want %q", rec.Body.String(), want.String())
	}
}

func TestVideoFeed_CaptureErrorEndsStream(t *testing.T) {
	ctl := &fakeController{
		frames:   [][]byte{[]byte("one")},
		frameErr: &capture.Error{Device: "/dev/video0", Err: errors.New("device unplugged")},
	}
	rec := do(t, newTestServer(ctl), http.MethodGet, "/video_feed")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if n := strings.Count(rec.Body.String(), "--"+stream.Boundary); n != 1 {
		t.Errorf("parts = %d, want 1", n)
	}
}

func TestVideoFeed_Conflict(t *testing.T) {
	for _, err := range []error{session.ErrNotActive, session.ErrStreamBusy} {
		rec := do(t, newTestServer(&fakeController{streamErr: err}), http.MethodGet, "/video_feed")
		if rec.Code != http.StatusConflict {
			t.Errorf("%v: code = %d, want 409", err, rec.Code)
		}
	}
	rec := do(t, newTestServer(&fakeController{streamErr: errors.New("no camera")}), http.MethodGet, "/video_feed")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("open failure: code = %d, want 503", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	rec := do(t, newTestServer(&fakeController{}), http.MethodOptions, "/api/start_detection")
	if rec.Code != http.StatusOK || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("preflight = %d %v", rec.Code, rec.Header())
	}
}

func TestShutdownStopsSession(t *testing.T) {
	ctl := &fakeController{}
	s := newTestServer(ctl)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	if ctl.stopCalls != 1 {
		t.Errorf("stopCalls = %d", ctl.stopCalls)
	}
}
