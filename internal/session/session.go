// Package session owns the single detection session: it builds the registry on
// start, hands out the frame stream and tears everything down on stop.
package session

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/andresmejia3/vigil/internal/capture"
	"github.com/andresmejia3/vigil/internal/cooldown"
	"github.com/andresmejia3/vigil/internal/dispatch"
	"github.com/andresmejia3/vigil/internal/matcher"
	"github.com/andresmejia3/vigil/internal/registry"
	"github.com/andresmejia3/vigil/internal/stream"
	"github.com/andresmejia3/vigil/internal/types"
	"github.com/andresmejia3/vigil/internal/worker"
)

var (
	ErrAlreadyRunning = errors.New("detection already running")
	ErrNotActive      = errors.New("detection is not active")
	ErrStreamBusy     = errors.New("a stream is already being served")
)

// DefaultGrace bounds how long Stop waits for the producer to exit.
const DefaultGrace = 500 * time.Millisecond

// ReferenceSource supplies the identities to watch for.
type ReferenceSource interface {
	References(ctx context.Context) ([]registry.Reference, error)
}

// DispatcherFactory builds a dispatcher for a new session.
type DispatcherFactory func() *dispatch.Dispatcher

// Config wires a Manager.
type Config struct {
	References ReferenceSource
	Encoder    worker.Encoder
	Open       capture.Opener
	Dispatcher DispatcherFactory
	Metric     registry.Metric
	Tolerance  float64
	Cooldown   time.Duration
	Stream     stream.Config
	Grace      time.Duration
}

// StartResult describes a freshly started session.
type StartResult struct {
	SessionID   string
	LoadedFaces int
	Report      registry.Report
}

// Status is a point-in-time snapshot for the control surface.
type Status struct {
	Active          bool                  `json:"active"`
	SessionID       string                `json:"session_id,omitempty"`
	LatestDetection *types.DetectionEvent `json:"latest_detection"`
	LoadedFaces     int                   `json:"loaded_faces"`
}

// Manager is safe for concurrent use.
type Manager struct {
	cfg     Config
	log     logrus.FieldLogger
	tracker *cooldown.Tracker

	mu        sync.Mutex
	active    bool
	sessionID string
	reg       *registry.Registry
	disp      *dispatch.Dispatcher
	source    capture.Source
	cancel    context.CancelFunc
	done      chan struct{}
}

func New(cfg Config, log logrus.FieldLogger) *Manager {
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	if cfg.Metric == nil {
		cfg.Metric, _ = registry.NewMetric(registry.MetricEuclidean)
	}
	return &Manager{
		cfg:     cfg,
		log:     log,
		tracker: cooldown.New(cfg.Cooldown, log),
	}
}

// Start fetches references and builds the registry. Nothing changes if the
// registry comes out empty.
func (m *Manager) Start(ctx context.Context) (StartResult, error) {
	m.mu.Lock()
	if m.active {
		m.mu.Unlock()
		return StartResult{}, ErrAlreadyRunning
	}
	m.mu.Unlock()

	refs, err := m.cfg.References.References(ctx)
	if err != nil {
		return StartResult{}, fmt.Errorf("failed to load references: %w", err)
	}

	reg, report, err := registry.Build(ctx, refs, m.cfg.Encoder, m.log, registry.WithMetric(m.cfg.Metric))
	if err != nil {
		return StartResult{Report: report}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Another Start may have won while the registry was building.
	if m.active {
		return StartResult{}, ErrAlreadyRunning
	}
	m.tracker.Reset()
	m.reg = reg
	m.disp = m.cfg.Dispatcher()
	m.sessionID = uuid.NewString()
	m.active = true

	m.log.WithFields(logrus.Fields{"session_id": m.sessionID, "loaded_faces": reg.Len()}).Info("🚀 detection started")
	return StartResult{SessionID: m.sessionID, LoadedFaces: reg.Len(), Report: report}, nil
}

// Stop ends the session. It waits up to the grace period for a running stream
// to exit, then releases the capture regardless. Stopping an inactive session
// is a no-op.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return nil
	}
	m.active = false
	cancel, done, src := m.cancel, m.done, m.source
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		timer := time.NewTimer(m.cfg.Grace)
		select {
		case <-done:
		case <-timer.C:
			m.log.Warn("stream did not exit within grace period, releasing capture")
		case <-ctx.Done():
		}
		timer.Stop()
	}
	if src != nil {
		if err := src.Close(); err != nil {
			m.log.WithError(err).Warn("failed to release capture")
		}
	}

	m.mu.Lock()
	m.tracker.Reset()
	if m.done == done {
		m.source, m.cancel, m.done = nil, nil, nil
	}
	m.mu.Unlock()

	m.log.Info("🛑 detection stopped")
	return nil
}

// Status never blocks on the stream.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{Active: m.active, SessionID: m.sessionID}
	if m.reg != nil {
		st.LoadedFaces = m.reg.Len()
	}
	if m.disp != nil {
		st.LatestDetection = m.disp.Latest()
	}
	return st
}

// Stream opens the capture and returns the frame sequence for this session.
// Only one stream runs at a time, and the caller must range over the result:
// the slot is released when iteration ends.
func (m *Manager) Stream(ctx context.Context) (iter.Seq2[[]byte, error], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return nil, ErrNotActive
	}
	if m.done != nil {
		return nil, ErrStreamBusy
	}

	src, err := m.cfg.Open(ctx)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	engine := matcher.New(m.reg, m.cfg.Encoder, m.cfg.Tolerance)
	p := stream.New(src, engine, m.tracker, m.disp, m.reg, m.log.WithField("session_id", m.sessionID), m.cfg.Stream)

	m.source, m.cancel, m.done = src, cancel, done

	var release sync.Once
	return func(yield func([]byte, error) bool) {
		defer release.Do(func() {
			cancel()
			close(done)
			m.mu.Lock()
			if m.done == done {
				m.source, m.cancel, m.done = nil, nil, nil
			}
			m.mu.Unlock()
		})
		for frame, err := range p.Frames(runCtx) {
			if !yield(frame, err) {
				return
			}
		}
	}, nil
}

// Tracker exposes the cooldown state, mainly for diagnostics.
func (m *Manager) Tracker() *cooldown.Tracker { return m.tracker }
