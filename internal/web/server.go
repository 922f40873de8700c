// Package web exposes the detection session over HTTP.
package web

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/andresmejia3/vigil/internal/session"
)

// Controller is the part of session.Manager the server drives.
type Controller interface {
	Start(ctx context.Context) (session.StartResult, error)
	Stop(ctx context.Context) error
	Status() session.Status
	Stream(ctx context.Context) (iter.Seq2[[]byte, error], error)
}

// Server represents the web server
type Server struct {
	ctl        Controller
	log        logrus.FieldLogger
	router     *chi.Mux
	httpServer *http.Server
	now        func() time.Time
}

// NewServer creates a new web server listening on addr.
func NewServer(ctl Controller, addr string, log logrus.FieldLogger) *Server {
	r := chi.NewRouter()

	s := &Server{
		ctl:    ctl,
		log:    log,
		router: r,
		now:    time.Now,
	}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(chiMiddleware.Recoverer)
	r.Use(cors)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: /video_feed stays open for the whole session.
		IdleTimeout: 60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Get("/api/health", s.health)
	s.router.Route("/api", func(r chi.Router) {
		r.Post("/start_detection", s.startDetection)
		r.Post("/stop_detection", s.stopDetection)
		r.Get("/detection_status", s.detectionStatus)
	})
	s.router.Get("/video_feed", s.videoFeed)
}

// Start blocks serving requests until Shutdown.
func (s *Server) Start() error {
	s.log.Infof("🌐 starting web server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown stops the detection session and then the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down web server...")
	if err := s.ctl.Stop(ctx); err != nil {
		s.log.WithError(err).Warn("failed to stop detection")
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}

func requestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.WithFields(logrus.Fields{
				"request_id": chiMiddleware.GetReqID(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start).String(),
			}).Debug("request")
		})
	}
}

// cors allows any origin, which the dashboard relies on.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, X-Requested-With")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
