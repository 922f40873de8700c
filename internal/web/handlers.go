package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/andresmejia3/vigil/internal/registry"
	"github.com/andresmejia3/vigil/internal/session"
	"github.com/andresmejia3/vigil/internal/stream"
)

const msgNoFaces = "No face encodings loaded. Please ensure your backend is running and has approved missing person cases in the database."

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"status": "error", "message": message})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": float64(s.now().UnixMilli()) / 1000,
	})
}

func (s *Server) startDetection(w http.ResponseWriter, r *http.Request) {
	res, err := s.ctl.Start(r.Context())
	switch {
	case errors.Is(err, session.ErrAlreadyRunning):
		respondJSON(w, http.StatusOK, map[string]string{"status": "already_running"})
		return
	case errors.Is(err, registry.ErrRegistryEmpty):
		respondError(w, http.StatusUnprocessableEntity, msgNoFaces)
		return
	case err != nil:
		s.log.WithError(err).Error("failed to start detection")
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	skipped := make(map[string]int)
	for reason, n := range res.Report.Counts() {
		skipped[string(reason)] = n
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "started",
		"session_id":   res.SessionID,
		"loaded_faces": res.LoadedFaces,
		"skipped":      skipped,
		"message":      fmt.Sprintf("Successfully loaded %d approved missing person cases from database", res.LoadedFaces),
	})
}

func (s *Server) stopDetection(w http.ResponseWriter, r *http.Request) {
	if err := s.ctl.Stop(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) detectionStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.ctl.Status())
}

func (s *Server) videoFeed(w http.ResponseWriter, r *http.Request) {
	frames, err := s.ctl.Stream(r.Context())
	switch {
	case errors.Is(err, session.ErrNotActive), errors.Is(err, session.ErrStreamBusy):
		respondError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.log.WithError(err).Error("failed to open video feed")
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	w.Header().Set("Content-Type", stream.ContentType)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)

	for frame, err := range frames {
		if err != nil {
			s.log.WithError(err).Error("video feed ended")
			return
		}
		if err := stream.WriteMultipart(w, frame); err != nil {
			// Client went away.
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
