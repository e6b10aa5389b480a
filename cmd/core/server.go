// REST handlers for the localhost ops surface: sync status and
// controls, cache maintenance, and health.
package main

import (
	"encoding/json"
	"net/http"

	"github.com/waveline-app/core/internal/db"
	apperrors "github.com/waveline-app/core/internal/errors"
	"github.com/waveline-app/core/internal/logging"
	"github.com/waveline-app/core/internal/offline"
	"github.com/waveline-app/core/internal/sync"
)

// Server wires the core's components behind localhost HTTP endpoints.
type Server struct {
	database *db.DB
	facade   *offline.Facade
	engine   *sync.Engine
	hub      *WSHub

	// clearIncludesPending is the configured default for /cache/clear
	// when the request body does not say otherwise.
	clearIncludesPending bool
}

// NewServer creates a Server.
func NewServer(database *db.DB, facade *offline.Facade, engine *sync.Engine, hub *WSHub) *Server {
	return &Server{
		database: database,
		facade:   facade,
		engine:   engine,
		hub:      hub,
	}
}

// Routes registers all endpoints on a fresh mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", s.handleHealth)

	mux.HandleFunc("/sync/status", s.handleSyncStatus)
	mux.HandleFunc("/sync/now", s.handleSyncNow)
	mux.HandleFunc("/sync/retry-failed", s.handleRetryFailed)
	mux.HandleFunc("/sync/clear-failed", s.handleClearFailed)

	mux.HandleFunc("/cache/usage", s.handleCacheUsage)
	mux.HandleFunc("/cache/clear", s.handleCacheClear)

	if s.hub != nil {
		mux.HandleFunc("/ws", s.hub.HandleWS)
	}

	return mux
}

// handleHealth handles GET /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, apperrors.New(apperrors.ErrInvalid, "method not allowed"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "waveline-core",
	})
}

// handleSyncStatus handles GET /sync/status.
func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, apperrors.New(apperrors.ErrInvalid, "method not allowed"))
		return
	}

	status, err := s.engine.Status()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleSyncNow handles POST /sync/now. The drain runs inline; a drain
// already in progress yields a skipped result, not an error.
func (s *Server) handleSyncNow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, apperrors.New(apperrors.ErrInvalid, "method not allowed"))
		return
	}

	result, err := s.engine.Drain(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleRetryFailed handles POST /sync/retry-failed.
func (s *Server) handleRetryFailed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, apperrors.New(apperrors.ErrInvalid, "method not allowed"))
		return
	}

	count, err := s.engine.RetryFailed(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"requeued": count})
}

// handleClearFailed handles POST /sync/clear-failed.
func (s *Server) handleClearFailed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, apperrors.New(apperrors.ErrInvalid, "method not allowed"))
		return
	}

	count, err := s.engine.ClearFailed()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"discarded": count})
}

// handleCacheUsage handles GET /cache/usage.
func (s *Server) handleCacheUsage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, apperrors.New(apperrors.ErrInvalid, "method not allowed"))
		return
	}
	writeJSON(w, http.StatusOK, s.database.EstimateUsage())
}

// SetClearPolicy sets whether /cache/clear discards queued actions by
// default.
func (s *Server) SetClearPolicy(includePending bool) {
	s.clearIncludesPending = includePending
}

// handleCacheClear handles POST /cache/clear. Pending actions survive
// unless include_pending is set in the body or by configured policy.
func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, apperrors.New(apperrors.ErrInvalid, "method not allowed"))
		return
	}

	body := struct {
		IncludePending bool `json:"include_pending"`
	}{IncludePending: s.clearIncludesPending}
	if r.Body != nil {
		// An empty body means the configured policy.
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	if err := s.facade.ClearCache(body.IncludePending); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	logging.Info("Cache cleared", map[string]interface{}{
		"include_pending": body.IncludePending,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("Failed to encode response", err, nil)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"code":    string(apperrors.CodeOf(err)),
			"message": err.Error(),
		},
	})
}
