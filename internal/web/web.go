package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"epdash/internal/config"
	appLog "epdash/internal/log"
	"epdash/internal/render"
	"epdash/internal/user"
)

// Refresher is the slice of the refresh coordinator exposed to the HTTP
// boundary for manual triggers.
type Refresher interface {
	RefreshAll(ctx context.Context)
	RefreshUser(ctx context.Context, userID string) error
}

// Server provides the HTTP boundary of the dashboard: artifact serving for
// display clients plus a manual refresh trigger. Authorization of the
// trigger is left to whatever sits in front of this server.
type Server struct {
	cfg      *config.Config
	registry *user.Registry
	cache    *render.Cache
	coord    Refresher
	mux      *http.ServeMux
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, registry *user.Registry, cache *render.Cache, coord Refresher) *Server {
	s := &Server{
		cfg:      cfg,
		registry: registry,
		cache:    cache,
		coord:    coord,
		mux:      http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/display/", s.handleDisplay)
	s.mux.HandleFunc("/api/refresh", s.handleRefresh)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleDisplay serves the rendered artifact for one user.
//
// GET /display/<user_id>            → image/png
// GET /display/<user_id>?format=raw → packed 4bpp grayscale plane for
// clients that cannot decode PNG
//
// Upstream failures never surface here: the client gets a fresh or a
// stale-but-valid artifact. 503 is possible only before the very first
// successful refresh+render for the user.
func (s *Server) handleDisplay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	userID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/display/"), "/")
	if userID == "" || strings.Contains(userID, "/") {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	artifact, err := s.cache.GetOrRender(r.Context(), userID)
	if err != nil {
		switch {
		case errors.Is(err, render.ErrUnknownUser):
			writeError(w, http.StatusNotFound, "user not found")
		default:
			appLog.Error("display request failed", err, "user", userID)
			writeError(w, http.StatusServiceUnavailable, "artifact not yet available, please retry shortly")
		}
		return
	}

	if r.URL.Query().Get("format") == "raw" {
		packed, perr := render.PackGray4(artifact, s.cfg.Render.Width, s.cfg.Render.Height)
		if perr != nil {
			appLog.Error("artifact packing failed", perr, "user", userID)
			writeError(w, http.StatusInternalServerError, "failed to pack artifact")
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(packed)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(artifact)
}

// handleRefresh triggers a refresh cycle.
//
// POST /api/refresh              → refresh all users
// POST /api/refresh?user=<id>    → refresh a single user
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if userID := r.URL.Query().Get("user"); userID != "" {
		if _, ok := s.registry.Get(userID); !ok {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		if err := s.coord.RefreshUser(r.Context(), userID); err != nil {
			appLog.Error("manual single-user refresh failed", err, "user", userID)
			writeError(w, http.StatusBadGateway, "refresh failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "user": userID})
		return
	}

	appLog.Info("manual refresh of all users requested")
	s.coord.RefreshAll(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
