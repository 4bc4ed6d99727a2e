package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opengpon/gpon_collector/models"
)

// ─────────────────────────────────────────────────────────────────────────────
// Config
// ─────────────────────────────────────────────────────────────────────────────

// Config controls the HTTP API server.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// ShutdownTimeout bounds graceful shutdown.  Default 5s.
	ShutdownTimeout time.Duration
}

// withDefaults fills zero fields with sensible values.
func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	return c
}

// ─────────────────────────────────────────────────────────────────────────────
// Server
// ─────────────────────────────────────────────────────────────────────────────

// Server serves the read-only telemetry API:
//
//	GET /healthz                             liveness probe
//	GET /api/v1/devices                      observed devices and poll status
//	GET /api/v1/devices/{hostname}/snapshot  latest snapshot with stale flag
//	GET /api/v1/devices/{hostname}/identity  device identity fields
type Server struct {
	cfg    Config
	state  *State
	srv    *http.Server
	logger *slog.Logger
}

// New constructs a Server reading from state.  logger may be nil.
func New(cfg Config, state *State, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	cfg = cfg.withDefaults()

	s := &Server{
		cfg:    cfg,
		state:  state,
		logger: logger,
	}

	router := chi.NewRouter()
	router.Use(middleware.StripSlashes)
	router.Use(middleware.Recoverer)
	router.Get("/healthz", s.handleHealthz)
	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/devices", s.handleDevices)
		r.Get("/devices/{hostname}/snapshot", s.handleSnapshot)
		r.Get("/devices/{hostname}/identity", s.handleIdentity)
	})

	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	s.logger.Info("httpapi: listening", "addr", s.cfg.Addr)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("httpapi: serve failed", "error", err.Error())
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Warn("httpapi: shutdown error", "error", err.Error())
	}
	s.logger.Info("httpapi: stopped")
}

// ─────────────────────────────────────────────────────────────────────────────
// Handlers
// ─────────────────────────────────────────────────────────────────────────────

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// deviceSummary is one row of the device listing.
type deviceSummary struct {
	Hostname    string    `json:"hostname"`
	HasSnapshot bool      `json:"has_snapshot"`
	Stale       bool      `json:"stale"`
	LastSuccess time.Time `json:"last_success,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	hostnames := s.state.Hostnames()
	sort.Strings(hostnames)

	out := make([]deviceSummary, 0, len(hostnames))
	for _, h := range hostnames {
		ds, ok := s.state.Device(h)
		if !ok {
			continue
		}
		out = append(out, deviceSummary{
			Hostname:    h,
			HasSnapshot: ds.Snapshot != nil,
			Stale:       ds.Stale(),
			LastSuccess: ds.LastSuccess,
			LastError:   ds.LastError,
		})
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"devices": out})
}

// snapshotResponse wraps a snapshot with its freshness flag.
type snapshotResponse struct {
	Snapshot  *models.Snapshot `json:"snapshot"`
	Stale     bool             `json:"stale"`
	LastError string           `json:"last_error,omitempty"`
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	hostname := chi.URLParam(r, "hostname")

	ds, ok := s.state.Device(hostname)
	if !ok {
		http.Error(w, "unknown device", http.StatusNotFound)
		return
	}
	if ds.Snapshot == nil {
		http.Error(w, "no snapshot yet", http.StatusNotFound)
		return
	}

	s.writeJSON(w, http.StatusOK, snapshotResponse{
		Snapshot:  ds.Snapshot,
		Stale:     ds.Stale(),
		LastError: ds.LastError,
	})
}

func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request) {
	hostname := chi.URLParam(r, "hostname")

	ds, ok := s.state.Device(hostname)
	if !ok || ds.Snapshot == nil {
		http.Error(w, "unknown device", http.StatusNotFound)
		return
	}
	if ds.Snapshot.Device.Identity.Empty() {
		http.Error(w, "identity not collected", http.StatusNotFound)
		return
	}

	s.writeJSON(w, http.StatusOK, ds.Snapshot.Device.Identity)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("httpapi: response encode failed", "error", err.Error())
	}
}

// noopWriter discards all log output.
type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
