package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"eventannouncer/internal/announcer"
	"eventannouncer/internal/config"
	appLog "eventannouncer/internal/log"
	"eventannouncer/internal/metrics"
)

// Server exposes health, metrics and the last tick report. It never
// triggers a tick itself.
type Server struct {
	cfg      *config.Config
	gatherer prometheus.Gatherer
	router   chi.Router

	mu   sync.RWMutex
	last *announcer.Report
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		cfg:      cfg,
		gatherer: gatherer,
		router:   chi.NewRouter(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// RecordTick stores r as the latest report. It is meant to be passed to
// announcer.WithReportHook.
func (s *Server) RecordTick(r announcer.Report) {
	s.mu.Lock()
	s.last = &r
	s.mu.Unlock()
}

func (s *Server) registerRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/status", s.handleStatus)
	if s.gatherer != nil {
		s.router.Handle("/metrics", metrics.Handler(s.gatherer))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// statusResponse is the JSON shape for /api/status.
type statusResponse struct {
	Schedule    string            `json:"schedule"`
	Provider    string            `json:"provider"`
	WindowAlign string            `json:"window_align"`
	Windows     []windowDTO       `json:"windows"`
	Dedupe      bool              `json:"dedupe"`
	LastTick    *announcer.Report `json:"last_tick,omitempty"`
}

type windowDTO struct {
	Name      string `json:"name"`
	Lead      string `json:"lead"`
	Tolerance string `json:"tolerance"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Schedule:    s.cfg.Schedule,
		Provider:    s.cfg.Calendar.Provider,
		WindowAlign: s.cfg.WindowAlign,
		Dedupe:      s.cfg.Dedupe.Enabled,
	}
	for _, wc := range s.cfg.Windows {
		resp.Windows = append(resp.Windows, windowDTO{
			Name:      wc.Name,
			Lead:      wc.Lead.String(),
			Tolerance: wc.Tolerance.String(),
		})
	}

	s.mu.RLock()
	if s.last != nil {
		r := *s.last
		resp.LastTick = &r
	}
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, resp)
}

// ListenAndServe serves on cfg.Listen until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}
