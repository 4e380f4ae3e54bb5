// Package server exposes the controller over HTTP so any UI can render the
// published state and raise intents.
//
// Routes:
//
//	POST /api/camera/start       StartCamera, responds with the new state
//	POST /api/camera/stop        StopCamera
//	POST /api/detection/start    StartDetection
//	POST /api/detection/stop     StopDetection
//	GET  /api/state              current snapshot
//	GET  /api/state/ws           websocket stream of snapshots; accepts intents
//	GET  /healthz, /readyz       see package health
//	GET  <metrics path>          Prometheus scrape endpoint
//
// Intents never fail from the caller's point of view: an invalid transition
// is a no-op and the response is simply the unchanged state.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/moodlens/internal/controller"
	"github.com/MrWong99/moodlens/internal/health"
	"github.com/MrWong99/moodlens/internal/observe"
)

// Controller is the subset of [controller.Controller] the server drives.
type Controller interface {
	State() controller.State
	Subscribe() (<-chan controller.State, func())
	StartCamera(ctx context.Context)
	StopCamera()
	StartDetection(ctx context.Context)
	StopDetection()
}

var _ Controller = (*controller.Controller)(nil)

// Option configures a [Server].
type Option func(*Server)

// WithHealth mounts /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler serves h at path instead of promhttp.Handler at
// /metrics.
func WithMetricsHandler(path string, h http.Handler) Option {
	return func(s *Server) {
		if path != "" {
			s.metricsPath = path
		}
		s.metricsHandler = h
	}
}

// WithMetrics sets the instruments used by the request middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithOriginPatterns allows cross-origin websocket clients whose Origin host
// matches one of patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.originPatterns = append(s.originPatterns, patterns...) }
}

// Server is the HTTP front end of a controller.
type Server struct {
	ctrl           Controller
	health         *health.Handler
	metrics        *observe.Metrics
	metricsPath    string
	metricsHandler http.Handler
	originPatterns []string

	handler http.Handler
}

// New builds the route table for ctrl.
func New(ctrl Controller, opts ...Option) *Server {
	s := &Server{
		ctrl:        ctrl,
		metricsPath: "/metrics",
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.metricsHandler == nil {
		s.metricsHandler = promhttp.Handler()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/camera/start", s.intent(func(ctx context.Context) { s.ctrl.StartCamera(ctx) }))
	mux.HandleFunc("POST /api/camera/stop", s.intent(func(context.Context) { s.ctrl.StopCamera() }))
	mux.HandleFunc("POST /api/detection/start", s.intent(func(ctx context.Context) { s.ctrl.StartDetection(ctx) }))
	mux.HandleFunc("POST /api/detection/stop", s.intent(func(context.Context) { s.ctrl.StopDetection() }))
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/state/ws", s.handleStream)
	mux.Handle("GET "+s.metricsPath, s.metricsHandler)
	if s.health != nil {
		s.health.Register(mux)
	}

	s.handler = observe.Middleware(s.metrics)(mux)
	return s
}

// Handler returns the root handler with tracing and request metrics applied.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully within shutdownTimeout. Open websocket streams are closed when
// ctx is cancelled. TLS is used when certFile and keyFile are both set.
func (s *Server) ListenAndServe(ctx context.Context, addr, certFile, keyFile string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server: listening", "addr", addr, "tls", certFile != "")
		var err error
		if certFile != "" && keyFile != "" {
			err = srv.ListenAndServeTLS(certFile, keyFile)
		} else {
			err = srv.ListenAndServe()
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: listen %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	slog.Info("server: stopped")
	return nil
}

// intent wraps a controller intent as a POST handler. The intent runs on a
// context detached from the request so a client disconnect does not abort
// a camera acquisition halfway.
func (s *Server) intent(fn func(ctx context.Context)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fn(context.WithoutCancel(r.Context()))
		writeJSON(w, http.StatusOK, s.ctrl.State())
	}
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.State())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("server: encode response", "err", err)
	}
}
