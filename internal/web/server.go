// Package web serves the pirage status page, live status stream and door
// commands over HTTP.
package web

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/pirage/internal/fanout"
	"github.com/sweeney/pirage/internal/metrics"
	"github.com/sweeney/pirage/internal/status"
)

// Backend is the application the server drives.
type Backend interface {
	Status() status.Packet
	ToggleDoor()
	SetLocked(locked bool) bool
	SetPIREnabled(enabled bool) bool
	SetNotifyEnabled(enabled bool) bool
	Subscribe() *fanout.Subscription[status.Packet]
	Unsubscribe(id string)
}

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	backend    Backend
	log        *slog.Logger
}

// New creates a Server for backend listening on addr.
func New(addr string, backend Backend, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		backend: backend,
		log:     logger.With("component", "web"),
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/index.html", s.handleIndex)
	r.Get("/status", s.handleStatus)
	r.Get("/stream", s.handleStream)
	r.Get("/ws", s.handleWebSocket)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	r.Post("/click", s.handleClick)
	r.Post("/lock", s.handleLock)
	r.Post("/pir", s.handlePIR)
	r.Post("/notify", s.handleNotify)
	return r
}

// Handler returns the server's router.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server. Open streams end when their
// subscriptions are closed or the client goes away.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// logRequests logs each request once it completes. Streams are logged when
// the client disconnects.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, s.backend.Status()); err != nil {
		s.log.Warn("render index failed", "error", err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.JSON(s.backend.Status()))
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	s.backend.ToggleDoor()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	var req lockRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Locked == nil {
		writeError(w, http.StatusBadRequest, "locked is required")
		return
	}
	writeJSON(w, http.StatusOK, lockResponse{Locked: s.backend.SetLocked(*req.Locked)})
}

func (s *Server) handlePIR(w http.ResponseWriter, r *http.Request) {
	var req enabledRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}
	writeJSON(w, http.StatusOK, pirResponse{PIREnabled: s.backend.SetPIREnabled(*req.Enabled)})
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req enabledRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}
	writeJSON(w, http.StatusOK, notifyResponse{NotifyEnabled: s.backend.SetNotifyEnabled(*req.Enabled)})
}
