package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lazypower/tierctl/internal/engine"
)

// Server is the tierctl HTTP API server.
type Server struct {
	ctrl    *engine.Controller
	router  chi.Router
	version string
	started time.Time
	logger  *zap.Logger
}

// New creates a new Server around a controller.
func New(ctrl *engine.Controller, version string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		ctrl:    ctrl,
		version: version,
		started: time.Now(),
		logger:  logger.Named("server"),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/objects", s.handleListObjects)
		r.Get("/objects/{id}", s.handleGetObject)
		r.Get("/plan", s.handlePlan)
		r.Post("/run", s.handleRun)
		r.Get("/inspect", s.handleInspect)
	})

	if m := s.ctrl.Metrics(); m != nil {
		r.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	}

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.ctrl.DB.PingContext(r.Context()); err != nil {
		dbOK = false
	}

	cfg := s.ctrl.Config()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":              "ok",
		"version":             s.version,
		"uptime":              time.Since(s.started).Seconds(),
		"db":                  dbOK,
		"db_path":             s.ctrl.DB.Path,
		"archival_simulation": cfg.UseArchivalSimulation,
		"cold":                fmt.Sprint(s.ctrl.Backends.Cold),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
