// Package api exposes optimization and route plan operations over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"routeplanner/internal/cluster"
	"routeplanner/internal/metrics"
	"routeplanner/internal/opt"
	"routeplanner/internal/plans"
)

// Deps are the collaborators a Server dispatches to.
type Deps struct {
	Optimizer opt.Optimizer
	Clusterer *cluster.Clusterer
	Plans     *plans.Manager
	// Defaults fill optimization options the caller leaves unset.
	Defaults opt.Options
	// Ready reports whether backing services are reachable.
	Ready  func(ctx context.Context) error
	Logger *slog.Logger
	// Settings is a redacted view of the running configuration for /debug/info.
	Settings map[string]any
}

type Server struct {
	deps      Deps
	router    *mux.Router
	validator *validator.Validate
	logger    *slog.Logger
}

func NewServer(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	s := &Server{
		deps:      d,
		router:    mux.NewRouter(),
		validator: validator.New(),
		logger:    d.Logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.Use(s.recoveryMiddleware, s.instrumentMiddleware)

	v1.HandleFunc("/optimize/coordinates", s.optimizeCoordinates).Methods(http.MethodPost)
	v1.HandleFunc("/optimize/tasks", s.optimizeTasks).Methods(http.MethodPost)

	v1.HandleFunc("/route-plans", s.listPlans).Methods(http.MethodGet)
	v1.HandleFunc("/route-plans/stream", s.streamPlans).Methods(http.MethodGet)
	v1.HandleFunc("/route-plans/{id}", s.getPlan).Methods(http.MethodGet)
	v1.HandleFunc("/route-plans/{id}", s.updatePlan).Methods(http.MethodPatch)
	v1.HandleFunc("/route-plans/{id}", s.deletePlan).Methods(http.MethodDelete)
	v1.HandleFunc("/route-plans/{id}/status", s.updatePlanStatus).Methods(http.MethodPost)

	s.router.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	s.router.HandleFunc("/readyz", s.ready).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	s.router.HandleFunc("/openapi.yaml", s.openAPIYAML).Methods(http.MethodGet)
	s.router.HandleFunc("/openapi.json", s.openAPIJSON).Methods(http.MethodGet)
	s.router.HandleFunc("/docs", s.docs).Methods(http.MethodGet)
	s.router.HandleFunc("/debug/info", s.debugInfo).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, http.StatusMethodNotAllowed, "Method Not Allowed", r.Method, r.URL.Path)
	})
}

// actorFrom identifies the caller. Authentication happens upstream; the
// gateway forwards the resolved actor id in X-Actor-Id.
func actorFrom(r *http.Request) string {
	return r.Header.Get("X-Actor-Id")
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "build": buildInfo()})
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := s.deps.Ready(ctx); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
