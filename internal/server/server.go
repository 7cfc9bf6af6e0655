// Package server exposes the HTTP API: the public CFP listing plus the
// operational endpoints the refresh cron and the reconciliation cron call.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cfptrack/cfptrack/internal/aggregate"
	"github.com/cfptrack/cfptrack/internal/canonical"
	"github.com/cfptrack/cfptrack/internal/refresh"
)

// Server wires the domain services into an HTTP handler.
type Server struct {
	lister         *aggregate.Lister
	scheduler      *refresh.Scheduler
	reconciler     *canonical.Service
	allowedOrigins []string
}

func New(lister *aggregate.Lister, sched *refresh.Scheduler, rec *canonical.Service, allowedOrigins []string) *Server {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return &Server{
		lister:         lister,
		scheduler:      sched,
		reconciler:     rec,
		allowedOrigins: allowedOrigins,
	}
}

// Handler builds the router. The listing endpoint is CORS-open since it
// feeds browser frontends on other origins.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/api/cfps", s.handleListCFPs)
	r.Post("/api/update-source", s.handleUpdateSource)
	r.Post("/api/deduplicate", s.handleDeduplicate)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListCFPs(w http.ResponseWriter, r *http.Request) {
	filter := aggregate.Filter{
		Tag:    r.URL.Query().Get("tag"),
		Source: r.URL.Query().Get("source"),
	}

	events, err := s.lister.ListOpen(r.Context(), filter)
	if err != nil {
		if eris.Is(err, aggregate.ErrNoData) {
			writeError(w, http.StatusServiceUnavailable, "no event data yet")
			return
		}
		zap.L().Error("list cfps failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch CFPs")
		return
	}

	writeJSON(w, http.StatusOK, events)
}

// handleUpdateSource runs one refresh tick, or refreshes a named provider
// immediately when ?source= is given.
func (s *Server) handleUpdateSource(w http.ResponseWriter, r *http.Request) {
	var (
		res *refresh.TickResult
		err error
	)
	if name := r.URL.Query().Get("source"); name != "" {
		res, err = s.scheduler.RefreshSource(r.Context(), name)
	} else {
		res, err = s.scheduler.Tick(r.Context())
	}
	if err != nil {
		zap.L().Error("source refresh failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update source")
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDeduplicate(w http.ResponseWriter, r *http.Request) {
	dryRun := r.URL.Query().Get("dry_run") == "true"

	res, err := s.reconciler.Run(r.Context(), dryRun)
	if err != nil {
		zap.L().Error("reconciliation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to deduplicate")
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("write response failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
