// Package server provides the HTTP server and routing for the rebalancing oracle.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/taxoracle/internal/database"
	rebalancinghandlers "github.com/aristath/taxoracle/internal/modules/rebalancing/handlers"
	runshandlers "github.com/aristath/taxoracle/internal/modules/runs/handlers"
	"github.com/aristath/taxoracle/internal/reliability"
)

// MaintenanceStatus reports the latest journal maintenance runs.
type MaintenanceStatus interface {
	LastRuns() []reliability.JobRun
}

// Config holds server configuration
type Config struct {
	Log       zerolog.Logger
	JournalDB *database.DB
	Runner    rebalancinghandlers.Runner
	Runs      runshandlers.RunStore
	// Maintenance is nil when no maintenance is scheduled.
	Maintenance MaintenanceStatus
	Port        int
	DevMode     bool
	// RunTimeout bounds one rebalance request, including all strategy solves.
	RunTimeout time.Duration
	Version    string
}

// Server represents the HTTP server
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	cfg            Config
	systemHandlers *SystemHandlers
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 5 * time.Minute
	}

	s := &Server{
		router:         chi.NewRouter(),
		log:            cfg.Log.With().Str("component", "server").Logger(),
		cfg:            cfg,
		systemHandlers: NewSystemHandlers(cfg.Log, cfg.JournalDB, cfg.Version),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.RunTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	// Recovery from panics
	s.router.Use(middleware.Recoverer)

	// Request ID
	s.router.Use(middleware.RequestID)

	// Real IP
	s.router.Use(middleware.RealIP)

	// Logging
	s.router.Use(s.loggingMiddleware)

	// Timeout
	s.router.Use(middleware.Timeout(s.cfg.RunTimeout))

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Compress responses
	if !devMode {
		s.router.Use(middleware.Compress(5, "application/json", "application/msgpack"))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		if s.cfg.Runner != nil {
			rebalancinghandlers.NewHandler(s.cfg.Runner, s.log).RegisterRoutes(r)
		}
		if s.cfg.Runs != nil {
			runshandlers.NewHandler(s.cfg.Runs, s.log).RegisterRoutes(r)
		}

		r.Route("/system", func(r chi.Router) {
			r.Get("/status", s.systemHandlers.HandleSystemStatus)
		})
	})
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// healthResponse is the payload of GET /health.
type healthResponse struct {
	Status      string               `json:"status"`
	Service     string               `json:"service"`
	Version     string               `json:"version"`
	Journal     string               `json:"journal"`
	Maintenance []reliability.JobRun `json:"maintenance,omitempty"`
}

// handleHealth reports whether the run journal is reachable. An unreachable
// journal answers 503 since runs could not be recorded; a failed maintenance
// run only marks the service degraded.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:  "healthy",
		Service: "taxoracle",
		Version: s.cfg.Version,
		Journal: "disabled",
	}
	code := http.StatusOK

	if s.cfg.JournalDB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.cfg.JournalDB.QuickCheck(ctx); err != nil {
			s.log.Warn().Err(err).Msg("Journal unreachable")
			resp.Status = "unhealthy"
			resp.Journal = "unreachable"
			code = http.StatusServiceUnavailable
		} else {
			resp.Journal = "ok"
		}
	}

	if s.cfg.Maintenance != nil {
		resp.Maintenance = s.cfg.Maintenance.LastRuns()
		for _, run := range resp.Maintenance {
			if run.Error != "" && code == http.StatusOK {
				resp.Status = "degraded"
			}
		}
	}

	s.writeJSON(w, code, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
