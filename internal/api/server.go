package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/marketplace-insignia/internal/config"
	"github.com/JakeFAU/marketplace-insignia/internal/insights"
	"github.com/JakeFAU/marketplace-insignia/internal/metrics"
	"github.com/JakeFAU/marketplace-insignia/internal/session"
)

// SessionService is the application surface the HTTP handlers drive.
type SessionService interface {
	Search(ctx context.Context, in insights.SearchInput) (insights.SearchResponse, error)
	Status(ctx context.Context, sessionID string) (insights.SessionStatus, error)
	Analysis(ctx context.Context, sessionID string) (insights.AnalysisResult, error)
	Cleanup(ctx context.Context, sessionID string) (session.CleanupResult, error)
	Export(ctx context.Context, sessionID string) (session.ExportResult, error)
	List(ctx context.Context, limit, offset int) ([]insights.Session, error)
	Ready(ctx context.Context) error
}

// Server wires HTTP handlers to the session service.
type Server struct {
	router chi.Router
	svc    SessionService
	clock  insights.Clock
	cfg    config.Config
	logger *zap.Logger
}

const readyTimeout = 2 * time.Second

// NewServer constructs a Server with middleware and routes. ui may be nil.
func NewServer(
	svc SessionService,
	ui http.Handler,
	clock insights.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		svc:    svc,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
	}
	timeout := cfg.Server.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	if len(cfg.Server.CORSOrigins) > 0 {
		r.Use(corsMiddleware(cfg.Server.CORSOrigins))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(timeout))
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/search", s.search)
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.listSessions)
			r.Route("/{session_id}", func(r chi.Router) {
				r.Delete("/", s.cleanupSession)
				r.Get("/status", s.sessionStatus)
				r.Get("/analysis", s.sessionAnalysis)
				r.Post("/export", s.exportSession)
			})
		})
	})

	if ui != nil {
		r.Handle("/", ui)
		r.Handle("/assets/*", ui)
	}

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": s.clock.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	if err := s.svc.Ready(ctx); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
