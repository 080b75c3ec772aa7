package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/scoregate/internal/domain"
	"github.com/opensource-finance/scoregate/internal/submission"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, service *submission.Service, cache domain.Cache, version string) *Server {
	handler := NewHandler(service, cache, version)
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// Health endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Get("/features/catalog", handler.Catalog)

	router.Group(func(r chi.Router) {
		r.Use(TenantMiddleware)

		r.Post("/compliance/evaluate", handler.EvaluateCompliance)
		r.Post("/compliance/report", handler.ComplianceReport)
		r.Post("/validate", handler.Validate)
		r.Post("/features/transform", handler.Transform)

		// Submission gate
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", handler.GetSession)
			r.Post("/evaluate", handler.EvaluateSession)
			r.Post("/override", handler.Override)
			r.Post("/submit", handler.Submit)
		})

		r.Get("/submissions/{id}", handler.GetSubmission)
		r.Get("/customers/{id}/audit", handler.AuditTrail)

		// Product rules
		r.Get("/rules", handler.ListRules)
		r.Get("/rules/{id}", handler.GetRule)
		r.Post("/rules", handler.CreateRule)
		r.Delete("/rules/{id}", handler.DeleteRule)
		r.Post("/rules/reload", handler.ReloadRules)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
