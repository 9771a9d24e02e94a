// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/wearsync/internal/logging"
	"github.com/wearsync/internal/orchestrator"
	"github.com/wearsync/internal/session"
)

// Service interfaces for dependency injection and testing

// BackfillServiceInterface defines the backfill operations the API exposes.
type BackfillServiceInterface interface {
	Kickoff(ctx context.Context, userID string) (bool, error)
	Cancel(ctx context.Context, userID string) error
	Resync(ctx context.Context, userID string) error
	Snapshot(ctx context.Context, userID string) (*session.BackfillSnapshot, error)
}

// SyncServiceInterface defines the pull-sync operations the API exposes.
type SyncServiceInterface interface {
	Kickoff(ctx context.Context, userID string) (bool, error)
	Snapshot(ctx context.Context, userID string) (*session.SyncSnapshot, error)
}

// CompletionHandlerInterface absorbs provider webhook callbacks.
type CompletionHandlerInterface interface {
	HandleCompletion(ctx context.Context, sig *orchestrator.CompletionSignal) (bool, error)
}

// HealthChecker reports reachability of one backing dependency.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	backfill   BackfillServiceInterface
	sync       SyncServiceInterface
	completion CompletionHandlerInterface
	health     map[string]HealthChecker
	config     *ServerConfig
	logger     *logging.Logger
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// NewServer creates a new API server instance.
func NewServer(
	config *ServerConfig,
	backfill BackfillServiceInterface,
	sync SyncServiceInterface,
	completion CompletionHandlerInterface,
	health map[string]HealthChecker,
	logger *logging.Logger,
) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		backfill:   backfill,
		sync:       sync,
		completion: completion,
		health:     health,
		config:     config,
		logger:     logger.WithField("component", "api"),
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware(s.logger))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/v1").Subrouter()

	// Backfill endpoints
	api.HandleFunc("/users/{userID}/backfill", s.handleStartBackfill).Methods("POST")
	api.HandleFunc("/users/{userID}/backfill", s.handleGetBackfill).Methods("GET")
	api.HandleFunc("/users/{userID}/backfill/cancel", s.handleCancelBackfill).Methods("POST")
	api.HandleFunc("/users/{userID}/resync", s.handleResync).Methods("POST")

	// Sync endpoints
	api.HandleFunc("/users/{userID}/sync", s.handleStartSync).Methods("POST")
	api.HandleFunc("/users/{userID}/sync", s.handleGetSync).Methods("GET")

	// Provider webhook (no auth middleware; callers validate the signal)
	api.HandleFunc("/webhooks/provider", s.handleProviderWebhook).Methods("POST")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(s.health))
	for name, checker := range s.health {
		if err := checker.Ping(ctx); err != nil {
			deps[name] = "unreachable"
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	respondJSON(w, status, map[string]interface{}{
		"status":       map[bool]string{true: "healthy", false: "degraded"}[status == http.StatusOK],
		"service":      "wearsync",
		"dependencies": deps,
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
