// Package server provides HTTP server wiring and lifecycle management.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/podgraph/podgraph-go/internal/api/connections"
	"github.com/podgraph/podgraph-go/internal/api/invites"
	"github.com/podgraph/podgraph-go/internal/api/trustinvites"
	"github.com/podgraph/podgraph-go/internal/config"
	"github.com/podgraph/podgraph-go/internal/identity"
	"github.com/podgraph/podgraph-go/internal/lifecycle"
	"github.com/podgraph/podgraph-go/internal/platform/cache"
)

// ErrMissingDep is returned when a required dependency is nil.
var ErrMissingDep = errors.New("missing required dependency")

// Deps holds all server dependencies.
type Deps struct {
	// Required: the invite lifecycle service.
	Lifecycle *lifecycle.Service

	// Required: identity resolution for bearer tokens.
	Resolver identity.Resolver

	// Optional: rate limit counter backend. Nil disables rate limiting
	// even when the config enables it.
	Counter cache.Counter
}

// Server wraps the HTTP server and its dependencies.
type Server struct {
	cfg        *config.Config
	httpServer *http.Server
	logger     *slog.Logger
	deps       *Deps

	invitesHandler     *invites.Handler
	trustHandler       *trustinvites.Handler
	connectionsHandler *connections.Handler
}

// New creates a new Server with the given configuration.
// Returns an error if required dependencies are missing.
func New(cfg *config.Config, logger *slog.Logger, deps *Deps) (*Server, error) {
	if err := validateDeps(deps); err != nil {
		return nil, err
	}

	s := &Server{
		cfg:                cfg,
		logger:             logger,
		deps:               deps,
		invitesHandler:     invites.NewHandler(deps.Lifecycle, logger),
		trustHandler:       trustinvites.NewHandler(deps.Lifecycle, logger),
		connectionsHandler: connections.NewHandler(deps.Lifecycle, logger),
	}

	router := s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Start starts the HTTP server. It blocks until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting server", "addr", s.cfg.ListenAddr, "mode", s.cfg.Mode)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	return s.httpServer.Shutdown(ctx)
}

func validateDeps(deps *Deps) error {
	if deps == nil {
		return errors.New("deps is nil")
	}
	if deps.Lifecycle == nil {
		return fmt.Errorf("%w: Lifecycle", ErrMissingDep)
	}
	if deps.Resolver == nil {
		return fmt.Errorf("%w: Resolver", ErrMissingDep)
	}
	return nil
}
