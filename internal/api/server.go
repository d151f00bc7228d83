// Package api provides the HTTP REST API for the Casambi bridge.
//
// It exposes the discovered unit inventory, reconciled unit states,
// a control endpoint routed through the bridge, and the command audit
// trail to local tooling and dashboards.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/larkov/casambi-bridge/internal/audit"
	"github.com/larkov/casambi-bridge/internal/bridge"
	"github.com/larkov/casambi-bridge/internal/casambi"
	"github.com/larkov/casambi-bridge/internal/infrastructure/config"
	"github.com/larkov/casambi-bridge/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Bridge is the subset of the bridge the API reads from and controls.
// Defined here so handlers can be tested against a mock.
type Bridge interface {
	Units() []casambi.AddressedUnit
	States() map[casambi.UnitAddress]casambi.UnitState
	State(addr casambi.UnitAddress) (casambi.UnitState, bool)
	Control(ctx context.Context, addr casambi.UnitAddress, controls bridge.CommandControls, source string) (string, error)
	GetMetrics() bridge.BridgeMetrics
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	BridgeID string
	Logger   *logging.Logger
	Bridge   Bridge
	Audit    audit.Repository // optional, command log endpoints return 500 without it
	Version  string
}

// Server is the HTTP API server for the bridge.
//
// It manages the HTTP listener, routes, and middleware. The server is
// created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	bridgeID  string
	logger    *logging.Logger
	bridge    Bridge
	auditRepo audit.Repository
	version   string
	startTime time.Time
	server    *http.Server
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Bridge == nil {
		return nil, fmt.Errorf("bridge is required")
	}
	if deps.Config.Auth.Enabled && deps.Config.Auth.Secret == "" {
		return nil, fmt.Errorf("api auth enabled but no secret configured")
	}

	return &Server{
		cfg:       deps.Config,
		bridgeID:  deps.BridgeID,
		logger:    deps.Logger,
		bridge:    deps.Bridge,
		auditRepo: deps.Audit,
		version:   deps.Version,
		startTime: time.Now(),
	}, nil
}

// Start begins listening for HTTP connections.
//
// The listener runs in a background goroutine. The server can be
// stopped with Close().
func (s *Server) Start(_ context.Context) error {
	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server listening", "address", s.server.Addr)
	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
