package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/artpar/promoter/internal/core/guardrail"
	"github.com/artpar/promoter/internal/shell/api"
	"github.com/artpar/promoter/internal/shell/api/middleware"
	"github.com/artpar/promoter/internal/shell/dashboard"
	"github.com/artpar/promoter/internal/shell/deploy"
	"github.com/artpar/promoter/internal/shell/promotion"
	"github.com/artpar/promoter/internal/shell/store"
	"github.com/artpar/promoter/internal/shell/workers"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess         = 0
	ExitConfigError     = 1
	ExitDatabaseError   = 2
	ExitHTTPServerError = 3
)

// =============================================================================
// Server
// =============================================================================

// Server represents the promoter application server.
type Server struct {
	config        *Config
	httpServer    *http.Server
	store         store.Store
	prober        *workers.GatewayProber
	reviewMonitor *workers.ReviewMonitor
	logger        *slog.Logger
}

// NewServer creates a new server with the given config.
func NewServer(cfg *Config, logger *slog.Logger) (*Server, error) {
	// Connect to database
	s, err := store.NewSQLiteStore(cfg.Database.DSN)
	if err != nil {
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      err,
			ExitCode: ExitDatabaseError,
		}
	}

	// Build the guardrail checker
	checker := guardrail.NewChecker(guardrail.DefaultRules()...)
	if cfg.Guardrail.RulesFile != "" {
		data, err := os.ReadFile(cfg.Guardrail.RulesFile)
		if err != nil {
			s.Close()
			return nil, &ServerError{
				Op:       "NewServer",
				Err:      err,
				ExitCode: ExitConfigError,
			}
		}
		checker, err = guardrail.ParseRuleSet(data)
		if err != nil {
			s.Close()
			return nil, &ServerError{
				Op:       "NewServer",
				Err:      err,
				ExitCode: ExitConfigError,
			}
		}
		logger.Info("guardrail rules loaded", "file", cfg.Guardrail.RulesFile, "rules", checker.Rules())
	}

	// Build the deployment gateway
	var gateway deploy.Gateway
	if cfg.Deployer.BaseURL != "" {
		gateway = deploy.NewHTTPGateway(deploy.Config{
			BaseURL: cfg.Deployer.BaseURL,
			APIKey:  cfg.Deployer.APIKey,
			Timeout: cfg.Deployer.Timeout,
		})
		logger.Info("deployer configured", "base_url", cfg.Deployer.BaseURL)
	} else {
		gateway = deploy.NewNoopGateway()
		logger.Warn("no deployer configured, using no-op gateway")
	}

	// Load role assignments
	roles, err := middleware.LoadRoleMap(cfg.Auth.RolesFile)
	if err != nil {
		s.Close()
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      err,
			ExitCode: ExitConfigError,
		}
	}

	// Wire the state machine and read-side services
	machine := promotion.NewMachine(s, checker, gateway, promotion.Config{
		DeployTimeout: cfg.Deployer.Timeout,
	}, logger)
	dash := dashboard.NewService(s, logger)

	// Background workers. The prober feeds the readiness endpoint's
	// deployer check, so it is wired into the handler below.
	prober := workers.NewGatewayProber(gateway, workers.GatewayProberConfig{
		Interval: cfg.Workers.ProbeInterval,
	}, logger)
	reviewMonitor := workers.NewReviewMonitor(s, workers.ReviewMonitorConfig{
		Interval: cfg.Workers.MonitorInterval,
		MaxAge:   cfg.Workers.ReviewMaxAge,
	}, logger)

	handler := api.NewHandler(machine, dash, checker, s, prober, roles, logger)

	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Server{
		config:        cfg,
		httpServer:    httpServer,
		store:         s,
		prober:        prober,
		reviewMonitor: reviewMonitor,
		logger:        logger,
	}, nil
}

// Start starts the server and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	s.prober.Start()
	s.reviewMonitor.Start()

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server",
			"address", s.config.Server.Address())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-sigCh:
		s.logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		return &ServerError{
			Op:       "Start",
			Err:      err,
			ExitCode: ExitHTTPServerError,
		}
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	s.prober.Stop()
	s.reviewMonitor.Stop()

	if err := s.store.Close(); err != nil {
		s.logger.Error("database close error", "error", err)
	}

	s.logger.Info("shutdown complete")
	return nil
}

// =============================================================================
// Server Error
// =============================================================================

// ServerError represents an error during server operation.
type ServerError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *ServerError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ServerError) Unwrap() error {
	return e.Err
}
