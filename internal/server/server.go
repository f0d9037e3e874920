// Package server exposes the briefd HTTP API: run triggering and
// inspection, escalation review, health, and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/briefd/internal/budget"
	"github.com/fyrsmithlabs/briefd/internal/config"
	"github.com/fyrsmithlabs/briefd/internal/debate"
	"github.com/fyrsmithlabs/briefd/internal/escalation"
	"github.com/fyrsmithlabs/briefd/internal/logging"
	"github.com/fyrsmithlabs/briefd/internal/pipeline"
	"github.com/fyrsmithlabs/briefd/internal/store"
)

// Runner triggers pipeline runs.
type Runner interface {
	Start(subject string) (string, error)
	ActiveRunID() string
}

// RunStore reads persisted run state and mutates escalation status.
type RunStore interface {
	GetRun(ctx context.Context, runID string) (*pipeline.Run, error)
	ListRuns(ctx context.Context) ([]*pipeline.Run, error)
	Costs(ctx context.Context, runID string) ([]budget.Record, error)
	GetTranscript(ctx context.Context, runID string) (*debate.Transcript, error)
	ListEscalations(ctx context.Context, status, priority string) ([]*escalation.Package, error)
	ResolveEscalation(ctx context.Context, id, decision, reviewer, notes string) (*escalation.Package, error)
}

// Server is the HTTP API server.
type Server struct {
	cfg    config.ServerConfig
	echo   *echo.Echo
	runner Runner
	store  RunStore
	logger *logging.Logger
}

// New creates the server with standard middleware and all routes
// registered.
func New(cfg config.ServerConfig, runner Runner, runStore RunStore, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := &Server{
		cfg:    cfg,
		echo:   e,
		runner: runner,
		store:  runStore,
		logger: logger.Named("server"),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/runs", s.handleTriggerRun)
	v1.GET("/runs", s.handleListRuns)
	v1.GET("/runs/:id", s.handleGetRun)
	v1.GET("/runs/:id/costs", s.handleRunCosts)
	v1.GET("/runs/:id/transcript", s.handleRunTranscript)
	v1.GET("/escalations", s.handleListEscalations)
	v1.POST("/escalations/:id/resolve", s.handleResolveEscalation)
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status      string `json:"status"`
	ActiveRunID string `json:"active_run_id,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:      "ok",
		ActiveRunID: s.runner.ActiveRunID(),
	})
}

// TriggerRequest is the POST /api/v1/runs body.
type TriggerRequest struct {
	Subject string `json:"subject"`
}

// TriggerResponse is the POST /api/v1/runs reply.
type TriggerResponse struct {
	RunID string `json:"run_id"`
}

func (s *Server) handleTriggerRun(c echo.Context) error {
	var req TriggerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if req.Subject == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "subject is required")
	}

	runID, err := s.runner.Start(req.Subject)
	if err != nil {
		if errors.Is(err, pipeline.ErrRunActive) {
			return echo.NewHTTPError(http.StatusConflict, "a run is already active")
		}
		s.logger.Error(c.Request().Context(), "failed to start run", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to start run")
	}

	s.logger.Info(c.Request().Context(), "run triggered",
		zap.String("run.id", runID),
		zap.String("subject", req.Subject),
	)
	return c.JSON(http.StatusAccepted, TriggerResponse{RunID: runID})
}

func (s *Server) handleListRuns(c echo.Context) error {
	runs, err := s.store.ListRuns(c.Request().Context())
	if err != nil {
		s.logger.Error(c.Request().Context(), "failed to list runs", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list runs")
	}
	return c.JSON(http.StatusOK, runs)
}

func (s *Server) handleGetRun(c echo.Context) error {
	run, err := s.store.GetRun(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.storeError(c, err, "run")
	}
	return c.JSON(http.StatusOK, run)
}

func (s *Server) handleRunCosts(c echo.Context) error {
	records, err := s.store.Costs(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.storeError(c, err, "cost ledger")
	}
	if records == nil {
		records = []budget.Record{}
	}
	return c.JSON(http.StatusOK, records)
}

func (s *Server) handleRunTranscript(c echo.Context) error {
	t, err := s.store.GetTranscript(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.storeError(c, err, "transcript")
	}
	return c.JSON(http.StatusOK, t)
}

func (s *Server) handleListEscalations(c echo.Context) error {
	pkgs, err := s.store.ListEscalations(c.Request().Context(), c.QueryParam("status"), c.QueryParam("priority"))
	if err != nil {
		s.logger.Error(c.Request().Context(), "failed to list escalations", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list escalations")
	}
	if pkgs == nil {
		pkgs = []*escalation.Package{}
	}
	return c.JSON(http.StatusOK, pkgs)
}

// ResolveRequest is the POST /api/v1/escalations/:id/resolve body.
type ResolveRequest struct {
	Decision string `json:"decision"`
	Reviewer string `json:"reviewer"`
	Notes    string `json:"notes"`
}

func (s *Server) handleResolveEscalation(c echo.Context) error {
	var req ResolveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if req.Decision == "" || req.Reviewer == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "decision and reviewer are required")
	}

	pkg, err := s.store.ResolveEscalation(c.Request().Context(), c.Param("id"), req.Decision, req.Reviewer, req.Notes)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyResolved) {
			return echo.NewHTTPError(http.StatusConflict, "escalation already resolved")
		}
		return s.storeError(c, err, "escalation")
	}

	s.logger.Info(c.Request().Context(), "escalation resolved",
		zap.String("escalation.id", pkg.ID),
		zap.String("decision", req.Decision),
	)
	return c.JSON(http.StatusOK, pkg)
}

func (s *Server) storeError(c echo.Context, err error, what string) error {
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalidID) {
		return echo.NewHTTPError(http.StatusNotFound, what+" not found")
	}
	s.logger.Error(c.Request().Context(), "store read failed", zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, "failed to read "+what)
}

// Start serves until ctx is cancelled, then shuts down gracefully
// within the configured timeout.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	errCh := make(chan error, 1)

	go func() {
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeout := time.Duration(s.cfg.ShutdownTimeout)
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
