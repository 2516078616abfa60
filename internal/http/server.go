// Package http serves the dashboard: run status, manual triggering, usage
// reset and Prometheus metrics.
package http

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
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/crewd/internal/config"
	"github.com/fyrsmithlabs/crewd/internal/logging"
	"github.com/fyrsmithlabs/crewd/internal/orchestrator"
	"github.com/fyrsmithlabs/crewd/internal/runstate"
	"github.com/fyrsmithlabs/crewd/internal/usage"
)

// RunState is the read side of the run state store.
type RunState interface {
	Snapshot() runstate.Snapshot
	Running() bool
}

// Usage is the part of the usage ledger the dashboard needs.
type Usage interface {
	Snapshot() usage.Snapshot
	OverLimit() bool
	Reset(ctx context.Context) error
}

// Runner starts background runs.
type Runner interface {
	Trigger(ctx context.Context, issue int) error
}

// Server provides the dashboard endpoints.
type Server struct {
	echo   *echo.Echo
	state  RunState
	usage  Usage
	runner Runner
	logger *logging.Logger
	config config.DashboardConfig
}

// Option configures a Server.
type Option func(*Server)

// WithRunner enables POST /api/run. Without it the endpoint answers 503.
func WithRunner(r Runner) Option {
	return func(s *Server) { s.runner = r }
}

// NewServer creates the dashboard server.
func NewServer(state RunState, ledger Usage, logger *logging.Logger, cfg config.DashboardConfig, opts ...Option) (*Server, error) {
	if state == nil {
		return nil, fmt.Errorf("run state cannot be nil")
	}
	if ledger == nil {
		return nil, fmt.Errorf("usage ledger cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8765
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:   e,
		state:  state,
		usage:  ledger,
		logger: logger.Named("http"),
		config: cfg,
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestLogger)

	e.Use(NewHTTPMetrics(s.logger).Middleware())

	for _, opt := range opts {
		opt(s)
	}

	s.registerRoutes()
	return s, nil
}

// requestLogger tags the request context with its id and logs the outcome.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		req := c.Request()
		id := c.Response().Header().Get(echo.HeaderXRequestID)
		ctx := logging.WithRequestID(req.Context(), id)
		c.SetRequest(req.WithContext(ctx))

		err := next(c)

		s.logger.Info(ctx, "http request",
			zap.String("method", req.Method),
			zap.String("uri", req.RequestURI),
			zap.Int("status", statusOf(c, err)),
			zap.Duration("duration", time.Since(start)),
		)
		return err
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/", s.handleIndex)
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := s.echo.Group("/api")
	api.GET("/status", s.handleStatus)

	limit := s.config.RateLimit
	if limit <= 0 {
		limit = 1
	}
	burst := s.config.RateBurst
	if burst <= 0 {
		burst = 5
	}
	limited := middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(limit),
			Burst:     burst,
			ExpiresIn: 3 * time.Minute,
		}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return echo.NewHTTPError(http.StatusForbidden, "cannot identify client")
		},
		DenyHandler: func(c echo.Context, id string, err error) error {
			return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
		},
	})
	api.POST("/run", s.handleRun, limited)
	api.POST("/usage/reset", s.handleUsageReset, limited)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) status() StatusResponse {
	return StatusResponse{
		Running:  s.state.Running(),
		Snapshot: s.state.Snapshot(),
		Usage:    s.usage.Snapshot(),
	}
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.status())
}

// handleRun checks, in order: run in flight, usage limit, runner presence.
func (s *Server) handleRun(c echo.Context) error {
	ctx := c.Request().Context()

	var req RunRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(ctx, "invalid run request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	issue := req.number()
	if issue <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "issue_number must be a positive integer")
	}

	if s.state.Running() {
		return echo.NewHTTPError(http.StatusConflict, "Already running")
	}
	if s.usage.OverLimit() {
		return echo.NewHTTPError(http.StatusForbidden, "Usage limit exceeded; reset usage to run again")
	}
	if s.runner == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Dashboard runner not registered")
	}

	err := s.runner.Trigger(ctx, issue)
	switch {
	case errors.Is(err, orchestrator.ErrRunInProgress):
		return echo.NewHTTPError(http.StatusConflict, "Already running")
	case errors.Is(err, usage.ErrLimitExceeded):
		return echo.NewHTTPError(http.StatusForbidden, "Usage limit exceeded; reset usage to run again")
	case err != nil:
		s.logger.Error(ctx, "starting run", zap.Int("issue", issue), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "could not start run")
	}

	s.logger.Info(ctx, "run triggered", zap.Int("issue", issue))
	return c.JSON(http.StatusAccepted, RunResponse{OK: true, Issue: issue})
}

func (s *Server) handleUsageReset(c echo.Context) error {
	ctx := c.Request().Context()
	if err := s.usage.Reset(ctx); err != nil {
		s.logger.Error(ctx, "resetting usage", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "could not reset usage")
	}
	s.logger.Info(ctx, "usage reset")
	return c.JSON(http.StatusOK, UsageResetResponse{OK: true, Usage: s.usage.Snapshot()})
}

// Handler exposes the router, e.g. for httptest.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens on the configured address until Shutdown.
func (s *Server) Start() error {
	addr := s.config.Addr()
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
