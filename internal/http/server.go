// Package http serves the conductor status surface.
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

	"github.com/fyrsmithlabs/conductor/internal/failover"
	"github.com/fyrsmithlabs/conductor/internal/graph"
)

// Degradable reports a component's backend selection.
type Degradable interface {
	Status() failover.Status
}

// GraphSource is the graph layer as seen by /status.
type GraphSource interface {
	Degradable
	Summary(ctx context.Context) (graph.Summary, error)
}

// QueueSource is the task queue as seen by /status.
type QueueSource interface {
	Backend() string
	Depth(ctx context.Context) (map[string]int, error)
}

// Sources are the components reported on /status. Nil fields are omitted.
type Sources struct {
	Memory  Degradable
	Graph   GraphSource
	Queue   QueueSource
	Workers []string
}

// Server provides the health, status and metrics endpoints.
type Server struct {
	echo    *echo.Echo
	sources Sources
	logger  *zap.Logger
	config  *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host    string
	Port    int
	Version string
}

// NewServer creates a new HTTP server.
func NewServer(sources Sources, logger *zap.Logger, cfg *Config) (*Server, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(metricsMiddleware(nil, logger))
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Debug("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:    e,
		sources: sources,
		logger:  logger,
		config:  cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/status", s.handleStatus)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// Echo exposes the router for additional routes.
func (s *Server) Echo() *echo.Echo { return s.echo }

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleStatus reports backend degradation, the graph summary and the queue
// depth. A source that fails to answer is reported in Errors; the endpoint
// itself still returns 200.
func (s *Server) handleStatus(c echo.Context) error {
	ctx := c.Request().Context()
	resp := StatusResponse{
		Status:     StatusOK,
		Version:    s.config.Version,
		Components: []failover.Status{},
		Workers:    s.sources.Workers,
	}

	if s.sources.Memory != nil {
		resp.Components = append(resp.Components, s.sources.Memory.Status())
	}
	if s.sources.Graph != nil {
		resp.Components = append(resp.Components, s.sources.Graph.Status())
		summary, err := s.sources.Graph.Summary(ctx)
		if err != nil {
			resp.addError("graph", err)
		} else {
			resp.Graph = &summary
		}
	}
	if s.sources.Queue != nil {
		depth, err := s.sources.Queue.Depth(ctx)
		if err != nil {
			resp.addError("queue", err)
		} else {
			resp.Queue = &QueueStatus{Backend: s.sources.Queue.Backend(), Depth: depth}
		}
	}

	for _, comp := range resp.Components {
		if comp.Degraded {
			resp.Status = StatusDegraded
		}
	}
	if len(resp.Errors) > 0 {
		resp.Status = StatusDegraded
	}
	return c.JSON(http.StatusOK, resp)
}

// Start serves until ctx is cancelled, then shuts down within
// shutdownTimeout.
func (s *Server) Start(ctx context.Context, shutdownTimeout time.Duration) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))

	errCh := make(chan error, 1)
	go func() { errCh <- s.echo.Start(addr) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
