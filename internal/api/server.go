// Package api serves the live inspection surface: run status and
// Prometheus metrics while a benchmark is in flight.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tokenbench/tokenbench/internal/bench"
)

// StatusProvider exposes the run's in-flight state
type StatusProvider interface {
	Snapshot() bench.Snapshot
}

// Server is the status HTTP server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	logger     *slog.Logger
	status     StatusProvider
	addr       string
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a status server bound to addr
func NewServer(addr string, status StatusProvider, opts ...Option) *Server {
	s := &Server{
		logger: slog.Default(),
		status: status,
		addr:   addr,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRouter()
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.handleHealth)
	router.GET("/status", s.handleStatus)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router = router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.status.Snapshot())
}

// Start starts the HTTP server and blocks until it exits
func (s *Server) Start() error {
	s.logger.Info("starting status server", slog.String("addr", s.addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down status server")
	return s.httpServer.Shutdown(ctx)
}

// Router returns the Gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}
