package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/liquidnet/asset-registry/internal/api/middleware"
	"github.com/liquidnet/asset-registry/internal/api/rest"
	"github.com/liquidnet/asset-registry/internal/logger"
)

// Config holds the server configuration.
type Config struct {
	Debug        bool
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Server wraps the HTTP server for the registry write API.
type Server struct {
	config     Config
	db         rest.Registry
	httpServer *http.Server
}

// New creates a new API server.
func New(cfg Config, db rest.Registry) *Server {
	return &Server{config: cfg, db: db}
}

// Start initializes and runs the HTTP server. It blocks until the server
// stops.
func (s *Server) Start() error {
	if s.config.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger())
	router.Use(middleware.SetupCORS())

	rest.SetupRoutes(router, rest.NewHandler(s.db))

	s.httpServer = &http.Server{
		Addr:         s.config.Addr,
		Handler:      router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	logger.Info("starting registry API server", zap.String("address", s.config.Addr))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("shutting down registry API server")
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
	}
	return nil
}
