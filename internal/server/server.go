// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/jeranaias/astar-chat/internal/config"
	"github.com/jeranaias/astar-chat/internal/ollama"
	"github.com/jeranaias/astar-chat/internal/web"
)

// Version is the server version reported by /health and the views.
var Version = "0.1.0"

// ============================================================================
// SERVER
// ============================================================================

// Server relays browser requests to the model runtime.
type Server struct {
	cfg    *config.Config
	client *ollama.Client
	logger *zap.Logger
	echo   *echo.Echo

	mu         sync.Mutex
	httpServer *http.Server
	closed     bool
}

// New builds a server and its routes. A nil logger disables logging.
func New(cfg *config.Config, client *ollama.Client, logger *zap.Logger) (*Server, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if client == nil {
		return nil, errors.New("server: ollama client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	renderer, err := web.NewRenderer()
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:    cfg,
		client: client,
		logger: logger,
		echo:   echo.New(),
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.Renderer = renderer
	e.HTTPErrorHandler = s.handleError
	e.IPExtractor = ipExtractor(cfg.Server.TrustedProxies)

	s.setupMiddleware()
	s.setupRoutes()
	return s, nil
}

// setupRoutes registers every endpoint.
func (s *Server) setupRoutes() {
	e := s.echo

	// Views
	e.GET("/", s.handleIndex)
	e.GET("/login", s.handleLogin)
	e.GET("/library", s.handleLibrary)
	e.StaticFS("/static", web.Static())

	// Runtime relay
	api := e.Group("/api")
	api.POST("/chat", s.handleChat)
	api.GET("/tags", s.handleTags)
	api.POST("/pull", s.handlePull)

	e.GET("/health", s.handleHealth)
}

// Handler returns the HTTP handler serving all routes.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Server.Addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.echo,
		ReadHeaderTimeout: s.cfg.Server.ReadHeaderTimeout,
		IdleTimeout:       s.cfg.Server.IdleTimeout,
		// Chat replies stream for as long as the model generates.
		WriteTimeout: 0,
		ErrorLog:     zap.NewStdLog(s.logger.Named("http")),
	}

	s.mu.Lock()
	if s.closed {
		// Shutdown won the race with Serve.
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.httpServer = srv
	s.mu.Unlock()

	s.logger.Info("SERVER_START",
		zap.String("addr", ln.Addr().String()),
		zap.String("version", Version),
		zap.String("ollama_url", s.client.BaseURL()),
	)

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight
// streams until ctx expires. A Serve call that has not started yet
// returns immediately instead of serving.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.httpServer
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	s.logger.Info("SERVER_SHUTDOWN", zap.String("phase", "starting graceful shutdown"))
	return srv.Shutdown(ctx)
}

// requestTimeout bounds ctx by d when d is positive.
func requestTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
