// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/jeranaias/astar-chat/internal/web"
)

// ============================================================================
// VIEWS
// ============================================================================

func (s *Server) page(title string) web.Page {
	return web.Page{
		Title:        title,
		Version:      Version,
		DefaultModel: s.client.DefaultModel(),
	}
}

// handleIndex handles GET /.
func (s *Server) handleIndex(c echo.Context) error {
	return c.Render(http.StatusOK, web.ViewIndex, s.page(""))
}

// handleLogin handles GET /login. The form is presentation only.
func (s *Server) handleLogin(c echo.Context) error {
	return c.Render(http.StatusOK, web.ViewLogin, s.page("Log in"))
}

// handleLibrary handles GET /library.
func (s *Server) handleLibrary(c echo.Context) error {
	return c.Render(http.StatusOK, web.ViewLibrary, s.page("Library"))
}

// ============================================================================
// HEALTH
// ============================================================================

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	OllamaStatus string `json:"ollama_status"`
	OllamaURL    string `json:"ollama_url"`
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(c echo.Context) error {
	health := HealthResponse{
		Status:    "ok",
		Version:   Version,
		OllamaURL: s.client.BaseURL(),
	}

	ctx, cancel := requestTimeout(c.Request().Context(), s.cfg.Ollama.ListTimeout)
	defer cancel()

	if err := s.client.CheckRunning(ctx); err == nil {
		health.OllamaStatus = "ok"
	} else {
		health.OllamaStatus = "unavailable"
		health.Status = "degraded"
	}

	return c.JSON(http.StatusOK, health)
}
