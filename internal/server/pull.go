// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/jeranaias/astar-chat/internal/logging"
)

// PullRequest is the body of POST /api/pull. The library form sends
// "model"; "name" is accepted for older clients.
type PullRequest struct {
	Model string `json:"model" form:"model"`
	Name  string `json:"name" form:"name"`
}

// handlePull handles POST /api/pull. It starts a model download on the
// runtime and relays its NDJSON progress lines as they arrive.
func (s *Server) handlePull(c echo.Context) error {
	var req PullRequest
	if err := c.Bind(&req); err != nil {
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) && httpErr.Code == http.StatusRequestEntityTooLarge {
			return err
		}
		return &APIError{Status: http.StatusBadRequest, Type: ErrInvalidRequest, Message: "invalid pull request", Cause: err}
	}

	name := strings.TrimSpace(req.Model)
	if name == "" {
		name = strings.TrimSpace(req.Name)
	}
	if name == "" {
		return newAPIError(http.StatusBadRequest, ErrInvalidRequest, "model is required")
	}

	ctx, cancel := requestTimeout(c.Request().Context(), s.cfg.Ollama.RequestTimeout)
	defer cancel()

	log := logging.FromContext(ctx).With(zap.String("model", name))

	body, err := s.client.Pull(ctx, name)
	if err != nil {
		return err
	}
	defer body.Close()

	res := c.Response()
	h := res.Header()
	h.Set(echo.HeaderContentType, "application/x-ndjson")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	h.Set("Trailer", TrailerStreamStatus)
	res.WriteHeader(http.StatusOK)
	res.Flush()

	reader := bufio.NewReader(body)
	for {
		line, err := reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			if _, werr := res.Write(line); werr != nil {
				h.Set(TrailerStreamStatus, StreamTruncated)
				log.Info("PULL_CANCELED", zap.Error(werr))
				return nil
			}
			res.Flush()
		}
		if err == io.EOF {
			h.Set(TrailerStreamStatus, StreamComplete)
			log.Info("PULL_COMPLETE")
			return nil
		}
		if err != nil {
			h.Set(TrailerStreamStatus, StreamTruncated)
			log.Warn("PULL_ERROR", zap.Error(err))
			return nil
		}
	}
}
