// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/jeranaias/astar-chat/internal/logging"
	"github.com/jeranaias/astar-chat/internal/model"
	"github.com/jeranaias/astar-chat/internal/ollama"
	"github.com/jeranaias/astar-chat/internal/util"
)

// Stream completion is reported in a trailer because the status line has
// already gone out by the time the runtime can fail.
const (
	TrailerStreamStatus = "X-Stream-Status"
	StreamComplete      = "complete"
	StreamTruncated     = "truncated"
)

// previewRunes caps the prompt preview in debug logs.
const previewRunes = 80

// ============================================================================
// REQUEST TYPES
// ============================================================================

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Messages      []model.Message `json:"messages"`
	SelectedModel string          `json:"selectedModel"`
}

// decodeJSON reads the request body as JSON regardless of Content-Type.
func decodeJSON(c echo.Context, v interface{}) error {
	err := c.Echo().JSONSerializer.Deserialize(c, v)
	if err == nil {
		return nil
	}

	var httpErr *echo.HTTPError
	switch {
	case errors.Is(err, io.EOF):
		return newAPIError(http.StatusBadRequest, ErrInvalidRequest, "request body is empty")
	case errors.As(err, &httpErr) && httpErr.Code == http.StatusRequestEntityTooLarge:
		return &APIError{Status: http.StatusRequestEntityTooLarge, Type: ErrRequestTooLarge, Message: "request body too large", Cause: err}
	default:
		return &APIError{Status: http.StatusBadRequest, Type: ErrInvalidRequest, Message: "invalid JSON body", Cause: err}
	}
}

// ============================================================================
// CHAT RELAY
// ============================================================================

// handleChat handles POST /api/chat. It forwards the conversation to the
// runtime and writes each generated chunk to the client as it arrives.
// Failures before the first byte become JSON errors; afterwards the
// X-Stream-Status trailer reports whether the reply is whole.
func (s *Server) handleChat(c echo.Context) error {
	var req ChatRequest
	if err := decodeJSON(c, &req); err != nil {
		return err
	}

	if len(req.Messages) == 0 {
		return newAPIError(http.StatusBadRequest, ErrInvalidRequest, "messages must contain at least one message")
	}

	modelName := req.SelectedModel
	if modelName == "" {
		modelName = s.client.DefaultModel()
	}
	if modelName == "" {
		return newAPIError(http.StatusBadRequest, ErrInvalidRequest, "selectedModel is required")
	}

	msgs, err := model.ToOllamaMessages(req.Messages)
	if err != nil {
		return err
	}

	ctx, cancel := requestTimeout(c.Request().Context(), s.cfg.Ollama.RequestTimeout)
	defer cancel()

	log := logging.FromContext(ctx).With(zap.String("model", modelName))
	if ce := log.Check(zap.DebugLevel, "CHAT_REQUEST"); ce != nil {
		last := req.Messages[len(req.Messages)-1]
		ce.Write(
			zap.Int("messages", len(req.Messages)),
			zap.String("last_role", last.Role.String()),
			zap.String("preview", util.TruncateRunes(util.SingleLine(last.Content), previewRunes)),
		)
	}

	stream, err := s.client.OpenChatStream(ctx, modelName, msgs)
	if err != nil {
		return err
	}
	defer stream.Close()

	res := c.Response()
	h := res.Header()
	h.Set(echo.HeaderContentType, "text/plain; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	h.Set("Trailer", TrailerStreamStatus)
	res.WriteHeader(http.StatusOK)
	res.Flush()

	stats := ollama.NewStreamStats()
	for {
		chunk, err := stream.Next()
		if err == io.EOF {
			h.Set(TrailerStreamStatus, StreamComplete)
			log.Info("STREAM_COMPLETE",
				zap.Int("messages", len(msgs)),
				zap.Int("completion_tokens", stats.CompletionTokens),
				zap.Duration("ttft", stats.TTFT),
				zap.Float64("tokens_per_second", stats.TokensPerSecond),
				zap.Duration("duration", stats.Duration()),
			)
			return nil
		}
		if err != nil {
			h.Set(TrailerStreamStatus, StreamTruncated)
			if ollama.IsCanceled(err) {
				log.Info("STREAM_CANCELED", zap.Int("chunks", stream.TokenCount()))
			} else {
				log.Warn("STREAM_ERROR", zap.Int("chunks", stream.TokenCount()), zap.Error(err))
			}
			return nil
		}

		stats.Observe(chunk)
		if chunk.Content == "" {
			continue
		}

		if _, err := io.WriteString(res, chunk.Content); err != nil {
			h.Set(TrailerStreamStatus, StreamTruncated)
			log.Info("STREAM_CANCELED", zap.Int("chunks", stream.TokenCount()), zap.Error(err))
			return nil
		}
		res.Flush()
	}
}
