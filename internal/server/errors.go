// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/jeranaias/astar-chat/internal/logging"
	"github.com/jeranaias/astar-chat/internal/model"
	"github.com/jeranaias/astar-chat/internal/ollama"
)

// ============================================================================
// ERROR TYPES
// ============================================================================

// ErrorType is the machine-readable error.type of a JSON error body.
type ErrorType string

const (
	ErrInvalidRequest      ErrorType = "invalid_request"
	ErrInvalidRole         ErrorType = "invalid_role"
	ErrRequestTooLarge     ErrorType = "request_too_large"
	ErrNotFound            ErrorType = "not_found"
	ErrMethodNotAllowed    ErrorType = "method_not_allowed"
	ErrModelNotFound       ErrorType = "model_not_found"
	ErrRateLimited         ErrorType = "rate_limited"
	ErrUpstreamUnavailable ErrorType = "upstream_unavailable"
	ErrUpstreamTimeout     ErrorType = "upstream_timeout"
	ErrUpstreamError       ErrorType = "upstream_error"
	ErrInternal            ErrorType = "internal_error"
)

// APIError is an error with a fixed HTTP status and error type.
type APIError struct {
	Status  int
	Type    ErrorType
	Message string
	Cause   error
}

func (e *APIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Cause
}

func newAPIError(status int, typ ErrorType, message string) *APIError {
	return &APIError{Status: status, Type: typ, Message: message}
}

// ErrorResponse is the JSON body of every error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a failed request.
type ErrorDetail struct {
	Message string    `json:"message"`
	Type    ErrorType `json:"type"`
	Code    int       `json:"code"`
}

// ============================================================================
// TRANSLATION
// ============================================================================

// errorFor maps any handler error onto the status and type the client sees.
func errorFor(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var roleErr *model.RoleError
	if errors.As(err, &roleErr) {
		return &APIError{Status: http.StatusBadRequest, Type: ErrInvalidRole, Message: roleErr.Error(), Cause: err}
	}

	var clientErr *ollama.ClientError
	if errors.As(err, &clientErr) {
		return upstreamError(clientErr)
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return echoError(httpErr)
	}

	return &APIError{Status: http.StatusInternalServerError, Type: ErrInternal, Message: "internal server error", Cause: err}
}

func upstreamError(err *ollama.ClientError) *APIError {
	switch err.Type {
	case ollama.ErrTypeModelNotFound:
		return &APIError{Status: http.StatusNotFound, Type: ErrModelNotFound, Message: err.Message, Cause: err}
	case ollama.ErrTypeNotRunning:
		return &APIError{Status: http.StatusServiceUnavailable, Type: ErrUpstreamUnavailable, Message: "model runtime is unreachable", Cause: err}
	case ollama.ErrTypeTimeout:
		return &APIError{Status: http.StatusGatewayTimeout, Type: ErrUpstreamTimeout, Message: "model runtime timed out", Cause: err}
	case ollama.ErrTypeCanceled:
		// Client went away; the status is only logged.
		return &APIError{Status: statusClientClosedRequest, Type: ErrInvalidRequest, Message: "request canceled", Cause: err}
	default:
		msg := err.Message
		if err.StatusCode != 0 {
			msg = fmt.Sprintf("model runtime returned %d: %s", err.StatusCode, err.Message)
		}
		return &APIError{Status: http.StatusBadGateway, Type: ErrUpstreamError, Message: msg, Cause: err}
	}
}

// statusClientClosedRequest is the nginx convention for a client that
// disconnected before the response was written.
const statusClientClosedRequest = 499

func echoError(err *echo.HTTPError) *APIError {
	msg := http.StatusText(err.Code)
	if m, ok := err.Message.(string); ok && m != "" {
		msg = m
	}

	typ := ErrInternal
	switch err.Code {
	case http.StatusBadRequest, http.StatusUnsupportedMediaType:
		typ = ErrInvalidRequest
	case http.StatusRequestEntityTooLarge:
		typ = ErrRequestTooLarge
	case http.StatusNotFound:
		typ = ErrNotFound
	case http.StatusMethodNotAllowed:
		typ = ErrMethodNotAllowed
	case http.StatusTooManyRequests:
		typ = ErrRateLimited
	}
	return &APIError{Status: err.Code, Type: typ, Message: msg, Cause: err}
}

// handleError is the echo HTTPErrorHandler. Every error leaves the server
// with the same JSON shape.
func (s *Server) handleError(err error, c echo.Context) {
	// Already answered, either by an earlier call for the same error or
	// by a handler that began streaming.
	if c.Response().Committed {
		return
	}

	apiErr := errorFor(err)
	log := logging.FromContext(c.Request().Context())

	if apiErr.Status >= http.StatusInternalServerError {
		log.Error("REQUEST_ERROR", zap.Int("status", apiErr.Status), zap.String("type", string(apiErr.Type)), zap.Error(err))
	} else {
		log.Debug("REQUEST_ERROR", zap.Int("status", apiErr.Status), zap.String("type", string(apiErr.Type)), zap.Error(err))
	}

	body := ErrorResponse{Error: ErrorDetail{Message: apiErr.Message, Type: apiErr.Type, Code: apiErr.Status}}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(apiErr.Status)
	} else {
		err = c.JSON(apiErr.Status, body)
	}
	if err != nil {
		log.Error("RESPONSE_WRITE_FAILED", zap.Error(err))
	}
}
