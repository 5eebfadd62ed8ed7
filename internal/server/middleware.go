// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jeranaias/astar-chat/internal/logging"
)

// ============================================================================
// MIDDLEWARE CHAIN
// ============================================================================

// setupMiddleware installs, outermost first: request ids, request logging,
// panic recovery, security headers, optional CORS, rate limiting and the
// body limit.
func (s *Server) setupMiddleware() {
	e := s.echo

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator:        uuid.NewString,
		RequestIDHandler: s.attachRequestLogger,
	}))
	e.Use(s.requestLogger())
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			logging.FromContext(c.Request().Context()).Error("PANIC_RECOVERED",
				zap.Error(err),
				zap.ByteString("stack", stack),
			)
			return err
		},
	}))
	e.Use(middleware.SecureWithConfig(securityConfig))

	if len(s.cfg.Server.CORSOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: s.cfg.Server.CORSOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
			ExposeHeaders: []string{
				echo.HeaderXRequestID,
				TrailerStreamStatus,
			},
			MaxAge: 86400,
		}))
	}

	if s.cfg.Server.RateLimit > 0 {
		e.Use(s.rateLimiter())
	}

	e.Use(middleware.BodyLimit(s.cfg.Server.BodyLimit))
}

// attachRequestLogger stores a logger tagged with the request id in the
// request context so handlers and the error handler share it.
func (s *Server) attachRequestLogger(c echo.Context, requestID string) {
	l := s.logger.With(zap.String("request_id", requestID))
	req := c.Request()
	c.SetRequest(req.WithContext(logging.NewContext(req.Context(), l)))
}

// securityConfig mirrors the headers the API has always sent.
var securityConfig = middleware.SecureConfig{
	XSSProtection:         "1; mode=block",
	ContentTypeNosniff:    "nosniff",
	XFrameOptions:         "DENY",
	ContentSecurityPolicy: "default-src 'self'",
	ReferrerPolicy:        "strict-origin-when-cross-origin",
	HSTSMaxAge:            31536000,
}

// ============================================================================
// REQUEST LOGGING
// ============================================================================

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURIPath:   true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("path", v.URIPath),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("remote_ip", v.RemoteIP),
				zap.String("request_id", v.RequestID),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}

			switch {
			case v.Status >= http.StatusInternalServerError:
				s.logger.Warn("REQUEST", fields...)
			case strings.HasPrefix(v.URIPath, "/static/"):
				s.logger.Debug("REQUEST", fields...)
			default:
				s.logger.Info("REQUEST", fields...)
			}
			return nil
		},
	})
}

// ============================================================================
// RATE LIMITING
// ============================================================================

// rateLimiter applies a per-client token bucket to the API routes.
func (s *Server) rateLimiter() echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(s.cfg.Server.RateLimit),
		Burst:     s.cfg.Server.RateBurst,
		ExpiresIn: 3 * time.Minute,
	})

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: func(c echo.Context) bool {
			return !strings.HasPrefix(c.Path(), "/api/")
		},
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return newAPIError(http.StatusForbidden, ErrInvalidRequest, "unable to identify client")
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			logging.FromContext(c.Request().Context()).Warn("RATE_LIMITED", zap.String("client", identifier))
			return newAPIError(http.StatusTooManyRequests, ErrRateLimited, "rate limit exceeded, retry later")
		},
	})
}

// ============================================================================
// CLIENT IP EXTRACTION
// ============================================================================

// ipExtractor honors X-Forwarded-For only when the connection comes from
// one of the trusted proxy ranges; otherwise the connection address is used.
func ipExtractor(trustedProxies []string) echo.IPExtractor {
	if len(trustedProxies) == 0 {
		return echo.ExtractIPDirect()
	}

	opts := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, cidr := range trustedProxies {
		if _, ipNet, err := net.ParseCIDR(cidr); err == nil {
			opts = append(opts, echo.TrustIPRange(ipNet))
		}
	}
	return echo.ExtractIPFromXFFHeader(opts...)
}
