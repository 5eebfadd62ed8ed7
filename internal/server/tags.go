// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/jeranaias/astar-chat/internal/logging"
)

// hopHeaders are meaningful only for a single transport-level connection
// and are not forwarded.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// copyHeaders copies the end-to-end headers of src into dst.
func copyHeaders(dst, src http.Header) {
	skip := make(map[string]bool, len(hopHeaders))
	for _, h := range hopHeaders {
		skip[h] = true
	}
	for _, f := range src.Values("Connection") {
		for _, name := range strings.Split(f, ",") {
			if name = strings.TrimSpace(name); name != "" {
				skip[http.CanonicalHeaderKey(name)] = true
			}
		}
	}

	for k, vv := range src {
		if skip[k] {
			continue
		}
		dst.Del(k)
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

// handleTags handles GET /api/tags by mirroring the runtime's model list:
// status, end-to-end headers and body are passed through unchanged.
func (s *Server) handleTags(c echo.Context) error {
	ctx, cancel := requestTimeout(c.Request().Context(), s.cfg.Ollama.ListTimeout)
	defer cancel()

	resp, err := s.client.Tags(ctx)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	res := c.Response()
	copyHeaders(res.Header(), resp.Header)
	res.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(res, resp.Body); err != nil {
		logging.FromContext(ctx).Warn("TAGS_COPY_FAILED", zap.Error(err))
	}
	return nil
}
