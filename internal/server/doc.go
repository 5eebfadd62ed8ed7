// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the HTTP server behind the astar chat client.
//
// It serves the browser views and relays chat, model-list and pull
// requests to a local Ollama runtime, streaming replies back as they are
// generated.
//
// # Endpoints
//
//   - POST /api/chat  - Streaming chat relay (text/plain, X-Stream-Status trailer)
//   - GET  /api/tags  - Runtime model list, mirrored unchanged
//   - POST /api/pull  - Model download progress (NDJSON)
//   - GET  /          - Chat page
//   - GET  /login     - Login form (presentation only)
//   - GET  /library   - Library dialog
//   - GET  /health    - Health check
//   - GET  /static/*  - Embedded assets
//
// # Middleware
//
//   - Request ids (X-Request-Id) and structured request logging
//   - Panic recovery
//   - Security headers (X-Content-Type-Options, X-Frame-Options, CSP, ...)
//   - Optional CORS
//   - Per-client rate limiting on /api routes
//   - Request body limit
//
// # Errors
//
// Every failure is answered with {"error":{"message","type","code"}}.
// Runtime failures map to 404 model_not_found, 503 upstream_unavailable,
// 504 upstream_timeout or 502 upstream_error.
//
// # Usage
//
//	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: cfg.Ollama.URL})
//	srv, err := server.New(cfg, client, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	go srv.Start()
//	defer srv.Shutdown(ctx)
package server
