// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for astar.
//
// Configuration is TOML with sensible defaults, environment variable
// overrides and validation.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - ServerConfig: listen address, body limit, rate limiting, timeouts
//   - OllamaConfig: model runtime URL, default model and timeouts
//   - LogConfig: log level and development mode
//
// # Configuration Precedence
//
// Configuration is resolved from (in order of precedence):
//   - Command line flags (applied by the caller)
//   - Environment variables (ASTAR_*), including those loaded from .env
//   - The file named by --config, or ~/.astar/config.toml
//   - Built-in defaults
//
// # Usage
//
//	_ = config.LoadDotEnv(".env")
//	cfg, err := config.Load(path)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: cfg.Ollama.URL})
package config
