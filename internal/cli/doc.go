// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides the astar command line.
//
// # Commands
//
//   - serve: run the chat web server
//   - models: list the models installed in the Ollama runtime
//   - ask: send one prompt and stream the reply to stdout
//   - pull: download a model from the Ollama library
//   - config: print the effective configuration, or write a default file
//
// Every command accepts --config, --env-file, --ollama-url, --log-level and
// --debug. Flags win over ASTAR_* environment variables, which win over
// the config file.
//
// # Usage
//
//	os.Exit(cli.Run(os.Args))
package cli
