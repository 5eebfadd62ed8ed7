// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package offline guards the model runtime address.
//
// Every runtime URL must use http or https. With local-only mode enabled
// (ollama.local_only or ASTAR_LOCAL_ONLY) the URL must also point at a
// loopback host, so no prompt or model pull ever leaves the machine.
//
// Usage:
//
//	if err := offline.CheckRuntimeURL(cfg.Ollama.URL, cfg.Ollama.LocalOnly); err != nil {
//	    return err
//	}
package offline
