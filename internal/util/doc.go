// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by astar packages: atomic file
// writes for the config file and display-width aware truncation for
// terminal output and log previews.
package util
