// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package offline

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrInvalidURLScheme is returned for runtime URLs that are not http or https.
	ErrInvalidURLScheme = errors.New("scheme must be http or https")

	// ErrMissingHost is returned for runtime URLs without a host.
	ErrMissingHost = errors.New("missing host")

	// ErrNonLocalhost is returned in local-only mode for remote runtime URLs.
	ErrNonLocalhost = errors.New("local-only mode allows only localhost runtime URLs")
)

// =============================================================================
// CHECKS
// =============================================================================

// IsLocalhost reports whether host (optionally with a port) names the local
// machine: "localhost" or any loopback address.
func IsLocalhost(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.Trim(host, "[]"))

	if host == "localhost" {
		return true
	}
	// IsLoopback covers all of 127.0.0.0/8 and every spelling of ::1.
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// CheckRuntimeURL validates a runtime base URL. The scheme and host are
// always checked; localOnly additionally requires a loopback host.
func CheckRuntimeURL(rawURL string, localOnly bool) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL '%s': %w", rawURL, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("invalid URL '%s': %w", rawURL, ErrInvalidURLScheme)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid URL '%s': %w", rawURL, ErrMissingHost)
	}

	if localOnly && !IsLocalhost(u.Hostname()) {
		return fmt.Errorf("%w: '%s'", ErrNonLocalhost, rawURL)
	}
	return nil
}
