// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/labstack/gommon/bytes"
	"github.com/subosito/gotenv"

	"github.com/jeranaias/astar-chat/internal/offline"
	"github.com/jeranaias/astar-chat/internal/ollama"
	"github.com/jeranaias/astar-chat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the main configuration structure for astar.
type Config struct {
	Server ServerConfig `toml:"server" json:"server"`
	Ollama OllamaConfig `toml:"ollama" json:"ollama"`
	Log    LogConfig    `toml:"log" json:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Addr is the listen address (host:port).
	Addr string `toml:"addr" json:"addr"`

	// BodyLimit caps request bodies, e.g. "1M" or "512K". Units are decimal
	// (1M = 1,000,000 bytes); use "Mi" or "Ki" for binary units.
	BodyLimit string `toml:"body_limit" json:"body_limit"`

	// RateLimit is the per-client request rate (requests/second). Zero disables it.
	RateLimit float64 `toml:"rate_limit" json:"rate_limit"`

	// RateBurst is the number of requests allowed above RateLimit at once.
	RateBurst int `toml:"rate_burst" json:"rate_burst"`

	ReadHeaderTimeout time.Duration `toml:"read_header_timeout" json:"read_header_timeout"`
	IdleTimeout       time.Duration `toml:"idle_timeout" json:"idle_timeout"`
	ShutdownTimeout   time.Duration `toml:"shutdown_timeout" json:"shutdown_timeout"`

	// TrustedProxies lists CIDRs whose X-Forwarded-For header is honored.
	TrustedProxies []string `toml:"trusted_proxies" json:"trusted_proxies"`

	// CORSOrigins enables cross-origin requests from the listed origins.
	CORSOrigins []string `toml:"cors_origins" json:"cors_origins"`
}

// OllamaConfig holds model runtime settings.
type OllamaConfig struct {
	// URL is the base URL of the runtime, used for chat, tags and pull.
	URL string `toml:"url" json:"url"`

	// DefaultModel is used when a chat request names no model.
	DefaultModel string `toml:"default_model" json:"default_model"`

	// StreamTimeout bounds the wait for the runtime's response headers.
	StreamTimeout time.Duration `toml:"stream_timeout" json:"stream_timeout"`

	// RequestTimeout bounds an entire chat or pull relay.
	RequestTimeout time.Duration `toml:"request_timeout" json:"request_timeout"`

	// ListTimeout bounds tag listing and health checks.
	ListTimeout time.Duration `toml:"list_timeout" json:"list_timeout"`

	// LocalOnly rejects runtime URLs that do not point at this machine.
	LocalOnly bool `toml:"local_only" json:"local_only"`

	// KeepAlive is how long the runtime keeps a model loaded after a chat:
	// a duration ("5m"), seconds ("300") or "-1" for forever. Empty leaves
	// the runtime default.
	KeepAlive string `toml:"keep_alive,omitempty" json:"keep_alive,omitempty"`

	// Options are model parameters sent with every chat.
	Options ModelOptions `toml:"options" json:"options"`
}

// ModelOptions are inference parameters. Zero values leave the model's
// own defaults in place.
type ModelOptions struct {
	Temperature float64  `toml:"temperature,omitempty" json:"temperature,omitempty"`
	TopK        int      `toml:"top_k,omitempty" json:"top_k,omitempty"`
	TopP        float64  `toml:"top_p,omitempty" json:"top_p,omitempty"`
	NumCtx      int      `toml:"num_ctx,omitempty" json:"num_ctx,omitempty"`
	NumPredict  int      `toml:"num_predict,omitempty" json:"num_predict,omitempty"`
	Seed        int      `toml:"seed,omitempty" json:"seed,omitempty"`
	Stop        []string `toml:"stop,omitempty" json:"stop,omitempty"`
}

// ChatOptions converts o to the runtime's wire form, or nil when every
// field is zero.
func (o ModelOptions) ChatOptions() *ollama.Options {
	if o.Temperature == 0 && o.TopK == 0 && o.TopP == 0 && o.NumCtx == 0 &&
		o.NumPredict == 0 && o.Seed == 0 && len(o.Stop) == 0 {
		return nil
	}
	return &ollama.Options{
		Temperature: o.Temperature,
		TopK:        o.TopK,
		TopP:        o.TopP,
		NumCtx:      o.NumCtx,
		NumPredict:  o.NumPredict,
		Seed:        o.Seed,
		Stop:        o.Stop,
	}
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level       string `toml:"level" json:"level"`
	Development bool   `toml:"development" json:"development"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// DefaultOllamaURL is the runtime address used when nothing overrides it.
const DefaultOllamaURL = "http://127.0.0.1:11434"

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              "127.0.0.1:3000",
			BodyLimit:         "1M",
			RateLimit:         10,
			RateBurst:         20,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
			ShutdownTimeout:   15 * time.Second,
		},
		Ollama: OllamaConfig{
			URL:            DefaultOllamaURL,
			StreamTimeout:  60 * time.Second,
			RequestTimeout: 10 * time.Minute,
			ListTimeout:    10 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the astar configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".astar"), nil
}

// ConfigPathTOML returns the path to the default TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load builds the effective configuration. If path is empty the default
// config file is used when it exists; an explicit path must exist.
// Environment overrides are applied last, then the result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if p, err := ConfigPathTOML(); err == nil {
			if _, statErr := os.Stat(p); statErr == nil {
				path = p
			}
		}
	}

	if path != "" {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config: %w", err)
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.fillDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes the TOML file at path over cfg. Keys absent from the
// file keep their current values.
func LoadTOML(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overwriting variables that are already set. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
		if err := gotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// fillDefaults restores zero values that would leave the server unusable.
func (c *Config) fillDefaults() {
	d := Default()
	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.BodyLimit == "" {
		c.Server.BodyLimit = d.Server.BodyLimit
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}
	if c.Ollama.URL == "" {
		c.Ollama.URL = d.Ollama.URL
	}
	if c.Ollama.StreamTimeout == 0 {
		c.Ollama.StreamTimeout = d.Ollama.StreamTimeout
	}
	if c.Ollama.RequestTimeout == 0 {
		c.Ollama.RequestTimeout = d.Ollama.RequestTimeout
	}
	if c.Ollama.ListTimeout == 0 {
		c.Ollama.ListTimeout = d.Ollama.ListTimeout
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	c.Ollama.URL = strings.TrimRight(c.Ollama.URL, "/")
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Encode writes the configuration as TOML.
func (c *Config) Encode(w io.Writer) error {
	if err := toml.NewEncoder(w).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// SaveTOML atomically writes the configuration to path, creating parent
// directories.
func (c *Config) SaveTOML(path string) error {
	var buf strings.Builder
	if err := c.Encode(&buf); err != nil {
		return err
	}
	if err := util.AtomicWriteFile(path, []byte(buf.String()), 0o600, 0o755); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies ASTAR_* environment variables to the config.
func (c *Config) ApplyEnvOverrides() {
	// ASTAR_ADDR
	if addr := os.Getenv("ASTAR_ADDR"); addr != "" {
		c.Server.Addr = addr
	}

	// ASTAR_OLLAMA_URL
	if u := os.Getenv("ASTAR_OLLAMA_URL"); u != "" {
		c.Ollama.URL = u
	}

	// ASTAR_DEFAULT_MODEL
	if model := os.Getenv("ASTAR_DEFAULT_MODEL"); model != "" {
		c.Ollama.DefaultModel = model
	}

	// ASTAR_LOG_LEVEL
	if level := os.Getenv("ASTAR_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}

	// ASTAR_LOCAL_ONLY
	if v := os.Getenv("ASTAR_LOCAL_ONLY"); v != "" {
		if on, err := strconv.ParseBool(v); err == nil {
			c.Ollama.LocalOnly = on
		}
	}

	// ASTAR_DEBUG
	if debug := os.Getenv("ASTAR_DEBUG"); debug != "" {
		if on, err := strconv.ParseBool(debug); err == nil && on {
			c.Log.Development = true
			c.Log.Level = "debug"
		}
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

// Validate validates the configuration and returns ValidateErrors if any
// field is unusable.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Server.Addr == "" {
		errs = append(errs, ValidationError{Field: "server.addr", Message: "must not be empty"})
	}
	if n, err := bytes.Parse(c.Server.BodyLimit); err != nil || n <= 0 {
		errs = append(errs, ValidationError{
			Field:   "server.body_limit",
			Message: fmt.Sprintf("invalid size '%s', expected a value like 1M, 512K or 1Mi", c.Server.BodyLimit),
		})
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, ValidationError{Field: "server.rate_limit", Message: "must not be negative"})
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
		errs = append(errs, ValidationError{Field: "server.rate_burst", Message: "must be at least 1 when rate_limit is set"})
	}
	for _, cidr := range c.Server.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			errs = append(errs, ValidationError{
				Field:   "server.trusted_proxies",
				Message: fmt.Sprintf("'%s' is not a CIDR", cidr),
			})
		}
	}

	if err := offline.CheckRuntimeURL(c.Ollama.URL, c.Ollama.LocalOnly); err != nil {
		errs = append(errs, ValidationError{Field: "ollama.url", Message: err.Error()})
	}
	if c.Ollama.StreamTimeout < 0 || c.Ollama.RequestTimeout < 0 || c.Ollama.ListTimeout < 0 {
		errs = append(errs, ValidationError{Field: "ollama", Message: "timeouts must not be negative"})
	}
	if !validKeepAlive(c.Ollama.KeepAlive) {
		errs = append(errs, ValidationError{
			Field:   "ollama.keep_alive",
			Message: fmt.Sprintf("invalid value '%s', expected a duration like 5m, seconds, or -1", c.Ollama.KeepAlive),
		})
	}
	errs = append(errs, c.Ollama.Options.validate()...)

	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("invalid level '%s', must be one of: debug, info, warn, error", c.Log.Level),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validKeepAlive(v string) bool {
	if v == "" {
		return true
	}
	if _, err := strconv.Atoi(v); err == nil {
		return true
	}
	_, err := time.ParseDuration(v)
	return err == nil
}

func (o ModelOptions) validate() ValidateErrors {
	var errs ValidateErrors
	if o.Temperature < 0 || o.Temperature > 2 {
		errs = append(errs, ValidationError{Field: "ollama.options.temperature", Message: "must be between 0 and 2"})
	}
	if o.TopP < 0 || o.TopP > 1 {
		errs = append(errs, ValidationError{Field: "ollama.options.top_p", Message: "must be between 0 and 1"})
	}
	if o.TopK < 0 {
		errs = append(errs, ValidationError{Field: "ollama.options.top_k", Message: "must not be negative"})
	}
	if o.NumCtx < 0 {
		errs = append(errs, ValidationError{Field: "ollama.options.num_ctx", Message: "must not be negative"})
	}
	if o.NumPredict < -2 {
		errs = append(errs, ValidationError{Field: "ollama.options.num_predict", Message: "must be -2, -1 or a token count"})
	}
	return errs
}

// BodyLimitBytes returns Server.BodyLimit in bytes, or 0 if it does not parse.
func (c *Config) BodyLimitBytes() int64 {
	n, err := bytes.Parse(c.Server.BodyLimit)
	if err != nil {
		return 0
	}
	return n
}
