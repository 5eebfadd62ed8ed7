// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every ASTAR_* variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"ASTAR_ADDR", "ASTAR_OLLAMA_URL", "ASTAR_DEFAULT_MODEL", "ASTAR_LOG_LEVEL", "ASTAR_DEBUG", "ASTAR_LOCAL_ONLY"} {
		t.Setenv(k, "")
	}
	t.Setenv("HOME", t.TempDir())
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// =============================================================================
// DEFAULTS
// =============================================================================

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "http://127.0.0.1:11434", cfg.Ollama.URL)
	assert.Equal(t, 60*time.Second, cfg.Ollama.StreamTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Ollama.RequestTimeout)
	assert.Equal(t, "1M", cfg.Server.BodyLimit)
	assert.Equal(t, int64(1_000_000), cfg.BodyLimitBytes())
	assert.Nil(t, cfg.Ollama.Options.ChatOptions())
	assert.NoError(t, cfg.Validate())
}

func TestBodyLimitBytes_Units(t *testing.T) {
	tests := []struct {
		limit string
		want  int64
	}{
		{"1M", 1_000_000},
		{"512K", 512_000},
		{"1Mi", 1 << 20},
		{"512Ki", 512 << 10},
		{"2MB", 2_000_000},
		{"lots", 0},
	}

	for _, tc := range tests {
		cfg := Default()
		cfg.Server.BodyLimit = tc.limit
		assert.Equal(t, tc.want, cfg.BodyLimitBytes(), "limit %q", tc.limit)
	}
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultOllamaURL, cfg.Ollama.URL)
	assert.Equal(t, "info", cfg.Log.Level)
}

// =============================================================================
// PRECEDENCE
// =============================================================================

func TestLoad_FileOverridesDefaults(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "config.toml", `
[server]
addr = "0.0.0.0:8080"

[ollama]
url = "http://gpu-box:11434/"
default_model = "llama3"
stream_timeout = "90s"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr)
	assert.Equal(t, "http://gpu-box:11434", cfg.Ollama.URL, "trailing slash trimmed")
	assert.Equal(t, "llama3", cfg.Ollama.DefaultModel)
	assert.Equal(t, 90*time.Second, cfg.Ollama.StreamTimeout)
	// untouched keys keep their defaults
	assert.Equal(t, 10*time.Minute, cfg.Ollama.RequestTimeout)
	assert.Equal(t, "1M", cfg.Server.BodyLimit)
}

func TestLoad_ModelOptions(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "config.toml", `
[ollama]
keep_alive = "30m"

[ollama.options]
temperature = 0.7
num_ctx = 8192
stop = ["</s>", "User:"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "30m", cfg.Ollama.KeepAlive)

	opts := cfg.Ollama.Options.ChatOptions()
	require.NotNil(t, opts)
	assert.Equal(t, 0.7, opts.Temperature)
	assert.Equal(t, 8192, opts.NumCtx)
	assert.Equal(t, []string{"</s>", "User:"}, opts.Stop)
	assert.Zero(t, opts.TopK)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "config.toml", `
[ollama]
url = "http://from-file:11434"
default_model = "file-model"
`)
	t.Setenv("ASTAR_OLLAMA_URL", "http://from-env:9999")
	t.Setenv("ASTAR_DEFAULT_MODEL", "env-model")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://from-env:9999", cfg.Ollama.URL)
	assert.Equal(t, "env-model", cfg.Ollama.DefaultModel)
}

func TestLoad_DefaultFileInHome(t *testing.T) {
	clearEnv(t)
	home := os.Getenv("HOME")
	require.NoError(t, os.MkdirAll(filepath.Join(home, ".astar"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(home, ".astar", "config.toml"),
		[]byte("[log]\nlevel = \"warn\"\n"), 0o600))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestLoad_UnknownKey(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "config.toml", "[ollama]\nhost = \"x\"\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ollama.host")
}

func TestApplyEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("ASTAR_ADDR", ":9000")
	t.Setenv("ASTAR_LOG_LEVEL", "error")

	cfg := Default()
	cfg.ApplyEnvOverrides()
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "error", cfg.Log.Level)
	assert.False(t, cfg.Log.Development)

	t.Setenv("ASTAR_DEBUG", "true")
	cfg.ApplyEnvOverrides()
	assert.True(t, cfg.Log.Development)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, ".env", "ASTAR_OLLAMA_URL=http://dotenv:11434\nASTAR_ADDR=:7000\n")
	t.Setenv("ASTAR_ADDR", ":1234")
	// t.Setenv("X", "") leaves the variable set, so unset it for gotenv.
	require.NoError(t, os.Unsetenv("ASTAR_OLLAMA_URL"))

	require.NoError(t, LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")))
	assert.Equal(t, "http://dotenv:11434", os.Getenv("ASTAR_OLLAMA_URL"))
	assert.Equal(t, ":1234", os.Getenv("ASTAR_ADDR"), "existing variables win")
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad scheme", func(c *Config) { c.Ollama.URL = "ftp://host" }, "ollama.url"},
		{"no host", func(c *Config) { c.Ollama.URL = "http://" }, "ollama.url"},
		{"not a url", func(c *Config) { c.Ollama.URL = "::::" }, "ollama.url"},
		{"body limit", func(c *Config) { c.Server.BodyLimit = "lots" }, "server.body_limit"},
		{"negative rate", func(c *Config) { c.Server.RateLimit = -1 }, "server.rate_limit"},
		{"zero burst", func(c *Config) { c.Server.RateBurst = 0 }, "server.rate_burst"},
		{"bad proxy", func(c *Config) { c.Server.TrustedProxies = []string{"10.0.0.1"} }, "server.trusted_proxies"},
		{"log level", func(c *Config) { c.Log.Level = "chatty" }, "log.level"},
		{"empty addr", func(c *Config) { c.Server.Addr = "" }, "server.addr"},
		{"keep alive", func(c *Config) { c.Ollama.KeepAlive = "soon" }, "ollama.keep_alive"},
		{"temperature", func(c *Config) { c.Ollama.Options.Temperature = 3 }, "ollama.options.temperature"},
		{"top p", func(c *Config) { c.Ollama.Options.TopP = 1.5 }, "ollama.options.top_p"},
		{"top k", func(c *Config) { c.Ollama.Options.TopK = -1 }, "ollama.options.top_k"},
		{"num ctx", func(c *Config) { c.Ollama.Options.NumCtx = -4096 }, "ollama.options.num_ctx"},
		{"num predict", func(c *Config) { c.Ollama.Options.NumPredict = -3 }, "ollama.options.num_predict"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var verrs ValidateErrors
			require.True(t, errors.As(err, &verrs))
			require.Len(t, verrs, 1)
			assert.Equal(t, tc.field, verrs[0].Field)
		})
	}
}

func TestValidate_KeepAliveForms(t *testing.T) {
	for _, v := range []string{"", "5m", "1h30m", "300", "-1", "0"} {
		cfg := Default()
		cfg.Ollama.KeepAlive = v
		assert.NoError(t, cfg.Validate(), "keep_alive %q", v)
	}
}

func TestValidate_Aggregates(t *testing.T) {
	cfg := Default()
	cfg.Ollama.URL = "nope"
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	var verrs ValidateErrors
	require.True(t, errors.As(err, &verrs))
	assert.Len(t, verrs, 2)
	assert.Contains(t, err.Error(), "; ")
}

func TestValidate_LocalOnly(t *testing.T) {
	cfg := Default()
	cfg.Ollama.LocalOnly = true
	assert.NoError(t, cfg.Validate(), "default URL is loopback")

	cfg.Ollama.URL = "http://gpu-box:11434"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ollama.url")
	assert.Contains(t, err.Error(), "local-only")
}

func TestLoad_LocalOnlyFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("ASTAR_OLLAMA_URL", "http://10.0.0.5:11434")

	_, err := Load("")
	require.NoError(t, err)

	t.Setenv("ASTAR_LOCAL_ONLY", "1")
	_, err = Load("")
	require.Error(t, err)
}

func TestLoad_RejectsBadEnvURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("ASTAR_OLLAMA_URL", "localhost:11434")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ollama.url")
}

// =============================================================================
// SAVE
// =============================================================================

func TestSaveTOML_RoundTrip(t *testing.T) {
	clearEnv(t)
	cfg := Default()
	cfg.Ollama.DefaultModel = "mistral"
	cfg.Ollama.ListTimeout = 3 * time.Second
	cfg.Ollama.KeepAlive = "10m"
	cfg.Ollama.Options = ModelOptions{Temperature: 0.5, Seed: 42, Stop: []string{"###"}}

	path := filepath.Join(t.TempDir(), "sub", "config.toml")
	require.NoError(t, cfg.SaveTOML(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestEncode(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Default().Encode(&buf))

	out := buf.String()
	assert.Contains(t, out, "[ollama]")
	assert.Contains(t, out, `url = "http://127.0.0.1:11434"`)
}
