// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/urfave/cli/v2"

	"github.com/jeranaias/astar-chat/internal/config"
	"github.com/jeranaias/astar-chat/internal/ollama"
	"github.com/jeranaias/astar-chat/internal/server"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// options holds the flag values shared by every command and the
// configuration they resolve to.
type options struct {
	configPath string
	envFile    string
	ollamaURL  string
	logLevel   string
	debug      bool

	// command specific
	addr  string
	model string

	cfg *config.Config
}

func (o *options) commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "Path to a TOML config file (default ~/.astar/config.toml)",
			Aliases:     []string{"c"},
			EnvVars:     []string{"ASTAR_CONFIG"},
			Destination: &o.configPath,
		},
		&cli.StringFlag{
			Name:        "env-file",
			Usage:       "Load environment variables from this file if it exists",
			Value:       ".env",
			Destination: &o.envFile,
		},
		&cli.StringFlag{
			Name:        "ollama-url",
			Usage:       "Base URL of the Ollama runtime",
			Destination: &o.ollamaURL,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level: debug, info, warn, error",
			Destination: &o.logLevel,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "Development logging at debug level",
			Destination: &o.debug,
		},
	}
}

// load resolves the configuration: defaults, then the config file, then
// the environment (including the env file), then flags.
func (o *options) load(c *cli.Context) error {
	if err := config.LoadDotEnv(o.envFile); err != nil {
		return err
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}

	if o.ollamaURL != "" {
		cfg.Ollama.URL = strings.TrimRight(o.ollamaURL, "/")
	}
	if o.addr != "" {
		cfg.Server.Addr = o.addr
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.debug {
		cfg.Log.Development = true
		cfg.Log.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	o.cfg = cfg
	return nil
}

// client builds the runtime client from the resolved configuration.
func (o *options) client() *ollama.Client {
	return ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL:       o.cfg.Ollama.URL,
		Timeout:       o.cfg.Ollama.ListTimeout,
		StreamTimeout: o.cfg.Ollama.StreamTimeout,
		DefaultModel:  o.cfg.Ollama.DefaultModel,
		KeepAlive:     o.cfg.Ollama.KeepAlive,
		Options:       o.cfg.Ollama.Options.ChatOptions(),
	})
}

// NewApp builds the astar command line application.
func NewApp() *cli.App {
	o := &options{}
	server.Version = Version

	return &cli.App{
		Name:    "astar",
		Usage:   "A minimal chat web client for a local Ollama runtime",
		Version: fmt.Sprintf("%s (commit %s, built %s)", Version, GitCommit, BuildDate),
		Commands: []*cli.Command{
			serveCommand(o),
			modelsCommand(o),
			askCommand(o),
			pullCommand(o),
			configCommand(o),
		},
	}
}

// Run executes the command line and returns the process exit code.
func Run(args []string) int {
	if err := NewApp().Run(args); err != nil {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error:"), err)
		return 1
	}
	return 0
}

// describeRuntimeError turns runtime failures into advice for the user.
func describeRuntimeError(err error, baseURL string) error {
	switch {
	case ollama.IsNotRunning(err):
		return fmt.Errorf("cannot reach Ollama at %s (is `ollama serve` running?): %w", baseURL, err)
	case ollama.IsModelNotFound(err):
		return fmt.Errorf("%w (pull it with `ollama pull <model>` or the Library dialog)", err)
	case ollama.IsTimeout(err):
		return fmt.Errorf("Ollama at %s did not answer in time: %w", baseURL, err)
	}
	return err
}

// requestContext bounds ctx by d when d is positive.
func requestContext(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
