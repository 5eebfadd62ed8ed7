// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/jeranaias/astar-chat/internal/logging"
	"github.com/jeranaias/astar-chat/internal/server"
)

func serveCommand(o *options) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the chat web server",
		Flags: append(o.commonFlags(),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "Listen address (host:port)",
				Aliases:     []string{"a"},
				Destination: &o.addr,
			},
		),
		Before: o.load,
		Action: func(c *cli.Context) error {
			return runServe(c.Context, o)
		},
	}
}

// runServe serves until ctx is canceled or the process receives SIGINT or
// SIGTERM, then shuts down gracefully.
func runServe(ctx context.Context, o *options) error {
	cfg := o.cfg

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	srv, err := server.New(cfg, o.client(), logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("SERVER_SHUTDOWN", zap.Error(err))
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errc; err != nil {
		return err
	}
	logger.Info("SERVER_STOPPED")
	return nil
}
