// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/jeranaias/astar-chat/internal/ollama"
)

func pullCommand(o *options) *cli.Command {
	return &cli.Command{
		Name:      "pull",
		Usage:     "Download a model from the Ollama library",
		ArgsUsage: "<model>",
		Flags:     o.commonFlags(),
		Before:    o.load,
		Action: func(c *cli.Context) error {
			name := strings.TrimSpace(c.Args().First())
			if name == "" {
				return errors.New("no model given")
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
			defer stop()
			ctx, cancel := requestContext(ctx, o.cfg.Ollama.RequestTimeout)
			defer cancel()

			w := c.App.Writer
			tty := isTerminal(w)
			lastStatus := ""

			err := o.client().PullModel(ctx, name, func(p ollama.PullProgress) {
				if tty {
					// Redraw one line in place.
					fmt.Fprintf(w, "\r\033[K%s", formatProgress(p))
					return
				}
				// Pipes get one line per phase, not per progress tick.
				if p.Status != lastStatus {
					fmt.Fprintln(w, p.Status)
					lastStatus = p.Status
				}
			})
			if tty {
				fmt.Fprintln(w)
			}
			if err != nil {
				if ollama.IsModelNotFound(err) {
					return fmt.Errorf("model %q is not in the Ollama library: %w", name, err)
				}
				return describeRuntimeError(err, o.cfg.Ollama.URL)
			}

			_, err = fmt.Fprintln(w, SuccessStyle.Render("Pulled"), name)
			return err
		},
	}
}

// formatProgress renders one progress line, with a percentage and byte
// counts when the runtime reports a layer size.
func formatProgress(p ollama.PullProgress) string {
	pct := p.Percent()
	if pct < 0 {
		return p.Status
	}
	return fmt.Sprintf("%s %3d%% (%s / %s)", p.Status, pct,
		ollama.FormatBytes(p.Completed), ollama.FormatBytes(p.Total))
}
