// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/jeranaias/astar-chat/internal/config"
)

func configCommand(o *options) *cli.Command {
	var force bool

	return &cli.Command{
		Name:   "config",
		Usage:  "Print the effective configuration as TOML",
		Flags: o.commonFlags(),
		Before: func(c *cli.Context) error {
			// init creates the file that load would otherwise require.
			switch c.Args().First() {
			case "init", "path":
				return nil
			}
			return o.load(c)
		},
		Action: func(c *cli.Context) error {
			return o.cfg.Encode(c.App.Writer)
		},
		Subcommands: []*cli.Command{
			{
				Name:  "path",
				Usage: "Print the default config file location",
				Action: func(c *cli.Context) error {
					path, err := config.ConfigPathTOML()
					if err != nil {
						return err
					}
					_, err = fmt.Fprintln(c.App.Writer, path)
					return err
				},
			},
			{
				Name:  "init",
				Usage: "Write a config file with default values",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:        "force",
						Usage:       "Overwrite an existing file",
						Aliases:     []string{"f"},
						Destination: &force,
					},
				},
				Action: func(c *cli.Context) error {
					path := o.configPath
					if path == "" {
						p, err := config.ConfigPathTOML()
						if err != nil {
							return err
						}
						path = p
					}

					if _, err := os.Stat(path); err == nil && !force {
						return fmt.Errorf("%s already exists (use --force to overwrite)", path)
					} else if err != nil && !errors.Is(err, os.ErrNotExist) {
						return err
					}

					if err := config.Default().SaveTOML(path); err != nil {
						return err
					}
					_, err := fmt.Fprintln(c.App.Writer, SuccessStyle.Render("Wrote"), path)
					return err
				},
			},
		},
	}
}
