// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/urfave/cli/v2"

	"github.com/jeranaias/astar-chat/internal/ollama"
	"github.com/jeranaias/astar-chat/internal/util"
)

func modelsCommand(o *options) *cli.Command {
	var asJSON bool

	return &cli.Command{
		Name:    "models",
		Aliases: []string{"ls"},
		Usage:   "List the models installed in the Ollama runtime",
		Flags: append(o.commonFlags(),
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "Print the model list as JSON",
				Destination: &asJSON,
			},
		),
		Before: o.load,
		Action: func(c *cli.Context) error {
			ctx, cancel := context.WithTimeout(c.Context, o.cfg.Ollama.ListTimeout)
			defer cancel()

			models, err := o.client().ListModels(ctx)
			if err != nil {
				return describeRuntimeError(err, o.cfg.Ollama.URL)
			}

			w := c.App.Writer
			switch {
			case asJSON:
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(models)
			case len(models) == 0:
				_, err := fmt.Fprintln(w, "No models installed. Pull one with `ollama pull <model>` or the Library dialog.")
				return err
			case isTerminal(w):
				_, err := fmt.Fprintln(w, modelTable(models, terminalWidth(w)))
				return err
			default:
				return writeModelList(w, models)
			}
		},
	}
}

func modelRow(m ollama.ModelInfo) []string {
	modified := ""
	if !m.ModifiedAt.IsZero() {
		modified = m.ModifiedAt.Format("2006-01-02 15:04")
	}
	return []string{util.TruncateWidth(m.Name, maxNameWidth), m.FormatSize(), m.Details.ParameterSize, m.Details.QuantizationLevel, modified}
}

// maxNameWidth caps the NAME column; tags like llama3:70b-instruct-q4_K_M run long.
const maxNameWidth = 40

var modelHeaders = []string{"NAME", "SIZE", "PARAMS", "QUANT", "MODIFIED"}

// modelTable renders models as a bordered table for terminals.
func modelTable(models []ollama.ModelInfo, width int) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(BorderStyle).
		Headers(modelHeaders...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return TitleStyle.Padding(0, 1)
			}
			return ValueStyle.Padding(0, 1)
		})

	for _, m := range models {
		t.Row(modelRow(m)...)
	}

	out := t.String()
	if width > 0 && lipgloss.Width(out) > width {
		out = t.Width(width).String()
	}
	return out
}

// writeModelList writes models as tab-aligned plain text for pipes.
func writeModelList(w io.Writer, models []ollama.ModelInfo) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(modelHeaders, "\t"))
	for _, m := range models {
		fmt.Fprintln(tw, strings.Join(modelRow(m), "\t"))
	}
	return tw.Flush()
}
