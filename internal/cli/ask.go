// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/jeranaias/astar-chat/internal/model"
	"github.com/jeranaias/astar-chat/internal/ollama"
)

// maxStdinPrompt caps a prompt read from a pipe.
const maxStdinPrompt = 1 << 20

func askCommand(o *options) *cli.Command {
	var (
		system    string
		showStats bool
	)

	return &cli.Command{
		Name:      "ask",
		Usage:     "Send one prompt and stream the reply",
		ArgsUsage: "<prompt>  (read from stdin when omitted and stdin is piped)",
		Flags: append(o.commonFlags(),
			&cli.StringFlag{
				Name:        "model",
				Usage:       "Model to ask (default: ollama.default_model)",
				Aliases:     []string{"m"},
				Destination: &o.model,
			},
			&cli.StringFlag{
				Name:        "system",
				Usage:       "System prompt sent before the question",
				Aliases:     []string{"s"},
				Destination: &system,
			},
			&cli.BoolFlag{
				Name:        "stats",
				Usage:       "Print token statistics to stderr",
				Destination: &showStats,
			},
		),
		Before: o.load,
		Action: func(c *cli.Context) error {
			prompt, err := readPrompt(c)
			if err != nil {
				return err
			}

			modelName := o.model
			if modelName == "" {
				modelName = o.cfg.Ollama.DefaultModel
			}
			if modelName == "" {
				return errors.New("no model given: pass --model or set ollama.default_model")
			}

			conv := []model.Message{}
			if system != "" {
				conv = append(conv, model.Message{Role: model.RoleSystem, Content: system})
			}
			conv = append(conv, model.Message{Role: model.RoleUser, Content: prompt})

			msgs, err := model.ToOllamaMessages(conv)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
			defer stop()
			ctx, cancel := requestContext(ctx, o.cfg.Ollama.RequestTimeout)
			defer cancel()

			w := c.App.Writer
			stats := ollama.NewStreamStats()
			err = o.client().ChatStream(ctx, modelName, msgs, func(chunk ollama.StreamChunk) {
				stats.Observe(chunk)
				fmt.Fprint(w, chunk.Content)
			})
			fmt.Fprintln(w)
			if err != nil {
				return describeRuntimeError(err, o.cfg.Ollama.URL)
			}

			if showStats || isTerminal(c.App.ErrWriter) {
				fmt.Fprintln(c.App.ErrWriter, DimStyle.Render(formatStats(modelName, stats)))
			}
			return nil
		},
	}
}

// readPrompt takes the prompt from the arguments, or from stdin when no
// arguments are given and input is piped.
func readPrompt(c *cli.Context) (string, error) {
	prompt := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if prompt != "" {
		return prompt, nil
	}

	if isPiped(c.App.Reader) {
		data, err := io.ReadAll(io.LimitReader(c.App.Reader, maxStdinPrompt))
		if err != nil {
			return "", fmt.Errorf("failed to read prompt from stdin: %w", err)
		}
		prompt = strings.TrimSpace(string(data))
	}

	if prompt == "" {
		return "", errors.New("no prompt given")
	}
	return prompt, nil
}

func formatStats(modelName string, s *ollama.StreamStats) string {
	return fmt.Sprintf("%s · %d prompt + %d completion tokens · %.1f tok/s · first token %s · total %s",
		modelName,
		s.PromptTokens,
		s.CompletionTokens,
		s.TokensPerSecond,
		s.TTFT.Round(time.Millisecond),
		s.Duration().Round(time.Millisecond),
	)
}
