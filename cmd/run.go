// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tgbench/api/schemas"
	"github.com/xkilldash9x/tgbench/internal/engine"
	"github.com/xkilldash9x/tgbench/internal/observability"
	"github.com/xkilldash9x/tgbench/internal/provider"
)

// newRunCmd creates the `run` command, which sends a single prompt.
func newRunCmd() *cobra.Command {
	var (
		providerName string
		promptText   string
		promptFile   string
		output       string
	)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Submits one prompt to a provider and prints the response",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			if err := applyFlagOverrides(cmd, cfg); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid flag override: %w", err)
			}

			variant, err := provider.ParseVariant(providerName)
			if err != nil {
				return err
			}
			text, err := readPrompt(promptText, promptFile, cmd.InOrStdin())
			if err != nil {
				return err
			}
			registry, err := cfg.NewRegistry()
			if err != nil {
				return fmt.Errorf("failed to build provider registry: %w", err)
			}

			logger := observability.GetLogger()
			browser := newBrowser(cfg.Browser(), logger)
			defer shutdownBrowser(ctx, browser, logger)

			runner := engine.NewRunner(browser, registry, newEngine(cfg, logger), logger)
			logger.Info("Submitting prompt",
				zap.String("provider", string(variant)),
				zap.Int("prompt_length", len(text)))

			report, err := runner.Run(ctx, variant, text)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				return fmt.Errorf("%s: %s: %w", variant, schemas.KindOf(err), err)
			}
			return writeResult(cmd.OutOrStdout(), output, report.Result)
		},
	}

	runCmd.Flags().StringVarP(&providerName, "provider", "p", "", "Provider to submit to (claude, openai, gemini).")
	runCmd.Flags().StringVar(&promptText, "prompt", "", "Prompt text.")
	runCmd.Flags().StringVar(&promptFile, "prompt-file", "", "Read the prompt from a file, or stdin when '-'.")
	runCmd.Flags().StringVarP(&output, "output", "o", "", "Write the response to a file instead of stdout.")
	runCmd.Flags().Bool("headless", false, "Run the browser headless. (Overrides config/env)")
	runCmd.Flags().Duration("max-wait", 0, "Default maximum wait for a response. (Overrides config/env)")

	_ = runCmd.MarkFlagRequired("provider")
	runCmd.MarkFlagsMutuallyExclusive("prompt", "prompt-file")
	runCmd.MarkFlagsOneRequired("prompt", "prompt-file")
	return runCmd
}

// readPrompt resolves the prompt from the flag value or file.
func readPrompt(text, file string, stdin io.Reader) (string, error) {
	if file != "" {
		var raw []byte
		var err error
		if file == "-" {
			raw, err = io.ReadAll(stdin)
		} else {
			raw, err = os.ReadFile(file)
		}
		if err != nil {
			return "", fmt.Errorf("failed to read prompt: %w", err)
		}
		text = string(raw)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("prompt is empty")
	}
	return text, nil
}

func writeResult(stdout io.Writer, path string, res *schemas.ExtractionResult) error {
	if path == "" {
		_, err := fmt.Fprintln(stdout, res.Text)
		return err
	}
	if err := os.WriteFile(path, []byte(res.Text), 0o644); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	observability.GetLogger().Info("Response written",
		zap.String("path", path),
		zap.String("strategy", string(res.Strategy)),
		zap.Duration("elapsed", res.Elapsed))
	return nil
}
