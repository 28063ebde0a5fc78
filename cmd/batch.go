// File: cmd/batch.go
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tgbench/internal/observability"
	"github.com/xkilldash9x/tgbench/internal/orchestrator"
	"github.com/xkilldash9x/tgbench/internal/prompts"
	"github.com/xkilldash9x/tgbench/internal/results"
)

// newBatchCmd creates the `batch` command, which runs every experiment in a batch file.
func newBatchCmd() *cobra.Command {
	var (
		metricsAddr  string
		templatesDir string
	)

	batchCmd := &cobra.Command{
		Use:   "batch [batch.yaml]",
		Short: "Runs the experiments of a batch file and stores every attempt",
		Args:  cobra.ExactArgs(1),
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
			if !cmd.Flags().Changed("metrics-addr") {
				metricsAddr = cfg.Metrics().ListenAddr
			}
			logger := observability.GetLogger()

			// 1. Inputs
			set := prompts.NewSet()
			if templatesDir != "" {
				names, err := set.LoadDir(templatesDir)
				if err != nil {
					return fmt.Errorf("failed to load templates: %w", err)
				}
				logger.Info("Loaded prompt templates", zap.Strings("templates", names))
			}
			b, err := orchestrator.LoadBatch(args[0])
			if err != nil {
				return err
			}
			registry, err := cfg.NewRegistry()
			if err != nil {
				return fmt.Errorf("failed to build provider registry: %w", err)
			}

			// 2. Outputs
			store, err := results.Open(cfg.Results().Dir, cfg.Results().Prefix, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := store.Close(); err != nil {
					logger.Error("Failed to close results store", zap.Error(err))
				}
			}()

			metrics := observability.NewMetrics()
			if metricsAddr != "" {
				addr, err := metrics.Serve(ctx, metricsAddr, logger)
				if err != nil {
					return fmt.Errorf("failed to start metrics listener: %w", err)
				}
				logger.Info("Serving metrics", zap.String("addr", addr.String()))
			}

			// 3. Browser and orchestration
			browser := newBrowser(cfg.Browser(), logger)
			defer shutdownBrowser(ctx, browser, logger)

			orch, err := orchestrator.New(cfg.Batch(), logger, browser, registry, newEngine(cfg, logger), set, store, metrics)
			if err != nil {
				return fmt.Errorf("failed to create orchestrator: %w", err)
			}

			tally, err := orch.Run(ctx, b)
			fmt.Fprintf(cmd.OutOrStdout(), "Batch %q: %d attempts, %d complete, %d retries. Results in %s\n",
				b.Name, tally.Attempts, tally.Completed, tally.Retries, store.Dir())
			if err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Warn("Batch aborted", zap.String("results", store.Dir()))
				}
				return err
			}
			return nil
		},
	}

	batchCmd.Flags().String("results-dir", "", "Root directory for run directories. (Overrides config/env)")
	batchCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address. (Overrides config/env)")
	batchCmd.Flags().StringVar(&templatesDir, "templates", "", "Directory of *.tmpl prompt templates.")
	batchCmd.Flags().Bool("headless", false, "Run the browser headless. (Overrides config/env)")
	return batchCmd
}
