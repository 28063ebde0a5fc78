// File: cmd/components.go
package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tgbench/internal/browser/session"
	"github.com/xkilldash9x/tgbench/internal/clock"
	"github.com/xkilldash9x/tgbench/internal/config"
	"github.com/xkilldash9x/tgbench/internal/engine"
	"github.com/xkilldash9x/tgbench/internal/extract"
)

const shutdownTimeout = 15 * time.Second

// browserBackend hands out tabs and tears the browser down.
type browserBackend interface {
	engine.SessionFactory
	Shutdown(ctx context.Context) error
}

// newBrowser is swapped in tests for a scripted backend.
var newBrowser = func(cfg config.BrowserConfig, logger *zap.Logger) browserBackend {
	return session.NewManager(cfg, logger)
}

// newEngine wires the configured extractor into a submit-and-detect engine.
func newEngine(cfg *config.Config, logger *zap.Logger) *engine.Engine {
	extractor := extract.New(cfg.Extractor().Options(), logger)
	return engine.New(clock.New(), extractor, logger)
}

// shutdownBrowser releases the browser even when the command context was canceled.
func shutdownBrowser(ctx context.Context, b browserBackend, logger *zap.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := b.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Error during browser shutdown", zap.Error(err))
	}
}

// applyFlagOverrides copies the override flags the user set explicitly over the
// loaded configuration. Flags a command does not define are skipped.
func applyFlagOverrides(cmd *cobra.Command, cfg config.Interface) error {
	flags := cmd.Flags()
	if flags.Lookup("headless") != nil && flags.Changed("headless") {
		headless, err := flags.GetBool("headless")
		if err != nil {
			return err
		}
		cfg.SetBrowserHeadless(headless)
	}
	if flags.Lookup("max-wait") != nil && flags.Changed("max-wait") {
		maxWait, err := flags.GetDuration("max-wait")
		if err != nil {
			return err
		}
		cfg.SetDetectorMaxWait(maxWait)
	}
	if flags.Lookup("results-dir") != nil && flags.Changed("results-dir") {
		dir, err := flags.GetString("results-dir")
		if err != nil {
			return err
		}
		cfg.SetResultsDir(dir)
	}
	return nil
}
