// Package engine joins submission and completion detection into a single call and
// manages the session a run executes in.
package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tgbench/api/schemas"
	"github.com/xkilldash9x/tgbench/internal/clock"
	"github.com/xkilldash9x/tgbench/internal/detect"
	"github.com/xkilldash9x/tgbench/internal/driver"
	"github.com/xkilldash9x/tgbench/internal/provider"
	"github.com/xkilldash9x/tgbench/internal/submit"
)

// Engine submits a prompt and waits for the provider's answer. It holds no
// per-run state and can be reused for sequential runs.
type Engine struct {
	controller *submit.Controller
	detector   *detect.Detector
	logger     *zap.Logger
}

// New creates an Engine. A nil source uses the default extractor; opts configure the detector.
func New(clk clock.Clock, source detect.CandidateSource, logger *zap.Logger, opts ...detect.Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		controller: submit.NewController(clk, logger),
		detector:   detect.New(clk, source, logger, opts...),
		logger:     logger.Named("engine"),
	}
}

// Submit places text on the page and observes the page until the response is
// complete. The report is never nil; when submission itself fails it only carries
// the provider and the idle state.
func (e *Engine) Submit(ctx context.Context, drv driver.Driver, profile provider.Profile, text string) (*detect.Report, error) {
	if err := e.controller.Submit(ctx, drv, profile, text); err != nil {
		e.logger.Warn("Submission failed.",
			zap.String("provider", string(profile.Variant())),
			zap.String("kind", string(schemas.KindOf(err))),
			zap.Error(err))
		return &detect.Report{
			Variant: profile.Variant(),
			State:   schemas.StateIdle,
			History: []schemas.GenerationState{schemas.StateIdle},
		}, err
	}
	return e.detector.Run(ctx, drv, profile, text)
}

// SubmitPrompt is Submit reduced to the extracted result.
func (e *Engine) SubmitPrompt(ctx context.Context, drv driver.Driver, profile provider.Profile, text string) (*schemas.ExtractionResult, error) {
	report, err := e.Submit(ctx, drv, profile, text)
	if err != nil {
		return nil, err
	}
	return report.Result, nil
}

// SubmitPrompt runs one prompt with the wall clock and the default extractor.
func SubmitPrompt(ctx context.Context, drv driver.Driver, profile provider.Profile, text string) (*schemas.ExtractionResult, error) {
	return New(nil, nil, nil).SubmitPrompt(ctx, drv, profile, text)
}
