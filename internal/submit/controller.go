// Package submit places a prompt into a provider's chat surface and triggers sending.
package submit

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tgbench/api/schemas"
	"github.com/xkilldash9x/tgbench/internal/clock"
	"github.com/xkilldash9x/tgbench/internal/driver"
	"github.com/xkilldash9x/tgbench/internal/provider"
)

// inputRetryStep spaces the attempts to locate the input surface.
const inputRetryStep = 500 * time.Millisecond

// Controller implements the submission steps. It is stateless between calls.
type Controller struct {
	clock  clock.Clock
	logger *zap.Logger
}

// NewController creates a Controller.
func NewController(clk clock.Clock, logger *zap.Logger) *Controller {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{clock: clk, logger: logger.Named("submit")}
}

// Submit sets prompt into the input surface and triggers sending.
// A nil return means the page was asked to send; whether it registered the
// action is verified by the completion detector.
func (c *Controller) Submit(ctx context.Context, drv driver.Driver, profile provider.Profile, prompt string) error {
	start := c.clock.Now()
	timing := profile.Timing()
	log := c.logger.With(zap.String("provider", string(profile.Variant())), zap.Int("prompt_length", len(prompt)))

	// 1. Locate the input surface.
	input, err := c.locateInput(ctx, drv, profile, start)
	if err != nil {
		return err
	}
	log.Debug("Input surface located.", zap.String("selector", input.Selector()))

	// 2. Focus and replace the content in one driver operation.
	if err := drv.Focus(ctx, input); err != nil {
		return driver.Classify("focus input", c.since(start), err)
	}
	if err := drv.SetText(ctx, input, prompt); err != nil {
		return driver.Classify("set prompt text", c.since(start), err)
	}

	// 3. Let the page framework re-render.
	if err := c.clock.Sleep(ctx, timing.SettleDelay); err != nil {
		return err
	}

	// 4. Click the first usable send control, else press Enter.
	send, err := driver.InspectControl(ctx, drv, profile.Send())
	if err != nil {
		return driver.Classify("inspect send control", c.since(start), err)
	}
	if send.Ready() {
		err := drv.Click(ctx, send.Element)
		if err == nil {
			log.Info("Prompt sent via send control.", zap.String("selector", send.Element.Selector()))
			return nil
		}
		if !errors.Is(err, driver.ErrNodeDetached) {
			return driver.Classify("click send control", c.since(start), err)
		}
		log.Debug("Send control detached before click; falling back to Enter.")
	}

	if err := c.pressEnter(ctx, drv, profile, input); err != nil {
		return err
	}
	log.Info("Prompt sent via Enter keystroke.", zap.Bool("send_control_found", send.Found))
	return nil
}

func (c *Controller) locateInput(ctx context.Context, drv driver.Driver, profile provider.Profile, start time.Time) (driver.Element, error) {
	window := profile.Timing().InputRetryWindow
	for attempt := 1; ; attempt++ {
		el, err := driver.FirstVisible(ctx, drv, profile.Input())
		if err != nil {
			return nil, driver.Classify("locate input surface", c.since(start), err)
		}
		if el != nil {
			return el, nil
		}
		if c.since(start) >= window {
			c.logger.Warn("No input surface matched.", zap.Int("attempts", attempt), zap.Strings("selectors", profile.Input()))
			return nil, schemas.NewDetectionError(schemas.KindInputSurfaceNotFound, c.since(start),
				"none of %d input selectors matched a visible element within %v", len(profile.Input()), window)
		}
		if err := c.clock.Sleep(ctx, inputRetryStep); err != nil {
			return nil, err
		}
	}
}

// pressEnter synthesizes the submit keystroke, re-locating the input once if the
// page replaced it while the text was being set.
func (c *Controller) pressEnter(ctx context.Context, drv driver.Driver, profile provider.Profile, input driver.Element) error {
	start := c.clock.Now()
	err := drv.PressEnter(ctx, input)
	if err == nil {
		return nil
	}
	if !errors.Is(err, driver.ErrNodeDetached) {
		return driver.Classify("press enter", c.since(start), err)
	}

	fresh, ferr := driver.FirstVisible(ctx, drv, profile.Input())
	if ferr != nil {
		return driver.Classify("relocate input surface", c.since(start), ferr)
	}
	if fresh == nil {
		return schemas.NewDetectionError(schemas.KindSubmissionRejected, c.since(start),
			"no send control qualified and the input surface disappeared")
	}
	if err := drv.PressEnter(ctx, fresh); err != nil {
		if errors.Is(err, driver.ErrNodeDetached) {
			return schemas.NewDetectionError(schemas.KindSubmissionRejected, c.since(start),
				"no send control qualified and the input surface kept detaching")
		}
		return driver.Classify("press enter", c.since(start), err)
	}
	return nil
}

func (c *Controller) since(start time.Time) time.Duration {
	return c.clock.Now().Sub(start)
}
