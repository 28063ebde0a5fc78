package submit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/tgbench/api/schemas"
	"github.com/xkilldash9x/tgbench/internal/clock"
	"github.com/xkilldash9x/tgbench/internal/driver"
	"github.com/xkilldash9x/tgbench/internal/driver/drivertest"
	"github.com/xkilldash9x/tgbench/internal/mocks"
	"github.com/xkilldash9x/tgbench/internal/provider"
)

const prompt = "Write unit tests for the parser module."

var epoch = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func testProfile() provider.Profile {
	return provider.NewProfile(provider.VariantClaude, "Test", "https://chat.test/new", provider.Selectors{
		Input: []string{"#composer", "textarea"},
		Send:  []string{"#send", "button[type=submit]"},
		Stop:  []string{"#stop"},
	}, provider.DefaultTiming())
}

func setup(t *testing.T) (*Controller, *drivertest.Page, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(epoch)
	page := drivertest.NewPage("https://chat.test/new")
	return NewController(clk, zaptest.NewLogger(t)), page, clk
}

func TestSubmit_ClicksSendControl(t *testing.T) {
	c, page, clk := setup(t)
	page.Set("#composer", drivertest.Shown(""))
	page.Set("#send", drivertest.Shown(""))

	err := c.Submit(context.Background(), page, testProfile(), prompt)
	require.NoError(t, err)

	assert.Equal(t, []string{prompt}, page.SetTexts())
	assert.Equal(t, []string{"#send"}, page.Clicks())
	assert.Zero(t, page.Enters())
	assert.Equal(t, []time.Duration{time.Second}, clk.Sleeps(), "only the settle delay should be slept")
}

func TestSubmit_FallsBackThroughSelectorOrder(t *testing.T) {
	c, page, _ := setup(t)
	// The first input selector matches only a hidden node.
	page.Set("#composer", drivertest.Hidden())
	page.Set("textarea", drivertest.Shown(""))
	page.Set("#send", drivertest.Disabled())
	page.Set("button[type=submit]", drivertest.Shown(""))

	require.NoError(t, c.Submit(context.Background(), page, testProfile(), prompt))
	assert.Equal(t, []string{"button[type=submit]"}, page.Clicks())
}

func TestSubmit_PressesEnterWhenNoControlQualifies(t *testing.T) {
	tests := []struct {
		name string
		send []*drivertest.Node
	}{
		{name: "disabled", send: []*drivertest.Node{drivertest.Disabled()}},
		{name: "hidden", send: []*drivertest.Node{drivertest.Hidden()}},
		{name: "absent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, page, _ := setup(t)
			page.Set("#composer", drivertest.Shown(""))
			page.Set("#send", tt.send...)

			require.NoError(t, c.Submit(context.Background(), page, testProfile(), prompt))
			assert.Empty(t, page.Clicks())
			assert.Equal(t, 1, page.Enters())
		})
	}
}

func TestSubmit_InputAppearsWithinRetryWindow(t *testing.T) {
	c, page, clk := setup(t)
	page.Set("#send", drivertest.Shown(""))
	clk.OnSleep(func(now time.Time) {
		if now.Sub(epoch) >= 2*time.Second {
			page.Set("#composer", drivertest.Shown(""))
		}
	})

	require.NoError(t, c.Submit(context.Background(), page, testProfile(), prompt))
	assert.Equal(t, []string{prompt}, page.SetTexts())
}

func TestSubmit_InputSurfaceNotFound(t *testing.T) {
	c, page, clk := setup(t)

	err := c.Submit(context.Background(), page, testProfile(), prompt)
	require.Error(t, err)
	assert.ErrorIs(t, err, schemas.ErrInputSurfaceNotFound)

	var de *schemas.DetectionError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, 10*time.Second, de.Elapsed)
	assert.Len(t, clk.Sleeps(), 20)
	assert.Empty(t, page.SetTexts(), "nothing may be typed when no input was found")
}

func TestSubmit_RelocatesDetachedInput(t *testing.T) {
	c, page, clk := setup(t)
	original := drivertest.Shown("")
	page.Set("#composer", original)
	// The page re-renders the composer during the settle delay.
	clk.OnSleep(func(time.Time) {
		original.Detached = true
		page.Set("#composer", drivertest.Shown(prompt))
	})

	require.NoError(t, c.Submit(context.Background(), page, testProfile(), prompt))
	assert.Equal(t, 1, page.Enters())
}

func TestSubmit_RejectedWhenInputVanishes(t *testing.T) {
	c, page, clk := setup(t)
	original := drivertest.Shown("")
	page.Set("#composer", original)
	clk.OnSleep(func(time.Time) {
		original.Detached = true
		page.Set("#composer")
	})

	err := c.Submit(context.Background(), page, testProfile(), prompt)
	assert.ErrorIs(t, err, schemas.ErrSubmissionRejected)
}

func TestSubmit_ErrorClassification(t *testing.T) {
	t.Run("channel failure is a driver fault", func(t *testing.T) {
		c, page, _ := setup(t)
		page.Set("#composer", drivertest.Shown(""))
		cause := errors.New("target crashed")
		page.FailOn("SetText", &driver.OpError{Op: "callFunctionOn", Err: cause})

		err := c.Submit(context.Background(), page, testProfile(), prompt)
		assert.ErrorIs(t, err, schemas.ErrDriverFault)
		assert.ErrorIs(t, err, cause, "the cause must stay reachable")
	})

	t.Run("unknown error propagates unchanged", func(t *testing.T) {
		c, page, _ := setup(t)
		page.Set("#composer", drivertest.Shown(""))
		boom := errors.New("boom")
		page.FailOn("Focus", boom)

		err := c.Submit(context.Background(), page, testProfile(), prompt)
		assert.Same(t, boom, err)
		assert.Equal(t, schemas.ErrorKind(""), schemas.KindOf(err))
	})

	t.Run("cancellation is not a detection error", func(t *testing.T) {
		c, page, _ := setup(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := c.Submit(ctx, page, testProfile(), prompt)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, schemas.ErrorKind(""), schemas.KindOf(err))
	})
}

func TestSubmit_CallOrder(t *testing.T) {
	drv := new(mocks.MockDriver)
	input := &mocks.MockElement{Sel: "#composer"}
	send := &mocks.MockElement{Sel: "#send"}

	mock.InOrder(
		drv.On("FindElements", mock.Anything, "#composer").Return([]driver.Element{input}, nil).Once(),
		drv.On("Visible", mock.Anything, input).Return(true, nil).Once(),
		drv.On("Focus", mock.Anything, input).Return(nil).Once(),
		drv.On("SetText", mock.Anything, input, prompt).Return(nil).Once(),
		drv.On("FindElements", mock.Anything, "#send").Return([]driver.Element{send}, nil).Once(),
		drv.On("Visible", mock.Anything, send).Return(true, nil).Once(),
		drv.On("Enabled", mock.Anything, send).Return(true, nil).Once(),
		drv.On("Click", mock.Anything, send).Return(nil).Once(),
	)

	c := NewController(clock.NewFake(epoch), zaptest.NewLogger(t))
	require.NoError(t, c.Submit(context.Background(), drv, testProfile(), prompt))
	drv.AssertExpectations(t)
	drv.AssertNotCalled(t, "PressEnter", mock.Anything, mock.Anything)
}
