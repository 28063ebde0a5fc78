package detect

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/tgbench/api/schemas"
	"github.com/xkilldash9x/tgbench/internal/clock"
	"github.com/xkilldash9x/tgbench/internal/driver"
	"github.com/xkilldash9x/tgbench/internal/driver/drivertest"
	"github.com/xkilldash9x/tgbench/internal/extract"
	"github.com/xkilldash9x/tgbench/internal/provider"
)

const echo = "Write unit tests for the parser module."

var epoch = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func testProfile() provider.Profile {
	return provider.NewProfile(provider.VariantOpenAI, "Test", "https://chat.test/", provider.Selectors{
		Input:    []string{"#composer"},
		Send:     []string{"#send"},
		Stop:     []string{"#stop"},
		Loading:  []string{".streaming"},
		Response: []string{"div.reply"},
	}, provider.DefaultTiming())
}

// harness wires a detector to a scripted page. step runs after every clock sleep
// with the time elapsed since the run started.
type harness struct {
	page     *drivertest.Page
	clock    *clock.Fake
	detector *Detector
	observed []schemas.PollObservation
}

func newHarness(t *testing.T, step func(p *drivertest.Page, elapsed time.Duration)) *harness {
	t.Helper()
	h := &harness{
		page:  drivertest.NewPage("https://chat.test/c/1"),
		clock: clock.NewFake(epoch),
	}
	if step != nil {
		h.clock.OnSleep(func(now time.Time) { step(h.page, now.Sub(epoch)) })
	}
	logger := zaptest.NewLogger(t)
	h.detector = New(h.clock, extract.New(extract.DefaultOptions(), logger), logger,
		WithSink(func(obs schemas.PollObservation) { h.observed = append(h.observed, obs) }))
	return h
}

func (h *harness) run() (*Report, error) {
	return h.detector.Run(context.Background(), h.page, testProfile(), echo)
}

func reply(n int) string { return strings.Repeat("r", n) }

// Scenario: the send control is still usable after the acceptance delay.
func TestRun_Rejected(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness(t, nil)
	h.page.Set("#send", drivertest.Shown(""))

	report, err := h.run()
	require.Error(t, err)
	assert.ErrorIs(t, err, schemas.ErrSubmissionRejected)
	assert.Equal(t, schemas.StateRejected, report.State)
	assert.Equal(t, 2*time.Second, report.Elapsed, "rejection must not consume the wait budget")
	assert.Zero(t, h.page.Calls("DocumentHTML"), "nothing should be extracted")
	assert.Nil(t, report.Result)
}

func TestRun_AcceptedWhenStopVisibleDespiteSend(t *testing.T) {
	h := newHarness(t, func(p *drivertest.Page, elapsed time.Duration) {
		if elapsed > 5*time.Second {
			p.Set("#stop")
			p.Set("div.reply", drivertest.Shown(reply(300)))
		}
	})
	h.page.Set("#send", drivertest.Shown(""))
	h.page.Set("#stop", drivertest.Shown(""))

	report, err := h.run()
	require.NoError(t, err)
	assert.Equal(t, schemas.StateComplete, report.State)
}

// Scenario: stop visible for 10 ticks, then a 500 character reply holds still.
func TestRun_CompletesAfterStopDisappears(t *testing.T) {
	defer goleak.VerifyNone(t)
	stopUntil := 2*time.Second + 10*3*time.Second
	h := newHarness(t, func(p *drivertest.Page, elapsed time.Duration) {
		if elapsed > stopUntil {
			p.Set("#stop")
		}
	})
	h.page.Set("#stop", drivertest.Shown(""))
	h.page.Set("div.reply", drivertest.Shown(reply(500)))

	report, err := h.run()
	require.NoError(t, err)
	require.NotNil(t, report.Result)

	res := report.Result
	assert.Len(t, res.Text, 500)
	assert.Equal(t, schemas.StrategyContainerQuery, res.Strategy)
	assert.False(t, res.ShortCircuited)
	// First idle tick records the length, three more confirm it.
	assert.Equal(t, stopUntil+4*3*time.Second, res.Elapsed)

	busy := 0
	for _, obs := range report.Observations {
		if obs.Reason == "stop control visible" && obs.Tick > 0 {
			busy++
		}
	}
	assert.Equal(t, 10, busy)
	assert.Equal(t, report.Observations, h.observed, "the sink sees the same stream as the report")
	assert.Equal(t, []schemas.GenerationState{
		schemas.StateIdle, schemas.StateSubmitted, schemas.StateVerifyingAcceptance,
		schemas.StateGenerating, schemas.StateStabilizing, schemas.StateComplete,
	}, report.History)
}

// A candidate whose length stops changing at time T completes at T + ticks * poll.
func TestRun_StabilityTiming(t *testing.T) {
	timing := provider.DefaultTiming()
	tests := []struct {
		name      string
		final     int
		growTicks int
		required  int
	}{
		{name: "long reply", final: 500, growTicks: 4, required: timing.StableLong},
		{name: "long reply late", final: 1800, growTicks: 11, required: timing.StableLong},
		{name: "short reply", final: 120, growTicks: 4, required: timing.StableShort},
		{name: "exactly min length", final: 200, growTicks: 2, required: timing.StableLong},
		{name: "just below min length", final: 199, growTicks: 7, required: timing.StableShort},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Ticks land at acceptance + k*poll; the final length first appears on tick growTicks.
			settled := timing.AcceptanceDelay + time.Duration(tt.growTicks)*timing.PollInterval
			h := newHarness(t, func(p *drivertest.Page, elapsed time.Duration) {
				if elapsed >= settled {
					p.Set("div.reply", drivertest.Shown(reply(tt.final)))
					return
				}
				tick := int((elapsed - timing.AcceptanceDelay) / timing.PollInterval)
				p.Set("div.reply", drivertest.Shown(reply(tt.final/2+tick)))
			})

			report, err := h.run()
			require.NoError(t, err)
			assert.Equal(t, settled+time.Duration(tt.required)*timing.PollInterval, report.Result.Elapsed)
			assert.Len(t, report.Result.Text, tt.final)
		})
	}
}

// Scenario: nothing ever qualifies before MaxWait. A reply under MinResponseLength
// only times out while it keeps changing; once it holds still it completes on the
// StableShort threshold (see TestRun_ShortStableReplyCompletes).
func TestRun_Timeout(t *testing.T) {
	t.Run("no candidate at all", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		h := newHarness(t, nil)

		report, err := h.run()
		require.Error(t, err)
		assert.ErrorIs(t, err, schemas.ErrGenerationTimeout)
		assert.Equal(t, schemas.StateTimedOut, report.State)
		assert.Equal(t, 120*time.Second, report.Elapsed, "the run must end at MaxWait, not a poll later")
		assert.Nil(t, report.Result)
	})

	t.Run("short reply that never settles", func(t *testing.T) {
		h := newHarness(t, func(p *drivertest.Page, elapsed time.Duration) {
			p.Set("div.reply", drivertest.Shown(reply(30+int(elapsed/time.Second)%150)))
		})

		_, err := h.run()
		assert.ErrorIs(t, err, schemas.ErrGenerationTimeout)
		var de *schemas.DetectionError
		require.ErrorAs(t, err, &de)
		assert.LessOrEqual(t, de.Elapsed, 120*time.Second)
	})

	t.Run("stop control never disappears", func(t *testing.T) {
		h := newHarness(t, nil)
		h.page.Set("#stop", drivertest.Shown(""))
		h.page.Set("div.reply", drivertest.Shown(reply(800)))

		_, err := h.run()
		assert.ErrorIs(t, err, schemas.ErrGenerationTimeout)
		assert.Zero(t, h.page.Calls("DocumentHTML"))
	})
}

func TestRun_ShortStableReplyCompletes(t *testing.T) {
	timing := provider.DefaultTiming()
	require.Less(t, 80, timing.MinResponseLength)

	h := newHarness(t, nil)
	h.page.Set("div.reply", drivertest.Shown(reply(80)))

	report, err := h.run()
	require.NoError(t, err)
	assert.Equal(t, schemas.StateComplete, report.State)
	assert.Equal(t, reply(80), report.Result.Text)
	// First idle tick records the length, StableShort more confirm it.
	want := timing.AcceptanceDelay + timing.PollInterval + time.Duration(timing.StableShort)*timing.PollInterval
	assert.Equal(t, want, report.Result.Elapsed)
	assert.Less(t, report.Result.Elapsed, timing.MaxWait)
}

// Scenario: a large, structurally complete reply on the first idle tick.
func TestRun_ShortCircuit(t *testing.T) {
	code := "package parser\n\nimport \"testing\"\n\n" + strings.Repeat("func TestParse(t *testing.T) { t.Skip() }\n", 100)
	require.Greater(t, len(code), 3000)

	h := newHarness(t, nil)
	h.page.Set("div.reply", drivertest.Shown(code))

	report, err := h.run()
	require.NoError(t, err)
	assert.True(t, report.Result.ShortCircuited)
	assert.Equal(t, 5*time.Second, report.Result.Elapsed, "acceptance delay plus one poll")
	assert.NotContains(t, report.History, schemas.StateStabilizing)
	assert.Equal(t, strings.TrimSpace(code), report.Result.Text)
}

func TestRun_MissingCandidateReturnsLastText(t *testing.T) {
	h := newHarness(t, func(p *drivertest.Page, elapsed time.Duration) {
		// The reply container vanishes after two observations.
		if elapsed > 8*time.Second {
			p.Set("div.reply")
		}
	})
	h.page.Set("div.reply", drivertest.Shown(reply(400)))

	report, err := h.run()
	require.NoError(t, err)
	assert.Equal(t, reply(400), report.Result.Text)
	// Ticks at 5s, 8s see the reply; 11s drops to zero and five more ticks confirm it.
	assert.Equal(t, 11*time.Second+5*3*time.Second, report.Result.Elapsed)
}

func TestRun_DocumentScanFallback(t *testing.T) {
	h := newHarness(t, nil)
	h.page.SetHTML(`<html><body>
		<nav>New chat</nav>
		<div class="user">` + echo + `</div>
		<div class="turn"><pre>package parser

import "testing"

func TestParse(t *testing.T) { assert.True(t, true) }</pre></div>
	</body></html>`)

	report, err := h.run()
	require.NoError(t, err)
	assert.Equal(t, schemas.StrategyDocumentScan, report.Result.Strategy)
	assert.True(t, strings.HasPrefix(report.Result.Text, "package parser"))
}

func TestRun_LoadingAndDisabledSendAreBusy(t *testing.T) {
	h := newHarness(t, func(p *drivertest.Page, elapsed time.Duration) {
		switch {
		case elapsed < 15*time.Second:
			p.Set(".streaming", drivertest.Shown(""))
		case elapsed < 30*time.Second:
			p.Set(".streaming")
			p.Set("#send", drivertest.Disabled())
		default:
			p.Set("#send", drivertest.Shown(""))
		}
	})
	h.page.Set("div.reply", drivertest.Shown(reply(300)))

	report, err := h.run()
	require.NoError(t, err)

	reasons := map[string]int{}
	for _, obs := range report.Observations {
		reasons[obs.Reason]++
	}
	assert.Positive(t, reasons["loading indicator visible"])
	assert.Positive(t, reasons["send control disabled"])
	assert.Greater(t, report.Result.Elapsed, 30*time.Second)
}

type blankSource struct{}

func (blankSource) Extract(context.Context, driver.Driver, provider.Profile, string) (*schemas.Candidate, error) {
	return &schemas.Candidate{Text: " \n\t ", Strategy: schemas.StrategyContainerQuery}, nil
}

func (blankSource) HasStructuralOpener(string) bool { return false }

func TestRun_EmptyFinalTextIsExtractionFailed(t *testing.T) {
	clk := clock.NewFake(epoch)
	d := New(clk, blankSource{}, zaptest.NewLogger(t))

	report, err := d.Run(context.Background(), drivertest.NewPage("https://chat.test/"), testProfile(), echo)
	require.Error(t, err)
	assert.ErrorIs(t, err, schemas.ErrExtractionFailed)
	assert.Nil(t, report.Result, "no empty success")
}

func TestRun_DriverFault(t *testing.T) {
	h := newHarness(t, func(p *drivertest.Page, elapsed time.Duration) {
		if elapsed > 10*time.Second {
			p.FailOn("FindElements", &driver.OpError{Op: "querySelectorAll", Err: errors.New("websocket closed")})
		}
	})

	report, err := h.run()
	require.Error(t, err)
	assert.ErrorIs(t, err, schemas.ErrDriverFault)
	var op *driver.OpError
	assert.ErrorAs(t, err, &op)
	assert.False(t, report.State.IsTerminal(), "a fault interrupts the machine without a verdict")
}

func TestRun_ContextCancelled(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	h.clock.OnSleep(func(now time.Time) {
		if now.Sub(epoch) > 20*time.Second {
			cancel()
		}
	})

	_, err := h.detector.Run(ctx, h.page, testProfile(), echo)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, schemas.ErrorKind(""), schemas.KindOf(err))
}
