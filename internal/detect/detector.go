package detect

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tgbench/api/schemas"
	"github.com/xkilldash9x/tgbench/internal/clock"
	"github.com/xkilldash9x/tgbench/internal/driver"
	"github.com/xkilldash9x/tgbench/internal/extract"
	"github.com/xkilldash9x/tgbench/internal/provider"
)

// CandidateSource produces the current best response candidate. *extract.Extractor is
// the production implementation.
type CandidateSource interface {
	Extract(ctx context.Context, drv driver.Driver, profile provider.Profile, echo string) (*schemas.Candidate, error)
	// HasStructuralOpener reports whether text contains an opener of the expected output format.
	HasStructuralOpener(text string) bool
}

// ObservationSink receives every poll observation as it is made.
type ObservationSink func(obs schemas.PollObservation)

// Report is the trace of one detection run. It is returned on failure too,
// so callers can persist what the detector saw.
type Report struct {
	Variant      provider.Variant
	State        schemas.GenerationState
	History      []schemas.GenerationState
	Elapsed      time.Duration
	Observations []schemas.PollObservation
	// Result is set only when State is StateComplete.
	Result *schemas.ExtractionResult
}

// Detector runs the completion state machine against a live page.
// It holds no per-run state and can be shared across sequential runs.
type Detector struct {
	clock  clock.Clock
	source CandidateSource
	logger *zap.Logger
	sink   ObservationSink
}

// Option is a function that configures a Detector.
type Option func(*Detector)

// WithSink streams observations to sink in addition to the returned report.
func WithSink(sink ObservationSink) Option {
	return func(d *Detector) {
		d.sink = sink
	}
}

// New creates a Detector.
func New(clk clock.Clock, source CandidateSource, logger *zap.Logger, opts ...Option) *Detector {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if source == nil {
		source = extract.New(extract.DefaultOptions(), logger)
	}
	d := &Detector{
		clock:  clk,
		source: source,
		logger: logger.Named("detector"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// run carries the mutable state of one Run call.
type run struct {
	d       *Detector
	drv     driver.Driver
	profile provider.Profile
	echo    string
	start   time.Time
	machine *Machine
	report  *Report
	log     *zap.Logger
}

// Run observes the page after a prompt was accepted and returns once the response is
// complete, the page rejected the submission, or MaxWait elapsed. The returned report
// is never nil.
func (d *Detector) Run(ctx context.Context, drv driver.Driver, profile provider.Profile, echo string) (*Report, error) {
	r := &run{
		d:       d,
		drv:     drv,
		profile: profile,
		echo:    echo,
		start:   d.clock.Now(),
		machine: NewMachine(),
		report:  &Report{Variant: profile.Variant()},
		log:     d.logger.With(zap.String("provider", string(profile.Variant()))),
	}
	err := r.execute(ctx)
	r.report.State = r.machine.State()
	r.report.History = r.machine.History()
	r.report.Elapsed = r.elapsed()
	return r.report, err
}

func (r *run) execute(ctx context.Context) error {
	timing := r.profile.Timing()
	r.advance(schemas.StateSubmitted)
	r.advance(schemas.StateVerifyingAcceptance)

	if err := r.verifyAcceptance(ctx, timing); err != nil {
		return err
	}

	stability := NewStability(timing, r.d.source.HasStructuralOpener)
	for tick := 1; ; tick++ {
		remaining := timing.MaxWait - r.elapsed()
		if remaining <= 0 {
			return r.timeout(timing, stability, tick)
		}
		wait := timing.PollInterval
		if remaining < wait {
			wait = remaining
		}
		if err := r.d.clock.Sleep(ctx, wait); err != nil {
			return err
		}

		t, err := r.observe(ctx)
		if err != nil {
			return err
		}
		dec := stability.Evaluate(t)

		switch {
		case dec.Verdict == ShortCircuit:
			r.advance(schemas.StateComplete)
		case dec.Verdict == Stable:
			r.advance(schemas.StateStabilizing)
			r.advance(schemas.StateComplete)
		case dec.StableTicks > 0:
			r.advance(schemas.StateStabilizing)
		}

		obs := schemas.PollObservation{
			Tick:            tick,
			Elapsed:         r.elapsed(),
			State:           r.machine.State(),
			CandidateLength: dec.Length,
			StableTicks:     dec.StableTicks,
			Required:        dec.Required,
			Reason:          dec.Reason,
		}
		if t.Candidate != nil {
			obs.Strategy = t.Candidate.Strategy
		}
		r.emit(obs)

		if dec.Verdict != Continue {
			return r.complete(stability.Best(), dec.Verdict == ShortCircuit)
		}
	}
}

// verifyAcceptance decides whether the page registered the send action at all.
func (r *run) verifyAcceptance(ctx context.Context, timing provider.Timing) error {
	if err := r.d.clock.Sleep(ctx, timing.AcceptanceDelay); err != nil {
		return err
	}
	stopVisible, err := driver.AnyVisible(ctx, r.drv, r.profile.Stop())
	if err != nil {
		return driver.Classify("check stop control", r.elapsed(), err)
	}
	send, err := driver.InspectControl(ctx, r.drv, r.profile.Send())
	if err != nil {
		return driver.Classify("check send control", r.elapsed(), err)
	}

	obs := schemas.PollObservation{Elapsed: r.elapsed()}
	if send.Ready() && !stopVisible {
		r.advance(schemas.StateRejected)
		obs.State = r.machine.State()
		obs.Reason = "send control still enabled and no stop control visible"
		r.emit(obs)
		r.log.Warn("Submission was not registered by the page.", zap.Duration("elapsed", obs.Elapsed))
		return schemas.NewDetectionError(schemas.KindSubmissionRejected, obs.Elapsed,
			"send control still enabled after %v and no stop control visible", timing.AcceptanceDelay)
	}

	r.advance(schemas.StateGenerating)
	obs.State = r.machine.State()
	if stopVisible {
		obs.Reason = "stop control visible"
	} else {
		obs.Reason = "send control disabled or hidden"
	}
	r.emit(obs)
	return nil
}

// observe reads the page indicators and, when they show the page is idle, the current candidate.
func (r *run) observe(ctx context.Context) (Tick, error) {
	stop, err := driver.AnyVisible(ctx, r.drv, r.profile.Stop())
	if err != nil {
		return Tick{}, driver.Classify("check stop control", r.elapsed(), err)
	}
	if stop {
		return Tick{Busy: "stop control visible"}, nil
	}

	loading, err := driver.AnyVisible(ctx, r.drv, r.profile.Loading())
	if err != nil {
		return Tick{}, driver.Classify("check loading indicator", r.elapsed(), err)
	}
	if loading {
		return Tick{Busy: "loading indicator visible"}, nil
	}

	send, err := driver.InspectControl(ctx, r.drv, r.profile.Send())
	if err != nil {
		return Tick{}, driver.Classify("check send control", r.elapsed(), err)
	}
	if send.Visible && !send.Enabled {
		return Tick{Busy: "send control disabled"}, nil
	}

	cand, err := r.d.source.Extract(ctx, r.drv, r.profile, r.echo)
	if err != nil {
		return Tick{}, driver.Classify("extract response", r.elapsed(), err)
	}
	return Tick{Candidate: cand}, nil
}

func (r *run) complete(best *schemas.Candidate, shortCircuit bool) error {
	elapsed := r.elapsed()
	if best == nil || strings.TrimSpace(best.Text) == "" {
		return schemas.NewDetectionError(schemas.KindExtractionFailed, elapsed,
			"generation finished but no candidate text satisfied extraction constraints")
	}
	r.report.Result = &schemas.ExtractionResult{
		Text:           best.Text,
		Strategy:       best.Strategy,
		Elapsed:        elapsed,
		ShortCircuited: shortCircuit,
		Observations:   r.report.Observations,
	}
	r.log.Info("Response complete.",
		zap.Int("length", best.Length()),
		zap.String("strategy", string(best.Strategy)),
		zap.Bool("short_circuit", shortCircuit),
		zap.Duration("elapsed", elapsed))
	return nil
}

func (r *run) timeout(timing provider.Timing, stability *Stability, tick int) error {
	r.advance(schemas.StateTimedOut)
	elapsed := r.elapsed()
	lastLen := stability.Best().Length()
	r.emit(schemas.PollObservation{
		Tick:            tick,
		Elapsed:         elapsed,
		State:           r.machine.State(),
		CandidateLength: lastLen,
		Reason:          "max wait elapsed",
	})
	r.log.Warn("Response did not complete in time.",
		zap.Duration("max_wait", timing.MaxWait),
		zap.Int("best_length", lastLen))
	return schemas.NewDetectionError(schemas.KindGenerationTimeout, elapsed,
		"no completion criterion met within %v (best candidate length %d)", timing.MaxWait, lastLen)
}

// advance applies a transition the loop has already validated. A rejected move
// here is a programming error.
func (r *run) advance(to schemas.GenerationState) {
	if err := r.machine.Advance(to); err != nil {
		panic(err)
	}
}

func (r *run) emit(obs schemas.PollObservation) {
	r.report.Observations = append(r.report.Observations, obs)
	r.log.Debug("Poll.",
		zap.Int("tick", obs.Tick),
		zap.Stringer("state", obs.State),
		zap.Int("length", obs.CandidateLength),
		zap.Int("stable", obs.StableTicks),
		zap.String("reason", obs.Reason))
	if r.d.sink != nil {
		r.d.sink(obs)
	}
}

func (r *run) elapsed() time.Duration {
	return r.d.clock.Now().Sub(r.start)
}
