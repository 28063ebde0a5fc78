// File: internal/orchestrator/orchestrator.go
// Description: Runs a batch of experiments sequentially against browser sessions,
// pacing submissions and recording every attempt.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/tgbench/api/schemas"
	"github.com/xkilldash9x/tgbench/internal/clock"
	"github.com/xkilldash9x/tgbench/internal/config"
	"github.com/xkilldash9x/tgbench/internal/detect"
	"github.com/xkilldash9x/tgbench/internal/driver"
	"github.com/xkilldash9x/tgbench/internal/engine"
	"github.com/xkilldash9x/tgbench/internal/observability"
	"github.com/xkilldash9x/tgbench/internal/prompts"
	"github.com/xkilldash9x/tgbench/internal/provider"
	"github.com/xkilldash9x/tgbench/internal/results"
)

const releaseTimeout = 15 * time.Second

// KindUnknown labels attempts that failed with an error outside the detection taxonomy.
const KindUnknown = "unknown"

// Recorder persists attempt outcomes. *results.Store is the production implementation.
type Recorder interface {
	Record(o results.Outcome) error
}

// Tally counts what a batch run did.
type Tally struct {
	Attempts  int
	Completed int
	Retries   int
	ByKind    map[string]int
}

// Orchestrator runs batches. One session per provider is opened lazily and reused
// across that provider's experiments; all sessions are released when Run returns.
type Orchestrator struct {
	factory  engine.SessionFactory
	registry *provider.Registry
	engine   *engine.Engine
	prompts  *prompts.Set
	recorder Recorder
	metrics  *observability.Metrics
	clock    clock.Clock
	logger   *zap.Logger

	minInterval time.Duration
	maxAttempts int
}

// New creates an Orchestrator. metrics may be nil.
func New(
	cfg config.BatchConfig,
	logger *zap.Logger,
	factory engine.SessionFactory,
	registry *provider.Registry,
	eng *engine.Engine,
	set *prompts.Set,
	recorder Recorder,
	metrics *observability.Metrics,
) (*Orchestrator, error) {
	if logger == nil ||
		factory == nil ||
		registry == nil ||
		eng == nil ||
		set == nil ||
		recorder == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Orchestrator{
		factory:     factory,
		registry:    registry,
		engine:      eng,
		prompts:     set,
		recorder:    recorder,
		metrics:     metrics,
		clock:       clock.New(),
		logger:      logger.Named("orchestrator"),
		minInterval: cfg.MinInterval,
		maxAttempts: maxAttempts,
	}, nil
}

// run carries the state of one Run call.
type run struct {
	o        *Orchestrator
	limiter  *rate.Limiter
	sessions map[provider.Variant]driver.Session
	tally    Tally
}

// Run executes every experiment in order. It stops early when ctx is canceled or an
// attempt fails with an error outside the detection taxonomy; the tally covers the
// attempts made so far in both cases.
func (o *Orchestrator) Run(ctx context.Context, b *Batch) (Tally, error) {
	limit := rate.Inf
	if o.minInterval > 0 {
		limit = rate.Every(o.minInterval)
	}
	r := &run{
		o:        o,
		limiter:  rate.NewLimiter(limit, 1),
		sessions: make(map[provider.Variant]driver.Session),
		tally:    Tally{ByKind: make(map[string]int)},
	}
	defer r.releaseAll(ctx)

	o.logger.Info("Batch started.", zap.String("batch", b.Name), zap.Int("experiments", len(b.Experiments)))
	for _, exp := range b.Experiments {
		if err := r.experiment(ctx, exp); err != nil {
			o.logger.Warn("Batch stopped.", zap.String("experiment", exp.Name), zap.Error(err))
			return r.tally, err
		}
	}
	o.logger.Info("Batch finished.",
		zap.Int("attempts", r.tally.Attempts),
		zap.Int("completed", r.tally.Completed),
		zap.Int("retries", r.tally.Retries))
	return r.tally, nil
}

func (r *run) experiment(ctx context.Context, exp Experiment) error {
	profile, err := r.o.registry.Lookup(exp.Variant())
	if err != nil {
		return err
	}
	text, err := exp.Render(r.o.prompts)
	if err != nil {
		return fmt.Errorf("experiment %q: %w", exp.Name, err)
	}

	for repeat := 1; repeat <= exp.Repeat; repeat++ {
		for try := 1; ; try++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			retry, err := r.attempt(ctx, exp, profile, text, repeat, try)
			if err != nil {
				return err
			}
			if !retry || try >= r.o.maxAttempts {
				break
			}
			r.tally.Retries++
			r.o.metrics.IncRetry(string(profile.Variant()))
		}
	}
	return nil
}

// attempt submits text once and records the outcome. It reports whether the failure
// is worth retrying; the returned error aborts the batch.
func (r *run) attempt(ctx context.Context, exp Experiment, profile provider.Profile, text string, repeat, try int) (bool, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return false, err
	}
	log := r.o.logger.With(
		zap.String("experiment", exp.Name),
		zap.String("provider", string(profile.Variant())),
		zap.Int("repeat", repeat),
		zap.Int("try", try))
	started := r.o.clock.Now()

	report, err := r.submit(ctx, profile, text)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return false, ctxErr
	}

	out := outcome(exp, profile, repeat, try, started, report, err)
	if out.Elapsed == 0 {
		out.Elapsed = r.o.clock.Now().Sub(started)
	}
	if rerr := r.o.recorder.Record(out); rerr != nil {
		return false, fmt.Errorf("failed to record attempt: %w", rerr)
	}
	r.o.metrics.ObserveAttempt(out.Provider, out.Kind, out.Elapsed, out.Length)
	r.tally.Attempts++
	r.tally.ByKind[out.Kind]++

	if err == nil {
		r.tally.Completed++
		log.Info("Attempt complete.", zap.Int("length", out.Length), zap.Duration("elapsed", out.Elapsed))
		return false, nil
	}

	kind := schemas.KindOf(err)
	if kind == schemas.KindDriverFault {
		// The tab may be unusable; the next attempt gets a fresh one.
		r.release(ctx, profile.Variant())
	}
	switch kind {
	case "":
		return false, err
	case schemas.KindDriverFault, schemas.KindSubmissionRejected:
		log.Warn("Attempt failed, retryable.", zap.String("kind", string(kind)), zap.Error(err))
		return true, nil
	default:
		log.Warn("Attempt failed.", zap.String("kind", string(kind)), zap.Error(err))
		return false, nil
	}
}

// submit opens a fresh conversation on the provider and sends text.
func (r *run) submit(ctx context.Context, profile provider.Profile, text string) (*detect.Report, error) {
	sess, err := r.session(ctx, profile.Variant())
	if err != nil {
		return nil, err
	}
	if err := sess.Navigate(ctx, profile.StartURL()); err != nil {
		return nil, driver.Classify("navigate", 0, err)
	}
	return r.o.engine.Submit(ctx, sess, profile, text)
}

func (r *run) session(ctx context.Context, v provider.Variant) (driver.Session, error) {
	if sess, ok := r.sessions[v]; ok {
		return sess, nil
	}
	sess, err := r.o.factory.NewSession(ctx)
	if err != nil {
		return nil, driver.Classify("open session", 0, err)
	}
	r.sessions[v] = sess
	return sess, nil
}

func (r *run) release(ctx context.Context, v provider.Variant) {
	sess, ok := r.sessions[v]
	if !ok {
		return
	}
	delete(r.sessions, v)
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := sess.Close(closeCtx); err != nil {
		r.o.logger.Warn("Failed to release session.", zap.String("provider", string(v)), zap.Error(err))
	}
}

func (r *run) releaseAll(ctx context.Context) {
	for v := range r.sessions {
		r.release(ctx, v)
	}
}

func outcome(exp Experiment, profile provider.Profile, repeat, try int, started time.Time, report *detect.Report, err error) results.Outcome {
	out := results.Outcome{
		Experiment: exp.Name,
		Provider:   string(profile.Variant()),
		Repeat:     repeat,
		Try:        try,
		StartedAt:  started,
		Kind:       results.KindComplete,
	}
	if report != nil {
		out.Elapsed = report.Elapsed
		out.State = report.State
		out.History = report.History
		out.Observations = report.Observations
		if res := report.Result; res != nil {
			out.Text = res.Text
			out.Length = len([]rune(res.Text))
			out.Strategy = res.Strategy
			out.ShortCircuited = res.ShortCircuited
		}
	}
	if err != nil {
		out.Error = err.Error()
		out.Kind = string(schemas.KindOf(err))
		if out.Kind == "" {
			out.Kind = KindUnknown
		}
		var de *schemas.DetectionError
		if out.Elapsed == 0 && errors.As(err, &de) {
			out.Elapsed = de.Elapsed
		}
	}
	return out
}
