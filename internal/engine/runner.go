package engine

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tgbench/internal/detect"
	"github.com/xkilldash9x/tgbench/internal/driver"
	"github.com/xkilldash9x/tgbench/internal/provider"
)

const releaseTimeout = 15 * time.Second

// -- Interfaces for Dependency Inversion --

// SessionFactory opens browser sessions. *session.Manager is the production implementation.
type SessionFactory interface {
	NewSession(ctx context.Context) (driver.Session, error)
}

// Runner executes single prompts, each in its own session.
type Runner struct {
	factory  SessionFactory
	registry *provider.Registry
	engine   *Engine
	logger   *zap.Logger
}

// NewRunner creates a Runner.
func NewRunner(factory SessionFactory, registry *provider.Registry, engine *Engine, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if engine == nil {
		engine = New(nil, nil, logger)
	}
	return &Runner{
		factory:  factory,
		registry: registry,
		engine:   engine,
		logger:   logger.Named("runner"),
	}
}

// Run opens a session, brings it to the provider, submits prompt, and waits for the
// answer. The session is released exactly once whatever the outcome, including a panic.
func (r *Runner) Run(ctx context.Context, variant provider.Variant, prompt string) (*detect.Report, error) {
	profile, err := r.registry.Lookup(variant)
	if err != nil {
		return nil, err
	}

	sess, err := r.factory.NewSession(ctx)
	if err != nil {
		return nil, driver.Classify("open session", 0, err)
	}
	defer r.release(ctx, sess)

	if err := EnsureOnProvider(ctx, sess, profile); err != nil {
		return nil, err
	}
	return r.engine.Submit(ctx, sess, profile, prompt)
}

func (r *Runner) release(ctx context.Context, sess driver.Session) {
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := sess.Close(closeCtx); err != nil {
		r.logger.Warn("Failed to release session.", zap.String("session_id", sess.ID()), zap.Error(err))
	}
}

// EnsureOnProvider navigates sess to the profile's start URL unless it is already
// on the provider's host.
func EnsureOnProvider(ctx context.Context, sess driver.Session, profile provider.Profile) error {
	current, err := sess.CurrentURL(ctx)
	if err != nil {
		return driver.Classify("read current url", 0, err)
	}
	if onHost(current, profile.Host()) {
		return nil
	}
	if err := sess.Navigate(ctx, profile.StartURL()); err != nil {
		return driver.Classify("navigate", 0, fmt.Errorf("failed to open %s: %w", profile.StartURL(), err))
	}
	return nil
}

func onHost(raw, host string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Host == host
}
