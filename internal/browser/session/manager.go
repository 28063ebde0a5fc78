// internal/browser/session/manager.go
package session

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tgbench/internal/config"
	"github.com/xkilldash9x/tgbench/internal/driver"
)

const shutdownGracePeriod = 15 * time.Second

// Manager owns the Chrome instance and hands out one tab per session.
// Chrome is started (or attached to) lazily on the first NewSession call.
type Manager struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	allocCtx    context.Context
	allocCancel context.CancelFunc
	rootCtx     context.Context
	rootCancel  context.CancelFunc

	sessions map[string]*Session
	mu       sync.RWMutex
	wg       sync.WaitGroup // tracks open sessions so Shutdown can wait for them

	// initMu guards startup. A failed start is not latched, so a later
	// NewSession with a live context tries again.
	initMu  sync.Mutex
	started bool
	start   func(ctx context.Context) error
}

// NewManager creates a manager. No browser is started until a session is requested.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		cfg:      cfg,
		logger:   logger.Named("browser_manager"),
		sessions: make(map[string]*Session),
	}
	m.start = m.startBrowser
	m.logger.Debug("Browser manager created (initialization deferred).")
	return m
}

func (m *Manager) initialize(ctx context.Context) error {
	m.initMu.Lock()
	defer m.initMu.Unlock()
	if m.started {
		return nil
	}

	base := context.Background()
	if remote := strings.TrimSpace(m.cfg.RemoteURL); remote != "" {
		m.logger.Info("Attaching to running browser.", zap.String("remote_url", remote))
		m.allocCtx, m.allocCancel = chromedp.NewRemoteAllocator(base, remote)
	} else {
		opts, err := allocatorOptions(m.cfg)
		if err != nil {
			return err
		}
		m.logger.Info("Launching browser.", zap.Bool("headless", m.cfg.Headless))
		m.allocCtx, m.allocCancel = chromedp.NewExecAllocator(base, opts...)
	}

	var ctxOpts []chromedp.ContextOption
	if m.cfg.Debug {
		sugar := m.logger.Sugar()
		ctxOpts = append(ctxOpts,
			chromedp.WithLogf(sugar.Debugf),
			chromedp.WithErrorf(sugar.Errorf),
		)
	}
	m.rootCtx, m.rootCancel = chromedp.NewContext(m.allocCtx, ctxOpts...)

	if err := m.start(ctx); err != nil {
		m.rootCancel()
		m.allocCancel()
		m.rootCtx, m.rootCancel = nil, nil
		m.allocCtx, m.allocCancel = nil, nil
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to start browser: %w", err)
	}
	m.started = true
	m.logger.Info("Browser manager initialized.")
	return nil
}

// startBrowser runs the root context once, which launches or attaches to Chrome.
func (m *Manager) startBrowser(ctx context.Context) error {
	startCtx, cancel := CombineContext(m.rootCtx, ctx)
	defer cancel()
	return chromedp.Run(startCtx)
}

// allocatorOptions builds the exec allocator options for a locally launched Chrome.
func allocatorOptions(cfg config.BrowserConfig) ([]chromedp.ExecAllocatorOption, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", cfg.Headless),
	)
	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight))
	}
	if path := strings.TrimSpace(cfg.ExecPath); path != "" {
		opts = append(opts, chromedp.ExecPath(path))
	}
	if dir := strings.TrimSpace(cfg.UserDataDir); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create user data dir %s: %w", dir, err)
		}
		opts = append(opts, chromedp.UserDataDir(dir))
	}
	for _, arg := range cfg.Args {
		name, value := parseFlag(arg)
		if name == "" {
			continue
		}
		opts = append(opts, chromedp.Flag(name, value))
	}
	return opts, nil
}

// parseFlag turns "--name=value" or "--name" into a chromedp flag pair.
func parseFlag(arg string) (string, interface{}) {
	arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
	if arg == "" {
		return "", nil
	}
	name, value, ok := strings.Cut(arg, "=")
	if !ok {
		return name, true
	}
	switch value {
	case "true":
		return name, true
	case "false":
		return name, false
	}
	return name, value
}

// NewSession opens a new tab.
func (m *Manager) NewSession(ctx context.Context) (driver.Session, error) {
	if err := m.initialize(ctx); err != nil {
		return nil, err
	}

	tabCtx, cancel := chromedp.NewContext(m.rootCtx)
	startCtx, stop := CombineContext(tabCtx, ctx)
	err := chromedp.Run(startCtx)
	stop()
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &driver.OpError{Op: "NewSession", Err: err}
	}

	s := newSession(tabCtx, cancel, m.cfg.NavigationTimeout, m.logger)
	m.register(s)
	m.logger.Info("New session created.", zap.String("session_id", s.ID()))
	return s, nil
}

func (m *Manager) register(s *Session) {
	m.wg.Add(1)
	s.onClose = func() {
		m.mu.Lock()
		delete(m.sessions, s.ID())
		m.mu.Unlock()
		m.wg.Done()
		m.logger.Debug("Session removed from manager.", zap.String("session_id", s.ID()))
	}
	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
}

// Shutdown closes every open session and then the browser. A launched Chrome is
// terminated; an attached one is only disconnected from.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down browser manager.")

	m.mu.RLock()
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.RUnlock()

	for _, s := range open {
		go func(s *Session) {
			if err := s.Close(ctx); err != nil {
				m.logger.Warn("Error during session close in shutdown.", zap.String("session_id", s.ID()), zap.Error(err))
			}
		}(s)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	grace, cancel := context.WithTimeout(ctx, shutdownGracePeriod)
	defer cancel()
	select {
	case <-done:
		m.logger.Debug("All sessions closed gracefully.")
	case <-grace.Done():
		m.logger.Warn("Timeout waiting for sessions to close. Proceeding with forceful shutdown.", zap.Error(grace.Err()))
	}

	var shutdownErr error
	if m.rootCtx != nil {
		if err := chromedp.Cancel(m.rootCtx); err != nil && err != context.Canceled {
			shutdownErr = fmt.Errorf("failed to close browser: %w", err)
			m.logger.Error("Failed to close browser.", zap.Error(err))
		}
		m.rootCancel()
	}
	if m.allocCancel != nil {
		m.allocCancel()
	}

	m.logger.Info("Browser manager shutdown complete.")
	return shutdownErr
}

// Open returns the number of sessions not yet closed.
func (m *Manager) Open() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
