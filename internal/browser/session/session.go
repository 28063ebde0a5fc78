// internal/browser/session/session.go
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tgbench/internal/driver"
)

const (
	defaultNavigationTimeout = 60 * time.Second
	closeTimeout             = 10 * time.Second
)

var _ driver.Session = (*Session)(nil)

// element is a node found in this session's tab.
type element struct {
	sel   string
	node  *cdp.Node
	owner *Session
}

func (e *element) Selector() string { return e.sel }

// Session drives one Chrome tab over CDP.
type Session struct {
	id         string
	ctx        context.Context // chromedp tab context
	cancel     context.CancelFunc
	logger     *zap.Logger
	navTimeout time.Duration

	// runActionsFunc executes chromedp actions. It is chromedp.Run outside of tests.
	runActionsFunc func(ctx context.Context, actions ...chromedp.Action) error
	// closeFunc closes the tab and waits for it. It is chromedp.Cancel outside of tests.
	closeFunc func(ctx context.Context) error

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	onClose   func()
}

// newSession wraps an already created tab context.
func newSession(tabCtx context.Context, cancel context.CancelFunc, navTimeout time.Duration, logger *zap.Logger) *Session {
	if navTimeout <= 0 {
		navTimeout = defaultNavigationTimeout
	}
	id := uuid.New().String()
	return &Session{
		id:             id,
		ctx:            tabCtx,
		cancel:         cancel,
		logger:         logger.Named("session").With(zap.String("session_id", id)),
		navTimeout:     navTimeout,
		runActionsFunc: chromedp.Run,
		closeFunc:      chromedp.Cancel,
	}
}

func (s *Session) ID() string { return s.id }

// RunActions executes chromedp actions in the tab, bounded by ctx.
func (s *Session) RunActions(ctx context.Context, actions ...chromedp.Action) error {
	return s.run(ctx, "RunActions", actions...)
}

func (s *Session) run(ctx context.Context, op string, actions ...chromedp.Action) error {
	if s.closed.Load() {
		return &driver.OpError{Op: op, Err: driver.ErrSessionClosed}
	}
	opCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	return s.fault(ctx, op, s.runActionsFunc(opCtx, actions...))
}

// fault maps a chromedp failure onto the driver error vocabulary.
func (s *Session) fault(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if s.closed.Load() || s.ctx.Err() != nil {
		return &driver.OpError{Op: op, Err: driver.ErrSessionClosed}
	}
	if isDetached(err) {
		return &driver.OpError{Op: op, Err: fmt.Errorf("%w: %v", driver.ErrNodeDetached, err)}
	}
	return &driver.OpError{Op: op, Err: err}
}

func isDetached(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "No node with given id") ||
		strings.Contains(msg, "Could not find node") ||
		strings.Contains(msg, "Node is detached")
}

func (s *Session) own(op string, el driver.Element) (*element, error) {
	e, ok := el.(*element)
	if !ok || e == nil || e.owner != s {
		return nil, fmt.Errorf("driver %s: element %T does not belong to session %s", op, el, s.id)
	}
	return e, nil
}

// callOn invokes fn with the element bound to `this` and decodes the return value into res.
func (s *Session) callOn(ctx context.Context, op string, el driver.Element, fn string, res interface{}, args ...interface{}) error {
	e, err := s.own(op, el)
	if err != nil {
		return err
	}
	return s.run(ctx, op, chromedp.ActionFunc(func(c context.Context) error {
		obj, err := dom.ResolveNode().WithNodeID(e.node.NodeID).Do(c)
		if err != nil {
			return err
		}
		defer func() {
			_ = runtime.ReleaseObject(obj.ObjectID).Do(c)
		}()
		return chromedp.CallFunctionOn(fn, res, func(p *runtime.CallFunctionOnParams) *runtime.CallFunctionOnParams {
			return p.WithObjectID(obj.ObjectID).WithReturnByValue(true)
		}, args...).Do(c)
	}))
}

func (s *Session) FindElements(ctx context.Context, selector string) ([]driver.Element, error) {
	var nodes []*cdp.Node
	if err := s.run(ctx, "FindElements", chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0))); err != nil {
		return nil, err
	}
	els := make([]driver.Element, 0, len(nodes))
	for _, n := range nodes {
		els = append(els, &element{sel: selector, node: n, owner: s})
	}
	return els, nil
}

func (s *Session) Visible(ctx context.Context, el driver.Element) (bool, error) {
	var ok bool
	err := s.callOn(ctx, "Visible", el, fnVisible, &ok)
	return ok, err
}

func (s *Session) Enabled(ctx context.Context, el driver.Element) (bool, error) {
	var ok bool
	err := s.callOn(ctx, "Enabled", el, fnEnabled, &ok)
	return ok, err
}

func (s *Session) Text(ctx context.Context, el driver.Element) (string, error) {
	var text string
	err := s.callOn(ctx, "Text", el, fnText, &text)
	return text, err
}

func (s *Session) Focus(ctx context.Context, el driver.Element) error {
	e, err := s.own("Focus", el)
	if err != nil {
		return err
	}
	return s.run(ctx, "Focus", dom.Focus().WithNodeID(e.node.NodeID))
}

func (s *Session) Click(ctx context.Context, el driver.Element) error {
	e, err := s.own("Click", el)
	if err != nil {
		return err
	}
	return s.run(ctx, "Click", chromedp.MouseClickNode(e.node))
}

func (s *Session) SetText(ctx context.Context, el driver.Element, text string) error {
	var ok bool
	if err := s.callOn(ctx, "SetText", el, fnSetText, &ok, text); err != nil {
		return err
	}
	if !ok {
		return &driver.OpError{Op: "SetText", Err: fmt.Errorf("element %q is not editable", el.Selector())}
	}
	return nil
}

func (s *Session) PressEnter(ctx context.Context, el driver.Element) error {
	e, err := s.own("PressEnter", el)
	if err != nil {
		return err
	}
	return s.run(ctx, "PressEnter",
		dom.Focus().WithNodeID(e.node.NodeID),
		chromedp.KeyEvent(kb.Enter),
	)
}

func (s *Session) ExecuteScript(ctx context.Context, script string, res interface{}) error {
	return s.run(ctx, "ExecuteScript", chromedp.Evaluate(script, res, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
}

func (s *Session) DocumentHTML(ctx context.Context) (string, error) {
	var html string
	err := s.run(ctx, "DocumentHTML", chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var url string
	err := s.run(ctx, "CurrentURL", chromedp.Location(&url))
	return url, err
}

// Navigate loads url and waits for the body to be ready, bounded by the navigation timeout.
func (s *Session) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, s.navTimeout)
	defer cancel()

	s.logger.Debug("Navigating.", zap.String("url", url))
	err := s.run(navCtx, "Navigate", chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery))
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return &driver.OpError{Op: "Navigate", Err: fmt.Errorf("%s did not load within %v: %w", url, s.navTimeout, err)}
	}
	return err
}

// Close closes the tab. Teardown is detached from ctx so an interrupted run still releases it.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		closeCtx, cancel := context.WithTimeout(Detach(ctx), closeTimeout)
		defer cancel()

		done := make(chan error, 1)
		go func() { done <- s.closeFunc(s.ctx) }()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				s.closeErr = fmt.Errorf("failed to close tab: %w", err)
			}
		case <-closeCtx.Done():
			s.closeErr = fmt.Errorf("timed out closing tab: %w", closeCtx.Err())
		}
		s.cancel()

		if s.closeErr != nil {
			s.logger.Warn("Session closed with error.", zap.Error(s.closeErr))
		} else {
			s.logger.Debug("Session closed.")
		}
		if s.onClose != nil {
			s.onClose()
		}
	})
	return s.closeErr
}
