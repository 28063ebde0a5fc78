// Package driver defines the automation-channel surface the submission controller,
// extractor and completion detector consume. The concrete implementation lives in
// internal/browser/session (chromedp); tests use scripted fakes.
package driver

import (
	"context"
	"errors"
)

// ErrNodeDetached indicates an element reference no longer points into the live document,
// usually because the page re-rendered between the query and the use.
var ErrNodeDetached = errors.New("element is stale or detached from the document")

// ErrSessionClosed is returned by any call made after the session was released.
var ErrSessionClosed = errors.New("browser session is closed")

// Element is an opaque handle to a DOM node returned by FindElements.
type Element interface {
	// Selector is the query pattern that produced the element.
	Selector() string
}

// Driver is the automation channel. Every call may block on the browser.
type Driver interface {
	// FindElements returns all nodes matching selector in document order.
	// No match is an empty slice, not an error.
	FindElements(ctx context.Context, selector string) ([]Element, error)
	Visible(ctx context.Context, el Element) (bool, error)
	Enabled(ctx context.Context, el Element) (bool, error)
	// Text returns the rendered text of the element.
	Text(ctx context.Context, el Element) (string, error)

	Focus(ctx context.Context, el Element) error
	Click(ctx context.Context, el Element) error
	// SetText clears the element, sets text directly (value or contenteditable),
	// and dispatches input and change events so the page's framework registers it.
	SetText(ctx context.Context, el Element, text string) error
	// PressEnter synthesizes an Enter keystroke on the element.
	PressEnter(ctx context.Context, el Element) error

	// ExecuteScript evaluates script in the page and decodes the result into res (may be nil).
	ExecuteScript(ctx context.Context, script string, res interface{}) error
	// DocumentHTML returns the serialized live document.
	DocumentHTML(ctx context.Context) (string, error)
	CurrentURL(ctx context.Context) (string, error)
}

// FirstVisible tries each selector in order and returns the first visible match.
// Returns (nil, nil) when nothing matched.
func FirstVisible(ctx context.Context, d Driver, selectors []string) (Element, error) {
	for _, sel := range selectors {
		els, err := d.FindElements(ctx, sel)
		if err != nil {
			return nil, err
		}
		for _, el := range els {
			ok, err := d.Visible(ctx, el)
			if err != nil {
				if errors.Is(err, ErrNodeDetached) {
					continue
				}
				return nil, err
			}
			if ok {
				return el, nil
			}
		}
	}
	return nil, nil
}

// AnyVisible reports whether any selector has a visible match.
func AnyVisible(ctx context.Context, d Driver, selectors []string) (bool, error) {
	el, err := FirstVisible(ctx, d, selectors)
	return el != nil, err
}

// ControlState describes a clickable control such as a send button.
type ControlState struct {
	Found   bool
	Visible bool
	Enabled bool
	Element Element
}

// Ready reports whether the control can be clicked.
func (c ControlState) Ready() bool { return c.Found && c.Visible && c.Enabled }

// InspectControl returns the state of the first control, in selector priority order,
// that is both visible and enabled. When none qualifies it returns the state of the
// first visible control, or a zero state if nothing was found at all.
func InspectControl(ctx context.Context, d Driver, selectors []string) (ControlState, error) {
	var fallback ControlState
	for _, sel := range selectors {
		els, err := d.FindElements(ctx, sel)
		if err != nil {
			return ControlState{}, err
		}
		for _, el := range els {
			visible, err := d.Visible(ctx, el)
			if err != nil {
				if errors.Is(err, ErrNodeDetached) {
					continue
				}
				return ControlState{}, err
			}
			if !visible {
				if !fallback.Found {
					fallback = ControlState{Found: true, Element: el}
				}
				continue
			}
			enabled, err := d.Enabled(ctx, el)
			if err != nil {
				if errors.Is(err, ErrNodeDetached) {
					continue
				}
				return ControlState{}, err
			}
			st := ControlState{Found: true, Visible: true, Enabled: enabled, Element: el}
			if enabled {
				return st, nil
			}
			if !fallback.Visible {
				fallback = st
			}
		}
	}
	return fallback, nil
}

// Session is a Driver bound to one browser tab that can navigate and be released.
type Session interface {
	Driver
	// ID identifies the session in logs and result metadata.
	ID() string
	Navigate(ctx context.Context, url string) error
	// Close releases the tab. It is idempotent.
	Close(ctx context.Context) error
}
