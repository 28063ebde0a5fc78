// Package drivertest provides a scripted in-memory page implementing driver.Driver,
// for exercising the submission and detection logic without a browser.
package drivertest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/xkilldash9x/tgbench/internal/driver"
)

// Node is a fake DOM element.
type Node struct {
	Text     string
	Visible  bool
	Enabled  bool
	Detached bool
}

// Shown returns a visible, enabled node with text.
func Shown(text string) *Node { return &Node{Text: text, Visible: true, Enabled: true} }

// Disabled returns a visible but disabled node.
func Disabled() *Node { return &Node{Visible: true} }

// Hidden returns an invisible node.
func Hidden() *Node { return &Node{Enabled: true} }

type handle struct {
	sel  string
	node *Node
}

func (h *handle) Selector() string { return h.sel }

// Page is a thread-safe scripted page.
type Page struct {
	mu       sync.Mutex
	nodes    map[string][]*Node
	html     string
	url      string
	errs     map[string]error
	setTexts []string
	clicks   []string
	enters   int
	focuses  int
	onClick  func(p *Page, selector string)
	onEnter  func(p *Page)
	onNav    func(p *Page, url string)
	calls    map[string]int
	closes   int
}

var _ driver.Session = (*Page)(nil)

// NewPage returns an empty page at url.
func NewPage(url string) *Page {
	return &Page{
		nodes: make(map[string][]*Node),
		errs:  make(map[string]error),
		calls: make(map[string]int),
		url:   url,
	}
}

// Set replaces the nodes matched by selector. With no nodes the selector matches nothing.
func (p *Page) Set(selector string, nodes ...*Node) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(nodes) == 0 {
		delete(p.nodes, selector)
		return
	}
	p.nodes[selector] = nodes
}

// SetHTML sets the document returned by DocumentHTML.
func (p *Page) SetHTML(html string) {
	p.mu.Lock()
	p.html = html
	p.mu.Unlock()
}

// SetURL changes the current URL.
func (p *Page) SetURL(url string) {
	p.mu.Lock()
	p.url = url
	p.mu.Unlock()
}

// FailOn makes every call to op (e.g. "FindElements") return err. A nil err clears it.
func (p *Page) FailOn(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.errs, op)
		return
	}
	p.errs[op] = err
}

// OnClick registers a hook run (without the lock held) after each click.
func (p *Page) OnClick(fn func(p *Page, selector string)) {
	p.mu.Lock()
	p.onClick = fn
	p.mu.Unlock()
}

// OnEnter registers a hook run after each PressEnter.
func (p *Page) OnEnter(fn func(p *Page)) {
	p.mu.Lock()
	p.onEnter = fn
	p.mu.Unlock()
}

// OnNavigate registers a hook run after each Navigate.
func (p *Page) OnNavigate(fn func(p *Page, url string)) {
	p.mu.Lock()
	p.onNav = fn
	p.mu.Unlock()
}

// Closes returns how many times Close was called.
func (p *Page) Closes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

// SetTexts returns every text passed to SetText.
func (p *Page) SetTexts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.setTexts...)
}

// Clicks returns the selectors of clicked elements in order.
func (p *Page) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicks...)
}

// Enters returns how many Enter keystrokes were synthesized.
func (p *Page) Enters() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enters
}

// Calls returns how often op was invoked.
func (p *Page) Calls(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

func (p *Page) begin(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.calls[op]++
	return p.errs[op]
}

func (p *Page) node(el driver.Element) (*Node, error) {
	h, ok := el.(*handle)
	if !ok {
		return nil, fmt.Errorf("drivertest: foreign element %T", el)
	}
	if h.node.Detached {
		return nil, driver.ErrNodeDetached
	}
	return h.node, nil
}

func (p *Page) FindElements(ctx context.Context, selector string) ([]driver.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin(ctx, "FindElements"); err != nil {
		return nil, err
	}
	out := make([]driver.Element, 0, len(p.nodes[selector]))
	for _, n := range p.nodes[selector] {
		out = append(out, &handle{sel: selector, node: n})
	}
	return out, nil
}

func (p *Page) Visible(ctx context.Context, el driver.Element) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin(ctx, "Visible"); err != nil {
		return false, err
	}
	n, err := p.node(el)
	if err != nil {
		return false, err
	}
	return n.Visible, nil
}

func (p *Page) Enabled(ctx context.Context, el driver.Element) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin(ctx, "Enabled"); err != nil {
		return false, err
	}
	n, err := p.node(el)
	if err != nil {
		return false, err
	}
	return n.Enabled, nil
}

func (p *Page) Text(ctx context.Context, el driver.Element) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin(ctx, "Text"); err != nil {
		return "", err
	}
	n, err := p.node(el)
	if err != nil {
		return "", err
	}
	return n.Text, nil
}

func (p *Page) Focus(ctx context.Context, el driver.Element) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin(ctx, "Focus"); err != nil {
		return err
	}
	if _, err := p.node(el); err != nil {
		return err
	}
	p.focuses++
	return nil
}

func (p *Page) Click(ctx context.Context, el driver.Element) error {
	p.mu.Lock()
	if err := p.begin(ctx, "Click"); err != nil {
		p.mu.Unlock()
		return err
	}
	if _, err := p.node(el); err != nil {
		p.mu.Unlock()
		return err
	}
	p.clicks = append(p.clicks, el.Selector())
	hook := p.onClick
	p.mu.Unlock()
	if hook != nil {
		hook(p, el.Selector())
	}
	return nil
}

func (p *Page) SetText(ctx context.Context, el driver.Element, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin(ctx, "SetText"); err != nil {
		return err
	}
	n, err := p.node(el)
	if err != nil {
		return err
	}
	n.Text = text
	p.setTexts = append(p.setTexts, text)
	return nil
}

func (p *Page) PressEnter(ctx context.Context, el driver.Element) error {
	p.mu.Lock()
	if err := p.begin(ctx, "PressEnter"); err != nil {
		p.mu.Unlock()
		return err
	}
	if _, err := p.node(el); err != nil {
		p.mu.Unlock()
		return err
	}
	p.enters++
	hook := p.onEnter
	p.mu.Unlock()
	if hook != nil {
		hook(p)
	}
	return nil
}

func (p *Page) ExecuteScript(ctx context.Context, script string, res interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin(ctx, "ExecuteScript"); err != nil {
		return err
	}
	return errors.New("drivertest: ExecuteScript is not scripted")
}

func (p *Page) DocumentHTML(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin(ctx, "DocumentHTML"); err != nil {
		return "", err
	}
	return p.html, nil
}

func (p *Page) CurrentURL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin(ctx, "CurrentURL"); err != nil {
		return "", err
	}
	return p.url, nil
}

func (p *Page) ID() string { return "drivertest" }

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	if err := p.begin(ctx, "Navigate"); err != nil {
		p.mu.Unlock()
		return err
	}
	p.url = url
	hook := p.onNav
	p.mu.Unlock()
	if hook != nil {
		hook(p, url)
	}
	return nil
}

// Close counts every call so tests can assert a single release.
func (p *Page) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	return p.errs["Close"]
}
