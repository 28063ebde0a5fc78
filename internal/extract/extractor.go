// Package extract produces the best candidate response text from the current page,
// first through the provider's response containers and then through a scored scan
// of the whole document.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/tgbench/api/schemas"
	"github.com/xkilldash9x/tgbench/internal/driver"
	"github.com/xkilldash9x/tgbench/internal/provider"
)

// skipTags never hold response text.
const skipTags = "script, style, noscript, template, svg, head, title, meta, link"

// Options tunes candidate admission and scoring.
type Options struct {
	// MinLengthFloor is the minimum candidate length in characters.
	MinLengthFloor int
	// MaxNodeLength excludes scan candidates larger than this (whole-page captures).
	MaxNodeLength int
	// StartTokenBonus is added when a text begins with a code start token.
	StartTokenBonus int
	Keywords        map[string]int
	StartTokens     []string
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		MinLengthFloor:  20,
		MaxNodeLength:   50000,
		StartTokenBonus: 50,
	}
}

// Extractor implements the ranked extraction strategies. It holds no per-run state.
type Extractor struct {
	opts   Options
	scorer *Scorer
	logger *zap.Logger
}

// New creates an Extractor.
func New(opts Options, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		opts:   opts,
		scorer: NewScorer(opts.Keywords, opts.StartTokens, opts.StartTokenBonus),
		logger: logger.Named("extractor"),
	}
}

// Scorer exposes the scorer used for document-scan ranking.
func (e *Extractor) Scorer() *Scorer { return e.scorer }

// HasStructuralOpener applies the scorer's start tokens to a whole candidate text.
func (e *Extractor) HasStructuralOpener(text string) bool { return e.scorer.HasStructuralOpener(text) }

// Extract returns the best candidate, or nil when no strategy produced an admissible text.
// Driver failures are returned unchanged for the caller to classify.
func (e *Extractor) Extract(ctx context.Context, drv driver.Driver, profile provider.Profile, echo string) (*schemas.Candidate, error) {
	// Containers hold the reply itself, so UI chrome rendered inside them
	// (code block labels, action buttons) must not disqualify it.
	f := filter{
		minLen: e.opts.MinLengthFloor,
		echo:   echo,
	}

	// 1. Provider response containers, in priority order.
	c, err := e.fromContainers(ctx, drv, profile.Response(), f)
	if err != nil {
		return nil, err
	}
	if c != nil {
		return c, nil
	}

	// 2. Whole-document heuristic scan.
	f.maxLen = e.opts.MaxNodeLength
	f.chrome = profile.Chrome()
	return e.fromDocument(ctx, drv, f)
}

func (e *Extractor) fromContainers(ctx context.Context, drv driver.Driver, selectors []string, f filter) (*schemas.Candidate, error) {
	for _, sel := range selectors {
		els, err := drv.FindElements(ctx, sel)
		if err != nil {
			return nil, fmt.Errorf("query response container %q: %w", sel, err)
		}
		if len(els) == 0 {
			continue
		}
		// The newest reply is the last match.
		text, err := drv.Text(ctx, els[len(els)-1])
		if err != nil {
			if errors.Is(err, driver.ErrNodeDetached) {
				e.logger.Debug("Response container detached mid-read.", zap.String("selector", sel))
				continue
			}
			return nil, fmt.Errorf("read response container %q: %w", sel, err)
		}
		text = strings.TrimSpace(text)
		if !f.admits(text) {
			continue
		}
		return &schemas.Candidate{
			Text:     text,
			Strategy: schemas.StrategyContainerQuery,
			Selector: sel,
		}, nil
	}
	return nil, nil
}

func (e *Extractor) fromDocument(ctx context.Context, drv driver.Driver, f filter) (*schemas.Candidate, error) {
	raw, err := drv.DocumentHTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	best, ok, err := e.ScanDocument(raw, f.echo, f.chrome, f.maxLen)
	if err != nil || !ok {
		return nil, err
	}
	e.logger.Debug("Document scan selected a candidate.", zap.Int("score", best.Score), zap.Int("length", best.Length()))
	return best, nil
}

// ScanDocument scores every text-bearing element of an HTML document and returns the winner.
func (e *Extractor) ScanDocument(rawHTML, echo string, chrome []string, maxLen int) (*schemas.Candidate, bool, error) {
	root, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, false, fmt.Errorf("parse document: %w", err)
	}
	doc := goquery.NewDocumentFromNode(root)

	// Drop non-content subtrees first so their text never leaks into an ancestor's.
	doc.Find(skipTags).Remove()

	var texts []string
	doc.Find("body *").Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" {
			texts = append(texts, t)
		}
	})

	f := filter{minLen: e.opts.MinLengthFloor, maxLen: maxLen, echo: echo, chrome: chrome}
	best, ok := e.scorer.pickBest(texts, f)
	if !ok {
		return nil, false, nil
	}
	return &schemas.Candidate{
		Text:     best.text,
		Strategy: schemas.StrategyDocumentScan,
		Score:    best.score,
	}, true, nil
}
