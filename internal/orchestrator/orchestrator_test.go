// File: internal/orchestrator/orchestrator_test.go
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/tgbench/api/schemas"
	"github.com/xkilldash9x/tgbench/internal/clock"
	"github.com/xkilldash9x/tgbench/internal/config"
	"github.com/xkilldash9x/tgbench/internal/driver"
	"github.com/xkilldash9x/tgbench/internal/driver/drivertest"
	"github.com/xkilldash9x/tgbench/internal/engine"
	"github.com/xkilldash9x/tgbench/internal/observability"
	"github.com/xkilldash9x/tgbench/internal/prompts"
	"github.com/xkilldash9x/tgbench/internal/provider"
	"github.com/xkilldash9x/tgbench/internal/results"
)

// -- Test Fixtures --

// chatSite hands out scripted provider tabs. Clicking send starts a generation that
// finishes six seconds later; navigating starts a fresh conversation.
type chatSite struct {
	t       *testing.T
	profile provider.Profile
	clk     *clock.Fake

	mu          sync.Mutex
	pages       []*drivertest.Page
	current     *drivertest.Page
	sentAt      time.Time
	clicks      int
	rejectFirst int
	faultNav    error
	newErr      error
}

func newChatSite(t *testing.T) *chatSite {
	profile, err := provider.DefaultRegistry().Lookup(provider.VariantClaude)
	require.NoError(t, err)
	s := &chatSite{t: t, profile: profile, clk: clock.NewFake(time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC))}
	s.clk.OnSleep(s.tick)
	return s
}

func (s *chatSite) NewSession(ctx context.Context) (driver.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.newErr != nil {
		return nil, s.newErr
	}
	page := drivertest.NewPage("about:blank")
	if s.faultNav != nil {
		page.FailOn("Navigate", s.faultNav)
		s.faultNav = nil
	}
	page.OnNavigate(func(p *drivertest.Page, _ string) { s.freshConversation(p) })
	page.OnClick(func(p *drivertest.Page, _ string) { s.send(p) })
	s.pages = append(s.pages, page)
	s.current = page
	return page, nil
}

func (s *chatSite) freshConversation(p *drivertest.Page) {
	p.Set(s.profile.Input()[0], drivertest.Shown(""))
	p.Set(s.profile.Send()[0], drivertest.Shown(""))
	p.Set(s.profile.Stop()[0])
	p.Set(s.profile.Response()[0])
}

func (s *chatSite) send(p *drivertest.Page) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clicks++
	if s.clicks <= s.rejectFirst {
		return
	}
	s.sentAt = s.clk.Now()
	p.Set(s.profile.Send()[0], drivertest.Disabled())
	p.Set(s.profile.Stop()[0], drivertest.Shown(""))
}

func (s *chatSite) tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sentAt.IsZero() || now.Sub(s.sentAt) < 6*time.Second {
		return
	}
	s.sentAt = time.Time{}
	p := s.current
	p.Set(s.profile.Stop()[0])
	p.Set(s.profile.Send()[0], drivertest.Shown(""))
	p.Set(s.profile.Response()[0], drivertest.Shown("func TestTokenize(t *testing.T) {\n"+strings.Repeat("\tassert.True(t, ok)\n", 15)+"}"))
}

func (s *chatSite) Pages() []*drivertest.Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*drivertest.Page(nil), s.pages...)
}

type memRecorder struct {
	mu       sync.Mutex
	outcomes []results.Outcome
	err      error
}

func (m *memRecorder) Record(o results.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.outcomes = append(m.outcomes, o)
	return nil
}

func newOrchestrator(t *testing.T, site *chatSite, cfg config.BatchConfig, rec Recorder, metrics *observability.Metrics) *Orchestrator {
	t.Helper()
	logger := zaptest.NewLogger(t)
	o, err := New(cfg, logger, site, provider.DefaultRegistry(), engine.New(site.clk, nil, logger), prompts.NewSet(), rec, metrics)
	require.NoError(t, err)
	return o
}

func batch(t *testing.T, yaml string) *Batch {
	t.Helper()
	b, err := ParseBatch([]byte(yaml))
	require.NoError(t, err)
	return b
}

const twoExperiments = `
name: smoke
defaults:
  provider: claude
experiments:
  - name: tokenizer
    prompt: Write unit tests for the tokenizer.
    repeat: 2
  - name: lexer
    prompt: Write unit tests for the lexer.
`

// -- Test Cases --

func TestRun_ReusesOneSessionPerProvider(t *testing.T) {
	defer goleak.VerifyNone(t)
	site := newChatSite(t)
	rec := &memRecorder{}
	metrics := observability.NewMetrics()

	tally, err := newOrchestrator(t, site, config.BatchConfig{MaxAttempts: 2}, rec, metrics).Run(context.Background(), batch(t, twoExperiments))
	require.NoError(t, err)

	assert.Equal(t, 3, tally.Attempts)
	assert.Equal(t, 3, tally.Completed)
	assert.Zero(t, tally.Retries)

	pages := site.Pages()
	require.Len(t, pages, 1)
	assert.Equal(t, 1, pages[0].Closes(), "released once when the batch ends")
	assert.Equal(t, 3, pages[0].Calls("Navigate"), "every attempt starts a new conversation")

	require.Len(t, rec.outcomes, 3)
	for i, want := range []struct {
		exp    string
		repeat int
	}{{"tokenizer", 1}, {"tokenizer", 2}, {"lexer", 1}} {
		o := rec.outcomes[i]
		assert.Equal(t, want.exp, o.Experiment)
		assert.Equal(t, want.repeat, o.Repeat)
		assert.Equal(t, results.KindComplete, o.Kind)
		assert.Equal(t, "claude", o.Provider)
		assert.Contains(t, o.Text, "func TestTokenize")
		assert.Equal(t, schemas.StateComplete, o.State)
		assert.NotEmpty(t, o.Observations)
	}
	series, err := testutil.GatherAndCount(metrics.Registry(), "tgbench_attempts_total")
	require.NoError(t, err)
	assert.Equal(t, 1, series, "one series for claude/complete")
}

func TestRun_RetriesRejectedSubmission(t *testing.T) {
	site := newChatSite(t)
	site.rejectFirst = 1
	rec := &memRecorder{}

	tally, err := newOrchestrator(t, site, config.BatchConfig{MaxAttempts: 3}, rec, nil).Run(context.Background(), batch(t, `
experiments:
  - name: once
    provider: claude
    prompt: Write tests.
`))
	require.NoError(t, err)
	assert.Equal(t, Tally{
		Attempts:  2,
		Completed: 1,
		Retries:   1,
		ByKind:    map[string]int{string(schemas.KindSubmissionRejected): 1, results.KindComplete: 1},
	}, tally)
	require.Len(t, rec.outcomes, 2)
	assert.Equal(t, 1, rec.outcomes[0].Try)
	assert.Equal(t, 2, rec.outcomes[1].Try)
	assert.Equal(t, 2*time.Second, rec.outcomes[0].Elapsed, "rejection is decided after the acceptance delay")
	assert.Len(t, site.Pages(), 1, "a rejection keeps the tab")
}

func TestRun_GivesUpAfterMaxAttempts(t *testing.T) {
	site := newChatSite(t)
	site.rejectFirst = 10
	rec := &memRecorder{}

	tally, err := newOrchestrator(t, site, config.BatchConfig{MaxAttempts: 2}, rec, nil).Run(context.Background(), batch(t, twoExperiments))
	require.NoError(t, err, "exhausted retries are recorded, not fatal")
	// Two repeats of tokenizer and one of lexer, two tries each.
	assert.Equal(t, 6, tally.Attempts)
	assert.Equal(t, 3, tally.Retries)
	assert.Zero(t, tally.Completed)
}

func TestRun_DriverFaultReplacesSession(t *testing.T) {
	site := newChatSite(t)
	site.faultNav = &driver.OpError{Op: "Navigate", Err: errors.New("target crashed")}
	rec := &memRecorder{}

	tally, err := newOrchestrator(t, site, config.BatchConfig{MaxAttempts: 2}, rec, nil).Run(context.Background(), batch(t, `
experiments:
  - name: crash
    provider: claude
    prompt: Write tests.
`))
	require.NoError(t, err)
	assert.Equal(t, 1, tally.Completed)
	assert.Equal(t, 1, tally.ByKind[string(schemas.KindDriverFault)])

	pages := site.Pages()
	require.Len(t, pages, 2)
	assert.Equal(t, 1, pages[0].Closes(), "the faulted tab is released immediately")
	assert.Equal(t, 1, pages[1].Closes())
}

func TestRun_Cancelled(t *testing.T) {
	site := newChatSite(t)
	rec := &memRecorder{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tally, err := newOrchestrator(t, site, config.BatchConfig{}, rec, nil).Run(ctx, batch(t, twoExperiments))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, tally.Attempts)
	assert.Empty(t, rec.outcomes)
	assert.Empty(t, site.Pages())
}

func TestRun_UnknownErrorStopsBatch(t *testing.T) {
	site := newChatSite(t)
	site.newErr = errors.New("profile directory locked")
	rec := &memRecorder{}

	tally, err := newOrchestrator(t, site, config.BatchConfig{MaxAttempts: 3}, rec, nil).Run(context.Background(), batch(t, twoExperiments))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "profile directory locked")
	assert.Equal(t, map[string]int{KindUnknown: 1}, tally.ByKind)
	require.Len(t, rec.outcomes, 1)
	assert.Equal(t, KindUnknown, rec.outcomes[0].Kind)
}

func TestRun_RecorderFailureStopsBatch(t *testing.T) {
	site := newChatSite(t)
	rec := &memRecorder{err: errors.New("disk full")}

	_, err := newOrchestrator(t, site, config.BatchConfig{}, rec, nil).Run(context.Background(), batch(t, twoExperiments))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 1, site.Pages()[0].Closes())
}

func TestRun_PacesSubmissions(t *testing.T) {
	site := newChatSite(t)
	interval := 40 * time.Millisecond

	start := time.Now()
	tally, err := newOrchestrator(t, site, config.BatchConfig{MinInterval: interval}, &memRecorder{}, nil).Run(context.Background(), batch(t, twoExperiments))
	require.NoError(t, err)
	require.Equal(t, 3, tally.Attempts)
	assert.GreaterOrEqual(t, time.Since(start), 2*interval, "three submissions need two full intervals")
}

func TestRun_WritesResultsStore(t *testing.T) {
	site := newChatSite(t)
	store, err := results.Open(t.TempDir(), "", zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = newOrchestrator(t, site, config.BatchConfig{}, store, nil).Run(context.Background(), batch(t, twoExperiments))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	sum, err := results.ReadSummary(store.Dir())
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Attempts)
	assert.Equal(t, map[string]int{"claude": 3}, sum.ByProvider)
	assert.FileExists(t, store.Dir()+"/tokenizer_2.txt")
	assert.FileExists(t, store.Dir()+"/lexer_1.json")
}

func TestNew_RejectsNilDependencies(t *testing.T) {
	_, err := New(config.BatchConfig{}, zaptest.NewLogger(t), nil, provider.DefaultRegistry(), engine.New(nil, nil, nil), prompts.NewSet(), &memRecorder{}, nil)
	assert.Error(t, err)
}
