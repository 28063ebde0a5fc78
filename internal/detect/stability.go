package detect

import (
	"fmt"

	"github.com/xkilldash9x/tgbench/api/schemas"
	"github.com/xkilldash9x/tgbench/internal/provider"
)

// Verdict is the outcome of evaluating one tick.
type Verdict int

const (
	// Continue polling.
	Continue Verdict = iota
	// Stable means the stability threshold was reached with a usable candidate.
	Stable
	// ShortCircuit means a substantial, structurally complete candidate was seen.
	ShortCircuit
)

// Tick is what the page showed on one poll.
type Tick struct {
	// Busy names the indicator showing generation is still in progress, if any.
	Busy string
	// Candidate is the extractor's best candidate, nil when nothing qualified.
	Candidate *schemas.Candidate
}

// Decision is the result of Stability.Evaluate.
type Decision struct {
	Verdict     Verdict
	Length      int
	StableTicks int
	Required    int
	Reason      string
}

// Stability applies the length-stability policy across ticks. The zero value is not usable;
// use NewStability.
type Stability struct {
	timing     provider.Timing
	structural func(text string) bool

	observed bool
	lastLen  int
	stable   int
	best     *schemas.Candidate
}

// NewStability creates the policy for one run. structural reports whether a text contains
// a recognizable opener for the expected output format; nil disables the short-circuit.
func NewStability(timing provider.Timing, structural func(text string) bool) *Stability {
	return &Stability{timing: timing, structural: structural}
}

// Evaluate folds one tick into the policy.
func (s *Stability) Evaluate(t Tick) Decision {
	if t.Busy != "" {
		// The page is still producing; any stable run so far does not count.
		s.stable = 0
		return Decision{Verdict: Continue, Length: s.lastLen, Reason: t.Busy}
	}

	length := t.Candidate.Length()
	if length > 0 {
		s.best = t.Candidate
	}

	if length > s.timing.SubstantialSize && s.structural != nil && s.structural(t.Candidate.Text) {
		s.lastLen = length
		s.observed = true
		return Decision{
			Verdict: ShortCircuit,
			Length:  length,
			Reason:  fmt.Sprintf("substantial candidate (%d > %d) with structural opener", length, s.timing.SubstantialSize),
		}
	}

	var reason string
	if s.observed && length == s.lastLen {
		s.stable++
		reason = "length unchanged"
	} else {
		s.stable = 0
		s.lastLen = length
		s.observed = true
		reason = "length changed"
	}

	required := s.timing.RequiredStableTicks(length)
	d := Decision{Verdict: Continue, Length: length, StableTicks: s.stable, Required: required, Reason: reason}
	if s.stable >= required {
		if s.best == nil {
			d.Reason = "stable but no candidate seen yet"
			return d
		}
		d.Verdict = Stable
		d.Reason = fmt.Sprintf("stable for %d ticks", s.stable)
	}
	if length == 0 && d.Verdict == Continue && s.best != nil {
		d.Reason += "; candidate missing"
	}
	return d
}

// Best returns the last non-empty candidate seen, or nil.
func (s *Stability) Best() *schemas.Candidate { return s.best }
