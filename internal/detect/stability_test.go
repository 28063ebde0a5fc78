package detect

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/tgbench/api/schemas"
	"github.com/xkilldash9x/tgbench/internal/extract"
	"github.com/xkilldash9x/tgbench/internal/provider"
)

func cand(n int) *schemas.Candidate {
	return &schemas.Candidate{Text: strings.Repeat("a", n), Strategy: schemas.StrategyContainerQuery}
}

func newStability() *Stability {
	return NewStability(provider.DefaultTiming(), extract.NewScorer(nil, nil, 50).HasStructuralOpener)
}

func TestStability_CounterResetsOnChange(t *testing.T) {
	s := newStability()

	lengths := []int{100, 100, 150, 150, 150}
	wantStable := []int{0, 1, 0, 1, 2}
	for i, n := range lengths {
		d := s.Evaluate(Tick{Candidate: cand(n)})
		assert.Equal(t, Continue, d.Verdict, "tick %d", i)
		assert.Equal(t, wantStable[i], d.StableTicks, "tick %d", i)
		assert.Equal(t, n, d.Length)
	}
}

func TestStability_RequiredTicksDependOnLength(t *testing.T) {
	tests := []struct {
		length   int
		required int
	}{
		{length: 50, required: 5},
		{length: 199, required: 5},
		{length: 200, required: 3},
		{length: 2500, required: 3},
	}
	for _, tt := range tests {
		s := newStability()
		d := s.Evaluate(Tick{Candidate: cand(tt.length)})
		for i := 0; i < tt.required-1; i++ {
			d = s.Evaluate(Tick{Candidate: cand(tt.length)})
			require.Equal(t, Continue, d.Verdict, "length %d completed early", tt.length)
		}
		d = s.Evaluate(Tick{Candidate: cand(tt.length)})
		assert.Equal(t, Stable, d.Verdict, "length %d", tt.length)
		assert.Equal(t, tt.required, d.Required)
	}
}

func TestStability_BusyTickResetsCounter(t *testing.T) {
	s := newStability()
	s.Evaluate(Tick{Candidate: cand(300)})
	s.Evaluate(Tick{Candidate: cand(300)})
	d := s.Evaluate(Tick{Busy: "stop control visible"})
	assert.Equal(t, Continue, d.Verdict)
	assert.Equal(t, "stop control visible", d.Reason)

	d = s.Evaluate(Tick{Candidate: cand(300)})
	assert.Equal(t, 1, d.StableTicks, "the count restarts after the page was busy")
}

func TestStability_MissingCandidate(t *testing.T) {
	t.Run("never seen keeps polling", func(t *testing.T) {
		s := newStability()
		for i := 0; i < 20; i++ {
			d := s.Evaluate(Tick{})
			require.Equal(t, Continue, d.Verdict)
		}
		assert.Nil(t, s.Best())
	})

	t.Run("absence after a candidate completes with the last text", func(t *testing.T) {
		s := newStability()
		s.Evaluate(Tick{Candidate: cand(400)})
		d := s.Evaluate(Tick{})
		assert.Equal(t, 0, d.StableTicks, "dropping to zero is a change")

		for i := 1; i < 5; i++ {
			d = s.Evaluate(Tick{})
			require.Equal(t, Continue, d.Verdict)
		}
		d = s.Evaluate(Tick{})
		assert.Equal(t, Stable, d.Verdict)
		assert.Equal(t, 5, d.Required, "length 0 uses the short threshold")
		assert.Equal(t, 400, s.Best().Length())
	})
}

func TestStability_ShortCircuit(t *testing.T) {
	code := "package parser\n\nimport \"testing\"\n\n" + strings.Repeat("func TestX(t *testing.T) {}\n", 150)
	require.Greater(t, len(code), 3000)

	s := newStability()
	d := s.Evaluate(Tick{Candidate: &schemas.Candidate{Text: code}})
	assert.Equal(t, ShortCircuit, d.Verdict)

	// Prose of the same size must wait out the window.
	s = newStability()
	d = s.Evaluate(Tick{Candidate: cand(4000)})
	assert.Equal(t, Continue, d.Verdict)

	// Code below the threshold must wait as well.
	s = newStability()
	d = s.Evaluate(Tick{Candidate: &schemas.Candidate{Text: "package parser\n" + strings.Repeat("x", 300)}})
	assert.Equal(t, Continue, d.Verdict)
}
