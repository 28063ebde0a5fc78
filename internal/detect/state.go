// Package detect decides when a submitted prompt's streamed response is finished.
// The transition logic is pure (Machine, Stability); Detector.Run only feeds it
// page observations at the cadence of an injected clock.
package detect

import (
	"fmt"

	"github.com/xkilldash9x/tgbench/api/schemas"
)

// transitions is the state graph. Every edge moves forward, so no state is revisited.
var transitions = map[schemas.GenerationState][]schemas.GenerationState{
	schemas.StateIdle:                {schemas.StateSubmitted},
	schemas.StateSubmitted:           {schemas.StateVerifyingAcceptance},
	schemas.StateVerifyingAcceptance: {schemas.StateGenerating, schemas.StateRejected},
	schemas.StateGenerating:          {schemas.StateStabilizing, schemas.StateComplete, schemas.StateTimedOut},
	schemas.StateStabilizing:         {schemas.StateComplete, schemas.StateTimedOut},
}

// Machine tracks the state of one detection run. It is not safe for concurrent use.
type Machine struct {
	state   schemas.GenerationState
	history []schemas.GenerationState
}

// NewMachine returns a machine in StateIdle.
func NewMachine() *Machine {
	return &Machine{state: schemas.StateIdle, history: []schemas.GenerationState{schemas.StateIdle}}
}

// State returns the current state.
func (m *Machine) State() schemas.GenerationState { return m.state }

// History returns every state entered, in order.
func (m *Machine) History() []schemas.GenerationState {
	out := make([]schemas.GenerationState, len(m.history))
	copy(out, m.history)
	return out
}

// Advance moves to the given state. Moving to the current state is a no-op;
// any move not in the graph, including out of a terminal state, is an error.
func (m *Machine) Advance(to schemas.GenerationState) error {
	if to == m.state && !to.IsTerminal() {
		return nil
	}
	for _, next := range transitions[m.state] {
		if next == to {
			m.state = to
			m.history = append(m.history, to)
			return nil
		}
	}
	return fmt.Errorf("detect: illegal transition %s -> %s", m.state, to)
}
