package schemas

import (
	"time"
)

// -- Generation State --

// GenerationState is the lifecycle of a single detection run. A run moves
// strictly forward through these states; Complete, Rejected and TimedOut are terminal.
type GenerationState int

const (
	StateIdle GenerationState = iota
	StateSubmitted
	StateVerifyingAcceptance
	StateGenerating
	StateStabilizing
	StateComplete
	StateRejected
	StateTimedOut
)

var stateNames = map[GenerationState]string{
	StateIdle:                "idle",
	StateSubmitted:           "submitted",
	StateVerifyingAcceptance: "verifying_acceptance",
	StateGenerating:          "generating",
	StateStabilizing:         "stabilizing",
	StateComplete:            "complete",
	StateRejected:            "rejected",
	StateTimedOut:            "timed_out",
}

func (s GenerationState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// IsTerminal reports whether no further transitions are allowed.
func (s GenerationState) IsTerminal() bool {
	return s == StateComplete || s == StateRejected || s == StateTimedOut
}

// MarshalText lets states render by name in JSON and logs.
func (s GenerationState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// -- Extraction --

// Strategy tags which extraction path produced a candidate.
type Strategy string

const (
	StrategyContainerQuery Strategy = "container-query"
	StrategyDocumentScan   Strategy = "document-scan"
	StrategyNone           Strategy = ""
)

// Candidate is a piece of page text considered as the final response.
type Candidate struct {
	Text     string   `json:"text"`
	Strategy Strategy `json:"strategy"`
	// Selector is the query pattern that matched for container candidates.
	Selector string `json:"selector,omitempty"`
	// Score is only meaningful for document-scan candidates.
	Score int `json:"score,omitempty"`
}

// Length is the character count used by the stability policy.
func (c *Candidate) Length() int {
	if c == nil {
		return 0
	}
	return len([]rune(c.Text))
}

// ExtractionResult is the final outcome of a successful detection run.
type ExtractionResult struct {
	Text     string        `json:"text"`
	Strategy Strategy      `json:"strategy"`
	Elapsed  time.Duration `json:"elapsed"`
	// ShortCircuited is true when completion skipped the stability window.
	ShortCircuited bool `json:"short_circuited"`
	// Observations is the per-tick trace of the run that produced this result.
	Observations []PollObservation `json:"observations,omitempty"`
}

// -- Observations --

// PollObservation records what the detector saw on one tick.
type PollObservation struct {
	Tick            int             `json:"tick"`
	Elapsed         time.Duration   `json:"elapsed"`
	State           GenerationState `json:"state"`
	CandidateLength int             `json:"candidate_length"`
	StableTicks     int             `json:"stable_ticks"`
	Required        int             `json:"required_ticks,omitempty"`
	Strategy        Strategy        `json:"strategy,omitempty"`
	Reason          string          `json:"reason"`
}
