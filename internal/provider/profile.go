// Package provider holds the static capability table for each automated chat surface:
// the DOM query patterns the other components try in order, and the timing
// constants that drive submission and completion detection.
package provider

import (
	"fmt"
	"strings"
	"time"
)

// Variant identifies a chat provider. The set is closed; see builtinProfiles.
type Variant string

const (
	VariantClaude Variant = "claude"
	VariantOpenAI Variant = "openai"
	VariantGemini Variant = "gemini"
)

var variantAliases = map[string]Variant{
	"claude":    VariantClaude,
	"anthropic": VariantClaude,
	"openai":    VariantOpenAI,
	"chatgpt":   VariantOpenAI,
	"gpt":       VariantOpenAI,
	"gemini":    VariantGemini,
	"bard":      VariantGemini,
	"google":    VariantGemini,
}

// ParseVariant resolves a user supplied provider name.
func ParseVariant(name string) (Variant, error) {
	if v, ok := variantAliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return v, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProvider, name)
}

// Timing holds the tunables for one provider. Zero values are never used at runtime;
// the registry fills them from the detector configuration.
type Timing struct {
	PollInterval      time.Duration
	SettleDelay       time.Duration
	AcceptanceDelay   time.Duration
	InputRetryWindow  time.Duration
	MaxWait           time.Duration
	MinResponseLength int
	StableShort       int
	StableLong        int
	SubstantialSize   int
}

// DefaultTiming mirrors the configuration defaults.
func DefaultTiming() Timing {
	return Timing{
		PollInterval:      3 * time.Second,
		SettleDelay:       1 * time.Second,
		AcceptanceDelay:   2 * time.Second,
		InputRetryWindow:  10 * time.Second,
		MaxWait:           120 * time.Second,
		MinResponseLength: 200,
		StableShort:       5,
		StableLong:        3,
		SubstantialSize:   3000,
	}
}

// RequiredStableTicks returns how many unchanged ticks a candidate of this length needs.
// Short replies wait longer since they are more likely to be an unfinished preamble.
func (t Timing) RequiredStableTicks(length int) int {
	if length < t.MinResponseLength {
		return t.StableShort
	}
	return t.StableLong
}

// Validate checks the timing values are usable.
func (t Timing) Validate() error {
	switch {
	case t.PollInterval <= 0:
		return fmt.Errorf("poll_interval must be positive")
	case t.MaxWait <= 0:
		return fmt.Errorf("max_wait must be positive")
	case t.MaxWait < t.PollInterval:
		return fmt.Errorf("max_wait (%v) must not be shorter than poll_interval (%v)", t.MaxWait, t.PollInterval)
	case t.SettleDelay < 0 || t.AcceptanceDelay < 0 || t.InputRetryWindow < 0:
		return fmt.Errorf("delays must not be negative")
	case t.MinResponseLength < 0:
		return fmt.Errorf("min_response_length must not be negative")
	case t.StableShort <= 0 || t.StableLong <= 0:
		return fmt.Errorf("stable tick thresholds must be positive")
	case t.SubstantialSize <= 0:
		return fmt.Errorf("substantial_size must be positive")
	}
	return nil
}

// Selectors are ordered CSS query patterns, highest priority first.
type Selectors struct {
	Input    []string
	Send     []string
	Stop     []string
	Loading  []string
	Response []string
	// Chrome lists UI text fragments that never belong to a response.
	Chrome []string
}

func (s Selectors) clone() Selectors {
	return Selectors{
		Input:    cloneStrings(s.Input),
		Send:     cloneStrings(s.Send),
		Stop:     cloneStrings(s.Stop),
		Loading:  cloneStrings(s.Loading),
		Response: cloneStrings(s.Response),
		Chrome:   cloneStrings(s.Chrome),
	}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// Profile is the immutable capability set of one provider. All accessors return copies.
type Profile struct {
	variant   Variant
	name      string
	startURL  string
	selectors Selectors
	timing    Timing
}

// NewProfile builds a Profile, copying every slice it is given.
func NewProfile(v Variant, name, startURL string, sel Selectors, timing Timing) Profile {
	return Profile{
		variant:   v,
		name:      name,
		startURL:  startURL,
		selectors: sel.clone(),
		timing:    timing,
	}
}

func (p Profile) Variant() Variant     { return p.variant }
func (p Profile) Name() string         { return p.name }
func (p Profile) StartURL() string     { return p.startURL }
func (p Profile) Timing() Timing       { return p.timing }
func (p Profile) Selectors() Selectors { return p.selectors.clone() }
func (p Profile) Input() []string      { return cloneStrings(p.selectors.Input) }
func (p Profile) Send() []string       { return cloneStrings(p.selectors.Send) }
func (p Profile) Stop() []string       { return cloneStrings(p.selectors.Stop) }
func (p Profile) Loading() []string    { return cloneStrings(p.selectors.Loading) }
func (p Profile) Response() []string   { return cloneStrings(p.selectors.Response) }
func (p Profile) Chrome() []string     { return cloneStrings(p.selectors.Chrome) }

// WithTiming returns a copy of p using t.
func (p Profile) WithTiming(t Timing) Profile {
	out := NewProfile(p.variant, p.name, p.startURL, p.selectors, t)
	return out
}

// WithStartURL returns a copy of p pointing at url.
func (p Profile) WithStartURL(url string) Profile {
	out := NewProfile(p.variant, p.name, url, p.selectors, p.timing)
	return out
}

// Host returns the host part of the start URL, used to decide whether a session
// is already on the provider.
func (p Profile) Host() string {
	u := p.startURL
	if i := strings.Index(u, "://"); i >= 0 {
		u = u[i+3:]
	}
	if i := strings.IndexAny(u, "/?#"); i >= 0 {
		u = u[:i]
	}
	return u
}
