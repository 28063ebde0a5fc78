package provider

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrUnknownProvider is returned for variants that have no table entry.
var ErrUnknownProvider = errors.New("unknown provider")

// builtinProfiles is the capability table. Adding a provider means adding an entry here.
var builtinProfiles = map[Variant]struct {
	name      string
	startURL  string
	selectors Selectors
}{
	VariantClaude: {
		name:     "Claude",
		startURL: "https://claude.ai/new",
		selectors: Selectors{
			Input: []string{
				`div.ProseMirror[contenteditable="true"]`,
				`div[contenteditable="true"]`,
				`textarea`,
			},
			Send: []string{
				`button[aria-label="Send message"]`,
				`button[aria-label="Send Message"]`,
				`button[type="submit"]`,
			},
			Stop: []string{
				`button[aria-label="Stop response"]`,
				`button[aria-label*="Stop"]`,
			},
			Loading: []string{
				`[data-is-streaming="true"]`,
			},
			Response: []string{
				`div.font-claude-message`,
				`[data-testid="assistant-message"]`,
				`div.prose`,
			},
			Chrome: []string{
				"Claude can make mistakes",
				"Copy code",
			},
		},
	},
	VariantOpenAI: {
		name:     "ChatGPT",
		startURL: "https://chatgpt.com/",
		selectors: Selectors{
			Input: []string{
				`#prompt-textarea`,
				`textarea[data-id="root"]`,
				`div[contenteditable="true"]`,
				`textarea`,
			},
			Send: []string{
				`button[data-testid="send-button"]`,
				`button[aria-label="Send prompt"]`,
				`button[aria-label="Send message"]`,
			},
			Stop: []string{
				`button[data-testid="stop-button"]`,
				`button[aria-label="Stop generating"]`,
				`button[aria-label="Stop streaming"]`,
			},
			Loading: []string{
				`.result-streaming`,
				`.result-thinking`,
			},
			Response: []string{
				`div[data-message-author-role="assistant"] .markdown`,
				`div[data-message-author-role="assistant"]`,
				`.markdown.prose`,
			},
			Chrome: []string{
				"ChatGPT can make mistakes",
				"Copy code",
				"Regenerate response",
			},
		},
	},
	VariantGemini: {
		name:     "Gemini",
		startURL: "https://gemini.google.com/app",
		selectors: Selectors{
			Input: []string{
				`rich-textarea div.ql-editor[contenteditable="true"]`,
				`div.ql-editor`,
				`textarea`,
			},
			Send: []string{
				`button.send-button`,
				`button[aria-label="Send message"]`,
			},
			Stop: []string{
				`button[aria-label="Stop response"]`,
				`button.stop`,
			},
			Loading: []string{
				`.loading-indicator`,
				`mat-progress-bar`,
			},
			Response: []string{
				`model-response message-content .markdown`,
				`model-response message-content`,
				`.model-response-text`,
			},
			Chrome: []string{
				"Gemini may display inaccurate info",
				"Copy code",
				"Show drafts",
			},
		},
	},
}

// Override adjusts a builtin profile. Zero fields inherit the builtin/base value;
// selector lists are tried before the builtin ones.
type Override struct {
	StartURL          string
	PollInterval      time.Duration
	SettleDelay       time.Duration
	MaxWait           time.Duration
	MinResponseLength int
	StableShort       int
	StableLong        int
	SubstantialSize   int
	Selectors         Selectors
}

func (o Override) apply(t Timing) Timing {
	if o.PollInterval > 0 {
		t.PollInterval = o.PollInterval
	}
	if o.SettleDelay > 0 {
		t.SettleDelay = o.SettleDelay
	}
	if o.MaxWait > 0 {
		t.MaxWait = o.MaxWait
	}
	if o.MinResponseLength > 0 {
		t.MinResponseLength = o.MinResponseLength
	}
	if o.StableShort > 0 {
		t.StableShort = o.StableShort
	}
	if o.StableLong > 0 {
		t.StableLong = o.StableLong
	}
	if o.SubstantialSize > 0 {
		t.SubstantialSize = o.SubstantialSize
	}
	return t
}

// Registry resolves variants to profiles. It is built once and read-only afterwards,
// so it is safe to share between goroutines.
type Registry struct {
	profiles map[Variant]Profile
}

// NewRegistry builds the table from the builtin entries, the base timing and any overrides.
func NewRegistry(base Timing, overrides map[Variant]Override) (*Registry, error) {
	for v := range overrides {
		if _, ok := builtinProfiles[v]; !ok {
			return nil, fmt.Errorf("override for %w: %q", ErrUnknownProvider, v)
		}
	}

	r := &Registry{profiles: make(map[Variant]Profile, len(builtinProfiles))}
	for v, entry := range builtinProfiles {
		ov := overrides[v]
		timing := ov.apply(base)
		if err := timing.Validate(); err != nil {
			return nil, fmt.Errorf("provider %s: invalid timing: %w", v, err)
		}
		startURL := entry.startURL
		if ov.StartURL != "" {
			startURL = ov.StartURL
		}
		sel := Selectors{
			Input:    concat(ov.Selectors.Input, entry.selectors.Input),
			Send:     concat(ov.Selectors.Send, entry.selectors.Send),
			Stop:     concat(ov.Selectors.Stop, entry.selectors.Stop),
			Loading:  concat(ov.Selectors.Loading, entry.selectors.Loading),
			Response: concat(ov.Selectors.Response, entry.selectors.Response),
			Chrome:   concat(ov.Selectors.Chrome, entry.selectors.Chrome),
		}
		r.profiles[v] = NewProfile(v, entry.name, startURL, sel, timing)
	}
	return r, nil
}

// DefaultRegistry returns the builtin table with default timing.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultTiming(), nil)
	if err != nil {
		// The builtin table and default timing are static.
		panic(fmt.Sprintf("provider: invalid builtin registry: %v", err))
	}
	return r
}

// Lookup returns the profile for v.
func (r *Registry) Lookup(v Variant) (Profile, error) {
	p, ok := r.profiles[v]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownProvider, v)
	}
	return p, nil
}

// Variants lists the registered variants in a stable order.
func (r *Registry) Variants() []Variant {
	out := make([]Variant, 0, len(r.profiles))
	for v := range r.profiles {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func concat(first, second []string) []string {
	out := make([]string, 0, len(first)+len(second))
	out = append(out, first...)
	return append(out, second...)
}
