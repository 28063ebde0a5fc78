// File: internal/orchestrator/batch.go
package orchestrator

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/tgbench/internal/prompts"
	"github.com/xkilldash9x/tgbench/internal/provider"
)

// Batch is a YAML batch file: a list of experiments run in order.
type Batch struct {
	Name        string       `yaml:"name"`
	Defaults    Defaults     `yaml:"defaults"`
	Experiments []Experiment `yaml:"experiments"`
}

// Defaults fill unset experiment fields.
type Defaults struct {
	Provider  string `yaml:"provider"`
	Template  string `yaml:"template"`
	Framework string `yaml:"framework"`
	Repeat    int    `yaml:"repeat"`
}

// Experiment is one prompt sent Repeat times to one provider. Exactly one of
// Prompt, PromptFile and SourceFile is set; SourceFile is rendered through Template.
type Experiment struct {
	Name       string `yaml:"name"`
	Provider   string `yaml:"provider"`
	Prompt     string `yaml:"prompt"`
	PromptFile string `yaml:"prompt_file"`
	SourceFile string `yaml:"source_file"`
	Template   string `yaml:"template"`
	Module     string `yaml:"module"`
	Framework  string `yaml:"framework"`
	Extra      string `yaml:"extra"`
	Repeat     int    `yaml:"repeat"`

	variant provider.Variant
}

// Variant is the resolved provider. It is set by Validate.
func (e Experiment) Variant() provider.Variant { return e.variant }

// LoadBatch reads, defaults and validates a batch file. Relative file references are
// resolved against the batch file's directory.
func LoadBatch(path string) (*Batch, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch file: %w", err)
	}
	b, err := ParseBatch(raw)
	if err != nil {
		return nil, fmt.Errorf("batch %s: %w", path, err)
	}
	b.resolvePaths(filepath.Dir(path))
	return b, nil
}

// ParseBatch decodes and validates batch YAML. Unknown keys are rejected.
func ParseBatch(raw []byte) (*Batch, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	var b Batch
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("failed to decode batch: %w", err)
	}
	b.applyDefaults()
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

func (b *Batch) applyDefaults() {
	if b.Defaults.Repeat == 0 {
		b.Defaults.Repeat = 1
	}
	if b.Defaults.Template == "" {
		b.Defaults.Template = prompts.BuiltinUnitTests
	}
	for i := range b.Experiments {
		e := &b.Experiments[i]
		if e.Provider == "" {
			e.Provider = b.Defaults.Provider
		}
		if e.Template == "" {
			e.Template = b.Defaults.Template
		}
		if e.Framework == "" {
			e.Framework = b.Defaults.Framework
		}
		if e.Repeat == 0 {
			e.Repeat = b.Defaults.Repeat
		}
	}
}

func (b *Batch) resolvePaths(dir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	for i := range b.Experiments {
		b.Experiments[i].PromptFile = abs(b.Experiments[i].PromptFile)
		b.Experiments[i].SourceFile = abs(b.Experiments[i].SourceFile)
	}
}

// Validate checks the batch and resolves every experiment's provider.
func (b *Batch) Validate() error {
	if len(b.Experiments) == 0 {
		return errors.New("batch has no experiments")
	}
	seen := make(map[string]bool, len(b.Experiments))
	var errs []error
	for i := range b.Experiments {
		e := &b.Experiments[i]
		label := fmt.Sprintf("experiment %d", i+1)
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("%s: name is required", label))
		} else {
			label = fmt.Sprintf("experiment %q", e.Name)
			if seen[e.Name] {
				errs = append(errs, fmt.Errorf("%s: duplicate name", label))
			}
			seen[e.Name] = true
		}

		v, err := provider.ParseVariant(e.Provider)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", label, err))
		}
		e.variant = v

		sources := 0
		for _, s := range []string{e.Prompt, e.PromptFile, e.SourceFile} {
			if strings.TrimSpace(s) != "" {
				sources++
			}
		}
		if sources != 1 {
			errs = append(errs, fmt.Errorf("%s: exactly one of prompt, prompt_file, source_file is required (got %d)", label, sources))
		}
		if e.Repeat < 1 {
			errs = append(errs, fmt.Errorf("%s: repeat must be at least 1", label))
		}
	}
	return errors.Join(errs...)
}

// Render produces the prompt text for e.
func (e Experiment) Render(set *prompts.Set) (string, error) {
	switch {
	case e.Prompt != "":
		return e.Prompt, nil
	case e.PromptFile != "":
		raw, err := os.ReadFile(e.PromptFile)
		if err != nil {
			return "", fmt.Errorf("failed to read prompt file: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}

	src, err := os.ReadFile(e.SourceFile)
	if err != nil {
		return "", fmt.Errorf("failed to read source file: %w", err)
	}
	module := e.Module
	if module == "" {
		module = strings.TrimSuffix(filepath.Base(e.SourceFile), filepath.Ext(e.SourceFile))
	}
	return set.Render(e.Template, prompts.PromptData{
		ModuleName: module,
		Source:     string(src),
		Framework:  e.Framework,
		Extra:      e.Extra,
	})
}
