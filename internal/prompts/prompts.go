// Package prompts renders benchmark prompts from templates.
package prompts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
)

// BuiltinUnitTests is the name of the default template.
const BuiltinUnitTests = "unit-tests"

// ErrUnknownTemplate is returned by Lookup for a name that was never registered.
var ErrUnknownTemplate = errors.New("unknown prompt template")

// PromptData is the input every template is rendered with.
type PromptData struct {
	// ModuleName names the code under test.
	ModuleName string
	// Source is the code the provider should write tests for.
	Source string
	// Framework is the expected test framework, e.g. "go test" or "pytest".
	Framework string
	// Extra is free-form text appended by the batch author.
	Extra string
}

const unitTestsTemplate = `Write a complete unit test file for the {{.ModuleName}} module{{if .Framework}} using {{.Framework}}{{end}}.
Cover normal behavior, edge cases, and error paths. Reply with the test file only, in a single code block, without explanations.
{{if .Source}}
Source code:
{{.Source}}
{{end}}{{if .Extra}}
{{.Extra}}
{{end}}`

var funcs = template.FuncMap{
	"join":  strings.Join,
	"upper": strings.ToUpper,
	"trim":  strings.TrimSpace,
}

// Set is a named collection of parsed templates.
type Set struct {
	templates map[string]*template.Template
}

// NewSet returns a set holding the built-in templates.
func NewSet() *Set {
	s := &Set{templates: make(map[string]*template.Template)}
	if err := s.Add(BuiltinUnitTests, unitTestsTemplate); err != nil {
		panic(err)
	}
	return s
}

// Add parses text and registers it under name, replacing any template of that name.
func (s *Set) Add(name, text string) error {
	tmpl, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(text)
	if err != nil {
		return fmt.Errorf("prompts: parse %s: %w", name, err)
	}
	s.templates[name] = tmpl
	return nil
}

// LoadFile registers the template in path under the file's base name without extension.
func (s *Set) LoadFile(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("prompts: read template: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return name, s.Add(name, string(raw))
}

// LoadDir registers every *.tmpl file in dir.
func (s *Set) LoadDir(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.tmpl"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	names := make([]string, 0, len(paths))
	for _, p := range paths {
		name, err := s.LoadFile(p)
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}

// Names lists the registered templates in sorted order.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.templates))
	for n := range s.templates {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Render executes the named template with data.
func (s *Set) Render(name string, data PromptData) (string, error) {
	tmpl, ok := s.templates[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTemplate, name)
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("prompts: render %s: %w", name, err)
	}
	return strings.TrimSpace(b.String()), nil
}
