package extract

import (
	"sort"
	"strings"
	"unicode"
)

// DefaultKeywords weights structural markers of a unit-test file.
// A node scores the weight of every keyword it contains, once per keyword.
var DefaultKeywords = map[string]int{
	"func Test":   10,
	"def test_":   10,
	"@Test":       10,
	"testing.T":   8,
	"unittest":    8,
	"pytest":      8,
	"describe(":   6,
	"assert":      5,
	"expect(":     5,
	"t.Run(":      5,
	"it(":         3,
	"import ":     3,
	"package ":    3,
	"class ":      3,
	"def ":        2,
	"func ":       2,
	"require.":    2,
	"self.":       1,
	"return":      1,
}

// DefaultStartTokens are the openers of a source file. A candidate whose text begins
// with one of these earns the start-token bonus, and the detector's short-circuit rule
// looks for them as evidence of a complete file.
var DefaultStartTokens = []string{
	"package ",
	"import ",
	"from ",
	"#include",
	"using ",
	"require(",
	"const ",
	"describe(",
	"class ",
	"public class",
	"def ",
	"func ",
	"@Test",
}

// Scorer ranks texts for the document-scan strategy.
type Scorer struct {
	keywords    []weighted
	startTokens []string
	bonus       int
}

type weighted struct {
	token  string
	weight int
}

// NewScorer builds a Scorer. Nil arguments select the defaults.
func NewScorer(keywords map[string]int, startTokens []string, bonus int) *Scorer {
	if keywords == nil {
		keywords = DefaultKeywords
	}
	if startTokens == nil {
		startTokens = DefaultStartTokens
	}
	s := &Scorer{bonus: bonus, startTokens: append([]string(nil), startTokens...)}
	for k, w := range keywords {
		s.keywords = append(s.keywords, weighted{token: k, weight: w})
	}
	// Deterministic iteration keeps scores reproducible in logs.
	sort.Slice(s.keywords, func(i, j int) bool { return s.keywords[i].token < s.keywords[j].token })
	return s
}

// Score returns the keyword score of text plus the start-token bonus.
func (s *Scorer) Score(text string) int {
	score := 0
	for _, kw := range s.keywords {
		if strings.Contains(text, kw.token) {
			score += kw.weight
		}
	}
	if s.StartsWithCode(text) {
		score += s.bonus
	}
	return score
}

// StartsWithCode reports whether text, after leading whitespace, begins with a start token.
func (s *Scorer) StartsWithCode(text string) bool {
	trimmed := strings.TrimLeftFunc(text, unicode.IsSpace)
	for _, tok := range s.startTokens {
		if strings.HasPrefix(trimmed, tok) {
			return true
		}
	}
	return false
}

// HasStructuralOpener reports whether any line of text begins with a start token,
// i.e. the text contains a top-level declaration opener of a source file.
func (s *Scorer) HasStructuralOpener(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		if s.StartsWithCode(line) {
			return true
		}
	}
	return false
}

// scored is a document-scan candidate.
type scored struct {
	text  string
	score int
}

// better orders candidates by score, then length, then text, so the winner does not
// depend on the order nodes were visited.
func better(a, b scored) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	la, lb := len([]rune(a.text)), len([]rune(b.text))
	if la != lb {
		return la > lb
	}
	return a.text < b.text
}

// filter decides whether a text is admissible as a candidate.
type filter struct {
	minLen int
	maxLen int
	echo   string
	chrome []string
}

func (f filter) admits(text string) bool {
	n := len([]rune(text))
	if n == 0 || n < f.minLen {
		return false
	}
	if f.maxLen > 0 && n > f.maxLen {
		return false
	}
	if containsEcho(text, f.echo) {
		return false
	}
	for _, c := range f.chrome {
		if c != "" && strings.Contains(text, c) {
			return false
		}
	}
	return true
}

// pickBest returns the highest ranked admissible text.
func (s *Scorer) pickBest(texts []string, f filter) (scored, bool) {
	var best scored
	found := false
	for _, t := range texts {
		if !f.admits(t) {
			continue
		}
		c := scored{text: t, score: s.Score(t)}
		if !found || better(c, best) {
			best, found = c, true
		}
	}
	return best, found
}

// containsEcho reports whether text is, or contains, the submitted prompt.
// Whitespace is normalized since pages re-flow the echoed prompt.
func containsEcho(text, echo string) bool {
	e := normalizeSpace(echo)
	if e == "" {
		return false
	}
	return strings.Contains(normalizeSpace(text), e)
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
