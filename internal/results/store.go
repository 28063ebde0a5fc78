// Package results persists benchmark attempts into numbered run directories.
package results

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tgbench/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// KindComplete marks a successful attempt in Outcome.Kind and the summary.
const KindComplete = "complete"

const (
	defaultPrefix = "run"
	summaryFile   = "summary.json"
)

// Outcome is the record of one attempt.
type Outcome struct {
	ID         string    `json:"id"`
	Experiment string    `json:"experiment"`
	Provider   string    `json:"provider"`
	Repeat     int       `json:"repeat"`
	Try        int       `json:"try"`
	StartedAt  time.Time `json:"started_at"`
	// Kind is KindComplete or the schemas.ErrorKind of the failure.
	Kind           string                    `json:"kind"`
	Error          string                    `json:"error,omitempty"`
	Elapsed        time.Duration             `json:"elapsed"`
	Strategy       schemas.Strategy          `json:"strategy,omitempty"`
	ShortCircuited bool                      `json:"short_circuited"`
	Length         int                       `json:"length"`
	State          schemas.GenerationState   `json:"state"`
	History        []schemas.GenerationState `json:"history,omitempty"`
	Observations   []schemas.PollObservation `json:"observations,omitempty"`
	// Text is written to its own file, not into the JSON record.
	Text string `json:"-"`
	// TextFile is the name of the text file relative to the run directory.
	TextFile string `json:"text_file,omitempty"`
}

// Summary aggregates a run.
type Summary struct {
	Run         string         `json:"run"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
	Attempts    int            `json:"attempts"`
	ByKind      map[string]int `json:"by_kind"`
	ByProvider  map[string]int `json:"completed_by_provider"`
	MeanElapsed time.Duration  `json:"mean_elapsed"`
}

// Store writes the outcomes of one run. It is safe for concurrent use.
type Store struct {
	dir    string
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	seq     map[string]int
	summary Summary
	total   time.Duration
	closed  bool
}

// Open creates the next numbered run directory under root, e.g. root/run_003 when
// run_001 and run_002 exist. An empty prefix means "run".
func Open(root, prefix string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = defaultPrefix
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create results root: %w", err)
	}
	n, err := nextRunNumber(root, prefix)
	if err != nil {
		return nil, err
	}
	name := fmt.Sprintf("%s_%03d", prefix, n)
	dir := filepath.Join(root, name)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	s := &Store{
		dir:    dir,
		logger: logger.Named("results").With(zap.String("run", name)),
		now:    time.Now,
		seq:    make(map[string]int),
	}
	s.summary = Summary{
		Run:        name,
		StartedAt:  s.now(),
		ByKind:     make(map[string]int),
		ByProvider: make(map[string]int),
	}
	s.logger.Info("Results directory created.", zap.String("dir", dir))
	return s, nil
}

func nextRunNumber(root, prefix string) (int, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return 0, fmt.Errorf("failed to list results root: %w", err)
	}
	pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) + `_(\d+)$`)
	highest := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m := pattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n > highest {
			highest = n
		}
	}
	return highest + 1, nil
}

// Dir is the run directory.
func (s *Store) Dir() string { return s.dir }

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func fileStem(name string) string {
	stem := strings.Trim(unsafeChars.ReplaceAllString(name, "_"), "_.")
	if stem == "" {
		return "attempt"
	}
	return stem
}

// Record writes the outcome as <experiment>_<n>.json and, when it carries text,
// <experiment>_<n>.txt, where n counts the experiment's attempts in this run.
func (s *Store) Record(o Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("results store %s is closed", s.summary.Run)
	}

	stem := fileStem(o.Experiment)
	s.seq[stem]++
	base := fmt.Sprintf("%s_%d", stem, s.seq[stem])

	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if o.Text != "" {
		o.TextFile = base + ".txt"
		if err := os.WriteFile(filepath.Join(s.dir, o.TextFile), []byte(o.Text), 0o644); err != nil {
			return fmt.Errorf("failed to write response text: %w", err)
		}
	}
	if err := writeJSON(filepath.Join(s.dir, base+".json"), o); err != nil {
		return err
	}

	s.summary.Attempts++
	s.summary.ByKind[o.Kind]++
	if o.Kind == KindComplete {
		s.summary.ByProvider[o.Provider]++
	}
	s.total += o.Elapsed
	s.logger.Debug("Attempt recorded.", zap.String("file", base), zap.String("kind", o.Kind))
	return nil
}

// Summary returns a snapshot of the aggregate so far.
func (s *Store) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

func (s *Store) snapshot() Summary {
	out := s.summary
	out.ByKind = copyCounts(s.summary.ByKind)
	out.ByProvider = copyCounts(s.summary.ByProvider)
	if out.Attempts > 0 {
		out.MeanElapsed = s.total / time.Duration(out.Attempts)
	}
	return out
}

func copyCounts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Close writes summary.json. Further calls are no-ops.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.summary.FinishedAt = s.now()
	sum := s.snapshot()
	if err := writeJSON(filepath.Join(s.dir, summaryFile), sum); err != nil {
		return err
	}

	kinds := make([]string, 0, len(sum.ByKind))
	for k := range sum.ByKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	s.logger.Info("Run summary written.",
		zap.Int("attempts", sum.Attempts),
		zap.Strings("kinds", kinds),
		zap.Duration("mean_elapsed", sum.MeanElapsed))
	return nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// ReadSummary loads summary.json from a run directory.
func ReadSummary(dir string) (*Summary, error) {
	data, err := os.ReadFile(filepath.Join(dir, summaryFile))
	if err != nil {
		return nil, err
	}
	var sum Summary
	if err := json.Unmarshal(data, &sum); err != nil {
		return nil, fmt.Errorf("failed to decode summary: %w", err)
	}
	return &sum, nil
}
