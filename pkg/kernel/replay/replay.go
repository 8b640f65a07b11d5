// Package replay provides scenario-based replay execution. A scenario
// holds the pages a workflow visits, canned semantic replies and
// screenshot verdicts, enabling deterministic re-execution of intent
// specs without a live browser or agent.
package replay

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ormasoftchile/intentrun/pkg/providers/htmldoc"
	"github.com/ormasoftchile/intentrun/pkg/semantic"
)

// Scenario is the top-level replay scenario document.
type Scenario struct {
	// StartURL is loaded before the run starts, for specs without a url.
	StartURL string `yaml:"start_url,omitempty" json:"start_url,omitempty"`

	// Vars are parameter values to seed the run with.
	Vars map[string]string `yaml:"vars,omitempty" json:"vars,omitempty"`

	// Pages maps absolute URLs to inline HTML.
	Pages map[string]string `yaml:"pages,omitempty" json:"pages,omitempty"`

	// PageFiles maps absolute URLs to HTML files relative to the
	// scenario directory.
	PageFiles map[string]string `yaml:"page_files,omitempty" json:"page_files,omitempty"`

	// Semantic replies are consumed in order, one per instruction.
	Semantic []SemanticReply `yaml:"semantic,omitempty" json:"semantic,omitempty"`

	// Screenshots maps a screenshot reference to the comparison verdict.
	Screenshots map[string]bool `yaml:"screenshots,omitempty" json:"screenshots,omitempty"`

	dir string
}

// SemanticReply is one canned answer from the semantic executor.
type SemanticReply struct {
	// Match, when set, must be a substring of the instruction.
	Match   string         `yaml:"match,omitempty" json:"match,omitempty"`
	Success bool           `yaml:"success" json:"success"`
	Error   string         `yaml:"error,omitempty" json:"error,omitempty"`
	Data    map[string]any `yaml:"data,omitempty" json:"data,omitempty"`
	// Navigate moves the replayed browser to this URL, standing in for
	// whatever the agent did on the page.
	Navigate string `yaml:"navigate,omitempty" json:"navigate,omitempty"`
}

// LoadScenario loads a scenario from a YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	s.dir = filepath.Dir(path)
	return s, nil
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	return &s, nil
}

// LoadScenarioDir loads a scenario from a directory containing scenario.yaml.
func LoadScenarioDir(dir string) (*Scenario, error) {
	return LoadScenario(filepath.Join(dir, "scenario.yaml"))
}

// Save writes the scenario as dir/scenario.yaml.
func (s *Scenario) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create scenario dir: %w", err)
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal scenario: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "scenario.yaml"), data, 0o644)
}

// Site resolves inline pages and page files into a single site map.
func (s *Scenario) Site() (htmldoc.Site, error) {
	site := make(htmldoc.Site, len(s.Pages)+len(s.PageFiles))
	for u, page := range s.Pages {
		site[u] = page
	}
	for u, file := range s.PageFiles {
		path := file
		if !filepath.IsAbs(path) && s.dir != "" {
			path = filepath.Join(s.dir, file)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("page %s: %w", u, err)
		}
		site[u] = string(data)
	}
	return site, nil
}

// Playback is a ready-to-run replay: a static-page driver, a semantic
// executor answering from the scenario and a screenshot comparer.
type Playback struct {
	Driver   *htmldoc.Driver
	Semantic *ReplayExecutor
	Comparer Comparer
}

// Open builds a playback for the scenario and loads the start URL.
func (s *Scenario) Open(ctx context.Context) (*Playback, error) {
	site, err := s.Site()
	if err != nil {
		return nil, err
	}
	d := htmldoc.New(site)
	if s.StartURL != "" {
		if err := d.Navigate(ctx, s.StartURL); err != nil {
			return nil, fmt.Errorf("replay start: %w", err)
		}
	}
	return &Playback{
		Driver:   d,
		Semantic: NewReplayExecutor(s, d),
		Comparer: s.Comparer(),
	}, nil
}

// Comparer returns a screenshot comparer answering from the scenario's
// recorded verdicts.
func (s *Scenario) Comparer() Comparer {
	return Comparer{verdicts: s.Screenshots}
}

// ReplayExecutor implements semantic.Executor using canned scenario
// replies. It consumes replies in order.
type ReplayExecutor struct {
	scenario *Scenario
	driver   *htmldoc.Driver

	mu       sync.Mutex
	consumed int
	seen     []string
}

// NewReplayExecutor creates a replay executor. Replies with a navigate
// target are applied to d, which may be nil.
func NewReplayExecutor(s *Scenario, d *htmldoc.Driver) *ReplayExecutor {
	return &ReplayExecutor{scenario: s, driver: d}
}

// Execute returns the next canned reply.
func (r *ReplayExecutor) Execute(ctx context.Context, instruction string) (semantic.Result, error) {
	r.mu.Lock()
	r.seen = append(r.seen, instruction)
	idx := r.consumed
	if idx >= len(r.scenario.Semantic) {
		r.mu.Unlock()
		return semantic.Result{}, fmt.Errorf("replay: exhausted semantic replies (used %d) at %q", idx, instruction)
	}
	reply := r.scenario.Semantic[idx]
	r.consumed++
	r.mu.Unlock()

	if reply.Match != "" && !strings.Contains(instruction, reply.Match) {
		return semantic.Result{}, fmt.Errorf("replay: reply %d expects an instruction containing %q, got %q", idx, reply.Match, instruction)
	}
	if reply.Navigate != "" && r.driver != nil {
		if err := r.driver.Navigate(ctx, reply.Navigate); err != nil {
			return semantic.Result{Success: false, Error: err.Error()}, nil
		}
	}
	return semantic.Result{Success: reply.Success, Error: reply.Error, Data: reply.Data}, nil
}

// Instructions returns every instruction received, in order.
func (r *ReplayExecutor) Instructions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

// Remaining reports how many canned replies were never consumed.
func (r *ReplayExecutor) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.scenario.Semantic) - r.consumed
}

// Comparer answers screenshot comparisons from the scenario's verdicts.
type Comparer struct {
	verdicts map[string]bool
}

// Compare implements driver.ScreenshotComparer. References without a
// verdict are an error.
func (c Comparer) Compare(_ context.Context, _ []byte, reference string) (bool, error) {
	v, ok := c.verdicts[reference]
	if !ok {
		return false, fmt.Errorf("replay: no screenshot verdict for %q", reference)
	}
	return v, nil
}
