// Package testing implements the scenario-based test harness. It replays
// intent specs against canned scenarios and evaluates assertions on the
// resulting step outcomes.
package testing

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ormasoftchile/intentrun/pkg/kernel/engine"
)

// TestSpec declares what to assert about a scenario replay result.
// All fields are optional; omitted fields produce no assertions.
type TestSpec struct {
	Description    string                     `yaml:"description,omitempty" json:"description,omitempty"`
	ExpectedStatus string                     `yaml:"expected_status,omitempty" json:"expected_status,omitempty"` // completed, failed, error, cancelled
	ExpectedSteps  map[string]StepExpectation `yaml:"expected_steps,omitempty" json:"expected_steps,omitempty"`
	MustSkip       []string                   `yaml:"must_skip,omitempty" json:"must_skip,omitempty"`       // steps that must be skipped
	MustNotRun     []string                   `yaml:"must_not_run,omitempty" json:"must_not_run,omitempty"` // steps with no outcome at all
	MaxAttempts    int                        `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty"` // upper bound for every step
	// ExpectedInstructions are matched, in order, against the
	// instructions sent to the semantic executor.
	ExpectedInstructions []string `yaml:"expected_instructions,omitempty" json:"expected_instructions,omitempty"`
	Tags                 []string `yaml:"tags,omitempty" json:"tags,omitempty"`
}

// StepExpectation constrains one step's outcome.
type StepExpectation struct {
	Status    string `yaml:"status,omitempty" json:"status,omitempty"`
	Path      string `yaml:"path,omitempty" json:"path,omitempty"`
	Fallback  *bool  `yaml:"fallback,omitempty" json:"fallback,omitempty"`
	Attempts  int    `yaml:"attempts,omitempty" json:"attempts,omitempty"`
	ErrorKind string `yaml:"error_kind,omitempty" json:"error_kind,omitempty"`
	// Error is an exact message or a /regex/.
	Error string `yaml:"error,omitempty" json:"error,omitempty"`
}

// LoadTestSpec loads a test spec from a YAML file.
func LoadTestSpec(path string) (*TestSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read test spec: %w", err)
	}
	return ParseTestSpec(data)
}

// ParseTestSpec parses test spec YAML.
func ParseTestSpec(data []byte) (*TestSpec, error) {
	var s TestSpec
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse test spec: %w", err)
	}
	return &s, nil
}

// RunResult captures execution data for assertion evaluation.
type RunResult struct {
	Status       string
	Outcomes     []engine.Outcome
	Instructions []string
	Error        error
}

func (r *RunResult) outcome(step string) (engine.Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.StepName == step {
			return o, true
		}
	}
	return engine.Outcome{}, false
}

// AssertionResult is the result of a single assertion.
type AssertionResult struct {
	Type     string `json:"type"` // expected_status, expected_step, must_skip, etc.
	Key      string `json:"key,omitempty"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Passed   bool   `json:"passed"`
	Message  string `json:"message,omitempty"`
}

// Evaluate runs all assertions from a TestSpec against a RunResult.
func Evaluate(spec *TestSpec, run *RunResult) []AssertionResult {
	var results []AssertionResult

	if spec.ExpectedStatus != "" {
		results = append(results, AssertionResult{
			Type:     "expected_status",
			Expected: spec.ExpectedStatus,
			Actual:   run.Status,
			Passed:   run.Status == spec.ExpectedStatus,
			Message:  fmt.Sprintf("status: expected %q, got %q", spec.ExpectedStatus, run.Status),
		})
	}

	names := make([]string, 0, len(spec.ExpectedSteps))
	for name := range spec.ExpectedSteps {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		results = append(results, evaluateStep(name, spec.ExpectedSteps[name], run)...)
	}

	for _, name := range spec.MustSkip {
		o, ok := run.outcome(name)
		actual := "not run"
		if ok {
			actual = string(o.Status)
		}
		results = append(results, AssertionResult{
			Type:     "must_skip",
			Key:      name,
			Expected: string(engine.StatusSkipped),
			Actual:   actual,
			Passed:   ok && o.Skipped,
			Message:  fmt.Sprintf("must_skip %q: %s", name, actual),
		})
	}

	for _, name := range spec.MustNotRun {
		o, ok := run.outcome(name)
		actual := "not run"
		if ok {
			actual = string(o.Status)
		}
		results = append(results, AssertionResult{
			Type:     "must_not_run",
			Key:      name,
			Expected: "not run",
			Actual:   actual,
			Passed:   !ok,
			Message:  fmt.Sprintf("must_not_run %q: %s", name, actual),
		})
	}

	if spec.MaxAttempts > 0 {
		for _, o := range run.Outcomes {
			if o.StepName == engine.CancelledStepName {
				continue
			}
			results = append(results, AssertionResult{
				Type:     "max_attempts",
				Key:      o.StepName,
				Expected: "<= " + strconv.Itoa(spec.MaxAttempts),
				Actual:   strconv.Itoa(o.Attempts),
				Passed:   o.Attempts <= spec.MaxAttempts,
				Message:  fmt.Sprintf("max_attempts %q: %d of %d", o.StepName, o.Attempts, spec.MaxAttempts),
			})
		}
	}

	if len(spec.ExpectedInstructions) > 0 {
		passed := len(run.Instructions) == len(spec.ExpectedInstructions)
		for i := 0; passed && i < len(run.Instructions); i++ {
			passed = compareValue(spec.ExpectedInstructions[i], run.Instructions[i])
		}
		results = append(results, AssertionResult{
			Type:     "expected_instructions",
			Expected: strings.Join(spec.ExpectedInstructions, " | "),
			Actual:   strings.Join(run.Instructions, " | "),
			Passed:   passed,
			Message:  fmt.Sprintf("instructions: expected %d, got %d", len(spec.ExpectedInstructions), len(run.Instructions)),
		})
	}

	return results
}

func evaluateStep(name string, want StepExpectation, run *RunResult) []AssertionResult {
	o, ok := run.outcome(name)
	if !ok {
		return []AssertionResult{{
			Type:     "expected_step",
			Key:      name,
			Expected: "outcome",
			Actual:   "not run",
			Message:  fmt.Sprintf("step %q: no outcome", name),
		}}
	}

	var results []AssertionResult
	check := func(field, expected, actual string, passed bool) {
		results = append(results, AssertionResult{
			Type:     "expected_step",
			Key:      name + "." + field,
			Expected: expected,
			Actual:   actual,
			Passed:   passed,
			Message:  fmt.Sprintf("step %q %s: expected %q, got %q", name, field, expected, actual),
		})
	}
	if want.Status != "" {
		check("status", want.Status, string(o.Status), want.Status == string(o.Status))
	}
	if want.Path != "" {
		check("path", want.Path, string(o.PathUsed), want.Path == string(o.PathUsed))
	}
	if want.Fallback != nil {
		e, a := strconv.FormatBool(*want.Fallback), strconv.FormatBool(o.FallbackOccurred)
		check("fallback", e, a, e == a)
	}
	if want.Attempts > 0 {
		e, a := strconv.Itoa(want.Attempts), strconv.Itoa(o.Attempts)
		check("attempts", e, a, e == a)
	}
	if want.ErrorKind != "" {
		check("error_kind", want.ErrorKind, string(o.ErrorKind), want.ErrorKind == string(o.ErrorKind))
	}
	if want.Error != "" {
		check("error", want.Error, o.Error, compareValue(want.Error, o.Error))
	}
	return results
}

// HasFailures returns true if any assertion failed.
func HasFailures(results []AssertionResult) bool {
	for _, r := range results {
		if !r.Passed {
			return true
		}
	}
	return false
}

// compareValue supports two match modes:
//   - /pattern/ → regex match
//   - exact string equality (default)
func compareValue(expected, actual string) bool {
	if strings.HasPrefix(expected, "/") && strings.HasSuffix(expected, "/") && len(expected) > 2 {
		re, err := regexp.Compile(expected[1 : len(expected)-1])
		if err != nil {
			return false
		}
		return re.MatchString(actual)
	}
	return expected == actual
}
