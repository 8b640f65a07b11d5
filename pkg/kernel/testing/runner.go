package testing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ormasoftchile/intentrun/pkg/kernel/engine"
	"github.com/ormasoftchile/intentrun/pkg/kernel/eval"
	"github.com/ormasoftchile/intentrun/pkg/kernel/replay"
	"github.com/ormasoftchile/intentrun/pkg/kernel/schema"
	"github.com/ormasoftchile/intentrun/pkg/kernel/trace"
	"github.com/ormasoftchile/intentrun/pkg/kernel/validate"
)

// Scenario test statuses.
const (
	TestPassed  = "passed"
	TestFailed  = "failed"
	TestSkipped = "skipped"
	TestError   = "error"
)

// TestResult is the result of running one scenario.
type TestResult struct {
	SpecName     string            `json:"spec_name"`
	ScenarioName string            `json:"scenario_name"`
	Status       string            `json:"status"` // passed, failed, skipped, error
	DurationMs   int64             `json:"duration_ms"`
	Assertions   []AssertionResult `json:"assertions,omitempty"`
	Outcomes     []engine.Outcome  `json:"outcomes,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// TestSummary aggregates counts across scenarios.
type TestSummary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// TestOutput is the top-level output of a test run.
type TestOutput struct {
	Spec      string       `json:"spec"`
	Scenarios []TestResult `json:"scenarios"`
	Summary   TestSummary  `json:"summary"`
}

// Runner executes scenario-based tests against an intent spec.
type Runner struct {
	Timeout  time.Duration
	FailFast bool
	Logger   *slog.Logger
	// Cache is shared by every scenario run; nil gets a private one.
	Cache *eval.Cache
}

// ScenarioInfo describes a discovered scenario directory.
type ScenarioInfo struct {
	Name string
	Dir  string
}

// DiscoverScenarios finds scenario directories for a spec.
// Convention: scenarios are in a sibling `scenarios/<spec-name>/` directory,
// each subdirectory containing a `scenario.yaml`.
func DiscoverScenarios(specPath string) ([]ScenarioInfo, error) {
	scenariosDir := scenariosDir(specPath)
	entries, err := os.ReadDir(scenariosDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read scenarios dir: %w", err)
	}

	var scenarios []ScenarioInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		scenarioFile := filepath.Join(scenariosDir, entry.Name(), "scenario.yaml")
		if _, err := os.Stat(scenarioFile); err == nil {
			scenarios = append(scenarios, ScenarioInfo{
				Name: entry.Name(),
				Dir:  filepath.Join(scenariosDir, entry.Name()),
			})
		}
	}
	return scenarios, nil
}

// ScenarioDir returns the directory of the named scenario of a spec.
func ScenarioDir(specPath, name string) string {
	return filepath.Join(scenariosDir(specPath), name)
}

func scenariosDir(specPath string) string {
	dir := filepath.Dir(specPath)
	base := strings.TrimSuffix(filepath.Base(specPath), filepath.Ext(specPath))
	return filepath.Join(dir, "scenarios", base)
}

// RunAll discovers and runs all scenarios for a spec.
func (r *Runner) RunAll(ctx context.Context, specPath string) (*TestOutput, error) {
	scenarios, err := DiscoverScenarios(specPath)
	if err != nil {
		return nil, err
	}
	spec, err := loadValid(specPath)
	if err != nil {
		return nil, err
	}

	output := &TestOutput{Spec: spec.Name}
	for _, si := range scenarios {
		result := r.runScenario(ctx, spec, si)
		output.Scenarios = append(output.Scenarios, result)

		switch result.Status {
		case TestPassed:
			output.Summary.Passed++
		case TestFailed:
			output.Summary.Failed++
		case TestSkipped:
			output.Summary.Skipped++
		case TestError:
			output.Summary.Errors++
		}
		output.Summary.Total++

		if r.FailFast && (result.Status == TestFailed || result.Status == TestError) {
			break
		}
	}
	return output, nil
}

// RunScenario runs a single named scenario.
func (r *Runner) RunScenario(ctx context.Context, specPath, scenarioName string) (*TestResult, error) {
	spec, err := loadValid(specPath)
	if err != nil {
		return nil, err
	}
	si := ScenarioInfo{Name: scenarioName, Dir: ScenarioDir(specPath, scenarioName)}
	result := r.runScenario(ctx, spec, si)
	return &result, nil
}

func loadValid(specPath string) (*schema.IntentSpec, error) {
	spec, valErrs := validate.ValidateFile(specPath)
	if validate.HasErrors(valErrs) {
		errs, _ := validate.Split(valErrs)
		return nil, fmt.Errorf("spec validation failed: %s", errs[0])
	}
	return spec, nil
}

// runScenario executes a single scenario and evaluates its test spec.
func (r *Runner) runScenario(ctx context.Context, spec *schema.IntentSpec, si ScenarioInfo) TestResult {
	start := time.Now()
	result := TestResult{SpecName: spec.Name, ScenarioName: si.Name}
	finish := func(status, msg string) TestResult {
		result.Status = status
		result.Error = msg
		result.DurationMs = time.Since(start).Milliseconds()
		return result
	}

	scenario, err := replay.LoadScenarioDir(si.Dir)
	if err != nil {
		return finish(TestError, fmt.Sprintf("load scenario: %s", err))
	}

	// Load test spec (optional: if missing, the scenario is skipped)
	testSpecPath := filepath.Join(si.Dir, "test.yaml")
	if _, err := os.Stat(testSpecPath); err != nil {
		return finish(TestSkipped, "")
	}
	ts, err := LoadTestSpec(testSpecPath)
	if err != nil {
		return finish(TestError, fmt.Sprintf("load test spec: %s", err))
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	pb, err := scenario.Open(ctx)
	if err != nil {
		return finish(TestError, err.Error())
	}

	runID := "test-" + si.Name
	var traceBuf bytes.Buffer
	tw := trace.NewWriter(&traceBuf, runID)

	runner := engine.New(engine.Config{
		RunID:    runID,
		Driver:   pb.Driver,
		Semantic: pb.Semantic,
		Comparer: pb.Comparer,
		Trace:    tw,
		Logger:   r.Logger,
		Cache:    r.Cache,
		Sleep:    replaySleep,
	})
	res := runner.Run(ctx, spec, scenario.Vars)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return finish(TestError, "timeout")
	}
	result.Outcomes = res.Outcomes

	run := &RunResult{
		Status:       res.Status,
		Outcomes:     res.Outcomes,
		Instructions: pb.Semantic.Instructions(),
		Error:        res.Error,
	}
	result.Assertions = Evaluate(ts, run)

	if vr, err := trace.Verify(&traceBuf); err != nil || !vr.Valid {
		result.Assertions = append(result.Assertions, AssertionResult{
			Type:     "trace_integrity",
			Expected: "valid",
			Actual:   "broken",
			Message:  "trace chain does not verify",
		})
	}

	if HasFailures(result.Assertions) {
		return finish(TestFailed, "")
	}
	return finish(TestPassed, "")
}

// replaySleep skips retry delays; replayed pages never change while
// waiting.
func replaySleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}
