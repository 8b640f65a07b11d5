package testing

import (
	"testing"

	"github.com/ormasoftchile/intentrun/pkg/kernel/engine"
	"github.com/ormasoftchile/intentrun/pkg/kernel/fault"
	"github.com/ormasoftchile/intentrun/pkg/kernel/schema"
)

func TestParseTestSpec(t *testing.T) {
	yaml := `
description: "renamed button"
expected_status: completed
expected_steps:
  add to cart:
    status: success
    path: ai
    fallback: true
must_skip:
  - banner
max_attempts: 3
expected_instructions:
  - /add to cart/
`
	spec, err := ParseTestSpec([]byte(yaml))
	if err != nil {
		t.Fatal(err)
	}
	if spec.ExpectedStatus != "completed" {
		t.Errorf("status = %q", spec.ExpectedStatus)
	}
	step := spec.ExpectedSteps["add to cart"]
	if step.Path != "ai" || step.Fallback == nil || !*step.Fallback {
		t.Errorf("step = %+v", step)
	}
	if len(spec.MustSkip) != 1 || spec.MaxAttempts != 3 {
		t.Errorf("must_skip = %v, max_attempts = %d", spec.MustSkip, spec.MaxAttempts)
	}
}

func sampleRun() *RunResult {
	return &RunResult{
		Status: engine.RunCompleted,
		Outcomes: []engine.Outcome{
			{StepName: "banner", Status: engine.StatusSkipped, Skipped: true, Success: true, PathUsed: schema.PathNone},
			{StepName: "email", Status: engine.StatusSuccess, Success: true, PathUsed: schema.PathSnippet, Attempts: 1},
			{StepName: "add to cart", Status: engine.StatusSuccess, Success: true, PathUsed: schema.PathAI, FallbackOccurred: true, Attempts: 2},
		},
		Instructions: []string{"click the add to cart button"},
	}
}

func TestEvaluate_AllPass(t *testing.T) {
	yes := true
	spec := &TestSpec{
		ExpectedStatus: "completed",
		ExpectedSteps: map[string]StepExpectation{
			"email":       {Status: "success", Path: "snippet"},
			"add to cart": {Status: "success", Path: "ai", Fallback: &yes, Attempts: 2},
		},
		MustSkip:             []string{"banner"},
		MustNotRun:           []string{"checkout"},
		MaxAttempts:          2,
		ExpectedInstructions: []string{"/add to cart/"},
	}

	results := Evaluate(spec, sampleRun())
	for _, r := range results {
		if !r.Passed {
			t.Errorf("unexpected failure: %s: %s", r.Type, r.Message)
		}
	}

	// status, email x2, add to cart x4, must_skip, must_not_run, 3 max_attempts, instructions
	if len(results) != 13 {
		t.Errorf("expected 13 assertions, got %d", len(results))
	}
}

func TestEvaluate_StatusMismatch(t *testing.T) {
	results := Evaluate(&TestSpec{ExpectedStatus: "failed"}, sampleRun())
	if !HasFailures(results) {
		t.Error("expected failure for status mismatch")
	}
}

func TestEvaluate_StepNotRun(t *testing.T) {
	spec := &TestSpec{ExpectedSteps: map[string]StepExpectation{"checkout": {Status: "success"}}}
	results := Evaluate(spec, sampleRun())
	if !HasFailures(results) || results[0].Actual != "not run" {
		t.Errorf("results = %+v", results)
	}
}

func TestEvaluate_MustSkipFails(t *testing.T) {
	results := Evaluate(&TestSpec{MustSkip: []string{"email", "missing"}}, sampleRun())
	for _, r := range results {
		if r.Passed {
			t.Errorf("%s should fail", r.Key)
		}
	}
}

func TestEvaluate_MustNotRunFails(t *testing.T) {
	results := Evaluate(&TestSpec{MustNotRun: []string{"email"}}, sampleRun())
	if !HasFailures(results) {
		t.Error("expected failure for must_not_run")
	}
}

func TestEvaluate_MaxAttemptsExceeded(t *testing.T) {
	results := Evaluate(&TestSpec{MaxAttempts: 1}, sampleRun())
	if !HasFailures(results) {
		t.Error("add to cart used 2 attempts")
	}
}

func TestEvaluate_MaxAttemptsIgnoresCancelled(t *testing.T) {
	run := &RunResult{Outcomes: []engine.Outcome{{StepName: engine.CancelledStepName, Status: engine.StatusCancelled}}}
	if results := Evaluate(&TestSpec{MaxAttempts: 1}, run); len(results) != 0 {
		t.Errorf("results = %+v", results)
	}
}

func TestEvaluate_ErrorKindAndMessage(t *testing.T) {
	run := &RunResult{Outcomes: []engine.Outcome{{
		StepName:  "quantity",
		Status:    engine.StatusFailed,
		Error:     "locator-not-found: no visible element for [#qty]",
		ErrorKind: fault.KindLocatorNotFound,
	}}}
	spec := &TestSpec{ExpectedSteps: map[string]StepExpectation{
		"quantity": {ErrorKind: "locator-not-found", Error: `/#qty/`},
	}}
	if results := Evaluate(spec, run); HasFailures(results) {
		t.Errorf("results = %+v", results)
	}

	spec.ExpectedSteps["quantity"] = StepExpectation{ErrorKind: "timeout"}
	if results := Evaluate(spec, run); !HasFailures(results) {
		t.Error("expected error_kind mismatch")
	}
}

func TestEvaluate_InstructionsCountMismatch(t *testing.T) {
	spec := &TestSpec{ExpectedInstructions: []string{"a", "b"}}
	if results := Evaluate(spec, sampleRun()); !HasFailures(results) {
		t.Error("expected instruction mismatch")
	}
}

func TestEvaluate_EmptySpec(t *testing.T) {
	results := Evaluate(&TestSpec{}, &RunResult{})
	if len(results) != 0 {
		t.Errorf("empty spec should produce 0 assertions, got %d", len(results))
	}
}

func TestCompareValue(t *testing.T) {
	tests := []struct {
		expected, actual string
		want             bool
	}{
		{"200", "200", true},
		{"200", "201", false},
		{`/^2\d\d$/`, "204", true},
		{`/^2\d\d$/`, "503", false},
		{`/([/`, "x", false},
	}
	for _, tt := range tests {
		if got := compareValue(tt.expected, tt.actual); got != tt.want {
			t.Errorf("compareValue(%q, %q) = %v", tt.expected, tt.actual, got)
		}
	}
}

func TestHasFailures(t *testing.T) {
	allPass := []AssertionResult{{Passed: true}, {Passed: true}}
	if HasFailures(allPass) {
		t.Error("no failures expected")
	}

	withFail := []AssertionResult{{Passed: true}, {Passed: false}}
	if !HasFailures(withFail) {
		t.Error("failure expected")
	}
}
