package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ormasoftchile/intentrun/pkg/kernel/engine"
	"github.com/ormasoftchile/intentrun/pkg/kernel/fault"
	"github.com/ormasoftchile/intentrun/pkg/kernel/schema"
	harness "github.com/ormasoftchile/intentrun/pkg/kernel/testing"
)

func failedRun() *engine.RunResult {
	return &engine.RunResult{
		RunID:  "r-1",
		Spec:   "checkout",
		Status: engine.RunFailed,
		Outcomes: []engine.Outcome{
			{StepName: "banner", Status: engine.StatusSkipped, Skipped: true, Success: true, PathUsed: schema.PathNone, SkipReason: "returning visitor"},
			{StepName: "add to cart", Status: engine.StatusSuccess, Success: true, PathUsed: schema.PathAI, FallbackOccurred: true, Attempts: 2, Duration: 1500 * time.Millisecond},
			{StepName: "pay", Status: engine.StatusFailed, PathUsed: schema.PathSnippet, Attempts: 1, Error: "locator-not-found: #pay", ErrorKind: fault.KindLocatorNotFound},
		},
		Duration: 3 * time.Second,
		Error:    errors.New(`step "pay" failed`),
	}
}

func TestWriteRun(t *testing.T) {
	var buf bytes.Buffer
	WriteRun(&buf, failedRun())
	out := buf.String()
	for _, want := range []string{
		"checkout  r-1",
		GlyphSkipped + " banner       returning visitor",
		GlyphPassed + " add to cart",
		GlyphFallback + " fallback",
		GlyphFailed + " pay",
		"locator-not-found: #pay",
		"failed in 3s, 1 fallback(s)",
		`step "pay" failed`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestWriteRun_Cancelled(t *testing.T) {
	var buf bytes.Buffer
	WriteRun(&buf, &engine.RunResult{
		Spec:     "s",
		Status:   engine.RunCancelled,
		Outcomes: []engine.Outcome{{StepName: engine.CancelledStepName, Status: engine.StatusCancelled}},
	})
	if !strings.Contains(buf.String(), GlyphCancelled+" CANCELLED") {
		t.Errorf("output:\n%s", buf.String())
	}
}

func TestWriteRunsJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteRunsJSON(&buf, []*engine.RunResult{failedRun(), {RunID: "r-2", Spec: "empty", Status: engine.RunCompleted}}); err != nil {
		t.Fatal(err)
	}
	var runs []Run
	if err := json.Unmarshal(buf.Bytes(), &runs); err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %d", len(runs))
	}
	if runs[0].Error != `step "pay" failed` || runs[0].Fallbacks != 1 || runs[0].DurationMs != 3000 {
		t.Errorf("run = %+v", runs[0])
	}
	if !strings.Contains(buf.String(), `"outcomes": []`) {
		t.Error("empty outcomes should encode as an array")
	}
}

func sampleTests() *harness.TestOutput {
	return &harness.TestOutput{
		Spec: "checkout",
		Scenarios: []harness.TestResult{
			{ScenarioName: "happy", Status: harness.TestPassed, Assertions: []harness.AssertionResult{{Type: "expected_status", Passed: true, Message: "status completed"}}},
			{ScenarioName: "renamed", Status: harness.TestFailed, Assertions: []harness.AssertionResult{{Type: "expected_step", Passed: false, Message: "add to cart.path: expected ai, got snippet"}}},
			{ScenarioName: "untested", Status: harness.TestSkipped},
		},
		Summary: harness.TestSummary{Total: 3, Passed: 1, Failed: 1, Skipped: 1},
	}
}

func TestWriteTests(t *testing.T) {
	var buf bytes.Buffer
	WriteTests(&buf, sampleTests(), false)
	out := buf.String()
	for _, want := range []string{"spec checkout", GlyphPassed + " happy", GlyphFailed + " renamed", "[expected_step] add to cart.path", "no test.yaml", "3 scenarios: 1 passed, 1 failed, 1 skipped"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Contains(out, "status completed") {
		t.Error("passing assertions should be hidden unless verbose")
	}

	buf.Reset()
	WriteTests(&buf, sampleTests(), true)
	if !strings.Contains(buf.String(), "status completed") {
		t.Error("verbose output should list passing assertions")
	}
}

func TestWriteTestsJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteTestsJSON(&buf, sampleTests()); err != nil {
		t.Fatal(err)
	}
	var got harness.TestOutput
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Summary.Failed != 1 || len(got.Scenarios) != 3 {
		t.Errorf("got %+v", got)
	}
}
