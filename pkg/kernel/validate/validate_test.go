package validate

import (
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/ormasoftchile/intentrun/pkg/kernel/schema"
)

func testdataPath(name string) string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "testdata", name)
}

func TestValidateFile_Valid(t *testing.T) {
	spec, errs := ValidateFile(testdataPath("valid.yaml"))
	errors := filterErrors(errs)
	for _, e := range errors {
		t.Errorf("unexpected error: %s", e)
	}
	if spec == nil {
		t.Fatal("expected spec, got nil")
	}
	if spec.Name != "login" || len(spec.Steps) != 3 {
		t.Errorf("spec = %s with %d steps", spec.Name, len(spec.Steps))
	}
}

func TestValidateFile_DomainRules(t *testing.T) {
	_, errs := ValidateFile(testdataPath("bad_domain.yaml"))
	errors := filterErrors(errs)

	wantMessages := []string{
		"placeholder {{TOKEN}} is not declared",
		"duplicate step name \"email\"",
		"click step needs locators, a target or an ai path",
		"navigate step requires 'value'",
		"invalid pattern",
		"invalid expression",
		"want text@<role>=<text>",
	}
	for _, want := range wantMessages {
		if !containsMessage(errors, want) {
			t.Errorf("expected error containing %q; got %v", want, errors)
		}
	}

	if !containsMessage(filterWarnings(errs), "param \"UNUSED\" is never used") {
		t.Error("expected unused param warning")
	}
}

func TestValidateFile_ErrorPaths(t *testing.T) {
	_, errs := ValidateFile(testdataPath("bad_domain.yaml"))
	for _, e := range errs {
		if strings.Contains(e.Message, "TOKEN") && e.Path != "steps[0].value" {
			t.Errorf("TOKEN error path = %q", e.Path)
		}
		if strings.Contains(e.Message, "invalid pattern") && e.Path != "steps[3].skipConditions[0].value" {
			t.Errorf("pattern error path = %q", e.Path)
		}
	}
}

func TestValidateFile_SemanticEnum(t *testing.T) {
	_, errs := ValidateFile(testdataPath("bad_semantic.yaml"))
	errors := filterErrors(errs)
	if len(errors) == 0 {
		t.Fatal("expected semantic errors")
	}
	for _, e := range errors {
		if e.Phase != PhaseSemantic {
			t.Errorf("phase = %q, want semantic (domain must not run)", e.Phase)
		}
	}
	found := false
	for _, e := range errors {
		if strings.HasPrefix(e.Path, "steps[0].validation") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an error under steps[0].validation, got %v", errors)
	}
}

func TestValidateFile_UnknownField(t *testing.T) {
	spec, errs := ValidateFile(testdataPath("unknown_field.yaml"))
	if spec != nil {
		t.Error("expected nil spec")
	}
	if len(errs) != 1 || errs[0].Phase != PhaseStructural {
		t.Fatalf("errs = %v", errs)
	}
	if !strings.Contains(errs[0].Message, "locaters") {
		t.Errorf("message = %q", errs[0].Message)
	}
}

func TestValidateFile_AdjustmentWarning(t *testing.T) {
	spec, errs := ValidateFile(testdataPath("same_paths.json"))
	if HasErrors(errs) {
		t.Fatalf("unexpected errors: %v", filterErrors(errs))
	}
	if spec.Steps[0].Fallback != schema.PathAI {
		t.Errorf("fallback = %q", spec.Steps[0].Fallback)
	}
	w := filterWarnings(errs)
	if !containsMessage(w, "fallback equals prefer") {
		t.Errorf("warnings = %v", w)
	}
}

func TestValidateFile_NotFound(t *testing.T) {
	_, errs := ValidateFile(testdataPath("nonexistent.yaml"))
	if len(errs) == 0 {
		t.Fatal("expected error for nonexistent file")
	}
	if errs[0].Phase != PhaseStructural {
		t.Errorf("expected structural error, got %q", errs[0].Phase)
	}
}

func TestValidateBytes(t *testing.T) {
	doc := []byte(`
name: ai-only
steps:
  - name: pick plan
    prefer: ai
    fallback: none
    action: selectOption
    value: Pro
`)
	spec, errs := ValidateBytes(doc)
	if HasErrors(errs) {
		t.Fatalf("errors: %v", errs)
	}
	if spec.Steps[0].Prefer != schema.PathAI {
		t.Errorf("prefer = %q", spec.Steps[0].Prefer)
	}
	if !containsMessage(filterWarnings(errs), "will be synthesized") {
		t.Errorf("expected synthesized-instruction warning, got %v", errs)
	}
}

func TestValidateSpec_WaitAndValidation(t *testing.T) {
	spec := &schema.IntentSpec{
		Name: "waits",
		Steps: []schema.Step{
			{Name: "pause", Action: schema.ActionWait, Wait: &schema.WaitCondition{Kind: schema.WaitDelay, Value: "soon"}},
			{Name: "spin", Action: schema.ActionWait, Wait: &schema.WaitCondition{Kind: schema.WaitHidden}},
			{Name: "read", Action: schema.ActionClick, Locators: []string{"#go"},
				Validation: &schema.Validation{Kind: schema.ValidateScreenshotMatches}},
		},
	}
	schema.Normalize(spec)
	errors := filterErrors(ValidateSpec(spec))
	for _, want := range []string{"delay must be", "wait hidden needs a locator", "screenshotMatches requires"} {
		if !containsMessage(errors, want) {
			t.Errorf("missing %q in %v", want, errors)
		}
	}
}

func TestSplit(t *testing.T) {
	all := []*ValidationError{
		errorf(PhaseDomain, "a", "bad"),
		warningf(PhaseDomain, "b", "meh"),
	}
	errs, warns := Split(all)
	if len(errs) != 1 || len(warns) != 1 {
		t.Errorf("split = %d/%d", len(errs), len(warns))
	}
	if got := errs[0].Error(); got != "[domain] bad at a" {
		t.Errorf("Error() = %q", got)
	}
}

// --- helpers ---

func filterErrors(errs []*ValidationError) []*ValidationError {
	out, _ := Split(errs)
	return out
}

func filterWarnings(errs []*ValidationError) []*ValidationError {
	_, out := Split(errs)
	return out
}

func containsMessage(errs []*ValidationError, substr string) bool {
	for _, e := range errs {
		if strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}
