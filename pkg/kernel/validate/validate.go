// Package validate implements the 3-phase validation pipeline for intent
// specs: structural → semantic → domain.
package validate

import (
	"bytes"
	"fmt"

	"github.com/ormasoftchile/intentrun/pkg/kernel/schema"
)

// Phases.
const (
	PhaseStructural = "structural"
	PhaseSemantic   = "semantic"
	PhaseDomain     = "domain"
)

// Severities.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// ValidationError represents one error or warning from the validation pipeline.
type ValidationError struct {
	Phase    string `json:"phase"` // structural, semantic, domain
	Path     string `json:"path"`  // JSON-path-like location
	Message  string `json:"message"`
	Severity string `json:"severity"` // error, warning
}

func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("[%s] %s at %s", e.Phase, e.Message, e.Path)
	}
	return fmt.Sprintf("[%s] %s", e.Phase, e.Message)
}

func errorf(phase, path, msg string, args ...any) *ValidationError {
	return &ValidationError{Phase: phase, Path: path, Message: fmt.Sprintf(msg, args...), Severity: SeverityError}
}

func warningf(phase, path, msg string, args ...any) *ValidationError {
	return &ValidationError{Phase: phase, Path: path, Message: fmt.Sprintf(msg, args...), Severity: SeverityWarning}
}

// ValidateFile runs the full 3-phase pipeline on an intent spec file.
func ValidateFile(path string) (*schema.IntentSpec, []*ValidationError) {
	spec, err := schema.LoadFile(path)
	if err != nil {
		return nil, []*ValidationError{errorf(PhaseStructural, "", "failed to load: %s", err)}
	}
	return spec, ValidateSpec(spec)
}

// ValidateBytes runs the full pipeline on an in-memory YAML or JSON document.
func ValidateBytes(data []byte) (*schema.IntentSpec, []*ValidationError) {
	spec, err := schema.Load(bytes.NewReader(data))
	if err != nil {
		return nil, []*ValidationError{errorf(PhaseStructural, "", "failed to load: %s", err)}
	}
	return spec, ValidateSpec(spec)
}

// ValidateSpec runs phases 2+3 on an already-loaded spec. Domain rules are
// skipped when the semantic phase reports errors.
func ValidateSpec(spec *schema.IntentSpec) []*ValidationError {
	errs := validateSemantic(spec)
	if HasErrors(errs) {
		return errs
	}
	return append(errs, validateDomain(spec)...)
}

// HasErrors reports whether any entry has error severity.
func HasErrors(errs []*ValidationError) bool {
	for _, e := range errs {
		if e.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Split separates errors from warnings.
func Split(all []*ValidationError) (errs, warnings []*ValidationError) {
	for _, e := range all {
		if e.Severity == SeverityError {
			errs = append(errs, e)
		} else {
			warnings = append(warnings, e)
		}
	}
	return errs, warnings
}
