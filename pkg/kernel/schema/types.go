// Package schema defines the intent spec document: a named, parameterised
// sequence of browser steps, each with a deterministic and a semantic way
// of being carried out.
package schema

import (
	"fmt"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
)

// Defaults applied during normalisation.
const (
	DefaultTimeoutMs          = 10000
	DefaultPreflightTimeoutMs = 5000
	DefaultNavigateRetries    = 3
	DefaultNavigateBackoffMs  = 2000
	DefaultWaitDelayMs        = 1000
)

// ---------------------------------------------------------------------------
// Intent Spec
// ---------------------------------------------------------------------------

// IntentSpec is the top-level document.
type IntentSpec struct {
	Name        string       `yaml:"name"                  json:"name"`
	Description string       `yaml:"description,omitempty" json:"description,omitempty"`
	URL         string       `yaml:"url,omitempty"         json:"url,omitempty"`
	Params      []string     `yaml:"params,omitempty"      json:"params,omitempty"`
	Preferences *Preferences `yaml:"preferences,omitempty" json:"preferences,omitempty"`
	Steps       []Step       `yaml:"steps"                 json:"steps"`

	// Adjustments records what normalisation changed; validation reports
	// them as warnings.
	Adjustments []Adjustment `yaml:"-" json:"-"`
}

// Preferences holds spec-wide defaults for optional step fields.
type Preferences struct {
	DefaultPrefer     Path `yaml:"defaultPrefer,omitempty"     json:"defaultPrefer,omitempty" jsonschema:"enum=snippet,enum=ai"`
	DefaultFallback   Path `yaml:"defaultFallback,omitempty"   json:"defaultFallback,omitempty" jsonschema:"enum=snippet,enum=ai,enum=none"`
	TimeoutMs         int  `yaml:"timeoutMs,omitempty"         json:"timeoutMs,omitempty" jsonschema:"minimum=0"`
	NavigateRetries   int  `yaml:"navigateRetries,omitempty"   json:"navigateRetries,omitempty" jsonschema:"minimum=0"`
	NavigateBackoffMs int  `yaml:"navigateBackoffMs,omitempty" json:"navigateBackoffMs,omitempty" jsonschema:"minimum=0"`
	RetryDelayMs      int  `yaml:"retryDelayMs,omitempty"      json:"retryDelayMs,omitempty" jsonschema:"minimum=0"`
}

// Adjustment describes one change made by Normalize.
type Adjustment struct {
	Path    string
	Message string
}

// ---------------------------------------------------------------------------
// Paths
// ---------------------------------------------------------------------------

// Path names one of the two ways of carrying out a step.
type Path string

const (
	PathSnippet Path = "snippet" // deterministic: locators + action primitives
	PathAI      Path = "ai"      // semantic: natural-language instruction
	PathNone    Path = "none"    // no fallback
)

// Other returns the opposite execution path.
func (p Path) Other() Path {
	switch p {
	case PathSnippet:
		return PathAI
	case PathAI:
		return PathSnippet
	default:
		return PathNone
	}
}

// ---------------------------------------------------------------------------
// Action
// ---------------------------------------------------------------------------

// Action is the closed set of step actions. It is resolved from its text
// form when the document is decoded, so an unknown action fails loading.
type Action uint8

const (
	ActionUnknown Action = iota
	ActionNavigate
	ActionClick
	ActionFill
	ActionSelectOption
	ActionWait
)

var actionNames = map[Action]string{
	ActionNavigate:     "navigate",
	ActionClick:        "click",
	ActionFill:         "fill",
	ActionSelectOption: "selectOption",
	ActionWait:         "wait",
}

// Actions lists the valid actions in declaration order.
func Actions() []Action {
	return []Action{ActionNavigate, ActionClick, ActionFill, ActionSelectOption, ActionWait}
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("action(%d)", uint8(a))
}

// ParseAction resolves an action name.
func ParseAction(s string) (Action, error) {
	for a, name := range actionNames {
		if name == s {
			return a, nil
		}
	}
	return ActionUnknown, fmt.Errorf("unknown action %q (want one of %s)", s, strings.Join(actionList(), ", "))
}

func (a Action) MarshalText() ([]byte, error) {
	name, ok := actionNames[a]
	if !ok {
		return nil, fmt.Errorf("cannot marshal %s", a)
	}
	return []byte(name), nil
}

func (a *Action) UnmarshalText(b []byte) error {
	parsed, err := ParseAction(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// JSONSchema describes Action as a string enum.
func (Action) JSONSchema() *jsonschema.Schema {
	s := &jsonschema.Schema{Type: "string", Description: "Step action"}
	for _, name := range actionList() {
		s.Enum = append(s.Enum, name)
	}
	return s
}

// NeedsElement reports whether the action operates on a located element.
func (a Action) NeedsElement() bool {
	return a == ActionClick || a == ActionFill || a == ActionSelectOption
}

// NeedsValue reports whether the action requires Step.Value.
func (a Action) NeedsValue() bool {
	return a == ActionNavigate || a == ActionFill || a == ActionSelectOption
}

func actionList() []string {
	out := make([]string, 0, len(actionNames))
	for _, a := range Actions() {
		out = append(out, actionNames[a])
	}
	return out
}

// ---------------------------------------------------------------------------
// Step
// ---------------------------------------------------------------------------

// Step is one unit of work in an intent spec.
type Step struct {
	Name            string           `yaml:"name"                      json:"name"`
	Prefer          Path             `yaml:"prefer,omitempty"          json:"prefer,omitempty" jsonschema:"enum=snippet,enum=ai"`
	Fallback        Path             `yaml:"fallback,omitempty"        json:"fallback,omitempty" jsonschema:"enum=snippet,enum=ai,enum=none"`
	Locators        []string         `yaml:"locators,omitempty"        json:"locators,omitempty"`
	Target          *Target          `yaml:"target,omitempty"          json:"target,omitempty"`
	Action          Action           `yaml:"action"                    json:"action"`
	Value           string           `yaml:"value,omitempty"           json:"value,omitempty"`
	Instruction     string           `yaml:"instruction,omitempty"     json:"instruction,omitempty"`
	TimeoutMs       int              `yaml:"timeoutMs,omitempty"       json:"timeoutMs,omitempty" jsonschema:"minimum=0"`
	Wait            *WaitCondition   `yaml:"wait,omitempty"            json:"wait,omitempty"`
	PreFlightChecks []PreFlightCheck `yaml:"preFlightChecks,omitempty" json:"preFlightChecks,omitempty"`
	SkipConditions  []SkipCondition  `yaml:"skipConditions,omitempty"  json:"skipConditions,omitempty"`
	Validation      *Validation      `yaml:"validation,omitempty"      json:"validation,omitempty"`
	ErrorHandling   *ErrorHandling   `yaml:"errorHandling,omitempty"   json:"errorHandling,omitempty"`
}

// Target describes the element a step acts on in human terms. The resolver
// falls back to it after explicit locators are exhausted.
type Target struct {
	Text string `yaml:"text,omitempty" json:"text,omitempty"`
	Role string `yaml:"role,omitempty" json:"role,omitempty"`
}

// WaitKind selects what a wait step waits for.
type WaitKind string

const (
	WaitVisible    WaitKind = "visible"
	WaitHidden     WaitKind = "hidden"
	WaitURLMatches WaitKind = "urlMatches"
	WaitLoad       WaitKind = "load"
	WaitDelay      WaitKind = "delay"
)

// WaitCondition is the condition of a wait action.
type WaitCondition struct {
	Kind      WaitKind `yaml:"kind"                json:"kind" jsonschema:"enum=visible,enum=hidden,enum=urlMatches,enum=load,enum=delay"`
	Value     string   `yaml:"value,omitempty"     json:"value,omitempty"`
	TimeoutMs int      `yaml:"timeoutMs,omitempty" json:"timeoutMs,omitempty" jsonschema:"minimum=0"`
}

// PreFlightCheck asserts that an element is present before a step runs.
type PreFlightCheck struct {
	Locator      string   `yaml:"locator"                json:"locator"`
	Required     bool     `yaml:"required,omitempty"     json:"required,omitempty"`
	Alternatives []string `yaml:"alternatives,omitempty" json:"alternatives,omitempty"`
	WaitFor      bool     `yaml:"waitFor,omitempty"      json:"waitFor,omitempty"`
	Timeout      int      `yaml:"timeout,omitempty"      json:"timeout,omitempty" jsonschema:"minimum=0"` // milliseconds
}

// Locators returns the check's locator followed by its alternatives.
func (c PreFlightCheck) Locators() []string {
	out := make([]string, 0, 1+len(c.Alternatives))
	out = append(out, c.Locator)
	return append(out, c.Alternatives...)
}

// SkipKind selects how a skip condition is evaluated.
type SkipKind string

const (
	SkipURLMatches    SkipKind = "urlMatches"
	SkipElementExists SkipKind = "elementExists"
	SkipExpression    SkipKind = "expression"
)

// SkipCondition skips the step when it holds.
type SkipCondition struct {
	Kind   SkipKind `yaml:"kind"             json:"kind" jsonschema:"enum=urlMatches,enum=elementExists,enum=expression"`
	Value  string   `yaml:"value"            json:"value"`
	Reason string   `yaml:"reason,omitempty" json:"reason,omitempty"`
}

// ValidationKind selects how a step's result is checked.
type ValidationKind string

const (
	ValidateElementExists     ValidationKind = "elementExists"
	ValidateTextEquals        ValidationKind = "textEquals"
	ValidateURLMatches        ValidationKind = "urlMatches"
	ValidateScreenshotMatches ValidationKind = "screenshotMatches"
)

// Validation is the post-condition of a step.
type Validation struct {
	Kind              ValidationKind `yaml:"kind"                        json:"kind" jsonschema:"enum=elementExists,enum=textEquals,enum=urlMatches,enum=screenshotMatches"`
	Locator           string         `yaml:"locator,omitempty"           json:"locator,omitempty"`
	Expected          string         `yaml:"expected,omitempty"          json:"expected,omitempty"`
	ContinueOnFailure bool           `yaml:"continueOnFailure,omitempty" json:"continueOnFailure,omitempty"`
}

// ErrorHandling configures the retry envelope of a step.
type ErrorHandling struct {
	Retries             int      `yaml:"retries,omitempty"             json:"retries,omitempty" jsonschema:"minimum=0"`
	RetryDelayMs        int      `yaml:"retryDelayMs,omitempty"        json:"retryDelayMs,omitempty" jsonschema:"minimum=0"`
	SkipOnError         bool     `yaml:"skipOnError,omitempty"         json:"skipOnError,omitempty"`
	AlternativeLocators []string `yaml:"alternativeLocators,omitempty" json:"alternativeLocators,omitempty"`
}

// ---------------------------------------------------------------------------
// Step accessors (valid after Normalize)
// ---------------------------------------------------------------------------

// SnippetLocators returns the step's locators followed by its alternative
// locators, in the order the resolver must try them.
func (s *Step) SnippetLocators() []string {
	out := make([]string, 0, len(s.Locators))
	out = append(out, s.Locators...)
	if s.ErrorHandling != nil {
		out = append(out, s.ErrorHandling.AlternativeLocators...)
	}
	return out
}

// Attempts returns how many times the primary path may be tried.
func (s *Step) Attempts() int {
	if s.ErrorHandling == nil || s.ErrorHandling.Retries < 1 {
		return 1
	}
	return s.ErrorHandling.Retries
}

// RetryDelay is the pause between primary attempts.
func (s *Step) RetryDelay() time.Duration {
	if s.ErrorHandling == nil {
		return 0
	}
	return time.Duration(s.ErrorHandling.RetryDelayMs) * time.Millisecond
}

// SkipOnError reports whether a failure of this step lets the run continue.
func (s *Step) SkipOnError() bool {
	return s.ErrorHandling != nil && s.ErrorHandling.SkipOnError
}

// Timeout is the per-primitive timeout of the step.
func (s *Step) Timeout() time.Duration {
	if s.TimeoutMs <= 0 {
		return DefaultTimeoutMs * time.Millisecond
	}
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// TemplatedText returns every field that may contain {{KEY}} placeholders.
func (s *Step) TemplatedText() []string {
	out := []string{s.Value, s.Instruction}
	if s.Validation != nil {
		out = append(out, s.Validation.Expected)
	}
	for _, sc := range s.SkipConditions {
		out = append(out, sc.Value)
	}
	if s.Wait != nil {
		out = append(out, s.Wait.Value)
	}
	return out
}
