package validate

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/ormasoftchile/intentrun/pkg/kernel/eval"
	"github.com/ormasoftchile/intentrun/pkg/kernel/locator"
	"github.com/ormasoftchile/intentrun/pkg/kernel/schema"
)

// validateDomain runs the hand-coded rules the JSON Schema cannot express.
func validateDomain(spec *schema.IntentSpec) []*ValidationError {
	var errs []*ValidationError

	if spec.Name == "" {
		errs = append(errs, errorf(PhaseDomain, "name", "name is required"))
	}
	if len(spec.Steps) == 0 {
		errs = append(errs, errorf(PhaseDomain, "steps", "at least one step is required"))
	}

	errs = append(errs, validateParams(spec)...)

	seen := make(map[string]int, len(spec.Steps))
	for i := range spec.Steps {
		step := &spec.Steps[i]
		path := stepPath(i)
		if step.Name == "" {
			errs = append(errs, errorf(PhaseDomain, path+".name", "step name is required"))
		} else if first, dup := seen[step.Name]; dup {
			errs = append(errs, errorf(PhaseDomain, path+".name", "duplicate step name %q (first used by %s)", step.Name, stepPath(first)))
		} else {
			seen[step.Name] = i
		}
		errs = append(errs, validateStep(step, path)...)
	}

	for _, adj := range spec.Adjustments {
		errs = append(errs, warningf(PhaseDomain, adj.Path, "%s", adj.Message))
	}
	return errs
}

// validateParams checks that every placeholder is declared and every
// declared param is used.
func validateParams(spec *schema.IntentSpec) []*ValidationError {
	var errs []*ValidationError

	declared := make(map[string]bool, len(spec.Params))
	for i, p := range spec.Params {
		if declared[p] {
			errs = append(errs, errorf(PhaseDomain, fmt.Sprintf("params[%d]", i), "duplicate param %q", p))
		}
		declared[p] = true
	}

	used := make(map[string]bool)
	check := func(path, text string) {
		for _, name := range eval.Placeholders(text) {
			used[name] = true
			if !declared[name] {
				errs = append(errs, errorf(PhaseDomain, path, "placeholder {{%s}} is not declared in params", name))
			}
		}
	}
	check("url", spec.URL)
	for i := range spec.Steps {
		s := &spec.Steps[i]
		path := stepPath(i)
		check(path+".value", s.Value)
		check(path+".instruction", s.Instruction)
		if s.Validation != nil {
			check(path+".validation.expected", s.Validation.Expected)
		}
		for j, sc := range s.SkipConditions {
			check(fmt.Sprintf("%s.skipConditions[%d].value", path, j), sc.Value)
		}
		if s.Wait != nil {
			check(path+".wait.value", s.Wait.Value)
		}
	}

	for i, p := range spec.Params {
		if !used[p] {
			errs = append(errs, warningf(PhaseDomain, fmt.Sprintf("params[%d]", i), "param %q is never used", p))
		}
	}
	return errs
}

func validateStep(s *schema.Step, path string) []*ValidationError {
	var errs []*ValidationError

	if s.Action.NeedsValue() && s.Value == "" {
		errs = append(errs, errorf(PhaseDomain, path+".value", "%s step requires 'value'", s.Action))
	}

	usesAI := s.Prefer == schema.PathAI || s.Fallback == schema.PathAI
	usesSnippet := s.Prefer == schema.PathSnippet || s.Fallback == schema.PathSnippet
	hasTarget := s.Target != nil && s.Target.Text != ""

	if s.Action.NeedsElement() && len(s.SnippetLocators()) == 0 && !hasTarget {
		if !usesAI {
			errs = append(errs, errorf(PhaseDomain, path+".locators", "%s step needs locators, a target or an ai path", s.Action))
		} else if usesSnippet {
			errs = append(errs, warningf(PhaseDomain, path+".locators", "snippet path has no locators and will always fail"))
		}
	}
	if usesAI && s.Instruction == "" {
		errs = append(errs, warningf(PhaseDomain, path+".instruction", "no instruction; one will be synthesized from the step name"))
	}
	if s.Target != nil && s.Target.Text == "" {
		errs = append(errs, errorf(PhaseDomain, path+".target.text", "target requires 'text'"))
	}

	for j, l := range s.Locators {
		errs = append(errs, checkLocator(fmt.Sprintf("%s.locators[%d]", path, j), l)...)
	}
	if s.ErrorHandling != nil {
		for j, l := range s.ErrorHandling.AlternativeLocators {
			errs = append(errs, checkLocator(fmt.Sprintf("%s.errorHandling.alternativeLocators[%d]", path, j), l)...)
		}
	}

	for j, pc := range s.PreFlightChecks {
		p := fmt.Sprintf("%s.preFlightChecks[%d]", path, j)
		if pc.Locator == "" {
			errs = append(errs, errorf(PhaseDomain, p+".locator", "pre-flight check requires 'locator'"))
			continue
		}
		for _, l := range pc.Locators() {
			errs = append(errs, checkLocator(p, l)...)
		}
	}

	for j, sc := range s.SkipConditions {
		p := fmt.Sprintf("%s.skipConditions[%d].value", path, j)
		switch sc.Kind {
		case schema.SkipURLMatches:
			errs = append(errs, checkPattern(p, sc.Value)...)
		case schema.SkipElementExists:
			errs = append(errs, checkLocator(p, sc.Value)...)
		case schema.SkipExpression:
			errs = append(errs, checkExpression(p, sc.Value)...)
		}
	}

	if s.Wait != nil {
		errs = append(errs, validateWait(s, path+".wait")...)
	}
	if s.Validation != nil {
		errs = append(errs, validateValidation(s, path+".validation")...)
	}
	return errs
}

func validateWait(s *schema.Step, path string) []*ValidationError {
	w := s.Wait
	switch w.Kind {
	case schema.WaitDelay:
		if hasPlaceholder(w.Value) {
			return nil
		}
		if ms, err := strconv.Atoi(w.Value); err != nil || ms < 0 {
			return []*ValidationError{errorf(PhaseDomain, path+".value", "delay must be a non-negative number of milliseconds, got %q", w.Value)}
		}
	case schema.WaitVisible, schema.WaitHidden:
		if w.Value == "" {
			if len(s.Locators) == 0 {
				return []*ValidationError{errorf(PhaseDomain, path+".value", "wait %s needs a locator", w.Kind)}
			}
			return nil
		}
		return checkLocator(path+".value", w.Value)
	case schema.WaitURLMatches:
		if w.Value == "" {
			return []*ValidationError{errorf(PhaseDomain, path+".value", "urlMatches wait requires a pattern")}
		}
		return checkPattern(path+".value", w.Value)
	}
	return nil
}

func validateValidation(s *schema.Step, path string) []*ValidationError {
	v := s.Validation
	switch v.Kind {
	case schema.ValidateElementExists:
		loc := v.Locator
		if loc == "" {
			loc = v.Expected
		}
		if loc == "" {
			return []*ValidationError{errorf(PhaseDomain, path, "elementExists requires 'locator' or 'expected'")}
		}
		return checkLocator(path, loc)
	case schema.ValidateTextEquals:
		var errs []*ValidationError
		if v.Locator == "" && len(s.SnippetLocators()) == 0 {
			errs = append(errs, errorf(PhaseDomain, path+".locator", "textEquals needs 'locator' or step locators"))
		} else if v.Locator != "" {
			errs = append(errs, checkLocator(path+".locator", v.Locator)...)
		}
		return errs
	case schema.ValidateURLMatches:
		if v.Expected == "" {
			return []*ValidationError{errorf(PhaseDomain, path+".expected", "urlMatches requires 'expected'")}
		}
		return checkPattern(path+".expected", v.Expected)
	case schema.ValidateScreenshotMatches:
		if v.Expected == "" {
			return []*ValidationError{errorf(PhaseDomain, path+".expected", "screenshotMatches requires a reference in 'expected'")}
		}
	}
	return nil
}

func checkLocator(path, expr string) []*ValidationError {
	if hasPlaceholder(expr) {
		return nil
	}
	if _, err := locator.Parse(expr); err != nil {
		return []*ValidationError{errorf(PhaseDomain, path, "%s", err)}
	}
	return nil
}

func checkPattern(path, pattern string) []*ValidationError {
	if hasPlaceholder(pattern) {
		return nil
	}
	if _, err := regexp.Compile(pattern); err != nil {
		return []*ValidationError{errorf(PhaseDomain, path, "invalid pattern %q: %s", pattern, err)}
	}
	return nil
}

func checkExpression(path, expression string) []*ValidationError {
	if hasPlaceholder(expression) {
		return nil
	}
	if _, err := eval.CompileBool(expression); err != nil {
		return []*ValidationError{errorf(PhaseDomain, path, "invalid expression: %s", err)}
	}
	return nil
}

func hasPlaceholder(s string) bool {
	return len(eval.Placeholders(s)) > 0
}

func stepPath(i int) string {
	return fmt.Sprintf("steps[%d]", i)
}
