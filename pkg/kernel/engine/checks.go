package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ormasoftchile/intentrun/pkg/kernel/driver"
	"github.com/ormasoftchile/intentrun/pkg/kernel/eval"
	"github.com/ormasoftchile/intentrun/pkg/kernel/fault"
	"github.com/ormasoftchile/intentrun/pkg/kernel/locator"
	"github.com/ormasoftchile/intentrun/pkg/kernel/schema"
)

// shouldSkip evaluates the step's skip conditions in order. The first one
// that holds wins. A condition that cannot be evaluated counts as not
// holding.
func (x *StepExecutor) shouldSkip(ctx context.Context, step *schema.Step, env StepEnv) (string, bool) {
	if len(step.SkipConditions) == 0 {
		return "", false
	}
	var (
		url    string
		urlErr error
		gotURL bool
	)
	currentURL := func() (string, error) {
		if !gotURL {
			url, urlErr = x.prims.CurrentURL(ctx, step.Timeout())
			gotURL = true
		}
		return url, urlErr
	}

	for _, sc := range step.SkipConditions {
		value := env.Subst.Apply(sc.Value, env.Vars)
		held, err := x.skipHolds(ctx, step, sc.Kind, value, env, currentURL)
		if err != nil {
			x.logger.Warn("skip condition not evaluated", "step", step.Name, "kind", sc.Kind, "error", err)
			continue
		}
		if held {
			reason := sc.Reason
			if reason == "" {
				reason = fmt.Sprintf("%s %s", sc.Kind, value)
			}
			return reason, true
		}
	}
	return "", false
}

func (x *StepExecutor) skipHolds(ctx context.Context, step *schema.Step, kind schema.SkipKind, value string, env StepEnv, currentURL func() (string, error)) (bool, error) {
	switch kind {
	case schema.SkipURLMatches:
		url, err := currentURL()
		if err != nil {
			return false, err
		}
		return x.cache.MatchURL(value, url)
	case schema.SkipElementExists:
		return x.exists(ctx, step.Timeout(), value)
	case schema.SkipExpression:
		url, _ := currentURL()
		return x.cache.EvalBool(value, eval.Env{URL: url, Vars: env.Vars})
	}
	return false, fmt.Errorf("unknown skip condition %q", kind)
}

// preflight runs the step's pre-flight checks. Only a required check that
// finds none of its locators fails the step.
func (x *StepExecutor) preflight(ctx context.Context, step *schema.Step) error {
	for _, pc := range step.PreFlightChecks {
		timeout := time.Duration(pc.Timeout) * time.Millisecond
		found, err := x.probe(ctx, pc, timeout)
		if x.trace != nil {
			x.trace.EmitPreflight(step.Name, pc.Locator, pc.Required, found)
		}
		if ctx.Err() != nil {
			return fault.FromContext(ctx.Err(), "pre-flight %s", pc.Locator)
		}
		if found {
			continue
		}
		if !pc.Required {
			x.logger.Warn("optional pre-flight check failed", "step", step.Name, "locator", pc.Locator, "error", err)
			continue
		}
		msg := fmt.Sprintf("required element %s not present", pc.Locator)
		if err != nil {
			return fault.Wrap(fault.KindPreflightFailed, err, "%s", msg)
		}
		return fault.New(fault.KindPreflightFailed, "%s", msg)
	}
	return nil
}

// probe checks a pre-flight locator set once, or until timeout when the
// check waits for the element.
func (x *StepExecutor) probe(ctx context.Context, pc schema.PreFlightCheck, timeout time.Duration) (bool, error) {
	locs := pc.Locators()
	if !pc.WaitFor {
		return x.exists(ctx, timeout, locs...)
	}
	deadline := time.Now().Add(timeout)
	var lastErr error
	for {
		found, err := x.exists(ctx, timeout, locs...)
		if found {
			return true, nil
		}
		lastErr = err
		if time.Now().After(deadline) || ctx.Err() != nil {
			return false, lastErr
		}
		if err := x.sleep(ctx, preflightPoll); err != nil {
			return false, err
		}
	}
}

func (x *StepExecutor) exists(ctx context.Context, timeout time.Duration, locators ...string) (bool, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return x.resolver.Exists(ctx, locators...)
}

// validate runs the step's validation after a successful path. The result
// is recorded on out; a failed validation is an error unless the step
// continues on failure.
func (x *StepExecutor) validate(ctx context.Context, step *schema.Step, env StepEnv, match locator.Match, out *Outcome) error {
	v := step.Validation
	if v == nil {
		return nil
	}
	expected := env.Subst.Apply(v.Expected, env.Vars)
	passed, detail := x.check(ctx, step, v, expected, match)
	out.Validation = &ValidationResult{Kind: v.Kind, Passed: passed, Detail: detail}
	if x.trace != nil {
		x.trace.EmitValidation(step.Name, string(v.Kind), passed, detail)
	}
	if passed {
		return nil
	}
	if v.ContinueOnFailure {
		x.logger.Warn("validation failed, continuing", "step", step.Name, "kind", v.Kind, "detail", detail)
		return nil
	}
	return fault.New(fault.KindValidationFailed, "%s: %s", v.Kind, detail)
}

func (x *StepExecutor) check(ctx context.Context, step *schema.Step, v *schema.Validation, expected string, match locator.Match) (bool, string) {
	timeout := step.Timeout()
	switch v.Kind {
	case schema.ValidateElementExists:
		loc := v.Locator
		if loc == "" {
			loc = expected
		}
		if loc == "" {
			return false, "no locator to check"
		}
		found, err := x.exists(ctx, timeout, loc)
		if err != nil {
			return false, err.Error()
		}
		if !found {
			return false, fmt.Sprintf("no visible element for %s", loc)
		}
		return true, ""

	case schema.ValidateTextEquals:
		// Without an explicit locator, read the element the action landed
		// on, then the step's own candidates.
		var locs []string
		var hint *locator.Hint
		if v.Locator != "" {
			locs = []string{v.Locator}
		} else {
			if match.Locator != "" {
				locs = append(locs, match.Locator)
			}
			for _, l := range step.SnippetLocators() {
				if l != match.Locator {
					locs = append(locs, l)
				}
			}
			hint = hintOf(step)
		}
		if len(locs) == 0 && hint == nil {
			return false, "no locator to read text from"
		}
		m, err := x.prims.Locate(ctx, locs, hint, timeout)
		if err != nil {
			return false, err.Error()
		}
		got := strings.TrimSpace(m.Element.Text)
		if got != expected {
			return false, fmt.Sprintf("text %q, want %q", got, expected)
		}
		return true, ""

	case schema.ValidateURLMatches:
		url, err := x.prims.CurrentURL(ctx, timeout)
		if err != nil {
			return false, err.Error()
		}
		ok, err := x.cache.MatchURL(expected, url)
		if err != nil {
			return false, err.Error()
		}
		if !ok {
			return false, fmt.Sprintf("url %s does not match %s", url, expected)
		}
		return true, ""

	case schema.ValidateScreenshotMatches:
		shooter, ok := x.prims.Driver.(driver.Screenshotter)
		if !ok || x.comparer == nil {
			return false, "screenshot comparison not available"
		}
		shot, err := shooter.Screenshot(ctx)
		if err != nil {
			return false, err.Error()
		}
		same, err := x.comparer.Compare(ctx, shot, expected)
		if err != nil {
			return false, err.Error()
		}
		if !same {
			return false, fmt.Sprintf("screenshot differs from %s", expected)
		}
		return true, ""
	}
	return false, fmt.Sprintf("unknown validation kind %q", v.Kind)
}
