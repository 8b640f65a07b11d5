package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ormasoftchile/intentrun/pkg/kernel/action"
	"github.com/ormasoftchile/intentrun/pkg/kernel/driver"
	"github.com/ormasoftchile/intentrun/pkg/kernel/eval"
	"github.com/ormasoftchile/intentrun/pkg/kernel/fault"
	"github.com/ormasoftchile/intentrun/pkg/kernel/locator"
	"github.com/ormasoftchile/intentrun/pkg/kernel/schema"
	"github.com/ormasoftchile/intentrun/pkg/kernel/trace"
	"github.com/ormasoftchile/intentrun/pkg/semantic"
)

// preflightPoll is the interval between waitFor pre-flight probes.
const preflightPoll = 100 * time.Millisecond

// StepEnv is the per-run input of the step executor.
type StepEnv struct {
	Vars     map[string]string
	Subst    *eval.Substitutor
	Navigate action.NavigateOptions
}

// StepExecutor carries one step through skip evaluation, pre-flight
// checks, the primary path with its retry envelope, the fallback path and
// validation. Errors never escape it; they end up in the Outcome.
type StepExecutor struct {
	prims    *action.Primitives
	resolver *locator.Resolver
	semantic semantic.Executor
	comparer driver.ScreenshotComparer
	cache    *eval.Cache
	trace    *trace.Writer
	logger   *slog.Logger
	sleep    func(context.Context, time.Duration) error
}

// NewStepExecutor builds an executor from cfg.
func NewStepExecutor(cfg Config) *StepExecutor {
	cfg = cfg.withDefaults()
	resolver := locator.NewResolver(cfg.Driver, cfg.Logger)
	prims := action.New(cfg.Driver, resolver)
	prims.Sleep = cfg.Sleep
	return &StepExecutor{
		prims:    prims,
		resolver: resolver,
		semantic: cfg.Semantic,
		comparer: cfg.Comparer,
		cache:    cfg.Cache,
		trace:    cfg.Trace,
		logger:   cfg.Logger,
		sleep:    cfg.Sleep,
	}
}

// Execute runs one step and returns its outcome.
func (x *StepExecutor) Execute(ctx context.Context, step *schema.Step, env StepEnv) Outcome {
	start := time.Now()
	out := Outcome{StepName: step.Name, PathUsed: schema.PathNone}
	log := x.logger.With("step", step.Name)

	if x.trace != nil {
		x.trace.EmitStepStart(step.Name, step.Action.String(), string(step.Prefer), string(step.Fallback))
	}
	finish := func() Outcome {
		out.Duration = time.Since(start)
		if x.trace != nil {
			var failure *trace.Failure
			if out.Err != nil {
				failure = &trace.Failure{Kind: string(out.ErrorKind), Message: out.Error}
			}
			x.trace.EmitStepComplete(step.Name, trace.StepStatus(out.Status), string(out.PathUsed), out.Attempts, out.Duration, failure)
		}
		log.Debug("step finished", "status", out.Status, "path", out.PathUsed, "attempts", out.Attempts, "fallback", out.FallbackOccurred)
		return out
	}

	// Skip conditions short-circuit everything else.
	if reason, skip := x.shouldSkip(ctx, step, env); skip {
		out.Status = StatusSkipped
		out.Success = true
		out.Skipped = true
		out.SkipReason = reason
		if x.trace != nil {
			x.trace.EmitStepSkipped(step.Name, reason)
		}
		return finish()
	}

	// A required pre-flight check failing is terminal: no retry, no fallback.
	if err := x.preflight(ctx, step); err != nil {
		out.fail(err)
		return finish()
	}

	value := env.Subst.Apply(step.Value, env.Vars)
	instruction := env.Subst.Apply(step.Instruction, env.Vars)
	nav := env.Navigate
	nav.Timeout = step.Timeout()

	var primaryErr error
	for attempt := 1; attempt <= step.Attempts(); attempt++ {
		if attempt > 1 {
			if err := x.sleep(ctx, step.RetryDelay()); err != nil {
				primaryErr = fault.FromContext(err, "retry delay")
				break
			}
		}
		out.Attempts++
		err := x.attempt(ctx, step, step.Prefer, value, instruction, nav, env, &out)
		x.emitAttempt(step, step.Prefer, out.Attempts, err)
		if err == nil {
			out.succeed(step.Prefer)
			return finish()
		}
		log.Debug("primary attempt failed", "attempt", attempt, "error", err)
		primaryErr = err
		if ctx.Err() != nil {
			break
		}
	}

	out.PathUsed = step.Prefer
	if step.Fallback == schema.PathNone || ctx.Err() != nil {
		out.fail(primaryErr)
		return finish()
	}

	out.FallbackOccurred = true
	if x.trace != nil {
		x.trace.EmitFallback(step.Name, string(step.Prefer), string(step.Fallback), failureOf(primaryErr))
	}
	log.Info("falling back", "from", step.Prefer, "to", step.Fallback, "cause", primaryErr)

	out.Attempts++
	err := x.attempt(ctx, step, step.Fallback, value, instruction, nav, env, &out)
	x.emitAttempt(step, step.Fallback, out.Attempts, err)
	if err != nil {
		out.PathUsed = step.Fallback
		out.fail(err)
		return finish()
	}
	out.succeed(step.Fallback)
	return finish()
}

// attempt runs one path and, if it succeeds, the validation gate.
func (x *StepExecutor) attempt(ctx context.Context, step *schema.Step, path schema.Path, value, instruction string, nav action.NavigateOptions, env StepEnv, out *Outcome) error {
	var (
		err   error
		match locator.Match
	)
	switch path {
	case schema.PathSnippet:
		match, err = x.runSnippet(ctx, step, value, nav, env)
	case schema.PathAI:
		err = x.runSemantic(ctx, step, value, instruction)
	default:
		err = fault.New(fault.KindDriver, "no executable path %q", path)
	}
	if err != nil {
		return err
	}
	return x.validate(ctx, step, env, match, out)
}

// runSnippet performs the action directly. For element actions the
// returned match names the element the action landed on.
func (x *StepExecutor) runSnippet(ctx context.Context, step *schema.Step, value string, nav action.NavigateOptions, env StepEnv) (locator.Match, error) {
	locators := step.SnippetLocators()
	hint := hintOf(step)
	timeout := step.Timeout()

	if step.Action.NeedsElement() && len(locators) == 0 && hint == nil {
		return locator.Match{}, fault.NotFound("step has no locators or target")
	}

	switch step.Action {
	case schema.ActionNavigate:
		return locator.Match{}, x.prims.Navigate(ctx, value, nav)
	case schema.ActionClick:
		return x.prims.Click(ctx, locators, hint, timeout)
	case schema.ActionFill:
		return x.prims.Fill(ctx, locators, hint, value, timeout)
	case schema.ActionSelectOption:
		return x.prims.SelectOption(ctx, locators, hint, value, timeout)
	case schema.ActionWait:
		cond := schema.WaitCondition{Kind: schema.WaitDelay, Value: "0"}
		if step.Wait != nil {
			cond = *step.Wait
			cond.Value = env.Subst.Apply(cond.Value, env.Vars)
		}
		return locator.Match{}, x.prims.Wait(ctx, cond, locators)
	}
	return locator.Match{}, fault.New(fault.KindDriver, "unsupported action %s", step.Action)
}

func (x *StepExecutor) runSemantic(ctx context.Context, step *schema.Step, value, instruction string) error {
	if instruction == "" {
		instruction = SynthesizeInstruction(step, value)
	}
	res, err := x.semantic.Execute(ctx, instruction)
	if err != nil {
		if ctx.Err() != nil {
			return fault.FromContext(ctx.Err(), "semantic %q", instruction)
		}
		return fault.Wrap(fault.KindSemanticFailed, err, "semantic %q", instruction)
	}
	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = "semantic executor reported failure"
		}
		return fault.New(fault.KindSemanticFailed, "%s", msg)
	}
	return nil
}

// SynthesizeInstruction builds a natural-language instruction for steps
// that only carry locators.
func SynthesizeInstruction(step *schema.Step, value string) string {
	subject := step.Name
	if step.Target != nil && step.Target.Text != "" {
		subject = fmt.Sprintf("%s (%q)", step.Name, step.Target.Text)
	}
	switch step.Action {
	case schema.ActionNavigate:
		return "navigate to " + value
	case schema.ActionClick:
		return "click " + subject
	case schema.ActionFill:
		return fmt.Sprintf("fill %s with %s", subject, value)
	case schema.ActionSelectOption:
		return fmt.Sprintf("select %s in %s", value, subject)
	case schema.ActionWait:
		return "wait for " + subject
	}
	return strings.TrimSpace(step.Action.String() + " " + subject)
}

func hintOf(step *schema.Step) *locator.Hint {
	if step.Target == nil || step.Target.Text == "" {
		return nil
	}
	return &locator.Hint{Text: step.Target.Text, Role: step.Target.Role}
}

func (x *StepExecutor) emitAttempt(step *schema.Step, path schema.Path, n int, err error) {
	if x.trace != nil {
		x.trace.EmitAttempt(step.Name, string(path), n, failureOf(err))
	}
}

func failureOf(err error) *trace.Failure {
	if err == nil {
		return nil
	}
	return &trace.Failure{Kind: string(fault.KindOf(err)), Message: err.Error()}
}
