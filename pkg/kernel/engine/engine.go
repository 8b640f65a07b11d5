// Package engine executes intent specs step by step against a browser
// driver, falling back between the snippet and AI paths as each step
// allows.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ormasoftchile/intentrun/pkg/kernel/action"
	"github.com/ormasoftchile/intentrun/pkg/kernel/driver"
	"github.com/ormasoftchile/intentrun/pkg/kernel/eval"
	"github.com/ormasoftchile/intentrun/pkg/kernel/fault"
	"github.com/ormasoftchile/intentrun/pkg/kernel/schema"
	"github.com/ormasoftchile/intentrun/pkg/kernel/trace"
	"github.com/ormasoftchile/intentrun/pkg/semantic"
)

// Observer is notified as a run progresses. Implementations must be safe
// for concurrent use when shared across RunAll jobs.
type Observer interface {
	StepCompleted(spec string, o Outcome)
	RunCompleted(spec string, r *RunResult)
}

// Config configures a run.
type Config struct {
	RunID    string // generated when empty
	Driver   driver.Driver
	Semantic semantic.Executor         // nil fails every AI attempt
	Comparer driver.ScreenshotComparer // nil fails screenshotMatches
	Trace    *trace.Writer
	Logger   *slog.Logger
	Observer Observer
	Cache    *eval.Cache

	// Sleep replaces action.Sleep for retry delays and navigation backoff.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (c Config) withDefaults() Config {
	if c.RunID == "" {
		c.RunID = uuid.NewString()
	}
	if c.Semantic == nil {
		c.Semantic = semantic.Unavailable
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	if c.Cache == nil {
		c.Cache = eval.NewCache(eval.DefaultCacheSize)
	}
	if c.Sleep == nil {
		c.Sleep = action.Sleep
	}
	return c
}

// Runner executes one intent spec at a time.
type Runner struct {
	cfg  Config
	exec *StepExecutor
}

// New creates a runner bound to one driver session.
func New(cfg Config) *Runner {
	cfg = cfg.withDefaults()
	return &Runner{cfg: cfg, exec: NewStepExecutor(cfg)}
}

// RunID returns the identifier stamped on results and trace events.
func (r *Runner) RunID() string { return r.cfg.RunID }

// Run executes spec with vars and returns every outcome collected. The
// spec is normalized in place; it is not otherwise modified.
func (r *Runner) Run(ctx context.Context, spec *schema.IntentSpec, vars map[string]string) *RunResult {
	start := time.Now()
	schema.Normalize(spec)

	res := &RunResult{RunID: r.cfg.RunID, Spec: spec.Name}
	log := r.cfg.Logger.With("run_id", r.cfg.RunID, "spec", spec.Name)
	tw := r.cfg.Trace

	if tw != nil {
		tw.EmitRunStart(spec.Name, vars)
	}
	log.Info("run started", "steps", len(spec.Steps))

	done := func() *RunResult {
		if res.Status == "" {
			res.Status = RunCompleted
		}
		res.Duration = time.Since(start)
		if tw != nil {
			tw.EmitRunComplete(res.Status, len(res.Outcomes), res.Duration)
		}
		if r.cfg.Observer != nil {
			r.cfg.Observer.RunCompleted(spec.Name, res)
		}
		attrs := []any{"status", res.Status, "steps", len(res.Outcomes), "duration", res.Duration}
		if res.Error != nil {
			attrs = append(attrs, "error", res.Error)
		}
		log.Info("run finished", attrs...)
		return res
	}

	if err := CheckTemplating(spec, vars); err != nil {
		res.Status = RunError
		res.Error = err
		return done()
	}

	env := StepEnv{
		Vars:     vars,
		Subst:    eval.New(spec.Params),
		Navigate: navigateOptions(spec),
	}

	if spec.URL != "" {
		url := env.Subst.Apply(spec.URL, vars)
		if err := r.exec.prims.Navigate(ctx, url, env.Navigate); err != nil {
			if ctx.Err() != nil {
				r.cancel(res, ctx.Err())
				return done()
			}
			res.Status = RunError
			res.Error = fmt.Errorf("open %s: %w", url, err)
			return done()
		}
	}

	for i := range spec.Steps {
		if err := ctx.Err(); err != nil {
			r.cancel(res, err)
			return done()
		}
		step := &spec.Steps[i]
		out := r.exec.Execute(ctx, step, env)
		if out.Status == StatusFailed && step.SkipOnError() {
			out.NonFatal = true
		}
		res.Outcomes = append(res.Outcomes, out)
		if r.cfg.Observer != nil {
			r.cfg.Observer.StepCompleted(spec.Name, out)
		}

		if err := ctx.Err(); err != nil {
			r.cancel(res, err)
			return done()
		}
		if out.Status == StatusFailed && !out.NonFatal {
			res.Status = RunFailed
			res.Error = out.Err
			return done()
		}
	}
	return done()
}

func (r *Runner) cancel(res *RunResult, err error) {
	ferr := fault.FromContext(err, "run cancelled")
	res.Outcomes = append(res.Outcomes, cancelledOutcome(ferr))
	res.Status = RunCancelled
	res.Error = ferr
	if r.cfg.Trace != nil {
		r.cfg.Trace.EmitRunCancelled(len(res.Outcomes) - 1)
	}
}

// CheckTemplating verifies that every placeholder used by spec is a
// declared param with a supplied value. It touches no driver.
func CheckTemplating(spec *schema.IntentSpec, vars map[string]string) error {
	declared := make(map[string]bool, len(spec.Params))
	for _, p := range spec.Params {
		declared[p] = true
	}

	texts := []string{spec.URL}
	for i := range spec.Steps {
		texts = append(texts, spec.Steps[i].TemplatedText()...)
	}

	var undeclared []string
	for _, t := range texts {
		for _, name := range eval.Placeholders(t) {
			if !declared[name] && !contains(undeclared, name) {
				undeclared = append(undeclared, name)
			}
		}
	}
	if len(undeclared) > 0 {
		return fault.New(fault.KindTemplating, "undeclared placeholder(s): %s", strings.Join(undeclared, ", "))
	}
	if missing := eval.Missing(vars, texts...); len(missing) > 0 {
		return fault.New(fault.KindTemplating, "no value for param(s): %s", strings.Join(missing, ", "))
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func navigateOptions(spec *schema.IntentSpec) action.NavigateOptions {
	opts := action.DefaultNavigateOptions()
	if p := spec.Preferences; p != nil {
		if p.NavigateRetries > 0 {
			opts.Attempts = p.NavigateRetries
		}
		if p.NavigateBackoffMs > 0 {
			opts.Backoff = time.Duration(p.NavigateBackoffMs) * time.Millisecond
		}
		if p.TimeoutMs > 0 {
			opts.Timeout = time.Duration(p.TimeoutMs) * time.Millisecond
		}
	}
	return opts
}

// Job is one independent run for RunAll.
type Job struct {
	Spec  *schema.IntentSpec
	Vars  map[string]string
	RunID string // generated when empty
}

// Session is a driver owned by a single job. Trace, when set, records that
// job's run. Close releases everything the session holds.
type Session struct {
	Driver   driver.Driver
	Semantic semantic.Executor
	Trace    *trace.Writer
	Close    func()
}

// SessionFactory opens a fresh session for a job.
type SessionFactory func(ctx context.Context, job Job) (*Session, error)

// RunAll executes jobs concurrently, at most parallelism at a time (<= 0
// means unbounded). Each job gets its own session and run ID, and the
// factory sees the job with its run ID filled in. base supplies the shared
// logger, observer, cache and comparer; base.Trace is ignored since a trace
// file records a single run, so per-job traces come from Session.Trace.
// Results are returned in job order. A session that cannot be opened
// yields a result with status "error".
func RunAll(ctx context.Context, base Config, jobs []Job, open SessionFactory, parallelism int) []*RunResult {
	base = base.withDefaults()
	results := make([]*RunResult, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	if parallelism > 0 {
		g.SetLimit(parallelism)
	}
	for i, job := range jobs {
		schema.Normalize(job.Spec)
		g.Go(func() error {
			cfg := base
			if job.RunID == "" {
				job.RunID = uuid.NewString()
			}
			cfg.RunID = job.RunID
			cfg.Trace = nil

			sess, err := open(gctx, job)
			if err != nil {
				results[i] = &RunResult{RunID: cfg.RunID, Spec: job.Spec.Name, Status: RunError, Error: err}
				return nil
			}
			if sess.Close != nil {
				defer sess.Close()
			}
			cfg.Driver = sess.Driver
			cfg.Trace = sess.Trace
			if sess.Semantic != nil {
				cfg.Semantic = sess.Semantic
			}
			results[i] = New(cfg).Run(gctx, job.Spec, job.Vars)
			return nil
		})
	}
	g.Wait()
	return results
}
