package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ormasoftchile/intentrun/pkg/ecosystem/prompt"
	"github.com/ormasoftchile/intentrun/pkg/ecosystem/recorder"
	"github.com/ormasoftchile/intentrun/pkg/ecosystem/tui"
	"github.com/ormasoftchile/intentrun/pkg/governance"
	"github.com/ormasoftchile/intentrun/pkg/kernel/engine"
	"github.com/ormasoftchile/intentrun/pkg/kernel/replay"
	"github.com/ormasoftchile/intentrun/pkg/kernel/trace"
	"github.com/ormasoftchile/intentrun/pkg/metrics"
	"github.com/ormasoftchile/intentrun/pkg/providers/chrome"
	"github.com/ormasoftchile/intentrun/pkg/report"
	"github.com/ormasoftchile/intentrun/pkg/semantic"
)

var (
	runVars     []string
	runScenario string
	runTrace    string
	runJSON     bool
	runMetrics  string
	runSecrets  []string
	runParallel int
	runRecord   string
	runNoAI     bool
	runTUI      bool
	runPrompt   bool
)

var runCmd = &cobra.Command{
	Use:   "run [spec.yaml...]",
	Short: "Execute intent specs against a browser",
	Long: `Execute one or more intent specs. Each spec runs in its own browser
session; several specs run concurrently up to --parallel.

Params are taken from --var KEY=VALUE, then from INTENTRUN_VAR_<KEY>
environment variables, then (with --scenario) from the scenario's vars,
then (with --prompt) from the terminal.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if d := cfg.Engine.RunTimeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	if runRecord != "" && len(args) > 1 {
		return fmt.Errorf("--record captures a single run; got %d specs", len(args))
	}
	if runTrace != "" && len(args) > 1 {
		return fmt.Errorf("--trace records a single run; use trace.dir in config for several specs")
	}
	if runTUI && len(args) > 1 {
		return fmt.Errorf("--tui watches a single run; got %d specs", len(args))
	}

	host, err := parseVars(runVars)
	if err != nil {
		return err
	}

	gov, err := governance.New(cfg.Governance)
	if err != nil {
		return err
	}
	secretNames := append(append([]string{}, cfg.Trace.Secrets...), runSecrets...)
	opener := &sessionOpener{noAI: runNoAI, gov: gov, secrets: secretNames, traceDir: cfg.Trace.Dir, logger: logger}
	if runScenario == "" && cfg.Driver.Kind == "replay" {
		return fmt.Errorf("driver.kind is replay but no --scenario was given")
	}
	if runScenario != "" {
		sc, err := replay.LoadScenarioDir(runScenario)
		if err != nil {
			return err
		}
		opener.scenario = sc
	}


	var asker engine.VarResolver
	if runPrompt {
		r, closer, err := prompt.Open(secretNames)
		if err != nil {
			return err
		}
		defer closer.Close()
		asker = r
	}

	var jobs []engine.Job
	for _, path := range args {
		spec, err := loadSpec(io.Discard, cmd.ErrOrStderr(), path)
		if err != nil {
			return err
		}
		resolvers := []engine.VarResolver{engine.EnvResolver{Prefix: engine.DefaultEnvPrefix}}
		if opener.scenario != nil {
			resolvers = append(resolvers, mapResolver(opener.scenario.Vars))
		}
		if asker != nil {
			resolvers = append(resolvers, asker)
		}
		rv, err := engine.ResolveVars(ctx, spec, host, resolvers)
		if err != nil {
			return err
		}
		jobs = append(jobs, engine.Job{Spec: spec, Vars: rv.Vars})
	}

	base := engine.Config{Logger: logger, Cache: cache}
	if opener.scenario != nil {
		base.Comparer = opener.scenario.Comparer()
	}
	if addr := firstNonEmpty(runMetrics, cfg.Metrics.Addr); addr != "" {
		obs, err := metrics.New(nil)
		if err != nil {
			return err
		}
		base.Observer = obs
		srv := serveMetrics(addr, logger)
		defer srv.Shutdown(context.Background())
	}

	var results []*engine.RunResult
	if len(jobs) == 1 {
		res, err := runOne(ctx, base, jobs[0], opener, secretNames, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		results = []*engine.RunResult{res}
	} else {
		parallel := runParallel
		if parallel == 0 {
			parallel = cfg.Engine.Parallelism
		}
		results = engine.RunAll(ctx, base, jobs, opener.open, parallel)
	}

	out := cmd.OutOrStdout()
	if runJSON {
		if err := report.WriteRunsJSON(out, results); err != nil {
			return err
		}
	} else if !runTUI {
		for i, r := range results {
			if i > 0 {
				fmt.Fprintln(out)
			}
			report.WriteRun(out, r)
		}
	}

	incomplete := 0
	for _, r := range results {
		if r.Status != engine.RunCompleted {
			incomplete++
		}
	}
	if incomplete > 0 {
		return fmt.Errorf("%d of %d run(s) did not complete", incomplete, len(results))
	}
	return nil
}

// runOne executes a single job with tracing and optional recording.
func runOne(ctx context.Context, base engine.Config, job engine.Job, opener *sessionOpener, secretNames []string, out io.Writer) (*engine.RunResult, error) {
	sess, err := opener.openSession(ctx, job)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	ec := base
	ec.RunID = job.RunID
	if ec.RunID == "" {
		ec.RunID = uuid.NewString()
	}
	ec.Driver = sess.Driver
	ec.Semantic = sess.Semantic

	var rec *recorder.Recorder
	if runRecord != "" {
		rec = recorder.New(sess.Driver, sess.Semantic)
		rec.SetSecrets(secretNames)
		if opener.gov.HasRedactions() {
			rec.SetRedactor(opener.gov.Redact)
		}
		ec.Driver = rec.Driver()
		ec.Semantic = rec.Semantic()
	}

	tw, err := opener.openTrace(runTrace, ec.RunID)
	if err != nil {
		return nil, err
	}
	if tw != nil {
		defer tw.Close()
		ec.Trace = tw
	}

	var res *engine.RunResult
	if runTUI {
		res, err = tui.Watch(ctx, job.Spec, ec.Observer, func(ctx context.Context, obs engine.Observer) *engine.RunResult {
			wc := ec
			wc.Observer = obs
			return engine.New(wc).Run(ctx, job.Spec, job.Vars)
		}, tea.WithOutput(out))
		if err != nil {
			return nil, err
		}
	} else {
		res = engine.New(ec).Run(ctx, job.Spec, job.Vars)
	}

	if rec != nil {
		if err := rec.Scenario(job.Vars).Save(runRecord); err != nil {
			return res, fmt.Errorf("save recording: %w", err)
		}
		logger.Info("scenario recorded", "dir", runRecord, "calls", len(rec.Calls()))
	}
	return res, nil
}

// sessionOpener opens one browser session per job: a replay playback when
// a scenario is loaded, otherwise a Chrome tab plus an optional MCP agent.
// Either driver is guarded by the governance host policy.
type sessionOpener struct {
	scenario *replay.Scenario
	noAI     bool
	gov      *governance.Engine
	secrets  []string // env var names whose values are redacted
	traceDir string   // trace.dir: one file per run ID
	logger   *slog.Logger
}

// openTrace opens a redacting trace writer for runID. An empty path falls
// back to trace.dir from config; with neither, no trace is written.
func (o *sessionOpener) openTrace(path, runID string) (*trace.Writer, error) {
	if path == "" && o.traceDir != "" {
		if err := os.MkdirAll(o.traceDir, 0o755); err != nil {
			return nil, fmt.Errorf("create trace dir: %w", err)
		}
		path = filepath.Join(o.traceDir, runID+".jsonl")
	}
	if path == "" {
		return nil, nil
	}
	tw, err := trace.NewFileWriter(path, runID)
	if err != nil {
		return nil, err
	}
	tw.SetSecrets(secretValues(o.secrets))
	if o.gov.HasRedactions() {
		tw.SetRedactor(o.gov.Redact)
	}
	o.logger.Debug("tracing run", "run_id", runID, "path", path)
	return tw, nil
}

// open opens a session for job and, when traceDir is set, its trace file.
func (o *sessionOpener) open(ctx context.Context, job engine.Job) (*engine.Session, error) {
	sess, err := o.openSession(ctx, job)
	if err != nil || o.traceDir == "" {
		return sess, err
	}
	tw, err := o.openTrace("", job.RunID)
	if err != nil {
		sess.Close()
		return nil, err
	}
	release := sess.Close
	sess.Trace = tw
	sess.Close = func() {
		release()
		tw.Close()
	}
	return sess, nil
}

func (o *sessionOpener) openSession(ctx context.Context, job engine.Job) (*engine.Session, error) {
	if o.scenario != nil {
		pb, err := o.scenario.Open(ctx)
		if err != nil {
			return nil, err
		}
		sess := &engine.Session{Driver: governance.Guard(pb.Driver, o.gov), Close: func() {}}
		if !o.noAI {
			sess.Semantic = pb.Semantic
		}
		return sess, nil
	}

	d, err := chrome.Open(ctx, chrome.Config{
		RemoteURL: cfg.Driver.CDPURL,
		Headless:  cfg.Driver.Headless,
		ExecPath:  cfg.Driver.ChromePath,
	})
	if err != nil {
		return nil, err
	}
	sess := &engine.Session{Driver: governance.Guard(d, o.gov), Close: d.Close}
	if o.noAI || cfg.Semantic.Command == "" {
		return sess, nil
	}

	env, blocked := o.gov.FilterEnvVars(os.Environ())
	if len(blocked) > 0 {
		o.logger.Debug("withholding environment from semantic agent", "vars", blocked)
	}

	exec, err := semantic.DialMCP(ctx, semantic.MCPConfig{
		Command: cfg.Semantic.Command,
		Args:    cfg.Semantic.Args,
		Env:     env,
		Tool:    cfg.Semantic.Tool,
		ArgName: cfg.Semantic.ArgName,
		Timeout: cfg.Semantic.Timeout(),
	}, o.logger.With("spec", job.Spec.Name))
	if err != nil {
		d.Close()
		return nil, err
	}
	sess.Semantic = exec
	sess.Close = func() {
		exec.Close()
		d.Close()
	}
	return sess, nil
}

// parseVars parses repeated KEY=VALUE flags.
func parseVars(pairs []string) (map[string]string, error) {
	vars := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --var %q: want KEY=VALUE", p)
		}
		vars[k] = v
	}
	return vars, nil
}

// mapResolver supplies params from a fixed map.
type mapResolver map[string]string

func (m mapResolver) Resolve(_ context.Context, name string) (string, bool, error) {
	v, ok := m[name]
	return v, ok, nil
}

// secretValues reads the named environment variables, skipping unset ones.
func secretValues(names []string) []string {
	var out []string
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func serveMetrics(addr string, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(nil))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics server stopped", "addr", addr, "error", err)
		}
	}()
	log.Info("serving metrics", "addr", addr)
	return srv
}

func init() {
	f := runCmd.Flags()
	f.StringArrayVar(&runVars, "var", nil, "param value as KEY=VALUE (repeatable)")
	f.StringVar(&runScenario, "scenario", "", "replay a recorded scenario directory instead of a live browser")
	f.StringVar(&runTrace, "trace", "", "write the JSONL trace to this file")
	f.BoolVar(&runJSON, "json", false, "print results as JSON")
	f.StringVar(&runMetrics, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	f.StringArrayVar(&runSecrets, "secret", nil, "environment variable whose value is redacted from traces and recordings (repeatable)")
	f.IntVar(&runParallel, "parallel", 0, "concurrent runs when several specs are given (default engine.parallelism)")
	f.StringVar(&runRecord, "record", "", "record the run as a replay scenario into this directory")
	f.BoolVar(&runNoAI, "no-ai", false, "disable the AI path; every AI attempt fails")
	f.BoolVar(&runTUI, "tui", false, "show live progress in a terminal UI (single spec)")
	f.BoolVar(&runPrompt, "prompt", false, "ask on the terminal for params no other source supplies")
	rootCmd.AddCommand(runCmd)
}
