// Package recorder captures a live run as a replay scenario: every page
// the browser lands on and every semantic reply, with secrets redacted.
package recorder

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ormasoftchile/intentrun/pkg/kernel/driver"
	"github.com/ormasoftchile/intentrun/pkg/kernel/replay"
	"github.com/ormasoftchile/intentrun/pkg/semantic"
)

const redacted = "<REDACTED>"

// Call is one driver call as seen by the recorder.
type Call struct {
	Op    string `yaml:"op" json:"op"`
	Arg   string `yaml:"arg,omitempty" json:"arg,omitempty"`
	Error string `yaml:"error,omitempty" json:"error,omitempty"`
}

// Recorder wraps a driver and a semantic executor and captures what they
// return. Use Driver and Semantic in place of the originals.
type Recorder struct {
	inner    driver.Driver
	executor semantic.Executor

	mu       sync.Mutex
	calls    []Call
	start    string
	pages    map[string]string
	replies  []replay.SemanticReply
	secrets  []string // env var names whose values should be redacted
	literals []string
	redactor func(string) string
}

// New creates a recording wrapper around a driver and, optionally, a
// semantic executor.
func New(inner driver.Driver, exec semantic.Executor) *Recorder {
	return &Recorder{inner: inner, executor: exec, pages: map[string]string{}}
}

// SetSecrets configures secret env var names whose values are redacted in
// captured pages and replies.
func (r *Recorder) SetSecrets(envVars []string) {
	r.secrets = envVars
}

// SetRedactor installs an extra rewrite applied after secret values are
// replaced, typically governance redaction rules.
func (r *Recorder) SetRedactor(fn func(string) string) {
	r.redactor = fn
}

// RedactValues adds literal values to redact, typically secret params.
func (r *Recorder) RedactValues(values ...string) {
	for _, v := range values {
		if v != "" {
			r.literals = append(r.literals, v)
		}
	}
}

// Driver returns the recording driver.
func (r *Recorder) Driver() driver.Driver { return &recDriver{r: r} }

// Semantic returns the recording semantic executor, or nil when the
// recorder wraps none.
func (r *Recorder) Semantic() semantic.Executor {
	if r.executor == nil {
		return nil
	}
	return semantic.Func(r.execute)
}

// Calls returns the driver calls seen so far.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Scenario assembles the captured pages and replies into a replay
// scenario. vars are stored redacted.
func (r *Recorder) Scenario(vars map[string]string) *replay.Scenario {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &replay.Scenario{
		StartURL: r.start,
		Pages:    make(map[string]string, len(r.pages)),
		Semantic: append([]replay.SemanticReply(nil), r.replies...),
	}
	for u, p := range r.pages {
		s.Pages[u] = p
	}
	if len(vars) > 0 {
		s.Vars = make(map[string]string, len(vars))
		for k, v := range vars {
			s.Vars[k] = r.redact(v)
		}
	}
	return s
}

func (r *Recorder) execute(ctx context.Context, instruction string) (semantic.Result, error) {
	res, err := r.executor.Execute(ctx, instruction)
	if err != nil {
		return res, err
	}
	reply := replay.SemanticReply{
		Match:   r.redact(instruction),
		Success: res.Success,
		Error:   r.redact(res.Error),
		Data:    r.redactMap(res.Data),
	}
	before := r.lastURL()
	if u, uerr := r.inner.CurrentURL(ctx); uerr == nil && u != before {
		reply.Navigate = u
		r.capture(ctx, u)
	}
	r.mu.Lock()
	r.replies = append(r.replies, reply)
	r.mu.Unlock()
	return res, nil
}

func (r *Recorder) record(op, arg string, err error) {
	c := Call{Op: op, Arg: r.redact(arg)}
	if err != nil {
		c.Error = r.redact(err.Error())
	}
	r.mu.Lock()
	r.calls = append(r.calls, c)
	r.mu.Unlock()
}

func (r *Recorder) lastURL() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.calls) - 1; i >= 0; i-- {
		if r.calls[i].Op == "landed" {
			return r.calls[i].Arg
		}
	}
	return ""
}

// capture stores the current page under url if the driver can serialize
// it.
func (r *Recorder) capture(ctx context.Context, url string) {
	src, ok := r.inner.(driver.PageSourcer)
	if !ok {
		return
	}
	html, err := src.PageSource(ctx)
	if err != nil {
		return
	}
	key := url
	if i := strings.IndexByte(key, '#'); i >= 0 {
		key = key[:i]
	}
	r.mu.Lock()
	if r.start == "" {
		r.start = url
	}
	r.pages[key] = r.redact(html)
	r.calls = append(r.calls, Call{Op: "landed", Arg: url})
	r.mu.Unlock()
}

// afterAction captures the page when an action moved the browser.
func (r *Recorder) afterAction(ctx context.Context) {
	u, err := r.inner.CurrentURL(ctx)
	if err != nil || u == r.lastURL() {
		return
	}
	r.capture(ctx, u)
}

// redact replaces secret values with <REDACTED>.
func (r *Recorder) redact(s string) string {
	for _, envVar := range r.secrets {
		val := os.Getenv(envVar)
		if val != "" {
			s = strings.ReplaceAll(s, val, redacted)
		}
	}
	for _, val := range r.literals {
		s = strings.ReplaceAll(s, val, redacted)
	}
	if r.redactor != nil {
		s = r.redactor(s)
	}
	return s
}

// redactMap redacts secret values in a map.
func (r *Recorder) redactMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = r.redact(s)
		} else {
			out[k] = v
		}
	}
	return out
}

type recDriver struct{ r *Recorder }

func (d *recDriver) Navigate(ctx context.Context, url string) error {
	err := d.r.inner.Navigate(ctx, url)
	d.r.record("navigate", url, err)
	if err == nil {
		d.r.afterAction(ctx)
	}
	return err
}

func (d *recDriver) Query(ctx context.Context, loc string) ([]driver.Element, error) {
	els, err := d.r.inner.Query(ctx, loc)
	d.r.record("query", loc, err)
	return els, err
}

func (d *recDriver) IsVisible(ctx context.Context, el driver.Element) (bool, error) {
	return d.r.inner.IsVisible(ctx, el)
}

func (d *recDriver) Click(ctx context.Context, el driver.Element) error {
	err := d.r.inner.Click(ctx, el)
	d.r.record("click", el.Ref, err)
	if err == nil {
		d.r.afterAction(ctx)
	}
	return err
}

func (d *recDriver) Fill(ctx context.Context, el driver.Element, value string) error {
	err := d.r.inner.Fill(ctx, el, value)
	d.r.record("fill", el.Ref+" "+value, err)
	return err
}

func (d *recDriver) SelectOption(ctx context.Context, el driver.Element, value string) error {
	err := d.r.inner.SelectOption(ctx, el, value)
	d.r.record("select", el.Ref+" "+value, err)
	return err
}

func (d *recDriver) CurrentURL(ctx context.Context) (string, error) {
	return d.r.inner.CurrentURL(ctx)
}

func (d *recDriver) WaitFor(ctx context.Context, cond driver.Condition, timeout time.Duration) error {
	err := d.r.inner.WaitFor(ctx, cond, timeout)
	d.r.record("wait", string(cond.Kind)+" "+cond.Selector+cond.Pattern, err)
	if err == nil {
		d.r.afterAction(ctx)
	}
	return err
}

// Screenshot delegates when the wrapped driver supports it.
func (d *recDriver) Screenshot(ctx context.Context) ([]byte, error) {
	s, ok := d.r.inner.(driver.Screenshotter)
	if !ok {
		return nil, errNoScreenshots
	}
	return s.Screenshot(ctx)
}

var errNoScreenshots = errors.New("wrapped driver cannot take screenshots")
