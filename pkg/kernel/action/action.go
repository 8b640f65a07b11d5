// Package action implements the deterministic browser primitives. Each
// primitive wraps one driver call in a bounded timeout and reports
// failures as fault errors of kind timeout, locator-not-found or
// driver-error.
package action

import (
	"context"
	"strconv"
	"time"

	"github.com/ormasoftchile/intentrun/pkg/kernel/driver"
	"github.com/ormasoftchile/intentrun/pkg/kernel/fault"
	"github.com/ormasoftchile/intentrun/pkg/kernel/locator"
	"github.com/ormasoftchile/intentrun/pkg/kernel/schema"
)

// NavigateOptions controls navigation retries.
type NavigateOptions struct {
	Attempts int
	Backoff  time.Duration
	Timeout  time.Duration
}

// DefaultNavigateOptions returns 3 attempts with a 2s fixed backoff.
func DefaultNavigateOptions() NavigateOptions {
	return NavigateOptions{
		Attempts: schema.DefaultNavigateRetries,
		Backoff:  schema.DefaultNavigateBackoffMs * time.Millisecond,
		Timeout:  schema.DefaultTimeoutMs * time.Millisecond,
	}
}

// Primitives carries out actions against one driver.
type Primitives struct {
	Driver   driver.Driver
	Resolver *locator.Resolver
	Sleep    func(ctx context.Context, d time.Duration) error
}

// New creates primitives over d using r for element resolution.
func New(d driver.Driver, r *locator.Resolver) *Primitives {
	return &Primitives{Driver: d, Resolver: r, Sleep: Sleep}
}

// Navigate loads url, retrying with a fixed backoff.
func (p *Primitives) Navigate(ctx context.Context, url string, opts NavigateOptions) error {
	attempts := opts.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if serr := p.Sleep(ctx, opts.Backoff); serr != nil {
				return fault.FromContext(serr, "navigate %s", url)
			}
		}
		err = bounded(ctx, opts.Timeout, func(ctx context.Context) error {
			return p.Driver.Navigate(ctx, url)
		})
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || fault.Is(err, fault.KindPolicyDenied) {
			break
		}
	}
	return fault.FromContext(err, "navigate %s (%d attempt(s))", url, attempts)
}

// Locate resolves locators to a visible element or fails with
// locator-not-found.
func (p *Primitives) Locate(ctx context.Context, locators []string, hint *locator.Hint, timeout time.Duration) (locator.Match, error) {
	var m locator.Match
	var found bool
	err := bounded(ctx, timeout, func(ctx context.Context) error {
		var rerr error
		m, found, rerr = p.Resolver.Resolve(ctx, locators, hint)
		return rerr
	})
	if err != nil {
		return m, fault.FromContext(err, "locate")
	}
	if !found {
		return m, fault.NotFound("no visible element for %v%s", locators, hintSuffix(hint))
	}
	return m, nil
}

// Click clicks the element resolved from locators and returns the match.
func (p *Primitives) Click(ctx context.Context, locators []string, hint *locator.Hint, timeout time.Duration) (locator.Match, error) {
	m, err := p.Locate(ctx, locators, hint, timeout)
	if err != nil {
		return m, err
	}
	return m, p.do(ctx, timeout, "click "+m.Locator, func(ctx context.Context) error {
		return p.Driver.Click(ctx, m.Element)
	})
}

// Fill types value into the element resolved from locators.
func (p *Primitives) Fill(ctx context.Context, locators []string, hint *locator.Hint, value string, timeout time.Duration) (locator.Match, error) {
	m, err := p.Locate(ctx, locators, hint, timeout)
	if err != nil {
		return m, err
	}
	return m, p.do(ctx, timeout, "fill "+m.Locator, func(ctx context.Context) error {
		return p.Driver.Fill(ctx, m.Element, value)
	})
}

// SelectOption selects value in the element resolved from locators.
func (p *Primitives) SelectOption(ctx context.Context, locators []string, hint *locator.Hint, value string, timeout time.Duration) (locator.Match, error) {
	m, err := p.Locate(ctx, locators, hint, timeout)
	if err != nil {
		return m, err
	}
	return m, p.do(ctx, timeout, "select "+m.Locator, func(ctx context.Context) error {
		return p.Driver.SelectOption(ctx, m.Element, value)
	})
}

// Wait blocks until cond holds. A delay condition just sleeps for the
// number of milliseconds in its value. Visible and hidden conditions
// without their own selector watch the whole locator list: visible holds
// when any locator shows an element, hidden when none does.
func (p *Primitives) Wait(ctx context.Context, cond schema.WaitCondition, locators []string) error {
	timeout := time.Duration(cond.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = schema.DefaultTimeoutMs * time.Millisecond
	}

	var dc driver.Condition
	switch cond.Kind {
	case schema.WaitDelay:
		ms, err := strconv.Atoi(cond.Value)
		if err != nil || ms < 0 {
			return fault.New(fault.KindDriver, "wait: invalid delay %q", cond.Value)
		}
		if err := p.Sleep(ctx, time.Duration(ms)*time.Millisecond); err != nil {
			return fault.FromContext(err, "wait")
		}
		return nil
	case schema.WaitVisible, schema.WaitHidden:
		targets := locators
		if cond.Value != "" {
			targets = []string{cond.Value}
		}
		if len(targets) == 0 {
			return fault.New(fault.KindDriver, "wait %s: no locator", cond.Kind)
		}
		if len(targets) > 1 {
			return p.do(ctx, timeout, "wait "+string(cond.Kind), func(ctx context.Context) error {
				if cond.Kind == schema.WaitHidden {
					return p.waitAllHidden(ctx, targets, timeout)
				}
				return p.waitAnyVisible(ctx, targets, timeout)
			})
		}
		kind := driver.CondVisible
		if cond.Kind == schema.WaitHidden {
			kind = driver.CondHidden
		}
		dc = driver.Condition{Kind: kind, Selector: targets[0]}
	case schema.WaitURLMatches:
		dc = driver.Condition{Kind: driver.CondURLMatches, Pattern: cond.Value}
	case schema.WaitLoad:
		dc = driver.Condition{Kind: driver.CondLoad}
	default:
		return fault.New(fault.KindDriver, "wait: unknown condition %q", cond.Kind)
	}

	return p.do(ctx, timeout, "wait "+string(cond.Kind), func(ctx context.Context) error {
		return p.Driver.WaitFor(ctx, dc, timeout)
	})
}

// waitAnyVisible returns once any of locators shows a visible element.
func (p *Primitives) waitAnyVisible(ctx context.Context, locators []string, timeout time.Duration) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errs := make(chan error, len(locators))
	for _, loc := range locators {
		go func(loc string) {
			errs <- p.Driver.WaitFor(ctx, driver.Condition{Kind: driver.CondVisible, Selector: loc}, timeout)
		}(loc)
	}
	var first error
	for range locators {
		err := <-errs
		if err == nil {
			return nil
		}
		if first == nil {
			first = err
		}
	}
	return first
}

// waitAllHidden returns once none of locators shows a visible element.
func (p *Primitives) waitAllHidden(ctx context.Context, locators []string, timeout time.Duration) error {
	for _, loc := range locators {
		if err := p.Driver.WaitFor(ctx, driver.Condition{Kind: driver.CondHidden, Selector: loc}, timeout); err != nil {
			return err
		}
	}
	return nil
}

// CurrentURL reads the page URL.
func (p *Primitives) CurrentURL(ctx context.Context, timeout time.Duration) (string, error) {
	var url string
	err := p.do(ctx, timeout, "current url", func(ctx context.Context) error {
		var err error
		url, err = p.Driver.CurrentURL(ctx)
		return err
	})
	return url, err
}

func (p *Primitives) do(ctx context.Context, timeout time.Duration, op string, fn func(context.Context) error) error {
	if err := bounded(ctx, timeout, fn); err != nil {
		return fault.FromContext(err, "%s", op)
	}
	return nil
}

// bounded runs fn under a timeout derived from ctx. A zero timeout leaves
// ctx unchanged.
func bounded(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	err := fn(ctx)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return fault.Timeout(err, "exceeded %s", timeout)
	}
	return err
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func hintSuffix(h *locator.Hint) string {
	if h == nil || h.Text == "" {
		return ""
	}
	return " or text " + strconv.Quote(h.Text)
}
