// Package chrome drives a real Chrome or Chromium browser over the
// DevTools protocol.
package chrome

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/ormasoftchile/intentrun/pkg/kernel/driver"
	"github.com/ormasoftchile/intentrun/pkg/kernel/locator"
)

const pollInterval = 100 * time.Millisecond

// Config selects how the browser is obtained.
type Config struct {
	// RemoteURL attaches to an already running browser's DevTools
	// websocket. When empty a local browser is launched.
	RemoteURL string
	Headless  bool
	ExecPath  string
	// Timeout caps a single driver call that has no timeout of its own.
	Timeout time.Duration
}

// Driver is a driver.Driver backed by one browser tab.
type Driver struct {
	cfg Config

	tab         context.Context
	closeTab    context.CancelFunc
	closeBrowse context.CancelFunc

	mu    sync.Mutex
	nodes map[string]cdp.NodeID
}

// Open starts or attaches to a browser and opens a blank tab.
func Open(ctx context.Context, cfg Config) (*Driver, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if u := strings.TrimSpace(cfg.RemoteURL); u != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), u)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", cfg.Headless),
			chromedp.Flag("disable-gpu", cfg.Headless),
		)
		if p := strings.TrimSpace(cfg.ExecPath); p != "" {
			opts = append(opts, chromedp.ExecPath(p))
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}

	tab, cancel := chromedp.NewContext(allocCtx)
	d := &Driver{cfg: cfg, tab: tab, closeTab: cancel, closeBrowse: allocCancel, nodes: map[string]cdp.NodeID{}}
	if err := d.run(ctx, chromedp.Navigate("about:blank")); err != nil {
		d.Close()
		return nil, fmt.Errorf("open browser: %w", err)
	}
	return d, nil
}

// Close closes the tab and, for launched browsers, the browser process.
func (d *Driver) Close() {
	d.closeTab()
	d.closeBrowse()
}

// run executes actions on the tab, bounded by both ctx and the tab's own
// lifetime.
func (d *Driver) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(d.tab, d.cfg.Timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := ctx.Err(); err != nil {
		return err
	}
	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (d *Driver) Navigate(ctx context.Context, url string) error {
	d.mu.Lock()
	clear(d.nodes)
	d.mu.Unlock()
	return d.run(ctx, chromedp.Navigate(url))
}

func (d *Driver) Query(ctx context.Context, expr string) ([]driver.Element, error) {
	sel, by, err := querySelector(expr)
	if err != nil {
		return nil, err
	}
	var nodes []*cdp.Node
	if err := d.run(ctx, chromedp.Nodes(sel, &nodes, by, chromedp.AtLeast(0))); err != nil {
		return nil, err
	}

	out := make([]driver.Element, 0, len(nodes))
	for _, n := range nodes {
		var text string
		if err := d.run(ctx, callOn(n.NodeID, jsText, &text)); err != nil {
			return nil, err
		}
		ref := nodeRef(n.NodeID)
		d.mu.Lock()
		d.nodes[ref] = n.NodeID
		d.mu.Unlock()
		out = append(out, driver.Element{Ref: ref, Tag: strings.ToLower(n.NodeName), Text: text})
	}
	return out, nil
}

func (d *Driver) IsVisible(ctx context.Context, el driver.Element) (bool, error) {
	id, err := d.node(el)
	if err != nil {
		return false, err
	}
	var visible bool
	if err := d.run(ctx, callOn(id, jsVisible, &visible)); err != nil {
		return false, err
	}
	return visible, nil
}

func (d *Driver) Click(ctx context.Context, el driver.Element) error {
	id, err := d.node(el)
	if err != nil {
		return err
	}
	return d.run(ctx, chromedp.Click([]cdp.NodeID{id}, chromedp.ByNodeID))
}

func (d *Driver) Fill(ctx context.Context, el driver.Element, value string) error {
	id, err := d.node(el)
	if err != nil {
		return err
	}
	ids := []cdp.NodeID{id}
	return d.run(ctx,
		chromedp.Focus(ids, chromedp.ByNodeID),
		chromedp.SetValue(ids, "", chromedp.ByNodeID),
		chromedp.SendKeys(ids, value, chromedp.ByNodeID),
	)
}

func (d *Driver) SelectOption(ctx context.Context, el driver.Element, value string) error {
	id, err := d.node(el)
	if err != nil {
		return err
	}
	var ok bool
	if err := d.run(ctx, callOn(id, jsSelect, &ok, value)); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no option %q", value)
	}
	return nil
}

func (d *Driver) CurrentURL(ctx context.Context) (string, error) {
	var u string
	if err := d.run(ctx, chromedp.Location(&u)); err != nil {
		return "", err
	}
	return u, nil
}

// WaitFor polls the condition until it holds or timeout elapses.
func (d *Driver) WaitFor(ctx context.Context, cond driver.Condition, timeout time.Duration) error {
	if cond.Kind == driver.CondLoad {
		return d.run(ctx, chromedp.WaitReady("body", chromedp.ByQuery))
	}

	var re *regexp.Regexp
	if cond.Kind == driver.CondURLMatches {
		var err error
		if re, err = regexp.Compile(cond.Pattern); err != nil {
			return fmt.Errorf("wait urlMatches: %w", err)
		}
	}

	deadline := time.Now().Add(timeout)
	for {
		ok, err := d.holds(ctx, cond, re)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("timed out after %s waiting for %s", timeout, describe(cond))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (d *Driver) holds(ctx context.Context, cond driver.Condition, re *regexp.Regexp) (bool, error) {
	switch cond.Kind {
	case driver.CondURLMatches:
		u, err := d.CurrentURL(ctx)
		if err != nil {
			return false, err
		}
		return re.MatchString(u), nil
	case driver.CondVisible, driver.CondHidden:
		els, err := d.Query(ctx, cond.Selector)
		if err != nil {
			return false, err
		}
		visible := false
		for _, el := range els {
			v, err := d.IsVisible(ctx, el)
			if err != nil {
				return false, err
			}
			if v {
				visible = true
				break
			}
		}
		return visible == (cond.Kind == driver.CondVisible), nil
	}
	return false, fmt.Errorf("unknown wait condition %q", cond.Kind)
}

// Screenshot captures the full page as a PNG.
func (d *Driver) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := d.run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, err
	}
	return buf, nil
}

// PageSource returns the live document's outer HTML.
func (d *Driver) PageSource(ctx context.Context) (string, error) {
	var h string
	if err := d.run(ctx, chromedp.OuterHTML("html", &h, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return h, nil
}

func (d *Driver) node(el driver.Element) (cdp.NodeID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.nodes[el.Ref]
	if !ok {
		return 0, fmt.Errorf("stale element %s", el.Ref)
	}
	return id, nil
}

// querySelector maps a locator expression to a chromedp selector. CSS
// kinds go through querySelectorAll; everything else through the
// DevTools search, which accepts XPath.
func querySelector(expr string) (string, chromedp.QueryOption, error) {
	loc, err := locator.Parse(expr)
	if err != nil {
		return "", nil, err
	}
	if sel, ok := loc.CSS(); ok {
		return sel, chromedp.ByQueryAll, nil
	}
	if xp, ok := loc.XPath(); ok {
		return xp, chromedp.BySearch, nil
	}
	return "", nil, fmt.Errorf("%w: %s", driver.ErrUnsupportedLocator, expr)
}

func nodeRef(id cdp.NodeID) string {
	return "n" + strconv.FormatInt(int64(id), 10)
}

func describe(c driver.Condition) string {
	if c.Kind == driver.CondURLMatches {
		return "url matching " + c.Pattern
	}
	return c.Selector + " to be " + string(c.Kind)
}

// callOn runs a JavaScript function with the node bound to this.
func callOn(id cdp.NodeID, fn string, res any, args ...any) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		obj, err := dom.ResolveNode().WithNodeID(id).Do(ctx)
		if err != nil {
			return err
		}
		defer runtime.ReleaseObject(obj.ObjectID).Do(ctx)
		return chromedp.CallFunctionOn(fn, res, func(p *runtime.CallFunctionOnParams) *runtime.CallFunctionOnParams {
			return p.WithObjectID(obj.ObjectID)
		}, args...).Do(ctx)
	})
}

const jsText = `function() { return (this.innerText || this.textContent || "").trim(); }`

// jsVisible requires a rendered, non-transparent box inside the scrollable
// document area. Opacity is not inherited, so ancestors are checked too.
const jsVisible = `function() {
	if (!this.isConnected) return false;
	const s = getComputedStyle(this);
	if (s.display === "none" || s.visibility === "hidden") return false;
	for (let e = this; e; e = e.parentElement) {
		if (parseFloat(getComputedStyle(e).opacity) === 0) return false;
	}
	const r = this.getBoundingClientRect();
	if (r.width <= 0 || r.height <= 0) return false;
	const doc = document.documentElement;
	const left = r.left + window.scrollX, top = r.top + window.scrollY;
	return left + r.width > 0 && top + r.height > 0 &&
		left < Math.max(doc.scrollWidth, window.innerWidth) &&
		top < Math.max(doc.scrollHeight, window.innerHeight);
}`

const jsSelect = `function(v) {
	for (const o of this.options || []) {
		if (o.value === v || o.text.trim() === v) {
			this.value = o.value;
			this.dispatchEvent(new Event("input", { bubbles: true }));
			this.dispatchEvent(new Event("change", { bubbles: true }));
			return true;
		}
	}
	return false;
}`

var (
	_ driver.Driver        = (*Driver)(nil)
	_ driver.Screenshotter = (*Driver)(nil)
	_ driver.PageSourcer   = (*Driver)(nil)
)
