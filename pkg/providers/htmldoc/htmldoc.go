// Package htmldoc is a browser driver over static HTML pages. Pages are
// parsed with goquery; clicks follow links and form actions between the
// pages of a Site. It backs the scenario harness and needs no browser.
package htmldoc

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/ormasoftchile/intentrun/pkg/kernel/driver"
	"github.com/ormasoftchile/intentrun/pkg/kernel/locator"
)

// Site maps absolute URLs to HTML documents.
type Site map[string]string

// Driver implements driver.Driver and driver.Screenshotter over a Site.
// It is safe for concurrent use, though the engine never needs that.
type Driver struct {
	mu      sync.Mutex
	site    Site
	url     string
	doc     *goquery.Document
	refs    map[*html.Node]string
	nodes   map[string]*html.Node
	visited []string
}

// New returns a driver over site with no page loaded.
func New(site Site) *Driver {
	return &Driver{site: site, url: "about:blank"}
}

var _ driver.Driver = (*Driver)(nil)
var _ driver.Screenshotter = (*Driver)(nil)
var _ driver.PageSourcer = (*Driver)(nil)

// Navigate loads the page registered for rawURL. The fragment is ignored.
func (d *Driver) Navigate(ctx context.Context, rawURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.load(rawURL)
}

func (d *Driver) load(rawURL string) error {
	key := rawURL
	if i := strings.IndexByte(key, '#'); i >= 0 {
		key = key[:i]
	}
	page, ok := d.site[key]
	if !ok {
		return fmt.Errorf("navigate %s: page not found", rawURL)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return fmt.Errorf("navigate %s: parse: %w", rawURL, err)
	}
	d.doc = doc
	d.url = rawURL
	d.refs = make(map[*html.Node]string)
	d.nodes = make(map[string]*html.Node)
	d.visited = append(d.visited, rawURL)
	return nil
}

// Query evaluates a locator against the current page. XPath locators are
// not supported.
func (d *Driver) Query(ctx context.Context, expr string) ([]driver.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	loc, err := locator.Parse(expr)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.doc == nil {
		return nil, nil
	}

	var sel *goquery.Selection
	switch loc.Kind {
	case locator.KindText:
		sel = d.byText(loc.Value, loc.Role)
	case locator.KindLabel:
		sel = d.byLabel(loc.Value, loc.Role)
	case locator.KindXPath:
		return nil, fmt.Errorf("%w: xpath %q", driver.ErrUnsupportedLocator, loc.Value)
	default:
		css, _ := loc.CSS()
		m, err := cascadia.Compile(css)
		if err != nil {
			return nil, fmt.Errorf("selector %q: %w", css, err)
		}
		sel = d.doc.FindMatcher(m)
	}

	out := make([]driver.Element, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		out = append(out, d.element(s.Get(0)))
	})
	return out, nil
}

// byText returns the deepest elements whose normalized text equals text.
func (d *Driver) byText(text, role string) *goquery.Selection {
	want := normalize(text)
	return d.doc.Find("body *").FilterFunction(func(_ int, s *goquery.Selection) bool {
		if normalize(s.Text()) != want {
			return false
		}
		if role != "" {
			return hasRole(s, role)
		}
		deeper := s.Children().FilterFunction(func(_ int, c *goquery.Selection) bool {
			return normalize(c.Text()) == want
		})
		return deeper.Length() == 0
	})
}

// byLabel returns the controls labelled by a <label> containing text.
func (d *Driver) byLabel(text, role string) *goquery.Selection {
	want := normalize(text)
	var nodes []*html.Node
	d.doc.Find("label").Each(func(_ int, lbl *goquery.Selection) {
		if !strings.Contains(normalize(lbl.Text()), want) {
			return
		}
		var controls *goquery.Selection
		if id, ok := lbl.Attr("for"); ok && id != "" {
			controls = d.doc.FindMatcher(idMatcher(id))
		} else {
			controls = lbl.Find("input, select, textarea, button")
		}
		controls.Each(func(_ int, c *goquery.Selection) {
			if role == "" || hasRole(c, role) {
				nodes = append(nodes, c.Get(0))
			}
		})
	})
	return d.doc.FindNodes(nodes...)
}

func (d *Driver) element(n *html.Node) driver.Element {
	ref, ok := d.refs[n]
	if !ok {
		ref = "n" + strconv.Itoa(len(d.refs)+1)
		d.refs[n] = ref
		d.nodes[ref] = n
	}
	return driver.Element{Ref: ref, Tag: n.Data, Text: normalize(goquery.NewDocumentFromNode(n).Text())}
}

func (d *Driver) node(el driver.Element) (*goquery.Selection, error) {
	n, ok := d.nodes[el.Ref]
	if !ok {
		return nil, fmt.Errorf("stale element %s", el.Ref)
	}
	return d.doc.FindNodes(n), nil
}

// IsVisible reports whether neither the element nor an ancestor is hidden
// by markup or inline style.
func (d *Driver) IsVisible(ctx context.Context, el driver.Element) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	s, err := d.node(el)
	if err != nil {
		return false, err
	}
	return visible(s), nil
}

func visible(s *goquery.Selection) bool {
	if t, _ := s.Attr("type"); goquery.NodeName(s) == "input" && strings.EqualFold(t, "hidden") {
		return false
	}
	for cur := s; cur.Length() > 0; cur = cur.Parent() {
		switch goquery.NodeName(cur) {
		case "head", "script", "style", "template", "noscript":
			return false
		}
		if _, ok := cur.Attr("hidden"); ok {
			return false
		}
		if style, ok := cur.Attr("style"); ok && hiddenStyle(style) {
			return false
		}
	}
	return true
}

// hiddenStyleRe matches inline styles that hide an element or its subtree,
// including full transparency.
var hiddenStyleRe = regexp.MustCompile(`(?i)(display\s*:\s*none|visibility\s*:\s*hidden|opacity\s*:\s*(0+(\.0*)?|\.0+)%?\s*(!important\s*)?(;|$))`)

func hiddenStyle(style string) bool { return hiddenStyleRe.MatchString(style) }

// Click follows a link, or submits the enclosing form of a submit control
// by loading its action URL. Other clicks have no effect.
func (d *Driver) Click(ctx context.Context, el driver.Element) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	s, err := d.node(el)
	if err != nil {
		return err
	}

	if a := s.Closest("a[href]"); a.Length() > 0 {
		href, _ := a.Attr("href")
		return d.follow(href)
	}
	if ctl := s.Closest("button, input"); isSubmit(ctl) {
		if form := ctl.Closest("form"); form.Length() > 0 {
			action, _ := form.Attr("action")
			return d.follow(action)
		}
	}
	return nil
}

func isSubmit(s *goquery.Selection) bool {
	t := strings.ToLower(s.AttrOr("type", ""))
	switch goquery.NodeName(s) {
	case "button":
		return t == "" || t == "submit"
	case "input":
		return t == "submit" || t == "image"
	}
	return false
}

func (d *Driver) follow(ref string) error {
	if ref == "" || strings.HasPrefix(ref, "#") || strings.HasPrefix(ref, "javascript:") {
		return nil
	}
	base, err := url.Parse(d.url)
	if err != nil {
		return fmt.Errorf("current url %q: %w", d.url, err)
	}
	target, err := base.Parse(ref)
	if err != nil {
		return fmt.Errorf("link %q: %w", ref, err)
	}
	return d.load(target.String())
}

// Fill sets the value of an input or textarea.
func (d *Driver) Fill(ctx context.Context, el driver.Element, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	s, err := d.node(el)
	if err != nil {
		return err
	}
	switch goquery.NodeName(s) {
	case "input":
		if _, ok := s.Attr("disabled"); ok {
			return fmt.Errorf("fill %s: input is disabled", el.Ref)
		}
		s.SetAttr("value", value)
	case "textarea":
		s.SetText(value)
	default:
		return fmt.Errorf("fill %s: <%s> is not fillable", el.Ref, el.Tag)
	}
	return nil
}

// SelectOption selects the option whose value or text equals value.
func (d *Driver) SelectOption(ctx context.Context, el driver.Element, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	s, err := d.node(el)
	if err != nil {
		return err
	}
	if goquery.NodeName(s) != "select" {
		return fmt.Errorf("select %s: <%s> is not a select", el.Ref, el.Tag)
	}
	opts := s.Find("option")
	match := opts.FilterFunction(func(_ int, o *goquery.Selection) bool {
		v, ok := o.Attr("value")
		if !ok {
			v = normalize(o.Text())
		}
		return v == value || normalize(o.Text()) == value
	}).First()
	if match.Length() == 0 {
		return fmt.Errorf("select %s: no option %q", el.Ref, value)
	}
	opts.RemoveAttr("selected")
	match.SetAttr("selected", "selected")
	return nil
}

// CurrentURL returns the URL of the loaded page.
func (d *Driver) CurrentURL(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url, nil
}

// WaitFor evaluates cond once. Static pages never change, so a condition
// that does not hold now fails immediately.
func (d *Driver) WaitFor(ctx context.Context, cond driver.Condition, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch cond.Kind {
	case driver.CondLoad:
		return nil
	case driver.CondURLMatches:
		re, err := regexp.Compile(cond.Pattern)
		if err != nil {
			return err
		}
		u, _ := d.CurrentURL(ctx)
		if !re.MatchString(u) {
			return fmt.Errorf("url %s does not match %s", u, cond.Pattern)
		}
		return nil
	case driver.CondVisible, driver.CondHidden:
		els, err := d.Query(ctx, cond.Selector)
		if err != nil {
			return err
		}
		shown := false
		if len(els) > 0 {
			if shown, err = d.IsVisible(ctx, els[0]); err != nil {
				return err
			}
		}
		if shown != (cond.Kind == driver.CondVisible) {
			return fmt.Errorf("%s is not %s", cond.Selector, cond.Kind)
		}
		return nil
	}
	return fmt.Errorf("unsupported wait condition %q", cond.Kind)
}

// Screenshot returns the serialized DOM of the current page, a stable
// stand-in for pixels.
func (d *Driver) Screenshot(ctx context.Context) ([]byte, error) {
	h, err := d.PageSource(ctx)
	if err != nil {
		return nil, err
	}
	return []byte(h), nil
}

// PageSource serializes the current document, including filled values.
func (d *Driver) PageSource(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.doc == nil {
		return "", fmt.Errorf("no page loaded")
	}
	return d.doc.Html()
}

// Visited returns every URL loaded, in order.
func (d *Driver) Visited() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.visited...)
}

// FieldValue returns the current value of the control matched by a CSS
// selector: an input's value, a textarea's text or a select's option.
func (d *Driver) FieldValue(selector string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.doc == nil {
		return "", false
	}
	s := d.doc.Find(selector).First()
	switch goquery.NodeName(s) {
	case "input":
		return s.Attr("value")
	case "textarea":
		return s.Text(), true
	case "select":
		o := s.Find("option[selected]").First()
		if o.Length() == 0 {
			return "", false
		}
		if v, ok := o.Attr("value"); ok {
			return v, true
		}
		return normalize(o.Text()), true
	}
	return "", false
}

// implicitRoles maps ARIA roles to the tags that carry them natively.
var implicitRoles = map[string][]string{
	"button":   {"button"},
	"link":     {"a"},
	"textbox":  {"input", "textarea"},
	"combobox": {"select"},
	"checkbox": {"input"},
	"heading":  {"h1", "h2", "h3", "h4", "h5", "h6"},
}

func hasRole(s *goquery.Selection, role string) bool {
	if r, ok := s.Attr("role"); ok {
		return r == role
	}
	tag := goquery.NodeName(s)
	if tag == role {
		return true
	}
	for _, t := range implicitRoles[role] {
		if t == tag {
			if role == "checkbox" {
				return strings.EqualFold(s.AttrOr("type", ""), "checkbox")
			}
			if role == "button" || tag != "input" {
				return true
			}
			switch strings.ToLower(s.AttrOr("type", "text")) {
			case "text", "email", "password", "search", "tel", "url", "number":
				return true
			}
			return false
		}
	}
	if role == "button" && tag == "input" {
		switch strings.ToLower(s.AttrOr("type", "")) {
		case "submit", "button", "reset":
			return true
		}
	}
	return false
}

func idMatcher(id string) goquery.Matcher {
	return matcherFunc(func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return false
		}
		for _, a := range n.Attr {
			if a.Key == "id" && a.Val == id {
				return true
			}
		}
		return false
	})
}

// matcherFunc adapts a predicate to goquery.Matcher.
type matcherFunc func(*html.Node) bool

func (f matcherFunc) Match(n *html.Node) bool { return f(n) }

func (f matcherFunc) MatchAll(n *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		for ; c != nil; c = c.NextSibling {
			if f(c) {
				out = append(out, c)
			}
			walk(c.FirstChild)
		}
	}
	walk(n.FirstChild)
	return out
}

func (f matcherFunc) Filter(nodes []*html.Node) []*html.Node {
	var out []*html.Node
	for _, n := range nodes {
		if f(n) {
			out = append(out, n)
		}
	}
	return out
}

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
