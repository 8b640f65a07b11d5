package chrome

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"

	"github.com/ormasoftchile/intentrun/pkg/kernel/driver"
)

func TestQuerySelector(t *testing.T) {
	tests := []struct {
		expr   string
		sel    string
		search bool
	}{
		{"#email", "#email", false},
		{"testid=save", `[data-testid="save"]`, false},
		{"aria=Close", `[aria-label="Close"]`, false},
		{"//button[1]", "//button[1]", true},
		{"xpath=//a", "//a", true},
		{"text=Sign in", `//*[normalize-space(.)="Sign in" and not(*[normalize-space(.)="Sign in"])]`, true},
	}
	for _, tt := range tests {
		sel, by, err := querySelector(tt.expr)
		if err != nil {
			t.Fatalf("%s: %v", tt.expr, err)
		}
		if sel != tt.sel {
			t.Errorf("%s: selector = %q, want %q", tt.expr, sel, tt.sel)
		}
		if by == nil {
			t.Errorf("%s: no query option", tt.expr)
		}
		if got := isSearch(sel); got != tt.search {
			t.Errorf("%s: search = %v", tt.expr, got)
		}
	}
}

func isSearch(sel string) bool {
	return len(sel) > 0 && (sel[0] == '/' || sel[0] == '(')
}

func TestQuerySelector_Invalid(t *testing.T) {
	if _, _, err := querySelector("text@=x"); err == nil {
		t.Error("expected parse error")
	}
}

func TestNodeRef(t *testing.T) {
	if got := nodeRef(42); got != "n42" {
		t.Errorf("nodeRef = %q", got)
	}
}

func TestStaleRef(t *testing.T) {
	d := &Driver{nodes: map[string]cdp.NodeID{}}
	if _, err := d.node(driver.Element{Ref: "n1"}); err == nil {
		t.Error("expected stale element error")
	}
}

func TestDescribe(t *testing.T) {
	if got := describe(driver.Condition{Kind: driver.CondVisible, Selector: "#x"}); got != "#x to be visible" {
		t.Errorf("describe = %q", got)
	}
	if got := describe(driver.Condition{Kind: driver.CondURLMatches, Pattern: "/home"}); got != "url matching /home" {
		t.Errorf("describe = %q", got)
	}
}

// TestLive runs against a real browser when INTENTRUN_CHROME is set.
func TestLive(t *testing.T) {
	if os.Getenv("INTENTRUN_CHROME") == "" {
		t.Skip("INTENTRUN_CHROME not set")
	}
	ctx := context.Background()
	d, err := Open(ctx, Config{Headless: true, Timeout: 20 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	page := `data:text/html,<label for=q>Query</label><input id=q><button onclick="document.title='done'">Go</button>`
	if err := d.Navigate(ctx, page); err != nil {
		t.Fatal(err)
	}
	els, err := d.Query(ctx, "label=Query")
	if err != nil || len(els) != 1 {
		t.Fatalf("query label: %v %v", els, err)
	}
	if err := d.Fill(ctx, els[0], "hello"); err != nil {
		t.Fatal(err)
	}
	btn, err := d.Query(ctx, "text@button=Go")
	if err != nil || len(btn) != 1 {
		t.Fatalf("query button: %v %v", btn, err)
	}
	if err := d.Click(ctx, btn[0]); err != nil {
		t.Fatal(err)
	}
	var title string
	if err := d.run(ctx, chromedp.Title(&title)); err != nil || title != "done" {
		t.Errorf("title = %q, %v", title, err)
	}
	ghost := `data:text/html,<button id=a style="opacity:0">Go</button><div style="opacity:0"><button id=b>Go</button></div><button id=c>Go</button>`
	if err := d.Navigate(ctx, ghost); err != nil {
		t.Fatal(err)
	}
	for sel, want := range map[string]bool{"#a": false, "#b": false, "#c": true} {
		els, err := d.Query(ctx, sel)
		if err != nil || len(els) != 1 {
			t.Fatalf("query %s: %v %v", sel, els, err)
		}
		ok, err := d.IsVisible(ctx, els[0])
		if err != nil || ok != want {
			t.Errorf("%s visible = %v, %v; want %v", sel, ok, err, want)
		}
	}
}
