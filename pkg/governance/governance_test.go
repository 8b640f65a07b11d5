package governance

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ormasoftchile/intentrun/pkg/kernel/driver"
	"github.com/ormasoftchile/intentrun/pkg/kernel/fault"
	"github.com/ormasoftchile/intentrun/pkg/providers/htmldoc"
)

func mustNew(t *testing.T, p Policy) *Engine {
	t.Helper()
	g, err := New(p)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

// TestAllowlistAcceptsAllowedHost verifies allowed hosts pass.
func TestAllowlistAcceptsAllowedHost(t *testing.T) {
	g := mustNew(t, Policy{AllowedHosts: []string{"shop.example.test", "*.example.com"}})
	for _, h := range []string{"shop.example.test", "www.example.com", "WWW.Example.COM"} {
		if err := g.CheckHost(h); err != nil {
			t.Errorf("%s: expected allowed, got: %v", h, err)
		}
	}
}

// TestAllowlistRejectsUnlistedHost verifies non-allowed hosts are blocked.
func TestAllowlistRejectsUnlistedHost(t *testing.T) {
	g := mustNew(t, Policy{AllowedHosts: []string{"*.example.com"}})
	err := g.CheckHost("evil.test")
	if !errors.Is(err, ErrDenied) {
		t.Errorf("expected ErrDenied, got %v", err)
	}
	if err := g.CheckHost("example.com"); err == nil {
		t.Error("bare domain should not match *.example.com")
	}
}

// TestCombinedAllowDenyMode verifies deny takes precedence.
func TestCombinedAllowDenyMode(t *testing.T) {
	g := mustNew(t, Policy{
		AllowedHosts: []string{"*.example.com"},
		DeniedHosts:  []string{"admin.example.com"},
	})
	if err := g.CheckHost("shop.example.com"); err != nil {
		t.Errorf("shop should pass: %v", err)
	}
	if err := g.CheckHost("admin.example.com"); err == nil {
		t.Error("admin should be denied (deny takes precedence)")
	}
}

// TestNoGovernanceAllowsAll verifies that an empty policy permits everything.
func TestNoGovernanceAllowsAll(t *testing.T) {
	g := mustNew(t, Policy{})
	if err := g.CheckURL("https://anything.test/x"); err != nil {
		t.Errorf("empty governance should allow all: %v", err)
	}
	if got := g.Redact("token=abc"); got != "token=abc" {
		t.Errorf("Redact = %q", got)
	}
}

func TestCheckURL(t *testing.T) {
	g := mustNew(t, Policy{AllowedHosts: []string{"shop.example.test"}})
	if err := g.CheckURL("https://shop.example.test:8443/cart?x=1"); err != nil {
		t.Errorf("port should be ignored: %v", err)
	}
	if err := g.CheckURL("about:blank"); err != nil {
		t.Errorf("hostless url should pass: %v", err)
	}
	if err := g.CheckURL("https://other.test/"); err == nil {
		t.Error("expected rejection")
	}
}

func TestNew_InvalidPatterns(t *testing.T) {
	if _, err := New(Policy{AllowedHosts: []string{"[bad"}}); err == nil {
		t.Error("expected error for bad host pattern")
	}
	if _, err := New(Policy{DenyEnvVars: []string{"[bad"}}); err == nil {
		t.Error("expected error for bad env pattern")
	}
	if _, err := New(Policy{Redact: []RedactionRule{{Pattern: "("}}}); err == nil {
		t.Error("expected error for bad redaction regex")
	}
}

// TestEnvVarPatternMatching verifies denied env var patterns.
func TestEnvVarPatternMatching(t *testing.T) {
	g := mustNew(t, Policy{DenyEnvVars: []string{"SECRET_*", "TOKEN", "AWS_*"}})
	tests := []struct {
		name    string
		blocked bool
	}{
		{"SECRET_KEY", true},
		{"TOKEN", true},
		{"AWS_ACCESS_KEY", true},
		{"HOME", false},
		{"PATH", false},
	}
	for _, tt := range tests {
		err := g.CheckEnvVar(tt.name)
		if tt.blocked && err == nil {
			t.Errorf("expected %q to be blocked", tt.name)
		}
		if !tt.blocked && err != nil {
			t.Errorf("expected %q to be allowed, got: %v", tt.name, err)
		}
	}
}

func TestFilterEnvVars(t *testing.T) {
	g := mustNew(t, Policy{DenyEnvVars: []string{"SECRET_*"}})
	kept, blocked := g.FilterEnvVars([]string{"HOME=/root", "SECRET_KEY=x", "PATH=/bin"})
	if len(kept) != 2 || kept[0] != "HOME=/root" || kept[1] != "PATH=/bin" {
		t.Errorf("kept = %v", kept)
	}
	if len(blocked) != 1 || blocked[0] != "SECRET_KEY" {
		t.Errorf("blocked = %v", blocked)
	}
}

func TestRedact(t *testing.T) {
	g := mustNew(t, Policy{Redact: []RedactionRule{
		{Pattern: `\b\d{4}-\d{4}-\d{4}-(\d{4})\b`, Replace: "****-$1"},
		{Pattern: `token=\w+`},
	}})
	got := g.Redact("card 4111-1111-1111-1234 token=abc123")
	if got != "card ****-1234 <REDACTED>" {
		t.Errorf("Redact = %q", got)
	}
	if !g.HasRedactions() {
		t.Error("HasRedactions = false")
	}
}

func TestGuard(t *testing.T) {
	d := htmldoc.New(htmldoc.Site{
		"https://shop.example.test/": "<html><body>shop</body></html>",
		"https://evil.test/":         "<html><body>evil</body></html>",
	})
	g := mustNew(t, Policy{AllowedHosts: []string{"shop.example.test"}})
	gd := Guard(d, g)
	ctx := context.Background()

	if err := gd.Navigate(ctx, "https://shop.example.test/"); err != nil {
		t.Fatal(err)
	}
	err := gd.Navigate(ctx, "https://evil.test/")
	if !fault.Is(err, fault.KindPolicyDenied) || !errors.Is(err, ErrDenied) {
		t.Fatalf("err = %v", err)
	}
	u, _ := gd.CurrentURL(ctx)
	if u != "https://shop.example.test/" {
		t.Errorf("denied navigation moved the page to %s", u)
	}
	src, err := gd.(driver.PageSourcer).PageSource(ctx)
	if err != nil || !strings.Contains(src, "shop") {
		t.Errorf("PageSource = %q, %v", src, err)
	}
}

func TestGuard_Permissive(t *testing.T) {
	d := htmldoc.New(nil)
	if Guard(d, nil) != driver.Driver(d) {
		t.Error("nil engine should not wrap")
	}
	if Guard(d, mustNew(t, Policy{DenyEnvVars: []string{"X"}})) != driver.Driver(d) {
		t.Error("engine without host rules should not wrap")
	}
}
