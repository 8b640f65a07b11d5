// Package governance implements host allowlist/denylist for navigation,
// pattern-based redaction, and environment variable blocking for the
// semantic agent process.
package governance

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// ErrDenied is wrapped by every policy rejection.
var ErrDenied = errors.New("denied by governance policy")

// Policy is the declarative form, as read from configuration.
type Policy struct {
	// AllowedHosts, when set, limits navigation to matching hosts.
	// Entries are glob patterns such as "*.example.com".
	AllowedHosts []string `mapstructure:"allowed_hosts" yaml:"allowed_hosts,omitempty"`
	// DeniedHosts always wins over AllowedHosts.
	DeniedHosts []string `mapstructure:"denied_hosts" yaml:"denied_hosts,omitempty"`
	// DenyEnvVars are name patterns withheld from the semantic agent.
	DenyEnvVars []string        `mapstructure:"deny_env_vars" yaml:"deny_env_vars,omitempty"`
	Redact      []RedactionRule `mapstructure:"redact" yaml:"redact,omitempty"`
}

// Engine evaluates a compiled Policy.
type Engine struct {
	allowedHosts []string
	deniedHosts  []string
	denyEnvVars  []string
	rules        []*CompiledRedaction
}

// New compiles p. A zero Policy yields a permissive engine.
func New(p Policy) (*Engine, error) {
	rules, err := CompileRedactionRules(p.Redact)
	if err != nil {
		return nil, err
	}
	for _, pat := range append(append([]string{}, p.AllowedHosts...), p.DeniedHosts...) {
		if _, err := path.Match(pat, ""); err != nil {
			return nil, fmt.Errorf("invalid host pattern %q: %w", pat, err)
		}
	}
	for _, pat := range p.DenyEnvVars {
		if _, err := filepath.Match(pat, ""); err != nil {
			return nil, fmt.Errorf("invalid env var pattern %q: %w", pat, err)
		}
	}
	return &Engine{
		allowedHosts: lower(p.AllowedHosts),
		deniedHosts:  lower(p.DeniedHosts),
		denyEnvVars:  p.DenyEnvVars,
		rules:        rules,
	}, nil
}

// CheckHost validates a host name against the denylist and allowlist.
// Deny takes precedence over allow.
func (g *Engine) CheckHost(host string) error {
	host = strings.ToLower(host)
	for _, pat := range g.deniedHosts {
		if ok, _ := path.Match(pat, host); ok {
			return fmt.Errorf("host %q: %w", host, ErrDenied)
		}
	}
	if len(g.allowedHosts) == 0 {
		return nil
	}
	for _, pat := range g.allowedHosts {
		if ok, _ := path.Match(pat, host); ok {
			return nil
		}
	}
	return fmt.Errorf("host %q is not in the allowlist: %w", host, ErrDenied)
}

// CheckURL validates the host of rawURL. URLs without a host, such as
// about:blank, are always allowed.
func (g *Engine) CheckURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	if u.Hostname() == "" {
		return nil
	}
	return g.CheckHost(u.Hostname())
}

// CheckEnvVar validates an environment variable name against the deny
// patterns.
func (g *Engine) CheckEnvVar(name string) error {
	for _, pat := range g.denyEnvVars {
		if ok, _ := filepath.Match(pat, name); ok {
			return fmt.Errorf("environment variable %q matches %q: %w", name, pat, ErrDenied)
		}
	}
	return nil
}

// FilterEnvVars returns env with denied variables removed, and the names
// that were removed.
func (g *Engine) FilterEnvVars(env []string) (kept, blocked []string) {
	if len(g.denyEnvVars) == 0 {
		return env, nil
	}
	for _, e := range env {
		name, _, _ := strings.Cut(e, "=")
		if g.CheckEnvVar(name) != nil {
			blocked = append(blocked, name)
			continue
		}
		kept = append(kept, e)
	}
	return kept, blocked
}

// Redact applies every redaction rule to s.
func (g *Engine) Redact(s string) string {
	return RedactOutput(s, g.rules)
}

// HasRedactions reports whether any redaction rule is configured.
func (g *Engine) HasRedactions() bool { return len(g.rules) > 0 }

func lower(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
