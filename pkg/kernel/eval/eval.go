// Package eval implements {{KEY}} placeholder substitution for intent spec
// step values and instructions.
//
// Substitution is single-pass: text produced by a substitution is never
// rescanned, so a value that itself contains "{{X}}" is emitted literally.
package eval

import (
	"sort"
	"strings"
)

const (
	openDelim  = "{{"
	closeDelim = "}}"
)

// Substitute replaces every literal {{KEY}} in tmpl with vars[KEY].
// Placeholders whose key is absent from vars are left untouched.
func Substitute(tmpl string, vars map[string]string) string {
	return substitute(tmpl, func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	})
}

// Substitutor substitutes a fixed set of placeholder names, precompiled
// from an intent spec's declared params.
type Substitutor struct {
	names map[string]struct{}
}

// New returns a Substitutor that only replaces the given names.
func New(params []string) *Substitutor {
	names := make(map[string]struct{}, len(params))
	for _, p := range params {
		names[p] = struct{}{}
	}
	return &Substitutor{names: names}
}

// Apply substitutes declared placeholders found in tmpl. Undeclared
// placeholders and declared ones missing from vars are left as-is.
func (s *Substitutor) Apply(tmpl string, vars map[string]string) string {
	return substitute(tmpl, func(key string) (string, bool) {
		if _, ok := s.names[key]; !ok {
			return "", false
		}
		v, ok := vars[key]
		return v, ok
	})
}

// Declared reports whether name is one of the substitutor's params.
func (s *Substitutor) Declared(name string) bool {
	_, ok := s.names[name]
	return ok
}

// Placeholders returns the placeholder names found in s, in order of first
// appearance, without duplicates.
func Placeholders(s string) []string {
	var out []string
	seen := map[string]bool{}
	scan(s, func(key string, _, _ int) {
		if !seen[key] {
			seen[key] = true
			out = append(out, key)
		}
	})
	return out
}

// Missing returns the sorted placeholder names in the given strings that
// have no entry in vars.
func Missing(vars map[string]string, texts ...string) []string {
	set := map[string]bool{}
	for _, t := range texts {
		for _, name := range Placeholders(t) {
			if _, ok := vars[name]; !ok {
				set[name] = true
			}
		}
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func substitute(tmpl string, lookup func(string) (string, bool)) string {
	if !strings.Contains(tmpl, openDelim) {
		return tmpl
	}
	var b strings.Builder
	b.Grow(len(tmpl))
	last := 0
	scan(tmpl, func(key string, start, end int) {
		v, ok := lookup(key)
		if !ok {
			return
		}
		b.WriteString(tmpl[last:start])
		b.WriteString(v)
		last = end
	})
	b.WriteString(tmpl[last:])
	return b.String()
}

// scan calls fn for each well-formed {{KEY}} in s with the byte span of the
// whole placeholder. Keys are trimmed of surrounding spaces; empty keys and
// keys containing braces are ignored.
func scan(s string, fn func(key string, start, end int)) {
	i := 0
	for i < len(s) {
		open := strings.Index(s[i:], openDelim)
		if open < 0 {
			return
		}
		open += i
		close := strings.Index(s[open+len(openDelim):], closeDelim)
		if close < 0 {
			return
		}
		close += open + len(openDelim)
		// Keys are literal: "{{ KEY }}" is not a placeholder.
		key := s[open+len(openDelim) : close]
		if key == "" || strings.ContainsAny(key, "{} \t\r\n") {
			i = open + 1
			continue
		}
		end := close + len(closeDelim)
		fn(key, open, end)
		i = end
	}
}
