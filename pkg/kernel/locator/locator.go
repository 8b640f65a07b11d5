// Package locator parses locator expressions and resolves an ordered list
// of them to the first visible element.
//
// Grammar (prefix selects the kind, default is CSS):
//
//	css=<selector>     CSS selector; also any expression without a prefix
//	xpath=<expr>       XPath; also any expression starting with // or (//
//	text=<text>        element whose whole text equals <text>
//	label=<text>       form control labelled by a <label> containing <text>
//	text@<role>=<text> text match narrowed to a role or tag (same for label@)
//	aria=<label>       element with aria-label=<label>
//	role=<role>        element with ARIA role <role>
//	testid=<id>        element with data-testid=<id>
package locator

import (
	"fmt"
	"strings"
)

// Kind is the type of a locator expression.
type Kind string

const (
	KindCSS    Kind = "css"
	KindXPath  Kind = "xpath"
	KindText   Kind = "text"
	KindLabel  Kind = "label"
	KindAria   Kind = "aria"
	KindRole   Kind = "role"
	KindTestID Kind = "testid"
)

var prefixed = []Kind{KindCSS, KindXPath, KindText, KindLabel, KindAria, KindRole, KindTestID}

// Locator is a parsed locator expression.
type Locator struct {
	Kind  Kind
	Value string
	// Role narrows text and label matches to elements with that role or
	// tag name.
	Role string
}

// Parse parses a locator expression.
func Parse(expr string) (Locator, error) {
	s := strings.TrimSpace(expr)
	if s == "" {
		return Locator{}, fmt.Errorf("empty locator")
	}
	for _, k := range []Kind{KindText, KindLabel} {
		p := string(k) + "@"
		if !strings.HasPrefix(s, p) {
			continue
		}
		role, v, ok := strings.Cut(s[len(p):], "=")
		role, v = strings.TrimSpace(role), strings.TrimSpace(v)
		if !ok || role == "" || v == "" {
			return Locator{}, fmt.Errorf("locator %q: want %s@<role>=<text>", expr, k)
		}
		return Locator{Kind: k, Value: unquote(v), Role: role}, nil
	}
	for _, k := range prefixed {
		p := string(k) + "="
		if strings.HasPrefix(s, p) {
			v := strings.TrimSpace(s[len(p):])
			if v == "" {
				return Locator{}, fmt.Errorf("locator %q: empty %s value", expr, k)
			}
			return Locator{Kind: k, Value: unquote(v)}, nil
		}
	}
	if strings.HasPrefix(s, "//") || strings.HasPrefix(s, "(//") {
		return Locator{Kind: KindXPath, Value: s}, nil
	}
	return Locator{Kind: KindCSS, Value: s}, nil
}

// MustParse is Parse for static expressions in tests and literals.
func MustParse(expr string) Locator {
	l, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return l
}

// String renders the locator back to its expression form.
func (l Locator) String() string {
	switch l.Kind {
	case KindCSS:
		return l.Value
	case KindXPath:
		if strings.HasPrefix(l.Value, "//") || strings.HasPrefix(l.Value, "(//") {
			return l.Value
		}
	case KindText, KindLabel:
		if l.Role != "" {
			return string(l.Kind) + "@" + l.Role + "=" + l.Value
		}
	}
	return string(l.Kind) + "=" + l.Value
}

// Text returns a locator for an element whose text equals text, optionally
// narrowed to role.
func Text(text, role string) Locator {
	return Locator{Kind: KindText, Value: text, Role: role}
}

// Label returns a locator for a control labelled with text.
func Label(text, role string) Locator {
	return Locator{Kind: KindLabel, Value: text, Role: role}
}

// CSS returns the locator as a CSS selector, if it has one.
func (l Locator) CSS() (string, bool) {
	switch l.Kind {
	case KindCSS:
		return l.Value, true
	case KindAria:
		return attrSelector("aria-label", l.Value), true
	case KindRole:
		return attrSelector("role", l.Value), true
	case KindTestID:
		return attrSelector("data-testid", l.Value), true
	}
	return "", false
}

// XPath returns the locator as an XPath expression. Plain CSS selectors
// have no XPath form.
func (l Locator) XPath() (string, bool) {
	switch l.Kind {
	case KindXPath:
		return l.Value, true
	case KindAria:
		return "//*[@aria-label=" + xpathLiteral(l.Value) + "]", true
	case KindRole:
		return "//*[@role=" + xpathLiteral(l.Value) + "]", true
	case KindTestID:
		return "//*[@data-testid=" + xpathLiteral(l.Value) + "]", true
	case KindText:
		lit := xpathLiteral(l.Value)
		pred := "normalize-space(.)=" + lit + " and not(*[normalize-space(.)=" + lit + "])"
		if l.Role != "" {
			pred = roleTest(l.Role) + " and normalize-space(.)=" + lit
		}
		return "//*[" + pred + "]", true
	case KindLabel:
		lbl := "//label[contains(normalize-space(.), " + xpathLiteral(l.Value) + ")]"
		controls := "self::input or self::select or self::textarea or self::button"
		if l.Role != "" {
			controls = roleTest(l.Role)
		}
		return "//*[@id=" + lbl + "/@for] | " + lbl + "//*[" + controls + "]", true
	}
	return "", false
}

func roleTest(role string) string {
	lit := xpathLiteral(role)
	return "(@role=" + lit + " or local-name()=" + lit + ")"
}

func attrSelector(attr, value string) string {
	return "[" + attr + "=" + cssString(value) + "]"
}

func cssString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

// xpathLiteral quotes s as an XPath 1.0 string literal.
func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	parts := strings.Split(s, `"`)
	var b strings.Builder
	b.WriteString("concat(")
	for i, p := range parts {
		if i > 0 {
			b.WriteString(`, '"', `)
		}
		b.WriteString(`"` + p + `"`)
	}
	b.WriteString(")")
	return b.String()
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}
