// Package diagram renders intent specs as flow diagrams.
// Supports Mermaid flowchart and ASCII formats.
package diagram

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/ormasoftchile/intentrun/pkg/kernel/schema"
)

// Format represents the output diagram format.
type Format string

const (
	FormatMermaid Format = "mermaid"
	FormatASCII   Format = "ascii"
)

// Generate produces a diagram string from a normalized intent spec.
func Generate(spec *schema.IntentSpec, format Format) (string, error) {
	if spec == nil {
		return "", fmt.Errorf("nil spec")
	}
	switch format {
	case FormatMermaid:
		return generateMermaid(spec), nil
	case FormatASCII:
		return generateASCII(spec), nil
	default:
		return "", fmt.Errorf("unsupported diagram format: %s", format)
	}
}

type diagramStep struct {
	id       string
	name     string
	action   string
	prefer   schema.Path
	fallback schema.Path
	skips    []string
	check    string
	optional bool
}

func collect(spec *schema.IntentSpec) []diagramStep {
	out := make([]diagramStep, 0, len(spec.Steps))
	for i := range spec.Steps {
		s := &spec.Steps[i]
		ds := diagramStep{
			id:       fmt.Sprintf("s%d", i+1),
			name:     s.Name,
			action:   s.Action.String(),
			prefer:   s.Prefer,
			fallback: s.Fallback,
			optional: s.SkipOnError(),
		}
		for _, sc := range s.SkipConditions {
			ds.skips = append(ds.skips, fmt.Sprintf("%s %s", sc.Kind, sc.Value))
		}
		if v := s.Validation; v != nil {
			ds.check = string(v.Kind)
			if v.Expected != "" {
				ds.check += " " + v.Expected
			} else if v.Locator != "" {
				ds.check += " " + v.Locator
			}
		}
		out = append(out, ds)
	}
	return out
}

// --- Mermaid flowchart ---

func generateMermaid(spec *schema.IntentSpec) string {
	var b strings.Builder
	b.WriteString("flowchart TD\n")

	steps := collect(spec)
	start := "START([Start])"
	if spec.URL != "" {
		start = fmt.Sprintf("START([%q])", escMermaid(truncate(spec.URL, 40)))
	}
	if len(steps) == 0 {
		b.WriteString("    " + start + " --> END([Done])\n")
		return b.String()
	}
	b.WriteString("    " + start + " --> " + steps[0].id + "\n")

	for i, s := range steps {
		next := "END"
		if i < len(steps)-1 {
			next = steps[i+1].id
		}
		b.WriteString("    " + nodeDefinition(s) + "\n")
		b.WriteString(fmt.Sprintf("    %s --> %s\n", s.id, next))

		for _, sk := range s.skips {
			b.WriteString(fmt.Sprintf("    %s -.->|%q| %s\n", s.id, "skip: "+escMermaid(truncate(sk, 30)), next))
		}
		if s.fallback != "" && s.fallback != schema.PathNone {
			fb := s.id + "_fb"
			b.WriteString(fmt.Sprintf("    %s[/\"%s %s\"/]\n", fb, pathIcon(s.fallback), s.fallback))
			b.WriteString(fmt.Sprintf("    %s -.->|\"on failure\"| %s\n", s.id, fb))
			b.WriteString(fmt.Sprintf("    %s --> %s\n", fb, next))
		}
		if s.prefer == schema.PathAI {
			b.WriteString(fmt.Sprintf("    style %s fill:#2a1a4a,stroke:#a0f\n", s.id))
		}
	}
	b.WriteString("    END([Done])\n")
	return b.String()
}

// --- ASCII ---

func generateASCII(spec *schema.IntentSpec) string {
	var b strings.Builder

	name := spec.Name
	if name == "" {
		name = "Intent"
	}

	steps := collect(spec)
	if len(steps) == 0 {
		b.WriteString(name + " (empty)\n")
		return b.String()
	}

	const indent = 8
	boxWidth := computeUniformBoxWidth(steps, name)
	connCol := indent + 1 + boxWidth/2
	pad := strings.Repeat(" ", indent)
	connPad := strings.Repeat(" ", connCol)

	mid := boxWidth / 2
	b.WriteString(pad + "╔" + strings.Repeat("═", boxWidth) + "╗\n")
	b.WriteString(pad + "║" + centerPad(name, boxWidth) + "║\n")
	b.WriteString(pad + "╚" + strings.Repeat("═", mid) + "╤" + strings.Repeat("═", boxWidth-mid-1) + "╝\n")
	b.WriteString(connPad + "│\n")

	for i, s := range steps {
		writeASCIIStep(&b, s, indent, boxWidth)
		if i < len(steps)-1 {
			b.WriteString(connPad + "│\n")
		}
	}
	return b.String()
}

// boxLines returns the interior lines of a step box.
func boxLines(s diagramStep) []string {
	lines := []string{fmt.Sprintf(" %s %s ", pathIcon(s.prefer), s.name)}
	route := fmt.Sprintf("   %s via %s", s.action, s.prefer)
	if s.fallback != "" && s.fallback != schema.PathNone {
		route += " → " + string(s.fallback)
	}
	if s.optional {
		route += " (optional)"
	}
	lines = append(lines, route+" ")
	for _, sk := range s.skips {
		lines = append(lines, "   skip if "+truncate(sk, 36)+" ")
	}
	if s.check != "" {
		lines = append(lines, "   ✓ "+truncate(s.check, 36)+" ")
	}
	return lines
}

// computeUniformBoxWidth returns the widest interior width needed
// across all steps and the header name.
func computeUniformBoxWidth(steps []diagramStep, name string) int {
	w := 22
	if nw := runewidth.StringWidth(name) + 4; nw > w {
		w = nw
	}
	for _, s := range steps {
		for _, l := range boxLines(s) {
			if lw := runewidth.StringWidth(l); lw > w {
				w = lw
			}
		}
	}
	return w
}

// centerPad centers s within width using spaces, based on display width.
func centerPad(s string, width int) string {
	sw := runewidth.StringWidth(s)
	if sw >= width {
		return s
	}
	total := width - sw
	left := total / 2
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", total-left)
}

func writeASCIIStep(b *strings.Builder, s diagramStep, indent, boxWidth int) {
	pad := strings.Repeat(" ", indent)
	mid := boxWidth / 2

	b.WriteString(pad + "┌" + strings.Repeat("─", boxWidth) + "┐\n")
	for _, l := range boxLines(s) {
		b.WriteString(pad + "│" + l + strings.Repeat(" ", boxWidth-runewidth.StringWidth(l)) + "│\n")
	}
	b.WriteString(pad + "└" + strings.Repeat("─", mid) + "┬" + strings.Repeat("─", boxWidth-mid-1) + "┘\n")
}

func pathIcon(p schema.Path) string {
	switch p {
	case schema.PathSnippet:
		return "⚡"
	case schema.PathAI:
		return "✦"
	default:
		return "○"
	}
}

// --- string helpers ---

func nodeDefinition(s diagramStep) string {
	label := escMermaid(s.name) + "<br/>" + s.action
	if s.check != "" {
		label += "<br/>✓ " + escMermaid(truncate(s.check, 30))
	}
	if s.optional {
		return fmt.Sprintf(`%s{{"%s %s"}}`, s.id, pathIcon(s.prefer), label)
	}
	return fmt.Sprintf(`%s["%s %s"]`, s.id, pathIcon(s.prefer), label)
}

func escMermaid(s string) string {
	s = strings.ReplaceAll(s, `"`, "#quot;")
	s = strings.ReplaceAll(s, `'`, "#apos;")
	return s
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
