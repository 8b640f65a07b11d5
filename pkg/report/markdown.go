package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/ormasoftchile/intentrun/pkg/kernel/schema"
)

// SpecMarkdown describes a normalized spec as a markdown document.
func SpecMarkdown(spec *schema.IntentSpec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", spec.Name)
	if spec.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", spec.Description)
	}
	if spec.URL != "" {
		fmt.Fprintf(&b, "**Start URL:** %s\n\n", spec.URL)
	}
	if len(spec.Params) > 0 {
		names := make([]string, len(spec.Params))
		for i, p := range spec.Params {
			names[i] = "`" + p + "`"
		}
		fmt.Fprintf(&b, "**Params:** %s\n\n", strings.Join(names, ", "))
	}

	b.WriteString("## Steps\n\n")
	for i := range spec.Steps {
		s := &spec.Steps[i]
		fmt.Fprintf(&b, "%d. **%s**: `%s` via %s", i+1, s.Name, s.Action, s.Prefer)
		if s.Fallback != "" && s.Fallback != schema.PathNone {
			fmt.Fprintf(&b, ", falling back to %s", s.Fallback)
		}
		b.WriteString("\n")

		var notes []string
		if locs := s.SnippetLocators(); len(locs) > 0 {
			notes = append(notes, "Locators: "+codeList(locs))
		}
		if s.Target != nil {
			notes = append(notes, fmt.Sprintf("Target: %q %s", s.Target.Text, s.Target.Role))
		}
		if s.Value != "" {
			notes = append(notes, "Value: `"+s.Value+"`")
		}
		if s.Instruction != "" {
			notes = append(notes, "Instruction: _"+s.Instruction+"_")
		}
		for _, c := range s.PreFlightChecks {
			req := "optional"
			if c.Required {
				req = "required"
			}
			notes = append(notes, fmt.Sprintf("Pre-flight (%s): %s", req, codeList(c.Locators())))
		}
		for _, c := range s.SkipConditions {
			n := fmt.Sprintf("Skip when %s `%s`", c.Kind, c.Value)
			if c.Reason != "" {
				n += " (" + c.Reason + ")"
			}
			notes = append(notes, n)
		}
		if v := s.Validation; v != nil {
			n := fmt.Sprintf("Check %s", v.Kind)
			if v.Locator != "" {
				n += " `" + v.Locator + "`"
			}
			if v.Expected != "" {
				n += " `" + v.Expected + "`"
			}
			if v.ContinueOnFailure {
				n += " (non-fatal)"
			}
			notes = append(notes, n)
		}
		if s.Attempts() > 1 {
			notes = append(notes, fmt.Sprintf("Retries: %d", s.Attempts()))
		}
		if s.SkipOnError() {
			notes = append(notes, "Optional: the run continues if this step fails")
		}
		for _, n := range notes {
			fmt.Fprintf(&b, "   - %s\n", n)
		}
	}
	return b.String()
}

func codeList(items []string) string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = "`" + it + "`"
	}
	return strings.Join(out, ", ")
}

// RenderMarkdown renders md for the terminal. style is a glamour style
// name; "auto" picks one from the terminal background. On failure the raw
// markdown is returned.
func RenderMarkdown(md string, width int, style string) string {
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(width)}
	if style == "" || style == "auto" {
		opts = append(opts, glamour.WithAutoStyle())
	} else {
		opts = append(opts, glamour.WithStandardStyle(style))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimRight(out, "\n") + "\n"
}
