// Package report renders run results and harness results for humans
// (styled text) and machines (JSON).
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/ormasoftchile/intentrun/pkg/kernel/engine"
	harness "github.com/ormasoftchile/intentrun/pkg/kernel/testing"
)

// Run is the JSON form of a run result.
type Run struct {
	RunID      string           `json:"runId"`
	Spec       string           `json:"spec"`
	Status     string           `json:"status"`
	DurationMs int64            `json:"durationMs"`
	Error      string           `json:"error,omitempty"`
	Outcomes   []engine.Outcome `json:"outcomes"`
	Fallbacks  int              `json:"fallbacks"`
}

// FromResult converts an engine result into its report form.
func FromResult(r *engine.RunResult) Run {
	out := Run{
		RunID:      r.RunID,
		Spec:       r.Spec,
		Status:     r.Status,
		DurationMs: r.Duration.Milliseconds(),
		Outcomes:   r.Outcomes,
	}
	if out.Outcomes == nil {
		out.Outcomes = []engine.Outcome{}
	}
	if r.Error != nil {
		out.Error = r.Error.Error()
	}
	for _, o := range r.Outcomes {
		if o.FallbackOccurred {
			out.Fallbacks++
		}
	}
	return out
}

// WriteRunsJSON writes the results as an indented JSON array.
func WriteRunsJSON(w io.Writer, results []*engine.RunResult) error {
	runs := make([]Run, 0, len(results))
	for _, r := range results {
		runs = append(runs, FromResult(r))
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(runs)
}

// WriteRun writes a styled step-by-step summary of one run.
func WriteRun(w io.Writer, r *engine.RunResult) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("%s  %s", r.Spec, r.RunID)))

	width := 0
	for _, o := range r.Outcomes {
		width = max(width, runewidth.StringWidth(o.StepName))
	}
	for _, o := range r.Outcomes {
		fmt.Fprintln(w, "  "+stepLine(o, width))
	}

	line := fmt.Sprintf("%s in %s", r.Status, r.Duration.Round(time.Millisecond))
	if n := FromResult(r).Fallbacks; n > 0 {
		line += fmt.Sprintf(", %d fallback(s)", n)
	}
	fmt.Fprintln(w, runStyle(r.Status).Render(line))
	if r.Error != nil {
		fmt.Fprintln(w, failedStyle.Render("  "+r.Error.Error()))
	}
}

func stepLine(o engine.Outcome, width int) string {
	name := runewidth.FillRight(o.StepName, width)
	switch o.Status {
	case engine.StatusSkipped:
		reason := o.SkipReason
		if reason == "" {
			reason = "skipped"
		}
		return skippedStyle.Render(fmt.Sprintf("%s %s  %s", GlyphSkipped, name, reason))
	case engine.StatusCancelled:
		return failedStyle.Render(fmt.Sprintf("%s %s  cancelled", GlyphCancelled, name))
	}

	detail := fmt.Sprintf("%-7s x%d  %s", o.PathUsed, o.Attempts, o.Duration.Round(time.Millisecond))
	if o.FallbackOccurred {
		detail += "  " + fallbackStyle.Render(GlyphFallback+" fallback")
	}
	if o.Status == engine.StatusFailed {
		msg := o.Error
		if o.NonFatal {
			msg += " (continued)"
		}
		return failedStyle.Render(GlyphFailed+" "+name) + "  " + dimStyle.Render(detail) + "\n    " + failedStyle.Render(msg)
	}
	return passedStyle.Render(GlyphPassed+" "+name) + "  " + dimStyle.Render(detail)
}

func runStyle(status string) lipgloss.Style {
	switch status {
	case engine.RunCompleted:
		return passedStyle
	case engine.RunCancelled:
		return skippedStyle
	default:
		return failedStyle
	}
}

// WriteTests writes a styled summary of a harness run. Failed assertions
// are always listed; passing ones only when verbose.
func WriteTests(w io.Writer, out *harness.TestOutput, verbose bool) {
	fmt.Fprintln(w, titleStyle.Render("spec "+out.Spec))
	for _, s := range out.Scenarios {
		head := fmt.Sprintf("%s %s (%dms)", testGlyph(s.Status), s.ScenarioName, s.DurationMs)
		switch s.Status {
		case harness.TestPassed:
			fmt.Fprintln(w, "  "+passedStyle.Render(head))
		case harness.TestSkipped:
			fmt.Fprintln(w, "  "+skippedStyle.Render(head+" no test.yaml"))
		default:
			fmt.Fprintln(w, "  "+failedStyle.Render(head))
		}
		if s.Error != "" && s.Status != harness.TestSkipped {
			fmt.Fprintln(w, "      "+failedStyle.Render(s.Error))
		}
		for _, a := range s.Assertions {
			if a.Passed && !verbose {
				continue
			}
			glyph := GlyphPassed
			style := dimStyle
			if !a.Passed {
				glyph, style = GlyphFailed, failedStyle
			}
			fmt.Fprintln(w, "      "+style.Render(fmt.Sprintf("%s [%s] %s", glyph, a.Type, a.Message)))
		}
	}

	sum := out.Summary
	parts := []string{fmt.Sprintf("%d passed", sum.Passed)}
	if sum.Failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", sum.Failed))
	}
	if sum.Errors > 0 {
		parts = append(parts, fmt.Sprintf("%d errors", sum.Errors))
	}
	if sum.Skipped > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", sum.Skipped))
	}
	line := fmt.Sprintf("%d scenarios: %s", sum.Total, strings.Join(parts, ", "))
	if sum.Failed+sum.Errors > 0 {
		fmt.Fprintln(w, failedStyle.Render(line))
	} else {
		fmt.Fprintln(w, passedStyle.Render(line))
	}
}

// WriteTestsJSON writes the harness output as indented JSON.
func WriteTestsJSON(w io.Writer, out *harness.TestOutput) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func testGlyph(status string) string {
	switch status {
	case harness.TestPassed:
		return GlyphPassed
	case harness.TestSkipped:
		return GlyphSkipped
	default:
		return GlyphFailed
	}
}
