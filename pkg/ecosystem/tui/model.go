// Package tui renders a live Bubble Tea view of one run: the step list
// fills in as outcomes arrive from the engine.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ormasoftchile/intentrun/pkg/kernel/engine"
	"github.com/ormasoftchile/intentrun/pkg/kernel/schema"
	"github.com/ormasoftchile/intentrun/pkg/report"
)

// Step states shown in the list.
const (
	statePending   = "pending"
	stateRunning   = "running"
	stateSuccess   = "success"
	stateFailed    = "failed"
	stateSkipped   = "skipped"
	stateCancelled = "cancelled"
)

// StepState tracks one step in the view.
type StepState struct {
	Name     string
	Action   string
	Status   string
	Path     schema.Path
	Fallback bool
	Duration time.Duration
	Detail   string // error or skip reason
}

// StepMsg delivers a completed step to the view.
type StepMsg struct{ Outcome engine.Outcome }

// DoneMsg signals the run has finished.
type DoneMsg struct{ Result *engine.RunResult }

type keyMap struct {
	Up   key.Binding
	Down key.Binding
	Quit key.Binding
}

var keys = keyMap{
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "down"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "stop"),
	),
}

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("51"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	okStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("40"))
	failStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	spinnerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
)

// Model is the Bubble Tea model for a live run.
type Model struct {
	spec     *schema.IntentSpec
	steps    []StepState
	next     int
	selected int
	spinner  spinner.Model
	result   *engine.RunResult
	stopped  bool
	cancel   context.CancelFunc
}

// NewModel creates a view for spec. cancel, when set, is called if the
// user stops the run.
func NewModel(spec *schema.IntentSpec, cancel context.CancelFunc) Model {
	steps := make([]StepState, 0, len(spec.Steps))
	for _, s := range spec.Steps {
		steps = append(steps, StepState{Name: s.Name, Action: s.Action.String(), Status: statePending})
	}
	if len(steps) > 0 {
		steps[0].Status = stateRunning
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle
	return Model{spec: spec, steps: steps, spinner: sp, cancel: cancel}
}

// Steps returns the current step states.
func (m Model) Steps() []StepState { return m.steps }

// Result returns the finished run, or nil while it is in progress.
func (m Model) Result() *engine.RunResult { return m.result }

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			if m.result == nil && !m.stopped && m.cancel != nil {
				m.stopped = true
				m.cancel()
				return m, nil
			}
			return m, tea.Quit
		case key.Matches(msg, keys.Up):
			if m.selected > 0 {
				m.selected--
			}
		case key.Matches(msg, keys.Down):
			if m.selected < len(m.steps)-1 {
				m.selected++
			}
		}

	case spinner.TickMsg:
		if m.result != nil {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case StepMsg:
		m.applyOutcome(msg.Outcome)

	case DoneMsg:
		m.result = msg.Result
		for i := range m.steps {
			if m.steps[i].Status == stateRunning {
				m.steps[i].Status = statePending
			}
		}
		return m, tea.Quit
	}
	return m, nil
}

// applyOutcome records o against the first unfinished step with its name.
// Outcomes arrive in step order.
func (m *Model) applyOutcome(o engine.Outcome) {
	if o.StepName == engine.CancelledStepName {
		for i := m.next; i < len(m.steps); i++ {
			m.steps[i].Status = stateCancelled
		}
		m.next = len(m.steps)
		return
	}
	for i := m.next; i < len(m.steps); i++ {
		if m.steps[i].Name != o.StepName {
			continue
		}
		s := &m.steps[i]
		s.Path = o.PathUsed
		s.Fallback = o.FallbackOccurred
		s.Duration = o.Duration
		switch o.Status {
		case engine.StatusSuccess:
			s.Status = stateSuccess
		case engine.StatusSkipped:
			s.Status = stateSkipped
			s.Detail = o.SkipReason
		case engine.StatusCancelled:
			s.Status = stateCancelled
		default:
			s.Status = stateFailed
			s.Detail = o.Error
		}
		m.next = i + 1
		if m.next < len(m.steps) {
			m.steps[m.next].Status = stateRunning
		}
		return
	}
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("  intentrun: " + m.spec.Name))
	if m.spec.URL != "" {
		b.WriteString(dimStyle.Render("  " + m.spec.URL))
	}
	b.WriteString("\n\n")

	for i, s := range m.steps {
		line := fmt.Sprintf("%s %s [%s]", m.icon(s.Status), s.Name, s.Action)
		if s.Status == stateSuccess && s.Path != "" {
			line += " via " + string(s.Path)
		}
		if s.Fallback {
			line += " " + report.GlyphFallback
		}
		if s.Duration > 0 {
			line += "  " + s.Duration.Truncate(time.Millisecond).String()
		}
		if i == m.selected {
			b.WriteString(selectedStyle.Render("▸ " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}

	if m.selected < len(m.steps) && m.steps[m.selected].Detail != "" {
		b.WriteString("\n")
		b.WriteString(dimStyle.Render("  " + m.steps[m.selected].Detail))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	switch {
	case m.result != nil && m.result.Status == engine.RunCompleted:
		b.WriteString(okStyle.Render(fmt.Sprintf("  %s %s in %s", report.GlyphPassed, m.result.Status, m.result.Duration.Truncate(time.Millisecond))))
	case m.result != nil:
		msg := m.result.Status
		if m.result.Error != nil {
			msg += ": " + m.result.Error.Error()
		}
		b.WriteString(failStyle.Render("  " + report.GlyphFailed + " " + msg))
	case m.stopped:
		b.WriteString(dimStyle.Render("  Stopping..."))
	default:
		b.WriteString(dimStyle.Render("  Running..."))
	}

	if m.result == nil {
		b.WriteString("\n\n")
		b.WriteString(dimStyle.Render("  q: stop  ↑/↓: navigate"))
	}
	b.WriteString("\n")
	return b.String()
}

func (m Model) icon(status string) string {
	switch status {
	case statePending:
		return "○"
	case stateRunning:
		return m.spinner.View()
	case stateSuccess:
		return report.GlyphPassed
	case stateFailed:
		return report.GlyphFailed
	case stateSkipped:
		return report.GlyphSkipped
	case stateCancelled:
		return report.GlyphCancelled
	default:
		return "?"
	}
}
