package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ormasoftchile/intentrun/pkg/kernel/engine"
	"github.com/ormasoftchile/intentrun/pkg/kernel/schema"
)

// Observer forwards engine progress to a Bubble Tea program and then to
// Next, if set.
type Observer struct {
	Send func(tea.Msg)
	Next engine.Observer
}

func (o *Observer) StepCompleted(spec string, out engine.Outcome) {
	o.Send(StepMsg{Outcome: out})
	if o.Next != nil {
		o.Next.StepCompleted(spec, out)
	}
}

func (o *Observer) RunCompleted(spec string, r *engine.RunResult) {
	if o.Next != nil {
		o.Next.RunCompleted(spec, r)
	}
}

// RunFunc executes one run, reporting progress to obs.
type RunFunc func(ctx context.Context, obs engine.Observer) *engine.RunResult

// Watch runs fn while showing its progress. Quitting the view cancels the
// run; Watch still waits for fn to return.
func Watch(ctx context.Context, spec *schema.IntentSpec, next engine.Observer, fn RunFunc, opts ...tea.ProgramOption) (*engine.RunResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewModel(spec, cancel), opts...)
	done := make(chan *engine.RunResult, 1)
	go func() {
		res := fn(ctx, &Observer{Send: p.Send, Next: next})
		done <- res
		p.Send(DoneMsg{Result: res})
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-done
		return nil, err
	}
	cancel()
	return <-done, nil
}
