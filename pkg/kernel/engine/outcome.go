package engine

import (
	"time"

	"github.com/ormasoftchile/intentrun/pkg/kernel/fault"
	"github.com/ormasoftchile/intentrun/pkg/kernel/schema"
)

// Status is the terminal state of one step.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
	StatusCancelled Status = "cancelled"
)

// CancelledStepName names the pseudo-outcome appended on cancellation.
const CancelledStepName = "CANCELLED"

// Run statuses.
const (
	RunCompleted = "completed"
	RunFailed    = "failed"
	RunError     = "error"
	RunCancelled = "cancelled"
)

// Outcome is the record of one executed step. It is created fresh per step
// and not modified after the executor returns it.
type Outcome struct {
	StepName         string            `json:"stepName"`
	Status           Status            `json:"status"`
	Success          bool              `json:"success"`
	PathUsed         schema.Path       `json:"pathUsed"`
	FallbackOccurred bool              `json:"fallbackOccurred"`
	Attempts         int               `json:"attempts"`
	Skipped          bool              `json:"skipped,omitempty"`
	SkipReason       string            `json:"skipReason,omitempty"`
	NonFatal         bool              `json:"nonFatal,omitempty"`
	Error            string            `json:"error,omitempty"`
	ErrorKind        fault.Kind        `json:"errorKind,omitempty"`
	Validation       *ValidationResult `json:"validation,omitempty"`
	Duration         time.Duration     `json:"duration"`

	Err error `json:"-"`
}

// ValidationResult is the last validation evaluated for a step.
type ValidationResult struct {
	Kind   schema.ValidationKind `json:"kind"`
	Passed bool                  `json:"passed"`
	Detail string                `json:"detail,omitempty"`
}

func (o *Outcome) fail(err error) {
	o.Status = StatusFailed
	o.Success = false
	o.Err = err
	o.Error = err.Error()
	o.ErrorKind = fault.KindOf(err)
}

func (o *Outcome) succeed(path schema.Path) {
	o.Status = StatusSuccess
	o.Success = true
	o.PathUsed = path
	o.Err = nil
	o.Error = ""
	o.ErrorKind = ""
}

func cancelledOutcome(err error) Outcome {
	o := Outcome{StepName: CancelledStepName, Status: StatusCancelled, PathUsed: schema.PathNone}
	if err != nil {
		o.Err = err
		o.Error = err.Error()
	}
	o.ErrorKind = fault.KindCancelled
	return o
}

// RunResult is the outcome of executing an intent spec.
type RunResult struct {
	RunID    string        `json:"runId"`
	Spec     string        `json:"spec"`
	Status   string        `json:"status"` // completed, failed, error, cancelled
	Outcomes []Outcome     `json:"outcomes"`
	Duration time.Duration `json:"duration"`
	Error    error         `json:"-"`
}

// Failed returns the outcome that stopped the run, if any.
func (r *RunResult) Failed() *Outcome {
	for i := len(r.Outcomes) - 1; i >= 0; i-- {
		o := &r.Outcomes[i]
		if o.Status == StatusFailed && !o.NonFatal {
			return o
		}
	}
	return nil
}

// Outcome returns the outcome recorded for the named step.
func (r *RunResult) Outcome(step string) (Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.StepName == step {
			return o, true
		}
	}
	return Outcome{}, false
}
