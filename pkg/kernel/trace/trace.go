// Package trace implements the append-only JSONL audit trail of intent
// runs. Each event carries the SHA-256 of the previous line so a trace can
// be checked for tampering with Verify.
package trace

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// EventType enumerates all trace event types.
type EventType string

const (
	EventRunStart     EventType = "run_start"
	EventRunComplete  EventType = "run_complete"
	EventRunCancelled EventType = "run_cancelled"
	EventStepStart    EventType = "step_start"
	EventStepSkipped  EventType = "step_skipped"
	EventPreflight    EventType = "preflight"
	EventAttempt      EventType = "attempt"
	EventFallback     EventType = "fallback"
	EventValidation   EventType = "validation"
	EventStepComplete EventType = "step_complete"
)

// StepStatus is the execution status of a step.
type StepStatus string

const (
	StatusSuccess   StepStatus = "success"
	StatusFailed    StepStatus = "failed"
	StatusSkipped   StepStatus = "skipped"
	StatusCancelled StepStatus = "cancelled"
)

// Genesis is the prev_hash of the first event in a trace.
var Genesis = strings.Repeat("0", 64)

// Event is a single trace event written to the JSONL stream.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	PrevHash  string         `json:"prev_hash"`
	Data      map[string]any `json:"data,omitempty"`
}

// Failure describes why a step or attempt failed.
type Failure struct {
	Kind    string `json:"kind"` // templating-error, locator-not-found, timeout, driver-error, ...
	Message string `json:"message"`
}

// Writer writes trace events to an append-only JSONL stream. It is safe
// for concurrent use.
type Writer struct {
	mu       sync.Mutex
	w        io.Writer
	closer   io.Closer
	runID    string
	prevHash string
	secrets  []string
	redactor func(string) string
	now      func() time.Time
}

// NewWriter creates a trace writer that writes to the given io.Writer.
func NewWriter(w io.Writer, runID string) *Writer {
	return &Writer{
		w:        w,
		runID:    runID,
		prevHash: Genesis,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// NewFileWriter creates a trace writer that appends to a JSONL file.
func NewFileWriter(path, runID string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	tw := NewWriter(f, runID)
	tw.closer = f
	return tw, nil
}

// RunID returns the run the writer is bound to.
func (tw *Writer) RunID() string { return tw.runID }

// SetSecrets configures values that are replaced with <REDACTED> in every
// string written to the trace.
func (tw *Writer) SetSecrets(values []string) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	tw.secrets = nil
	for _, v := range values {
		if v != "" {
			tw.secrets = append(tw.secrets, v)
		}
	}
}

// SetRedactor installs an extra rewrite applied to every string after
// secret values are replaced.
func (tw *Writer) SetRedactor(fn func(string) string) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	tw.redactor = fn
}

// RedactSecrets replaces secret values in a string with "<REDACTED>".
func (tw *Writer) RedactSecrets(s string) string {
	for _, val := range tw.secrets {
		s = strings.ReplaceAll(s, val, "<REDACTED>")
	}
	if tw.redactor != nil {
		s = tw.redactor(s)
	}
	return s
}

// Emit writes a single trace event.
func (tw *Writer) Emit(eventType EventType, data map[string]any) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	evt := Event{
		Type:      eventType,
		Timestamp: tw.now(),
		RunID:     tw.runID,
		PrevHash:  tw.prevHash,
		Data:      tw.redactMap(data),
	}
	line, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode trace event: %w", err)
	}
	if _, err := tw.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write trace event: %w", err)
	}
	sum := sha256.Sum256(line)
	tw.prevHash = hex.EncodeToString(sum[:])
	return nil
}

// Close closes the underlying file, if the writer opened one.
func (tw *Writer) Close() error {
	if tw.closer == nil {
		return nil
	}
	return tw.closer.Close()
}

func (tw *Writer) redactMap(m map[string]any) map[string]any {
	if m == nil || (len(tw.secrets) == 0 && tw.redactor == nil) {
		return m
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case string:
			out[k] = tw.RedactSecrets(val)
		case map[string]any:
			out[k] = tw.redactMap(val)
		default:
			out[k] = v
		}
	}
	return out
}

// EmitRunStart emits a run_start event.
func (tw *Writer) EmitRunStart(spec string, vars map[string]string) error {
	data := map[string]any{"spec": spec}
	if len(vars) > 0 {
		in := make(map[string]any, len(vars))
		for k, v := range vars {
			in[k] = v
		}
		data["vars"] = in
	}
	return tw.Emit(EventRunStart, data)
}

// EmitStepStart emits a step_start event.
func (tw *Writer) EmitStepStart(step, action, prefer, fallback string) error {
	return tw.Emit(EventStepStart, map[string]any{
		"step":     step,
		"action":   action,
		"prefer":   prefer,
		"fallback": fallback,
	})
}

// EmitStepSkipped emits a step_skipped event.
func (tw *Writer) EmitStepSkipped(step, reason string) error {
	return tw.Emit(EventStepSkipped, map[string]any{
		"step":   step,
		"reason": reason,
	})
}

// EmitPreflight emits the result of one pre-flight check.
func (tw *Writer) EmitPreflight(step, locator string, required, passed bool) error {
	return tw.Emit(EventPreflight, map[string]any{
		"step":     step,
		"locator":  locator,
		"required": required,
		"passed":   passed,
	})
}

// EmitAttempt emits the result of one primary or fallback attempt.
func (tw *Writer) EmitAttempt(step, path string, attempt int, failure *Failure) error {
	data := map[string]any{
		"step":    step,
		"path":    path,
		"attempt": attempt,
		"ok":      failure == nil,
	}
	if failure != nil {
		data["failure"] = failureMap(failure)
	}
	return tw.Emit(EventAttempt, data)
}

// EmitFallback emits a fallback event when the other path is taken.
func (tw *Writer) EmitFallback(step, from, to string, cause *Failure) error {
	data := map[string]any{
		"step": step,
		"from": from,
		"to":   to,
	}
	if cause != nil {
		data["cause"] = failureMap(cause)
	}
	return tw.Emit(EventFallback, data)
}

// EmitValidation emits a validation event.
func (tw *Writer) EmitValidation(step, kind string, passed bool, detail string) error {
	return tw.Emit(EventValidation, map[string]any{
		"step":   step,
		"kind":   kind,
		"passed": passed,
		"detail": detail,
	})
}

// EmitStepComplete emits a step_complete event.
func (tw *Writer) EmitStepComplete(step string, status StepStatus, path string, attempts int, duration time.Duration, failure *Failure) error {
	data := map[string]any{
		"step":     step,
		"status":   string(status),
		"path":     path,
		"attempts": attempts,
		"duration": duration.String(),
	}
	if failure != nil {
		data["failure"] = failureMap(failure)
	}
	return tw.Emit(EventStepComplete, data)
}

// EmitRunCancelled emits a run_cancelled event.
func (tw *Writer) EmitRunCancelled(completed int) error {
	return tw.Emit(EventRunCancelled, map[string]any{"completed_steps": completed})
}

// EmitRunComplete emits a run_complete event carrying the chain hash of
// every event before it.
func (tw *Writer) EmitRunComplete(status string, steps int, duration time.Duration) error {
	tw.mu.Lock()
	chain := tw.prevHash
	tw.mu.Unlock()
	return tw.Emit(EventRunComplete, map[string]any{
		"status":     status,
		"steps":      steps,
		"duration":   duration.String(),
		"chain_hash": chain,
	})
}

func failureMap(f *Failure) map[string]any {
	return map[string]any{
		"kind":    f.Kind,
		"message": f.Message,
	}
}
