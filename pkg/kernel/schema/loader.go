package schema

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// LoadFile reads and structurally decodes an intent spec (YAML or JSON).
// Returns a structural error if the document contains unknown fields.
func LoadFile(path string) (*IntentSpec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open intent spec: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load reads an intent spec from a reader and normalises it.
func Load(r io.Reader) (*IntentSpec, error) {
	data, err := io.ReadAll(bufio.NewReader(r))
	if err != nil {
		return nil, fmt.Errorf("read intent spec: %w", err)
	}
	spec, err := decode(data)
	if err != nil {
		return nil, err
	}
	for i, s := range spec.Steps {
		if s.Action == ActionUnknown {
			return nil, fmt.Errorf("structural decode: steps[%d] (%s): action is required", i, s.Name)
		}
	}
	Normalize(spec)
	return spec, nil
}

func decode(data []byte) (*IntentSpec, error) {
	var spec IntentSpec
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&spec); err != nil {
			return nil, fmt.Errorf("structural decode: %w", err)
		}
		return &spec, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true) // strict: reject unknown fields
	if err := dec.Decode(&spec); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("structural decode: empty document")
		}
		return nil, fmt.Errorf("structural decode: %w", err)
	}
	return &spec, nil
}

// Normalize fills every optional field with its effective value so the
// executor never has to check for presence. It is idempotent.
func Normalize(spec *IntentSpec) {
	if spec.Preferences == nil {
		spec.Preferences = &Preferences{}
	}
	p := spec.Preferences
	if p.TimeoutMs <= 0 {
		p.TimeoutMs = DefaultTimeoutMs
	}
	if p.NavigateRetries <= 0 {
		p.NavigateRetries = DefaultNavigateRetries
	}
	if p.NavigateBackoffMs <= 0 {
		p.NavigateBackoffMs = DefaultNavigateBackoffMs
	}

	for i := range spec.Steps {
		normalizeStep(spec, &spec.Steps[i], fmt.Sprintf("steps[%d]", i))
	}
}

func normalizeStep(spec *IntentSpec, s *Step, path string) {
	p := spec.Preferences

	if s.Prefer == "" {
		switch {
		case p.DefaultPrefer != "":
			s.Prefer = p.DefaultPrefer
		case len(s.Locators) == 0 && s.Target == nil && s.Action.NeedsElement():
			s.Prefer = PathAI
		default:
			s.Prefer = PathSnippet
		}
	}
	if s.Fallback == "" {
		if p.DefaultFallback != "" {
			s.Fallback = p.DefaultFallback
		} else {
			s.Fallback = s.Prefer.Other()
		}
	}
	if s.Fallback == s.Prefer && s.Prefer != PathNone {
		s.Fallback = s.Prefer.Other()
		spec.Adjustments = append(spec.Adjustments, Adjustment{
			Path:    path + ".fallback",
			Message: fmt.Sprintf("fallback equals prefer (%s); using %s", s.Prefer, s.Fallback),
		})
	}

	if s.TimeoutMs <= 0 {
		s.TimeoutMs = p.TimeoutMs
	}

	if s.ErrorHandling == nil {
		s.ErrorHandling = &ErrorHandling{}
	}
	if s.ErrorHandling.Retries < 1 {
		s.ErrorHandling.Retries = 1
	}
	if s.ErrorHandling.RetryDelayMs <= 0 {
		s.ErrorHandling.RetryDelayMs = p.RetryDelayMs
	}

	for j := range s.PreFlightChecks {
		if s.PreFlightChecks[j].Timeout <= 0 {
			s.PreFlightChecks[j].Timeout = DefaultPreflightTimeoutMs
		}
	}

	if s.Action == ActionWait && s.Wait == nil {
		switch {
		case len(s.Locators) > 0:
			s.Wait = &WaitCondition{Kind: WaitVisible}
		default:
			delay := strconv.Itoa(DefaultWaitDelayMs)
			if _, err := strconv.Atoi(s.Value); err == nil {
				delay = s.Value
			}
			s.Wait = &WaitCondition{Kind: WaitDelay, Value: delay}
		}
	}
	if s.Wait != nil && s.Wait.TimeoutMs <= 0 {
		s.Wait.TimeoutMs = s.TimeoutMs
	}
}
