// Package semantic defines the semantic executor: an agent that carries out
// a natural-language instruction against the live page. The engine only
// sees the Executor interface.
package semantic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// Result is what a semantic executor reports for one instruction.
type Result struct {
	Success bool           `json:"success"`
	Error   string         `json:"error,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// Executor carries out natural-language instructions.
type Executor interface {
	Execute(ctx context.Context, instruction string) (Result, error)
}

// Func adapts a function to Executor.
type Func func(ctx context.Context, instruction string) (Result, error)

func (f Func) Execute(ctx context.Context, instruction string) (Result, error) {
	return f(ctx, instruction)
}

// Unavailable is used when no semantic executor is configured. Every
// instruction fails without side effects.
var Unavailable Executor = Func(func(context.Context, string) (Result, error) {
	return Result{Success: false, Error: "no semantic executor configured"}, nil
})

// reply is the loose wire shape agents answer with.
type reply struct {
	Success *bool          `json:"success"`
	OK      *bool          `json:"ok"`
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

// ParseReply interprets an agent's textual answer. JSON answers, possibly
// malformed or wrapped in a code fence, are repaired and decoded; any
// other text is treated as a plain message whose success is !isError.
func ParseReply(text string, isError bool) Result {
	body := stripFence(strings.TrimSpace(text))
	if strings.HasPrefix(body, "{") {
		if r, ok := decodeReply(body, isError); ok {
			return r
		}
	}
	res := Result{Success: !isError}
	if body != "" {
		res.Data = map[string]any{"text": body}
	}
	if isError {
		res.Error = body
		if res.Error == "" {
			res.Error = "semantic executor reported an error"
		}
	}
	return res
}

func decodeReply(body string, isError bool) (Result, bool) {
	var rp reply
	if err := strictUnmarshal(body, &rp); err != nil {
		repaired, rerr := jsonrepair.JSONRepair(body)
		if rerr != nil {
			return Result{}, false
		}
		if err := strictUnmarshal(repaired, &rp); err != nil {
			return Result{}, false
		}
	}
	res := Result{Success: !isError, Error: rp.Error, Data: rp.Data}
	switch {
	case rp.Success != nil:
		res.Success = *rp.Success && !isError
	case rp.OK != nil:
		res.Success = *rp.OK && !isError
	}
	if res.Error == "" && !res.Success {
		res.Error = rp.Message
	}
	if res.Error == "" && !res.Success {
		res.Error = "semantic executor reported failure"
	}
	return res, true
}

func strictUnmarshal(s string, v any) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	return nil
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
