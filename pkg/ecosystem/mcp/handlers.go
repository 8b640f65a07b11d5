package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ormasoftchile/intentrun/pkg/diagram"
	"github.com/ormasoftchile/intentrun/pkg/kernel/engine"
	"github.com/ormasoftchile/intentrun/pkg/kernel/eval"
	"github.com/ormasoftchile/intentrun/pkg/kernel/replay"
	kschema "github.com/ormasoftchile/intentrun/pkg/kernel/schema"
	ktesting "github.com/ormasoftchile/intentrun/pkg/kernel/testing"
	kvalidate "github.com/ormasoftchile/intentrun/pkg/kernel/validate"
	"github.com/ormasoftchile/intentrun/pkg/report"
)

// Handlers carries the settings shared by the tool handlers.
type Handlers struct {
	Timeout time.Duration
	Logger  *slog.Logger
	Cache   *eval.Cache
}

// HandleValidate implements the intentrun/validate MCP tool.
func (h *Handlers) HandleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := req.GetString("path", "")
	if path == "" {
		return errorResult("path argument is required"), nil
	}

	spec, all := kvalidate.ValidateFile(path)
	errs, warnings := kvalidate.Split(all)
	if len(errs) > 0 {
		return errorResult(formatErrors(errs)), nil
	}
	msg := fmt.Sprintf("✓ %s is valid (%d steps)", spec.Name, len(spec.Steps))
	for _, w := range warnings {
		msg += "\n  warning: " + w.Error()
	}
	return textResult(msg), nil
}

// HandleSchema implements the intentrun/schema MCP tool.
func (h *Handlers) HandleSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := kschema.GenerateJSONSchema()
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(string(data)), nil
}

// HandleDiagram implements the intentrun/diagram MCP tool.
func (h *Handlers) HandleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := req.GetString("path", "")
	if path == "" {
		return errorResult("path argument is required"), nil
	}
	spec, all := kvalidate.ValidateFile(path)
	if kvalidate.HasErrors(all) {
		errs, _ := kvalidate.Split(all)
		return errorResult(formatErrors(errs)), nil
	}
	out, err := diagram.Generate(spec, diagram.Format(req.GetString("format", string(diagram.FormatMermaid))))
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(out), nil
}

// HandleReplay implements the intentrun/replay MCP tool: one run of a spec
// against a recorded scenario. It never touches a live browser.
func (h *Handlers) HandleReplay(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := req.GetString("path", "")
	name := req.GetString("scenario", "")
	if path == "" || name == "" {
		return errorResult("path and scenario arguments are required"), nil
	}

	spec, all := kvalidate.ValidateFile(path)
	if kvalidate.HasErrors(all) {
		errs, _ := kvalidate.Split(all)
		return errorResult(formatErrors(errs)), nil
	}
	scenario, err := replay.LoadScenarioDir(ktesting.ScenarioDir(path, name))
	if err != nil {
		return errorResult(fmt.Sprintf("load scenario: %s", err)), nil
	}

	vars := scenario.Vars
	if raw, ok := req.GetArguments()["vars"].(map[string]any); ok {
		vars = make(map[string]string, len(scenario.Vars)+len(raw))
		for k, v := range scenario.Vars {
			vars[k] = v
		}
		for k, v := range raw {
			vars[k] = fmt.Sprint(v)
		}
	}

	if h.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}
	pb, err := scenario.Open(ctx)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	res := engine.New(engine.Config{
		RunID:    "mcp-" + name,
		Driver:   pb.Driver,
		Semantic: pb.Semantic,
		Comparer: pb.Comparer,
		Logger:   h.Logger,
		Cache:    h.Cache,
		Sleep:    func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
	}).Run(ctx, spec, vars)

	data, _ := json.MarshalIndent(report.FromResult(res), "", "  ")
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
		IsError: res.Status != engine.RunCompleted,
	}, nil
}

// HandleTest implements the intentrun/test MCP tool.
func (h *Handlers) HandleTest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := req.GetString("path", "")
	if path == "" {
		return errorResult("path argument is required"), nil
	}
	scenarioName := req.GetString("scenario", "")

	timeout := h.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	runner := &ktesting.Runner{
		Timeout: timeout,
		Logger:  h.Logger,
		Cache:   h.Cache,
	}

	var output *ktesting.TestOutput
	if scenarioName != "" {
		result, err := runner.RunScenario(ctx, path, scenarioName)
		if err != nil {
			return errorResult(fmt.Sprintf("run scenario: %s", err)), nil
		}
		output = &ktesting.TestOutput{
			Spec:      result.SpecName,
			Scenarios: []ktesting.TestResult{*result},
			Summary:   ktesting.TestSummary{Total: 1},
		}
		switch result.Status {
		case ktesting.TestPassed:
			output.Summary.Passed = 1
		case ktesting.TestFailed:
			output.Summary.Failed = 1
		case ktesting.TestSkipped:
			output.Summary.Skipped = 1
		default:
			output.Summary.Errors = 1
		}
	} else {
		var err error
		output, err = runner.RunAll(ctx, path)
		if err != nil {
			return errorResult(fmt.Sprintf("run tests: %s", err)), nil
		}
	}

	data, _ := json.MarshalIndent(output, "", "  ")

	isErr := output.Summary.Failed > 0 || output.Summary.Errors > 0
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
		IsError: isErr,
	}, nil
}

func formatErrors(errs []*kvalidate.ValidationError) string {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(msg),
		},
		IsError: true,
	}
}
