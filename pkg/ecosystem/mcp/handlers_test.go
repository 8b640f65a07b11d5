package mcp

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	ktesting "github.com/ormasoftchile/intentrun/pkg/kernel/testing"
	"github.com/ormasoftchile/intentrun/pkg/report"
)

var checkoutSpec = filepath.Join("..", "..", "kernel", "testing", "testdata", "checkout.yaml")

func call(t *testing.T, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) (*mcp.CallToolResult, string) {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Content) == 0 {
		t.Fatal("no content")
	}
	text, ok := mcp.AsTextContent(result.Content[0])
	if !ok {
		t.Fatalf("content is %T", result.Content[0])
	}
	return result, text.Text
}

func TestHandleValidate_MissingPath(t *testing.T) {
	h := &Handlers{}
	result, _ := call(t, h.HandleValidate, map[string]any{})
	if !result.IsError {
		t.Error("expected error for missing path")
	}
}

func TestHandleValidate(t *testing.T) {
	h := &Handlers{}
	result, text := call(t, h.HandleValidate, map[string]any{"path": checkoutSpec})
	if result.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	if !strings.Contains(text, "checkout is valid (4 steps)") {
		t.Errorf("text = %q", text)
	}
}

func TestHandleValidate_Missing(t *testing.T) {
	h := &Handlers{}
	result, text := call(t, h.HandleValidate, map[string]any{"path": filepath.Join(t.TempDir(), "x.yaml")})
	if !result.IsError || !strings.Contains(text, "structural") {
		t.Errorf("result = %v %q", result.IsError, text)
	}
}

func TestHandleSchema(t *testing.T) {
	h := &Handlers{}
	result, text := call(t, h.HandleSchema, map[string]any{})
	if result.IsError {
		t.Error("expected success for schema")
	}
	if !strings.Contains(text, `"Intent Spec"`) {
		t.Errorf("schema missing title")
	}
}

func TestHandleDiagram(t *testing.T) {
	h := &Handlers{}
	_, text := call(t, h.HandleDiagram, map[string]any{"path": checkoutSpec})
	if !strings.HasPrefix(text, "flowchart TD") {
		t.Errorf("text = %q", text)
	}
	result, _ := call(t, h.HandleDiagram, map[string]any{"path": checkoutSpec, "format": "svg"})
	if !result.IsError {
		t.Error("expected error for unknown format")
	}
}

func TestHandleReplay(t *testing.T) {
	h := &Handlers{}
	result, text := call(t, h.HandleReplay, map[string]any{"path": checkoutSpec, "scenario": "ai-fallback"})
	if result.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	var run report.Run
	if err := json.Unmarshal([]byte(text), &run); err != nil {
		t.Fatal(err)
	}
	if run.Status != "completed" || run.Fallbacks != 1 {
		t.Errorf("run = %+v", run)
	}
}

func TestHandleReplay_MissingArgs(t *testing.T) {
	h := &Handlers{}
	result, _ := call(t, h.HandleReplay, map[string]any{"path": checkoutSpec})
	if !result.IsError {
		t.Error("expected error without scenario")
	}
}

func TestHandleTest_Scenario(t *testing.T) {
	h := &Handlers{}
	result, text := call(t, h.HandleTest, map[string]any{"path": checkoutSpec, "scenario": "happy"})
	if result.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	var out ktesting.TestOutput
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		t.Fatal(err)
	}
	if out.Summary.Passed != 1 || out.Spec != "checkout" {
		t.Errorf("out = %+v", out.Summary)
	}
}

func TestHandleTest_All(t *testing.T) {
	h := &Handlers{}
	result, text := call(t, h.HandleTest, map[string]any{"path": checkoutSpec})
	if result.IsError {
		t.Fatalf("unexpected error: %s", text)
	}
	var out ktesting.TestOutput
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		t.Fatal(err)
	}
	if out.Summary.Total != 4 {
		t.Errorf("summary = %+v", out.Summary)
	}
}

func TestNewServer(t *testing.T) {
	if s := NewServer("test", nil); s == nil {
		t.Fatal("nil server")
	}
}
