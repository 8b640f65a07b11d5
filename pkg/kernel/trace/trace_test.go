package trace

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestWriter_Emit(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "test-run-1")

	err := tw.EmitStepStart("login", "click", "snippet", "ai")
	if err != nil {
		t.Fatalf("Emit error: %v", err)
	}

	var evt Event
	if err := json.Unmarshal(buf.Bytes(), &evt); err != nil {
		t.Fatalf("JSON unmarshal: %v (raw: %s)", err, buf.String())
	}
	if evt.Type != EventStepStart {
		t.Errorf("type = %q, want step_start", evt.Type)
	}
	if evt.RunID != "test-run-1" {
		t.Errorf("run_id = %q", evt.RunID)
	}
	if evt.Data["step"] != "login" || evt.Data["prefer"] != "snippet" {
		t.Errorf("data = %v", evt.Data)
	}
}

func TestWriter_EmitStepComplete_WithFailure(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "run-1")

	err := tw.EmitStepComplete("submit", StatusFailed, "ai", 4, 50*time.Millisecond, &Failure{
		Kind: "locator-not-found", Message: "no visible element",
	})
	if err != nil {
		t.Fatal(err)
	}

	var evt Event
	json.Unmarshal(buf.Bytes(), &evt)
	if evt.Data["status"] != "failed" {
		t.Errorf("status = %v", evt.Data["status"])
	}
	if evt.Data["attempts"] != float64(4) {
		t.Errorf("attempts = %v", evt.Data["attempts"])
	}
	failure, ok := evt.Data["failure"].(map[string]any)
	if !ok {
		t.Fatal("expected failure object")
	}
	if failure["kind"] != "locator-not-found" {
		t.Errorf("failure.kind = %v", failure["kind"])
	}
}

func TestWriter_AttemptAndFallback(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "run-1")

	tw.EmitAttempt("s1", "snippet", 1, &Failure{Kind: "timeout", Message: "10s"})
	tw.EmitFallback("s1", "snippet", "ai", &Failure{Kind: "timeout", Message: "10s"})
	tw.EmitAttempt("s1", "ai", 2, nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 JSONL lines, got %d", len(lines))
	}
	var fb Event
	json.Unmarshal([]byte(lines[1]), &fb)
	if fb.Type != EventFallback || fb.Data["to"] != "ai" {
		t.Errorf("fallback event = %+v", fb)
	}
	var ok Event
	json.Unmarshal([]byte(lines[2]), &ok)
	if ok.Data["ok"] != true {
		t.Errorf("attempt ok = %v", ok.Data["ok"])
	}
}

func TestWriter_RedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "run-1")
	tw.SetSecrets([]string{"hunter2", ""})

	tw.EmitRunStart("login", map[string]string{"PASSWORD": "hunter2", "EMAIL": "a@b.com"})
	tw.EmitAttempt("password", "snippet", 1, &Failure{Kind: "driver-error", Message: "could not type hunter2"})

	out := buf.String()
	if strings.Contains(out, "hunter2") {
		t.Errorf("secret leaked into trace: %s", out)
	}
	if !strings.Contains(out, "a@b.com") {
		t.Error("non-secret value was redacted")
	}
}

func TestWriter_Redactor(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "run-1")
	tw.SetRedactor(func(s string) string { return strings.ReplaceAll(s, "4111", "****") })

	tw.EmitRunStart("pay", map[string]string{"CARD": "4111-0000"})

	out := buf.String()
	if strings.Contains(out, "4111") || !strings.Contains(out, "****-0000") {
		t.Errorf("redactor not applied: %s", out)
	}
}

func TestWriter_HashChaining(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "run-1")

	tw.EmitStepStart("s1", "click", "snippet", "ai")
	tw.EmitStepComplete("s1", StatusSuccess, "snippet", 1, 0, nil)
	tw.EmitStepStart("s2", "fill", "snippet", "none")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}

	var first, second Event
	json.Unmarshal([]byte(lines[0]), &first)
	json.Unmarshal([]byte(lines[1]), &second)
	if first.PrevHash != Genesis {
		t.Errorf("first event prev_hash = %q, want genesis", first.PrevHash)
	}
	if second.PrevHash == first.PrevHash || len(second.PrevHash) != 64 {
		t.Errorf("second prev_hash = %q", second.PrevHash)
	}
}

func TestVerify_Valid(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "run-1")
	tw.EmitRunStart("login", nil)
	tw.EmitStepStart("s1", "click", "snippet", "ai")
	tw.EmitStepComplete("s1", StatusSuccess, "snippet", 1, time.Millisecond, nil)
	tw.EmitRunComplete("completed", 1, time.Second)

	res, err := Verify(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid || res.EventCount != 4 || res.BrokenAt != -1 {
		t.Errorf("verify = %+v", res)
	}
	if res.Status != "completed" {
		t.Errorf("status = %q", res.Status)
	}
}

func TestVerify_DetectsTampering(t *testing.T) {
	var buf bytes.Buffer
	tw := NewWriter(&buf, "run-1")
	tw.EmitStepStart("s1", "click", "snippet", "ai")
	tw.EmitStepComplete("s1", StatusFailed, "snippet", 1, 0, &Failure{Kind: "timeout"})
	tw.EmitRunComplete("failed", 1, time.Second)

	tampered := strings.Replace(buf.String(), `"status":"failed"`, `"status":"success"`, 1)
	res, err := Verify(strings.NewReader(tampered))
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid {
		t.Fatal("tampered trace verified as valid")
	}
	if res.BrokenAt != 3 {
		t.Errorf("broken_at = %d, want 3", res.BrokenAt)
	}
}

func TestVerify_InvalidJSON(t *testing.T) {
	res, err := Verify(strings.NewReader("{not json}\n"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid || res.BrokenAt != 1 {
		t.Errorf("verify = %+v", res)
	}
}
