package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ormasoftchile/intentrun/pkg/kernel/engine"
	"github.com/ormasoftchile/intentrun/pkg/kernel/schema"
)

func TestObserver_StepCompleted(t *testing.T) {
	reg := prometheus.NewRegistry()
	o, err := New(reg)
	if err != nil {
		t.Fatal(err)
	}

	o.StepCompleted("checkout", engine.Outcome{StepName: "email", Status: engine.StatusSuccess, PathUsed: schema.PathSnippet, Attempts: 1})
	o.StepCompleted("checkout", engine.Outcome{StepName: "buy", Status: engine.StatusSuccess, PathUsed: schema.PathAI, FallbackOccurred: true, Attempts: 2})
	o.StepCompleted("checkout", engine.Outcome{StepName: engine.CancelledStepName, Status: engine.StatusCancelled})

	if got := testutil.ToFloat64(o.steps.WithLabelValues("checkout", "success", "snippet")); got != 1 {
		t.Errorf("snippet successes = %v", got)
	}
	if got := testutil.ToFloat64(o.fallbacks.WithLabelValues("checkout", "ai")); got != 1 {
		t.Errorf("fallbacks = %v", got)
	}
	if got := testutil.CollectAndCount(o.attempts); got != 1 {
		t.Errorf("attempt series = %d", got)
	}
	if got := testutil.ToFloat64(o.steps.WithLabelValues("checkout", "cancelled", "")); got != 1 {
		t.Errorf("cancelled = %v", got)
	}
}

func TestObserver_RunCompleted(t *testing.T) {
	reg := prometheus.NewRegistry()
	o, err := New(reg)
	if err != nil {
		t.Fatal(err)
	}
	o.RunCompleted("checkout", &engine.RunResult{Status: engine.RunFailed, Duration: 2 * time.Second})
	o.RunCompleted("checkout", nil)

	if got := testutil.ToFloat64(o.runs.WithLabelValues("checkout", "failed")); got != 1 {
		t.Errorf("failed runs = %v", got)
	}
}

func TestNew_Reuses(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := New(reg)
	if err != nil {
		t.Fatal(err)
	}
	b, err := New(reg)
	if err != nil {
		t.Fatal(err)
	}
	a.StepCompleted("s", engine.Outcome{Status: engine.StatusSkipped, PathUsed: schema.PathNone})
	if got := testutil.ToFloat64(b.steps.WithLabelValues("s", "skipped", "none")); got != 1 {
		t.Errorf("second observer does not share collectors: %v", got)
	}
}

func TestNilObserver(t *testing.T) {
	var o *Observer
	o.StepCompleted("s", engine.Outcome{})
	o.RunCompleted("s", &engine.RunResult{})
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	o, err := New(reg)
	if err != nil {
		t.Fatal(err)
	}
	o.RunCompleted("checkout", &engine.RunResult{Status: engine.RunCompleted})

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `intentrun_runs_total{spec="checkout",status="completed"} 1`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}
