package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveAnalysis(t *testing.T) {
	r := New()
	r.ObserveAnalysis("")
	r.ObserveAnalysis("")
	r.ObserveAnalysis("invalid")

	if got := testutil.ToFloat64(r.Analyses.WithLabelValues("ok", "")); got != 2 {
		t.Errorf("expected 2 ok analyses, got %v", got)
	}
	if got := testutil.ToFloat64(r.Analyses.WithLabelValues("fallback", "invalid")); got != 1 {
		t.Errorf("expected 1 fallback analysis, got %v", got)
	}
}

func TestObservePrediction(t *testing.T) {
	r := New()
	r.ObservePrediction("llm", "AAPL", 75)
	r.ObservePrediction("user", "AAPL", 60)

	if got := testutil.ToFloat64(r.SubjectScore.WithLabelValues("AAPL")); got != 60 {
		t.Errorf("expected latest score 60, got %v", got)
	}
	if got := testutil.ToFloat64(r.Predictions.WithLabelValues("llm")); got != 1 {
		t.Errorf("expected 1 llm prediction, got %v", got)
	}
}

func TestSetBreakerState(t *testing.T) {
	r := New()
	tests := map[string]float64{"closed": 0, "half-open": 1, "open": 2}
	for state, want := range tests {
		r.SetBreakerState("producer", state)
		if got := testutil.ToFloat64(r.BreakerState.WithLabelValues("producer")); got != want {
			t.Errorf("state %q: expected %v, got %v", state, want, got)
		}
	}
}

func TestNilRegistryIsNoop(t *testing.T) {
	var r *Registry
	r.ObserveAnalysis("error")
	r.ObservePrediction("llm", "AAPL", 50)
	r.SetScore("AAPL", 50)
	r.SetBreakerState("producer", "open")
	r.ObserveStep("collect", time.Second, nil)
	r.AddEvents(3)
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := New()
	r.AddEvents(3)
	r.ObserveStep("analyze", 2*time.Second, errors.New("boom"))

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		"marketpulse_events_ingested_total 3",
		`marketpulse_step_duration_seconds_count{result="error",step="analyze"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("expected %q in exposition output", want)
		}
	}
}
