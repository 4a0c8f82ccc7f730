package slo

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestEvaluator() (*Evaluator, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewEvaluator(DefaultTargets(), clock.Now), clock
}

func TestEvaluateEmpty(t *testing.T) {
	e, _ := newTestEvaluator()
	snap := e.Evaluate()
	if snap.Float(KeyAvailability) != 1.0 {
		t.Fatalf("expected availability 1.0, got %v", snap[KeyAvailability])
	}
	if snap.Float(KeyHallucinationRate) != 0 || snap.Float(KeyFallbackRate) != 0 {
		t.Fatalf("expected zero rates, got %+v", snap)
	}
	if !snap.Bool(KeyLatencyOK) {
		t.Fatalf("latency should be compliant without samples")
	}
	if snap.Breached() {
		t.Fatalf("empty evaluator should not be breached")
	}
}

func TestAvailability(t *testing.T) {
	e, _ := newTestEvaluator()
	for i := 0; i < 9; i++ {
		e.RecordRequest(true)
	}
	e.RecordRequest(false)

	snap := e.Evaluate()
	if got := snap.Float(KeyAvailability); got < 0.8999 || got > 0.9001 {
		t.Fatalf("expected availability 0.9, got %v", got)
	}
	if snap.Bool(KeyAvailabilityOK) {
		t.Fatalf("0.9 should breach a 0.99 target")
	}
}

func TestLatencyP95UsesFloorIndex(t *testing.T) {
	e, _ := newTestEvaluator()
	for i := 1; i <= 20; i++ {
		e.RecordLatency(time.Duration(i*100) * time.Millisecond)
	}
	snap := e.Evaluate()
	// floor(0.95*20)=19 -> the largest value
	if got := snap.Float(KeyLatencyP95Ms); got != 2000 {
		t.Fatalf("expected p95 2000ms, got %v", got)
	}
	if !snap.Bool(KeyLatencyOK) {
		t.Fatalf("2000ms should satisfy a 2000ms bound")
	}

	// 22 samples: floor(0.95*22)=20 lands on the first of two slow samples.
	e.RecordLatency(5 * time.Second)
	e.RecordLatency(6 * time.Second)
	snap = e.Evaluate()
	if got := snap.Float(KeyLatencyP95Ms); got != 5000 {
		t.Fatalf("expected p95 5000ms, got %v", got)
	}
	if snap.Bool(KeyLatencyOK) {
		t.Fatalf("expected latency breach")
	}
}

func TestRates(t *testing.T) {
	e, _ := newTestEvaluator()
	for i := 0; i < 4; i++ {
		e.RecordRequest(true)
	}
	e.RecordHallucination()
	e.RecordFallback()
	e.RecordFallback()

	snap := e.Evaluate()
	if snap.Float(KeyHallucinationRate) != 0.25 {
		t.Fatalf("expected hallucination rate 0.25, got %v", snap[KeyHallucinationRate])
	}
	if snap.Float(KeyFallbackRate) != 0.5 {
		t.Fatalf("expected fallback rate 0.5, got %v", snap[KeyFallbackRate])
	}
	if snap.Bool(KeyHallucinationOK) || snap.Bool(KeyFallbackOK) {
		t.Fatalf("expected both rate objectives breached: %+v", snap)
	}
}

func TestWindowExpiry(t *testing.T) {
	e, clock := newTestEvaluator()
	e.RecordRequest(false)
	e.RecordGroundedness(0.2)
	clock.Advance(25 * time.Hour)
	e.RecordRequest(true)

	snap := e.Evaluate()
	if snap.Float(KeyAvailability) != 1.0 {
		t.Fatalf("old failure should have left the window, got %v", snap[KeyAvailability])
	}
	if snap.Float(KeyGroundednessAvg) != 0 {
		t.Fatalf("old groundedness should have been pruned")
	}
	if len(e.requests) != 1 || len(e.failures) != 0 {
		t.Fatalf("expected pruning, got %d requests %d failures", len(e.requests), len(e.failures))
	}
}

func TestPerMetricWindows(t *testing.T) {
	targets := DefaultTargets()
	targets.FallbackRate.WindowDays = 7
	clock := &fakeClock{t: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)}
	e := NewEvaluator(targets, clock.Now)

	e.RecordRequest(true)
	e.RecordFallback()
	clock.Advance(48 * time.Hour)
	e.RecordRequest(true)

	snap := e.Evaluate()
	if snap.Float(KeyFallbackRate) != 0.5 {
		t.Fatalf("weekly window should keep the old fallback, got %v", snap[KeyFallbackRate])
	}
	if snap.Float(KeyAvailability) != 1.0 {
		t.Fatalf("unexpected availability %v", snap[KeyAvailability])
	}
}

func TestLoadTargets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slo.yaml")
	if err := os.WriteFile(path, []byte(`slo:
  availability:
    window_days: 7
    target: 0.95
  latency:
    window_days: 1
    p95_ms: 1500
`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	targets, err := LoadTargets(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if targets.Availability.Target != 0.95 || targets.Availability.WindowDays != 7 {
		t.Fatalf("unexpected availability target: %+v", targets.Availability)
	}
	if targets.Latency.P95Ms != 1500 {
		t.Fatalf("unexpected latency target: %+v", targets.Latency)
	}
	if targets.FallbackRate.MaxRate != DefaultTargets().FallbackRate.MaxRate {
		t.Fatalf("unset objectives should keep defaults")
	}

	missing, err := LoadTargets(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil || missing != DefaultTargets() {
		t.Fatalf("missing file should yield defaults, got %+v %v", missing, err)
	}
}

func TestParseTargetsRejectsZeroWindow(t *testing.T) {
	if _, err := ParseTargets([]byte("slo:\n  latency:\n    window_days: 0\n")); err == nil {
		t.Fatalf("expected window validation error")
	}
}
