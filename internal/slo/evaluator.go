// Package slo aggregates request outcomes over sliding windows and checks
// them against configured objectives.
package slo

import (
	"sort"
	"sync"
	"time"

	"github.com/miradorstack/mirador-chaos/internal/utils"
)

// Snapshot keys consumed by policy conditions.
const (
	KeyAvailability      = "availability"
	KeyAvailabilityOK    = "availability_ok"
	KeyLatencyOK         = "latency_ok"
	KeyLatencyP95Ms      = "latency_p95_ms"
	KeyHallucinationRate = "hallucination_rate"
	KeyHallucinationOK   = "hallucination_ok"
	KeyFallbackRate      = "fallback_rate"
	KeyFallbackOK        = "fallback_ok"
	KeyGroundednessAvg   = "groundedness_avg"
)

// Snapshot is the flat evaluation result.
type Snapshot map[string]any

// Bool returns a boolean entry, false when absent.
func (s Snapshot) Bool(key string) bool {
	v, _ := s[key].(bool)
	return v
}

// Float returns a numeric entry, 0 when absent.
func (s Snapshot) Float(key string) float64 {
	v, _ := s[key].(float64)
	return v
}

// Breached reports whether any objective is failing.
func (s Snapshot) Breached() bool {
	return !s.Bool(KeyAvailabilityOK) || !s.Bool(KeyLatencyOK) || !s.Bool(KeyHallucinationOK) || !s.Bool(KeyFallbackOK)
}

type sample struct {
	at    time.Time
	value float64
}

// Evaluator holds the event streams. Safe for concurrent use.
type Evaluator struct {
	targets Targets
	now     func() time.Time

	mu             sync.Mutex
	requests       []time.Time
	failures       []time.Time
	latencies      []sample
	groundedness   []sample
	hallucinations []time.Time
	fallbacks      []time.Time
}

// NewEvaluator constructs an evaluator. A nil clock defaults to time.Now.
func NewEvaluator(targets Targets, now func() time.Time) *Evaluator {
	if now == nil {
		now = time.Now
	}
	return &Evaluator{targets: targets, now: now}
}

// Targets returns the configured objectives.
func (e *Evaluator) Targets() Targets {
	return e.targets
}

// RecordRequest appends a request and, when it failed, a failure.
func (e *Evaluator) RecordRequest(success bool) {
	e.mu.Lock()
	now := e.now()
	e.requests = append(e.requests, now)
	if !success {
		e.failures = append(e.failures, now)
	}
	e.mu.Unlock()
}

// RecordLatency appends an end-to-end latency sample.
func (e *Evaluator) RecordLatency(d time.Duration) {
	e.appendSample(&e.latencies, float64(d)/float64(time.Millisecond))
}

// RecordGroundedness appends a groundedness score.
func (e *Evaluator) RecordGroundedness(v float64) {
	e.appendSample(&e.groundedness, v)
}

// RecordHallucination appends a hallucination event.
func (e *Evaluator) RecordHallucination() {
	e.mu.Lock()
	now := e.now()
	e.hallucinations = append(e.hallucinations, now)
	e.mu.Unlock()
}

// RecordFallback appends a fallback event.
func (e *Evaluator) RecordFallback() {
	e.mu.Lock()
	now := e.now()
	e.fallbacks = append(e.fallbacks, now)
	e.mu.Unlock()
}

func (e *Evaluator) appendSample(dst *[]sample, v float64) {
	e.mu.Lock()
	now := e.now()
	*dst = append(*dst, sample{at: now, value: v})
	e.mu.Unlock()
}

// Evaluate computes every objective over its own window.
func (e *Evaluator) Evaluate() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	e.prune(now)

	t := e.targets

	availability := 1.0
	reqs := countSince(e.requests, cutoff(now, t.Availability.WindowDays))
	if reqs > 0 {
		fails := countSince(e.failures, cutoff(now, t.Availability.WindowDays))
		availability = float64(reqs-fails) / float64(reqs)
	}

	latencyOK := true
	p95 := 0.0
	if values := valuesSince(e.latencies, cutoff(now, t.Latency.WindowDays)); len(values) > 0 {
		sort.Float64s(values)
		idx := int(0.95 * float64(len(values)))
		if idx >= len(values) {
			idx = len(values) - 1
		}
		p95 = values[idx]
		latencyOK = p95 <= t.Latency.P95Ms
	}

	hallucinationRate := ratio(
		countSince(e.hallucinations, cutoff(now, t.HallucinationRate.WindowDays)),
		countSince(e.requests, cutoff(now, t.HallucinationRate.WindowDays)),
	)
	fallbackRate := ratio(
		countSince(e.fallbacks, cutoff(now, t.FallbackRate.WindowDays)),
		countSince(e.requests, cutoff(now, t.FallbackRate.WindowDays)),
	)

	groundednessAvg := 0.0
	if values := valuesSince(e.groundedness, cutoff(now, t.longestWindowDays())); len(values) > 0 {
		sum := 0.0
		for _, v := range values {
			sum += v
		}
		groundednessAvg = sum / float64(len(values))
	}

	return Snapshot{
		KeyAvailability:      availability,
		KeyAvailabilityOK:    availability >= t.Availability.Target,
		KeyLatencyOK:         latencyOK,
		KeyLatencyP95Ms:      p95,
		KeyHallucinationRate: hallucinationRate,
		KeyHallucinationOK:   hallucinationRate <= t.HallucinationRate.MaxRate,
		KeyFallbackRate:      fallbackRate,
		KeyFallbackOK:        fallbackRate <= t.FallbackRate.MaxRate,
		KeyGroundednessAvg:   groundednessAvg,
	}
}

// prune drops records older than the longest window. Callers hold mu.
func (e *Evaluator) prune(now time.Time) {
	c := cutoff(now, e.targets.longestWindowDays())
	e.requests = dropBefore(e.requests, c)
	e.failures = dropBefore(e.failures, c)
	e.hallucinations = dropBefore(e.hallucinations, c)
	e.fallbacks = dropBefore(e.fallbacks, c)
	e.latencies = dropSamplesBefore(e.latencies, c)
	e.groundedness = dropSamplesBefore(e.groundedness, c)
}

func cutoff(now time.Time, days float64) time.Time {
	return now.Add(-utils.Days(days))
}

func countSince(events []time.Time, c time.Time) int {
	// timestamps are taken under mu, so streams are sorted
	idx := sort.Search(len(events), func(i int) bool { return !events[i].Before(c) })
	return len(events) - idx
}

func valuesSince(samples []sample, c time.Time) []float64 {
	idx := sort.Search(len(samples), func(i int) bool { return !samples[i].at.Before(c) })
	out := make([]float64, 0, len(samples)-idx)
	for _, s := range samples[idx:] {
		out = append(out, s.value)
	}
	return out
}

func dropBefore(events []time.Time, c time.Time) []time.Time {
	idx := sort.Search(len(events), func(i int) bool { return !events[i].Before(c) })
	if idx == 0 {
		return events
	}
	return append(events[:0:0], events[idx:]...)
}

func dropSamplesBefore(samples []sample, c time.Time) []sample {
	idx := sort.Search(len(samples), func(i int) bool { return !samples[i].at.Before(c) })
	if idx == 0 {
		return samples
	}
	return append(samples[:0:0], samples[idx:]...)
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}
