package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels successful operations.
	OutcomeSuccess = "success"
	// OutcomeError labels failed operations (backend, admission or injected failures).
	OutcomeError = "error"
)

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_chaos",
			Name:      "requests_total",
			Help:      "Total number of answered queries, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	fallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirador_chaos",
			Name:      "fallbacks_total",
			Help:      "Number of times the router fell over from the primary to the secondary model.",
		},
	)

	primaryFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirador_chaos",
			Name:      "primary_failures_total",
			Help:      "Failed attempts against the primary model, including breaker rejections.",
		},
	)

	chaosEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_chaos",
			Name:      "chaos_events_total",
			Help:      "Total chaos fault injections.",
		},
		[]string{"fault_type"},
	)

	hallucinationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirador_chaos",
			Name:      "hallucinations_total",
			Help:      "Answers flagged as hallucinated by the quality scorer.",
		},
	)

	requestLatencySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirador_chaos",
			Name:      "request_latency_seconds",
			Help:      "Latency of the full query pipeline in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		},
	)

	retrievalLatencySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirador_chaos",
			Name:      "retrieval_latency_seconds",
			Help:      "Latency of vector retrieval in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	generationLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mirador_chaos",
			Name:      "generation_latency_seconds",
			Help:      "Latency of a single generation backend call in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		},
		[]string{"model", "outcome"},
	)

	qualityScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirador_chaos",
			Name:      "quality_score",
			Help:      "Groundedness score of generated answers.",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		},
	)

	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mirador_chaos",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per backend (0 closed, 1 open, 2 half-open).",
		},
		[]string{"backend"},
	)

	policyActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_chaos",
			Name:      "policy_actions_total",
			Help:      "Remediation actions executed by the policy engine.",
		},
		[]string{"action"},
	)

	incidentsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirador_chaos",
			Name:      "incidents_total",
			Help:      "Incidents opened by governance.",
		},
	)

	replayRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_chaos",
			Name:      "replay_runs_total",
			Help:      "Shadow replay runs, partitioned by outcome.",
		},
		[]string{"outcome"},
	)
)

// Register attaches mirador-chaos collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		requestsTotal,
		fallbacksTotal,
		primaryFailuresTotal,
		chaosEventsTotal,
		hallucinationsTotal,
		requestLatencySeconds,
		retrievalLatencySeconds,
		generationLatencySeconds,
		qualityScore,
		breakerState,
		policyActionsTotal,
		incidentsTotal,
		replayRunsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

func outcomeLabel(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeSuccess
}

func seconds(d time.Duration) float64 {
	if d < 0 {
		return 0
	}
	return d.Seconds()
}

// ObserveRequest records a full pipeline duration and outcome label.
func ObserveRequest(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	requestsTotal.WithLabelValues(label).Inc()
	requestLatencySeconds.Observe(seconds(duration))
}

// ObserveRetrieval records vector retrieval latency.
func ObserveRetrieval(duration time.Duration) {
	retrievalLatencySeconds.Observe(seconds(duration))
}

// ObserveGeneration records one backend call.
func ObserveGeneration(model string, duration time.Duration, err error) {
	generationLatencySeconds.WithLabelValues(model, outcomeLabel(err)).Observe(seconds(duration))
}

// IncFallback counts a primary-to-secondary fall-over.
func IncFallback() { fallbacksTotal.Inc() }

// IncPrimaryFailure counts one failed primary attempt.
func IncPrimaryFailure() { primaryFailuresTotal.Inc() }

// IncChaosEvent counts one fired fault.
func IncChaosEvent(fault string) { chaosEventsTotal.WithLabelValues(fault).Inc() }

// IncHallucination counts one hallucinated answer.
func IncHallucination() { hallucinationsTotal.Inc() }

// ObserveQuality records a groundedness score.
func ObserveQuality(score float64) { qualityScore.Observe(score) }

// SetBreakerState exports the numeric breaker state for a backend.
func SetBreakerState(backend string, state int) {
	breakerState.WithLabelValues(backend).Set(float64(state))
}

// IncPolicyAction counts an executed remediation action.
func IncPolicyAction(action string) { policyActionsTotal.WithLabelValues(action).Inc() }

// IncIncident counts an opened incident.
func IncIncident() { incidentsTotal.Inc() }

// ObserveReplay counts a replay run.
func ObserveReplay(outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	replayRunsTotal.WithLabelValues(label).Inc()
}
