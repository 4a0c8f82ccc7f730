// Package engine runs a query through the chaos hooks, retrieval, routing and
// the governance loop.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/miradorstack/mirador-chaos/internal/control"
	"github.com/miradorstack/mirador-chaos/internal/metrics"
	"github.com/miradorstack/mirador-chaos/internal/models"
	"github.com/miradorstack/mirador-chaos/internal/router"
	"github.com/miradorstack/mirador-chaos/internal/slo"
)

var tracer = otel.Tracer("mirador.chaos.engine")

// UnavailableAnswer is returned to callers when no backend could answer.
const UnavailableAnswer = "The service is temporarily unavailable. Please try again later."

// Hooks are the fault injection seams.
type Hooks interface {
	BeforeRetrieval(ctx context.Context, query string) (string, error)
	AfterRetrieval(ctx context.Context, chunks []string) ([]string, error)
	BeforeGeneration(ctx context.Context, prompt string) (string, error)
	AfterGeneration(ctx context.Context, answer string) (string, error)
}

// Retriever fetches context for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]string, error)
}

// Router produces an answer for a prompt.
type Router interface {
	Generate(ctx context.Context, prompt string) (router.Result, error)
}

// Scorer rates an answer against its context.
type Scorer interface {
	Evaluate(ctx context.Context, answer string, chunks []string, question string) models.Quality
}

// PolicyEvaluator applies remediation for an SLO snapshot.
type PolicyEvaluator interface {
	Evaluate(ctx context.Context, snapshot slo.Snapshot) []string
}

// IncidentRecorder opens incidents.
type IncidentRecorder interface {
	Create(ctx context.Context, snapshot map[string]any, applied []string) models.Incident
}

// Sampler records live queries for replay.
type Sampler interface {
	Log(query string) (bool, error)
}

// Pipeline orchestrates one query end to end.
type Pipeline struct {
	logger    *slog.Logger
	state     *control.State
	hooks     Hooks
	retriever Retriever
	router    Router
	scorer    Scorer
	slo       *slo.Evaluator
	policies  PolicyEvaluator
	incidents IncidentRecorder
	sampler   Sampler
	limiter   *rate.Limiter
}

// NewPipeline constructs a pipeline. Only hooks and router are required;
// nil collaborators disable their stage. incidentInterval throttles
// incident creation; zero allows one per matching request.
func NewPipeline(
	logger *slog.Logger,
	state *control.State,
	hooks Hooks,
	retriever Retriever,
	rt Router,
	scorer Scorer,
	evaluator *slo.Evaluator,
	policies PolicyEvaluator,
	incidents IncidentRecorder,
	sampler Sampler,
	incidentInterval time.Duration,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if state == nil {
		state = control.NewState(false)
	}
	limit := rate.Inf
	if incidentInterval > 0 {
		limit = rate.Every(incidentInterval)
	}
	return &Pipeline{
		logger:    logger,
		state:     state,
		hooks:     hooks,
		retriever: retriever,
		router:    rt,
		scorer:    scorer,
		slo:       evaluator,
		policies:  policies,
		incidents: incidents,
		sampler:   sampler,
		limiter:   rate.NewLimiter(limit, 1),
	}
}

// Answer runs query through the full pipeline. Generation failures are
// reported in the SLO window and replaced by UnavailableAnswer.
func (p *Pipeline) Answer(ctx context.Context, query string) models.QueryResponse {
	ctx, span := tracer.Start(ctx, "Pipeline.Answer", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()
	start := time.Now()
	if p.sampler != nil {
		if _, err := p.sampler.Log(query); err != nil {
			p.logger.Warn("shadow sample failed", slog.Any("error", err))
		}
	}

	resp, res, err := p.execute(ctx, query)
	elapsed := time.Since(start)
	resp.LatencyMs = float64(elapsed) / float64(time.Millisecond)
	resp.AnsweredAt = time.Now().UTC()

	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeError
		p.logger.Warn("query failed", slog.Any("error", err))
		resp.Answer = UnavailableAnswer
		resp.Degraded = true
		resp.Source = ""
		resp.ModelUsed = ""
	}
	metrics.ObserveRequest(elapsed, outcome)
	span.SetAttributes(
		attribute.String("pipeline.outcome", outcome),
		attribute.String("pipeline.source", string(resp.Source)),
		attribute.Bool("pipeline.degraded", resp.Degraded),
	)

	if err != nil && ctx.Err() != nil {
		p.logger.Debug("caller cancelled, skipping governance", slog.Any("error", ctx.Err()))
		return resp
	}
	p.govern(ctx, &resp, res, err == nil, elapsed)
	return resp
}

// Replay answers query without sampling or governance side effects.
func (p *Pipeline) Replay(ctx context.Context, query string) (string, error) {
	resp, _, err := p.execute(ctx, query)
	if err != nil {
		return "", err
	}
	return resp.Answer, nil
}

func (p *Pipeline) execute(ctx context.Context, query string) (models.QueryResponse, router.Result, error) {
	var resp models.QueryResponse

	q, err := p.hooks.BeforeRetrieval(ctx, query)
	if err != nil {
		return resp, router.Result{}, fmt.Errorf("before retrieval: %w", err)
	}

	chunks := []string{}
	if p.retriever != nil {
		retrievalStart := time.Now()
		found, err := p.retriever.Retrieve(ctx, q)
		metrics.ObserveRetrieval(time.Since(retrievalStart))
		if err != nil {
			p.logger.Warn("retrieval failed, answering without context", slog.Any("error", err))
		} else {
			chunks = found
		}
	}

	chunks, err = p.hooks.AfterRetrieval(ctx, chunks)
	if err != nil {
		return resp, router.Result{}, fmt.Errorf("after retrieval: %w", err)
	}
	resp.RetrievedChunks = chunks

	prompt, err := p.hooks.BeforeGeneration(ctx, buildPrompt(q, chunks))
	if err != nil {
		return resp, router.Result{}, fmt.Errorf("before generation: %w", err)
	}

	res, err := p.router.Generate(ctx, prompt)
	if err != nil {
		return resp, router.Result{}, err
	}

	answer, err := p.hooks.AfterGeneration(ctx, res.Text)
	if err != nil {
		return resp, res, fmt.Errorf("after generation: %w", err)
	}

	resp.Answer = answer
	resp.Source = string(res.Source)
	resp.ModelUsed = res.Model
	resp.Degraded = res.Source != router.SourcePrimary || p.state.SafeMode()

	if p.scorer != nil {
		quality := p.scorer.Evaluate(ctx, answer, chunks, query)
		resp.Quality = &quality
	}
	return resp, res, nil
}

func (p *Pipeline) govern(ctx context.Context, resp *models.QueryResponse, res router.Result, success bool, elapsed time.Duration) {
	if p.slo == nil {
		return
	}
	p.slo.RecordRequest(success)
	p.slo.RecordLatency(elapsed)
	if success {
		if resp.Quality != nil {
			p.slo.RecordGroundedness(resp.Quality.Groundedness)
			if resp.Quality.Hallucinated {
				p.slo.RecordHallucination()
			}
		}
		if res.FellBack || res.Source == router.SourceSecondary {
			p.slo.RecordFallback()
		}
	}

	if p.policies == nil {
		return
	}
	snapshot := p.slo.Evaluate()
	applied := p.policies.Evaluate(ctx, snapshot)
	if len(applied) == 0 {
		return
	}
	resp.AppliedPolicies = applied
	if p.incidents == nil {
		return
	}
	if !p.limiter.Allow() {
		p.logger.Debug("incident throttled", slog.String("policies", strings.Join(applied, ",")))
		return
	}
	incident := p.incidents.Create(ctx, snapshot, applied)
	resp.IncidentID = incident.ID
}

func buildPrompt(query string, chunks []string) string {
	return fmt.Sprintf("Answer the question:\n%s\n\nContext:\n%s", query, strings.Join(chunks, "\n"))
}
