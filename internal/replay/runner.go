package replay

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/miradorstack/mirador-chaos/internal/metrics"
	"github.com/miradorstack/mirador-chaos/internal/models"
	"github.com/miradorstack/mirador-chaos/internal/router"
)

// QueryFunc answers one query through the live pipeline.
type QueryFunc func(ctx context.Context, query string) (string, error)

// ChaosSwitch is the chaos master flag.
type ChaosSwitch interface {
	ChaosEnabled() bool
	SetChaosEnabled(enabled bool) bool
}

// RouterModes exposes the router toggles for snapshot and restore.
type RouterModes interface {
	Mode() router.Mode
	Restore(mode router.Mode)
}

// Runner replays sampled queries with and without chaos.
type Runner struct {
	path       string
	query      QueryFunc
	chaos      ChaosSwitch
	router     RouterModes
	comparator *Comparator
	logger     *slog.Logger

	// run serialises replays; live traffic is not blocked.
	run sync.Mutex
}

// NewRunner wires a runner over the shadow log at path.
func NewRunner(path string, query QueryFunc, chaos ChaosSwitch, modes RouterModes, comparator *Comparator, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		path:       path,
		query:      query,
		chaos:      chaos,
		router:     modes,
		comparator: comparator,
		logger:     logger,
	}
}

type snapshot struct {
	chaos bool
	mode  router.Mode
}

// Run replays every sample and returns one outcome per query processed. It
// never panics or fails; global toggles are restored before it returns.
func (r *Runner) Run(ctx context.Context) (outcomes []models.ReplayOutcome) {
	r.run.Lock()
	defer r.run.Unlock()

	samples, err := LoadSamples(r.path, r.logger)
	if err != nil {
		r.logger.Error("replay load failed", slog.String("path", r.path), slog.Any("error", err))
		metrics.ObserveReplay(metrics.OutcomeError)
		return nil
	}

	saved := snapshot{chaos: r.chaos.ChaosEnabled(), mode: r.router.Mode()}
	r.logger.Warn("replay started; live traffic observes replay toggles until it finishes", slog.Int("samples", len(samples)))

	outcome := metrics.OutcomeSuccess
	defer func() {
		if rec := recover(); rec != nil {
			outcome = metrics.OutcomeError
			r.logger.Error("replay aborted", slog.Any("panic", rec), slog.String("stack", string(debug.Stack())))
		}
		r.restore(saved)
		metrics.ObserveReplay(outcome)
		r.logger.Info("replay finished", slog.Int("outcomes", len(outcomes)), slog.String("outcome", outcome))
	}()

	r.chaos.SetChaosEnabled(false)
	r.router.Restore(router.Mode{})

	outcomes = make([]models.ReplayOutcome, 0, len(samples))
	for _, sample := range samples {
		if ctx.Err() != nil {
			r.logger.Warn("replay cancelled", slog.Any("error", ctx.Err()))
			break
		}
		outcomes = append(outcomes, r.replayOne(ctx, sample.Query))
	}
	return outcomes
}

func (r *Runner) replayOne(ctx context.Context, query string) models.ReplayOutcome {
	result := models.ReplayOutcome{Query: query}
	result.Baseline = r.call(ctx, query)

	r.chaos.SetChaosEnabled(true)
	result.Chaos = r.call(ctx, query)
	r.chaos.SetChaosEnabled(false)

	if !result.Baseline.OK() || !result.Chaos.OK() {
		msg := result.Baseline.Err
		if msg == "" {
			msg = result.Chaos.Err
		}
		if msg == "" {
			msg = "empty answer"
		}
		result.Comparison = models.Comparison{Similarity: 0, Degraded: true, Error: msg}
		return result
	}

	cmp, err := r.comparator.Compare(ctx, result.Baseline.Value, result.Chaos.Value)
	if err != nil {
		result.Comparison = models.Comparison{Similarity: 0, Degraded: true, Error: err.Error()}
		return result
	}
	result.Comparison = cmp
	return result
}

func (r *Runner) call(ctx context.Context, query string) (res models.CallResult) {
	defer func() {
		if rec := recover(); rec != nil {
			res = models.CallResult{Err: fmt.Sprintf("panic: %v", rec)}
		}
	}()
	text, err := r.query(ctx, query)
	if err != nil {
		return models.CallResult{Err: err.Error()}
	}
	return models.CallResult{Value: text}
}

func (r *Runner) restore(s snapshot) {
	r.chaos.SetChaosEnabled(s.chaos)
	r.router.Restore(s.mode)
}
