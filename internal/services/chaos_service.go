package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/miradorstack/mirador-chaos/internal/chaos"
	"github.com/miradorstack/mirador-chaos/internal/control"
	"github.com/miradorstack/mirador-chaos/internal/engine"
	"github.com/miradorstack/mirador-chaos/internal/incidents"
	"github.com/miradorstack/mirador-chaos/internal/models"
	"github.com/miradorstack/mirador-chaos/internal/patterns"
	"github.com/miradorstack/mirador-chaos/internal/replay"
	"github.com/miradorstack/mirador-chaos/internal/router"
	"github.com/miradorstack/mirador-chaos/internal/slo"
	"github.com/miradorstack/mirador-chaos/internal/utils"
)

const maxQueryLength = 8192

var (
	// ErrInvalidArgument marks malformed caller input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound marks a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrNotConfigured marks an operation whose collaborator is not wired.
	ErrNotConfigured = errors.New("not configured")
)

// SLOReport pairs the live evaluation with the configured targets.
type SLOReport struct {
	Snapshot slo.Snapshot `json:"snapshot"`
	Targets  slo.Targets  `json:"targets"`
	Breached bool         `json:"breached"`
}

// BreakerStatus is the transport view of one breaker.
type BreakerStatus struct {
	State        string    `json:"state"`
	FailureCount uint      `json:"failure_count"`
	TrialCount   uint      `json:"trial_count"`
	LastFailure  time.Time `json:"last_failure,omitempty"`
}

// Status summarises the runtime control state.
type Status struct {
	ChaosEnabled bool                     `json:"chaos_enabled"`
	SafeMode     bool                     `json:"safe_mode"`
	RouterMode   router.Mode              `json:"router_mode"`
	RouterStats  router.Stats             `json:"router_stats"`
	Breakers     map[string]BreakerStatus `json:"breakers"`
	FaultCounts  map[string]uint64        `json:"fault_counts"`
	LatencyP95Ms float64                  `json:"latency_p95_ms"`
}

// ChaosService is the facade the transports call into.
type ChaosService struct {
	logger     *slog.Logger
	state      *control.State
	pipeline   *engine.Pipeline
	router     *router.Router
	injector   *chaos.Injector
	evaluator  *slo.Evaluator
	incidents  *incidents.Manager
	runner     *replay.Runner
	faultsPath string
	latencies  *utils.LatencyTracker
	miner      *patterns.Miner
}

// NewChaosService constructs the service facade.
func NewChaosService(
	logger *slog.Logger,
	state *control.State,
	pipeline *engine.Pipeline,
	rt *router.Router,
	injector *chaos.Injector,
	evaluator *slo.Evaluator,
	incidentManager *incidents.Manager,
	runner *replay.Runner,
	faultsPath string,
) *ChaosService {
	if logger == nil {
		logger = slog.Default()
	}
	if state == nil {
		state = control.NewState(false)
	}
	return &ChaosService{
		logger:     logger,
		state:      state,
		pipeline:   pipeline,
		router:     rt,
		injector:   injector,
		evaluator:  evaluator,
		incidents:  incidentManager,
		runner:     runner,
		faultsPath: faultsPath,
		latencies:  utils.NewLatencyTracker(1024),
		miner:      patterns.NewMiner(logger),
	}
}

// Query answers a question through the pipeline.
func (s *ChaosService) Query(ctx context.Context, req models.QueryRequest) (models.QueryResponse, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return models.QueryResponse{}, utils.NewKindError("services.query", ErrInvalidArgument, errors.New("query is required"))
	}
	if len(query) > maxQueryLength {
		return models.QueryResponse{}, utils.NewKindError("services.query", ErrInvalidArgument, errors.New("query too long"))
	}
	if s.pipeline == nil {
		return models.QueryResponse{}, utils.NewKindError("services.query", ErrNotConfigured, errors.New("pipeline not configured"))
	}

	s.logger.Debug("Query called", slog.Int("query_chars", len(query)))
	start := time.Now()
	resp := s.pipeline.Answer(ctx, query)
	s.latencies.Observe(time.Since(start))
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("query latency", slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
	}
	return resp, nil
}

// SLO evaluates the current objectives.
func (s *ChaosService) SLO() (SLOReport, error) {
	if s.evaluator == nil {
		return SLOReport{}, utils.NewKindError("services.slo", ErrNotConfigured, errors.New("slo evaluator not configured"))
	}
	snap := s.evaluator.Evaluate()
	return SLOReport{Snapshot: snap, Targets: s.evaluator.Targets(), Breached: snap.Breached()}, nil
}

// Incidents lists every incident in creation order.
func (s *ChaosService) Incidents() []models.Incident {
	if s.incidents == nil {
		return []models.Incident{}
	}
	return s.incidents.List()
}

// Incident returns one incident.
func (s *ChaosService) Incident(id string) (models.Incident, error) {
	if s.incidents == nil {
		return models.Incident{}, utils.NewKindError("services.incident", ErrNotConfigured, errors.New("incident manager not configured"))
	}
	inc, ok := s.incidents.Get(id)
	if !ok {
		return models.Incident{}, utils.NewKindError("services.incident", ErrNotFound, errors.New("incident "+id))
	}
	return inc, nil
}

// Patterns groups incident history into recurring breach signatures.
func (s *ChaosService) Patterns() []models.BreachPattern {
	mined := s.miner.Mine(s.Incidents())
	if mined == nil {
		return []models.BreachPattern{}
	}
	return mined
}

// Replay runs one shadow replay.
func (s *ChaosService) Replay(ctx context.Context) ([]models.ReplayOutcome, error) {
	if s.runner == nil {
		return nil, utils.NewKindError("services.replay", ErrNotConfigured, errors.New("replay runner not configured"))
	}
	outcomes := s.runner.Run(ctx)
	if outcomes == nil {
		outcomes = []models.ReplayOutcome{}
	}
	return outcomes, nil
}

// ReloadFaults re-reads the fault table from disk. A broken file disarms
// every fault and the error is returned.
func (s *ChaosService) ReloadFaults() (chaos.FaultTable, error) {
	if s.injector == nil {
		return nil, utils.NewKindError("services.reload_faults", ErrNotConfigured, errors.New("fault injector not configured"))
	}
	if err := s.injector.ReloadFromFile(s.faultsPath); err != nil {
		return s.injector.Faults(), utils.NewAppError("services.reload_faults", "fault table reload failed", err)
	}
	return s.injector.Faults(), nil
}

// Status reports control state, breakers and fault counts.
func (s *ChaosService) Status() Status {
	st := Status{
		ChaosEnabled: s.state.ChaosEnabled(),
		SafeMode:     s.state.SafeMode(),
		Breakers:     map[string]BreakerStatus{},
		FaultCounts:  map[string]uint64{},
		LatencyP95Ms: float64(s.LatencyP95()) / float64(time.Millisecond),
	}
	if s.router != nil {
		st.RouterMode = s.router.Mode()
		st.RouterStats = s.router.Stats()
		for name, b := range s.router.Breakers() {
			st.Breakers[name] = BreakerStatus{
				State:        b.State.String(),
				FailureCount: b.FailureCount,
				TrialCount:   b.TrialCount,
				LastFailure:  b.LastFailureTime,
			}
		}
	}
	if s.injector != nil {
		st.FaultCounts = s.injector.Counts()
	}
	return st
}

// Available reports whether any generation backend can be admitted.
func (s *ChaosService) Available() bool {
	if s.router == nil {
		return false
	}
	return s.router.Available()
}

// LatencyP95 returns the p95 query latency observed by this service.
func (s *ChaosService) LatencyP95() time.Duration {
	if s.latencies == nil {
		return 0
	}
	return s.latencies.Percentile(95)
}
