package policy

import (
	"context"
	"errors"
	"log/slog"

	"github.com/miradorstack/mirador-chaos/internal/control"
	"github.com/miradorstack/mirador-chaos/internal/metrics"
)

// ActionKind is the closed set of remediation actions.
type ActionKind int

const (
	ActionUnknown ActionKind = iota
	ActionEnableSafeMode
	ActionDisableSafeMode
	ActionReduceChaos
	ActionPreferCache
	ActionDisablePrimaryModel
	ActionReduceTemperature
	ActionRerankRetrieval
)

var actionNames = map[ActionKind]string{
	ActionEnableSafeMode:      "enable_safe_mode",
	ActionDisableSafeMode:     "disable_safe_mode",
	ActionReduceChaos:         "reduce_chaos",
	ActionPreferCache:         "prefer_cache",
	ActionDisablePrimaryModel: "disable_primary_model",
	ActionReduceTemperature:   "reduce_temperature",
	ActionRerankRetrieval:     "rerank_retrieval",
}

// ParseAction maps a configured name onto its kind. Unknown names map to
// ActionUnknown.
func ParseAction(name string) ActionKind {
	for kind, n := range actionNames {
		if n == name {
			return kind
		}
	}
	return ActionUnknown
}

func (k ActionKind) String() string {
	if n, ok := actionNames[k]; ok {
		return n
	}
	return "unknown"
}

var errNoRouter = errors.New("policy action needs a router")

// RouterControl is the subset of the router the actions toggle.
type RouterControl interface {
	DisablePrimary()
	PreferCacheOnly()
}

// Executor runs a single action.
type Executor interface {
	Execute(ctx context.Context, kind ActionKind) error
}

// Actions mutates shared process state in response to policy matches.
type Actions struct {
	state  *control.State
	router RouterControl
	logger *slog.Logger
}

// NewActions wires the actions to the shared state and router.
func NewActions(state *control.State, router RouterControl, logger *slog.Logger) *Actions {
	if logger == nil {
		logger = slog.Default()
	}
	return &Actions{state: state, router: router, logger: logger}
}

// Execute applies kind. Unknown kinds are ignored.
func (a *Actions) Execute(_ context.Context, kind ActionKind) error {
	switch kind {
	case ActionEnableSafeMode:
		a.state.SetSafeMode(true)
	case ActionDisableSafeMode:
		a.state.SetSafeMode(false)
	case ActionReduceChaos:
		a.state.SetChaosEnabled(false)
	case ActionPreferCache:
		if a.router == nil {
			return errNoRouter
		}
		a.router.PreferCacheOnly()
	case ActionDisablePrimaryModel:
		if a.router == nil {
			return errNoRouter
		}
		a.router.DisablePrimary()
	case ActionReduceTemperature, ActionRerankRetrieval:
		// reserved; nothing to tune yet
	default:
		return nil
	}
	metrics.IncPolicyAction(kind.String())
	a.logger.Info("policy action applied", slog.String("action", kind.String()))
	return nil
}
