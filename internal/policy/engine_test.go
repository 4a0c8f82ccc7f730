package policy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/miradorstack/mirador-chaos/internal/control"
	"github.com/miradorstack/mirador-chaos/internal/slo"
)

type recordingExecutor struct {
	executed []ActionKind
	failOn   ActionKind
}

func (r *recordingExecutor) Execute(_ context.Context, kind ActionKind) error {
	if kind == r.failOn {
		return errors.New("boom")
	}
	r.executed = append(r.executed, kind)
	return nil
}

type stubRouter struct {
	primaryDisabled bool
	cacheOnly       bool
}

func (s *stubRouter) DisablePrimary()  { s.primaryDisabled = true }
func (s *stubRouter) PreferCacheOnly() { s.cacheOnly = true }

func breachedSnapshot() slo.Snapshot {
	return slo.Snapshot{
		slo.KeyAvailability:    0.5,
		slo.KeyAvailabilityOK:  false,
		slo.KeyLatencyOK:       true,
		slo.KeyFallbackOK:      false,
		slo.KeyHallucinationOK: true,
	}
}

func TestEvaluateMatchesExactly(t *testing.T) {
	exec := &recordingExecutor{}
	engine := NewEngine([]Policy{
		{Name: "availability", Condition: map[string]any{"availability_ok": false}, Actions: []string{"enable_safe_mode", "prefer_cache"}},
		{Name: "latency", Condition: map[string]any{"latency_ok": false}, Actions: []string{"reduce_chaos"}},
		{Name: "mixed", Condition: map[string]any{"availability_ok": false, "latency_ok": false}, Actions: []string{"disable_primary_model"}},
	}, exec, nil)

	applied := engine.Evaluate(context.Background(), breachedSnapshot())
	if len(applied) != 1 || applied[0] != "availability" {
		t.Fatalf("unexpected applied policies: %v", applied)
	}
	if len(exec.executed) != 2 || exec.executed[0] != ActionEnableSafeMode || exec.executed[1] != ActionPreferCache {
		t.Fatalf("unexpected actions: %v", exec.executed)
	}
}

func TestEvaluateMissingKeyDoesNotMatch(t *testing.T) {
	exec := &recordingExecutor{}
	engine := NewEngine([]Policy{{Name: "p", Condition: map[string]any{"nonexistent": false}, Actions: []string{"reduce_chaos"}}}, exec, nil)
	if applied := engine.Evaluate(context.Background(), breachedSnapshot()); len(applied) != 0 {
		t.Fatalf("expected no match, got %v", applied)
	}
}

func TestEvaluateNumericCondition(t *testing.T) {
	exec := &recordingExecutor{}
	engine := NewEngine([]Policy{{Name: "half", Condition: map[string]any{"availability": 0.5}, Actions: []string{"reduce_chaos"}}}, exec, nil)
	if applied := engine.Evaluate(context.Background(), breachedSnapshot()); len(applied) != 1 {
		t.Fatalf("expected numeric match, got %v", applied)
	}
}

func TestFailingActionAbortsOnlyItsPolicy(t *testing.T) {
	exec := &recordingExecutor{failOn: ActionPreferCache}
	engine := NewEngine([]Policy{
		{Name: "first", Condition: map[string]any{"availability_ok": false}, Actions: []string{"enable_safe_mode", "prefer_cache", "reduce_chaos"}},
		{Name: "second", Condition: map[string]any{"fallback_ok": false}, Actions: []string{"disable_primary_model"}},
	}, exec, nil)

	applied := engine.Evaluate(context.Background(), breachedSnapshot())
	if len(applied) != 2 {
		t.Fatalf("both policies matched, got %v", applied)
	}
	want := []ActionKind{ActionEnableSafeMode, ActionDisablePrimaryModel}
	if len(exec.executed) != len(want) {
		t.Fatalf("unexpected actions: %v", exec.executed)
	}
	for i := range want {
		if exec.executed[i] != want[i] {
			t.Fatalf("unexpected actions: %v", exec.executed)
		}
	}
}

func TestUnknownActionIsNoop(t *testing.T) {
	state := control.NewState(true)
	router := &stubRouter{}
	engine := NewEngine([]Policy{
		{Name: "p", Condition: map[string]any{"availability_ok": false}, Actions: []string{"summon_dragons", "reduce_chaos"}},
	}, NewActions(state, router, nil), nil)

	applied := engine.Evaluate(context.Background(), breachedSnapshot())
	if len(applied) != 1 {
		t.Fatalf("expected policy applied, got %v", applied)
	}
	if state.ChaosEnabled() {
		t.Fatalf("reduce_chaos should still run after an unknown action")
	}
}

func TestActionsMutateSharedState(t *testing.T) {
	state := control.NewState(true)
	router := &stubRouter{}
	actions := NewActions(state, router, nil)
	ctx := context.Background()

	for _, kind := range []ActionKind{ActionEnableSafeMode, ActionReduceChaos, ActionPreferCache, ActionDisablePrimaryModel} {
		if err := actions.Execute(ctx, kind); err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
	}
	if !state.SafeMode() || state.ChaosEnabled() {
		t.Fatalf("unexpected state: safe=%v chaos=%v", state.SafeMode(), state.ChaosEnabled())
	}
	if !router.cacheOnly || !router.primaryDisabled {
		t.Fatalf("router toggles not applied: %+v", router)
	}
	if err := actions.Execute(ctx, ActionDisableSafeMode); err != nil || state.SafeMode() {
		t.Fatalf("expected safe mode disabled")
	}
}

func TestRouterActionsWithoutRouterFail(t *testing.T) {
	actions := NewActions(control.NewState(false), nil, nil)
	if err := actions.Execute(context.Background(), ActionPreferCache); err == nil {
		t.Fatalf("expected error without router")
	}
}

func TestParseAction(t *testing.T) {
	if ParseAction("prefer_cache") != ActionPreferCache {
		t.Fatalf("expected prefer_cache")
	}
	if ParseAction("PREFER_CACHE") != ActionUnknown {
		t.Fatalf("action names are case sensitive")
	}
	if ActionRerankRetrieval.String() != "rerank_retrieval" {
		t.Fatalf("unexpected name %q", ActionRerankRetrieval.String())
	}
}

func TestLoadPolicies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(`policies:
  - name: availability_breach
    condition:
      availability_ok: false
    actions:
      - enable_safe_mode
      - prefer_cache
`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	policies, err := LoadPolicies(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(policies) != 1 || policies[0].Condition["availability_ok"] != false || len(policies[0].Actions) != 2 {
		t.Fatalf("unexpected policies: %+v", policies)
	}

	none, err := LoadPolicies(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil || len(none) != 0 {
		t.Fatalf("missing file should yield no policies: %v %v", none, err)
	}
}
