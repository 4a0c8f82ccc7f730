package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/miradorstack/mirador-chaos/internal/breaker"
	"github.com/miradorstack/mirador-chaos/internal/chaos"
	"github.com/miradorstack/mirador-chaos/internal/control"
	"github.com/miradorstack/mirador-chaos/internal/engine"
	"github.com/miradorstack/mirador-chaos/internal/incidents"
	"github.com/miradorstack/mirador-chaos/internal/models"
	"github.com/miradorstack/mirador-chaos/internal/replay"
	"github.com/miradorstack/mirador-chaos/internal/router"
	"github.com/miradorstack/mirador-chaos/internal/slo"
)

type echoGenerator struct{}

func (echoGenerator) Generate(_ context.Context, model, _ string) (string, error) {
	return "reply from " + model, nil
}

type constEmbedder struct{}

func (constEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 1}, nil
}

func newTestService(t *testing.T) (*ChaosService, string) {
	t.Helper()
	dir := t.TempDir()
	faultsPath := filepath.Join(dir, "faults.yaml")
	shadowPath := filepath.Join(dir, "shadow.jsonl")

	state := control.NewState(false)
	injector := chaos.NewInjector(state, nil)
	rt := router.New(router.Config{
		Primary: "primary", Secondary: "secondary", MaxRetries: 1,
		CacheTTL: time.Minute, CacheCapacity: 8, Breaker: breaker.DefaultConfig(),
	}, echoGenerator{}, nil)
	evaluator := slo.NewEvaluator(slo.DefaultTargets(), nil)
	manager := incidents.NewManager(echoGenerator{}, "primary", nil)
	shadow, err := replay.NewShadowLogger(shadowPath, 1, nil)
	if err != nil {
		t.Fatalf("shadow logger: %v", err)
	}
	pipeline := engine.NewPipeline(nil, state, injector, nil, rt, nil, evaluator, nil, manager, shadow, 0)
	runner := replay.NewRunner(shadowPath, pipeline.Replay, state, rt, replay.NewComparator(constEmbedder{}, 0), nil)
	return NewChaosService(nil, state, pipeline, rt, injector, evaluator, manager, runner, faultsPath), faultsPath
}

func TestQueryValidation(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Query(context.Background(), models.QueryRequest{Query: "   "})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	_, err = svc.Query(context.Background(), models.QueryRequest{Query: strings.Repeat("x", maxQueryLength+1)})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for long query, got %v", err)
	}
}

func TestQueryAndReplay(t *testing.T) {
	svc, _ := newTestService(t)
	resp, err := svc.Query(context.Background(), models.QueryRequest{Query: "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Answer != "reply from primary" {
		t.Fatalf("unexpected answer %q", resp.Answer)
	}

	report, err := svc.SLO()
	if err != nil || report.Snapshot.Float(slo.KeyAvailability) != 1 || report.Breached {
		t.Fatalf("unexpected SLO report: %+v %v", report, err)
	}

	outcomes, err := svc.Replay(context.Background())
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Query != "hello" || outcomes[0].Comparison.Degraded {
		t.Fatalf("unexpected outcomes: %+v", outcomes)
	}
}

func TestIncidentLookup(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Incident("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	created := svc.incidents.Create(context.Background(), map[string]any{"availability_ok": false}, []string{"p"})
	got, err := svc.Incident(created.ID)
	if err != nil || got.ID != created.ID {
		t.Fatalf("unexpected incident %+v %v", got, err)
	}
	if len(svc.Incidents()) != 1 {
		t.Fatalf("expected one incident")
	}
	mined := svc.Patterns()
	if len(mined) != 1 || mined[0].Breached[0] != "availability" {
		t.Fatalf("unexpected patterns %+v", mined)
	}
}

func TestReloadFaults(t *testing.T) {
	svc, path := newTestService(t)
	if err := os.WriteFile(path, []byte("faults:\n  latency:\n    enabled: true\n    probability: 0.5\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	table, err := svc.ReloadFaults()
	if err != nil || !table["latency"].Enabled {
		t.Fatalf("unexpected reload result %+v %v", table, err)
	}

	if err := os.WriteFile(path, []byte("faults:\n  latency:\n    probability: 3\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	table, err = svc.ReloadFaults()
	if err == nil || len(table) != 0 {
		t.Fatalf("broken table should disarm faults: %+v %v", table, err)
	}
}

func TestStatus(t *testing.T) {
	svc, _ := newTestService(t)
	svc.router.PreferCacheOnly()
	st := svc.Status()
	if st.ChaosEnabled || !st.RouterMode.CacheOnly {
		t.Fatalf("unexpected status: %+v", st)
	}
	if st.Breakers["primary"].State != "closed" {
		t.Fatalf("unexpected breaker status: %+v", st.Breakers)
	}
	if !svc.Available() {
		t.Fatalf("expected service available")
	}
}
