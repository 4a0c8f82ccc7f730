package patterns

import (
	"testing"
	"time"

	"github.com/miradorstack/mirador-chaos/internal/models"
)

func TestMinerGroupsBySignature(t *testing.T) {
	miner := NewMiner(nil)
	now := time.Now()
	incidents := []models.Incident{
		{
			ID:              "a",
			Timestamp:       now,
			SLOSnapshot:     map[string]any{"availability_ok": false, "latency_ok": true, "availability": 0.9},
			AppliedPolicies: []string{"availability_guard"},
		},
		{
			ID:              "b",
			Timestamp:       now.Add(time.Minute),
			SLOSnapshot:     map[string]any{"availability_ok": false, "latency_ok": true},
			AppliedPolicies: []string{"availability_guard", "fallback_guard"},
		},
		{
			ID:              "c",
			Timestamp:       now,
			SLOSnapshot:     map[string]any{"latency_ok": false, "fallback_ok": false},
			AppliedPolicies: []string{"latency_guard"},
		},
	}

	patterns := miner.Mine(incidents)
	if len(patterns) != 2 {
		t.Fatalf("expected 2 patterns, got %d", len(patterns))
	}
	top := patterns[0]
	if top.Incidents != 2 || len(top.Breached) != 1 || top.Breached[0] != "availability" {
		t.Fatalf("unexpected top pattern %+v", top)
	}
	if !top.LastSeen.Equal(now.Add(time.Minute)) {
		t.Fatalf("expected last seen of newest incident, got %v", top.LastSeen)
	}
	if len(top.Policies) != 2 || top.Policies[0] != "availability_guard" {
		t.Fatalf("unexpected policies %v", top.Policies)
	}
	if patterns[1].ID != "pattern-fallback+latency" {
		t.Fatalf("unexpected second pattern id %s", patterns[1].ID)
	}
}

func TestMinerEmpty(t *testing.T) {
	if patterns := NewMiner(nil).Mine(nil); patterns != nil {
		t.Fatalf("expected nil patterns")
	}
}

func TestBreachedObjectivesIgnoresNonBool(t *testing.T) {
	got := BreachedObjectives(map[string]any{"availability_ok": "false", "latency_ok": false})
	if len(got) != 1 || got[0] != "latency" {
		t.Fatalf("unexpected breached %v", got)
	}
}
