// Package incidents keeps the in-memory record of governance interventions.
package incidents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-chaos/internal/metrics"
	"github.com/miradorstack/mirador-chaos/internal/models"
)

// NarrativeUnavailable replaces the postmortem when generation fails.
const NarrativeUnavailable = "Postmortem generation failed"

const postmortemTemplate = `You are an SRE writing an incident postmortem.

Incident:
%s

Write a concise RCA and improvement plan.`

// Generator produces the postmortem narrative.
type Generator interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// Manager creates and lists incidents.
type Manager struct {
	gen    Generator
	model  string
	logger *slog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	incidents []models.Incident
	byID      map[string]int
}

// NewManager constructs a manager that asks model for narratives.
func NewManager(gen Generator, model string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		gen:    gen,
		model:  model,
		logger: logger,
		now:    time.Now,
		byID:   make(map[string]int),
	}
}

// Create records an incident. It never fails: a narrative error yields the
// placeholder text.
func (m *Manager) Create(ctx context.Context, snapshot map[string]any, applied []string) models.Incident {
	incident := models.Incident{
		ID:              uuid.NewString(),
		Timestamp:       m.now().UTC(),
		SLOSnapshot:     copySnapshot(snapshot),
		AppliedPolicies: append([]string(nil), applied...),
	}
	incident.Narrative = m.narrative(ctx, incident)

	m.mu.Lock()
	m.byID[incident.ID] = len(m.incidents)
	m.incidents = append(m.incidents, incident)
	m.mu.Unlock()

	metrics.IncIncident()
	m.logger.Warn("incident opened",
		slog.String("incident_id", incident.ID),
		slog.String("policies", strings.Join(incident.AppliedPolicies, ",")),
	)
	return incident
}

// List returns every incident in creation order.
func (m *Manager) List() []models.Incident {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Incident, len(m.incidents))
	copy(out, m.incidents)
	return out
}

// Get returns the incident with id.
func (m *Manager) Get(id string) (models.Incident, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.byID[id]
	if !ok {
		return models.Incident{}, false
	}
	return m.incidents[idx], true
}

func (m *Manager) narrative(ctx context.Context, incident models.Incident) string {
	if m.gen == nil {
		return NarrativeUnavailable
	}
	text, err := m.gen.Generate(ctx, m.model, fmt.Sprintf(postmortemTemplate, describe(incident)))
	if err != nil || strings.TrimSpace(text) == "" {
		m.logger.Warn("postmortem generation failed", slog.String("incident_id", incident.ID), slog.Any("error", err))
		return NarrativeUnavailable
	}
	return strings.TrimSpace(text)
}

func describe(incident models.Incident) string {
	keys := make([]string, 0, len(incident.SLOSnapshot))
	for k := range incident.SLOSnapshot {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "id: %s\n", incident.ID)
	fmt.Fprintf(&b, "timestamp: %s\n", incident.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&b, "applied_policies: %s\n", strings.Join(incident.AppliedPolicies, ", "))
	b.WriteString("slo_state:\n")
	for _, k := range keys {
		raw, err := json.Marshal(incident.SLOSnapshot[k])
		if err != nil {
			raw = []byte(fmt.Sprint(incident.SLOSnapshot[k]))
		}
		fmt.Fprintf(&b, "  %s: %s\n", k, raw)
	}
	return b.String()
}

func copySnapshot(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
