// Package patterns mines recurring SLO breach signatures from incident history.
package patterns

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/miradorstack/mirador-chaos/internal/models"
)

const (
	okSuffix       = "_ok"
	topPolicyLimit = 3
)

// Miner mines simple frequency-based breach patterns.
type Miner struct {
	logger *slog.Logger
}

// NewMiner constructs a Miner.
func NewMiner(logger *slog.Logger) *Miner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Miner{logger: logger}
}

// Mine groups incidents by the objectives they breached and returns the
// groups ordered by prevalence.
func (m *Miner) Mine(incidents []models.Incident) []models.BreachPattern {
	if len(incidents) == 0 {
		return nil
	}

	groups := make(map[string]*signatureAggregate)
	for _, inc := range incidents {
		breached := BreachedObjectives(inc.SLOSnapshot)
		key := strings.Join(breached, "+")
		if key == "" {
			key = "none"
		}
		agg, ok := groups[key]
		if !ok {
			agg = &signatureAggregate{breached: breached, policyCounts: make(map[string]int)}
			groups[key] = agg
		}
		agg.count++
		if inc.Timestamp.After(agg.lastSeen) {
			agg.lastSeen = inc.Timestamp
		}
		for _, p := range inc.AppliedPolicies {
			agg.policyCounts[p]++
		}
	}

	patterns := make([]models.BreachPattern, 0, len(groups))
	for key, agg := range groups {
		patterns = append(patterns, models.BreachPattern{
			ID:         "pattern-" + key,
			Breached:   agg.breached,
			Incidents:  agg.count,
			Prevalence: float64(agg.count) / float64(len(incidents)),
			LastSeen:   agg.lastSeen,
			Policies:   agg.topPolicies(topPolicyLimit),
		})
	}

	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Incidents != patterns[j].Incidents {
			return patterns[i].Incidents > patterns[j].Incidents
		}
		return patterns[i].ID < patterns[j].ID
	})
	m.logger.Debug("mined breach patterns", slog.Int("incidents", len(incidents)), slog.Int("patterns", len(patterns)))
	return patterns
}

// BreachedObjectives lists the objectives whose *_ok flag is false, sorted.
func BreachedObjectives(snapshot map[string]any) []string {
	var breached []string
	for key, value := range snapshot {
		if !strings.HasSuffix(key, okSuffix) {
			continue
		}
		if ok, isBool := value.(bool); isBool && !ok {
			breached = append(breached, strings.TrimSuffix(key, okSuffix))
		}
	}
	sort.Strings(breached)
	return breached
}

type signatureAggregate struct {
	breached     []string
	count        int
	lastSeen     time.Time
	policyCounts map[string]int
}

func (agg *signatureAggregate) topPolicies(limit int) []string {
	policies := make([]string, 0, len(agg.policyCounts))
	for p := range agg.policyCounts {
		policies = append(policies, p)
	}
	sort.Slice(policies, func(i, j int) bool {
		ci, cj := agg.policyCounts[policies[i]], agg.policyCounts[policies[j]]
		if ci != cj {
			return ci > cj
		}
		return policies[i] < policies[j]
	})
	if len(policies) > limit {
		policies = policies[:limit]
	}
	return policies
}
