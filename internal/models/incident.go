package models

import "time"

// Incident records a governance intervention. Incidents are never mutated
// after creation.
type Incident struct {
	ID              string         `json:"id"`
	Timestamp       time.Time      `json:"timestamp"`
	SLOSnapshot     map[string]any `json:"slo_snapshot"`
	AppliedPolicies []string       `json:"applied_policies"`
	Narrative       string         `json:"narrative"`
}

// BreachPattern groups incidents that breached the same set of objectives.
type BreachPattern struct {
	ID         string    `json:"id"`
	Breached   []string  `json:"breached"`
	Incidents  int       `json:"incidents"`
	Prevalence float64   `json:"prevalence"`
	LastSeen   time.Time `json:"last_seen"`
	// Policies are the most frequently applied policies, most common first.
	Policies []string `json:"policies,omitempty"`
}
