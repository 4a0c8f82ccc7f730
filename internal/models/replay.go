package models

import "time"

// ShadowSample is one sampled live query.
type ShadowSample struct {
	Timestamp time.Time `json:"timestamp"`
	Query     string    `json:"query"`
}

// CallResult is the outcome of one side of a replay: an answer or an error.
type CallResult struct {
	Value string `json:"value,omitempty"`
	Err   string `json:"error,omitempty"`
}

// OK reports whether the call produced a non-empty answer.
func (c CallResult) OK() bool {
	return c.Err == "" && c.Value != ""
}

// Comparison scores a chaos answer against its baseline.
type Comparison struct {
	Similarity float64 `json:"similarity"`
	Degraded   bool    `json:"degraded"`
	Error      string  `json:"error,omitempty"`
}

// ReplayOutcome is the per-query replay record.
type ReplayOutcome struct {
	Query      string     `json:"query"`
	Baseline   CallResult `json:"baseline"`
	Chaos      CallResult `json:"chaos"`
	Comparison Comparison `json:"comparison"`
}
