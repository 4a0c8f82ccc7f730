package models

import "time"

// QueryRequest is a question submitted to the pipeline.
type QueryRequest struct {
	Query string `json:"query" binding:"required"`
}

// QueryResponse is the pipeline answer.
type QueryResponse struct {
	Answer          string    `json:"answer"`
	RetrievedChunks []string  `json:"retrieved_chunks"`
	ModelUsed       string    `json:"model_used,omitempty"`
	Source          string    `json:"source,omitempty"`
	Degraded        bool      `json:"degraded"`
	Quality         *Quality  `json:"quality,omitempty"`
	AppliedPolicies []string  `json:"applied_policies,omitempty"`
	IncidentID      string    `json:"incident_id,omitempty"`
	LatencyMs       float64   `json:"latency_ms"`
	AnsweredAt      time.Time `json:"answered_at"`
}

// Quality summarises how well an answer is supported by its context.
type Quality struct {
	Groundedness float64 `json:"groundedness"`
	JudgeScore   float64 `json:"judge_score"`
	Hallucinated bool    `json:"hallucinated"`
}
