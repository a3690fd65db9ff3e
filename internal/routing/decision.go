package routing

import (
	"time"
)

// Policy selects how scored providers are balanced against each other.
type Policy string

const (
	PolicyPerformanceBased Policy = "performance_based"
	PolicyWeighted         Policy = "weighted"
	PolicyLeastConnections Policy = "least_connections"
	PolicyRoundRobin       Policy = "round_robin"
)

// RequestContext identifies the request being routed. The request content
// itself is never inspected.
type RequestContext struct {
	RequestID string `json:"request_id"`
	Service   string `json:"service"`
	Model     string `json:"model,omitempty"`
	Urgency   string `json:"urgency,omitempty"`
}

// Requirements are the caller-supplied hard constraints for one decision
// call. Immutable, scoped to a single SelectProvider invocation.
type Requirements struct {
	// MaxResponseTime excludes providers whose mean latency exceeds it.
	MaxResponseTime time.Duration `json:"max_response_time,omitempty"`

	// MinQuality is the quality floor in [0,1].
	MinQuality float64 `json:"min_quality,omitempty"`

	// MinReliability is the success-rate floor in [0,1].
	MinReliability float64 `json:"min_reliability,omitempty"`

	// PreferredProviders receive the configured score bonus.
	PreferredProviders []string `json:"preferred_providers,omitempty"`
}

// FactorBreakdown exposes the sub-scores behind a composite score for
// observability.
type FactorBreakdown struct {
	Performance float64 `json:"performance"`
	Load        float64 `json:"load"`
	Health      float64 `json:"health"`
	Alignment   float64 `json:"alignment"`
}

// Alternative is a ranked runner-up provider.
type Alternative struct {
	Provider string  `json:"provider"`
	Score    float64 `json:"score"`
	Reason   string  `json:"reason"`
}

// Decision is the outcome of one routing call. Produced once, never mutated
// afterward.
type Decision struct {
	// ID correlates the decision with the eventual request outcome.
	ID string `json:"id"`

	// The selected provider and the internal service path.
	Provider string `json:"provider"`
	Service  string `json:"service"`

	// Composite score of the selected provider.
	Score float64 `json:"score"`

	// Estimates derived from the snapshots at decision time, not measured
	// live.
	EstimatedResponseTime time.Duration `json:"estimated_response_time"`
	EstimatedReliability  float64       `json:"estimated_reliability"`
	EstimatedQuality      float64       `json:"estimated_quality"`

	// Ranked runner-up providers.
	Alternatives []Alternative `json:"alternatives"`

	// Human-readable rationale for the decision.
	Reasoning []string `json:"reasoning"`

	// Policy applied and whether the decision degraded to best-effort
	// because no provider met every hard requirement.
	Policy   Policy `json:"policy"`
	Fallback bool   `json:"fallback"`

	// Sub-score breakdown of the selected provider.
	Factors FactorBreakdown `json:"factors"`

	Timestamp time.Time `json:"timestamp"`
}
