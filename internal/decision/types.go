// Copyright 2026 The Converse Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package decision implements the orchestration decision engine: a
// deterministic mapping from complexity score and user preferences to an
// execution strategy and target backend, with the privacy invariant applied
// before anything else.
package decision

import "time"

// Strategy is the high-level execution plan chosen for a query.
type Strategy string

const (
	// StrategyLocalOnly answers with a single local call; no escalation path.
	StrategyLocalOnly Strategy = "local-only"
	// StrategyDelegate answers with a single call to a non-local backend.
	StrategyDelegate Strategy = "delegate"
	// StrategyHybrid tries local first and escalates on a failed quality gate.
	StrategyHybrid Strategy = "hybrid"
	// StrategyIterative is hybrid with one local retry before escalating;
	// reserved for multi-round escalation policy.
	StrategyIterative Strategy = "iterative"
)

// Priority is the user's declared optimization preference.
type Priority string

const (
	PriorityCost     Priority = "cost"
	PriorityQuality  Priority = "quality"
	PriorityLatency  Priority = "latency"
	PriorityBalanced Priority = "balanced"
)

// PrivacyLevel is the user's declared privacy posture. It can only tighten
// routing; the PII invariant holds at every level.
type PrivacyLevel string

const (
	PrivacyStrict   PrivacyLevel = "strict"
	PrivacyModerate PrivacyLevel = "moderate"
	PrivacyRelaxed  PrivacyLevel = "relaxed"
)

// Preferences is the read-only per-call configuration. Never mutated by the
// core.
type Preferences struct {
	Priority        Priority     `yaml:"priority" json:"priority"`
	PrivacyLevel    PrivacyLevel `yaml:"privacy-level" json:"privacy_level"`
	MaxCostPerQuery float64      `yaml:"max-cost-per-query,omitempty" json:"max_cost_per_query,omitempty"`
	MaxLatencyMs    int64        `yaml:"max-latency-ms,omitempty" json:"max_latency_ms,omitempty"`
	MinConfidence   float64      `yaml:"min-confidence,omitempty" json:"min_confidence,omitempty"`
}

// Decision is the immutable outcome of one routing evaluation. Created once
// per query and logged for audit.
type Decision struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`

	Strategy  Strategy `json:"strategy"`
	BackendID string   `json:"backend_id"`
	// FallbackID is the precomputed next backend to use if the primary fails
	// outright or the quality gate escalates.
	FallbackID string `json:"fallback_id,omitempty"`

	Confidence         float64 `json:"confidence"`
	EstimatedLatencyMs int64   `json:"estimated_latency_ms"`
	EstimatedCost      float64 `json:"estimated_cost"`

	// Forced marks a decision dictated by the sensitive-data invariant or a
	// strict privacy preference.
	Forced bool `json:"forced,omitempty"`
	// SteeringRule names the rule that pinned this decision, if any.
	SteeringRule string `json:"steering_rule,omitempty"`
	// Justification is human-readable reasoning for the audit trail.
	Justification string `json:"justification"`
	// Category is the classified task category used for backend selection.
	Category string `json:"category"`
}

// Task categories used for backend selection priority lists.
const (
	CategoryCoding   = "coding"
	CategoryCreative = "creative"
	CategoryMath     = "math"
	CategoryGeneral  = "general"
)
