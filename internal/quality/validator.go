// Copyright 2026 The Converse Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package quality implements the quality-gate validator: five independent
// heuristic scorers over a candidate answer, combined into a pass/fail
// decision and an escalation recommendation. Validation failures are signals,
// not errors; Validate never fails.
package quality

import (
	"math"
	"sync"
)

// Dimension weights for the overall score.
const (
	weightRelevance    = 0.30
	weightCompleteness = 0.20
	weightAccuracy     = 0.20
	weightCoherence    = 0.15
	weightSafety       = 0.15
)

// Recommendation values returned with a validation result.
const (
	RecommendAccept   = "accept"
	RecommendImprove  = "improve"
	RecommendEscalate = "escalate"
)

// Thresholds are the per-dimension minimums a passing answer must clear.
// Safety is intentionally the strictest: a single severe violation must fail
// the gate outright.
type Thresholds struct {
	Overall      float64 `yaml:"overall" json:"overall"`
	Coherence    float64 `yaml:"coherence" json:"coherence"`
	Completeness float64 `yaml:"completeness" json:"completeness"`
	Relevance    float64 `yaml:"relevance" json:"relevance"`
	Accuracy     float64 `yaml:"accuracy" json:"accuracy"`
	Safety       float64 `yaml:"safety" json:"safety"`
}

// DefaultThresholds returns the default gate minimums.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Overall:      0.70,
		Coherence:    0.60,
		Completeness: 0.65,
		Relevance:    0.70,
		Accuracy:     0.65,
		Safety:       0.95,
	}
}

// Result is one validated candidate answer: five dimension scores, the
// weighted overall, the gate outcome, and a recommendation.
type Result struct {
	Coherence    float64 `json:"coherence"`
	Completeness float64 `json:"completeness"`
	Relevance    float64 `json:"relevance"`
	Accuracy     float64 `json:"accuracy"`
	Safety       float64 `json:"safety"`

	Overall        float64 `json:"overall"`
	Passed         bool    `json:"passed"`
	Recommendation string  `json:"recommendation"`

	// Confidence is the assessment's own confidence, derived from the
	// variance across the five dimension scores.
	Confidence float64 `json:"confidence"`
}

// Validator scores candidate answers. Safe for concurrent use.
type Validator struct {
	thresholds Thresholds

	mu          sync.RWMutex
	totalChecks int64
	passCount   int64
}

// NewValidator creates a validator. Zero-valued threshold fields get defaults.
func NewValidator(t Thresholds) *Validator {
	def := DefaultThresholds()
	if t.Overall == 0 {
		t.Overall = def.Overall
	}
	if t.Coherence == 0 {
		t.Coherence = def.Coherence
	}
	if t.Completeness == 0 {
		t.Completeness = def.Completeness
	}
	if t.Relevance == 0 {
		t.Relevance = def.Relevance
	}
	if t.Accuracy == 0 {
		t.Accuracy = def.Accuracy
	}
	if t.Safety == 0 {
		t.Safety = def.Safety
	}
	return &Validator{thresholds: t}
}

// Validate scores an answer against its originating query. Deterministic:
// identical inputs produce identical results.
func (v *Validator) Validate(answer, query string) *Result {
	r := &Result{
		Coherence:    ScoreCoherence(answer),
		Completeness: ScoreCompleteness(answer, query),
		Relevance:    ScoreRelevance(answer, query),
		Accuracy:     ScoreAccuracy(answer, query),
		Safety:       ScoreSafety(answer),
	}

	r.Overall = weightRelevance*r.Relevance +
		weightCompleteness*r.Completeness +
		weightAccuracy*r.Accuracy +
		weightCoherence*r.Coherence +
		weightSafety*r.Safety

	t := v.thresholds
	r.Passed = r.Overall >= t.Overall &&
		r.Coherence >= t.Coherence &&
		r.Completeness >= t.Completeness &&
		r.Relevance >= t.Relevance &&
		r.Accuracy >= t.Accuracy &&
		r.Safety >= t.Safety

	switch {
	case r.Passed:
		r.Recommendation = RecommendAccept
	case r.Overall >= 0.6:
		r.Recommendation = RecommendImprove
	default:
		r.Recommendation = RecommendEscalate
	}

	r.Confidence = assessmentConfidence([]float64{
		r.Coherence, r.Completeness, r.Relevance, r.Accuracy, r.Safety,
	})

	v.mu.Lock()
	v.totalChecks++
	if r.Passed {
		v.passCount++
	}
	v.mu.Unlock()

	return r
}

// GetMetrics returns gate statistics.
func (v *Validator) GetMetrics() map[string]interface{} {
	v.mu.RLock()
	defer v.mu.RUnlock()

	passRate := 0.0
	if v.totalChecks > 0 {
		passRate = float64(v.passCount) / float64(v.totalChecks)
	}
	return map[string]interface{}{
		"total_validations": v.totalChecks,
		"pass_count":        v.passCount,
		"pass_rate":         passRate,
	}
}

// assessmentConfidence maps dimension-score variance into [0.6, 1.0]: low
// variance means the scorers agree, so the assessment is trustworthy.
func assessmentConfidence(scores []float64) float64 {
	mean := 0.0
	for _, s := range scores {
		mean += s
	}
	mean /= float64(len(scores))

	variance := 0.0
	for _, s := range scores {
		variance += (s - mean) * (s - mean)
	}
	variance /= float64(len(scores))

	conf := 1.0 - math.Min(variance*4.0, 0.4)
	if conf < 0.6 {
		conf = 0.6
	}
	return conf
}
