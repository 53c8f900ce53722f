// Copyright 2026 The Converse Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package complexity

import (
	"errors"
	"testing"
)

func TestEstimator_SimpleFactualQuery(t *testing.T) {
	e := NewEstimator(nil)

	score := e.Score("What is the capital of France?", nil)

	if score.Scalar > 0.4 {
		t.Errorf("simple factual query scored %.2f, want <= 0.4", score.Scalar)
	}
	if score.ContainsSensitiveData {
		t.Error("simple query flagged as sensitive")
	}
}

func TestEstimator_ComplexQueryScoresHigh(t *testing.T) {
	e := NewEstimator(nil)

	query := "Compare the architecture tradeoffs of a distributed database versus " +
		"a single-node design, explain why concurrency control matters, and then " +
		"walk through step by step how you would prove the invariant holds if the " +
		"network partitions."
	score := e.Score(query, nil)

	if score.Scalar < 0.4 {
		t.Errorf("multi-step technical query scored %.2f, want >= 0.4", score.Scalar)
	}
	if score.ReasoningSteps < 0.5 {
		t.Errorf("reasoning factor %.2f, want >= 0.5", score.ReasoningSteps)
	}
}

func TestEstimator_FactorsStayInRange(t *testing.T) {
	e := NewEstimator(nil)

	queries := []string{
		"",
		"hi",
		"Explain how the legal liability of a medical startup interacts with market regulation, contract law, and treatment outcomes because the court may compare statutes.",
		"fix it somehow, you know, the thing with the stuff and whatever else",
	}
	for _, q := range queries {
		score := e.Score(q, nil)
		for name, v := range map[string]float64{
			"depth":     score.SemanticDepth,
			"reasoning": score.ReasoningSteps,
			"breadth":   score.KnowledgeBreadth,
			"ambiguity": score.Ambiguity,
			"context":   score.ContextDependency,
			"scalar":    score.Scalar,
		} {
			if v < 0 || v > 1 {
				t.Errorf("query %q: factor %s = %.3f out of [0,1]", q, name, v)
			}
		}
	}
}

func TestEstimator_ContextDependency(t *testing.T) {
	e := NewEstimator(nil)

	turns := []Turn{
		{Role: "user", Content: "Tell me about Go."},
		{Role: "assistant", Content: "Go is a programming language."},
		{Role: "user", Content: "Who designed it?"},
		{Role: "assistant", Content: "Robert Griesemer, Rob Pike, and Ken Thompson."},
		{Role: "user", Content: "When?"},
	}

	noContext := e.Score("What about generics?", nil)
	withContext := e.Score("What about generics?", turns)

	if withContext.ContextDependency != 1.0 {
		t.Errorf("five prior turns should max context dependency, got %.2f", withContext.ContextDependency)
	}
	if noContext.ContextDependency != 0 {
		t.Errorf("no prior turns should zero context dependency, got %.2f", noContext.ContextDependency)
	}
}

func TestEstimator_UnresolvedPronounsRaiseAmbiguity(t *testing.T) {
	e := NewEstimator(nil)

	bare := e.Score("Why does it keep doing that?", nil)
	resolved := e.Score("Why does it keep doing that?", []Turn{
		{Role: "user", Content: "My build script exits with code 2."},
	})

	if bare.Ambiguity <= resolved.Ambiguity {
		t.Errorf("pronouns without context should score higher ambiguity: bare %.2f, resolved %.2f",
			bare.Ambiguity, resolved.Ambiguity)
	}
}

func TestEstimator_SensitiveDataDetection(t *testing.T) {
	e := NewEstimator(nil)

	tests := []struct {
		name  string
		query string
		want  bool
	}{
		{"ssn", "My SSN is 123-45-6789, can you file this?", true},
		{"payment card", "Charge card 4111 1111 1111 1111 please", true},
		{"email", "Forward this to jane.doe@example.com", true},
		{"phone", "Call me at 555-867-5309 tomorrow", true},
		{"clean", "What is the tallest mountain in the world?", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := e.Score(tt.query, nil)
			if score.ContainsSensitiveData != tt.want {
				t.Errorf("ContainsSensitiveData = %v, want %v", score.ContainsSensitiveData, tt.want)
			}
		})
	}
}

type failingMatcher struct{}

func (failingMatcher) MatchComplexity(string) (float64, error) {
	return 0, errors.New("embedding backend offline")
}
func (failingMatcher) IsEnabled() bool { return true }

type fixedMatcher struct{ v float64 }

func (m fixedMatcher) MatchComplexity(string) (float64, error) { return m.v, nil }
func (m fixedMatcher) IsEnabled() bool                         { return true }

func TestEstimator_MatcherFailureDegradesToLexical(t *testing.T) {
	lexical := NewEstimator(nil)
	degraded := NewEstimator(failingMatcher{})

	query := "Explain the algorithm behind concurrent hash maps."
	if degraded.Score(query, nil) != lexical.Score(query, nil) {
		t.Error("failing matcher should produce the same score as no matcher")
	}
}

func TestEstimator_MatcherRefinesDepth(t *testing.T) {
	base := NewEstimator(nil)
	refined := NewEstimator(fixedMatcher{v: 1.0})

	query := "Explain the algorithm behind concurrent hash maps."
	if refined.Score(query, nil).SemanticDepth <= base.Score(query, nil).SemanticDepth {
		t.Error("high semantic match should raise the depth factor")
	}
}

func TestEstimator_Deterministic(t *testing.T) {
	e := NewEstimator(nil)
	query := "Compare optimistic and pessimistic locking, then explain why deadlocks occur."

	first := e.Score(query, nil)
	for i := 0; i < 10; i++ {
		if got := e.Score(query, nil); got != first {
			t.Fatalf("score changed across runs: %+v vs %+v", got, first)
		}
	}
}
