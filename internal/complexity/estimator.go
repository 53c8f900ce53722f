// Copyright 2026 The Converse Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package complexity estimates how difficult an incoming query is for a small
// local model, and whether it carries data that must never leave the device.
// Factor computation is lexical and heuristic; an optional semantic matcher
// can refine the depth factor but the estimator never depends on it.
package complexity

import (
	"strings"

	log "github.com/sirupsen/logrus"
)

// Factor weights for the derived scalar. Reasoning steps dominate because
// they best predict whether a small local model produces an incoherent answer.
const (
	weightDepth     = 0.20
	weightReasoning = 0.30
	weightBreadth   = 0.20
	weightAmbiguity = 0.15
	weightContext   = 0.15
)

// Turn is one prior conversation turn provided as context.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Score holds the five independent complexity factors in [0,1], the derived
// weighted scalar, and the sensitive-data flag. Computed fresh per query and
// never mutated.
type Score struct {
	SemanticDepth         float64 `json:"semantic_depth"`
	ReasoningSteps        float64 `json:"reasoning_steps"`
	KnowledgeBreadth      float64 `json:"knowledge_breadth"`
	Ambiguity             float64 `json:"ambiguity"`
	ContextDependency     float64 `json:"context_dependency"`
	Scalar                float64 `json:"scalar"`
	ContainsSensitiveData bool    `json:"contains_sensitive_data"`
}

// SemanticMatcher is the optional embedding collaborator. When available it
// refines the semantic-depth factor; failure degrades the estimator to a
// purely lexical score.
type SemanticMatcher interface {
	MatchComplexity(query string) (float64, error)
	IsEnabled() bool
}

// Estimator scores query difficulty and privacy sensitivity. It is a leaf
// component: pure apart from the one optional embedding lookup.
type Estimator struct {
	matcher SemanticMatcher
}

// NewEstimator creates an estimator. matcher may be nil.
func NewEstimator(matcher SemanticMatcher) *Estimator {
	return &Estimator{matcher: matcher}
}

// Score computes the complexity of a query given its prior-turn context.
func (e *Estimator) Score(query string, context []Turn) Score {
	lower := strings.ToLower(query)
	words := strings.Fields(lower)

	s := Score{
		SemanticDepth:         e.scoreDepth(lower, words),
		ReasoningSteps:        scoreReasoning(lower, words),
		KnowledgeBreadth:      scoreBreadth(lower),
		Ambiguity:             scoreAmbiguity(lower, words, len(context)),
		ContextDependency:     scoreContextDependency(len(context)),
		ContainsSensitiveData: ContainsSensitiveData(query),
	}

	s.Scalar = weightDepth*s.SemanticDepth +
		weightReasoning*s.ReasoningSteps +
		weightBreadth*s.KnowledgeBreadth +
		weightAmbiguity*s.Ambiguity +
		weightContext*s.ContextDependency

	return s
}

// scoreDepth measures abstract and technical vocabulary density, optionally
// blended with the embedding-based anchor match.
func (e *Estimator) scoreDepth(lower string, words []string) float64 {
	lexical := keywordDensity(lower, words, depthKeywords, 4)

	if e.matcher != nil && e.matcher.IsEnabled() {
		semantic, err := e.matcher.MatchComplexity(lower)
		if err != nil {
			log.Warnf("semantic depth refinement unavailable, using lexical score: %v", err)
			return lexical
		}
		return clamp01(0.5*lexical + 0.5*semantic)
	}
	return lexical
}

var depthKeywords = []string{
	"architecture", "abstraction", "algorithm", "implication", "tradeoff",
	"trade-off", "optimize", "optimization", "theoretical", "paradigm",
	"framework", "methodology", "hypothesis", "distributed", "concurrency",
	"complexity", "asymptotic", "invariant", "heuristic", "philosophy",
	"epistemology", "thermodynamics", "quantum", "derivative", "integral",
	"recursion", "polymorphism", "cryptography", "entropy",
}

var reasoningMarkers = []string{
	"because", "therefore", "thus", "hence", "so that", "in order to",
	"if ", "then ", "unless", "compare", "contrast", "versus", " vs ",
	"step by step", "first", "second", "finally", "prove", "derive",
	"explain why", "explain how", "walk through", "and then",
}

// scoreReasoning counts conjunction, causal, and comparison markers.
func scoreReasoning(lower string, words []string) float64 {
	count := 0
	for _, m := range reasoningMarkers {
		count += strings.Count(lower, m)
	}
	// Long multi-clause questions imply reasoning even without markers.
	if len(words) > 40 {
		count++
	}
	return clamp01(float64(count) / 4.0)
}

var domainKeywords = map[string][]string{
	"software": {"code", "program", "function", "api", "database", "compiler", "server", "debug"},
	"science":  {"physics", "chemistry", "biology", "experiment", "molecule", "evolution", "energy"},
	"math":     {"equation", "calculate", "algebra", "geometry", "probability", "matrix", "theorem"},
	"business": {"market", "revenue", "investment", "startup", "finance", "strategy", "customer"},
	"arts":     {"poem", "novel", "painting", "music", "story", "creative", "design"},
	"health":   {"medical", "symptom", "diagnosis", "treatment", "disease", "nutrition", "therapy"},
	"law":      {"legal", "contract", "liability", "regulation", "court", "statute", "copyright"},
}

// scoreBreadth measures cross-domain keyword co-occurrence: a query touching
// several domains needs broader knowledge than a single-domain one.
func scoreBreadth(lower string) float64 {
	matched := 0
	for _, keywords := range domainKeywords {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				matched++
				break
			}
		}
	}
	return clamp01(float64(matched) / 3.0)
}

var vagueMarkers = []string{
	"something", "somehow", "stuff", "things", "thing", "whatever",
	"kind of", "sort of", "maybe", "etc", "and so on", "you know",
}

var bareReferencePronouns = []string{"it", "this", "that", "they", "those", "these"}

// scoreAmbiguity measures vague-language markers and unresolved pronoun
// references. A pronoun with no prior turns to resolve against counts double.
func scoreAmbiguity(lower string, words []string, contextTurns int) float64 {
	count := 0
	for _, m := range vagueMarkers {
		count += strings.Count(lower, m)
	}

	pronouns := 0
	for _, w := range words {
		trimmed := strings.Trim(w, ".,!?")
		for _, p := range bareReferencePronouns {
			if trimmed == p {
				pronouns++
				break
			}
		}
	}
	if pronouns > 0 && contextTurns == 0 {
		count += pronouns
	}

	return clamp01(float64(count) / 4.0)
}

// scoreContextDependency scales the prior-turn count into [0,1]. Five or more
// prior turns counts as fully context dependent.
func scoreContextDependency(turns int) float64 {
	return clamp01(float64(turns) / 5.0)
}

// keywordDensity scores keyword hits scaled by the saturation count.
func keywordDensity(lower string, words []string, keywords []string, saturation int) float64 {
	count := 0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			count++
		}
	}
	// Very short queries with no technical vocabulary stay near zero even if
	// one keyword fires.
	if len(words) < 4 && count <= 1 {
		return clamp01(float64(count) / (2.0 * float64(saturation)))
	}
	return clamp01(float64(count) / float64(saturation))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
