// Copyright 2026 The Converse Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package steering lets users declare routing overrides as named rules with
// expression-language conditions. Matching rules can pin a backend for a
// query, but they are consulted only after the sensitive-data check: no rule
// can route a PII query off-device.
package steering

import (
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Rule is a single user-declared routing override.
type Rule struct {
	Name string `yaml:"name" json:"name"`
	// Condition is an expr-lang expression over RoutingContext, e.g.
	// "Category == 'coding' && Hour >= 9".
	Condition string `yaml:"condition" json:"condition"`
	// Priority orders matching rules; higher wins.
	Priority int `yaml:"priority" json:"priority"`
	// Backend pins the target backend when the rule matches.
	Backend string `yaml:"backend,omitempty" json:"backend,omitempty"`
	// ForceLocal pins the local backend regardless of thresholds.
	ForceLocal bool `yaml:"force-local,omitempty" json:"force_local,omitempty"`
}

// RoutingContext is the evaluation environment for rule conditions.
type RoutingContext struct {
	Category      string    `expr:"Category" json:"category"`
	ContentLength int       `expr:"ContentLength" json:"content_length"`
	ContextTurns  int       `expr:"ContextTurns" json:"context_turns"`
	Complexity    float64   `expr:"Complexity" json:"complexity"`
	Hour          int       `expr:"Hour" json:"hour"`
	DayOfWeek     string    `expr:"DayOfWeek" json:"day_of_week"`
	Timestamp     time.Time `expr:"Timestamp" json:"timestamp"`
}

// Engine holds the active rule set and evaluates conditions against a
// routing context. Rules can be swapped at runtime (config hot reload).
type Engine struct {
	mu        sync.RWMutex
	rules     []Rule
	evaluator *ConditionEvaluator
}

// NewEngine creates a steering engine with an initial rule set.
func NewEngine(rules []Rule) *Engine {
	e := &Engine{evaluator: NewConditionEvaluator()}
	e.SetRules(rules)
	return e
}

// SetRules replaces the active rule set. Invalid conditions are dropped with
// a warning rather than poisoning evaluation.
func (e *Engine) SetRules(rules []Rule) {
	valid := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if err := e.evaluator.Compile(r.Condition); err != nil {
			log.Warnf("steering: dropping rule %q, bad condition: %v", r.Name, err)
			continue
		}
		valid = append(valid, r)
	}
	sort.SliceStable(valid, func(i, j int) bool { return valid[i].Priority > valid[j].Priority })

	e.mu.Lock()
	e.rules = valid
	e.mu.Unlock()
}

// Match returns the highest-priority rule whose condition holds for the
// context, or nil when none match.
func (e *Engine) Match(ctx *RoutingContext) *Rule {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	for i := range rules {
		ok, err := e.evaluator.Evaluate(rules[i].Condition, ctx)
		if err != nil {
			log.Warnf("steering: rule %q evaluation failed: %v", rules[i].Name, err)
			continue
		}
		if ok {
			matched := rules[i]
			return &matched
		}
	}
	return nil
}

// RuleCount returns the number of active rules.
func (e *Engine) RuleCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}
