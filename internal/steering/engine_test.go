// Copyright 2026 The Converse Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package steering

import (
	"testing"
	"time"
)

func testContext() *RoutingContext {
	return &RoutingContext{
		Category:      "coding",
		ContentLength: 120,
		ContextTurns:  2,
		Complexity:    0.55,
		Hour:          14,
		DayOfWeek:     "Tuesday",
		Timestamp:     time.Date(2026, 8, 25, 14, 0, 0, 0, time.UTC),
	}
}

func TestEngine_MatchesCondition(t *testing.T) {
	e := NewEngine([]Rule{
		{Name: "coding-to-coder", Condition: `Category == "coding"`, Priority: 5, Backend: "cloud-coder"},
	})

	rule := e.Match(testContext())
	if rule == nil {
		t.Fatal("expected a match")
	}
	if rule.Name != "coding-to-coder" {
		t.Errorf("matched %q", rule.Name)
	}
}

func TestEngine_NoMatchReturnsNil(t *testing.T) {
	e := NewEngine([]Rule{
		{Name: "weekend-local", Condition: `DayOfWeek == "Saturday" || DayOfWeek == "Sunday"`, Priority: 5, ForceLocal: true},
	})

	if rule := e.Match(testContext()); rule != nil {
		t.Errorf("unexpected match: %q", rule.Name)
	}
}

func TestEngine_HighestPriorityWins(t *testing.T) {
	e := NewEngine([]Rule{
		{Name: "low", Condition: "Complexity > 0.1", Priority: 1, Backend: "a"},
		{Name: "high", Condition: "Complexity > 0.1", Priority: 10, Backend: "b"},
		{Name: "mid", Condition: "Complexity > 0.1", Priority: 5, Backend: "c"},
	})

	rule := e.Match(testContext())
	if rule == nil || rule.Name != "high" {
		t.Fatalf("expected rule 'high', got %+v", rule)
	}
}

func TestEngine_InvalidConditionDropped(t *testing.T) {
	e := NewEngine([]Rule{
		{Name: "broken", Condition: "Category ===", Priority: 10, Backend: "a"},
		{Name: "valid", Condition: "ContentLength > 100", Priority: 1, Backend: "b"},
	})

	if e.RuleCount() != 1 {
		t.Fatalf("rule count = %d, want 1 (invalid dropped)", e.RuleCount())
	}
	rule := e.Match(testContext())
	if rule == nil || rule.Name != "valid" {
		t.Fatalf("expected surviving rule 'valid', got %+v", rule)
	}
}

func TestEngine_NonBooleanConditionDropped(t *testing.T) {
	e := NewEngine([]Rule{
		{Name: "not-bool", Condition: "ContentLength + 1", Priority: 1, Backend: "a"},
	})

	if e.RuleCount() != 0 {
		t.Errorf("rule count = %d, want 0", e.RuleCount())
	}
}

func TestEngine_SetRulesReplacesAtomically(t *testing.T) {
	e := NewEngine([]Rule{
		{Name: "old", Condition: "true", Priority: 1, Backend: "a"},
	})

	e.SetRules([]Rule{
		{Name: "new", Condition: "true", Priority: 1, Backend: "b"},
	})

	rule := e.Match(testContext())
	if rule == nil || rule.Name != "new" {
		t.Fatalf("expected rule 'new' after SetRules, got %+v", rule)
	}
}

func TestEngine_TimeFields(t *testing.T) {
	e := NewEngine([]Rule{
		{Name: "business-hours", Condition: "Hour >= 9 && Hour < 17", Priority: 1, ForceLocal: true},
	})

	if rule := e.Match(testContext()); rule == nil {
		t.Error("14:00 should match business hours")
	}

	night := testContext()
	night.Hour = 3
	if rule := e.Match(night); rule != nil {
		t.Error("03:00 should not match business hours")
	}
}
