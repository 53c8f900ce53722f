// Copyright 2026 The Converse Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package steering

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ConditionEvaluator compiles and caches rule condition programs.
type ConditionEvaluator struct {
	mu       sync.RWMutex
	programs map[string]*vm.Program
}

// NewConditionEvaluator creates an evaluator with an empty program cache.
func NewConditionEvaluator() *ConditionEvaluator {
	return &ConditionEvaluator{
		programs: make(map[string]*vm.Program),
	}
}

// Compile validates and caches a condition. Empty and "true" conditions are
// always valid.
func (e *ConditionEvaluator) Compile(condition string) error {
	if condition == "" || condition == "true" {
		return nil
	}

	e.mu.RLock()
	_, exists := e.programs[condition]
	e.mu.RUnlock()
	if exists {
		return nil
	}

	program, err := expr.Compile(condition, expr.Env(&RoutingContext{}), expr.AsBool())
	if err != nil {
		return fmt.Errorf("failed to compile condition %q: %w", condition, err)
	}

	e.mu.Lock()
	e.programs[condition] = program
	e.mu.Unlock()
	return nil
}

// Evaluate runs a condition against the routing context.
func (e *ConditionEvaluator) Evaluate(condition string, ctx *RoutingContext) (bool, error) {
	if condition == "" || condition == "true" {
		return true, nil
	}

	e.mu.RLock()
	program, exists := e.programs[condition]
	e.mu.RUnlock()

	if !exists {
		if err := e.Compile(condition); err != nil {
			return false, err
		}
		e.mu.RLock()
		program = e.programs[condition]
		e.mu.RUnlock()
	}

	output, err := expr.Run(program, ctx)
	if err != nil {
		return false, fmt.Errorf("failed to run condition %q: %w", condition, err)
	}

	result, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not return a boolean", condition)
	}
	return result, nil
}
