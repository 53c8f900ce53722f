// Copyright 2026 The Converse Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package decision

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	log "github.com/sirupsen/logrus"

	"github.com/traylinx/converse/internal/backend"
	"github.com/traylinx/converse/internal/complexity"
)

// ErrMetaPromptParse indicates the advisory model returned output that does
// not parse as a routing decision. Callers fall back to the threshold path.
var ErrMetaPromptParse = errors.New("meta-prompt response is not a valid decision")

const metaPromptTemplate = `You are a routing advisor. Given a user query, decide how to execute it.
Respond with exactly one JSON object and nothing else, using this shape:
{"strategy": "local-only"|"delegate"|"hybrid", "reason": "<one sentence>", "complexity": <0.0-1.0>}

User query:
%s`

// MetaPromptAdvisor asks a model to pick the strategy instead of using the
// keyword heuristics. It is an optional refinement layered over Engine: the
// advisor proposes, the engine's invariants still dispose.
type MetaPromptAdvisor struct {
	adapter backend.Adapter
	engine  *Engine
}

// NewMetaPromptAdvisor wraps an engine with model-advised strategy selection.
// The adapter should be a local backend so advisory traffic stays on-device.
func NewMetaPromptAdvisor(adapter backend.Adapter, engine *Engine) *MetaPromptAdvisor {
	return &MetaPromptAdvisor{adapter: adapter, engine: engine}
}

// Decide consults the advisory model and merges its proposal into the
// engine's decision. Sensitive data bypasses the advisor entirely, and a
// malformed advisory response falls back to the heuristic path.
func (a *MetaPromptAdvisor) Decide(ctx context.Context, query string, score complexity.Score, prefs Preferences, turns []complexity.Turn) (*Decision, error) {
	// Sensitive queries never reach the advisor; the engine's forced-local
	// path handles them.
	if score.ContainsSensitiveData {
		return a.engine.Decide(query, score, prefs, turns)
	}

	proposal, err := a.consult(ctx, query)
	if err != nil {
		log.WithField("error", err.Error()).Debug("meta-prompt advisor unavailable, using heuristic decision")
		return a.engine.Decide(query, score, prefs, turns)
	}

	// Let the advisor's complexity reading replace the heuristic scalar,
	// then run the normal decision so thresholds, steering, budgets and
	// auditing all still apply.
	adjusted := score
	adjusted.Scalar = proposal.Complexity
	d, err := a.engine.Decide(query, adjusted, prefs, turns)
	if err != nil {
		return nil, err
	}
	if d.Forced || d.SteeringRule != "" {
		return d, nil
	}
	if d.Strategy != proposal.Strategy {
		d.Justification = fmt.Sprintf("%s; advisor proposed %s: %s", d.Justification, proposal.Strategy, proposal.Reason)
	}
	return d, nil
}

type metaProposal struct {
	Strategy   Strategy
	Reason     string
	Complexity float64
}

// consult sends the meta-prompt and parses the advisory response.
func (a *MetaPromptAdvisor) consult(ctx context.Context, query string) (*metaProposal, error) {
	resp, err := a.adapter.Query(ctx, backend.Request{
		Messages: []backend.Message{
			{Role: "user", Content: fmt.Sprintf(metaPromptTemplate, query)},
		},
		Temperature: 0.0,
		MaxTokens:   200,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, ErrMetaPromptParse
	}
	return parseMetaResponse(resp.Choices[0].Message.Content)
}

// parseMetaResponse extracts the decision object from raw model output.
// Models wrap JSON in prose or code fences often enough that we scan for the
// first object rather than unmarshal the whole string.
func parseMetaResponse(raw string) (*metaProposal, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, ErrMetaPromptParse
	}
	body := raw[start : end+1]
	if !gjson.Valid(body) {
		return nil, ErrMetaPromptParse
	}

	strategyField := gjson.Get(body, "strategy")
	if !strategyField.Exists() {
		return nil, ErrMetaPromptParse
	}
	var strategy Strategy
	switch strategyField.String() {
	case string(StrategyLocalOnly):
		strategy = StrategyLocalOnly
	case string(StrategyDelegate):
		strategy = StrategyDelegate
	case string(StrategyHybrid):
		strategy = StrategyHybrid
	default:
		return nil, ErrMetaPromptParse
	}

	cmplx := gjson.Get(body, "complexity")
	if !cmplx.Exists() {
		return nil, ErrMetaPromptParse
	}
	scalar := cmplx.Float()
	if scalar < 0 || scalar > 1 {
		return nil, ErrMetaPromptParse
	}

	return &metaProposal{
		Strategy:   strategy,
		Reason:     gjson.Get(body, "reason").String(),
		Complexity: scalar,
	}, nil
}
