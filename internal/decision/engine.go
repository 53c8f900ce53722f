// Copyright 2026 The Converse Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package decision

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/traylinx/converse/internal/audit"
	"github.com/traylinx/converse/internal/backend"
	"github.com/traylinx/converse/internal/complexity"
	"github.com/traylinx/converse/internal/steering"
)

// Thresholds are the complexity cut points for strategy selection. Scores at
// or below Local stay on-device, at or above Cloud delegate, in between run
// hybrid.
type Thresholds struct {
	Local float64 `yaml:"local" json:"local"`
	Cloud float64 `yaml:"cloud" json:"cloud"`
}

// DefaultThresholds returns the default strategy cut points.
func DefaultThresholds() Thresholds {
	return Thresholds{Local: 0.4, Cloud: 0.7}
}

// preferenceBias is the additive threshold shift for cost/quality priorities.
const preferenceBias = 0.1

// Engine maps (query, complexity, preferences) to an orchestration decision.
// It is explicitly constructed and holds no hidden shared state; multiple
// independent engines can coexist.
type Engine struct {
	registry   *backend.Registry
	steering   *steering.Engine // optional
	sink       *audit.Sink      // optional, best-effort
	thresholds Thresholds
	// categoryPriority maps task category to an ordered backend preference
	// list; unknown categories fall through to the default cloud backend.
	categoryPriority map[string][]string

	mu        sync.Mutex
	decisions int64
	forced    int64
}

// NewEngine constructs a decision engine. steeringEngine and sink may be nil.
func NewEngine(registry *backend.Registry, thresholds Thresholds, categoryPriority map[string][]string, steeringEngine *steering.Engine, sink *audit.Sink) *Engine {
	if thresholds.Local == 0 && thresholds.Cloud == 0 {
		thresholds = DefaultThresholds()
	}
	if categoryPriority == nil {
		categoryPriority = map[string][]string{}
	}
	return &Engine{
		registry:         registry,
		steering:         steeringEngine,
		sink:             sink,
		thresholds:       thresholds,
		categoryPriority: categoryPriority,
	}
}

// Decide selects the execution strategy and target backend for a query.
// The sensitive-data check runs first and short-circuits everything else.
func (e *Engine) Decide(query string, score complexity.Score, prefs Preferences, context []complexity.Turn) (*Decision, error) {
	d := &Decision{
		Timestamp: time.Now(),
		RequestID: uuid.New().String(),
		Category:  ClassifyCategory(query),
	}

	// Privacy invariant: PII never leaves the device. Nothing below this
	// check can override it.
	if score.ContainsSensitiveData {
		local, ok := e.registry.Local()
		if !ok {
			return nil, fmt.Errorf("query contains sensitive data but no local backend is configured")
		}
		d.Strategy = StrategyLocalOnly
		d.BackendID = local.ID
		d.Confidence = 0.99
		d.Forced = true
		d.EstimatedLatencyMs = local.BaseLatencyMs
		d.Justification = "sensitive data detected; restricted to local backend"
		e.record(query, d)
		return d, nil
	}

	// Declared strict privacy keeps the query on-device even without PII,
	// and overrides steering rules that would pin a cloud backend.
	if prefs.PrivacyLevel == PrivacyStrict {
		local, ok := e.registry.Local()
		if !ok {
			return nil, fmt.Errorf("privacy level strict requires a local backend")
		}
		d.Strategy = StrategyLocalOnly
		d.BackendID = local.ID
		d.Confidence = 0.95
		d.Forced = true
		d.EstimatedLatencyMs = local.BaseLatencyMs
		d.Justification = "strict privacy preference; restricted to local backend"
		e.record(query, d)
		return d, nil
	}

	if rule := e.matchSteering(query, score, context); rule != nil {
		if applied, ok := e.applySteering(rule, d); ok {
			e.record(query, applied)
			return applied, nil
		}
	}

	localT, cloudT := e.biasedThresholds(prefs)

	switch {
	case score.Scalar <= localT:
		d.Strategy = StrategyLocalOnly
	case score.Scalar >= cloudT:
		d.Strategy = StrategyDelegate
	case prefs.Priority == PriorityQuality:
		d.Strategy = StrategyIterative
	default:
		d.Strategy = StrategyHybrid
	}

	if err := e.selectBackends(d, prefs); err != nil {
		return nil, err
	}

	e.estimate(d, query, context)
	e.applyBudgets(d, prefs)
	d.Confidence = e.confidence(score.Scalar, localT, cloudT)
	d.Justification = e.justify(d, score, localT, cloudT)
	e.applyMinConfidence(d, prefs)

	e.record(query, d)
	return d, nil
}

// applyMinConfidence hardens a decision below the caller's confidence floor:
// single-backend strategies become hybrid so a fallback path exists.
func (e *Engine) applyMinConfidence(d *Decision, prefs Preferences) {
	if prefs.MinConfidence <= 0 || d.Confidence >= prefs.MinConfidence {
		return
	}
	local, hasLocal := e.registry.Local()
	if !hasLocal {
		return
	}

	switch d.Strategy {
	case StrategyDelegate:
		d.FallbackID = d.BackendID
		d.BackendID = local.ID
		d.Strategy = StrategyHybrid
		d.EstimatedLatencyMs = local.BaseLatencyMs
		d.EstimatedCost = 0
	case StrategyLocalOnly:
		cloud, ok := e.cloudForCategory(d.Category)
		if !ok {
			return
		}
		if d.BackendID != local.ID {
			return
		}
		d.Strategy = StrategyHybrid
		d.FallbackID = cloud
	default:
		return
	}
	d.Justification += fmt.Sprintf("; confidence %.2f under floor %.2f, keeping a fallback", d.Confidence, prefs.MinConfidence)
}

// biasedThresholds applies the declared preference bias: cost shifts both cut
// points up (toward local), quality shifts them down (toward cloud).
func (e *Engine) biasedThresholds(prefs Preferences) (float64, float64) {
	localT, cloudT := e.thresholds.Local, e.thresholds.Cloud
	switch prefs.Priority {
	case PriorityCost:
		localT += preferenceBias
		cloudT += preferenceBias
	case PriorityQuality:
		localT -= preferenceBias
		cloudT -= preferenceBias
	}
	return localT, cloudT
}

func (e *Engine) matchSteering(query string, score complexity.Score, context []complexity.Turn) *steering.Rule {
	if e.steering == nil {
		return nil
	}
	now := time.Now()
	return e.steering.Match(&steering.RoutingContext{
		Category:      ClassifyCategory(query),
		ContentLength: len(query),
		ContextTurns:  len(context),
		Complexity:    score.Scalar,
		Hour:          now.Hour(),
		DayOfWeek:     now.Weekday().String(),
		Timestamp:     now,
	})
}

// applySteering turns a matched rule into a pinned decision. Rules that name
// an unconfigured backend are ignored.
func (e *Engine) applySteering(rule *steering.Rule, d *Decision) (*Decision, bool) {
	if rule.ForceLocal {
		local, ok := e.registry.Local()
		if !ok {
			return nil, false
		}
		d.Strategy = StrategyLocalOnly
		d.BackendID = local.ID
		d.Confidence = 1.0
		d.SteeringRule = rule.Name
		d.EstimatedLatencyMs = local.BaseLatencyMs
		d.Justification = fmt.Sprintf("steering rule %q pinned local execution", rule.Name)
		return d, true
	}

	if rule.Backend == "" || !e.registry.Has(rule.Backend) {
		return nil, false
	}
	desc, _ := e.registry.Get(rule.Backend)
	if desc.Local {
		d.Strategy = StrategyLocalOnly
	} else {
		d.Strategy = StrategyDelegate
		if fb, ok := e.fallbackFor(d.Category, rule.Backend); ok {
			d.FallbackID = fb
		}
	}
	d.BackendID = rule.Backend
	d.Confidence = 1.0
	d.SteeringRule = rule.Name
	d.EstimatedLatencyMs = desc.BaseLatencyMs
	d.Justification = fmt.Sprintf("steering rule %q pinned backend %s", rule.Name, rule.Backend)
	return d, true
}

// selectBackends fills the primary and fallback targets for the strategy.
func (e *Engine) selectBackends(d *Decision, prefs Preferences) error {
	local, hasLocal := e.registry.Local()

	switch d.Strategy {
	case StrategyLocalOnly:
		if !hasLocal {
			return fmt.Errorf("no local backend configured")
		}
		d.BackendID = local.ID
		return nil

	case StrategyHybrid, StrategyIterative:
		if !hasLocal {
			// Without a local backend there is nothing to try first.
			d.Strategy = StrategyDelegate
			return e.selectBackends(d, prefs)
		}
		d.BackendID = local.ID
		cloud, ok := e.cloudForCategory(d.Category)
		if !ok {
			return fmt.Errorf("no cloud backend configured for escalation")
		}
		d.FallbackID = cloud
		return nil

	case StrategyDelegate:
		cloud, ok := e.cloudForCategory(d.Category)
		if !ok {
			return fmt.Errorf("no cloud backend configured")
		}
		d.BackendID = cloud
		if fb, ok := e.fallbackFor(d.Category, cloud); ok {
			d.FallbackID = fb
		}
		return nil
	}
	return fmt.Errorf("unknown strategy %q", d.Strategy)
}

// cloudForCategory returns the first configured backend from the category's
// priority list, or the default cloud backend.
func (e *Engine) cloudForCategory(category string) (string, bool) {
	for _, id := range e.categoryPriority[category] {
		if e.registry.Has(id) {
			if desc, _ := e.registry.Get(id); !desc.Local {
				return id, true
			}
		}
	}
	if def, ok := e.registry.DefaultCloud(); ok {
		return def.ID, true
	}
	return "", false
}

// fallbackFor returns the next backend in the category's priority order after
// primary, or the default cloud backend when the list is exhausted.
func (e *Engine) fallbackFor(category, primary string) (string, bool) {
	list := e.categoryPriority[category]
	seen := false
	for _, id := range list {
		if id == primary {
			seen = true
			continue
		}
		if seen && e.registry.Has(id) {
			return id, true
		}
	}
	if def, ok := e.registry.DefaultCloud(); ok && def.ID != primary {
		return def.ID, true
	}
	if local, ok := e.registry.Local(); ok && local.ID != primary {
		return local.ID, true
	}
	return "", false
}

// estimate fills the latency and cost estimates from the registry descriptor
// and a token count of the full prompt.
func (e *Engine) estimate(d *Decision, query string, context []complexity.Turn) {
	desc, ok := e.registry.Get(d.BackendID)
	if !ok {
		return
	}
	texts := make([]string, 0, len(context)+1)
	for _, t := range context {
		texts = append(texts, t.Content)
	}
	texts = append(texts, query)
	promptTokens := EstimateTokens(texts...)

	d.EstimatedLatencyMs = desc.BaseLatencyMs
	d.EstimatedCost = EstimateCost(desc.CostPer1KTokens, promptTokens)
}

// applyBudgets downgrades the target when the estimate exceeds a declared
// budget. Cost overruns fall back to trying local first; latency overruns
// drop the hybrid double-hop in favor of a single delegate call.
func (e *Engine) applyBudgets(d *Decision, prefs Preferences) {
	if prefs.MaxCostPerQuery > 0 && d.EstimatedCost > prefs.MaxCostPerQuery {
		if local, ok := e.registry.Local(); ok && d.BackendID != local.ID {
			d.FallbackID = d.BackendID
			d.BackendID = local.ID
			d.Strategy = StrategyHybrid
			d.EstimatedCost = 0
			d.EstimatedLatencyMs = local.BaseLatencyMs
			d.Justification = "cost budget exceeded; trying local first"
		}
	}
	if prefs.MaxLatencyMs > 0 && d.Strategy == StrategyHybrid {
		if desc, ok := e.registry.Get(d.BackendID); ok && desc.BaseLatencyMs > prefs.MaxLatencyMs {
			d.Strategy = StrategyDelegate
			if d.FallbackID != "" {
				d.BackendID = d.FallbackID
				d.FallbackID = ""
			}
		}
	}
}

// confidence grows with distance from the nearest strategy cut point.
func (e *Engine) confidence(scalar, localT, cloudT float64) float64 {
	distLocal := scalar - localT
	if distLocal < 0 {
		distLocal = -distLocal
	}
	distCloud := scalar - cloudT
	if distCloud < 0 {
		distCloud = -distCloud
	}
	dist := distLocal
	if distCloud < dist {
		dist = distCloud
	}
	conf := 0.6 + dist
	if conf > 0.99 {
		conf = 0.99
	}
	return conf
}

func (e *Engine) justify(d *Decision, score complexity.Score, localT, cloudT float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "complexity %.2f against thresholds [%.2f, %.2f] selects %s", score.Scalar, localT, cloudT, d.Strategy)
	if d.Category != CategoryGeneral {
		fmt.Fprintf(&b, "; %s query prefers %s", d.Category, d.BackendID)
	}
	if d.FallbackID != "" {
		fmt.Fprintf(&b, "; fallback %s", d.FallbackID)
	}
	return b.String()
}

// record appends the decision to the audit sink. Failures never propagate.
func (e *Engine) record(query string, d *Decision) {
	e.mu.Lock()
	e.decisions++
	if d.Forced {
		e.forced++
	}
	e.mu.Unlock()

	log.WithFields(log.Fields{
		"request_id": d.RequestID,
		"strategy":   d.Strategy,
		"backend":    d.BackendID,
	}).Debugf("decision: %s", d.Justification)

	if e.sink == nil {
		return
	}
	e.sink.Write(audit.Record{
		Timestamp:   d.Timestamp,
		RequestID:   d.RequestID,
		QueryDigest: audit.Digest(query),
		Strategy:    string(d.Strategy),
		Backend:     d.BackendID,
		Fallback:    d.FallbackID,
		Confidence:  d.Confidence,
		Forced:      d.Forced,
		Details: map[string]interface{}{
			"category":             d.Category,
			"estimated_cost":       d.EstimatedCost,
			"estimated_latency_ms": d.EstimatedLatencyMs,
			"steering_rule":        d.SteeringRule,
		},
	})
}

// GetMetrics returns decision counters.
func (e *Engine) GetMetrics() map[string]interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return map[string]interface{}{
		"total_decisions": e.decisions,
		"forced_local":    e.forced,
	}
}
