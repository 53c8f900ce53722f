// Copyright 2026 The Converse Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package orchestrator wires the pipeline: cache lookup, complexity
// estimation, routing decision, streaming execution, quality gate, and
// escalation. Each query is one independent, cancellable operation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/traylinx/converse/internal/audit"
	"github.com/traylinx/converse/internal/backend"
	"github.com/traylinx/converse/internal/cache"
	"github.com/traylinx/converse/internal/complexity"
	"github.com/traylinx/converse/internal/decision"
	"github.com/traylinx/converse/internal/executor"
	"github.com/traylinx/converse/internal/quality"
)

const improveInstruction = "The draft answer above did not meet quality requirements (%s). Provide a complete, accurate, and coherent answer to the original question. Do not mention the draft."

const escalationMarker = "\n\n--- escalating for a better answer ---\n\n"

// Request is one user query with its conversation context and preferences.
type Request struct {
	Query       string               `json:"query"`
	Context     []complexity.Turn    `json:"context,omitempty"`
	Preferences decision.Preferences `json:"preferences"`
	Temperature float64              `json:"temperature,omitempty"`
	MaxTokens   int                  `json:"max_tokens,omitempty"`
}

// Answer is the final outcome of one orchestrated query.
type Answer struct {
	RequestID    string                 `json:"request_id"`
	Content      string                 `json:"content"`
	BackendID    string                 `json:"backend_id"`
	Strategy     decision.Strategy      `json:"strategy"`
	Decision     *decision.Decision     `json:"decision,omitempty"`
	Quality      *quality.Result        `json:"quality,omitempty"`
	Cached       bool                   `json:"cached,omitempty"`
	Escalated    bool                   `json:"escalated,omitempty"`
	Degraded     bool                   `json:"degraded,omitempty"`
	SwitchPoints []executor.SwitchPoint `json:"switch_points,omitempty"`
	Duration     time.Duration          `json:"duration"`
}

// Service runs queries through the orchestration pipeline. The local backend
// accepts one generation at a time, so local runs serialize through a
// single-slot semaphore; cloud runs proceed in parallel.
type Service struct {
	registry  *backend.Registry
	estimator *complexity.Estimator
	engine    *decision.Engine
	advisor   *decision.MetaPromptAdvisor // optional
	executor  *executor.StreamingExecutor
	validator *quality.Validator
	cache     *cache.ResponseCache // optional
	sink      *audit.Sink          // optional

	localSlot chan struct{}

	mu         sync.Mutex
	handled    int64
	cacheHits  int64
	escalated  int64
	aborted    int64
}

// Options collects the service's collaborators. Cache, advisor, and sink may
// be nil.
type Options struct {
	Registry  *backend.Registry
	Estimator *complexity.Estimator
	Engine    *decision.Engine
	Advisor   *decision.MetaPromptAdvisor
	Executor  *executor.StreamingExecutor
	Validator *quality.Validator
	Cache     *cache.ResponseCache
	Sink      *audit.Sink
}

// NewService constructs the orchestrator.
func NewService(opts Options) *Service {
	return &Service{
		registry:  opts.Registry,
		estimator: opts.Estimator,
		engine:    opts.Engine,
		advisor:   opts.Advisor,
		executor:  opts.Executor,
		validator: opts.Validator,
		cache:     opts.Cache,
		sink:      opts.Sink,
		localSlot: make(chan struct{}, 1),
	}
}

// Handle runs one query end to end, forwarding stream chunks to onChunk as
// they arrive. ctx is the abort signal; on abort the partial answer is
// returned with executor.ErrRequestAborted.
func (s *Service) Handle(ctx context.Context, req Request, onChunk func(backend.StreamChunk)) (*Answer, error) {
	start := time.Now()
	s.mu.Lock()
	s.handled++
	s.mu.Unlock()

	if onChunk == nil {
		onChunk = func(backend.StreamChunk) {}
	}

	if s.cache != nil {
		if resp, ok := s.cache.GetAny(req.Query); ok {
			s.mu.Lock()
			s.cacheHits++
			s.mu.Unlock()
			onChunk(textChunk(resp))
			return &Answer{
				Content:  resp,
				Cached:   true,
				Duration: time.Since(start),
			}, nil
		}
	}

	score := s.estimator.Score(req.Query, req.Context)
	d, err := s.decide(ctx, req, score)
	if err != nil {
		return nil, err
	}

	messages := buildMessages(req)
	execReq := backend.Request{
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	res, err := s.execute(ctx, execReq, d, onChunk)
	if errors.Is(err, executor.ErrRequestAborted) {
		s.mu.Lock()
		s.aborted++
		s.mu.Unlock()
		s.recordOutcome(req.Query, d, "aborted", false)
		return s.answerFrom(d, res, nil, false, start), err
	}
	if err != nil {
		s.recordOutcome(req.Query, d, "failed", false)
		return nil, err
	}

	qr := s.validator.Validate(res.Content, req.Query)
	escalatedRun := false

	if !qr.Passed && s.canEscalate(d) {
		if d.Strategy == decision.StrategyIterative && qr.Recommendation == quality.RecommendImprove {
			// One local retry before paying for the cloud.
			retry, retryErr := s.retryLocal(ctx, execReq, d, res.Content, qr, onChunk)
			if retryErr == nil {
				rq := s.validator.Validate(retry.Content, req.Query)
				if rq.Passed {
					res, qr = retry, rq
				}
			}
		}
		if !qr.Passed {
			esc, escErr := s.escalate(ctx, execReq, d, res.Content, qr, onChunk)
			if errors.Is(escErr, executor.ErrRequestAborted) {
				s.recordOutcome(req.Query, d, "aborted", true)
				return s.answerFrom(d, esc, qr, true, start), escErr
			}
			if escErr != nil {
				// The draft already reached the caller; a failed
				// escalation degrades rather than fails.
				log.WithField("request_id", d.RequestID).Warnf("escalation failed: %v", escErr)
			} else {
				res = esc
				qr = s.validator.Validate(res.Content, req.Query)
				escalatedRun = true
				s.mu.Lock()
				s.escalated++
				s.mu.Unlock()
			}
		}
	}

	if s.cache != nil && qr.Passed && !score.ContainsSensitiveData {
		s.cache.Set(req.Query, res.Content, res.BackendID)
	}

	outcome := "accepted"
	if !qr.Passed {
		outcome = "below-gate"
	}
	s.recordOutcome(req.Query, d, outcome, escalatedRun)

	answer := s.answerFrom(d, res, qr, escalatedRun, start)
	return answer, nil
}

// decide runs the decision engine, preferring the meta-prompt advisor when
// configured. A decision failure falls back to a conservative default rather
// than failing the user's request.
func (s *Service) decide(ctx context.Context, req Request, score complexity.Score) (*decision.Decision, error) {
	var d *decision.Decision
	var err error
	if s.advisor != nil {
		d, err = s.advisor.Decide(ctx, req.Query, score, req.Preferences, req.Context)
	} else {
		d, err = s.engine.Decide(req.Query, score, req.Preferences, req.Context)
	}
	if err == nil {
		return d, nil
	}

	log.Warnf("decision failed, using conservative default: %v", err)
	if score.ContainsSensitiveData {
		local, ok := s.registry.Local()
		if !ok {
			return nil, fmt.Errorf("no local backend for sensitive query: %w", err)
		}
		return &decision.Decision{
			Timestamp:     time.Now(),
			Strategy:      decision.StrategyLocalOnly,
			BackendID:     local.ID,
			Forced:        true,
			Justification: "conservative default after decision failure",
		}, nil
	}
	cloud, ok := s.registry.DefaultCloud()
	if !ok {
		return nil, err
	}
	return &decision.Decision{
		Timestamp:     time.Now(),
		Strategy:      decision.StrategyDelegate,
		BackendID:     cloud.ID,
		Justification: "conservative default after decision failure",
	}, nil
}

// execute runs the streaming executor, serializing local-backend runs.
func (s *Service) execute(ctx context.Context, req backend.Request, d *decision.Decision, onChunk func(backend.StreamChunk)) (*executor.Result, error) {
	if desc, ok := s.registry.Get(d.BackendID); ok && desc.Local {
		select {
		case s.localSlot <- struct{}{}:
			defer func() { <-s.localSlot }()
		case <-ctx.Done():
			return nil, executor.ErrRequestAborted
		}
	}
	return s.executor.Run(ctx, req, d, onChunk)
}

// canEscalate reports whether the gate may push this query to another
// backend. Only hybrid and iterative runs carry an escalation path:
// local-only answers return as-is and delegate runs are already on the
// strongest backend. Sensitive queries never escalate off-device.
func (s *Service) canEscalate(d *decision.Decision) bool {
	if d.Forced {
		return false
	}
	if d.Strategy != decision.StrategyHybrid && d.Strategy != decision.StrategyIterative {
		return false
	}
	return d.FallbackID != "" || s.hasOtherBackend(d.BackendID)
}

func (s *Service) hasOtherBackend(current string) bool {
	if def, ok := s.registry.DefaultCloud(); ok && def.ID != current {
		return true
	}
	return false
}

// retryLocal reruns the same backend once with the draft and an improvement
// instruction.
func (s *Service) retryLocal(ctx context.Context, req backend.Request, d *decision.Decision, draft string, qr *quality.Result, onChunk func(backend.StreamChunk)) (*executor.Result, error) {
	retryDecision := &decision.Decision{
		RequestID: d.RequestID,
		Strategy:  decision.StrategyLocalOnly,
		BackendID: d.BackendID,
	}
	onChunk(textChunk(escalationMarker))
	return s.execute(ctx, improvementRequest(req, draft, qr), retryDecision, onChunk)
}

// escalate reruns the query on the fallback backend with the rejected draft
// as context.
func (s *Service) escalate(ctx context.Context, req backend.Request, d *decision.Decision, draft string, qr *quality.Result, onChunk func(backend.StreamChunk)) (*executor.Result, error) {
	target := d.FallbackID
	if target == "" {
		def, ok := s.registry.DefaultCloud()
		if !ok {
			return nil, fmt.Errorf("no escalation target available")
		}
		target = def.ID
	}

	escDecision := &decision.Decision{
		RequestID: d.RequestID,
		Strategy:  decision.StrategyDelegate,
		BackendID: target,
	}

	log.WithFields(log.Fields{
		"request_id": d.RequestID,
		"from":       d.BackendID,
		"to":         target,
	}).Infof("escalating after quality gate (overall %.2f)", qr.Overall)

	onChunk(textChunk(escalationMarker))
	return s.execute(ctx, improvementRequest(req, draft, qr), escDecision, onChunk)
}

// improvementRequest appends the rejected draft and the improvement
// instruction to the original conversation.
func improvementRequest(req backend.Request, draft string, qr *quality.Result) backend.Request {
	reason := "low overall quality"
	switch {
	case qr.Safety < qr.Coherence && qr.Safety < qr.Relevance:
		reason = "safety concerns"
	case qr.Coherence < qr.Relevance:
		reason = "incoherent structure"
	case qr.Relevance < 0.5:
		reason = "did not address the question"
	}

	messages := append(append([]backend.Message{}, req.Messages...),
		backend.Message{Role: backend.RoleAssistant, Content: draft},
		backend.Message{Role: backend.RoleUser, Content: fmt.Sprintf(improveInstruction, reason)},
	)
	out := req
	out.Messages = messages
	return out
}

func (s *Service) answerFrom(d *decision.Decision, res *executor.Result, qr *quality.Result, escalated bool, start time.Time) *Answer {
	a := &Answer{
		RequestID: d.RequestID,
		Strategy:  d.Strategy,
		Decision:  d,
		Quality:   qr,
		Escalated: escalated,
		Duration:  time.Since(start),
	}
	if res != nil {
		a.Content = res.Content
		a.BackendID = res.BackendID
		a.SwitchPoints = res.SwitchPoints
		a.Degraded = res.Degraded
	}
	return a
}

func (s *Service) recordOutcome(query string, d *decision.Decision, outcome string, escalated bool) {
	if s.sink == nil {
		return
	}
	s.sink.Write(audit.Record{
		Timestamp:   time.Now(),
		RequestID:   d.RequestID,
		QueryDigest: audit.Digest(query),
		Strategy:    string(d.Strategy),
		Backend:     d.BackendID,
		Fallback:    d.FallbackID,
		Confidence:  d.Confidence,
		Forced:      d.Forced,
		Escalated:   escalated,
		Outcome:     outcome,
	})
}

// buildMessages flattens the conversation context and the current query into
// adapter messages.
func buildMessages(req Request) []backend.Message {
	messages := make([]backend.Message, 0, len(req.Context)+1)
	for _, t := range req.Context {
		messages = append(messages, backend.Message{Role: t.Role, Content: t.Content})
	}
	return append(messages, backend.Message{Role: backend.RoleUser, Content: req.Query})
}

func textChunk(text string) backend.StreamChunk {
	return backend.StreamChunk{
		Choices: []backend.StreamChoice{{Delta: backend.Delta{Content: text}}},
	}
}

// GetMetrics returns pipeline counters.
func (s *Service) GetMetrics() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]interface{}{
		"handled":     s.handled,
		"cache_hits":  s.cacheHits,
		"escalations": s.escalated,
		"aborted":     s.aborted,
	}
}
