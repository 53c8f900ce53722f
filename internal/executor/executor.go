// Copyright 2026 The Converse Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package executor drives backend streams, watches output quality in flight,
// and splices in the fallback backend mid-stream when the primary degrades.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/traylinx/converse/internal/backend"
	"github.com/traylinx/converse/internal/decision"
)

// ErrRequestAborted is returned when the caller cancels mid-stream. It is
// distinct from backend failure: the partial output remains valid.
var ErrRequestAborted = errors.New("request aborted by caller")

// SwitchPoint records a mid-stream backend switch for audit.
type SwitchPoint struct {
	Timestamp    time.Time `json:"timestamp"`
	ChunkIndex   int       `json:"chunk_index"`
	Reason       string    `json:"reason"`
	QualityScore float64   `json:"quality_score"`
	FromBackend  string    `json:"from_backend"`
	ToBackend    string    `json:"to_backend"`
}

// Result is the outcome of one streaming execution.
type Result struct {
	RequestID    string        `json:"request_id"`
	BackendID    string        `json:"backend_id"`
	Content      string        `json:"content"`
	Chunks       int           `json:"chunks"`
	SwitchPoints []SwitchPoint `json:"switch_points,omitempty"`
	Degraded     bool          `json:"degraded,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// transitionMarker is emitted to the caller when the stream moves to another
// backend. It is part of the visible output, not metadata.
const transitionMarker = "\n\n--- switching to a stronger model ---\n\n"

// degradedNotice is emitted when a switch was warranted but the fallback was
// unreachable.
const degradedNotice = "\n\n--- continuing with best-effort output ---\n\n"

const continueInstruction = "Continue the answer above from where it stops. Improve on it where it is repetitive, uncertain, or incoherent. Do not restart from the beginning."

// StreamingExecutor runs decisions against backend streams. Checks run
// cooperatively on the chunk-delivery path; there is no separate monitor
// goroutine.
type StreamingExecutor struct {
	registry *backend.Registry
	cfg      MonitorConfig

	mu       sync.Mutex
	runs     int64
	switches int64
	aborts   int64
}

// NewStreamingExecutor constructs an executor over the backend registry.
func NewStreamingExecutor(registry *backend.Registry, cfg MonitorConfig) *StreamingExecutor {
	if cfg.MinChunks <= 0 {
		cfg = DefaultMonitorConfig()
	}
	return &StreamingExecutor{registry: registry, cfg: cfg}
}

// Run streams the decision's backend, forwarding every chunk to onChunk as it
// arrives. ctx is the abort signal and is honored at chunk granularity. On
// abort the partial result is returned alongside ErrRequestAborted.
func (e *StreamingExecutor) Run(ctx context.Context, req backend.Request, d *decision.Decision, onChunk func(backend.StreamChunk)) (*Result, error) {
	e.mu.Lock()
	e.runs++
	e.mu.Unlock()

	start := time.Now()
	if onChunk == nil {
		onChunk = func(backend.StreamChunk) {}
	}

	currentID := d.BackendID
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch, err := e.openStream(streamCtx, req, currentID)
	if err != nil {
		// Primary refused outright; the precomputed fallback takes over
		// before any output was produced, so no switch marker is owed.
		if d.FallbackID == "" {
			return nil, err
		}
		log.WithFields(log.Fields{
			"request_id": d.RequestID,
			"backend":    currentID,
			"fallback":   d.FallbackID,
		}).Warnf("primary backend failed to start: %v", err)
		currentID = d.FallbackID
		ch, err = e.openStream(streamCtx, req, currentID)
		if err != nil {
			return nil, fmt.Errorf("fallback backend failed: %w", err)
		}
	}

	monitor := newStreamMonitor(e.cfg)
	result := &Result{RequestID: d.RequestID, BackendID: currentID}
	var delivered []byte
	switched := false

	emit := func(chunk backend.StreamChunk) {
		onChunk(chunk)
		delivered = append(delivered, chunk.Content()...)
	}

	for {
		select {
		case <-ctx.Done():
			e.mu.Lock()
			e.aborts++
			e.mu.Unlock()
			result.Content = string(delivered)
			result.Duration = time.Since(start)
			return result, ErrRequestAborted

		case chunk, ok := <-ch:
			if !ok {
				result.Content = string(delivered)
				result.Duration = time.Since(start)
				return result, nil
			}

			if chunk.Err != nil {
				next, swErr := e.trySwitch(ctx, req, d, monitor, result, emit, switched, "backend stream error", 0)
				if swErr != nil {
					if len(delivered) == 0 {
						return nil, chunk.Err
					}
					emit(noticeChunk(chunk.ID, degradedNotice))
					result.Degraded = true
					result.Content = string(delivered)
					result.Duration = time.Since(start)
					return result, nil
				}
				cancel()
				ch = next
				switched = true
				currentID = result.BackendID
				continue
			}

			emit(chunk)
			monitor.observe(chunk.Content())
			result.Chunks++

			if chunk.Done() {
				result.Content = string(delivered)
				result.Duration = time.Since(start)
				return result, nil
			}

			if switched || d.FallbackID == "" || !monitor.due() {
				continue
			}
			if v := monitor.check(); !v.ok {
				next, swErr := e.trySwitch(ctx, req, d, monitor, result, emit, switched, v.reason, v.score)
				if swErr != nil {
					// The fallback is unreachable. The partial output
					// already delivered must stay intact, so keep
					// draining the original stream after a notice.
					emit(noticeChunk(chunk.ID, degradedNotice))
					result.Degraded = true
					switched = true
					continue
				}
				cancel()
				ch = next
				switched = true
				currentID = result.BackendID
			}
		}
	}
}

// openStream resolves the adapter and model for a backend and starts its
// chunk stream.
func (e *StreamingExecutor) openStream(ctx context.Context, req backend.Request, backendID string) (<-chan backend.StreamChunk, error) {
	adapter, err := e.registry.Adapter(backendID)
	if err != nil {
		return nil, err
	}
	if desc, ok := e.registry.Get(backendID); ok {
		req.Model = desc.Model
		req.Messages = fitContext(req.Messages, desc.MaxContextTokens)
		if desc.NoStreaming {
			req.Stream = false
			return simulatedStream(ctx, adapter, req)
		}
	}
	req.Stream = true
	return adapter.QueryStream(ctx, req)
}

// fitContext drops the oldest turns until the prompt fits the backend's
// context window, keeping the final message intact. A quarter of the window
// is reserved for the response.
func fitContext(messages []backend.Message, window int) []backend.Message {
	if window <= 0 || len(messages) <= 1 {
		return messages
	}
	budget := window - window/4
	for len(messages) > 1 {
		texts := make([]string, len(messages))
		for i, m := range messages {
			texts[i] = m.Content
		}
		if decision.EstimateTokens(texts...) <= budget {
			break
		}
		messages = messages[1:]
	}
	return messages
}

// simulatedStream runs a blocking query and replays it as a one-chunk stream
// for backends without streaming support.
func simulatedStream(ctx context.Context, adapter backend.Adapter, req backend.Request) (<-chan backend.StreamChunk, error) {
	resp, err := adapter.Query(ctx, req)
	if err != nil {
		return nil, err
	}
	ch := make(chan backend.StreamChunk, 1)
	stop := "stop"
	ch <- backend.StreamChunk{
		ID:      resp.ID,
		Model:   resp.Model,
		Choices: []backend.StreamChoice{{Delta: backend.Delta{Content: resp.FirstText()}, FinishReason: &stop}},
	}
	close(ch)
	return ch, nil
}

// trySwitch emits the transition marker, builds the continuation request with
// the partial output as assistant context, and opens the fallback stream. On
// failure nothing visible has changed except the marker; the caller decides
// how to degrade.
func (e *StreamingExecutor) trySwitch(ctx context.Context, req backend.Request, d *decision.Decision, monitor *streamMonitor, result *Result, emit func(backend.StreamChunk), alreadySwitched bool, reason string, score float64) (<-chan backend.StreamChunk, error) {
	if alreadySwitched || d.FallbackID == "" {
		return nil, fmt.Errorf("no switch target available")
	}

	partial := monitor.accumulated()
	cont := backend.Request{
		Messages:    append(append([]backend.Message{}, req.Messages...), backend.Message{Role: backend.RoleAssistant, Content: partial}, backend.Message{Role: backend.RoleUser, Content: continueInstruction}),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	ch, err := e.openStream(ctx, cont, d.FallbackID)
	if err != nil {
		log.WithFields(log.Fields{
			"request_id": d.RequestID,
			"fallback":   d.FallbackID,
		}).Warnf("mid-stream switch failed: %v", err)
		return nil, err
	}

	emit(noticeChunk(d.RequestID, transitionMarker))

	sp := SwitchPoint{
		Timestamp:    time.Now(),
		ChunkIndex:   result.Chunks,
		Reason:       reason,
		QualityScore: score,
		FromBackend:  result.BackendID,
		ToBackend:    d.FallbackID,
	}
	result.SwitchPoints = append(result.SwitchPoints, sp)
	result.BackendID = d.FallbackID

	e.mu.Lock()
	e.switches++
	e.mu.Unlock()

	log.WithFields(log.Fields{
		"request_id": d.RequestID,
		"from":       sp.FromBackend,
		"to":         sp.ToBackend,
		"chunk":      sp.ChunkIndex,
	}).Infof("mid-stream switch: %s", reason)

	return ch, nil
}

// noticeChunk wraps a system-authored marker as a stream chunk.
func noticeChunk(id, text string) backend.StreamChunk {
	return backend.StreamChunk{
		ID:      id,
		Choices: []backend.StreamChoice{{Delta: backend.Delta{Content: text}}},
	}
}

// GetMetrics returns execution counters.
func (e *StreamingExecutor) GetMetrics() map[string]interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return map[string]interface{}{
		"total_runs":          e.runs,
		"mid_stream_switches": e.switches,
		"aborted_requests":    e.aborts,
	}
}
