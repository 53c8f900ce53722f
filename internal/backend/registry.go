// Copyright 2026 The Converse Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package backend

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Descriptor is the externally configured, read-only description of one
// execution target. The orchestration core reads this registry and never
// mutates it.
type Descriptor struct {
	// ID uniquely identifies the backend (e.g. "local", "cloud-coder").
	ID string `json:"id"`
	// Provider names the adapter implementation ("ollama", "openai-compat").
	Provider string `json:"provider"`
	// Model is the model identifier passed to the adapter.
	Model string `json:"model"`
	// Local marks the on-device backend. Exactly one backend should be local.
	Local bool `json:"local"`
	// BaseLatencyMs is the expected time-to-first-token in milliseconds.
	BaseLatencyMs int64 `json:"base_latency_ms"`
	// CostPer1KTokens is the monetary cost per 1000 tokens. Zero for local.
	CostPer1KTokens float64 `json:"cost_per_1k_tokens"`
	// NoStreaming marks providers that cannot stream; their responses are
	// replayed to the caller as a single chunk.
	NoStreaming bool `json:"no_streaming,omitempty"`
	// MaxContextTokens is the backend's context window.
	MaxContextTokens int `json:"max_context_tokens"`
}

// Registry holds the fixed set of configured backends and their adapters.
// It is immutable after construction apart from adapter registration at wiring
// time, so reads need no locking on the hot path.
type Registry struct {
	mu       sync.RWMutex
	byID     map[string]Descriptor
	adapters map[string]Adapter
	order    []string
}

// NewRegistry builds a registry from configured descriptors. Descriptors with
// missing latency or context metadata get pattern-inferred defaults.
func NewRegistry(descriptors []Descriptor) *Registry {
	r := &Registry{
		byID:     make(map[string]Descriptor, len(descriptors)),
		adapters: make(map[string]Adapter),
	}
	for _, d := range descriptors {
		if d.BaseLatencyMs == 0 {
			d.BaseLatencyMs = inferLatencyMs(d.Model, d.Local)
		}
		if d.MaxContextTokens == 0 {
			d.MaxContextTokens = inferContextWindow(d.Model)
		}
		r.byID[d.ID] = d
		r.order = append(r.order, d.ID)
	}
	sort.Strings(r.order)
	return r
}

// RegisterAdapter binds an adapter to a backend ID. Called once at wiring time.
func (r *Registry) RegisterAdapter(backendID string, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[backendID] = adapter
	log.Debugf("registered adapter %s for backend %s", adapter.Identifier(), backendID)
}

// Get returns the descriptor for a backend ID.
func (r *Registry) Get(id string) (Descriptor, bool) {
	d, ok := r.byID[id]
	return d, ok
}

// Adapter returns the adapter bound to a backend ID.
func (r *Registry) Adapter(id string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[id]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for backend %q", id)
	}
	return a, nil
}

// Local returns the on-device backend descriptor.
func (r *Registry) Local() (Descriptor, bool) {
	for _, id := range r.order {
		if d := r.byID[id]; d.Local {
			return d, true
		}
	}
	return Descriptor{}, false
}

// DefaultCloud returns the cheapest configured non-local backend, used as the
// conservative fallback target.
func (r *Registry) DefaultCloud() (Descriptor, bool) {
	var best Descriptor
	found := false
	for _, id := range r.order {
		d := r.byID[id]
		if d.Local {
			continue
		}
		if !found || d.CostPer1KTokens < best.CostPer1KTokens {
			best = d
			found = true
		}
	}
	return best, found
}

// IDs returns the configured backend identifiers in stable order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Has reports whether a backend ID is configured.
func (r *Registry) Has(id string) bool {
	_, ok := r.byID[id]
	return ok
}

// inferLatencyMs estimates time-to-first-token from model name patterns when
// the configuration omits it.
func inferLatencyMs(model string, local bool) int64 {
	name := strings.ToLower(model)
	for _, p := range []string{"mini", "fast", "turbo", "flash", "haiku", "0.5b", "1b", "3b"} {
		if strings.Contains(name, p) {
			if local {
				return 150
			}
			return 400
		}
	}
	for _, p := range []string{"reasoner", "o1", "o3", "thinking", "opus", "70b", "405b"} {
		if strings.Contains(name, p) {
			return 3000
		}
	}
	if local {
		return 300
	}
	return 900
}

// inferContextWindow estimates the context window from model name patterns.
func inferContextWindow(model string) int {
	name := strings.ToLower(model)
	switch {
	case strings.Contains(name, "128k"):
		return 128000
	case strings.Contains(name, "200k"):
		return 200000
	case strings.Contains(name, "gemini"):
		return 128000
	case strings.Contains(name, "-mini"), strings.Contains(name, "-haiku"):
		return 8000
	case strings.Contains(name, "gpt-4"), strings.Contains(name, "claude"):
		return 128000
	}
	return 32000
}
