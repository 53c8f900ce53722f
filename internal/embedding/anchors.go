// Copyright 2026 The Converse Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package embedding

import (
	"fmt"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
)

// anchor pairs a reference query with a known complexity score. The matcher
// reads an unseen query's complexity from its nearest anchors.
type anchor struct {
	text   string
	score  float64
	vector []float32
}

// defaultAnchors spans the complexity range from trivial lookups to
// multi-constraint design work.
var defaultAnchors = []struct {
	Text  string
	Score float64
}{
	{"what is the capital of france", 0.05},
	{"what time is it in tokyo", 0.05},
	{"define the word ephemeral", 0.10},
	{"translate hello to spanish", 0.10},
	{"list three uses for a paperclip", 0.20},
	{"summarize this paragraph in one sentence", 0.30},
	{"explain how a hash table works", 0.45},
	{"write a function to reverse a linked list", 0.50},
	{"compare rest and grpc for internal services", 0.60},
	{"explain the tradeoffs between optimistic and pessimistic locking", 0.70},
	{"design a rate limiter that survives process restarts", 0.80},
	{"prove that this scheduling algorithm is starvation free", 0.90},
	{"design a multi-region storage system with causal consistency and analyze its failure modes", 0.95},
}

// matchNeighbors is how many nearest anchors contribute to the score.
const matchNeighbors = 3

// AnchorMatcher refines complexity estimates by semantic similarity to a set
// of scored anchor queries. It satisfies the estimator's semantic matcher
// hook and degrades to disabled when the embedding engine is unavailable.
type AnchorMatcher struct {
	engine  *Engine
	anchors []anchor

	mu    sync.RWMutex
	ready bool
}

// NewAnchorMatcher builds a matcher over the default anchor set. Initialize
// must be called before matching.
func NewAnchorMatcher(engine *Engine) *AnchorMatcher {
	return &AnchorMatcher{engine: engine}
}

// Initialize embeds the anchor set. Safe to call when the engine failed to
// load; the matcher just stays disabled.
func (m *AnchorMatcher) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.engine == nil || !m.engine.IsEnabled() {
		log.Debug("Anchor matcher disabled: embedding engine unavailable")
		return nil
	}

	anchors := make([]anchor, 0, len(defaultAnchors))
	for _, a := range defaultAnchors {
		vec, err := m.engine.Embed(a.Text)
		if err != nil {
			return fmt.Errorf("failed to embed anchor %q: %w", a.Text, err)
		}
		anchors = append(anchors, anchor{text: a.Text, score: a.Score, vector: vec})
	}

	m.anchors = anchors
	m.ready = true
	log.Infof("Anchor matcher initialized with %d anchors", len(anchors))
	return nil
}

// IsEnabled reports whether the matcher can serve queries.
func (m *AnchorMatcher) IsEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ready
}

// MatchComplexity returns a similarity-weighted complexity score from the
// query's nearest anchors.
func (m *AnchorMatcher) MatchComplexity(query string) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.ready {
		return 0, fmt.Errorf("anchor matcher not initialized")
	}

	vec, err := m.engine.Embed(query)
	if err != nil {
		return 0, fmt.Errorf("failed to embed query: %w", err)
	}

	type scored struct {
		sim   float64
		score float64
	}
	neighbors := make([]scored, 0, len(m.anchors))
	for _, a := range m.anchors {
		sim := CosineSimilarity(vec, a.vector)
		if sim > 0 {
			neighbors = append(neighbors, scored{sim: sim, score: a.score})
		}
	}
	if len(neighbors) == 0 {
		return 0, fmt.Errorf("no anchor within similarity range")
	}

	sort.Slice(neighbors, func(i, j int) bool {
		return neighbors[i].sim > neighbors[j].sim
	})
	if len(neighbors) > matchNeighbors {
		neighbors = neighbors[:matchNeighbors]
	}

	var weighted, totalWeight float64
	for _, n := range neighbors {
		weighted += n.sim * n.score
		totalWeight += n.sim
	}
	return weighted / totalWeight, nil
}
