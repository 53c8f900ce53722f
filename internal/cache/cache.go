// Copyright 2026 The Converse Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package cache provides approximate-match memoization of backend responses
// keyed by normalized query text. Lookup tries an exact hash first, then a
// same-backend similarity scan. Eviction is FIFO by insertion age, a known
// simplification; TTL invalidation is exact.
package cache

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Entry is one cached response. Mutable only via hit-counter increment and
// deletion.
type Entry struct {
	Hash       string    `json:"hash"`
	Backend    string    `json:"backend"`
	Query      string    `json:"query"`
	Normalized string    `json:"normalized"`
	Response   string    `json:"response"`
	CreatedAt  time.Time `json:"created_at"`
	Hits       int64     `json:"hits"`
}

func (e *Entry) expired(ttl time.Duration, now time.Time) bool {
	return now.Sub(e.CreatedAt) > ttl
}

// Config holds cache tuning parameters.
type Config struct {
	// SimilarityThreshold is the minimum normalized edit-distance similarity
	// for an approximate hit.
	SimilarityThreshold float64 `yaml:"similarity-threshold" json:"similarity_threshold"`
	// TTL invalidates entries by age even when they match.
	TTL time.Duration `yaml:"ttl" json:"ttl"`
	// MaxEntries caps the cache; the single oldest entry is evicted before
	// each insert past the cap.
	MaxEntries int `yaml:"max-entries" json:"max_entries"`
	// SweepInterval is how often expired entries are purged.
	SweepInterval time.Duration `yaml:"sweep-interval" json:"sweep_interval"`
}

// Metrics tracks cache performance statistics.
type Metrics struct {
	Hits        int64 `json:"hits"`
	ApproxHits  int64 `json:"approx_hits"`
	Misses      int64 `json:"misses"`
	Evictions   int64 `json:"evictions"`
	Expirations int64 `json:"expirations"`
	Size        int   `json:"size"`
}

// ResponseCache is the shared mutable state between concurrent queries; all
// access goes through one store-level lock, which is sufficient at the
// expected contention.
type ResponseCache struct {
	mu      sync.Mutex
	cfg     Config
	entries map[string]*Entry // key: backend + "\x00" + hash
	fifo    []*Entry          // insertion order, oldest first
	store   *Store            // optional durable mirror
	metrics Metrics
	stop    chan struct{}
}

// New creates a response cache. store may be nil for memory-only operation.
func New(cfg Config, store *Store) *ResponseCache {
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = 0.85
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 7 * 24 * time.Hour
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1000
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Hour
	}

	c := &ResponseCache{
		cfg:     cfg,
		entries: make(map[string]*Entry),
		store:   store,
		stop:    make(chan struct{}),
	}

	if store != nil {
		loaded, err := store.LoadAll()
		if err != nil {
			log.Warnf("cache: failed to load persisted entries, continuing memory-only: %v", err)
		} else {
			for _, e := range loaded {
				entry := e
				c.entries[key(entry.Backend, entry.Hash)] = &entry
				c.fifo = append(c.fifo, &entry)
			}
			log.Infof("cache: loaded %d persisted entries", len(loaded))
		}
	}

	return c
}

func key(backend, hash string) string { return backend + "\x00" + hash }

// Get looks up a cached response for a query scoped to one backend. An exact
// hash match wins; otherwise the highest same-backend similarity at or above
// the threshold. Expired entries never hit. Hits increment the entry counter.
func (c *ResponseCache) Get(query, backend string) (string, bool) {
	normalized := Normalize(query)
	hash := HashKey(normalized)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key(backend, hash)]; ok {
		if e.expired(c.cfg.TTL, now) {
			c.removeLocked(e)
			c.metrics.Expirations++
		} else {
			c.hitLocked(e)
			c.metrics.Hits++
			return e.Response, true
		}
	}

	var best *Entry
	var bestSim float64
	for _, e := range c.entries {
		if e.Backend != backend {
			continue
		}
		sim := Similarity(normalized, e.Normalized)
		if sim >= c.cfg.SimilarityThreshold && sim > bestSim {
			best = e
			bestSim = sim
		}
	}

	if best != nil {
		if best.expired(c.cfg.TTL, now) {
			c.removeLocked(best)
			c.metrics.Expirations++
		} else {
			c.hitLocked(best)
			c.metrics.ApproxHits++
			return best.Response, true
		}
	}

	c.metrics.Misses++
	return "", false
}

// GetAny looks up a cached response for a query across all backends. Used
// before a routing decision exists, when any prior answer is acceptable.
// The highest similarity at or above the threshold wins.
func (c *ResponseCache) GetAny(query string) (string, bool) {
	normalized := Normalize(query)
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	var best *Entry
	var bestSim float64
	for _, e := range c.entries {
		sim := Similarity(normalized, e.Normalized)
		if sim >= c.cfg.SimilarityThreshold && sim > bestSim {
			best = e
			bestSim = sim
		}
	}

	if best != nil {
		if best.expired(c.cfg.TTL, now) {
			c.removeLocked(best)
			c.metrics.Expirations++
		} else {
			c.hitLocked(best)
			if bestSim >= 1.0 {
				c.metrics.Hits++
			} else {
				c.metrics.ApproxHits++
			}
			return best.Response, true
		}
	}

	c.metrics.Misses++
	return "", false
}

// Set stores a response. When the cache is at capacity the single oldest
// entry is evicted first.
func (c *ResponseCache) Set(query, response, backend string) {
	normalized := Normalize(query)
	hash := HashKey(normalized)

	c.mu.Lock()
	defer c.mu.Unlock()

	k := key(backend, hash)
	if existing, ok := c.entries[k]; ok {
		c.removeLocked(existing)
	}

	for len(c.entries) >= c.cfg.MaxEntries {
		c.evictOldestLocked()
	}

	e := &Entry{
		Hash:       hash,
		Backend:    backend,
		Query:      query,
		Normalized: normalized,
		Response:   response,
		CreatedAt:  time.Now(),
	}
	c.entries[k] = e
	c.fifo = append(c.fifo, e)

	if c.store != nil {
		if err := c.store.Upsert(e); err != nil {
			log.Warnf("cache: failed to persist entry: %v", err)
		}
	}
}

// hitLocked increments the hit counter under the store lock and mirrors it
// best-effort.
func (c *ResponseCache) hitLocked(e *Entry) {
	e.Hits++
	if c.store != nil {
		if err := c.store.IncrementHits(e.Hash, e.Backend); err != nil {
			log.Debugf("cache: failed to persist hit counter: %v", err)
		}
	}
}

func (c *ResponseCache) evictOldestLocked() {
	if len(c.fifo) == 0 {
		return
	}
	oldest := c.fifo[0]
	c.removeLocked(oldest)
	c.metrics.Evictions++
}

func (c *ResponseCache) removeLocked(e *Entry) {
	delete(c.entries, key(e.Backend, e.Hash))
	for i, cur := range c.fifo {
		if cur == e {
			c.fifo = append(c.fifo[:i], c.fifo[i+1:]...)
			break
		}
	}
	if c.store != nil {
		if err := c.store.Delete(e.Hash, e.Backend); err != nil {
			log.Debugf("cache: failed to delete persisted entry: %v", err)
		}
	}
}

// StartSweeper launches the periodic purge of expired entries.
func (c *ResponseCache) StartSweeper() {
	go func() {
		ticker := time.NewTicker(c.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Sweep()
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop terminates the sweeper goroutine.
func (c *ResponseCache) Stop() {
	close(c.stop)
}

// Sweep purges all expired entries and returns how many were removed.
func (c *ResponseCache) Sweep() int {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []*Entry
	for _, e := range c.entries {
		if e.expired(c.cfg.TTL, now) {
			expired = append(expired, e)
		}
	}
	for _, e := range expired {
		c.removeLocked(e)
		c.metrics.Expirations++
	}
	if len(expired) > 0 {
		log.Debugf("cache: swept %d expired entries", len(expired))
	}
	return len(expired)
}

// Len returns the current entry count.
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// GetMetrics returns a snapshot of cache statistics.
func (c *ResponseCache) GetMetrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.metrics
	m.Size = len(c.entries)
	return m
}

// GetMetricsAsMap returns cache statistics as a generic map.
func (c *ResponseCache) GetMetricsAsMap() map[string]interface{} {
	m := c.GetMetrics()
	total := m.Hits + m.ApproxHits + m.Misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(m.Hits+m.ApproxHits) / float64(total)
	}
	return map[string]interface{}{
		"hits":        m.Hits,
		"approx_hits": m.ApproxHits,
		"misses":      m.Misses,
		"evictions":   m.Evictions,
		"expirations": m.Expirations,
		"size":        m.Size,
		"hit_rate":    hitRate,
	}
}
